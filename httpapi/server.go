// Package httpapi exposes the planner over HTTP: health and readiness,
// live status snapshots, schedule queries, configuration and user-control
// CRUD, a backtest endpoint and a websocket status stream. It is a pure
// producer on the planner's update channels and a consumer of its
// Snapshot; it never touches planner state directly.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/kestrelhome/battplan/backtest"
	"github.com/kestrelhome/battplan/config"
	"github.com/kestrelhome/battplan/planner"
	"github.com/kestrelhome/battplan/usercontrol"
)

// Server serves the web surface for one Planner.
type Server struct {
	Planner    *planner.Planner
	ConfigPath string
	Logger     *log.Logger

	startTime time.Time
	hub       *wsHub
	server    *http.Server
}

// New builds the server and its router. port <= 0 disables the surface;
// New then returns nil and every method on the nil receiver is a no-op.
func New(p *planner.Planner, configPath string, port int, logger *log.Logger) *Server {
	if port <= 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		Planner:    p,
		ConfigPath: configPath,
		Logger:     logger,
		startTime:  time.Now(),
		hub:        newWSHub(logger),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/schedule", s.handleSchedule)
		api.GET("/schedule/history", s.handleScheduleHistory)

		api.GET("/config", s.handleConfigGet)
		api.PUT("/config", s.handleConfigPut)
		api.POST("/config/reset/:section", s.handleConfigReset)

		api.GET("/usercontrol", s.handleUserControlGet)
		api.POST("/usercontrol", s.handleUserControlFlags)
		api.POST("/usercontrol/slots", s.handleSlotUpsert)
		api.DELETE("/usercontrol/slots/:id", s.handleSlotDelete)

		api.POST("/backtest", s.handleBacktest)
	}
	router.GET("/ws", s.handleWS)

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving and broadcasting until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	go s.hub.run(ctx)
	go s.broadcastLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.Logger.Printf("httpapi: listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.Planner.Snapshot()
	healthy := true
	for _, h := range snap.Health {
		if !h.Healthy {
			healthy = false
			break
		}
	}
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"sources":   snap.Health,
	})
}

func (s *Server) handleReady(c *gin.Context) {
	snap := s.Planner.Snapshot()
	if len(snap.Prices) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "reason": "no price data yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Planner.Snapshot())
}

func (s *Server) handleSchedule(c *gin.Context) {
	snap := s.Planner.Snapshot()
	c.JSON(http.StatusOK, snap.Schedule)
}

func (s *Server) handleScheduleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, s.Planner.History.All())
}

func (s *Server) handleConfigGet(c *gin.Context) {
	c.JSON(http.StatusOK, s.Planner.Config().Redacted())
}

// handleConfigPut deep-merges the request body over the current config,
// validates, persists atomically and emits an update event for the
// planner. Persistence failure keeps in-memory state untouched and is
// surfaced as a 500.
func (s *Server) handleConfigPut(c *gin.Context) {
	old := s.Planner.Config()

	// Deep-merge: decode the body over a copy of the current document so
	// absent fields keep their values.
	raw, err := json.Marshal(old)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	merged := &config.Config{}
	if err := json.Unmarshal(raw, merged); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := c.ShouldBindJSON(merged); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid config document: %v", err)})
		return
	}
	if err := merged.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := merged.SaveConfig(s.ConfigPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("persisting config: %v", err)})
		return
	}

	s.Planner.Channels.ConfigUpdates <- config.UpdateEvent{
		ChangedSections: config.ChangedSections(old, merged),
		Old:             old,
		New:             merged,
	}
	c.JSON(http.StatusOK, merged.Redacted())
}

func (s *Server) handleConfigReset(c *gin.Context) {
	section := c.Param("section")
	old := s.Planner.Config()

	raw, _ := json.Marshal(old)
	merged := &config.Config{}
	if err := json.Unmarshal(raw, merged); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := merged.ResetSection(section); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := merged.SaveConfig(s.ConfigPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("persisting config: %v", err)})
		return
	}

	s.Planner.Channels.ConfigUpdates <- config.UpdateEvent{
		ChangedSections: []string{section},
		Old:             old,
		New:             merged,
	}
	c.JSON(http.StatusOK, merged.Redacted())
}

func (s *Server) handleUserControlGet(c *gin.Context) {
	c.JSON(http.StatusOK, s.Planner.UserControl.Snapshot())
}

type userControlFlagsRequest struct {
	Enabled           *bool `json:"enabled,omitempty"`
	DisallowCharge    *bool `json:"disallow_charge,omitempty"`
	DisallowDischarge *bool `json:"disallow_discharge,omitempty"`
}

func (s *Server) handleUserControlFlags(c *gin.Context) {
	var req userControlFlagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.Planner.Channels.UserControlUpdates <- usercontrol.UpdateEvent{
		SetEnabled:           req.Enabled,
		SetDisallowCharge:    req.DisallowCharge,
		SetDisallowDischarge: req.DisallowDischarge,
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) handleSlotUpsert(c *gin.Context) {
	var slot usercontrol.FixedSlot
	if err := c.ShouldBindJSON(&slot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if slot.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slot id is required"})
		return
	}
	if !slot.End.After(slot.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slot end must be after start"})
		return
	}
	s.Planner.Channels.UserControlUpdates <- usercontrol.UpdateEvent{UpsertSlot: &slot}
	c.JSON(http.StatusAccepted, slot)
}

func (s *Server) handleSlotDelete(c *gin.Context) {
	id := c.Param("id")
	s.Planner.Channels.UserControlUpdates <- usercontrol.UpdateEvent{RemoveSlotID: id}
	c.JSON(http.StatusAccepted, gin.H{"removed": id})
}

func (s *Server) handleBacktest(c *gin.Context) {
	var scenario backtest.Scenario
	if err := c.ShouldBindJSON(&scenario); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := scenario.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := backtest.Run(&scenario, s.Planner.Registry, s.Logger)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
