// Command planctl is an interactive console for a running plannerd: it
// inspects the live schedule and status over the HTTP API and submits
// user-control overrides.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("PLANNERD_ADDR", "http://localhost:8080"), "plannerd base URL")
	flag.Parse()

	rl, err := readline.New("planctl> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer rl.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	fmt.Printf("connected to %s, type 'help' for commands\n", *addr)

	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			printHelp()
		case "quit", "exit":
			return
		case "status":
			get(client, *addr+"/api/status")
		case "schedule":
			get(client, *addr+"/api/schedule")
		case "history":
			get(client, *addr+"/api/schedule/history")
		case "health":
			get(client, *addr+"/health")
		case "config":
			get(client, *addr+"/api/config")
		case "control":
			get(client, *addr+"/api/usercontrol")
		case "disallow-charge", "allow-charge":
			flagValue := fields[0] == "disallow-charge"
			post(client, *addr+"/api/usercontrol", map[string]interface{}{"disallow_charge": flagValue})
		case "disallow-discharge", "allow-discharge":
			flagValue := fields[0] == "disallow-discharge"
			post(client, *addr+"/api/usercontrol", map[string]interface{}{"disallow_discharge": flagValue})
		case "slot":
			// slot <id> <start RFC3339> <end RFC3339> <mode> [note...]
			if len(fields) < 5 {
				fmt.Println("usage: slot <id> <start> <end> <mode> [note]")
				continue
			}
			post(client, *addr+"/api/usercontrol/slots", map[string]interface{}{
				"id":    fields[1],
				"start": fields[2],
				"end":   fields[3],
				"mode":  fields[4],
				"note":  strings.Join(fields[5:], " "),
			})
		case "unslot":
			if len(fields) != 2 {
				fmt.Println("usage: unslot <id>")
				continue
			}
			del(client, *addr+"/api/usercontrol/slots/"+fields[1])
		default:
			fmt.Printf("unknown command %q, type 'help'\n", fields[0])
		}
	}
}

func printHelp() {
	fmt.Print(`commands:
  status                      full planner snapshot
  schedule                    current operation schedule
  history                     recent schedule regenerations
  health                      source health
  config                      redacted configuration
  control                     user-control state
  disallow-charge / allow-charge
  disallow-discharge / allow-discharge
  slot <id> <start> <end> <mode> [note]   add/replace a fixed slot
  unslot <id>                 remove a fixed slot
  quit
`)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func get(client *http.Client, url string) {
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func post(client *http.Client, url string, body map[string]interface{}) {
	payload, _ := json.Marshal(body)
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func del(client *http.Client, url string) {
	req, _ := http.NewRequest(http.MethodDelete, url, nil)
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func printJSON(r io.Reader) {
	data, err := io.ReadAll(r)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(buf.String())
}
