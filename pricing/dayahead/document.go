// Package dayahead decodes day-ahead price publications (ENTSO-E-style
// Publication_MarketDocument XML) into pricing.Block slices.
package dayahead

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// document is the root element of the publication XML.
type document struct {
	XMLName      xml.Name     `xml:"Publication_MarketDocument"`
	MRID         string       `xml:"mRID"`
	CreatedAt    string       `xml:"createdDateTime"`
	PeriodWindow timeInterval `xml:"period.timeInterval"`
	Series       []timeSeries `xml:"TimeSeries"`
}

type timeInterval struct {
	Start time.Time
	End   time.Time
}

// UnmarshalXML tries a small fallback chain of timestamp layouts, since
// different day-ahead publishers are inconsistent about including seconds
// or a numeric offset.
func (ti *timeInterval) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}

	var err error
	if ti.Start, err = parseTimestamp(aux.Start); err != nil {
		return fmt.Errorf("dayahead: parsing interval start: %w", err)
	}
	if ti.End, err = parseTimestamp(aux.End); err != nil {
		return fmt.Errorf("dayahead: parsing interval end: %w", err)
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04Z",
		"2006-01-02T15:04Z07:00",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %s", s)
}

type timeSeries struct {
	MRID   string `xml:"mRID"`
	Period period `xml:"Period"`
}

type period struct {
	Window     timeInterval  `xml:"timeInterval"`
	Resolution time.Duration `xml:"resolution"`
	Points     []point       `xml:"Point"`
}

// UnmarshalXML converts the ISO8601 "resolution" duration (e.g. PT15M) into
// a time.Duration.
func (p *period) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		Window     timeInterval `xml:"timeInterval"`
		Resolution string       `xml:"resolution"`
		Points     []point      `xml:"Point"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}
	p.Window = aux.Window
	p.Points = aux.Points

	dur, err := parseISO8601Duration(aux.Resolution)
	if err != nil {
		return fmt.Errorf("dayahead: parsing resolution %q: %w", aux.Resolution, err)
	}
	p.Resolution = dur
	return nil
}

type point struct {
	Position    int     `xml:"position"`
	PriceAmount float64 `xml:"price.amount"`
}

// rangeForPosition returns the [start, end) interval a 1-based point
// position covers within the period.
func (p period) rangeForPosition(pos int) (start, end time.Time, ok bool) {
	if pos < 1 {
		return time.Time{}, time.Time{}, false
	}
	start = p.Window.Start.Add(time.Duration(pos-1) * p.Resolution)
	if !start.Before(p.Window.End) {
		return time.Time{}, time.Time{}, false
	}
	end = start.Add(p.Resolution)
	if end.After(p.Window.End) {
		end = p.Window.End
	}
	return start, end, true
}

// decode parses a publication document from r.
func decode(r io.Reader) (*document, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("dayahead: decoding publication document: %w", err)
	}
	return &doc, nil
}
