package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/srg/thermolink/internal/device"
	"github.com/srg/thermolink/internal/events"
	"github.com/srg/thermolink/internal/presence"
	"github.com/srg/thermolink/pkg/config"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// eventPrinter writes one line per link event.
type eventPrinter struct {
	out    io.Writer
	format string
	// progress, when set, is cleared before every line and follows the link phase.
	progress *ProgressPrinter
}

func newEventPrinter(out io.Writer, format string) *eventPrinter {
	return &eventPrinter{out: out, format: format}
}

func (p *eventPrinter) Print(ev events.Event) error {
	if p.progress != nil {
		p.progress.Track(ev)
	}
	var line string
	if p.format == config.OutputJSON {
		data, err := json.Marshal(eventRecord(ev))
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", ev.Kind(), err)
		}
		line = string(data)
	} else {
		line = eventText(ev)
	}
	_, err := fmt.Fprintln(p.out, line)
	return err
}

func eventText(ev events.Event) string {
	switch e := ev.(type) {
	case events.LinkConnected:
		if e.Name != "" {
			return fmt.Sprintf("Connected to %s (%s)", e.PeerID, e.Name)
		}
		return fmt.Sprintf("Connected to %s", e.PeerID)
	case events.ServicesReady:
		return "Services discovered"
	case events.StreamOnline:
		return "Temperature stream online"
	case events.ServiceUnsupported:
		return fmt.Sprintf("Service %s / characteristic %s not found on device",
			device.NormalizeUUID(e.ServiceUUID), device.NormalizeUUID(e.CharUUID))
	case events.Reading:
		return fmt.Sprintf("%s  %s", e.Timestamp.Format(time.RFC3339), presence.FormatTemperature(e.Value))
	case events.LinkDisconnected:
		return "Disconnected"
	}
	return ev.Kind()
}

// eventRecord keeps "event" as the first key so streams stay greppable.
func eventRecord(ev events.Event) *orderedmap.OrderedMap[string, any] {
	rec := orderedmap.New[string, any]()
	rec.Set("event", ev.Kind())

	switch e := ev.(type) {
	case events.LinkConnected:
		rec.Set("peer", e.PeerID)
		if e.Name != "" {
			rec.Set("name", e.Name)
		}
	case events.ServiceUnsupported:
		rec.Set("service", device.NormalizeUUID(e.ServiceUUID))
		rec.Set("characteristic", device.NormalizeUUID(e.CharUUID))
	case events.Reading:
		rec.Set("time", e.Timestamp.Format(time.RFC3339Nano))
		if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
			// JSON has no encoding for non-finite numbers
			rec.Set("value", nil)
		} else {
			rec.Set("value", e.Value)
		}
		rec.Set("unit", "celsius")
	}
	return rec
}
