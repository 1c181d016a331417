package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/thermolink/internal/events"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// Link setup phases shown by the monitor progress line.
const (
	phaseConnecting  = "Connecting"
	phaseDiscovering = "Discovering services"
	phaseSubscribing = "Subscribing"
	phaseStreaming   = "Streaming"
	phaseStopped     = "Stopped"
)

// ProgressPrinter displays progress messages with elapsed or remaining time.
//
// Usage:
//
//	p := NewProgressPrinter(...)
//	p.Start()
//	defer p.Stop()
//
// The caller must call Stop to release resources and terminate the internal
// goroutine; failing to do so will leak a goroutine.
//
// A ProgressPrinter is single-use. Start may be called at most once, and Stop
// should be called exactly once. After Stop, the instance cannot be restarted.
type ProgressPrinter struct {
	out        io.Writer
	writeMu    sync.Mutex
	prefix     string
	phase      atomic.Value        // stores string - current phase name
	stopPhases map[string]struct{} // set of phases that trigger a graceful shutdown
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{} // closed when goroutine exits
	started    atomic.Bool   // ensures Start is called at most once
	countUp    bool          // true for count up, false for countdown
	duration   time.Duration // for countdown mode
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time).
// stopPhases are phase names that will trigger automatic cleanup when set via Callback.
func NewProgressPrinter(out io.Writer, prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: phaseSet(stopPhases),
		countUp:    true,
	}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a progress printer that counts down from the duration.
func NewCountdownProgressPrinter(out io.Writer, prefix string, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	p := NewProgressPrinter(out, prefix, phase, stopPhases...)
	p.countUp = false
	p.duration = duration
	return p
}

func phaseSet(phases []string) map[string]struct{} {
	set := make(map[string]struct{}, len(phases))
	for _, p := range phases {
		set[p] = struct{}{}
	}
	return set
}

// newMonitorProgress counts down the handshake window when one is configured.
// With untilLinkUp the line disappears as soon as the link is established.
func newMonitorProgress(out io.Writer, address string, handshakeTimeout time.Duration, untilLinkUp bool) *ProgressPrinter {
	prefix := fmt.Sprintf("Connecting to %s", address)
	stops := []string{phaseStreaming, phaseStopped}
	if untilLinkUp {
		stops = append(stops, phaseDiscovering, phaseSubscribing)
	}
	if handshakeTimeout > 0 {
		return NewCountdownProgressPrinter(out, prefix, phaseConnecting, handshakeTimeout, stops...)
	}
	return NewProgressPrinter(out, prefix, phaseConnecting, stops...)
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.startProgressLoop(ticker)
}

// printProgress displays a progress line with optional elapsed/remaining seconds
func (p *ProgressPrinter) printProgress(phase string, seconds int) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

func (p *ProgressPrinter) startProgressLoop(ticker *time.Ticker) {
	p.printProgress(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(p.out, "\nprogress printer panic: %v\n", r)
			}
		}()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				currentPhase := p.phase.Load().(string)
				if _, isStopPhase := p.stopPhases[currentPhase]; isStopPhase {
					return
				}
				p.printProgress(currentPhase, p.seconds(time.Since(p.startTime)))
			}
		}
	}()
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.countUp {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second, e.g. 3.7s -> 4s
	return int(remaining.Seconds() + 0.5)
}

// Callback returns a progress callback function that updates the phase.
// If the new phase is a stop phase, Stop() is called automatically.
// This function is safe to call from multiple goroutines.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// Clear erases the progress line so other output can start at column zero.
// The next tick redraws it.
func (p *ProgressPrinter) Clear() {
	if p.ticker.Load() == nil {
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	fmt.Fprint(p.out, clearLineSequence)
}

// Stop stops the progress display and clears the line.
// Only the first call has any effect.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	fmt.Fprint(p.out, clearLineSequence)
}

// Track clears the line before an event is printed and advances the phase.
func (p *ProgressPrinter) Track(ev events.Event) {
	p.Clear()
	if phase := progressPhase(ev); phase != "" {
		p.Callback()(phase)
	}
}

func progressPhase(ev events.Event) string {
	switch ev.(type) {
	case events.LinkConnected:
		return phaseDiscovering
	case events.ServicesReady:
		return phaseSubscribing
	case events.StreamOnline:
		return phaseStreaming
	case events.ServiceUnsupported, events.LinkDisconnected:
		return phaseStopped
	}
	return ""
}

func isInteractive(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
