// Package presence renders a persistent status line while a peripheral is connected.
//
// The indicator is a plain event consumer: the link machine knows nothing about it.
package presence

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/thermolink/internal/events"
	"golang.org/x/term"
)

// DefaultTitle is shown when the peripheral did not report a name.
const DefaultTitle = "thermolink connected"

const clearLine = "\r\033[2K"

// Option configures an Indicator.
type Option func(*Indicator)

// WithColor forces colored output on or off. By default colors and in-place
// redraws are used only when the writer is a terminal.
func WithColor(enabled bool) Option {
	return func(i *Indicator) {
		i.interactive = enabled
	}
}

// Indicator shows the peer name and latest temperature while the link is up.
type Indicator struct {
	out         io.Writer
	logger      *logrus.Logger
	interactive bool

	title *color.Color
	value *color.Color
	muted *color.Color

	mu          sync.Mutex
	active      bool
	name        string
	temperature *float64
	rendered    bool
}

// New creates an indicator writing to out.
func New(out io.Writer, logger *logrus.Logger, opts ...Option) *Indicator {
	if logger == nil {
		logger = logrus.New()
	}
	i := &Indicator{
		out:         out,
		logger:      logger,
		interactive: isTerminal(out),
		title:       color.New(color.FgGreen, color.Bold),
		value:       color.New(color.FgCyan),
		muted:       color.New(color.FgHiBlack),
	}
	for _, opt := range opts {
		opt(i)
	}
	for _, c := range []*color.Color{i.title, i.value, i.muted} {
		if i.interactive {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return i
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Run consumes events from sub until ctx is done or the subscription is closed.
func (i *Indicator) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			i.Handle(ev)
		}
	}
}

// Handle applies one event to the indicator and redraws it when it changed.
func (i *Indicator) Handle(ev events.Event) {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch e := ev.(type) {
	case events.LinkConnected:
		i.active = true
		i.name = e.Name
		i.temperature = nil
		i.render()
	case events.Reading:
		if !i.active {
			return
		}
		v := e.Value
		i.temperature = &v
		i.render()
	case events.LinkDisconnected:
		if !i.active {
			return
		}
		i.active = false
		i.name = ""
		i.temperature = nil
		i.clear()
	}
}

// Active reports whether the indicator is currently shown.
func (i *Indicator) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// Status returns the uncolored status line, or an empty string when inactive.
func (i *Indicator) Status() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.active {
		return ""
	}
	return fmt.Sprintf("%s: Temperature %s", i.heading(), i.temperatureText())
}

func (i *Indicator) heading() string {
	if i.name != "" {
		return i.name
	}
	return DefaultTitle
}

func (i *Indicator) temperatureText() string {
	if i.temperature == nil {
		return "--"
	}
	return FormatTemperature(*i.temperature)
}

// FormatTemperature renders a reading the way the status line does.
func FormatTemperature(v float64) string {
	return fmt.Sprintf("%.1f°C", v)
}

func (i *Indicator) render() {
	line := fmt.Sprintf("%s %s %s",
		i.title.Sprint(i.heading()),
		i.muted.Sprint("Temperature"),
		i.value.Sprint(i.temperatureText()))

	var err error
	if i.interactive {
		_, err = fmt.Fprint(i.out, clearLine+line)
	} else {
		_, err = fmt.Fprintln(i.out, line)
	}
	if err != nil {
		i.logger.WithError(err).Debug("Failed to render presence indicator")
		return
	}
	i.rendered = true
}

func (i *Indicator) clear() {
	if !i.rendered {
		return
	}
	i.rendered = false

	var err error
	if i.interactive {
		_, err = fmt.Fprint(i.out, clearLine)
	} else {
		_, err = fmt.Fprintln(i.out, i.muted.Sprint("disconnected"))
	}
	if err != nil {
		i.logger.WithError(err).Debug("Failed to clear presence indicator")
	}
}
