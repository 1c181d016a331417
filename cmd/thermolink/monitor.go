package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/thermolink/internal/decoder"
	"github.com/srg/thermolink/internal/device"
	goble "github.com/srg/thermolink/internal/device/go-ble"
	"github.com/srg/thermolink/internal/events"
	"github.com/srg/thermolink/internal/link"
	"github.com/srg/thermolink/internal/presence"
	"github.com/srg/thermolink/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address>",
	Short: "Connect to a thermometer and stream temperature readings",
	Long: fmt.Sprintf(`Connects to a BLE thermometer, subscribes to the temperature measurement
characteristic and prints every reading until Ctrl+C or until the link is lost.

Examples:
  # Stream readings as text
  thermolink monitor %s

  # Stream JSON lines, decoding IEEE-11073 FLOAT payloads
  thermolink monitor %s --json --format ieee11073

  # Give up when the peer is not streaming within 20 seconds
  thermolink monitor %s --handshake-timeout 20s

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorConfigPath       string
	monitorVerbose          bool
	monitorJSON             bool
	monitorTimeout          time.Duration
	monitorHandshakeTimeout time.Duration
	monitorFormat           string
	monitorNoIndicator      bool
)

// disconnectWait bounds how long an interrupted monitor waits for the link to go down.
var disconnectWait = 5 * time.Second

// transportFactory builds the BLE transport for a monitor run.
var transportFactory = func(cfg *config.Config, logger *logrus.Logger) (device.Transport, func() error) {
	t := goble.NewTransport(logger, goble.WithDialTimeout(cfg.DialTimeout))
	return t, t.Close
}

// clock stamps decoded readings.
var clock = time.Now

func init() {
	monitorCmd.Flags().StringVar(&monitorConfigPath, "config", "", "YAML configuration file")
	monitorCmd.Flags().BoolVar(&monitorVerbose, "verbose", false, "Enable debug logging")
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", false, "Print events as JSON lines")
	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", goble.DefaultDialTimeout, "Connection timeout")
	monitorCmd.Flags().DurationVar(&monitorHandshakeTimeout, "handshake-timeout", 0, "Disconnect if not streaming within this time (0 disables)")
	monitorCmd.Flags().StringVar(&monitorFormat, "format", decoder.FormatIEEE754.String(), "Payload format: ieee754 or ieee11073")
	monitorCmd.Flags().BoolVar(&monitorNoIndicator, "no-indicator", false, "Do not show the connection status line")
}

// loadMonitorConfig reads --config and lets explicitly set flags override it.
func loadMonitorConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(monitorConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.DialTimeout = monitorTimeout
	}
	if flags.Changed("handshake-timeout") {
		cfg.HandshakeTimeout = monitorHandshakeTimeout
	}
	if flags.Changed("format") {
		cfg.DecodeFormat = strings.ToLower(monitorFormat)
	}
	if monitorJSON {
		cfg.OutputFormat = config.OutputJSON
	}
	if monitorNoIndicator {
		cfg.Indicator = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address := strings.TrimSpace(args[0])
	if address == "" {
		return fmt.Errorf("device address is empty")
	}

	cfg, err := loadMonitorConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	transport, closeTransport := transportFactory(cfg, logger)
	defer func() {
		if err := closeTransport(); err != nil {
			logger.WithError(err).Debug("Transport close reported an error")
		}
	}()

	m := link.New(transport, logger,
		link.WithBus(events.NewBus(logger)),
		link.WithDecoder(decoder.New(decoder.WithFormat(cfg.Format()), decoder.WithClock(clock))),
		link.WithHandshakeTimeout(cfg.HandshakeTimeout),
	)
	defer m.Close()

	sub := m.Subscribe(cfg.EventBuffer)
	defer sub.Close()

	if cfg.Indicator && cfg.OutputFormat != config.OutputJSON {
		indSub := m.Subscribe(cfg.EventBuffer)
		defer indSub.Close()
		indCtx, stopIndicator := context.WithCancel(ctx)
		defer stopIndicator()
		go presence.New(cmd.ErrOrStderr(), logger).Run(indCtx, indSub)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Monitoring %s. Press Ctrl+C to stop...\n", address)

	printer := newEventPrinter(cmd.OutOrStdout(), cfg.OutputFormat)
	if cfg.OutputFormat == config.OutputText && isInteractive(cmd.ErrOrStderr()) {
		// the presence indicator owns the status line once the link is up
		printer.progress = newMonitorProgress(cmd.ErrOrStderr(), address, cfg.HandshakeTimeout, cfg.Indicator)
		printer.progress.Start()
		defer printer.progress.Stop()
	}

	if !m.Connect(address) {
		if cause := m.LastError(); cause != nil {
			return fmt.Errorf("failed to open a link to %s: %w", address, cause)
		}
		return fmt.Errorf("failed to open a link to %s", address)
	}

	return streamEvents(ctx, m, sub, printer, address, logger)
}

// streamEvents prints events until the link goes down or ctx is cancelled.
func streamEvents(ctx context.Context, m *link.Machine, sub *events.Subscription, printer *eventPrinter, address string, logger *logrus.Logger) error {
	var linkUp, unsupported bool
	for {
		select {
		case <-ctx.Done():
			return shutdown(m, sub, printer, logger)

		case ev, ok := <-sub.C():
			if !ok {
				return ErrConnectionLost
			}
			if err := printer.Print(ev); err != nil {
				logger.WithError(err).Warn("Failed to print event")
			}

			switch ev.(type) {
			case events.LinkConnected:
				linkUp = true
			case events.ServiceUnsupported:
				unsupported = true
			case events.LinkDisconnected:
				switch {
				case unsupported:
					return fmt.Errorf("%s: %w", address, ErrServiceUnsupported)
				case !linkUp:
					if cause := m.LastError(); cause != nil {
						return fmt.Errorf("could not establish a link to %s: %w: %w", address, ErrConnectionLost, cause)
					}
					return fmt.Errorf("could not establish a link to %s: %w", address, ErrConnectionLost)
				default:
					if cause := m.LastError(); cause != nil {
						return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
					}
					return ErrConnectionLost
				}
			}
		}
	}
}

// shutdown requests a disconnect and waits, bounded, for the link to report it.
func shutdown(m *link.Machine, sub *events.Subscription, printer *eventPrinter, logger *logrus.Logger) error {
	if m.CurrentState() == link.Disconnected {
		return nil
	}
	m.Disconnect()

	deadline := time.NewTimer(disconnectWait)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := printer.Print(ev); err != nil {
				logger.WithError(err).Warn("Failed to print event")
			}
			if ev.Kind() == events.KindLinkDisconnected {
				return nil
			}
		case <-deadline.C:
			logger.WithField("wait", disconnectWait).Warn("Peer did not confirm disconnect, releasing link")
			return nil
		}
	}
}
