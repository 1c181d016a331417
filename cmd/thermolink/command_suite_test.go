package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/thermolink/internal/device"
	"github.com/srg/thermolink/internal/testutils"
	"github.com/srg/thermolink/pkg/config"
	"github.com/stretchr/testify/suite"
)

// Test device address for consistent fake peripheral identification
const TestDeviceAddress = "AA:BB:CC:DD:EE:FF"

// syncBuffer is a bytes.Buffer safe for a command writing while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs commands against a FakeTransport and restores package
// state after every test.
type CommandTestSuite struct {
	suite.Suite
	Transport *testutils.FakeTransport
	Stdout    *syncBuffer
	Stderr    *syncBuffer

	origFactory func(*config.Config, *logrus.Logger) (device.Transport, func() error)
	origClock   func() time.Time
	origWait    time.Duration
}

func (s *CommandTestSuite) SetupSuite() {
	s.origFactory = transportFactory
	s.origClock = clock
	s.origWait = disconnectWait
}

func (s *CommandTestSuite) TearDownSuite() {
	transportFactory = s.origFactory
	clock = s.origClock
	disconnectWait = s.origWait
}

func (s *CommandTestSuite) SetupTest() {
	resetFlags(rootCmd)
	s.Transport = testutils.NewFakeTransport(testutils.PeripheralProfile{Name: "Thermo", Auto: true})
	transportFactory = func(*config.Config, *logrus.Logger) (device.Transport, func() error) {
		return s.Transport, func() error { return nil }
	}
	clock = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	disconnectWait = time.Second
	s.Stdout = &syncBuffer{}
	s.Stderr = &syncBuffer{}
}

// resetFlags restores every flag of cmd and its subcommands to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// ExecuteCommand runs the root command with args and returns its error.
func (s *CommandTestSuite) ExecuteCommand(ctx context.Context, args ...string) error {
	rootCmd.SetOut(s.Stdout)
	rootCmd.SetErr(s.Stderr)
	rootCmd.SetArgs(args)
	// subcommands keep the context of their first run otherwise
	for _, sub := range rootCmd.Commands() {
		sub.SetContext(ctx)
	}
	return rootCmd.ExecuteContext(ctx)
}

// StartCommand runs the root command in the background. The returned channel
// receives the command error.
func (s *CommandTestSuite) StartCommand(ctx context.Context, args ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.ExecuteCommand(ctx, args...)
	}()
	return done
}

// WaitForOutput waits until stdout contains text.
func (s *CommandTestSuite) WaitForOutput(text string) {
	s.Require().Eventually(func() bool {
		return strings.Contains(s.Stdout.String(), text)
	}, 2*time.Second, 5*time.Millisecond, "stdout MUST contain %q, got:\n%s", text, s.Stdout.String())
}

// WaitForExit waits for a background command to return.
func (s *CommandTestSuite) WaitForExit(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		s.FailNow("command MUST exit")
		return nil
	}
}
