package goble_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// mockDevice overrides the ble.Device methods the transport uses. Calling any other
// method panics on the nil embedded interface.
type mockDevice struct {
	ble.Device
	mock.Mock
}

func (d *mockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := d.Called(ctx, a)
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

func (d *mockDevice) Stop() error {
	return d.Called().Error(0)
}

type mockClient struct {
	ble.Client
	mock.Mock
	disconnected chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{disconnected: make(chan struct{})}
}

func (c *mockClient) Name() string {
	return c.Called().String(0)
}

func (c *mockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := c.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (c *mockClient) Subscribe(ch *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return c.Called(ch, ind, h).Error(0)
}

func (c *mockClient) Unsubscribe(ch *ble.Characteristic, ind bool) error {
	return c.Called(ch, ind).Error(0)
}

func (c *mockClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	return c.Called(d, v).Error(0)
}

func (c *mockClient) CancelConnection() error {
	return c.Called().Error(0)
}

func (c *mockClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

// recorder turns transport callbacks into ordered strings.
type recorder struct {
	ch chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 32)}
}

func (r *recorder) OnLinkStateChanged(connected bool) {
	r.ch <- fmt.Sprintf("link:%t", connected)
}

func (r *recorder) OnDiscoveryComplete(success bool) {
	r.ch <- fmt.Sprintf("discovery:%t", success)
}

func (r *recorder) OnDescriptorWriteComplete(charUUID string, success bool) {
	r.ch <- fmt.Sprintf("write:%s:%t", charUUID, success)
}

func (r *recorder) OnNotification(charUUID string, data []byte) {
	r.ch <- fmt.Sprintf("notify:%s:%s", charUUID, hex.EncodeToString(data))
}

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport callback")
		return ""
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case v := <-r.ch:
		t.Fatalf("unexpected callback %q", v)
	case <-time.After(wait):
	}
}

func thermometerProfile() (*ble.Profile, *ble.Characteristic) {
	char := &ble.Characteristic{
		UUID:     ble.UUID16(0x2a1c),
		Property: ble.CharIndicate | ble.CharNotify,
		Descriptors: []*ble.Descriptor{
			{UUID: ble.UUID16(0x2902)},
			{UUID: ble.UUID16(0x2901)},
		},
	}
	battery := &ble.Characteristic{UUID: ble.UUID16(0x2a19), Property: ble.CharRead}
	return &ble.Profile{Services: []*ble.Service{
		{UUID: ble.UUID16(0x180f), Characteristics: []*ble.Characteristic{battery}},
		{UUID: ble.UUID16(0x1809), Characteristics: []*ble.Characteristic{char}},
	}}, char
}
