package console

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/devicelink/internal/dispatch"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/manager"
)

type fakeFacade struct {
	mu          sync.Mutex
	state       mqtt.ConnectionState
	connectErr  error
	sendErr     error
	sent        []string
	disconnects int
	devices     []manager.DeviceStatus
}

func newFakeFacade() *fakeFacade {
	value := "23.5"
	at := time.Date(2026, 10, 16, 14, 30, 0, 0, time.Local)
	return &fakeFacade{devices: []manager.DeviceStatus{
		{
			ID: "esp32_1", InboundTopic: "mosquito/esp32_1/data", OutboundTopic: "mosquito/esp32_1/command",
			LastValue: &value, LastValueAt: &at, LogCount: 4,
			LastCommand: &manager.CommandRecord{Payload: "7", Status: manager.CommandAcknowledged},
		},
		{ID: "esp32_2", InboundTopic: "mosquito/esp32_2/data", OutboundTopic: "mosquito/esp32_2/command"},
	}}
}

func (f *fakeFacade) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = mqtt.Connected
	return nil
}

func (f *fakeFacade) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = mqtt.Disconnected
}

func (f *fakeFacade) SendText(_ context.Context, deviceID, raw string) (dispatch.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, deviceID+"="+raw)
	if f.sendErr != nil {
		return dispatch.Command{}, f.sendErr
	}
	return dispatch.Command{
		DeviceID: deviceID,
		Topic:    "mosquito/" + deviceID + "/command",
		Payload:  raw,
		SentAt:   time.Date(2026, 10, 16, 14, 30, 5, 0, time.Local),
	}, nil
}

func (f *fakeFacade) Devices() []manager.DeviceStatus { return f.devices }

func (f *fakeFacade) ConnectionState() mqtt.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeFacade) Stats() manager.Stats { return manager.Stats{Routed: 4, Dropped: 1} }

func newTestConsole() (*Console, *fakeFacade, *bytes.Buffer) {
	f := newFakeFacade()
	out := &bytes.Buffer{}
	return New(f, Options{Out: out}), f, out
}

func TestExecute_SendForms(t *testing.T) {
	tests := []struct {
		line     string
		wantSent string
	}{
		{"esp32_1 7", "esp32_1=7"},
		{"1 7", "esp32_1=7"},
		{"2 20", "esp32_2=20"},
		{"send esp32_2 1", "esp32_2=1"},
		{"  esp32_2   3  ", "esp32_2=3"},
		{"3 7", "3=7"},
		{"esp32_9 7", "esp32_9=7"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, f, out := newTestConsole()
			quit := c.Execute(context.Background(), tt.line)

			assert.False(t, quit)
			assert.Equal(t, []string{tt.wantSent}, f.sent)
			assert.Contains(t, out.String(), "Sent to")
		})
	}
}

func TestExecute_SendOutput(t *testing.T) {
	c, _, out := newTestConsole()
	c.Execute(context.Background(), "esp32_1 7")

	assert.Equal(t, "[2026-10-16 14:30:05] Sent to esp32_1 (mosquito/esp32_1/command): 7\n", out.String())
}

func TestExecute_SendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"out of range", dispatch.ValidateValue(21), "Invalid number (1-20 allowed)\n"},
		{"format", dispatch.ErrInvalidFormat, "Invalid input (numbers only)\n"},
		{"not connected", dispatch.ErrNotConnected, "not connected\n"},
		{"unknown", dispatch.ErrUnknownDevice, "unknown device\n"},
		{"transmit", fmt.Errorf("%w: %w", dispatch.ErrTransmitFailed, mqtt.ErrTimeout), "transmit failed\n"},
		{"pending", fmt.Errorf("%w: %w", dispatch.ErrPending, mqtt.ErrDeliveryPending), "sent, awaiting acknowledgment\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f, out := newTestConsole()
			f.sendErr = tt.err

			c.Execute(context.Background(), "esp32_1 21")
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestExecute_SendFormatError(t *testing.T) {
	c, f, out := newTestConsole()

	c.Execute(context.Background(), "send esp32_1")
	assert.Empty(t, f.sent)
	assert.Contains(t, out.String(), "Use: send <device> <number>")
}

func TestExecute_Status(t *testing.T) {
	c, _, out := newTestConsole()
	c.Execute(context.Background(), "STATUS")

	text := out.String()
	assert.Contains(t, text, "connection: disconnected")
	assert.Contains(t, text, "esp32_1: 23.5 at 2026-10-16 14:30:00, 4 logged, last command 7 (acknowledged)")
	assert.Contains(t, text, "esp32_2: (none), 0 logged\n")
	assert.Contains(t, text, "routed 4, dropped 1")
}

func TestExecute_Devices(t *testing.T) {
	c, _, out := newTestConsole()
	c.Execute(context.Background(), "devices")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "1  esp32_1"))
	assert.True(t, strings.HasPrefix(lines[1], "2  esp32_2"))
}

func TestExecute_ConnectDisconnect(t *testing.T) {
	c, f, out := newTestConsole()

	c.Execute(context.Background(), "connect")
	assert.Equal(t, mqtt.Connected, f.ConnectionState())
	assert.Equal(t, "connected\n", out.String())

	out.Reset()
	c.Execute(context.Background(), "disconnect")
	assert.Equal(t, mqtt.Disconnected, f.ConnectionState())
	assert.Equal(t, 1, f.disconnects)
	assert.Equal(t, "disconnected\n", out.String())

	out.Reset()
	f.connectErr = mqtt.ErrConnectionFailed
	c.Execute(context.Background(), "connect")
	assert.Contains(t, out.String(), "connect failed")
}

func TestExecute_HelpUnknownAndQuit(t *testing.T) {
	c, _, out := newTestConsole()

	assert.False(t, c.Execute(context.Background(), ""))
	assert.False(t, c.Execute(context.Background(), "help"))
	assert.Contains(t, out.String(), "n must be between 1 and 20.")

	out.Reset()
	assert.False(t, c.Execute(context.Background(), "launch rockets now"))
	assert.Contains(t, out.String(), "Unknown command")

	assert.True(t, c.Execute(context.Background(), "quit"))
	assert.True(t, c.Execute(context.Background(), ""))
}

func TestRun_ReadsPipedInput(t *testing.T) {
	c, f, out := newTestConsole()

	in := strings.NewReader("1 5\nesp32_2 6\nquit\nesp32_1 9\n")
	require.NoError(t, c.Run(context.Background(), in))

	assert.Equal(t, []string{"esp32_1=5", "esp32_2=6"}, f.sent)
	assert.Contains(t, out.String(), "type 'help' for commands")
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	c, f, _ := newTestConsole()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.Run(ctx, strings.NewReader("1 5\n")))
	assert.Empty(t, f.sent)
}

func TestComplete(t *testing.T) {
	c, _, _ := newTestConsole()

	buf := prompt.NewBuffer()
	buf.InsertText("esp", false, true)
	got := c.Complete(*buf.Document())

	var texts []string
	for _, s := range got {
		texts = append(texts, s.Text)
	}
	assert.Equal(t, []string{"esp32_1", "esp32_2"}, texts)

	buf = prompt.NewBuffer()
	buf.InsertText("dis", false, true)
	got = c.Complete(*buf.Document())
	require.Len(t, got, 1)
	assert.Equal(t, "disconnect", got[0].Text)
}
