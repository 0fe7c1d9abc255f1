package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
)

type recordingLogger struct {
	msgs []string
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.msgs = append(l.msgs, msg) }

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	reg, err := device.FromConfig(config.DevicesConfig{
		Namespace: "mosquito",
		Acks:      true,
		List:      []config.DeviceConfig{{ID: "esp32_1"}, {ID: "esp32_2"}},
	})
	require.NoError(t, err)
	return New(reg)
}

func TestRoute_Telemetry(t *testing.T) {
	r := newTestRouter(t)
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	routed, ok := r.Route(mqtt.Message{Topic: "mosquito/esp32_1/data", Payload: []byte("23.5"), ReceivedAt: at})

	require.True(t, ok)
	assert.Equal(t, "esp32_1", routed.DeviceID)
	assert.Equal(t, KindTelemetry, routed.Kind)
	assert.Equal(t, "23.5", routed.Payload)
	assert.Equal(t, at, routed.ReceivedAt)
}

func TestRoute_Ack(t *testing.T) {
	r := newTestRouter(t)

	routed, ok := r.Route(mqtt.Message{Topic: "mosquito/esp32_2/ack", Payload: []byte("7")})

	require.True(t, ok)
	assert.Equal(t, "esp32_2", routed.DeviceID)
	assert.Equal(t, KindAck, routed.Kind)
	assert.Equal(t, "ack", routed.Kind.String())
}

func TestRoute_UnknownTopicsAreDropped(t *testing.T) {
	r := newTestRouter(t)
	logger := &recordingLogger{}
	r.SetLogger(logger)

	for _, topic := range []string{
		"mosquito/esp32_3/data",
		"mosquito/esp32_1/command",
		"other/esp32_1/data",
		"mosquito/esp32_1/data/extra",
		"",
	} {
		routed, ok := r.Route(mqtt.Message{Topic: topic, Payload: []byte("1")})
		assert.False(t, ok, topic)
		assert.Empty(t, routed.DeviceID, topic)
	}

	assert.Equal(t, uint64(5), r.Dropped())
	assert.Len(t, logger.msgs, 5)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "telemetry", KindTelemetry.String())
	assert.Equal(t, "ack", KindAck.String())
}
