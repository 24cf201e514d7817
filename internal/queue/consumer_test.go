package queue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNotification(t *testing.T) {
	tests := []struct {
		ev   ParkingEvent
		want string
	}{
		{ParkingEvent{Type: "reservation.created", ReservationCode: 552310, SpotID: 7}, "Reservation 552310 confirmed for spot 7"},
		{ParkingEvent{Type: "reservation.cancelled", ReservationCode: 9, Reason: "no-show"}, "Reservation 9 cancelled (no-show)"},
		{ParkingEvent{Type: "session.ended", ParkingCode: 123456}, "Exit recorded for parking 123456"},
		{ParkingEvent{Type: "session.ended", ParkingCode: 123456, Late: true, EstimatedEnd: "12:00"}, "Late exit for parking 123456, expected by 12:00"},
		{ParkingEvent{Type: "spot.repainted"}, "Parking update: spot.repainted"},
	}
	for _, tt := range tests {
		t.Run(tt.ev.Type, func(t *testing.T) {
			assert.Contains(t, FormatNotification(tt.ev), tt.want)
		})
	}
}

func TestHandleAppendsNotification(t *testing.T) {
	dir := t.TempDir()
	c := NewConsumer("", "", filepath.Join(dir, "out"))

	require.NoError(t, c.Handle([]byte(`{"id":"a","type":"session.started","user_id":4,"parking_code":100200,"spot_id":3,"estimated_end":"2025-05-10T12:00:00Z"}`)))
	require.NoError(t, c.Handle([]byte(`{"id":"b","type":"session.extended","user_id":4,"parking_code":100200,"estimated_end":"2025-05-10T16:00:00Z"}`)))

	data, err := os.ReadFile(filepath.Join(dir, "out", "notifications.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "user_id=4")
	assert.Contains(t, lines[0], "Parked at spot 3 with code 100200")
	assert.Contains(t, lines[1], "event_id=b")
}

func TestHandleRejectsBadPayload(t *testing.T) {
	c := NewConsumer("", "", t.TempDir())
	assert.Error(t, c.Handle([]byte("not json")))
	assert.Error(t, c.Handle([]byte(`{"user_id":1}`)))
}

func TestNewConsumerDefaults(t *testing.T) {
	c := NewConsumer("amqp://x", "", "")
	assert.Equal(t, EventsQueue, c.Queue)
	assert.Equal(t, "logs", c.Dir)
}
