package audit

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout renders entry timestamps with millisecond precision.
const TimestampLayout = "2006-01-02 15:04:05.000"

// sessionLayout is the session start stamp used in file names.
const sessionLayout = "20060102_150405"

// Direction says whether a message came from or went to the device.
type Direction string

// Directions.
const (
	DirectionReceived Direction = "Received"
	DirectionSent     Direction = "Sent"
)

// MessageType is the kind of payload recorded.
type MessageType string

// Message types.
const (
	MessageTypeData    MessageType = "Data"
	MessageTypeCommand MessageType = "Command"
)

// Notes attached by the Record helpers.
const (
	NoteReceived = "Data from device"
	NoteSent     = "Command to device"
	NoteAck      = "Acknowledgment from device"
)

// Columns is the tabular layout shared by every store.
var Columns = []string{"Timestamp", "DeviceName", "Direction", "MessageType", "Message", "Notes"}

// Entry is one audited message. Entries are append-only.
type Entry struct {
	Timestamp   time.Time   `json:"timestamp"`
	DeviceID    string      `json:"device"`
	Direction   Direction   `json:"direction"`
	MessageType MessageType `json:"message_type"`
	Message     string      `json:"message"`
	Notes       string      `json:"notes"`
}

// Row returns the entry in Columns order.
func (e Entry) Row() []string {
	return []string{
		e.Timestamp.Format(TimestampLayout),
		e.DeviceID,
		string(e.Direction),
		string(e.MessageType),
		e.Message,
		e.Notes,
	}
}

// entryFromRow parses a row written by Row.
func entryFromRow(row []string) (Entry, error) {
	if len(row) != len(Columns) {
		return Entry{}, fmt.Errorf("row has %d columns, want %d", len(row), len(Columns))
	}
	ts, err := time.ParseInLocation(TimestampLayout, row[0], time.Local)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", row[0], err)
	}
	return Entry{
		Timestamp:   ts,
		DeviceID:    row[1],
		Direction:   Direction(row[2]),
		MessageType: MessageType(row[3]),
		Message:     row[4],
		Notes:       row[5],
	}, nil
}

// Session identifies one run of the controller. Its start time is part of
// every log file name.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// NewSession starts a session at now.
func NewSession(now time.Time) Session {
	return Session{ID: uuid.NewString(), StartedAt: now}
}

// ShortID returns the first eight characters of the session ID.
func (s Session) ShortID() string {
	if len(s.ID) < 8 {
		return s.ID
	}
	return s.ID[:8]
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileName returns mqtt_log_<device>_<YYYYMMDD_HHMMSS><ext>.
func (s Session) FileName(deviceID, ext string) string {
	return fmt.Sprintf("mqtt_log_%s_%s%s",
		unsafeFileChars.ReplaceAllString(deviceID, "_"),
		s.StartedAt.Format(sessionLayout),
		ext,
	)
}

// altFileName is used when FileName already exists on disk.
func (s Session) altFileName(deviceID, ext string) string {
	return fmt.Sprintf("mqtt_log_%s_%s_%s%s",
		unsafeFileChars.ReplaceAllString(deviceID, "_"),
		s.StartedAt.Format(sessionLayout),
		s.ShortID(),
		ext,
	)
}
