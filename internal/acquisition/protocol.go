package acquisition

import (
	"time"

	"github.com/banshee-data/vibration.report/internal/notify"
)

// Gateway command kinds.
const (
	CommandSubscribe   = "subscribe_changes"
	CommandUnsubscribe = "unsubscribe_changes"
	CommandTakeReading = "take_reading"
)

// Gateway notification kinds.
const (
	KindReadingStarted notify.Kind = "reading_started"
	KindReadingData    notify.Kind = "reading_data"
	KindTemperature    notify.Kind = "temperature"
)

// TakeReadingRequest is the take_reading command payload.
type TakeReadingRequest struct {
	Serial string `json:"serial"`
}

// StartedNotification acknowledges (or refuses) a take_reading command.
type StartedNotification struct {
	Serial  string `json:"serial"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// DataNotification carries the raw per-axis waveform strings. Their encoding
// is not specified by the gateway.
type DataNotification struct {
	Serial     string    `json:"serial"`
	ReadingID  int64     `json:"reading_id"`
	Timestamp  time.Time `json:"timestamp"`
	SampleRate float64   `json:"sample_rate,omitempty"`
	Samples    int       `json:"samples,omitempty"`
	X          string    `json:"x"`
	Y          string    `json:"y"`
	Z          string    `json:"z"`
}

// TemperatureNotification is informational and may never arrive.
type TemperatureNotification struct {
	Serial      string  `json:"serial"`
	Temperature float64 `json:"temperature"`
}
