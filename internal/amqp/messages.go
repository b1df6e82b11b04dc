package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SummariesRebuiltMessage announces a finished summary rebuild so readers
// can drop cached reports.
type SummariesRebuiltMessage struct {
	ID            string    `json:"id"`
	RebuiltAt     time.Time `json:"rebuilt_at"`
	Granularities []string  `json:"granularities"`
	Rows          int       `json:"rows"`
	DurationMS    int64     `json:"duration_ms"`
}

func NewSummariesRebuiltMessage(rebuiltAt time.Time, granularities []string, rows int, duration time.Duration) *SummariesRebuiltMessage {
	return &SummariesRebuiltMessage{
		ID:            uuid.NewString(),
		RebuiltAt:     rebuiltAt.UTC(),
		Granularities: granularities,
		Rows:          rows,
		DurationMS:    duration.Milliseconds(),
	}
}

func (m *SummariesRebuiltMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SummariesRebuiltMessageFromJSON(data []byte) (*SummariesRebuiltMessage, error) {
	var msg SummariesRebuiltMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
