// Package invalidation carries dataset mutation events over Kafka.
//
// Whatever loads or edits screen result data publishes a DatasetChanged event; the service
// consumes it, recounts positives and evicts every cached query over the dataset.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventDatasetChanged is the type of a dataset mutation event.
const EventDatasetChanged = "dataset.changed"

// ErrMalformedEvent is returned for messages that are not dataset events.
var ErrMalformedEvent = errors.New("malformed invalidation event")

// Event announces that the data of a dataset changed.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	DatasetID  int64     `json:"datasetId"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewDatasetChanged creates an event for datasetID.
func NewDatasetChanged(datasetID int64, source string, now time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       EventDatasetChanged,
		DatasetID:  datasetID,
		Source:     source,
		OccurredAt: now.UTC(),
	}
}

// Key is the message key. Events of one dataset share a partition.
func (e Event) Key() []byte {
	return []byte(strconv.FormatInt(e.DatasetID, 10))
}

// DecodeEvent parses a message value.
func DecodeEvent(data []byte) (Event, error) {
	var e Event

	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	if e.Type != EventDatasetChanged {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}

	if e.DatasetID <= 0 {
		return Event{}, fmt.Errorf("%w: dataset id %d", ErrMalformedEvent, e.DatasetID)
	}

	return e, nil
}
