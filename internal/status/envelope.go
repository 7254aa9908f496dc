// Package status publishes a running load test's progress over HTTP and a
// websocket push feed.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const FeedVersion = 1

const (
	TypeStatus = "status"
	TypeHello  = "hello"
)

// Envelope wraps every message on the feed.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	MsgID   string          `json:"msg_id"`
	RunID   string          `json:"run_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Snapshot is the state of a run at one instant.
type Snapshot struct {
	RunID      string    `json:"run_id"`
	At         time.Time `json:"at"`
	StartedAt  time.Time `json:"started_at"`
	Phase      string    `json:"phase"`
	Queued     int       `json:"queued"`
	Dispatched int       `json:"dispatched"`
	Retries    int       `json:"retries"`
	Failed     int       `json:"failed"`
	InFlight   int       `json:"in_flight"`

	WindowDelta    int64   `json:"window_delta_bytes"`
	WindowComplete bool    `json:"window_complete"`
	WindowMbps     float64 `json:"window_mbps"`

	UploadedBytes int64   `json:"uploaded_bytes"`
	EwmaBps       float64 `json:"ewma_bps"`
	AvgBps        float64 `json:"avg_bps"`
	PeakBps       float64 `json:"peak_bps"`

	Stalled bool `json:"stalled"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	return Envelope{
		V:       FeedVersion,
		Type:    msgType,
		MsgID:   NewMsgID(),
		Payload: raw,
	}, nil
}

func (e Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return errors.New("payload is empty")
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// ValidateBasic checks the fields every envelope must carry.
func (e Envelope) ValidateBasic() error {
	if e.V != FeedVersion {
		return fmt.Errorf("invalid feed version: got %d, expected %d", e.V, FeedVersion)
	}
	if e.Type == "" {
		return errors.New("type is required")
	}
	if e.MsgID == "" {
		return errors.New("msg_id is required")
	}
	return nil
}

func NewMsgID() string {
	return uuid.NewString()
}
