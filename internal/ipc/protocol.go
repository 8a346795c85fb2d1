package ipc

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/wellsgz/netpulse/internal/monitor"
	"github.com/wellsgz/netpulse/internal/storage"
)

// Message types for IPC protocol
const (
	MsgTypeAddTarget    = "add_target"
	MsgTypeRemoveTarget = "remove_target"
	MsgTypeListTargets  = "list_targets"
	MsgTypeGetSnapshot  = "get_snapshot"
	MsgTypeGetEvents    = "get_events"
	MsgTypeGetHistory   = "get_history"
	MsgTypeSubscribe    = "subscribe"
	MsgTypeUnsubscribe  = "unsubscribe"

	MsgTypeUpdate   = "update"
	MsgTypeTargets  = "targets"
	MsgTypeSnapshot = "snapshot"
	MsgTypeEvents   = "events"
	MsgTypeHistory  = "history"
	MsgTypeError    = "error"
	MsgTypeOK       = "ok"
)

// Error codes carried by error responses
const (
	CodeInvalidTarget = "invalid_target"
	CodeNotFound      = "not_found"
	CodeStopped       = "stopped"
	CodeBadRequest    = "bad_request"
	CodeInternal      = "internal"
)

// Request is one newline-delimited JSON request
type Request struct {
	ID   string          `json:"id,omitempty"` // Unique request ID for response correlation
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is one newline-delimited JSON response or pushed update
type Response struct {
	ID    string          `json:"id,omitempty"` // Echo of request ID for correlation
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Code  string          `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
}

// TargetRequest names a single target
type TargetRequest struct {
	Target string `json:"target"`
}

// GetEventsRequest asks for the newest events of a target
type GetEventsRequest struct {
	Target string `json:"target"`
	Limit  int    `json:"limit"`
	Source string `json:"source,omitempty"` // "memory" (default) or "journal"
}

// GetHistoryRequest is the request for historical data
type GetHistoryRequest struct {
	Target string    `json:"target"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// TargetsResponse lists registered targets
type TargetsResponse struct {
	Targets []string `json:"targets"`
}

// EventsResponse carries event texts, oldest first
type EventsResponse struct {
	Target string   `json:"target"`
	Events []string `json:"events"`
}

// HistoryResponse contains historical data points
type HistoryResponse struct {
	Target     string         `json:"target"`
	DataPoints []IPCDataPoint `json:"data_points"`
}

// IPCDataPoint is a JSON-safe data point that handles NaN values
// by using a pointer for the value field (nil = NaN/missing)
type IPCDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"` // nil for NaN/missing values
	Loss      *float64  `json:"loss"`  // nil for no data, 0=success, 1=failure (or 0.0-1.0 for aggregated)
}

func toIPCPoints(points []storage.DataPoint) []IPCDataPoint {
	out := make([]IPCDataPoint, len(points))
	for i, p := range points {
		out[i] = IPCDataPoint{Timestamp: p.Timestamp}
		if !math.IsNaN(p.Value) {
			v := p.Value
			out[i].Value = &v
		}
		if !math.IsNaN(p.Loss) {
			l := p.Loss
			out[i].Loss = &l
		}
	}
	return out
}

func fromIPCPoints(points []IPCDataPoint) []storage.DataPoint {
	out := make([]storage.DataPoint, len(points))
	for i, p := range points {
		out[i] = storage.DataPoint{Timestamp: p.Timestamp, Value: math.NaN(), Loss: math.NaN()}
		if p.Value != nil {
			out[i].Value = *p.Value
		}
		if p.Loss != nil {
			out[i].Loss = *p.Loss
		}
	}
	return out
}

// RemoteError is an error reported by the daemon
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap maps error codes back to the engine's sentinel errors
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeInvalidTarget:
		return monitor.ErrInvalidTarget
	case CodeNotFound:
		return storage.ErrNotFound
	case CodeStopped:
		return monitor.ErrStopped
	}
	return nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, monitor.ErrInvalidTarget):
		return CodeInvalidTarget
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, monitor.ErrStopped):
		return CodeStopped
	}
	return CodeInternal
}
