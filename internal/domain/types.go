package domain

import (
	"encoding/json"
	"time"
)

// OperationType selects the queue an operation lives in and the remote
// endpoint that processes it.
type OperationType string

const (
	OpStamp      OperationType = "stamp"
	OpRedemption OperationType = "redemption"
)

// QueueKey names one ordered offline queue.
type QueueKey string

const (
	QueueStamps      QueueKey = "stamps"
	QueueRedemptions QueueKey = "redemptions"
)

// QueueFor maps an operation type to the queue that holds it.
func QueueFor(t OperationType) (QueueKey, bool) {
	switch t {
	case OpStamp:
		return QueueStamps, true
	case OpRedemption:
		return QueueRedemptions, true
	}
	return "", false
}

// AllQueues lists every known queue key.
func AllQueues() []QueueKey {
	return []QueueKey{QueueStamps, QueueRedemptions}
}

// Operation is a user action recorded while offline. Payload is passed to the
// remote endpoint verbatim and never inspected.
type Operation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retryCount"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Patch holds the fields Update may merge into a stored operation.
type Patch struct {
	RetryCount *int
}

// RPCResult is the remote response body.
type RPCResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
