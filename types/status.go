package types

import "fmt"

type IndexStatus string

const (
	StatusPending    IndexStatus = "PENDING"
	StatusProcessing IndexStatus = "PROCESSING"
	StatusCompleted  IndexStatus = "COMPLETED"
	StatusFailed     IndexStatus = "FAILED"
)

var transitions = map[IndexStatus][]IndexStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func ParseIndexStatus(s string) (IndexStatus, error) {
	switch st := IndexStatus(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown index status %q", s)
}

// CanTransition reports whether a metadata row may move from one status to
// another. COMPLETED and FAILED are terminal.
func (s IndexStatus) CanTransition(to IndexStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s IndexStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StatusEvent is published by the indexing stage and applied by the status stage.
type StatusEvent struct {
	CorrelationID string      `json:"correlation_id"`
	Status        IndexStatus `json:"status"`
	Reason        string      `json:"reason,omitempty"`
}
