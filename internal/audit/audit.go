// Package audit records who did what to which funds.
//
// Every admin-initiated release or reversal lands here with the acting
// admin, the target sub-order, and the amounts moved. The trail is
// best-effort: a failed audit write is logged and never blocks or rolls
// back the money movement it describes.
package audit

import (
	"context"
	"time"

	"github.com/sellora/escrowd/internal/idgen"
)

// Actions recorded by the escrow service.
const (
	ActionEscrowReleased  = "escrow.released"
	ActionEscrowReversed  = "escrow.reversed"
	ActionReleaseFailed   = "escrow.release_failed"
	ActionConditionUpdate = "fund_release.condition_updated"
)

// Entry is one audit record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actorId"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Query filters audit records. Zero-value fields match everything.
type Query struct {
	Action   string
	ActorID  string
	TargetID string
	Limit    int
}

// Logger records audit entries and answers queries over them.
type Logger interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, q Query) ([]Entry, error)
}

// NewEntry stamps an entry with a fresh ID and timestamp.
func NewEntry(action, actorID, targetType, targetID string, details map[string]any) Entry {
	return Entry{
		ID:         idgen.WithPrefix("aud_"),
		Action:     action,
		ActorID:    actorID,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
}
