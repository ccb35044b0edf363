// Package outbox persists writes made while the remote API was unreachable.
// Entries are replayed in enqueue order once connectivity returns.
package outbox

import (
	"context"
	"time"
)

type Entry struct {
	Seq  int64
	Kind string
	// RecordID is the aggregate the entry applies to (a declaration id for
	// declaration, tip and message entries; a log id for activity entries).
	RecordID       string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      string
	CreatedAt      time.Time
}

type Repository interface {
	Enqueue(ctx context.Context, e Entry) (int64, error)
	// List returns entries of the given kinds ordered by Seq. No kinds means all.
	List(ctx context.Context, kinds ...string) ([]Entry, error)
	Count(ctx context.Context, kinds ...string) (int, error)
	Delete(ctx context.Context, seq int64) error
	// MarkFailed bumps Attempts, records the error and returns the new count.
	MarkFailed(ctx context.Context, seq int64, reason string) (int, error)
	// Retarget points every entry of oldID at newID; used once the server
	// has issued an authoritative id for a provisional record.
	Retarget(ctx context.Context, oldID, newID string) error
	// Clear removes entries of the given kinds. No kinds means all.
	Clear(ctx context.Context, kinds ...string) error
}
