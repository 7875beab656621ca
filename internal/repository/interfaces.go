package repository

import (
	"context"
	"time"

	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/domain/message"
	"github.com/hypley/hypley/internal/domain/project"
)

// SnapshotRepository persists the three independent per-origin records. Every
// save is a whole-value overwrite, never an append or merge: the bus is the
// primary synchronization path and storage is a cold-start cache, so
// concurrent writers losing to the last write is accepted.
type SnapshotRepository interface {
	LoadContext(ctx context.Context) (project.Context, error)
	SaveContext(ctx context.Context, pc project.Context) error

	LoadVoice(ctx context.Context) (agent.Voice, error)
	SaveVoice(ctx context.Context, v agent.Voice) error

	// LoadMessages rehydrates timestamps, drops entries older than the
	// retention window relative to now, and reseeds an empty result with
	// the default welcome message.
	LoadMessages(ctx context.Context, now time.Time) ([]message.Message, error)
	SaveMessages(ctx context.Context, msgs []message.Message) error
}
