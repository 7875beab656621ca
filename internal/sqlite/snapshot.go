package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/domain/message"
	"github.com/hypley/hypley/internal/domain/project"
	"github.com/hypley/hypley/internal/repository"
)

// Persisted keys, one per record.
const (
	keyContext  = "hypley_context"
	keyVoice    = "hypley_voice"
	keyMessages = "hypley_messages"
)

// SnapshotRepository implements repository.SnapshotRepository for SQLite
type SnapshotRepository struct {
	db        *DB
	retention time.Duration
}

// NewSnapshotRepository creates a new SnapshotRepository with the given
// message retention window.
func NewSnapshotRepository(db *DB, retention time.Duration) *SnapshotRepository {
	if retention <= 0 {
		retention = message.RetentionWindow
	}
	return &SnapshotRepository{db: db, retention: retention}
}

func (r *SnapshotRepository) load(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM snapshots WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	return value, nil
}

func (r *SnapshotRepository) save(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}

// LoadContext returns the persisted project context.
func (r *SnapshotRepository) LoadContext(ctx context.Context) (project.Context, error) {
	value, err := r.load(ctx, keyContext)
	if err != nil {
		return project.Context{}, err
	}

	var pc project.Context
	if err := json.Unmarshal([]byte(value), &pc); err != nil {
		return project.Context{}, fmt.Errorf("%w: context: %v", repository.ErrCorrupt, err)
	}
	return pc, nil
}

// SaveContext overwrites the persisted project context.
func (r *SnapshotRepository) SaveContext(ctx context.Context, pc project.Context) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	return r.save(ctx, keyContext, string(data))
}

// LoadVoice returns the persisted voice preference.
func (r *SnapshotRepository) LoadVoice(ctx context.Context) (agent.Voice, error) {
	value, err := r.load(ctx, keyVoice)
	if err != nil {
		return "", err
	}

	voice := agent.Voice(value)
	if !agent.ValidVoice(voice) {
		return "", fmt.Errorf("%w: unknown voice %q", repository.ErrCorrupt, value)
	}
	return voice, nil
}

// SaveVoice overwrites the persisted voice preference.
func (r *SnapshotRepository) SaveVoice(ctx context.Context, v agent.Voice) error {
	return r.save(ctx, keyVoice, string(v))
}

// LoadMessages returns the persisted log after expiration filtering.
// Timestamps come back as time values via the JSON boundary, so the age
// comparison is always time against time, never raw stored text.
func (r *SnapshotRepository) LoadMessages(ctx context.Context, now time.Time) ([]message.Message, error) {
	value, err := r.load(ctx, keyMessages)
	if err != nil {
		return nil, err
	}

	var msgs []message.Message
	if err := json.Unmarshal([]byte(value), &msgs); err != nil {
		return nil, fmt.Errorf("%w: messages: %v", repository.ErrCorrupt, err)
	}

	return message.FilterExpired(msgs, now, r.retention), nil
}

// SaveMessages overwrites the persisted log with the full current snapshot.
// Storage grows unbounded between loads; expiration prunes it on the next
// startup.
func (r *SnapshotRepository) SaveMessages(ctx context.Context, msgs []message.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	return r.save(ctx, keyMessages, string(data))
}
