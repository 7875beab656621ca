package mocks

import (
	"context"
	"time"

	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/domain/message"
	"github.com/hypley/hypley/internal/domain/project"
	"github.com/stretchr/testify/mock"
)

// SnapshotRepository is a mock for repository.SnapshotRepository.
type SnapshotRepository struct {
	mock.Mock
}

func (m *SnapshotRepository) LoadContext(ctx context.Context) (project.Context, error) {
	args := m.Called(ctx)
	if pc, ok := args.Get(0).(project.Context); ok {
		return pc, args.Error(1)
	}
	return project.Context{}, args.Error(1)
}

func (m *SnapshotRepository) SaveContext(ctx context.Context, pc project.Context) error {
	args := m.Called(ctx, pc)
	return args.Error(0)
}

func (m *SnapshotRepository) LoadVoice(ctx context.Context) (agent.Voice, error) {
	args := m.Called(ctx)
	if v, ok := args.Get(0).(agent.Voice); ok {
		return v, args.Error(1)
	}
	return "", args.Error(1)
}

func (m *SnapshotRepository) SaveVoice(ctx context.Context, v agent.Voice) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *SnapshotRepository) LoadMessages(ctx context.Context, now time.Time) ([]message.Message, error) {
	args := m.Called(ctx, now)
	if msgs, ok := args.Get(0).([]message.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SnapshotRepository) SaveMessages(ctx context.Context, msgs []message.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}
