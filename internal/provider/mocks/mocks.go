package mocks

import (
	"context"
	"io"

	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/domain/message"
	"github.com/hypley/hypley/internal/domain/project"
	"github.com/hypley/hypley/internal/provider"
	"github.com/stretchr/testify/mock"
)

// Provider is a mock for provider.Provider.
type Provider struct {
	mock.Mock
}

func (m *Provider) StreamReply(ctx context.Context, persona agent.Type, prompt string, history []provider.Turn,
	pc project.Context, voice agent.Voice, attachments []message.Attachment) (provider.ReplyStream, error) {
	args := m.Called(ctx, persona, prompt, history, pc, voice, attachments)
	if stream, ok := args.Get(0).(provider.ReplyStream); ok {
		return stream, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Provider) OpenLiveSession(ctx context.Context, persona agent.Type, pc project.Context,
	voice agent.Voice, callbacks provider.LiveCallbacks) (provider.LiveSession, error) {
	args := m.Called(ctx, persona, pc, voice, callbacks)
	if sess, ok := args.Get(0).(provider.LiveSession); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Provider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	args := m.Called(ctx, audio)
	return args.String(0), args.Error(1)
}

func (m *Provider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// LiveSession is a mock for provider.LiveSession.
type LiveSession struct {
	mock.Mock
}

func (m *LiveSession) SendAudioFrame(pcm []byte) error {
	args := m.Called(pcm)
	return args.Error(0)
}

func (m *LiveSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ScriptedStream replays fixed chunks as a provider.ReplyStream.
type ScriptedStream struct {
	Chunks []string
	Err    error // returned after the chunks instead of io.EOF when set
	pos    int
}

func (s *ScriptedStream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos < len(s.Chunks) {
		chunk := s.Chunks[s.pos]
		s.pos++
		return chunk, nil
	}
	if s.Err != nil {
		return "", s.Err
	}
	return "", io.EOF
}
