package provider

import (
	"context"
	"errors"

	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/domain/message"
	"github.com/hypley/hypley/internal/domain/project"
)

// ErrUnavailable indicates the provider endpoint rejected or dropped the
// request. The core converts it into a local state reset; there are no
// automatic retries.
var ErrUnavailable = errors.New("provider unavailable")

// Turn is one prior exchange handed to the model as history.
type Turn struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

// ReplyStream yields the text fragments of one generated answer. Next
// returns io.EOF after the final fragment. The sequence is finite and not
// restartable; consumers cancel by simply not calling Next again, and must
// tolerate never seeing a terminal fragment.
type ReplyStream interface {
	Next(ctx context.Context) (string, error)
}

// LiveCallbacks receive the asynchronous events of a live audio session.
// All callbacks may fire from the provider's reader goroutine.
type LiveCallbacks struct {
	OnAudioChunk       func(pcm []byte)
	OnInterrupted      func()
	OnInputTranscript  func(delta string)
	OnOutputTranscript func(delta string)
	OnTurnComplete     func()
	OnError            func(err error)
}

// LiveSession is an open bidirectional audio exchange.
type LiveSession interface {
	SendAudioFrame(pcm []byte) error
	Close() error
}

// Provider is the opaque generative capability consumed by the core.
type Provider interface {
	StreamReply(ctx context.Context, persona agent.Type, prompt string, history []Turn,
		pc project.Context, voice agent.Voice, attachments []message.Attachment) (ReplyStream, error)

	OpenLiveSession(ctx context.Context, persona agent.Type, pc project.Context,
		voice agent.Voice, callbacks LiveCallbacks) (LiveSession, error)

	Transcribe(ctx context.Context, audio []byte) (string, error)

	// GenerateImage returns a data URL, or "" when the provider produced
	// nothing for the prompt.
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
