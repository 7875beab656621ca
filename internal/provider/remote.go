package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/domain/message"
	"github.com/hypley/hypley/internal/domain/project"
)

// Remote talks to an AI gateway service: JSON over HTTP for one-shot and
// streamed requests, JSON frames over a websocket for live sessions.
type Remote struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
}

// NewRemote creates a provider against the given base URL.
func NewRemote(baseURL string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		dialer:  websocket.DefaultDialer,
	}
}

type replyRequest struct {
	Persona           agent.Type           `json:"persona"`
	SystemInstruction string               `json:"systemInstruction"`
	Prompt            string               `json:"prompt"`
	History           []Turn               `json:"history"`
	Context           project.Context      `json:"context"`
	Voice             agent.Voice          `json:"voice"`
	Attachments       []message.Attachment `json:"attachments,omitempty"`
}

// StreamReply POSTs the prompt and consumes newline-delimited JSON chunks
// from the response body.
func (r *Remote) StreamReply(ctx context.Context, persona agent.Type, prompt string, history []Turn,
	pc project.Context, voice agent.Voice, attachments []message.Attachment) (ReplyStream, error) {

	req := replyRequest{
		Persona:           persona,
		SystemInstruction: agent.Lookup(persona).SystemInstruction,
		Prompt:            prompt,
		History:           history,
		Context:           pc,
		Voice:             voice,
		Attachments:       attachments,
	}

	resp, err := r.post(ctx, "/v1/reply", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: reply returned %d", ErrUnavailable, resp.StatusCode)
	}

	return &httpReplyStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

type httpReplyStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *httpReplyStream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		s.body.Close()
		return "", err
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.body.Close()
			return "", fmt.Errorf("decoding reply chunk: %w", err)
		}
		return chunk.Text, nil
	}
	s.body.Close()
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Transcribe converts recorded audio to text.
func (r *Remote) Transcribe(ctx context.Context, audio []byte) (string, error) {
	req := map[string]string{"audio": base64.StdEncoding.EncodeToString(audio)}

	var out struct {
		Text string `json:"text"`
	}
	if err := r.postJSON(ctx, "/v1/transcribe", req, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// GenerateImage asks for an image; an empty imageUrl means the provider
// declined the prompt.
func (r *Remote) GenerateImage(ctx context.Context, prompt string) (string, error) {
	req := map[string]string{"prompt": prompt}

	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := r.postJSON(ctx, "/v1/image", req, &out); err != nil {
		return "", err
	}
	return out.ImageURL, nil
}

func (r *Remote) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func (r *Remote) postJSON(ctx context.Context, path string, body, out any) error {
	resp, err := r.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// Live-session wire frames, both directions.
type liveFrame struct {
	Type    string          `json:"type"`
	Data    string          `json:"data,omitempty"` // base64 PCM for audio frames
	Text    string          `json:"text,omitempty"`
	Message string          `json:"message,omitempty"`
	Setup   json.RawMessage `json:"setup,omitempty"`
}

type liveSetup struct {
	Persona           agent.Type      `json:"persona"`
	SystemInstruction string          `json:"systemInstruction"`
	Context           project.Context `json:"context"`
	Voice             agent.Voice     `json:"voice"`
}

// OpenLiveSession dials the live websocket, sends the setup frame and starts
// a reader goroutine that dispatches provider events to the callbacks.
func (r *Remote) OpenLiveSession(ctx context.Context, persona agent.Type, pc project.Context,
	voice agent.Voice, callbacks LiveCallbacks) (LiveSession, error) {

	wsURL, err := toWebsocketURL(r.baseURL + "/v1/live")
	if err != nil {
		return nil, err
	}

	conn, resp, err := r.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing live session: %v", ErrUnavailable, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	setup, err := json.Marshal(liveSetup{
		Persona:           persona,
		SystemInstruction: agent.Lookup(persona).SystemInstruction,
		Context:           pc,
		Voice:             voice,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshaling live setup: %w", err)
	}
	if err := conn.WriteJSON(liveFrame{Type: "setup", Setup: setup}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: sending live setup: %v", ErrUnavailable, err)
	}

	sess := &remoteLiveSession{conn: conn, done: make(chan struct{})}
	go sess.readLoop(callbacks)
	return sess, nil
}

type remoteLiveSession struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (s *remoteLiveSession) readLoop(cb LiveCallbacks) {
	for {
		var frame liveFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
				// closed locally, not a provider failure
			default:
				if cb.OnError != nil {
					cb.OnError(err)
				}
			}
			return
		}

		switch frame.Type {
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(frame.Data)
			if err != nil {
				continue
			}
			if cb.OnAudioChunk != nil {
				cb.OnAudioChunk(pcm)
			}
		case "interrupted":
			if cb.OnInterrupted != nil {
				cb.OnInterrupted()
			}
		case "input_transcript":
			if cb.OnInputTranscript != nil {
				cb.OnInputTranscript(frame.Text)
			}
		case "output_transcript":
			if cb.OnOutputTranscript != nil {
				cb.OnOutputTranscript(frame.Text)
			}
		case "turn_complete":
			if cb.OnTurnComplete != nil {
				cb.OnTurnComplete()
			}
		case "error":
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("%w: %s", ErrUnavailable, frame.Message))
			}
			return
		}
	}
}

func (s *remoteLiveSession) SendAudioFrame(pcm []byte) error {
	return s.conn.WriteJSON(liveFrame{
		Type: "audio",
		Data: base64.StdEncoding.EncodeToString(pcm),
	})
}

func (s *remoteLiveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func toWebsocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", fmt.Errorf("parsing provider url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
