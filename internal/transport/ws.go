package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/domain/message"
	"github.com/hypley/hypley/internal/domain/project"
	"github.com/hypley/hypley/internal/live"
	"github.com/hypley/hypley/internal/workspace"
)

// WorkspaceFactory opens a fresh tab service for one websocket connection.
type WorkspaceFactory func(ctx context.Context) (*workspace.Service, error)

// command is a client-to-server frame.
type command struct {
	Type        string               `json:"type"`
	Text        string               `json:"text,omitempty"`
	Attachments []message.Attachment `json:"attachments,omitempty"`
	Agent       agent.Type           `json:"agent,omitempty"`
	Voice       agent.Voice          `json:"voice,omitempty"`
	Context     *project.Context     `json:"context,omitempty"`
	Audio       string               `json:"audio,omitempty"` // base64 PCM
}

// event is a server-to-client frame.
type event struct {
	Type     string            `json:"type"`
	TabID    string            `json:"tabId,omitempty"`
	Messages []message.Message `json:"messages,omitempty"`
	Agent    agent.Type        `json:"agent,omitempty"`
	Typing   *bool             `json:"typing,omitempty"`
	Context  *project.Context  `json:"context,omitempty"`
	Voice    agent.Voice       `json:"voice,omitempty"`
	Live     *live.State       `json:"live,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// WSHandler upgrades each connection into its own tab: a private workspace
// service whose state changes are pushed as JSON events, with commands read
// off the same socket.
type WSHandler struct {
	newWorkspace   WorkspaceFactory
	allowedOrigins map[string]bool
	logger         *slog.Logger
}

func NewWSHandler(factory WorkspaceFactory, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{newWorkspace: factory, allowedOrigins: origins, logger: logger}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return h.allowedOrigins[origin]
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	svc, err := h.newWorkspace(ctx)
	if err != nil {
		h.logger.Error("opening workspace failed", "error", err)
		return
	}
	defer svc.Close()

	tab := &tabConn{conn: conn, svc: svc, logger: h.logger}

	pc := svc.Context()
	tab.send(event{
		Type:     "connected",
		TabID:    svc.TabID(),
		Messages: svc.Messages(),
		Agent:    svc.ActivePersona(),
		Context:  &pc,
		Voice:    svc.Voice(),
	})

	svc.OnChange(tab.push)

	tab.readLoop(ctx)
}

// tabConn is one connection's write side. gorilla connections allow a
// single concurrent writer, so every WriteJSON goes through writeMu.
type tabConn struct {
	conn    *websocket.Conn
	svc     *workspace.Service
	logger  *slog.Logger
	writeMu sync.Mutex
}

func (t *tabConn) send(ev event) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteJSON(ev); err != nil {
		t.logger.Debug("websocket write failed", "error", err)
	}
}

// push maps a workspace change notification to the event frame carrying the
// current snapshot of the changed slice of state.
func (t *tabConn) push(e workspace.Event) {
	switch e.Kind {
	case workspace.EventMessages:
		t.send(event{Type: "messages", Messages: t.svc.Messages(), Agent: t.svc.ActivePersona()})
	case workspace.EventTyping:
		typing := t.svc.Typing()
		t.send(event{Type: "typing", Typing: &typing})
	case workspace.EventContext:
		pc := t.svc.Context()
		t.send(event{Type: "context", Context: &pc})
	case workspace.EventVoice:
		t.send(event{Type: "voice", Voice: t.svc.Voice()})
	case workspace.EventLive:
		st := t.svc.LiveMirror()
		t.send(event{Type: "live_state", Live: &st})
	}
}

func (t *tabConn) readLoop(ctx context.Context) {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			t.send(event{Type: "error", Error: "invalid frame: expected a JSON command"})
			continue
		}

		t.dispatch(ctx, cmd)
	}
}

func (t *tabConn) dispatch(ctx context.Context, cmd command) {
	switch cmd.Type {
	case "send":
		// streaming blocks until the reply is done; keep the read loop free
		go func() {
			if err := t.svc.ProcessUserMessage(ctx, cmd.Text, cmd.Attachments); err != nil {
				t.logger.Warn("processing message failed", "error", err)
			}
		}()

	case "select_agent":
		if err := t.svc.SelectPersona(ctx, cmd.Agent); err != nil {
			t.send(event{Type: "error", Error: err.Error()})
		}

	case "set_voice":
		if err := t.svc.SetVoice(ctx, cmd.Voice); err != nil {
			t.send(event{Type: "error", Error: err.Error()})
		}

	case "set_context":
		if cmd.Context == nil {
			t.send(event{Type: "error", Error: "set_context requires a context payload"})
			return
		}
		t.svc.SetContext(ctx, *cmd.Context)

	case "transcribe":
		audio, err := base64.StdEncoding.DecodeString(cmd.Audio)
		if err != nil {
			t.send(event{Type: "error", Error: "transcribe requires base64 audio"})
			return
		}
		go func() {
			if err := t.svc.TranscribeAndSend(ctx, audio); err != nil {
				t.send(event{Type: "error", Error: "transcription failed"})
			}
		}()

	case "start_live":
		if err := t.svc.StartLive(ctx); err != nil {
			t.send(event{Type: "error", Error: err.Error()})
		}

	case "stop_live":
		if err := t.svc.StopLive(); err != nil {
			t.send(event{Type: "error", Error: err.Error()})
		}

	case "audio_frame":
		pcm, err := base64.StdEncoding.DecodeString(cmd.Audio)
		if err != nil {
			t.send(event{Type: "error", Error: "audio_frame requires base64 audio"})
			return
		}
		if err := t.svc.SendAudioFrame(pcm); err != nil {
			t.send(event{Type: "error", Error: err.Error()})
		}

	default:
		t.send(event{Type: "error", Error: "unknown command: " + cmd.Type})
	}
}

// Routes mounts the websocket endpoint and a liveness probe.
func Routes(h *WSHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
