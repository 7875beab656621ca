package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/bus"
	"github.com/hypley/hypley/internal/domain/project"
	provmocks "github.com/hypley/hypley/internal/provider/mocks"
	"github.com/hypley/hypley/internal/repository"
	repomocks "github.com/hypley/hypley/internal/repository/mocks"
	"github.com/hypley/hypley/internal/workspace"
)

func testFactory(prov *provmocks.Provider) WorkspaceFactory {
	return func(ctx context.Context) (*workspace.Service, error) {
		repo := &repomocks.SnapshotRepository{}
		repo.On("LoadContext", mock.Anything).Return(project.Context{}, repository.ErrNotFound)
		repo.On("LoadVoice", mock.Anything).Return(agent.Voice(""), repository.ErrNotFound)
		repo.On("LoadMessages", mock.Anything, mock.Anything).Return(nil, repository.ErrNotFound)
		repo.On("SaveContext", mock.Anything, mock.Anything).Return(nil)
		repo.On("SaveVoice", mock.Anything, mock.Anything).Return(nil)
		repo.On("SaveMessages", mock.Anything, mock.Anything).Return(nil)
		return workspace.New(ctx, workspace.Config{
			Repo:     repo,
			Bus:      bus.NewMemoryBus(),
			Provider: prov,
		})
	}
}

func dialTab(t *testing.T, prov *provmocks.Provider) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(Routes(NewWSHandler(testFactory(prov), nil, nil)))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// readUntil drains events until the predicate matches.
func readUntil(t *testing.T, conn *websocket.Conn, match func(event) bool) event {
	t.Helper()
	for i := 0; i < 50; i++ {
		ev := readEvent(t, conn)
		if match(ev) {
			return ev
		}
	}
	t.Fatal("expected event never arrived")
	return event{}
}

func TestWS_ConnectedSnapshot(t *testing.T) {
	conn := dialTab(t, &provmocks.Provider{})

	ev := readEvent(t, conn)
	require.Equal(t, "connected", ev.Type)
	assert.NotEmpty(t, ev.TabID)
	assert.Equal(t, agent.Default, ev.Agent)
	assert.Equal(t, agent.DefaultVoice, ev.Voice)
	require.NotNil(t, ev.Context)
	assert.Equal(t, "Projeto HYPLEY", ev.Context.Name)
	require.Len(t, ev.Messages, 1)
	assert.Equal(t, agent.SeedID, ev.Messages[0].ID)
}

func TestWS_SelectAgentPushesWelcome(t *testing.T) {
	conn := dialTab(t, &provmocks.Provider{})
	readEvent(t, conn) // connected

	require.NoError(t, conn.WriteJSON(command{Type: "select_agent", Agent: agent.TypeMarketing}))

	ev := readUntil(t, conn, func(ev event) bool {
		return ev.Type == "messages" && ev.Agent == agent.TypeMarketing
	})
	require.NotEmpty(t, ev.Messages)
	assert.Equal(t, agent.TypeMarketing, ev.Messages[0].AgentType)
}

func TestWS_SendStreamsReply(t *testing.T) {
	prov := &provmocks.Provider{}
	prov.On("StreamReply", mock.Anything, mock.Anything, "oi", mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).
		Return(&provmocks.ScriptedStream{Chunks: []string{"Olá, ", "meu bem!"}}, nil)

	conn := dialTab(t, prov)
	readEvent(t, conn) // connected

	require.NoError(t, conn.WriteJSON(command{Type: "send", Text: "oi"}))

	ev := readUntil(t, conn, func(ev event) bool {
		return ev.Type == "messages" && len(ev.Messages) == 3 &&
			ev.Messages[2].Content == "Olá, meu bem!"
	})
	assert.Equal(t, "oi", ev.Messages[1].Content)
}

func TestWS_SetVoiceRoundTrip(t *testing.T) {
	conn := dialTab(t, &provmocks.Provider{})
	readEvent(t, conn) // connected

	require.NoError(t, conn.WriteJSON(command{Type: "set_voice", Voice: agent.VoicePernambucana}))
	ev := readUntil(t, conn, func(ev event) bool { return ev.Type == "voice" })
	assert.Equal(t, agent.VoicePernambucana, ev.Voice)

	require.NoError(t, conn.WriteJSON(command{Type: "set_voice", Voice: agent.Voice("gaucha")}))
	ev = readUntil(t, conn, func(ev event) bool { return ev.Type == "error" })
	assert.Contains(t, ev.Error, "unknown voice")
}

func TestWS_SetContext(t *testing.T) {
	conn := dialTab(t, &provmocks.Provider{})
	readEvent(t, conn) // connected

	pc := project.Context{Name: "Loja Azul", Stack: "Go + React"}
	require.NoError(t, conn.WriteJSON(command{Type: "set_context", Context: &pc}))

	ev := readUntil(t, conn, func(ev event) bool { return ev.Type == "context" })
	require.NotNil(t, ev.Context)
	assert.Equal(t, "Loja Azul", ev.Context.Name)
	assert.Equal(t, "Go + React", ev.Context.Stack)
}

func TestWS_InvalidFrame(t *testing.T) {
	conn := dialTab(t, &provmocks.Provider{})
	readEvent(t, conn) // connected

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := readUntil(t, conn, func(ev event) bool { return ev.Type == "error" })
	assert.Contains(t, ev.Error, "invalid frame")

	require.NoError(t, conn.WriteJSON(command{Type: "dance"}))
	ev = readUntil(t, conn, func(ev event) bool { return ev.Type == "error" })
	assert.Contains(t, ev.Error, "unknown command")
}

func TestWS_OriginAllowList(t *testing.T) {
	srv := httptest.NewServer(Routes(NewWSHandler(testFactory(&provmocks.Provider{}),
		[]string{"https://app.hypley.com"}, nil)))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": {"https://app.hypley.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(Routes(NewWSHandler(testFactory(&provmocks.Provider{}), nil, nil)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
