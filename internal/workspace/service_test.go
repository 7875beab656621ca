package workspace

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/bus"
	"github.com/hypley/hypley/internal/domain/message"
	"github.com/hypley/hypley/internal/domain/project"
	"github.com/hypley/hypley/internal/provider"
	provmocks "github.com/hypley/hypley/internal/provider/mocks"
	"github.com/hypley/hypley/internal/repository"
	repomocks "github.com/hypley/hypley/internal/repository/mocks"
)

func emptyRepo() *repomocks.SnapshotRepository {
	repo := &repomocks.SnapshotRepository{}
	repo.On("LoadContext", mock.Anything).Return(project.Context{}, repository.ErrNotFound)
	repo.On("LoadVoice", mock.Anything).Return(agent.Voice(""), repository.ErrNotFound)
	repo.On("LoadMessages", mock.Anything, mock.Anything).Return(nil, repository.ErrNotFound)
	repo.On("SaveContext", mock.Anything, mock.Anything).Return(nil)
	repo.On("SaveVoice", mock.Anything, mock.Anything).Return(nil)
	repo.On("SaveMessages", mock.Anything, mock.Anything).Return(nil)
	return repo
}

func newTestService(t *testing.T, b bus.Bus, prov provider.Provider) *Service {
	t.Helper()
	svc, err := New(context.Background(), Config{
		Repo:               emptyRepo(),
		Bus:                b,
		Provider:           prov,
		ExtractProjectName: true,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func lastMessage(t *testing.T, svc *Service) message.Message {
	t.Helper()
	msgs := svc.Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func TestNew_SeedsDefaults(t *testing.T) {
	svc := newTestService(t, bus.NewMemoryBus(), &provmocks.Provider{})

	msgs := svc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, agent.SeedID, msgs[0].ID)
	assert.Equal(t, agent.Default, svc.ActivePersona())
	assert.Equal(t, agent.DefaultVoice, svc.Voice())
	assert.Equal(t, "Projeto HYPLEY", svc.Context().Name)
}

func TestNew_CorruptStorageFallsBackToDefaults(t *testing.T) {
	repo := &repomocks.SnapshotRepository{}
	repo.On("LoadContext", mock.Anything).Return(project.Context{}, repository.ErrCorrupt)
	repo.On("LoadVoice", mock.Anything).Return(agent.Voice(""), repository.ErrCorrupt)
	repo.On("LoadMessages", mock.Anything, mock.Anything).Return(nil, repository.ErrCorrupt)
	repo.On("SaveMessages", mock.Anything, mock.Anything).Return(nil)

	svc, err := New(context.Background(), Config{
		Repo:     repo,
		Bus:      bus.NewMemoryBus(),
		Provider: &provmocks.Provider{},
	})
	require.NoError(t, err)
	defer svc.Close()

	require.Len(t, svc.Messages(), 1)
	assert.Equal(t, agent.SeedID, svc.Messages()[0].ID)
	assert.Equal(t, project.DefaultContext(), svc.Context())
	assert.Equal(t, agent.DefaultVoice, svc.Voice())
}

func TestNew_RestoresPersistedState(t *testing.T) {
	repo := &repomocks.SnapshotRepository{}
	saved := []message.Message{
		{ID: "1", Sender: message.SenderAgent, AgentType: agent.TypeIdeias, Content: "oi", Timestamp: time.Now(), Type: message.TypeText},
		{ID: "2", Sender: message.SenderUser, Content: "tudo bem", Timestamp: time.Now(), Type: message.TypeText},
	}
	repo.On("LoadContext", mock.Anything).Return(project.Context{Name: "Loja Azul"}, nil)
	repo.On("LoadVoice", mock.Anything).Return(agent.VoiceMineira, nil)
	repo.On("LoadMessages", mock.Anything, mock.Anything).Return(saved, nil)

	svc, err := New(context.Background(), Config{
		Repo:     repo,
		Bus:      bus.NewMemoryBus(),
		Provider: &provmocks.Provider{},
	})
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, "Loja Azul", svc.Context().Name)
	assert.Equal(t, agent.VoiceMineira, svc.Voice())
	assert.Len(t, svc.Messages(), 2)
}

func TestUpsert_BroadcastsToSiblingTabWithoutEcho(t *testing.T) {
	b := bus.NewMemoryBus()
	tabA := newTestService(t, b, &provmocks.Provider{})
	tabB := newTestService(t, b, &provmocks.Provider{})

	content := "minha ideia nova"
	_, err := tabA.Send(context.Background(), message.Partial{Content: &content}, false)
	require.NoError(t, err)

	// the sibling saw it, and neither tab duplicated it on delivery
	require.Len(t, tabA.Messages(), 2)
	require.Len(t, tabB.Messages(), 2)
	assert.Equal(t, content, lastMessage(t, tabB).Content)
	assert.Equal(t, message.SenderUser, lastMessage(t, tabB).Sender)
}

func TestUpsert_SkipSyncStaysLocal(t *testing.T) {
	b := bus.NewMemoryBus()
	tabA := newTestService(t, b, &provmocks.Provider{})
	tabB := newTestService(t, b, &provmocks.Provider{})

	content := "só aqui"
	_, err := tabA.Send(context.Background(), message.Partial{Content: &content}, true)
	require.NoError(t, err)

	assert.Len(t, tabA.Messages(), 2)
	assert.Len(t, tabB.Messages(), 1)
}

func TestUpsert_ExtractsProjectNameAndBroadcasts(t *testing.T) {
	b := bus.NewMemoryBus()
	tabA := newTestService(t, b, &provmocks.Provider{})
	tabB := newTestService(t, b, &provmocks.Provider{})

	content := "vamos nessa. Projeto: Loja Azul"
	_, err := tabA.Send(context.Background(), message.Partial{Content: &content}, false)
	require.NoError(t, err)

	assert.Equal(t, "Loja Azul", tabA.Context().Name)
	assert.Equal(t, "Loja Azul", tabB.Context().Name)
}

func TestUpsert_NoExtractionFromAgentMessages(t *testing.T) {
	svc := newTestService(t, bus.NewMemoryBus(), &provmocks.Provider{})

	content := "que tal chamar de Projeto: Outro Nome?"
	_, err := svc.Upsert(context.Background(), message.Partial{
		Sender:    message.SenderAgent,
		AgentType: agent.Default,
		Content:   &content,
	}, true)
	require.NoError(t, err)

	assert.Equal(t, "Projeto HYPLEY", svc.Context().Name)
}

func TestContextUpdate_LastArrivalWins(t *testing.T) {
	b := bus.NewMemoryBus()
	tabA := newTestService(t, b, &provmocks.Provider{})
	tabB := newTestService(t, b, &provmocks.Provider{})

	foreign := uuid.NewString()
	publishCtx := func(pc project.Context) {
		env, err := bus.NewEnvelope(bus.EventContextUpdate, foreign, pc)
		require.NoError(t, err)
		require.NoError(t, b.Publish(context.Background(), bus.TopicSync, env))
	}

	publishCtx(project.Context{Name: "Primeiro", Description: "com descrição"})
	publishCtx(project.Context{Name: "Segundo"})

	// whole-snapshot overwrite: the later event wins in full
	for _, tab := range []*Service{tabA, tabB} {
		assert.Equal(t, "Segundo", tab.Context().Name)
		assert.Empty(t, tab.Context().Description)
	}
}

func TestVoiceUpdate_FromSiblingTab(t *testing.T) {
	b := bus.NewMemoryBus()
	tabA := newTestService(t, b, &provmocks.Provider{})
	tabB := newTestService(t, b, &provmocks.Provider{})

	require.NoError(t, tabA.SetVoice(context.Background(), agent.VoiceCarioca))

	assert.Equal(t, agent.VoiceCarioca, tabA.Voice())
	assert.Equal(t, agent.VoiceCarioca, tabB.Voice())
}

func TestSetVoice_RejectsUnknown(t *testing.T) {
	svc := newTestService(t, bus.NewMemoryBus(), &provmocks.Provider{})
	err := svc.SetVoice(context.Background(), agent.Voice("paulista"))
	assert.ErrorIs(t, err, ErrUnknownVoice)
	assert.Equal(t, agent.DefaultVoice, svc.Voice())
}

func TestSelectPersona_PostsWelcomeOnce(t *testing.T) {
	svc := newTestService(t, bus.NewMemoryBus(), &provmocks.Provider{})

	require.NoError(t, svc.SelectPersona(context.Background(), agent.TypeArquitetura))
	assert.Equal(t, agent.TypeArquitetura, svc.ActivePersona())

	msgs := svc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, agent.WelcomeContent(agent.TypeArquitetura, "Projeto HYPLEY"), msgs[0].Content)

	// switching away and back must not repost
	require.NoError(t, svc.SelectPersona(context.Background(), agent.TypeIdeias))
	require.NoError(t, svc.SelectPersona(context.Background(), agent.TypeArquitetura))
	assert.Len(t, svc.Messages(), 1)
}

func TestSelectPersona_RejectsUnknown(t *testing.T) {
	svc := newTestService(t, bus.NewMemoryBus(), &provmocks.Provider{})
	err := svc.SelectPersona(context.Background(), agent.Type("juridico"))
	assert.ErrorIs(t, err, ErrUnknownPersona)
	assert.Equal(t, agent.Default, svc.ActivePersona())
}

func TestProcessUserMessage_StreamsReplyProgressively(t *testing.T) {
	prov := &provmocks.Provider{}
	var gotHistory []provider.Turn
	prov.On("StreamReply", mock.Anything, agent.Default, "Como funciona?", mock.Anything,
		mock.Anything, agent.DefaultVoice, mock.Anything).
		Run(func(args mock.Arguments) {
			gotHistory = args.Get(3).([]provider.Turn)
		}).
		Return(&provmocks.ScriptedStream{Chunks: []string{"Olá", ", meu bem!"}}, nil)

	svc := newTestService(t, bus.NewMemoryBus(), prov)

	require.NoError(t, svc.ProcessUserMessage(context.Background(), "Como funciona?", nil))

	msgs := svc.Messages()
	require.Len(t, msgs, 3) // seed, user turn, streamed reply
	assert.Equal(t, "Como funciona?", msgs[1].Content)
	assert.Equal(t, message.SenderAgent, msgs[2].Sender)
	assert.Equal(t, "Olá, meu bem!", msgs[2].Content)
	assert.False(t, svc.Typing())

	// history captured the view before this turn
	require.Len(t, gotHistory, 1)
	assert.Equal(t, "model", gotHistory[0].Role)
}

func TestProcessUserMessage_StreamOpenFailureLeavesNoPhantom(t *testing.T) {
	prov := &provmocks.Provider{}
	prov.On("StreamReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).
		Return(nil, provider.ErrUnavailable)

	svc := newTestService(t, bus.NewMemoryBus(), prov)

	require.NoError(t, svc.ProcessUserMessage(context.Background(), "oi", nil))

	msgs := svc.Messages()
	require.Len(t, msgs, 2) // seed + user turn only
	assert.Equal(t, message.SenderUser, lastMessage(t, svc).Sender)
	assert.False(t, svc.Typing())
}

func TestProcessUserMessage_InterruptedStreamKeepsPartial(t *testing.T) {
	prov := &provmocks.Provider{}
	prov.On("StreamReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).
		Return(&provmocks.ScriptedStream{Chunks: []string{"Começando"}, Err: errors.New("conn reset")}, nil)

	svc := newTestService(t, bus.NewMemoryBus(), prov)

	require.NoError(t, svc.ProcessUserMessage(context.Background(), "oi", nil))

	assert.Equal(t, "Começando", lastMessage(t, svc).Content)
	assert.False(t, svc.Typing())
}

func TestProcessUserMessage_IgnoresBlankInput(t *testing.T) {
	prov := &provmocks.Provider{}
	svc := newTestService(t, bus.NewMemoryBus(), prov)

	require.NoError(t, svc.ProcessUserMessage(context.Background(), "   ", nil))

	assert.Len(t, svc.Messages(), 1)
	prov.AssertNotCalled(t, "StreamReply", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessUserMessage_ImageRequest(t *testing.T) {
	prov := &provmocks.Provider{}
	prov.On("GenerateImage", mock.Anything, "gere uma imagem do logo").
		Return("data:image/png;base64,AAAA", nil)

	svc := newTestService(t, bus.NewMemoryBus(), prov)

	require.NoError(t, svc.ProcessUserMessage(context.Background(), "gere uma imagem do logo", nil))

	last := lastMessage(t, svc)
	assert.Equal(t, message.TypeImage, last.Type)
	assert.Equal(t, "data:image/png;base64,AAAA", last.ImageURL)
	assert.Equal(t, "Aqui está, meu bem!", last.Content)
	assert.False(t, svc.Typing())
	prov.AssertNotCalled(t, "StreamReply", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessUserMessage_ImageFailureKeepsPlaceholder(t *testing.T) {
	prov := &provmocks.Provider{}
	prov.On("GenerateImage", mock.Anything, mock.Anything).Return("", errors.New("quota"))

	svc := newTestService(t, bus.NewMemoryBus(), prov)

	require.NoError(t, svc.ProcessUserMessage(context.Background(), "crie um mockup da tela", nil))

	last := lastMessage(t, svc)
	assert.Equal(t, message.TypeText, last.Type)
	assert.True(t, strings.Contains(last.Content, "Criando sua imagem"))
	assert.False(t, svc.Typing())
}

func TestProcessUserMessage_AttachmentSkipsImageDetection(t *testing.T) {
	prov := &provmocks.Provider{}
	prov.On("StreamReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).
		Return(&provmocks.ScriptedStream{Chunks: []string{"Analisei."}}, nil)

	svc := newTestService(t, bus.NewMemoryBus(), prov)

	att := []message.Attachment{{Data: "data:image/png;base64,BBBB", MimeType: "image/png", Name: "tela.png"}}
	require.NoError(t, svc.ProcessUserMessage(context.Background(), "gere uma imagem disso", att))

	msgs := svc.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, message.TypeImage, msgs[1].Type)
	assert.Equal(t, att[0].Data, msgs[1].ImageURL)
	prov.AssertNotCalled(t, "GenerateImage", mock.Anything, mock.Anything)
}

func TestTranscribeAndSend(t *testing.T) {
	prov := &provmocks.Provider{}
	prov.On("Transcribe", mock.Anything, []byte("pcm")).Return("Quanto custa?", nil)
	prov.On("StreamReply", mock.Anything, mock.Anything, "Quanto custa?", mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).
		Return(&provmocks.ScriptedStream{Chunks: []string{"Depende."}}, nil)

	svc := newTestService(t, bus.NewMemoryBus(), prov)

	require.NoError(t, svc.TranscribeAndSend(context.Background(), []byte("pcm")))

	msgs := svc.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Quanto custa?", msgs[1].Content)
}

func TestTranscribeAndSend_FailureLeavesStateUnchanged(t *testing.T) {
	prov := &provmocks.Provider{}
	prov.On("Transcribe", mock.Anything, mock.Anything).Return("", errors.New("no speech"))

	svc := newTestService(t, bus.NewMemoryBus(), prov)

	err := svc.TranscribeAndSend(context.Background(), []byte("pcm"))
	require.Error(t, err)
	assert.Len(t, svc.Messages(), 1)
}

func TestTranscribeAndSend_EmptyTranscriptIsDropped(t *testing.T) {
	prov := &provmocks.Provider{}
	prov.On("Transcribe", mock.Anything, mock.Anything).Return("  ", nil)

	svc := newTestService(t, bus.NewMemoryBus(), prov)

	require.NoError(t, svc.TranscribeAndSend(context.Background(), []byte("pcm")))
	assert.Len(t, svc.Messages(), 1)
}

func TestOnChange_NotifiesListeners(t *testing.T) {
	svc := newTestService(t, bus.NewMemoryBus(), &provmocks.Provider{})

	var events []EventKind
	svc.OnChange(func(e Event) { events = append(events, e.Kind) })

	content := "oi"
	_, err := svc.Send(context.Background(), message.Partial{Content: &content}, false)
	require.NoError(t, err)
	require.NoError(t, svc.SetVoice(context.Background(), agent.VoiceCarioca))

	assert.Contains(t, events, EventMessages)
	assert.Contains(t, events, EventVoice)
}

func TestStreamedReplyReachesSiblingTab(t *testing.T) {
	b := bus.NewMemoryBus()
	prov := &provmocks.Provider{}
	prov.On("StreamReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).
		Return(&provmocks.ScriptedStream{Chunks: []string{"Boa ", "ideia!"}}, nil)

	tabA := newTestService(t, b, prov)
	tabB := newTestService(t, b, &provmocks.Provider{})

	require.NoError(t, tabA.ProcessUserMessage(context.Background(), "oi", nil))

	// every upsert was rebroadcast; the sibling converged on the final text
	require.Len(t, tabB.Messages(), 3)
	assert.Equal(t, "Boa ideia!", lastMessage(t, tabB).Content)
}
