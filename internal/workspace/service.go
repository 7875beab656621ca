package workspace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/bus"
	"github.com/hypley/hypley/internal/domain/message"
	"github.com/hypley/hypley/internal/domain/project"
	"github.com/hypley/hypley/internal/live"
	"github.com/hypley/hypley/internal/provider"
	"github.com/hypley/hypley/internal/repository"
)

// EventKind tags a state-change notification to the UI layer.
type EventKind string

const (
	EventMessages EventKind = "messages"
	EventTyping   EventKind = "typing"
	EventContext  EventKind = "context"
	EventVoice    EventKind = "voice"
	EventLive     EventKind = "live"
)

// Event is pushed to registered listeners after a state change.
type Event struct {
	Kind EventKind
}

// Config wires a new tab service.
type Config struct {
	Repo               repository.SnapshotRepository
	Bus                bus.Bus
	Provider           provider.Provider
	Sink               live.AudioSink
	Logger             *slog.Logger
	ExtractProjectName bool
	VoiceSettle        time.Duration
}

// Service is one tab's event hub: it owns the message store, the shared
// context and voice preference, the active persona, and the live session
// coordinator, and keeps all of it synchronized with sibling tabs over the
// broadcast bus. Handlers are serialized per tab; only the bus crosses tabs.
type Service struct {
	mu        sync.Mutex
	pc        project.Context
	voice     agent.Voice
	active    agent.Type
	typing    bool
	listeners []func(Event)

	tabID       string
	store       *message.Store
	repo        repository.SnapshotRepository
	syncBus     bus.Bus
	prov        provider.Provider
	coord       *live.Coordinator
	mirror      *live.Mirror
	extractName bool
	logger      *slog.Logger
	unsubs      []func()
}

// New loads persisted state, seeds defaults where storage is absent or
// corrupt, and subscribes to both bus topics. Storage failures degrade to
// defaults; they never fail startup.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Sink == nil {
		cfg.Sink = live.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Service{
		tabID:       uuid.NewString(),
		pc:          project.DefaultContext(),
		voice:       agent.DefaultVoice,
		active:      agent.Default,
		repo:        cfg.Repo,
		syncBus:     cfg.Bus,
		prov:        cfg.Provider,
		mirror:      live.NewMirror(),
		extractName: cfg.ExtractProjectName,
		logger:      cfg.Logger,
	}

	if pc, err := cfg.Repo.LoadContext(ctx); err == nil {
		s.pc = pc
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("falling back to default context", "error", err)
	}

	if v, err := cfg.Repo.LoadVoice(ctx); err == nil {
		s.voice = v
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("falling back to default voice", "error", err)
	}

	now := time.Now()
	msgs, err := cfg.Repo.LoadMessages(ctx, now)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("falling back to seed message log", "error", err)
		}
		msgs = []message.Message{message.Seed(now)}
	}
	s.store = message.NewStore(msgs)

	s.coord = live.NewCoordinator(s.tabID, cfg.Provider, cfg.Bus, cfg.Sink, s.flushLiveTurn, cfg.Logger)
	if cfg.VoiceSettle > 0 {
		s.coord.SetSettleDelay(cfg.VoiceSettle)
	}

	unsub, err := cfg.Bus.Subscribe(ctx, bus.TopicSync, s.handleSyncEvent)
	if err != nil {
		s.logger.Warn("sync bus unavailable, running single-tab", "error", err)
	} else {
		s.unsubs = append(s.unsubs, unsub)
	}
	unsub, err = cfg.Bus.Subscribe(ctx, bus.TopicLive, s.handleLiveEvent)
	if err != nil {
		s.logger.Warn("live bus unavailable, running single-tab", "error", err)
	} else {
		s.unsubs = append(s.unsubs, unsub)
	}

	return s, nil
}

// Close unsubscribes from the bus and stops any live session.
func (s *Service) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	if s.coord.Phase() != live.PhaseIdle {
		s.coord.Stop()
	}
}

// TabID returns this tab's identity on the bus.
func (s *Service) TabID() string { return s.tabID }

// OnChange registers a listener for state-change events. Listeners run
// after the change is applied and must not block.
func (s *Service) OnChange(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) notify(kind EventKind) {
	s.mu.Lock()
	listeners := make([]func(Event), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(Event{Kind: kind})
	}
}

// Upsert reconciles a partial message into the store, mirrors the store to
// durable storage and, when locally originated, republishes the resolved
// message to sibling tabs. Remote events take the identical path with
// publishing suppressed, which is what breaks the echo cycle.
func (s *Service) Upsert(ctx context.Context, partial message.Partial, originatedLocally bool) (message.Message, error) {
	full := s.store.Upsert(partial)
	s.persistMessages(ctx)

	if originatedLocally {
		s.publish(ctx, bus.TopicSync, bus.EventMessageUpsert, full)

		s.mu.Lock()
		extract := s.extractName
		s.mu.Unlock()
		if extract && full.Sender == message.SenderUser {
			if name := project.ExtractName(full.Content); name != "" {
				s.mu.Lock()
				pc := s.pc
				pc.Name = name
				s.mu.Unlock()
				s.SetContext(ctx, pc)
			}
		}
	}

	s.notify(EventMessages)
	return full, nil
}

// Send is the UI entry point: a locally-originated upsert. skipSync
// suppresses the broadcast, mirroring an event that is already remote.
func (s *Service) Send(ctx context.Context, partial message.Partial, skipSync bool) (message.Message, error) {
	return s.Upsert(ctx, partial, !skipSync)
}

// Messages returns the display list for the active persona: shared user
// turns plus the persona's own replies, deduplicated, in first-seen order.
func (s *Service) Messages() []message.Message {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	return s.store.Visible(active)
}

// ActivePersona returns the persona this tab is focused on.
func (s *Service) ActivePersona() agent.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SelectPersona activates a persona and posts its templated welcome the
// first time it is opened. Other personas' messages are untouched; the
// display filter is what scopes the view.
func (s *Service) SelectPersona(ctx context.Context, t agent.Type) error {
	if !agent.Valid(t) {
		return ErrUnknownPersona
	}

	s.mu.Lock()
	s.active = t
	name := s.pc.Name
	s.mu.Unlock()

	if !s.store.HasPersona(t) {
		content := agent.WelcomeContent(t, name)
		if _, err := s.Upsert(ctx, message.Partial{
			Sender:    message.SenderAgent,
			AgentType: t,
			Content:   &content,
			Timestamp: time.Now(),
			Type:      message.TypeText,
		}, true); err != nil {
			return err
		}
	}

	s.notify(EventMessages)
	return nil
}

// Context returns the shared project context.
func (s *Service) Context() project.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

// SetContext applies a local context change: persist, broadcast, notify.
func (s *Service) SetContext(ctx context.Context, pc project.Context) {
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	s.persistContext(ctx)
	s.publish(ctx, bus.TopicSync, bus.EventContextUpdate, pc)
	s.notify(EventContext)
}

// Voice returns the current voice preference.
func (s *Service) Voice() agent.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// SetVoice applies a local voice change. An active live session restarts
// under the new voice.
func (s *Service) SetVoice(ctx context.Context, v agent.Voice) error {
	if !agent.ValidVoice(v) {
		return ErrUnknownVoice
	}

	s.mu.Lock()
	s.voice = v
	s.mu.Unlock()

	s.persistVoice(ctx)
	s.publish(ctx, bus.TopicSync, bus.EventVoiceUpdate, v)
	s.coord.VoiceChanged(v)
	s.notify(EventVoice)
	return nil
}

// Typing reports whether a reply stream is being consumed.
func (s *Service) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

func (s *Service) setTyping(v bool) {
	s.mu.Lock()
	changed := s.typing != v
	s.typing = v
	s.mu.Unlock()
	if changed {
		s.notify(EventTyping)
	}
}

var imageRequest = regexp.MustCompile(`(?i)(gere|crie|desenhe|faca|faça|gera)\s+(uma|um)?\s*(imagem|logo|mockup|layout|arte|ilustracao|ilustração)`)

// ProcessUserMessage appends the user's turn and drives the generated
// response: an image request goes through GenerateImage with a two-phase
// placeholder, everything else streams a reply into one progressively
// updated agent message. Blocks until the stream is done; callers that must
// not block run it on their own goroutine.
func (s *Service) ProcessUserMessage(ctx context.Context, text string, attachments []message.Attachment) error {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil
	}
	if s.Typing() {
		return nil
	}

	s.mu.Lock()
	persona := s.active
	pc := s.pc
	voice := s.voice
	s.mu.Unlock()

	// history is the view before this turn, shaped for the model
	history := s.historyFor(persona)

	userPartial := message.Partial{
		Sender:      message.SenderUser,
		Content:     &text,
		Timestamp:   time.Now(),
		Type:        message.TypeText,
		Attachments: attachments,
	}
	if len(attachments) > 0 {
		userPartial.Type = message.TypeImage
		if strings.HasPrefix(attachments[0].MimeType, "image/") {
			userPartial.ImageURL = attachments[0].Data
		}
	}
	if _, err := s.Upsert(ctx, userPartial, true); err != nil {
		return err
	}

	s.setTyping(true)

	if len(attachments) == 0 && imageRequest.MatchString(text) {
		s.generateImage(ctx, persona, text)
		return nil
	}

	prompt := text
	if prompt == "" {
		prompt = "Analise este arquivo para mim, baixinho."
	}

	stream, err := s.prov.StreamReply(ctx, persona, prompt, history, pc, voice, attachments)
	if err != nil {
		s.logger.Warn("reply stream failed to open", "persona", persona, "error", err)
		s.setTyping(false)
		return nil
	}

	// offset by one so the id never collides with the user turn synthesized
	// in the same millisecond
	agentID := strconv.FormatInt(time.Now().UnixMilli()+1, 10)
	empty := ""
	if _, err := s.Upsert(ctx, message.Partial{
		ID:        agentID,
		Sender:    message.SenderAgent,
		AgentType: persona,
		Content:   &empty,
		Timestamp: time.Now(),
		Type:      message.TypeText,
	}, true); err != nil {
		s.setTyping(false)
		return err
	}
	s.setTyping(false)

	var full strings.Builder
	for {
		chunk, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			// abandoned stream; whatever already arrived stays
			s.logger.Warn("reply stream interrupted", "persona", persona, "error", err)
			break
		}
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		content := full.String()
		if _, err := s.Upsert(ctx, message.Partial{
			ID:        agentID,
			Sender:    message.SenderAgent,
			AgentType: persona,
			Content:   &content,
			Timestamp: time.Now(),
			Type:      message.TypeText,
		}, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) generateImage(ctx context.Context, persona agent.Type, prompt string) {
	agentID := strconv.FormatInt(time.Now().UnixMilli()+1, 10)
	placeholder := "Claro, meu amor! Criando sua imagem..."
	s.Upsert(ctx, message.Partial{
		ID:        agentID,
		Sender:    message.SenderAgent,
		AgentType: persona,
		Content:   &placeholder,
		Timestamp: time.Now(),
		Type:      message.TypeText,
	}, true)

	url, err := s.prov.GenerateImage(ctx, prompt)
	s.setTyping(false)
	if err != nil {
		s.logger.Warn("image generation failed", "error", err)
		return
	}
	if url == "" {
		return
	}

	ready := "Aqui está, meu bem!"
	s.Upsert(ctx, message.Partial{
		ID:        agentID,
		Content:   &ready,
		Timestamp: time.Now(),
		Type:      message.TypeImage,
		ImageURL:  url,
	}, true)
}

// TranscribeAndSend converts recorded audio to text and, when anything came
// out, sends it as a normal user turn. A transcription failure aborts and
// leaves prior state unchanged.
func (s *Service) TranscribeAndSend(ctx context.Context, audio []byte) error {
	text, err := s.prov.Transcribe(ctx, audio)
	if err != nil {
		s.logger.Warn("transcription failed", "error", err)
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.ProcessUserMessage(ctx, text, nil)
}

func (s *Service) historyFor(persona agent.Type) []provider.Turn {
	visible := s.store.Visible(persona)
	turns := make([]provider.Turn, 0, len(visible))
	for _, msg := range visible {
		role := "model"
		if msg.Sender == message.SenderUser {
			role = "user"
		}
		turns = append(turns, provider.Turn{Role: role, Text: msg.Content})
	}
	return turns
}

// StartLive opens a live voice session for the active persona.
func (s *Service) StartLive(ctx context.Context) error {
	s.mu.Lock()
	persona := s.active
	pc := s.pc
	voice := s.voice
	s.mu.Unlock()

	if err := s.coord.Start(ctx, persona, pc, voice); err != nil {
		s.logger.Warn("live session start failed", "persona", persona, "error", err)
		return err
	}
	return nil
}

// StopLive tears down this tab's live session.
func (s *Service) StopLive() error {
	return s.coord.Stop()
}

// SendAudioFrame forwards captured audio to the open live session.
func (s *Service) SendAudioFrame(pcm []byte) error {
	return s.coord.SendAudioFrame(pcm)
}

// LivePhase reports the coordinator's state machine phase.
func (s *Service) LivePhase() live.Phase {
	return s.coord.Phase()
}

// LiveMirror is the read-only view of a sibling tab's live session.
func (s *Service) LiveMirror() live.State {
	return s.mirror.Snapshot()
}

// flushLiveTurn converts finished live transcripts into ordinary messages
// through the standard upsert+broadcast path.
func (s *Service) flushLiveTurn(persona agent.Type, userText, agentText string) {
	ctx := context.Background()
	now := time.Now()
	if userText != "" {
		s.Upsert(ctx, message.Partial{
			Sender:    message.SenderUser,
			Content:   &userText,
			Timestamp: now,
			Type:      message.TypeAudio,
		}, true)
	}
	if agentText != "" {
		// distinct id even within the same millisecond as the user turn
		id := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-a"
		s.Upsert(ctx, message.Partial{
			ID:        id,
			Sender:    message.SenderAgent,
			AgentType: persona,
			Content:   &agentText,
			Timestamp: now,
			Type:      message.TypeAudio,
		}, true)
	}
}

func (s *Service) handleSyncEvent(env bus.Envelope) {
	if env.Origin == s.tabID {
		return
	}
	ctx := context.Background()

	switch env.Type {
	case bus.EventMessageUpsert:
		var msg message.Message
		if err := env.Decode(&msg); err != nil {
			s.logger.Warn("dropping malformed message event", "error", err)
			return
		}
		// same reconciler path as a local send, republish suppressed
		s.store.Apply(msg)
		s.persistMessages(ctx)
		s.notify(EventMessages)

	case bus.EventContextUpdate:
		var pc project.Context
		if err := env.Decode(&pc); err != nil {
			s.logger.Warn("dropping malformed context event", "error", err)
			return
		}
		s.mu.Lock()
		s.pc = pc
		s.mu.Unlock()
		s.persistContext(ctx)
		s.notify(EventContext)

	case bus.EventVoiceUpdate:
		var v agent.Voice
		if err := env.Decode(&v); err != nil {
			s.logger.Warn("dropping malformed voice event", "error", err)
			return
		}
		s.mu.Lock()
		changed := s.voice != v
		s.voice = v
		s.mu.Unlock()
		s.persistVoice(ctx)
		if changed {
			s.coord.VoiceChanged(v)
		}
		s.notify(EventVoice)
	}
}

func (s *Service) handleLiveEvent(env bus.Envelope) {
	if env.Origin == s.tabID {
		return
	}
	var st live.State
	if err := env.Decode(&st); err != nil {
		s.logger.Warn("dropping malformed live event", "error", err)
		return
	}
	s.mirror.Apply(st)
	s.notify(EventLive)
}

// persist helpers mirror state to storage. Failures degrade; storage is a
// cold-start cache, the bus is the synchronization path.

func (s *Service) persistMessages(ctx context.Context) {
	all := s.store.All()
	if len(all) == 0 {
		return
	}
	if err := s.repo.SaveMessages(ctx, all); err != nil {
		s.logger.Warn("persisting messages failed", "error", err)
	}
}

func (s *Service) persistContext(ctx context.Context) {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if err := s.repo.SaveContext(ctx, pc); err != nil {
		s.logger.Warn("persisting context failed", "error", err)
	}
}

func (s *Service) persistVoice(ctx context.Context) {
	s.mu.Lock()
	v := s.voice
	s.mu.Unlock()
	if err := s.repo.SaveVoice(ctx, v); err != nil {
		s.logger.Warn("persisting voice failed", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, topic, eventType string, payload any) {
	env, err := bus.NewEnvelope(eventType, s.tabID, payload)
	if err != nil {
		s.logger.Warn("encoding bus event", "type", eventType, "error", err)
		return
	}
	if err := s.syncBus.Publish(ctx, topic, env); err != nil {
		// bus unavailable: degrade to single-tab mode silently
		s.logger.Debug("bus publish failed", "type", eventType, "error", err)
	}
}
