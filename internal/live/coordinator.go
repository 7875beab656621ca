package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hypley/hypley/internal/agent"
	"github.com/hypley/hypley/internal/bus"
	"github.com/hypley/hypley/internal/domain/project"
	"github.com/hypley/hypley/internal/provider"
)

// Phase is the coordinator's position in the session state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
)

var (
	// ErrBusy indicates a session is already open or connecting in this tab.
	ErrBusy = errors.New("live session already active")
	// ErrNotActive indicates there is no session to stop.
	ErrNotActive = errors.New("no live session active")
)

// Provider audio is 16-bit mono PCM at 24kHz.
const (
	sampleRate     = 24000
	bytesPerSample = 2
	defaultSettle  = 300 * time.Millisecond
)

// FlushFunc delivers a finished turn's transcripts to the message log, one
// user and one agent message, through the standard upsert+broadcast path.
type FlushFunc func(persona agent.Type, userText, agentText string)

// Coordinator owns this tab's at-most-one outbound live audio session and
// broadcasts its state so passive tabs can mirror it. gen identifies the
// current session so callbacks from an already-replaced one are ignored.
type Coordinator struct {
	mu      sync.Mutex
	phase   Phase
	gen     int
	session provider.LiveSession
	persona agent.Type
	voice   agent.Voice
	pc      project.Context

	inputBuf  string
	outputBuf string

	tabID   string
	prov    provider.Provider
	syncBus bus.Bus
	sink    AudioSink
	sched   *Scheduler
	flush   FlushFunc
	settle  time.Duration
	logger  *slog.Logger
}

// NewCoordinator creates an idle coordinator for one tab.
func NewCoordinator(tabID string, prov provider.Provider, syncBus bus.Bus, sink AudioSink,
	flush FlushFunc, logger *slog.Logger) *Coordinator {

	epoch := time.Now()
	return &Coordinator{
		tabID:   tabID,
		prov:    prov,
		syncBus: syncBus,
		sink:    sink,
		sched:   NewScheduler(func() time.Duration { return time.Since(epoch) }),
		flush:   flush,
		settle:  defaultSettle,
		logger:  logger,
	}
}

// SetSettleDelay overrides the pause between stop and restart on a voice
// change.
func (c *Coordinator) SetSettleDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle = d
}

// Phase returns the current state machine phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Start opens a live session for the persona with the given context and
// voice. A failed open leaves the coordinator idle; retrying is an explicit
// user action, never automatic.
func (c *Coordinator) Start(ctx context.Context, persona agent.Type, pc project.Context, voice agent.Voice) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.phase = PhaseConnecting
	c.gen++
	myGen := c.gen
	c.persona = persona
	c.pc = pc
	c.voice = voice
	c.inputBuf = ""
	c.outputBuf = ""
	c.mu.Unlock()

	c.sink.StopAll()
	c.sched.Reset()

	callbacks := provider.LiveCallbacks{
		OnAudioChunk:       func(pcm []byte) { c.onAudio(myGen, pcm) },
		OnInterrupted:      func() { c.onInterrupted(myGen) },
		OnInputTranscript:  func(delta string) { c.onTranscript(myGen, delta, false) },
		OnOutputTranscript: func(delta string) { c.onTranscript(myGen, delta, true) },
		OnTurnComplete:     func() { c.onTurnComplete(myGen) },
		OnError: func(err error) {
			c.logger.Warn("live session failed", "error", err)
			c.teardown(myGen)
		},
	}

	opened, err := c.prov.OpenLiveSession(ctx, persona, pc, voice, callbacks)
	if err != nil {
		c.mu.Lock()
		if c.gen == myGen {
			c.phase = PhaseIdle
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.gen != myGen {
		// torn down while connecting
		c.mu.Unlock()
		opened.Close()
		return ErrNotActive
	}
	c.session = opened
	c.phase = PhaseActive
	c.mu.Unlock()

	c.broadcast(true)
	return nil
}

// SendAudioFrame forwards captured microphone audio to the provider.
func (c *Coordinator) SendAudioFrame(pcm []byte) error {
	c.mu.Lock()
	sess := c.session
	active := c.phase == PhaseActive
	c.mu.Unlock()

	if !active || sess == nil {
		return ErrNotActive
	}
	return sess.SendAudioFrame(pcm)
}

// Stop tears the session down: provider close, hard audio stop, cleared
// live-state for the passive tabs. Buffered transcripts are discarded.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.phase == PhaseIdle {
		c.mu.Unlock()
		return ErrNotActive
	}
	myGen := c.gen
	c.mu.Unlock()

	c.teardown(myGen)
	return nil
}

// VoiceChanged restarts an active session under the new voice after a short
// settle delay. Passive tabs see a brief idle gap. A no-op while idle.
func (c *Coordinator) VoiceChanged(v agent.Voice) {
	c.mu.Lock()
	c.voice = v
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	persona, pc := c.persona, c.pc
	settle := c.settle
	c.mu.Unlock()

	if err := c.Stop(); err != nil {
		return
	}
	time.AfterFunc(settle, func() {
		if err := c.Start(context.Background(), persona, pc, v); err != nil {
			c.logger.Warn("live session restart failed", "voice", v, "error", err)
		}
	})
}

func (c *Coordinator) onAudio(myGen int, pcm []byte) {
	c.mu.Lock()
	stale := c.gen != myGen
	c.mu.Unlock()
	if stale {
		return
	}

	d := time.Duration(len(pcm)/bytesPerSample) * time.Second / sampleRate
	start := c.sched.Schedule(d)
	c.sink.PlayAt(pcm, start)
}

func (c *Coordinator) onInterrupted(myGen int) {
	c.mu.Lock()
	stale := c.gen != myGen
	c.mu.Unlock()
	if stale {
		return
	}

	// the user started talking over the agent
	c.sink.StopAll()
	c.sched.Reset()
}

func (c *Coordinator) onTranscript(myGen int, delta string, output bool) {
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return
	}
	if output {
		c.outputBuf += delta
	} else {
		c.inputBuf += delta
	}
	c.mu.Unlock()

	c.broadcast(true)
}

func (c *Coordinator) onTurnComplete(myGen int) {
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return
	}
	persona := c.persona
	userText, agentText := c.inputBuf, c.outputBuf
	c.inputBuf = ""
	c.outputBuf = ""
	c.mu.Unlock()

	if c.flush != nil && (userText != "" || agentText != "") {
		c.flush(persona, userText, agentText)
	}
	c.broadcast(true)
}

// teardown moves to idle: close the provider session, stop playback, drop
// buffered transcripts, tell the passive tabs. Stale generations are
// ignored.
func (c *Coordinator) teardown(myGen int) {
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return
	}
	c.gen++
	sess := c.session
	c.session = nil
	c.phase = PhaseIdle
	c.inputBuf = ""
	c.outputBuf = ""
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			c.logger.Debug("closing live session", "error", err)
		}
	}
	c.sink.StopAll()
	c.sched.Reset()
	c.broadcast(false)
}

func (c *Coordinator) broadcast(active bool) {
	c.mu.Lock()
	state := State{
		TabID:         c.tabID,
		Active:        active,
		PartialInput:  c.inputBuf,
		PartialOutput: c.outputBuf,
	}
	c.mu.Unlock()

	env, err := bus.NewEnvelope(bus.EventLiveState, c.tabID, state)
	if err != nil {
		c.logger.Warn("encoding live state", "error", err)
		return
	}
	if err := c.syncBus.Publish(context.Background(), bus.TopicLive, env); err != nil {
		c.logger.Warn("broadcasting live state", "error", err)
	}
}
