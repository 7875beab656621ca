package live

import "sync"

// State is the live-session mirror broadcast to passive tabs.
type State struct {
	TabID         string `json:"tabId"`
	Active        bool   `json:"active"`
	PartialInput  string `json:"partialInputText"`
	PartialOutput string `json:"partialOutputText"`
}

// Mirror is the read-only view a passive tab keeps of another tab's live
// session. It consumes live-state events only and never opens a provider
// connection.
type Mirror struct {
	mu    sync.Mutex
	state State
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{}
}

// Apply replaces the mirrored state. Last arrival wins; an inactive state
// from the owning tab clears the transcripts.
func (m *Mirror) Apply(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// Snapshot returns the current mirrored state.
func (m *Mirror) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
