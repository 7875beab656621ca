package project

// Context is the shared project memory all personas prompt against. It has
// no history; the last writer wins across tabs.
type Context struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Stack             string   `json:"stack"`
	Features          []string `json:"features"`
	MarketAnalysis    string   `json:"marketAnalysis"`
	ArchitecturePlan  string   `json:"architecturePlan"`
	MarketingStrategy string   `json:"marketingStrategy"`
}

// DefaultContext is the context of a fresh install.
func DefaultContext() Context {
	return Context{
		Name:     "Projeto HYPLEY",
		Features: []string{},
	}
}
