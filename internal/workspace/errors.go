package workspace

import "errors"

var (
	ErrUnknownPersona = errors.New("unknown persona")
	ErrUnknownVoice   = errors.New("unknown voice")
)
