//go:build haskell

package language

import (
	"codejudge/internal/judge/backend"
	"codejudge/internal/judge/backend/haskell"
)

// Name is the language linked into this build.
const Name = haskell.Name

// DefaultConfig returns the toolchain defaults of the linked backend.
func DefaultConfig() backend.Config {
	return haskell.DefaultConfig()
}

// New creates the linked backend.
func New(cfg backend.Config) backend.Backend {
	return haskell.New(cfg)
}
