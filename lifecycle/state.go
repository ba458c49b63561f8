// Package lifecycle owns RuntimeState: the single state machine every
// other component reads through. Exactly one Controller goroutine is ever
// permitted to mutate it — all other goroutines post commands onto
// Controller's command channel instead of touching fields directly.
package lifecycle

import (
	"fmt"

	"github.com/tonk-labs/vfsrt/engine"
)

// Kind discriminates the RuntimeState sum type's active variant.
type Kind int

const (
	Uninitialized Kind = iota
	Loading
	Ready
	Failed
)

func (k Kind) String() string {
	switch k {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the closed tagged union for RuntimeState. Only the fields
// relevant to Kind are meaningful; accessors below enforce that.
type State struct {
	Kind     Kind
	Pending  string // Loading: description of the in-flight operation
	Engine   engine.Engine
	Manifest engine.Manifest
	Err      error
}

// RequireEngine returns the active engine, or an error if the state is not Ready.
func (s State) RequireEngine() (engine.Engine, error) {
	if s.Kind != Ready {
		return nil, fmt.Errorf("%w: state is %s", ErrNotReady, s.Kind)
	}
	return s.Engine, nil
}
