package backend

import (
	"sync"

	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/domain/types"
)

// buffer holds pending dialogues and the session state machine:
//
//	Empty → Buffering → Finalizing → Idle
//	                ↑________________|  (pending left after finalize)
//
// Its mutex is only held for short appends and swaps, never across I/O.
type buffer struct {
	mu      sync.Mutex
	pending []*model.Dialogue
	state   types.SessionState
}

func newBuffer() *buffer {
	return &buffer{state: types.SessionStateEmpty}
}

func (b *buffer) append(dialogues ...*model.Dialogue) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, dialogues...)
	if b.state != types.SessionStateFinalizing {
		b.state = types.SessionStateBuffering
	}
}

// drain takes the current generation and moves to Finalizing. Dialogues
// appended afterwards belong to the next generation.
func (b *buffer) drain() []*model.Dialogue {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.pending
	b.pending = nil
	if len(batch) > 0 {
		b.state = types.SessionStateFinalizing
	}
	return batch
}

// finish ends a finalize. Uncommitted dialogues go back in front of anything
// that arrived during the finalize so buffer order is kept.
func (b *buffer) finish(uncommitted []*model.Dialogue) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(uncommitted) > 0 {
		restored := make([]*model.Dialogue, 0, len(uncommitted)+len(b.pending))
		restored = append(restored, uncommitted...)
		b.pending = append(restored, b.pending...)
	}

	if len(b.pending) > 0 {
		b.state = types.SessionStateBuffering
	} else {
		b.state = types.SessionStateIdle
	}
}

func (b *buffer) snapshot() (int, types.SessionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending), b.state
}
