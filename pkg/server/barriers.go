package server

import (
	"context"
	"errors"
	"sync"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
)

// ErrNoBarrier is returned when answering a barrier that is not pending.
var ErrNoBarrier = errors.New("no such pending barrier")

// Barriers bridges engine barriers to HTTP. ConfirmBarrier blocks until an
// operator answers through the API. It implements core.Operator.
type Barriers struct {
	mu      sync.Mutex
	pending map[string]*pendingBarrier
	order   []string
}

type pendingBarrier struct {
	req    core.BarrierRequest
	answer chan bool
}

// NewBarriers creates an empty barrier queue.
func NewBarriers() *Barriers {
	return &Barriers{pending: make(map[string]*pendingBarrier)}
}

// ConfirmBarrier registers req and waits for an answer or ctx.
func (b *Barriers) ConfirmBarrier(ctx context.Context, req *core.BarrierRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p := &pendingBarrier{req: *req, answer: make(chan bool, 1)}
	b.mu.Lock()
	b.pending[req.ID] = p
	b.order = append(b.order, req.ID)
	b.mu.Unlock()
	logger.Info("Waiting for operator at barrier %s (%s)", req.Path, req.ID)

	defer b.remove(req.ID)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case ok := <-p.answer:
		return ok, nil
	}
}

// Pending returns the barriers waiting for an answer, oldest first.
func (b *Barriers) Pending() []core.BarrierRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.BarrierRequest, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.pending[id].req)
	}
	return out
}

// Answer resolves barrier id. ok=false aborts the run.
func (b *Barriers) Answer(id string, ok bool) error {
	b.mu.Lock()
	p, found := b.pending[id]
	b.mu.Unlock()
	if !found {
		return ErrNoBarrier
	}
	select {
	case p.answer <- ok:
		return nil
	default:
		return ErrNoBarrier
	}
}

func (b *Barriers) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
	for i, o := range b.order {
		if o == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
