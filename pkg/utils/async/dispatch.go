package async

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/utils/errutil"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
)

// Dispatcher runs handlers in background goroutines detached from the caller's
// cancellation. Wait blocks until every dispatched handler has returned.
type Dispatcher struct {
	wg sync.WaitGroup
}

// Dispatch runs handler asynchronously with a background context that keeps
// the caller's logger. Errors and panics are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, handler func(ctx context.Context) error) {
	bgCtx := logging.With(context.Background(), logging.From(ctx))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				errutil.Handle(bgCtx, goerr.New("panic in async handler", goerr.V("panic", r), goerr.V("handler", name)), "async handler panicked")
			}
		}()

		if err := handler(bgCtx); err != nil {
			errutil.Handle(bgCtx, goerr.Wrap(err, "async handler failed", goerr.V("handler", name)), "async handler failed")
		}
	}()
}

// Wait blocks until all dispatched handlers finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
