// Package dispatcher funnels scheduled and on-demand refreshes through one
// gate so at most one runs per process, and remembers how the last one ended.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/glossifier-terms/internal/refresh"
)

// ErrBusy is returned when a refresh is already running.
var ErrBusy = errors.New("refresh already in progress")

// Runner performs one refresh.
type Runner interface {
	Run(ctx context.Context) (refresh.Result, error)
}

// Status describes the most recent finished run.
type Status struct {
	Outcome    refresh.Outcome `json:"outcome"`
	Result     refresh.Result  `json:"result"`
	Error      string          `json:"error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Dispatcher serialises refreshes.
type Dispatcher struct {
	runner Runner
	now    func() time.Time

	mu      sync.Mutex
	running bool
	last    *Status
}

// New creates a Dispatcher.
func New(runner Runner) *Dispatcher {
	return &Dispatcher{runner: runner, now: time.Now}
}

// Dispatch runs a refresh unless one is already in flight, in which case it
// returns ErrBusy without waiting.
func (d *Dispatcher) Dispatch(ctx context.Context) (refresh.Result, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return refresh.Result{}, ErrBusy
	}
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	res, err := d.runner.Run(ctx)

	st := Status{Outcome: refresh.OutcomeOf(err), Result: res, FinishedAt: d.now().UTC()}
	if err != nil {
		st.Error = err.Error()
	}
	d.mu.Lock()
	d.last = &st
	d.mu.Unlock()
	return res, err
}

// Running reports whether a refresh is in flight.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Last returns the status of the most recent finished run.
func (d *Dispatcher) Last() (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Status{}, false
	}
	return *d.last, true
}

// Ready reports whether the most recent run succeeded.
func (d *Dispatcher) Ready() bool {
	st, ok := d.Last()
	return ok && st.Outcome == refresh.OutcomeSuccess
}
