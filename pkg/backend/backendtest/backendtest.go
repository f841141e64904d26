// Package backendtest provides fake backend clients for tests.
package backendtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jllopis/conclave/pkg/backend"
)

// Fake is a scriptable backend.Client that records every request.
type Fake struct {
	mu       sync.Mutex
	text     string
	err      error
	delay    time.Duration
	respond  func(req backend.Request) (string, error)
	requests []backend.Request
	inflight int
	peak     int
}

// Option configures a Fake.
type Option func(*Fake)

// WithDelay makes every call wait d (or until ctx is done) before answering.
func WithDelay(d time.Duration) Option {
	return func(f *Fake) { f.delay = d }
}

// WithRespond computes the answer from the request.
func WithRespond(fn func(req backend.Request) (string, error)) Option {
	return func(f *Fake) { f.respond = fn }
}

// Static answers every call with text.
func Static(text string, opts ...Option) *Fake {
	f := &Fake{text: text}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Failing answers every call with err.
func Failing(err error, opts ...Option) *Fake {
	if err == nil {
		err = errors.New("backend unavailable")
	}
	f := &Fake{err: err}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Hanging never answers; calls return only when ctx is done.
func Hanging() *Fake {
	return &Fake{delay: time.Duration(1<<63 - 1)}
}

// Complete implements backend.Client.
func (f *Fake) Complete(ctx context.Context, req backend.Request) (*backend.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		timer := time.NewTimer(f.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.respond != nil {
		text, err := f.respond(req)
		if err != nil {
			return nil, err
		}
		return &backend.Completion{Text: text}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return &backend.Completion{Text: f.text}, nil
}

// Requests returns a copy of the captured requests.
func (f *Fake) Requests() []backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Request(nil), f.requests...)
}

// CallCount returns the number of Complete calls made.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// PeakConcurrency returns the highest number of simultaneous calls seen.
func (f *Fake) PeakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

var _ backend.Client = (*Fake)(nil)
