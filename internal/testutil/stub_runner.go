package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StubRunner implements vcs.Runner with canned responses keyed by the
// space-joined argument list. Responses registered with Stub are consumed
// in FIFO order; StubDefault responses answer any number of calls. A call
// with no registered response is an error, so tests fail loudly on git
// commands they did not anticipate.
type StubRunner struct {
	mu       sync.Mutex
	queued   map[string][]stubResponse
	defaults map[string]stubResponse
	log      []stubCall
}

type stubResponse struct {
	out string
	err error
}

type stubCall struct {
	dir string
	key string
}

// NewStubRunner returns an empty stub; register responses before use.
func NewStubRunner() *StubRunner {
	return &StubRunner{
		queued:   make(map[string][]stubResponse),
		defaults: make(map[string]stubResponse),
	}
}

// Stub queues a one-shot response for the exact argument string.
func (s *StubRunner) Stub(args string, out string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[args] = append(s.queued[args], stubResponse{out: out, err: err})
}

// StubDefault registers a reusable response, consulted only when the
// one-shot queue for the argument string is empty.
func (s *StubRunner) StubDefault(args string, out string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[args] = stubResponse{out: out, err: err}
}

// Exec records the call and replays the next matching response.
func (s *StubRunner) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	key := strings.Join(args, " ")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, stubCall{dir: dir, key: key})

	if queue := s.queued[key]; len(queue) > 0 {
		resp := queue[0]
		s.queued[key] = queue[1:]
		return resp.out, resp.err
	}
	if resp, ok := s.defaults[key]; ok {
		return resp.out, resp.err
	}
	return "", fmt.Errorf("unexpected git call: %s", key)
}

// CallsFor counts how many times the exact argument list was executed.
func (s *StubRunner) CallsFor(args ...string) int {
	key := strings.Join(args, " ")
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.log {
		if c.key == key {
			n++
		}
	}
	return n
}

// Calls returns every recorded argument string in execution order.
func (s *StubRunner) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.log))
	for i, c := range s.log {
		out[i] = c.key
	}
	return out
}
