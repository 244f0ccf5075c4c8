package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/solpine/sol_wallet/utils/logger"
)

var loggerOnce sync.Once

func initLogger(t *testing.T) {
	t.Helper()
	loggerOnce.Do(func() {
		dir, err := os.MkdirTemp("", "dispatch-test")
		if err != nil {
			t.Fatal(err)
		}
		logger.Init(logger.Options{File: filepath.Join(dir, "test.log")})
	})
}

type memRegistry struct {
	mu     sync.Mutex
	active map[string]string
}

func newMemRegistry() *memRegistry {
	return &memRegistry{active: make(map[string]string)}
}

func (r *memRegistry) Register(ctx context.Context, id, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = identity
	return nil
}

func (r *memRegistry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
	return nil
}

func (r *memRegistry) ActiveDuplicate(ctx context.Context, id, identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for activeID, activeIdentity := range r.active {
		if activeID != id && activeIdentity == identity {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRegistry) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

type memResults struct {
	mu     sync.Mutex
	states map[string]TaskState
}

func newMemResults() *memResults {
	return &memResults{states: make(map[string]TaskState)}
}

func (r *memResults) Set(ctx context.Context, id, status string, result interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[id] = TaskState{Status: status, Result: result}
	return nil
}

func (r *memResults) Get(ctx context.Context, id string) (*TaskState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[id]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (r *memResults) status(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[id].Status
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDedupSkipsActiveDuplicate(t *testing.T) {
	initLogger(t)

	registry := newMemRegistry()
	results := newMemResults()
	d := New(3, registry, results)

	release := make(chan struct{})
	d.Register("drain", func(ctx context.Context, args []string) (interface{}, error) {
		<-release
		return true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	first, err := d.SubmitDeduped("drain", "SOL", "addr-1")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first job to start", func() bool { return registry.contains(first) })

	// Same identity while the first is still running: must be skipped.
	duplicate, err := d.SubmitDeduped("drain", "SOL", "addr-1")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "duplicate to be skipped", func() bool { return results.status(duplicate) == StateSkipped })

	// Different account: runs alongside the first.
	other, err := d.SubmitDeduped("drain", "SOL", "addr-2")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "different-args job to start", func() bool { return registry.contains(other) })

	close(release)
	waitFor(t, "first job to finish", func() bool { return results.status(first) == StateSuccess })
	waitFor(t, "different-args job to finish", func() bool { return results.status(other) == StateSuccess })
}

func TestSubmitUnknownTask(t *testing.T) {
	initLogger(t)

	d := New(1, newMemRegistry(), newMemResults())
	if _, err := d.Submit("nope"); err == nil {
		t.Error("expected an error for an unregistered task")
	}
}

func TestFailureStateRecorded(t *testing.T) {
	initLogger(t)

	registry := newMemRegistry()
	results := newMemResults()
	d := New(1, registry, results)
	d.Register("boom", func(ctx context.Context, args []string) (interface{}, error) {
		return nil, context.DeadlineExceeded
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	id, err := d.Submit("boom")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failure state", func() bool { return results.status(id) == StateFailure })

	if registry.contains(id) {
		t.Error("failed job left in the active registry")
	}
}
