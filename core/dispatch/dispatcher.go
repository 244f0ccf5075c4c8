package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/utils/logger"
)

// Task states reported to the gateway via /task/<id>.
const (
	StatePending = "PENDING"
	StateStarted = "STARTED"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
	StateSkipped = "SKIPPED"
)

type HandlerFunc func(ctx context.Context, args []string) (interface{}, error)

// Registry tracks currently active jobs across all workers. The
// pre-run duplicate check against it is advisory: a race window
// exists between the check and a competing job's registration, so
// this is best-effort deduplication, not mutual exclusion.
type Registry interface {
	Register(ctx context.Context, id, identity string) error
	Unregister(ctx context.Context, id string) error
	// ActiveDuplicate reports whether any active job other than id
	// carries the same identity.
	ActiveDuplicate(ctx context.Context, id, identity string) (bool, error)
}

type TaskState struct {
	Status string      `json:"status"`
	Result interface{} `json:"result"`
}

type ResultStore interface {
	Set(ctx context.Context, id, status string, result interface{}) error
	Get(ctx context.Context, id string) (*TaskState, error)
}

type job struct {
	id    string
	name  string
	args  []string
	dedup bool
}

// Dispatcher runs named task functions on a bounded worker pool.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	queue    chan job
	workers  int
	registry Registry
	results  ResultStore
	wg       sync.WaitGroup
}

func New(workers int, registry Registry, results ResultStore) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		queue:    make(chan job, 1024),
		workers:  workers,
		registry: registry,
		results:  results,
	}
}

func (d *Dispatcher) Register(name string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = fn
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.queue:
					d.run(ctx, j)
				}
			}
		}()
	}
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) submit(name string, dedup bool, args ...string) (string, error) {
	d.mu.RLock()
	_, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no task registered under %q", name)
	}

	id := uuid.NewString()
	if err := d.results.Set(context.Background(), id, StatePending, nil); err != nil {
		return "", err
	}
	d.queue <- job{id: id, name: name, args: args, dedup: dedup}
	return id, nil
}

// Submit enqueues a task run and returns its id.
func (d *Dispatcher) Submit(name string, args ...string) (string, error) {
	return d.submit(name, false, args...)
}

// SubmitDeduped enqueues a task run that is skipped when another
// active job with the same name and arguments is already running.
func (d *Dispatcher) SubmitDeduped(name string, args ...string) (string, error) {
	return d.submit(name, true, args...)
}

func (d *Dispatcher) TaskState(ctx context.Context, id string) (*TaskState, error) {
	return d.results.Get(ctx, id)
}

func identityOf(name string, args []string) string {
	return name + "(" + strings.Join(args, ",") + ")"
}

func (d *Dispatcher) run(ctx context.Context, j job) {
	d.mu.RLock()
	fn := d.handlers[j.name]
	d.mu.RUnlock()

	identity := identityOf(j.name, j.args)

	if j.dedup {
		dup, err := d.registry.ActiveDuplicate(ctx, j.id, identity)
		if err != nil {
			logger.Logrus.WithFields(logrus.Fields{"Task": identity, "ErrMsg": err}).Error("active-jobs lookup failed, running task anyway")
		} else if dup {
			logger.Logrus.WithFields(logrus.Fields{"Task": identity}).Debug("task is already running elsewhere, skipping")
			if err := d.results.Set(ctx, j.id, StateSkipped, nil); err != nil {
				logger.Logrus.WithFields(logrus.Fields{"TaskID": j.id, "ErrMsg": err}).Error("save task state failed")
			}
			return
		}
	}

	if err := d.registry.Register(ctx, j.id, identity); err != nil {
		logger.Logrus.WithFields(logrus.Fields{"Task": identity, "ErrMsg": err}).Error("register active job failed")
	}
	defer func() {
		if err := d.registry.Unregister(context.Background(), j.id); err != nil {
			logger.Logrus.WithFields(logrus.Fields{"Task": identity, "ErrMsg": err}).Error("unregister active job failed")
		}
	}()

	if err := d.results.Set(ctx, j.id, StateStarted, nil); err != nil {
		logger.Logrus.WithFields(logrus.Fields{"TaskID": j.id, "ErrMsg": err}).Error("save task state failed")
	}

	result, err := fn(ctx, j.args)
	if err != nil {
		logger.Logrus.WithFields(logrus.Fields{"Task": identity, "ErrMsg": err}).Error("task failed")
		if serr := d.results.Set(ctx, j.id, StateFailure, err.Error()); serr != nil {
			logger.Logrus.WithFields(logrus.Fields{"TaskID": j.id, "ErrMsg": serr}).Error("save task state failed")
		}
		return
	}
	if err := d.results.Set(ctx, j.id, StateSuccess, result); err != nil {
		logger.Logrus.WithFields(logrus.Fields{"TaskID": j.id, "ErrMsg": err}).Error("save task state failed")
	}
}
