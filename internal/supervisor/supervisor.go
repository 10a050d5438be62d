// Package supervisor keeps a fixed number of worker processes alive. It
// spawns the pool at startup, watches every worker for termination and
// replaces dead workers according to a RestartPolicy. It never looks at the
// requests a worker serves.
//
// Each pool slot runs as a suture service: Serve spawns a worker, blocks
// until it exits and returns the exit as an error so the suture tree starts
// the next worker in the same slot.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

const (
	DefaultShutdownTimeout = 15 * time.Second
	DefaultSpawnRetryDelay = time.Second
)

// State is the lifecycle state of a worker slot
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
)

// Process is a running worker as seen by the supervisor
type Process interface {
	PID() int
	// Wait blocks until the process exits and reports how it ended
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// Spawner starts worker processes
type Spawner interface {
	Spawn(ctx context.Context, slot int) (Process, error)
}

// WorkerHandle is the supervisor's record of one worker. Every spawn gets a
// new ID, so a replacement never shares an identity with its predecessor.
type WorkerHandle struct {
	ID        string
	Slot      int
	PID       int
	State     State
	StartedAt time.Time
	// Restarts counts how many workers ran in this slot before this one
	Restarts int
}

// ExitEvent describes a worker termination, or a failed replacement spawn
// when Handle.PID is zero
type ExitEvent struct {
	Handle   WorkerHandle
	Err      error
	ExitedAt time.Time
}

// Options configures a Supervisor
type Options struct {
	// ShutdownTimeout bounds how long Run waits for workers after asking
	// them to stop before killing them
	ShutdownTimeout time.Duration
	// SpawnRetryDelay is the minimum wait before retrying a replacement
	// spawn that failed
	SpawnRetryDelay time.Duration
}

// worker is a live process. done is closed once Wait has returned; err is
// only read after that.
type worker struct {
	handle  WorkerHandle
	process Process
	done    chan struct{}
	err     error
}

// Supervisor owns the worker pool. The suture tree restarts slot services;
// the workers map is the snapshot readers see.
type Supervisor struct {
	spawner Spawner
	policy  RestartPolicy
	logger  zerolog.Logger
	opts    Options
	tree    *suture.Supervisor

	mu       sync.RWMutex
	workers  map[int]*worker
	size     int
	restarts int
}

// New creates a supervisor. A nil policy means AlwaysRestart.
func New(opts Options, spawner Spawner, policy RestartPolicy, logger zerolog.Logger) (*Supervisor, error) {
	if spawner == nil {
		return nil, fmt.Errorf("spawner cannot be nil")
	}
	if policy == nil {
		policy = AlwaysRestart{}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.SpawnRetryDelay <= 0 {
		opts.SpawnRetryDelay = DefaultSpawnRetryDelay
	}

	s := &Supervisor{
		spawner: spawner,
		policy:  policy,
		logger:  logger,
		opts:    opts,
		workers: make(map[int]*worker),
	}

	s.tree = suture.New("pdfconvd", suture.Spec{
		EventHook: eventHook(logger),
		// Restarts are never throttled by the tree; RestartPolicy decides
		FailureThreshold: math.Inf(1),
		// A slot service returns once its worker has been killed
		Timeout: 2 * opts.ShutdownTimeout,
	})

	return s, nil
}

// Start spawns n workers synchronously. If any spawn fails the workers
// already started are stopped and the error is returned: the pool never
// runs partially filled from the start.
func (s *Supervisor) Start(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", n)
	}

	s.mu.Lock()
	if s.size != 0 {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.size = n
	s.mu.Unlock()

	s.logger.Info().Int("workers", n).Msg("Primary is running")

	initial := make([]*worker, 0, n)
	for slot := 0; slot < n; slot++ {
		w, err := s.spawn(ctx, slot, 0)
		if err != nil {
			s.logger.Error().Err(err).Int("slot", slot).Msg("Failed to start worker pool")
			s.stopAll()
			return fmt.Errorf("failed to start worker %d: %w", slot, err)
		}
		initial = append(initial, w)
	}

	for slot, w := range initial {
		s.tree.Add(&slotService{sup: s, slot: slot, adopted: w})
	}

	return nil
}

// Run supervises the pool until ctx is cancelled, then stops every worker
// and waits for them to exit
func (s *Supervisor) Run(ctx context.Context) error {
	err := s.tree.Serve(ctx)

	// Workers the tree never got to, or gave up waiting for
	s.stopAll()

	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Workers returns a snapshot of the live workers ordered by slot
func (s *Supervisor) Workers() []WorkerHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := make([]WorkerHandle, 0, len(s.workers))
	for _, w := range s.workers {
		handles = append(handles, w.handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Slot < handles[j].Slot })

	return handles
}

// Live returns the number of live workers
func (s *Supervisor) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}

// Size returns the configured pool size
func (s *Supervisor) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Restarts returns the number of replacement workers started so far
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// spawn starts a worker in slot, records it and begins waiting on it
func (s *Supervisor) spawn(ctx context.Context, slot, restarts int) (*worker, error) {
	handle := WorkerHandle{
		ID:        uuid.NewString(),
		Slot:      slot,
		State:     StateStarting,
		StartedAt: time.Now(),
		Restarts:  restarts,
	}

	process, err := s.spawner.Spawn(ctx, slot)
	if err != nil {
		return nil, err
	}

	handle.PID = process.PID()
	handle.State = StateRunning

	w := &worker{handle: handle, process: process, done: make(chan struct{})}
	go func() {
		w.err = process.Wait()
		close(w.done)
	}()

	s.mu.Lock()
	s.workers[slot] = w
	if restarts > 0 {
		s.restarts++
	}
	s.mu.Unlock()

	s.logger.Info().
		Int("pid", handle.PID).
		Int("slot", slot).
		Str("worker_id", handle.ID).
		Msg("Worker started")

	return w, nil
}

// forget drops w from the snapshot unless its slot was already refilled
func (s *Supervisor) forget(w *worker) {
	s.mu.Lock()
	if cur, ok := s.workers[w.handle.Slot]; ok && cur.handle.ID == w.handle.ID {
		delete(s.workers, w.handle.Slot)
	}
	s.mu.Unlock()
}

// stop asks w to terminate and kills it if it is still running after
// ShutdownTimeout. It returns once the process has exited.
func (s *Supervisor) stop(w *worker) {
	if err := w.process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug().Err(err).Int("pid", w.handle.PID).Msg("Failed to signal worker")
	}

	timer := time.NewTimer(s.opts.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
	case <-timer.C:
		s.logger.Warn().Int("pid", w.handle.PID).Msg("Worker did not stop in time, killing")
		_ = w.process.Kill()
		// Kill is final
		<-w.done
	}

	s.forget(w)
	s.logger.Info().Int("pid", w.handle.PID).AnErr("exit", w.err).Msg("Worker stopped")
}

// stopAll stops every worker still in the snapshot, in parallel
func (s *Supervisor) stopAll() {
	s.mu.RLock()
	live := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		live = append(live, w)
	}
	s.mu.RUnlock()

	if len(live) == 0 {
		return
	}

	s.logger.Info().Int("workers", len(live)).Msg("Stopping workers")

	var wg sync.WaitGroup
	for _, w := range live {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			s.stop(w)
		}(w)
	}
	wg.Wait()
}

// slotService keeps one pool slot filled. Suture never runs two Serve calls
// of the same service at once, so its fields need no lock.
type slotService struct {
	sup  *Supervisor
	slot int

	// adopted is the worker Start spawned for this slot
	adopted  *worker
	restarts int
	delay    time.Duration
}

func (svc *slotService) String() string {
	return fmt.Sprintf("worker-%d", svc.slot)
}

// Serve runs one worker to completion. A nil return never happens while ctx
// is live: suture restarts the service on any error and drops it on
// ErrDoNotRestart.
func (svc *slotService) Serve(ctx context.Context) error {
	s := svc.sup

	if svc.delay > 0 {
		timer := time.NewTimer(svc.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		svc.delay = 0
	}

	w := svc.adopted
	svc.adopted = nil
	if w == nil {
		var err error
		w, err = s.spawn(ctx, svc.slot, svc.restarts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Int("slot", svc.slot).Msg("Failed to spawn replacement worker")

			failed := WorkerHandle{Slot: svc.slot, State: StateExited, Restarts: svc.restarts}
			return svc.decide(ExitEvent{Handle: failed, Err: err, ExitedAt: time.Now()}, s.opts.SpawnRetryDelay)
		}
	}

	select {
	case <-ctx.Done():
		s.stop(w)
		return ctx.Err()

	case <-w.done:
	}

	s.forget(w)

	handle := w.handle
	handle.State = StateExited

	s.logger.Info().
		Int("pid", handle.PID).
		Int("slot", handle.Slot).
		Str("worker_id", handle.ID).
		AnErr("exit", w.err).
		Msgf("Worker %d died. Spawning a new worker...", handle.PID)

	svc.restarts = handle.Restarts + 1
	return svc.decide(ExitEvent{Handle: handle, Err: w.err, ExitedAt: time.Now()}, 0)
}

// decide consults the restart policy and turns its answer into the error
// suture acts on
func (svc *slotService) decide(event ExitEvent, minDelay time.Duration) error {
	restart, delay := svc.sup.policy.ShouldRestart(event)
	if !restart {
		svc.sup.logger.Warn().
			Int("slot", event.Handle.Slot).
			Int("restarts", event.Handle.Restarts).
			Msg("Restart policy declined to replace worker")
		return suture.ErrDoNotRestart
	}

	if delay < minDelay {
		delay = minDelay
	}
	svc.delay = delay

	if event.Handle.PID == 0 {
		return fmt.Errorf("slot %d: spawn failed: %v", event.Handle.Slot, event.Err)
	}
	return fmt.Errorf("slot %d: worker %d exited: %v", event.Handle.Slot, event.Handle.PID, event.Err)
}

// eventHook forwards suture's events to the supervisor log
func eventHook(logger zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		switch e.Type() {
		case suture.EventTypeStopTimeout, suture.EventTypeServicePanic:
			logger.Warn().Fields(e.Map()).Msg(e.String())
		default:
			logger.Debug().Fields(e.Map()).Msg(e.String())
		}
	}
}
