package supervisor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
)

type fakeProcess struct {
	pid  int
	done chan error
	once sync.Once

	mu      sync.Mutex
	signals []os.Signal
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan error, 1)}
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Wait() error { return <-p.done }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	p.exit(errors.New("signal: terminated"))
	return nil
}

func (p *fakeProcess) Kill() error {
	p.exit(errors.New("signal: killed"))
	return nil
}

// exit terminates the fake process as if it crashed or was killed
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() { p.done <- err })
}

func (p *fakeProcess) signalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals)
}

type fakeSpawner struct {
	mu      sync.Mutex
	nextPID int
	calls   int
	procs   map[int]*fakeProcess
	fail    func(call, slot int) error
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPID: 1000, procs: make(map[int]*fakeProcess)}
}

func (s *fakeSpawner) Spawn(_ context.Context, slot int) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.fail != nil {
		if err := s.fail(s.calls, slot); err != nil {
			return nil, err
		}
	}

	s.nextPID++
	p := newFakeProcess(s.nextPID)
	s.procs[p.pid] = p
	return p, nil
}

func (s *fakeSpawner) process(pid int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[pid]
}

func (s *fakeSpawner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestSupervisor(t *testing.T, spawner Spawner, policy RestartPolicy) *Supervisor {
	t.Helper()
	sup, err := New(Options{ShutdownTimeout: time.Second, SpawnRetryDelay: 10 * time.Millisecond},
		spawner, policy, zerolog.Nop())
	require.NoError(t, err)
	return sup
}

// runSupervisor starts the Run loop and returns a function that stops it
// and waits for it to return
func runSupervisor(t *testing.T, sup *Supervisor) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("supervisor did not stop")
		}
	}
}

func slotHandle(sup *Supervisor, slot int) (WorkerHandle, bool) {
	for _, h := range sup.Workers() {
		if h.Slot == slot {
			return h, true
		}
	}
	return WorkerHandle{}, false
}

func TestNew_NilSpawner(t *testing.T) {
	sup, err := New(Options{}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, sup)
}

func TestNew_Defaults(t *testing.T) {
	sup, err := New(Options{}, newFakeSpawner(), nil, zerolog.Nop())
	require.NoError(t, err)

	assert.IsType(t, AlwaysRestart{}, sup.policy)
	assert.Equal(t, DefaultShutdownTimeout, sup.opts.ShutdownTimeout)
	assert.Equal(t, DefaultSpawnRetryDelay, sup.opts.SpawnRetryDelay)
}

func TestStart_SpawnsPool(t *testing.T) {
	spawner := newFakeSpawner()
	sup := newTestSupervisor(t, spawner, nil)

	require.NoError(t, sup.Start(context.Background(), 4))
	stop := runSupervisor(t, sup)
	defer stop()

	assert.Equal(t, 4, sup.Size())
	assert.Equal(t, 4, sup.Live())

	ids := map[string]bool{}
	for i, h := range sup.Workers() {
		assert.Equal(t, i, h.Slot)
		assert.Equal(t, StateRunning, h.State)
		assert.NotZero(t, h.PID)
		assert.Zero(t, h.Restarts)
		ids[h.ID] = true
	}
	assert.Len(t, ids, 4, "every worker has its own identity")
}

func TestStart_InvalidSize(t *testing.T) {
	sup := newTestSupervisor(t, newFakeSpawner(), nil)
	assert.Error(t, sup.Start(context.Background(), 0))
}

func TestStart_Twice(t *testing.T) {
	sup := newTestSupervisor(t, newFakeSpawner(), nil)
	require.NoError(t, sup.Start(context.Background(), 1))
	defer runSupervisor(t, sup)()

	assert.Error(t, sup.Start(context.Background(), 1))
}

func TestStart_FailureIsFatal(t *testing.T) {
	spawner := newFakeSpawner()
	spawner.fail = func(call, _ int) error {
		if call == 3 {
			return errors.New("exec format error")
		}
		return nil
	}
	sup := newTestSupervisor(t, spawner, nil)

	err := sup.Start(context.Background(), 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec format error")

	// The two workers that did start were stopped again
	assert.Zero(t, sup.Live())
	assert.Equal(t, 1, spawner.process(1001).signalCount())
	assert.Equal(t, 1, spawner.process(1002).signalCount())
	assert.Equal(t, 3, spawner.callCount())
}

func TestWorkerExit_ReplacedWithoutTouchingOthers(t *testing.T) {
	spawner := newFakeSpawner()
	sup := newTestSupervisor(t, spawner, nil)

	require.NoError(t, sup.Start(context.Background(), 4))
	stop := runSupervisor(t, sup)
	defer stop()

	before := sup.Workers()
	require.Len(t, before, 4)
	victim := before[1]

	spawner.process(victim.PID).exit(errors.New("exit status 1"))

	require.Eventually(t, func() bool {
		h, ok := slotHandle(sup, victim.Slot)
		return ok && h.ID != victim.ID && sup.Live() == 4
	}, 2*time.Second, 5*time.Millisecond)

	after := sup.Workers()
	require.Len(t, after, 4)
	for i, h := range after {
		if h.Slot == victim.Slot {
			assert.NotEqual(t, victim.PID, h.PID)
			assert.Equal(t, 1, h.Restarts)
			continue
		}
		assert.Equal(t, before[i].ID, h.ID, "slot %d must keep its worker", h.Slot)
		assert.Equal(t, before[i].PID, h.PID)
		assert.Zero(t, spawner.process(h.PID).signalCount())
	}

	assert.Equal(t, 1, sup.Restarts())
	assert.Equal(t, 5, spawner.callCount())
}

func TestWorkerExit_AlwaysRestartsRegardlessOfStatus(t *testing.T) {
	spawner := newFakeSpawner()
	sup := newTestSupervisor(t, spawner, nil)

	require.NoError(t, sup.Start(context.Background(), 1))
	stop := runSupervisor(t, sup)
	defer stop()

	// Clean exits, crashes and kills are all replaced, again and again
	exits := []error{nil, errors.New("exit status 2"), errors.New("signal: killed"), nil, nil}
	for i, exitErr := range exits {
		h, ok := slotHandle(sup, 0)
		require.True(t, ok)
		spawner.process(h.PID).exit(exitErr)

		want := i + 1
		require.Eventually(t, func() bool {
			return sup.Restarts() == want && sup.Live() == 1
		}, 2*time.Second, 5*time.Millisecond)
	}

	h, _ := slotHandle(sup, 0)
	assert.Equal(t, len(exits), h.Restarts)
}

func TestWorkerExit_MaxRestartsPolicy(t *testing.T) {
	spawner := newFakeSpawner()
	sup := newTestSupervisor(t, spawner, NewMaxRestarts(2, time.Hour))

	require.NoError(t, sup.Start(context.Background(), 2))
	stop := runSupervisor(t, sup)
	defer stop()

	for i := 0; i < 2; i++ {
		h, ok := slotHandle(sup, 0)
		require.True(t, ok)
		spawner.process(h.PID).exit(errors.New("crash"))

		want := i + 1
		require.Eventually(t, func() bool { return sup.Restarts() == want && sup.Live() == 2 },
			2*time.Second, 5*time.Millisecond)
	}

	h, ok := slotHandle(sup, 0)
	require.True(t, ok)
	spawner.process(h.PID).exit(errors.New("crash"))

	require.Eventually(t, func() bool { return sup.Live() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, sup.Live(), "slot 0 stays empty once the limit is hit")
	assert.Equal(t, 2, sup.Restarts())
	_, ok = slotHandle(sup, 1)
	assert.True(t, ok)
}

func TestReplacementSpawnFailureIsRetried(t *testing.T) {
	spawner := newFakeSpawner()
	sup := newTestSupervisor(t, spawner, nil)

	require.NoError(t, sup.Start(context.Background(), 2))
	stop := runSupervisor(t, sup)
	defer stop()

	// The next two spawns fail, the third succeeds
	spawner.mu.Lock()
	failFrom := spawner.calls
	spawner.fail = func(call, _ int) error {
		if call <= failFrom+2 {
			return errors.New("resource temporarily unavailable")
		}
		return nil
	}
	spawner.mu.Unlock()

	h, ok := slotHandle(sup, 1)
	require.True(t, ok)
	spawner.process(h.PID).exit(errors.New("crash"))

	require.Eventually(t, func() bool {
		nh, ok := slotHandle(sup, 1)
		return ok && nh.ID != h.ID && sup.Live() == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, sup.Restarts())
	assert.Equal(t, failFrom+3, spawner.callCount())
}

func TestRun_StopsAllWorkers(t *testing.T) {
	spawner := newFakeSpawner()
	sup := newTestSupervisor(t, spawner, nil)

	require.NoError(t, sup.Start(context.Background(), 3))
	handles := sup.Workers()

	stop := runSupervisor(t, sup)
	stop()

	assert.Zero(t, sup.Live())
	for _, h := range handles {
		assert.Equal(t, 1, spawner.process(h.PID).signalCount())
	}
	assert.Zero(t, sup.Restarts(), "workers stopped on shutdown are not replaced")
}

type stubbornProcess struct {
	*fakeProcess
}

// Signal is ignored; only Kill ends the process
func (p *stubbornProcess) Signal(os.Signal) error { return nil }

type stubbornSpawner struct {
	inner *fakeSpawner
}

func (s *stubbornSpawner) Spawn(ctx context.Context, slot int) (Process, error) {
	p, err := s.inner.Spawn(ctx, slot)
	if err != nil {
		return nil, err
	}
	return &stubbornProcess{p.(*fakeProcess)}, nil
}

func TestRun_KillsWorkersAfterShutdownTimeout(t *testing.T) {
	sup, err := New(Options{ShutdownTimeout: 20 * time.Millisecond},
		&stubbornSpawner{inner: newFakeSpawner()}, nil, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, sup.Start(context.Background(), 2))
	stop := runSupervisor(t, sup)
	stop()

	assert.Zero(t, sup.Live())
}

type delayPolicy struct {
	delay time.Duration
}

func (p delayPolicy) ShouldRestart(ExitEvent) (bool, time.Duration) {
	return true, p.delay
}

func TestWorkerExit_PolicyDelayIsHonored(t *testing.T) {
	spawner := newFakeSpawner()
	sup := newTestSupervisor(t, spawner, delayPolicy{delay: 100 * time.Millisecond})

	require.NoError(t, sup.Start(context.Background(), 2))
	stop := runSupervisor(t, sup)
	defer stop()

	h, ok := slotHandle(sup, 0)
	require.True(t, ok)
	exited := time.Now()
	spawner.process(h.PID).exit(errors.New("crash"))

	require.Eventually(t, func() bool { return sup.Live() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sup.Live() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(exited), 100*time.Millisecond)
	assert.Equal(t, 1, sup.Restarts())
}

func TestSlotService_Decide(t *testing.T) {
	event := ExitEvent{Handle: WorkerHandle{Slot: 2, PID: 4242}, Err: errors.New("exit status 1")}

	t.Run("declined", func(t *testing.T) {
		sup := newTestSupervisor(t, newFakeSpawner(), NewMaxRestarts(0, time.Minute))
		svc := &slotService{sup: sup, slot: 2}

		err := svc.decide(event, 0)
		assert.ErrorIs(t, err, suture.ErrDoNotRestart)
	})

	t.Run("restart", func(t *testing.T) {
		sup := newTestSupervisor(t, newFakeSpawner(), nil)
		svc := &slotService{sup: sup, slot: 2}

		err := svc.decide(event, 0)
		require.Error(t, err)
		assert.NotErrorIs(t, err, suture.ErrDoNotRestart)
		assert.NotErrorIs(t, err, context.Canceled)
		assert.Contains(t, err.Error(), "4242")
		assert.Zero(t, svc.delay)
	})

	t.Run("spawn failure waits at least the retry delay", func(t *testing.T) {
		sup := newTestSupervisor(t, newFakeSpawner(), nil)
		svc := &slotService{sup: sup, slot: 2}

		failed := ExitEvent{Handle: WorkerHandle{Slot: 2}, Err: errors.New("fork failed")}
		err := svc.decide(failed, 30*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "spawn failed")
		assert.Equal(t, 30*time.Millisecond, svc.delay)
	})
}

func TestSlotService_String(t *testing.T) {
	assert.Equal(t, "worker-3", (&slotService{slot: 3}).String())
}

func TestEventHook_LogsThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	hook := eventHook(zerolog.New(&buf))

	hook(suture.EventStopTimeout{SupervisorName: "pdfconvd", ServiceName: "worker-0"})

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "worker-0")
}
