// Package watcher follows the Docker engine's event stream through a
// long-running `docker events` process and forwards container lifecycle
// events to the control plane.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tugboat-agent/internal/command"
	"tugboat-agent/internal/model"
	"tugboat-agent/internal/stream"
)

// ErrStopped is returned by Shutdown when the watcher was already shut down.
var ErrStopped = errors.New("watcher stopped")

// Inspector resolves a container id into its inspection.
type Inspector interface {
	InspectContainer(ctx context.Context, id string) (model.InspectedContainer, error)
}

type Options struct {
	Binary  string
	Backoff time.Duration
	Buffer  int
	// InspectTimeout bounds the enrichment of one "create" event.
	InspectTimeout time.Duration
	// Env entries are added to the inherited environment of the process.
	Env []string
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = "docker"
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.InspectTimeout <= 0 {
		o.InspectTimeout = 5 * time.Second
	}
	return o
}

type Stats struct {
	Parsed    uint64    `json:"parsed"`
	Malformed uint64    `json:"malformed"`
	Dropped   uint64    `json:"dropped"`
	Forwarded uint64    `json:"forwarded"`
	Failed    uint64    `json:"failed"`
	Restarts  uint64    `json:"restarts"`
	LastEvent time.Time `json:"last_event"`
}

type process struct {
	exec     command.Executor
	stopping atomic.Bool
}

// Watcher owns at most one event process at a time. Lines are parsed in
// arrival order and forwarded events are posted one at a time, in order, by a
// single dispatcher goroutine.
type Watcher struct {
	logger    *slog.Logger
	cmds      command.Factory
	sink      stream.Sink
	inspector Inspector
	opts      Options

	mu    sync.Mutex
	state State
	proc  *process
	timer *time.Timer

	events       chan model.RuntimeEvent
	quit         chan struct{}
	done         chan struct{}
	dispatchOnce sync.Once
	closeOnce    sync.Once
	ctx          context.Context
	cancel       context.CancelFunc

	parsed    atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
	forwarded atomic.Uint64
	failed    atomic.Uint64
	restarts  atomic.Uint64
	lastEvent atomic.Int64
}

func New(logger *slog.Logger, cmds command.Factory, sink stream.Sink, inspector Inspector, opts Options) *Watcher {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		logger:    logger,
		cmds:      cmds,
		sink:      sink,
		inspector: inspector,
		opts:      opts,
		events:    make(chan model.RuntimeEvent, opts.Buffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) Stats() Stats {
	s := Stats{
		Parsed:    w.parsed.Load(),
		Malformed: w.malformed.Load(),
		Dropped:   w.dropped.Load(),
		Forwarded: w.forwarded.Load(),
		Failed:    w.failed.Load(),
		Restarts:  w.restarts.Load(),
	}
	if ns := w.lastEvent.Load(); ns > 0 {
		s.LastEvent = time.Unix(0, ns).UTC()
	}
	return s
}

// Start spawns the event process unless one is already running. A pending
// restart is cancelled and replaced by an immediate spawn.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isClosed() {
		return
	}
	w.startLocked()
}

// Stop kills the event process and cancels any pending restart. The exit of
// the killed process does not schedule a restart.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watcher) Restart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger.Info("restarting docker event watcher")
	w.stopLocked()
	if w.isClosed() {
		return
	}
	w.startLocked()
}

// Shutdown stops the watcher for good and waits until every event already
// parsed has been dispatched, or ctx ends.
func (w *Watcher) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.isClosed() {
		w.mu.Unlock()
		return ErrStopped
	}
	w.logger.Info("shutting down docker event watcher")
	w.stopLocked()
	w.closeOnce.Do(func() { close(w.quit) })
	started := w.dispatcherStarted()
	w.mu.Unlock()

	defer w.cancel()
	if !started {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the watcher and shuts it down once ctx is done.
func (w *Watcher) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	w.Start()
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := w.Shutdown(sctx); err != nil && !errors.Is(err, ErrStopped) {
		return err
	}
	return nil
}

func (w *Watcher) isClosed() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

func (w *Watcher) startLocked() {
	if w.state == Running {
		w.logger.Info("docker event watcher already running")
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.ensureDispatcherLocked()

	w.logger.Info("starting docker event watcher", "binary", w.opts.Binary)
	p := &process{}
	ex := w.cmds.Command(w.opts.Binary, "events", "--format", "{{json .}}")
	ex.SetStdin(nil)
	if len(w.opts.Env) > 0 {
		ex.SetEnv(append(os.Environ(), w.opts.Env...))
	}
	ex.SetStdout(&lineWriter{onLine: w.handleLine})
	ex.SetStderr(stderrWriter{logger: w.logger})
	if err := ex.Start(); err != nil {
		w.logger.Error("failed to spawn docker events", "error", err)
		w.scheduleRestartLocked()
		return
	}
	p.exec = ex
	w.proc = p
	w.state = Running
	go w.awaitExit(p)
}

func (w *Watcher) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if p := w.proc; p != nil {
		w.logger.Info("stopping docker event watcher")
		p.stopping.Store(true)
		if err := p.exec.Kill(); err != nil {
			w.logger.Warn("kill docker events failed", "error", err)
		}
		w.proc = nil
	}
	w.state = Stopped
}

func (w *Watcher) awaitExit(p *process) {
	err := p.exec.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if p.stopping.Load() || w.proc != p {
		return
	}
	w.logger.Error("docker events process exited", "error", err)
	w.proc = nil
	if w.isClosed() {
		w.state = Stopped
		return
	}
	w.scheduleRestartLocked()
}

func (w *Watcher) scheduleRestartLocked() {
	w.state = AwaitingRestart
	w.logger.Info("docker event watcher restart scheduled", "in", w.opts.Backoff)
	var t *time.Timer
	t = time.AfterFunc(w.opts.Backoff, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.timer != t || w.state != AwaitingRestart || w.isClosed() {
			return
		}
		w.timer = nil
		w.restarts.Add(1)
		w.startLocked()
	})
	w.timer = t
}

func (w *Watcher) handleLine(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}
	var ev model.RuntimeEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		w.malformed.Add(1)
		w.logger.Error("failed to parse docker event", "error", err)
		return
	}
	w.parsed.Add(1)
	select {
	case w.events <- ev:
	case <-w.quit:
	}
}

// dispatcherStarted reports whether Start ever launched the dispatcher. When
// it did not, the dispatcher is marked finished so it can no longer start.
func (w *Watcher) dispatcherStarted() bool {
	started := true
	w.dispatchOnce.Do(func() {
		started = false
		close(w.done)
	})
	return started
}

func (w *Watcher) ensureDispatcherLocked() {
	w.dispatchOnce.Do(func() {
		go w.dispatch()
	})
}

func (w *Watcher) dispatch() {
	defer close(w.done)
	for {
		select {
		case ev := <-w.events:
			w.forward(ev)
		case <-w.quit:
			for {
				select {
				case ev := <-w.events:
					w.forward(ev)
				default:
					return
				}
			}
		}
	}
}

// ShouldForward keeps container events except stop and kill.
func ShouldForward(e model.RuntimeEvent) bool {
	if e.Type != "container" {
		return false
	}
	return e.Action != "stop" && e.Action != "kill"
}

func (w *Watcher) forward(ev model.RuntimeEvent) {
	if !ShouldForward(ev) {
		w.dropped.Add(1)
		return
	}
	payload := model.NewForwardedEvent(ev)
	if ev.Action == "create" && w.inspector != nil {
		ictx, cancel := context.WithTimeout(w.ctx, w.opts.InspectTimeout)
		insp, err := w.inspector.InspectContainer(ictx, ev.Actor.ID)
		cancel()
		if err != nil {
			w.logger.Error("failed to inspect created container", "id", ev.Actor.ID, "error", err)
		} else {
			payload.Attributes = DescribeContainer(insp)
		}
	}
	w.lastEvent.Store(time.Now().UnixNano())
	if err := w.sink.Post(w.ctx, model.DockerEvent{Payload: payload}); err != nil {
		w.failed.Add(1)
		w.logger.Error("failed to forward event", "event", ev.Action, "id", ev.Actor.ID, "error", err)
		return
	}
	w.forwarded.Add(1)
}
