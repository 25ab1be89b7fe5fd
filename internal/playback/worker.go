package playback

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/zsiec/reel/internal/media"
)

// worker runs posted functions one at a time on its own goroutine. The
// mailbox is unbounded: the amount of queued work is bounded by the
// demuxer's read-ahead and the decoders' in-flight frame caps.
type worker struct {
	name string

	mu    sync.Mutex
	queue []func()
	quit  bool
	wake  chan struct{}
	done  chan struct{}
}

func newWorker(name string) *worker {
	w := &worker{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// post queues fn. It reports false once the worker is stopping.
func (w *worker) post(fn func()) bool {
	w.mu.Lock()
	if w.quit {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, fn)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the worker and waits for it. It must not be called from
// the worker itself.
func (w *worker) call(fn func()) bool {
	done := make(chan struct{})
	if !w.post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

func (w *worker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.quit {
			w.mu.Unlock()
			<-w.wake
			w.mu.Lock()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		fn := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		fn()
	}
}

// stop refuses further posts; already queued functions still run.
func (w *worker) stop() {
	w.mu.Lock()
	w.quit = true
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) wait() { <-w.done }

const demuxerRole = "demuxer"

func decoderRole(t media.TrackType) string { return "decoder-" + t.String() }

func rendererRole(t media.TrackType) string { return "renderer-" + t.String() }

// workers keeps one worker per object role, created on first use.
type workers struct {
	log *slog.Logger
	mu  sync.Mutex
	m   map[string]*worker
}

func newWorkers(log *slog.Logger) *workers {
	if log == nil {
		log = slog.Default()
	}
	return &workers{
		log: log.With("component", "workers"),
		m:   make(map[string]*worker),
	}
}

// get returns the worker for role, starting it if needed.
func (ws *workers) get(role string) *worker {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	w, ok := ws.m[role]
	if !ok {
		w = newWorker(role)
		ws.m[role] = w
		ws.log.Debug("worker started", "role", role)
	}
	return w
}

// retain stops every worker whose role is not in keep and waits for them
// to finish their queued work.
func (ws *workers) retain(keep []string) {
	ws.mu.Lock()
	var free []*worker
	for role, w := range ws.m {
		if !slices.Contains(keep, role) {
			delete(ws.m, role)
			free = append(free, w)
		}
	}
	ws.mu.Unlock()

	for _, w := range free {
		w.stop()
	}
	for _, w := range free {
		w.wait()
		ws.log.Debug("worker stopped", "role", w.name)
	}
}

// roles lists the running workers, sorted.
func (ws *workers) roles() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	roles := make([]string, 0, len(ws.m))
	for role := range ws.m {
		roles = append(roles, role)
	}
	slices.Sort(roles)
	return roles
}
