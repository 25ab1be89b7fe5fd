package playback

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var lastObjectID atomic.Uint64

// stepper is implemented by the engine objects. The methods run on the
// object's worker.
type stepper interface {
	canDoNextStep() bool
	doNextStep()
	timerInterval() time.Duration
	onPauseChanged()
	// onKill releases resources once the object has been killed.
	onKill()
}

// receiver runs delivered signals on its own worker.
type receiver interface {
	invoke(fn func())
	dead() bool
}

type slot[T any] struct {
	recv receiver
	fn   func(T)
}

// signal is a list of queued connections: emitting posts each slot to its
// receiver's worker. Slots of dead receivers are dropped.
type signal[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
}

func (s *signal[T]) connect(recv receiver, fn func(T)) {
	s.mu.Lock()
	s.slots = append(s.slots, slot[T]{recv: recv, fn: fn})
	s.mu.Unlock()
}

func (s *signal[T]) emit(v T) {
	s.mu.Lock()
	s.slots = slices.DeleteFunc(s.slots, func(sl slot[T]) bool { return sl.recv.dead() })
	slots := slices.Clone(s.slots)
	s.mu.Unlock()

	for _, sl := range slots {
		fn := sl.fn
		sl.recv.invoke(func() { fn(v) })
	}
}

func (s *signal[T]) disconnect() {
	s.mu.Lock()
	s.slots = nil
	s.mu.Unlock()
}

// env is what every engine object shares with the engine.
type env struct {
	cfg     Config
	now     func() time.Time
	stats   *counters
	baseLog *slog.Logger
}

// errorEvent is a non-fatal error reported by an object.
type errorEvent struct {
	code ErrorCode
	msg  string
}

// object is the state shared by the demuxer, stream decoders and
// renderers: identity, pause and end flags, and a single-shot step timer
// that is re-armed after each step.
type object struct {
	id   uint64
	role string
	log  *slog.Logger
	w    *worker
	self stepper

	paused   atomic.Bool
	deleting atomic.Bool
	atEnd    atomic.Bool

	timer    *time.Timer
	timerGen uint64

	atEndSig signal[struct{}]
	errorSig signal[errorEvent]
}

func (o *object) init(self stepper, role string, w *worker, log *slog.Logger) {
	o.id = lastObjectID.Add(1)
	o.role = role
	o.w = w
	o.self = self
	o.log = log.With("component", role, "id", o.id)
	o.paused.Store(true)
}

// ID identifies the object. IDs are never reused.
func (o *object) ID() uint64 { return o.id }

func (o *object) isPaused() bool { return o.paused.Load() }

func (o *object) isAtEnd() bool { return o.atEnd.Load() }

// invoke runs fn on the object's worker unless the object has been killed
// by then.
func (o *object) invoke(fn func()) {
	o.w.post(func() {
		if !o.deleting.Load() {
			fn()
		}
	})
}

func (o *object) dead() bool { return o.deleting.Load() }

// invokeSync is invoke that waits for fn to run.
func (o *object) invokeSync(fn func()) {
	o.w.call(func() {
		if !o.deleting.Load() {
			fn()
		}
	})
}

// setPaused may be called from any goroutine.
func (o *object) setPaused(paused bool) {
	if o.paused.Swap(paused) != paused {
		o.invoke(o.self.onPauseChanged)
	}
}

// kill severs the object's connections and releases it on its worker
// after any step in progress.
func (o *object) kill() {
	if o.deleting.Swap(true) {
		return
	}
	o.paused.Store(true)
	o.atEndSig.disconnect()
	o.errorSig.disconnect()
	o.w.post(func() {
		o.stopTimer()
		o.self.onKill()
	})
}

func (o *object) setAtEnd(atEnd bool) {
	if o.atEnd.Swap(atEnd) == atEnd {
		return
	}
	if atEnd {
		o.atEndSig.emit(struct{}{})
	}
}

func (o *object) emitError(code ErrorCode, msg string) {
	o.log.Warn("error", "code", code, "message", msg)
	o.errorSig.emit(errorEvent{code: code, msg: msg})
}

// baseCanDoNextStep is the default step condition.
func (o *object) baseCanDoNextStep() bool { return !o.paused.Load() }

// baseOnPauseChanged is the default pause reaction.
func (o *object) baseOnPauseChanged() { o.scheduleNextStep(true) }

// scheduleNextStep arms the step timer, or steps right away when the
// interval is zero and allowImmediate is set.
func (o *object) scheduleNextStep(allowImmediate bool) {
	if o.deleting.Load() || !o.self.canDoNextStep() {
		o.stopTimer()
		return
	}
	d := o.self.timerInterval()
	if d <= 0 && allowImmediate {
		o.stopTimer()
		o.self.doNextStep()
		return
	}
	o.startTimer(d)
}

func (o *object) startTimer(d time.Duration) {
	o.stopTimer()
	gen := o.timerGen
	fire := func() { o.onTimeout(gen) }
	if d <= 0 {
		o.w.post(fire)
		return
	}
	o.timer = time.AfterFunc(d, func() { o.w.post(fire) })
}

func (o *object) stopTimer() {
	o.timerGen++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (o *object) onTimeout(gen uint64) {
	if gen != o.timerGen {
		return
	}
	o.timer = nil
	if !o.deleting.Load() && o.self.canDoNextStep() {
		o.self.doNextStep()
	}
}
