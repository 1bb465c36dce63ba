package monitor

import "sync/atomic"

// Interrupts decouples asynchronous delivery (signal handlers, admin
// surfaces) from the synchronous point where the event loop acts on them.
// Producers set flags and wake the loop; the loop polls the flags once per
// iteration. All methods are safe for concurrent use.
type Interrupts struct {
	shutdown atomic.Bool
	reload   atomic.Bool
	wake     chan struct{}
}

func NewInterrupts() *Interrupts {
	return &Interrupts{wake: make(chan struct{}, 1)}
}

// RequestShutdown flags a graceful shutdown and wakes the loop. Shutdown is
// terminal; the flag is never cleared.
func (i *Interrupts) RequestShutdown() {
	i.shutdown.Store(true)
	i.Wake()
}

// RequestReload flags a configuration reload and wakes the loop.
func (i *Interrupts) RequestReload() {
	i.reload.Store(true)
	i.Wake()
}

// Wake interrupts an in-progress wait without flagging anything.
func (i *Interrupts) Wake() {
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

func (i *Interrupts) ShutdownRequested() bool { return i.shutdown.Load() }

// TakeReload consumes a pending reload request.
func (i *Interrupts) TakeReload() bool { return i.reload.Swap(false) }

// Woken exposes the wake signal for the loop's combined wait.
func (i *Interrupts) Woken() <-chan struct{} { return i.wake }

// ClearWake drops a pending wake so a consumed interrupt does not cut the
// following wait short.
func (i *Interrupts) ClearWake() {
	select {
	case <-i.wake:
	default:
	}
}
