package types

import "sync/atomic"

// Monitor is the cooperative progress and cancellation handle threaded
// through every step invocation. Steps check Cancelled between sub-units
// of their own work; the engine never forcibly interrupts running work,
// it only stops scheduling not-yet-started steps.
type Monitor interface {
	// Start announces a unit of work with the given label and total size.
	Start(label string, total int)
	// Progress reports completed work with an optional message.
	Progress(work int, msg string)
	// Done marks the unit of work announced by Start as finished.
	Done()
	// Cancelled reports whether cancellation has been requested.
	Cancelled() bool
}

// NullMonitor is a Monitor that ignores all reports and is never cancelled.
type NullMonitor struct{}

func (NullMonitor) Start(string, int)    {}
func (NullMonitor) Progress(int, string) {}
func (NullMonitor) Done()                {}
func (NullMonitor) Cancelled() bool      { return false }

// CancelMonitor is a Monitor with an externally settable cancellation flag.
type CancelMonitor struct {
	cancelled atomic.Bool
}

func (m *CancelMonitor) Start(string, int)    {}
func (m *CancelMonitor) Progress(int, string) {}
func (m *CancelMonitor) Done()                {}

// Cancel requests cancellation. Safe to call from any goroutine.
func (m *CancelMonitor) Cancel() { m.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (m *CancelMonitor) Cancelled() bool { return m.cancelled.Load() }

var (
	_ Monitor = NullMonitor{}
	_ Monitor = (*CancelMonitor)(nil)
)
