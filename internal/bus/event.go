package bus

import "sync"

// Code classifies a command Event. Every worker's command topic carries
// events tagged with one of these, per spec.md §4.A.
type Code int32

const (
	Start Code = iota
	Stop
	Pause
	Resume
	Read
	Write
	Configure
	Query
	Clear
)

func (c Code) String() string {
	switch c {
	case Start:
		return "Start"
	case Stop:
		return "Stop"
	case Pause:
		return "Pause"
	case Resume:
		return "Resume"
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Configure:
		return "Configure"
	case Query:
		return "Query"
	case Clear:
		return "Clear"
	default:
		return "Unknown"
	}
}

// Event carries a command code and a free-form string-keyed payload
// (already-decoded JSON, per spec.md §6), plus a single-shot pair of
// continuations. Exactly one of Resolve/Reject must be called by the
// handler.
type Event struct {
	Code Code
	Data map[string]any

	once     sync.Once
	resolve  func(data map[string]any)
	reject   func(code string, message string)
	resolved chan struct{}
}

// Result is delivered to the caller of NewEvent's resolve/reject
// continuation once the handler completes.
type Result struct {
	OK      bool
	Data    map[string]any
	Code    string
	Message string
}

// NewEvent builds an Event paired with a channel that receives exactly one
// Result when Resolve or Reject is invoked.
func NewEvent(code Code, data map[string]any) (*Event, <-chan Result) {
	ch := make(chan Result, 1)
	e := &Event{Code: code, Data: data, resolved: make(chan struct{})}
	e.resolve = func(data map[string]any) {
		ch <- Result{OK: true, Data: data}
		close(ch)
	}
	e.reject = func(code string, message string) {
		ch <- Result{OK: false, Code: code, Message: message}
		close(ch)
	}
	return e, ch
}

// Resolve completes the event successfully. Safe to call at most once;
// subsequent calls (including a following Reject) are no-ops.
func (e *Event) Resolve(data map[string]any) {
	e.once.Do(func() {
		close(e.resolved)
		e.resolve(data)
	})
}

// Reject completes the event with a failure code and message. Safe to
// call at most once.
func (e *Event) Reject(code string, message string) {
	e.once.Do(func() {
		close(e.resolved)
		e.reject(code, message)
	})
}
