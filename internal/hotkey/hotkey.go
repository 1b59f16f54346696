// Package hotkey provides a global hotkey listener using gohook and binds
// its events to a session controller. It supports "hold" mode (press to
// start a take, release to stop it) and "toggle" mode (press to start,
// press again to stop).
package hotkey

import (
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType indicates whether a take should start or stop.
type EventType int

const (
	// EventStart signals that the hotkey was activated (start a take).
	EventStart EventType = iota
	// EventStop signals that the hotkey was deactivated (stop the take).
	EventStop
)

func (t EventType) String() string {
	if t == EventStart {
		return "start"
	}
	return "stop"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Trigger turns raw key presses and releases into start/stop events for a
// mode. It is safe for concurrent use.
type Trigger struct {
	mode string

	mu     sync.Mutex
	active bool
}

// NewTrigger returns a Trigger for "hold" or "toggle"; anything else is
// treated as "hold".
func NewTrigger(mode string) *Trigger {
	return &Trigger{mode: mode}
}

// Press handles a key-down of the full combo.
func (t *Trigger) Press() (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode == "toggle" {
		t.active = !t.active
		if t.active {
			return Event{Type: EventStart}, true
		}
		return Event{Type: EventStop}, true
	}
	// Key repeat delivers extra key-downs while held.
	if t.active {
		return Event{}, false
	}
	t.active = true
	return Event{Type: EventStart}, true
}

// Release handles a key-up of the combo. Toggle mode ignores releases.
func (t *Trigger) Release() (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode == "toggle" || !t.active {
		return Event{}, false
	}
	t.active = false
	return Event{Type: EventStop}, true
}

// Listener manages a global hotkey and emits start/stop events.
type Listener struct {
	keys    []string
	trigger *Trigger
	ch      chan Event
	done    chan struct{}
	once    sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "s"]).
// mode must be "hold" or "toggle".
func NewListener(keys []string, mode string) *Listener {
	return &Listener{
		keys:    keys,
		trigger: NewTrigger(mode),
		ch:      make(chan Event, 16),
		done:    make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Start returns.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) {
		if ev, ok := l.trigger.Press(); ok {
			l.emit(ev)
		}
	})
	hook.Register(hook.KeyUp, l.keys, func(hook.Event) {
		if ev, ok := l.trigger.Release(); ok {
			l.emit(ev)
		}
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// emit never blocks the hook thread.
func (l *Listener) emit(ev Event) {
	select {
	case l.ch <- ev:
	default:
		slog.Warn("[hotkey] event queue full, dropping event", "event", ev.Type)
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// Controller is the part of a session controller that hotkeys drive.
type Controller interface {
	Start() error
	Stop() error
}

// Bind forwards events to ctl until events is closed. A failed send is
// logged and the next event is still delivered.
func Bind(events <-chan Event, ctl Controller) {
	for ev := range events {
		var err error
		switch ev.Type {
		case EventStart:
			err = ctl.Start()
		case EventStop:
			err = ctl.Stop()
		}
		if err != nil {
			slog.Error("[hotkey] forwarding event", "event", ev.Type, "error", err)
		}
	}
}
