package engine

import (
	"time"
)

// EventType labels lifecycle notifications emitted while a run is in
// flight.
type EventType string

const (
	EventTypeSpawning   EventType = "spawning"
	EventTypeSpawned    EventType = "spawned"
	EventTypeStopping   EventType = "stopping"
	EventTypeReaped     EventType = "reaped"
	EventTypeForcedKill EventType = "forced-kill"
	EventTypeOOMRestart EventType = "oom-restart"
	EventTypeFailed     EventType = "failed"
	EventTypeDone       EventType = "done"
)

// Event is a single lifecycle notification.
type Event struct {
	Timestamp time.Time
	Stressor  string
	Instance  int
	Pid       int
	Type      EventType
	Message   string
	Err       error
}

func sendEvent(events chan<- Event, stressor string, instance, pid int, t EventType, message string, err error) {
	if events == nil {
		return
	}
	events <- Event{
		Timestamp: time.Now(),
		Stressor:  stressor,
		Instance:  instance,
		Pid:       pid,
		Type:      t,
		Message:   message,
		Err:       err,
	}
}
