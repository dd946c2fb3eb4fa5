// Package events centralizes event names and provides the in-process
// publish/subscribe bus that fans domain events out to subscribers.
package events

import (
	"sync"

	"karaoke/internal/logger"
	"karaoke/internal/model"
)

// Job lifecycle events, emitted to the jobs room.
const (
	JobCreated   = "job_created"
	JobUpdated   = "job_updated"
	JobCompleted = "job_completed"
	JobFailed    = "job_failed"
	JobCancelled = "job_cancelled"
	JobsList     = "jobs_list"
)

// Performance room events.
const (
	PerformanceState = "performance_state"
	ControlUpdated   = "control_updated"
	PlaybackPlay     = "playback_play"
	PlaybackPause    = "playback_pause"
	ResetPlayerState = "reset_player_state"
)

// PlayerEventKind identifies a performance-room event.
type PlayerEventKind string

const (
	PlayerKindState          PlayerEventKind = "state"
	PlayerKindPlay           PlayerEventKind = "play"
	PlayerKindPause          PlayerEventKind = "pause"
	PlayerKindReset          PlayerEventKind = "reset"
	PlayerKindControlUpdated PlayerEventKind = "control_updated"
)

// JobEvent carries a job snapshot for one state change.
type JobEvent struct {
	JobID      string
	Job        model.Job
	WasCreated bool
}

// PlayerEvent carries a performance-control change. SenderID names the
// session that triggered it, for event kinds whose broadcast excludes
// the sender.
type PlayerEvent struct {
	Kind     PlayerEventKind
	Payload  any
	SenderID string
}

// EventName maps a job snapshot to the wire event emitted for it.
func (e JobEvent) EventName() string {
	if e.WasCreated {
		return JobCreated
	}
	switch e.Job.Status {
	case model.StatusCompleted:
		return JobCompleted
	case model.StatusFailed:
		return JobFailed
	case model.StatusCancelled:
		return JobCancelled
	default:
		return JobUpdated
	}
}

// JobHandler receives job events. Handlers run synchronously on the
// publisher's goroutine and must only enqueue work, never block on I/O.
type JobHandler func(JobEvent)

// PlayerHandler receives performance-control events.
type PlayerHandler func(PlayerEvent)

// Bus is a process-local synchronous publish/subscribe. Publish returns
// after every subscriber handler has run. Events published with no
// subscribers attached are dropped.
type Bus struct {
	mu             sync.RWMutex
	nextID         int
	jobHandlers    map[int]JobHandler
	playerHandlers map[int]PlayerHandler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		jobHandlers:    make(map[int]JobHandler),
		playerHandlers: make(map[int]PlayerHandler),
	}
}

// SubscribeJobs registers a handler for job events and returns an
// unsubscribe function. Safe under concurrent publish.
func (b *Bus) SubscribeJobs(h JobHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.jobHandlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.jobHandlers, id)
		b.mu.Unlock()
	}
}

// SubscribePlayer registers a handler for performance-control events.
func (b *Bus) SubscribePlayer(h PlayerHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.playerHandlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.playerHandlers, id)
		b.mu.Unlock()
	}
}

// PublishJob delivers the event to every job subscriber in registration
// order. A panicking handler is logged and does not affect the others.
func (b *Bus) PublishJob(event JobEvent) {
	b.mu.RLock()
	handlers := make([]JobHandler, 0, len(b.jobHandlers))
	for id := 0; id < b.nextID; id++ {
		if h, ok := b.jobHandlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invokeJob(h, event)
	}
}

// PublishPlayer delivers the event to every player subscriber.
func (b *Bus) PublishPlayer(event PlayerEvent) {
	b.mu.RLock()
	handlers := make([]PlayerHandler, 0, len(b.playerHandlers))
	for id := 0; id < b.nextID; id++ {
		if h, ok := b.playerHandlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invokePlayer(h, event)
	}
}

func (b *Bus) invokeJob(h JobHandler, event JobEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().
				Interface("panic", r).
				Str("jobID", event.JobID).
				Msg("job event subscriber panicked")
		}
	}()
	h(event)
}

func (b *Bus) invokePlayer(h PlayerHandler, event PlayerEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().
				Interface("panic", r).
				Str("kind", string(event.Kind)).
				Msg("player event subscriber panicked")
		}
	}()
	h(event)
}
