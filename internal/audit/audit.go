// Package audit emits the append-only session event trail. The engine
// only produces events; storage of the trail belongs to a downstream
// consumer.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"presence/internal/queue"
)

// Action identifies a session lifecycle event.
type Action string

const (
	ActionStart   Action = "START"
	ActionRotate  Action = "ROTATE"
	ActionEnd     Action = "END"
	ActionCorrect Action = "CORRECT"
)

// Event is one append-only trail entry. Credential carries the
// credential value current at the time of the action.
type Event struct {
	Action     Action            `json:"action"`
	LectureID  string            `json:"lecture_id"`
	Actor      string            `json:"actor"`
	Credential string            `json:"credential,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	At         time.Time         `json:"at"`
}

// Sink accepts trail entries. Implementations must be safe for
// concurrent use; callers treat Record as fire-and-forget.
type Sink interface {
	Record(ctx context.Context, evt Event) error
}

// QueueSink publishes events onto the shared queue for the worker.
type QueueSink struct {
	q queue.Queue
}

// NewQueueSink wraps a queue as an audit sink.
func NewQueueSink(q queue.Queue) *QueueSink {
	return &QueueSink{q: q}
}

// Record publishes the event.
func (s *QueueSink) Record(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return s.q.Publish(ctx, queue.Message{Type: queue.TypeAudit, Body: body})
}

// LogSink writes events to the process log; used when no queue is wired.
type LogSink struct{}

// Record logs the event.
func (LogSink) Record(_ context.Context, evt Event) error {
	log.Printf("audit: %s lecture=%s actor=%s", evt.Action, evt.LectureID, evt.Actor)
	return nil
}
