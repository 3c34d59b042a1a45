package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/surveyor-ai/surveyor/internal/apperr"
)

const (
	// ListenTimeout caps a single stream's wall-clock lifetime.
	ListenTimeout = 10 * time.Minute
	// PingInterval is how often an idle stream emits a keep-alive.
	PingInterval = 10 * time.Second

	queueDepth = 256
)

// ErrQueueClosed is returned when publishing after stream termination.
var ErrQueueClosed = errors.New("event queue closed")

// ErrEntityPayload is returned when a payload embeds a live store entity.
var ErrEntityPayload = errors.New("event payload carries a live store entity")

// StopChecker reports whether a task's cooperative stop flag is set.
type StopChecker interface {
	IsStopped(ctx context.Context, taskID string) bool
}

// Queue is the per-task FIFO between producers (model streams, tool
// callbacks, graph nodes) and the single consuming stream pipeline.
type Queue struct {
	taskID string
	flags  StopChecker
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	logger *log.Logger
}

// NewQueue creates the queue for one task. The queue owns its lifetime: it
// is destroyed when the stream terminates or the stop flag trips.
func NewQueue(taskID string, flags StopChecker) *Queue {
	return &Queue{
		taskID: taskID,
		flags:  flags,
		ch:     make(chan Event, queueDepth),
		done:   make(chan struct{}),
		logger: log.New(log.Writer(), "[QUEUE] ", log.LstdFlags),
	}
}

// TaskID returns the owning task identifier.
func (q *Queue) TaskID() string { return q.taskID }

// Publish enqueues an event. Terminal events additionally signal stream
// termination. Publishing from the application manager after the stop flag
// is set fails with the cooperative stop token; it never drops silently.
func (q *Queue) Publish(ctx context.Context, ev Event, source string) error {
	if source == SourceApplicationManager && q.flags != nil && q.flags.IsStopped(ctx, q.taskID) {
		return apperr.ErrTaskStopped
	}
	if carriesEntity(ev.Metadata) || carriesEntity(ev.Result) {
		return fmt.Errorf("publish %s: %w", ev.Type, ErrEntityPayload)
	}
	ev.Source = source
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- ev:
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if ev.Terminal() {
		q.once.Do(func() { close(q.done) })
	}
	return nil
}

// PublishChunk enqueues a token delta.
func (q *Queue) PublishChunk(ctx context.Context, delta string, metadata map[string]interface{}, source string) error {
	return q.Publish(ctx, Event{Type: TypeChunk, Delta: delta, Metadata: metadata}, source)
}

// PublishAgentThought enqueues a thought-record reference by id.
func (q *Queue) PublishAgentThought(ctx context.Context, thoughtID string, source string) error {
	return q.Publish(ctx, Event{Type: TypeAgentThought, ThoughtID: thoughtID}, source)
}

// PublishPlan enqueues the current plan as JSON.
func (q *Queue) PublishPlan(ctx context.Context, plan json.RawMessage, source string) error {
	return q.Publish(ctx, Event{Type: TypePlan, PlanJSON: plan}, source)
}

// PublishInterrupt enqueues a human-in-the-loop interrupt request.
func (q *Queue) PublishInterrupt(ctx context.Context, payload json.RawMessage, source string) error {
	return q.Publish(ctx, Event{Type: TypeInterrupt, Interrupt: payload}, source)
}

// PublishResources enqueues retrieval citations for the active tool call.
func (q *Queue) PublishResources(ctx context.Context, resources []RetrieverResource, source string) error {
	return q.Publish(ctx, Event{Type: TypeRetrieverRes, Resources: resources}, source)
}

// PublishMessageReplace swaps the accumulated answer text.
func (q *Queue) PublishMessageReplace(ctx context.Context, text string, source string) error {
	return q.Publish(ctx, Event{Type: TypeMessageReplace, Replace: text}, source)
}

// PublishMessageEnd enqueues the terminal result.
func (q *Queue) PublishMessageEnd(ctx context.Context, result *EndResult, source string) error {
	return q.Publish(ctx, Event{Type: TypeMessageEnd, Result: result}, source)
}

// PublishStop terminates the stream with a reason.
func (q *Queue) PublishStop(ctx context.Context, reason string, source string) error {
	return q.Publish(ctx, Event{Type: TypeStop, Reason: reason}, source)
}

// PublishError terminates the stream with a structured error.
func (q *Queue) PublishError(ctx context.Context, errMsg string, code int, status int, source string) error {
	return q.Publish(ctx, Event{Type: TypeError, Err: errMsg, Code: code, HTTPStatus: status}, source)
}

// Listen returns the single consumer channel. Events arrive in publish order
// per producer; a Ping is synthesized every PingInterval while idle; the
// channel closes after a terminal event, ListenTimeout, or context cancel.
// A queue is not restartable: Listen must be called at most once.
func (q *Queue) Listen(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		deadline := time.NewTimer(ListenTimeout)
		defer deadline.Stop()
		ping := time.NewTicker(PingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-deadline.C:
				q.once.Do(func() { close(q.done) })
				select {
				case out <- Event{Type: TypeStop, Reason: "listen timeout", Timestamp: time.Now()}:
				case <-ctx.Done():
				}
				return
			case <-ping.C:
				select {
				case out <- Event{Type: TypePing, Timestamp: time.Now()}:
				case <-ctx.Done():
					return
				}
			case ev := <-q.ch:
				ping.Reset(PingInterval)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Terminal() {
					return
				}
			}
		}
	}()
	return out
}
