// Package task provides lifecycle notifications and membership tracking for
// asynchronously running units of work: scheduled tasks, channel-triggered
// runs, and delegated sub-agents. The bus is the change feed; the registry
// is the rebuildable snapshot a late subscriber reconstructs state from.
package task

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/convoy-ai/convoy/internal/logging"
	"github.com/convoy-ai/convoy/pkg/types"
)

// GlobalTopic is the watermill topic carrying every task event. Per-user
// events additionally go to UserTopic(userID).
const GlobalTopic = "task"

// UserTopic returns the per-user watermill topic name.
func UserTopic(userID string) string {
	return GlobalTopic + ":" + userID
}

// Handler receives task events. Handlers run on their own goroutines;
// a slow or panicking handler never blocks emission to others.
type Handler func(event types.TaskEvent)

type subscriberEntry struct {
	id uint64
	fn Handler
}

// Bus fans task events out to per-user and global subscribers over
// watermill gochannel infrastructure. Construct one per process and pass
// it by reference; tests build isolated instances with NewBus.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	global []subscriberEntry
	byUser map[string][]subscriberEntry

	nextID       uint64
	maxListeners int
	capWarned    bool
	closed       bool
}

// NewBus creates a Bus. maxListeners is a generous cap on total
// subscribers; exceeding it logs a warning but never refuses a subscriber,
// since every open SSE connection is one.
func NewBus(maxListeners int) *Bus {
	if maxListeners <= 0 {
		maxListeners = types.DefaultConfig().Tasks.MaxListeners
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		byUser:       make(map[string][]subscriberEntry),
		maxListeners: maxListeners,
	}
}

// EmitStarted publishes a started event for the task.
func (b *Bus) EmitStarted(task *types.Task) {
	b.emit(types.TaskEvent{
		Type:      types.TaskStarted,
		TaskID:    task.ID,
		RunID:     task.RunID,
		UserID:    task.UserID,
		Status:    task.Status,
		Timestamp: time.Now().UnixMilli(),
	})
}

// EmitProgress publishes a progress event. status is free-form and may
// describe a task the registry has never seen; events can race ahead of
// registration.
func (b *Bus) EmitProgress(taskID, runID, userID, status string) {
	b.emit(types.TaskEvent{
		Type:      types.TaskProgress,
		TaskID:    taskID,
		RunID:     runID,
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	})
}

// EmitCompleted publishes a completed event. errMsg is empty on success.
func (b *Bus) EmitCompleted(taskID, runID, userID, errMsg, resultSummary string) {
	status := "completed"
	if errMsg != "" {
		status = "failed"
	}
	b.emit(types.TaskEvent{
		Type:          types.TaskCompleted,
		TaskID:        taskID,
		RunID:         runID,
		UserID:        userID,
		Status:        status,
		Timestamp:     time.Now().UnixMilli(),
		Error:         errMsg,
		ResultSummary: resultSummary,
	})
}

// emit delivers the event to the global topic and, when the event carries a
// user, to that user's topic. Delivery is at-most-once per listener and
// best-effort: each handler runs on its own goroutine with panic recovery.
func (b *Bus) emit(event types.TaskEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	handlers := make([]Handler, 0, len(b.global)+4)
	for _, entry := range b.global {
		handlers = append(handlers, entry.fn)
	}
	if event.UserID != "" {
		for _, entry := range b.byUser[event.UserID] {
			handlers = append(handlers, entry.fn)
		}
	}
	pubsub := b.pubsub
	b.mu.RUnlock()

	for _, fn := range handlers {
		go func(fn Handler) {
			defer func() {
				if r := recover(); r != nil {
					logging.Error().
						Any("panic", r).
						Str("stack", string(debug.Stack())).
						Msg("task event handler panicked")
				}
			}()
			fn(event)
		}(fn)
	}

	// Mirror onto watermill topics for middleware and future distributed
	// backends, matching the in-process fan-out above.
	if payload, err := json.Marshal(event); err == nil {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := pubsub.Publish(GlobalTopic, msg); err != nil {
			logging.Debug().Err(err).Msg("watermill global publish failed")
		}
		if event.UserID != "" {
			userMsg := message.NewMessage(watermill.NewUUID(), payload)
			if err := pubsub.Publish(UserTopic(event.UserID), userMsg); err != nil {
				logging.Debug().Err(err).Msg("watermill user publish failed")
			}
		}
	}
}

// Subscribe registers a handler for one user's events plus all global
// emissions for that user. An empty userID subscribes to every event. The
// returned closure unsubscribes and is safe to call more than once.
func (b *Bus) Subscribe(userID string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	total := len(b.global)
	for _, subs := range b.byUser {
		total += len(subs)
	}
	if total >= b.maxListeners && !b.capWarned {
		b.capWarned = true
		logging.Warn().
			Int("listeners", total).
			Int("cap", b.maxListeners).
			Msg("task bus listener cap exceeded; possible subscription leak")
	}

	id := atomic.AddUint64(&b.nextID, 1)
	entry := subscriberEntry{id: id, fn: fn}
	if userID == "" {
		b.global = append(b.global, entry)
	} else {
		b.byUser[userID] = append(b.byUser[userID], entry)
	}

	return func() {
		b.unsubscribe(userID, id)
	}
}

// unsubscribe removes a handler by id. Calling it twice is a no-op.
func (b *Bus) unsubscribe(userID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if userID == "" {
		for i, entry := range b.global {
			if entry.id == id {
				b.global = append(b.global[:i], b.global[i+1:]...)
				return
			}
		}
		return
	}

	subs := b.byUser[userID]
	for i, entry := range subs {
		if entry.id == id {
			b.byUser[userID] = append(subs[:i], subs[i+1:]...)
			if len(b.byUser[userID]) == 0 {
				delete(b.byUser, userID)
			}
			return
		}
	}
}

// SubscribeStream returns a watermill channel of raw event messages for the
// user's topic, for consumers that want backpressure-aware delivery instead
// of callbacks. The subscription ends when ctx is cancelled.
func (b *Bus) SubscribeStream(ctx context.Context, userID string) (<-chan *message.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topic := GlobalTopic
	if userID != "" {
		topic = UserTopic(userID)
	}
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts the bus down; subsequent emissions are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.global = nil
	b.byUser = make(map[string][]subscriberEntry)
	b.mu.Unlock()

	return b.pubsub.Close()
}
