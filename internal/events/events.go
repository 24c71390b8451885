// Package events carries workflow phase transitions to observers.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

// Event is emitted on every workflow phase transition.
type Event struct {
	ID       string          `json:"id"                msgpack:"id"`
	RunID    string          `json:"run_id,omitempty"  msgpack:"run_id,omitempty"`
	Phase    string          `json:"phase"             msgpack:"phase"`
	IP       string          `json:"ip,omitempty"      msgpack:"ip,omitempty"`
	Model    string          `json:"model,omitempty"   msgpack:"model,omitempty"`
	Progress models.Progress `json:"progress"          msgpack:"progress"`
	Error    *models.Failure `json:"error,omitempty"   msgpack:"error,omitempty"`
	At       time.Time       `json:"at"                msgpack:"at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(_ context.Context, _ Event) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// subscriberBuffer is the per-subscriber queue length.
const subscriberBuffer = 16

// Broadcaster fans events out to in-process subscribers. A subscriber whose
// buffer is full misses the event rather than stalling the workflow.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("event subscriber lagging, dropping event", "phase", ev.Phase, "run_id", ev.RunID)
		}
	}
	return nil
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var (
	_ Publisher = Discard{}
	_ Publisher = Multi(nil)
	_ Publisher = (*Broadcaster)(nil)
)
