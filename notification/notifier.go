package notification

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"

	"github.com/jmgilman/go/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultTrayLimit is the number of notifications a tray keeps by default.
const DefaultTrayLimit = 100

// Tray keeps the currently displayed notifications in memory.
// Showing a notification with the tag of a displayed one replaces it.
// When the tray is full the oldest notification is dropped.
type Tray struct {
	mutex sync.RWMutex
	items []Notification
	limit int
}

// NewTray returns a tray holding at most limit notifications,
// or DefaultTrayLimit if limit is not positive.
func NewTray(limit int) *Tray {
	if limit <= 0 {
		limit = DefaultTrayLimit
	}
	return &Tray{limit: limit}
}

func (t *Tray) Show(ctx context.Context, n Notification) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for i, item := range t.items {
		if n.Tag != "" && item.Tag == n.Tag {
			t.items = append(t.items[:i], t.items[i+1:]...)
			break
		}
	}
	if len(t.items) >= t.limit {
		t.items = append(t.items[:0], t.items[len(t.items)-t.limit+1:]...)
	}
	t.items = append(t.items, n)
	return nil
}

func (t *Tray) Close(ctx context.Context, id string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for i, item := range t.items {
		if item.ID == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (t *Tray) Get(id string) (Notification, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	for _, item := range t.items {
		if item.ID == id {
			return item, true
		}
	}
	return Notification{}, false
}

// List returns the displayed notifications, oldest first.
func (t *Tray) List() []Notification {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return append([]Notification{}, t.items...)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Show(ctx context.Context, n Notification) error {
	l.Logger.Info().
		Str("id", n.ID).
		Str("title", n.Title).
		Str("body", n.Body).
		Str("tag", n.Tag).
		Bool("requireInteraction", n.RequireInteraction).
		Msg("Notification")
	return nil
}

func (l LogNotifier) Close(ctx context.Context, id string) error {
	l.Logger.Debug().Str("id", id).Msg("Notification closed")
	return nil
}

// RedisNotifier publishes notification events on a Redis channel,
// for delivery by whatever front end subscribes to it.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

type redisEvent struct {
	Type         string        `json:"type"`
	ID           string        `json:"id"`
	Notification *Notification `json:"notification,omitempty"`
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "sw-cache:notifications"
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (r *RedisNotifier) Show(ctx context.Context, n Notification) error {
	return r.publish(ctx, redisEvent{Type: "show", ID: n.ID, Notification: &n})
}

func (r *RedisNotifier) Close(ctx context.Context, id string) error {
	return r.publish(ctx, redisEvent{Type: "close", ID: id})
}

func (r *RedisNotifier) publish(ctx context.Context, evt redisEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "encode notification event")
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return errors.Wrapf(err, errors.CodeNetwork, "redis publish %s", r.channel)
	}
	return nil
}

// Multi shows notifications through all notifiers.
type Multi []Notifier

func (m Multi) Show(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Show(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (m Multi) Close(ctx context.Context, id string) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
