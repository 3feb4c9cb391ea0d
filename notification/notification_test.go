package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/always-cache/sw-cache/clients"
)

func testHandler(locale language.Tag) (*Handler, *Tray, *clients.Registry) {
	tray := NewTray(0)
	registry := clients.NewRegistry(nil, 0)
	return NewHandler(Options{
		Notifier:   tray,
		Opener:     registry,
		Controller: "ttrust-static-v1.1.0",
		Locale:     locale,
		Logger:     zerolog.Nop(),
	}), tray, registry
}

func TestPushDefaults(t *testing.T) {
	h, tray, _ := testHandler(language.Und)
	n, err := h.Push(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.NotNil(t, n)

	assert.Equal(t, "Ttrust", n.Title)
	assert.Equal(t, "Nouvelle notification Ttrust", n.Body)
	assert.Equal(t, DefaultIcon, n.Icon)
	assert.Equal(t, DefaultBadge, n.Badge)
	assert.Equal(t, []int{200, 100, 200}, n.Vibrate)
	assert.Equal(t, DefaultTag, n.Tag)
	assert.False(t, n.RequireInteraction)
	assert.NotNil(t, n.Data)
	require.Len(t, n.Actions, 2)
	assert.Equal(t, ActionView, n.Actions[0].Action)
	assert.Equal(t, "Voir", n.Actions[0].Title)
	assert.Equal(t, ActionDismiss, n.Actions[1].Action)
	assert.Equal(t, "Ignorer", n.Actions[1].Title)
	assert.Len(t, tray.List(), 1)
}

func TestPushEnglishDefaults(t *testing.T) {
	h, _, _ := testHandler(language.AmericanEnglish)
	n, err := h.Push(context.Background(), []byte(`{"title":"Payout"}`))
	require.NoError(t, err)
	assert.Equal(t, "Payout", n.Title)
	assert.Equal(t, "New Ttrust notification", n.Body)
	assert.Equal(t, "View", n.Actions[0].Title)
}

func TestPushPayload(t *testing.T) {
	h, _, _ := testHandler(language.French)
	n, err := h.Push(context.Background(), []byte(`{
		"title": "Retrait",
		"body": "Votre retrait est confirmé",
		"vibrate": [100],
		"data": {"url": "/projects/42"},
		"requireInteraction": true,
		"tag": "withdrawal"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Retrait", n.Title)
	assert.Equal(t, "Votre retrait est confirmé", n.Body)
	assert.Equal(t, []int{100}, n.Vibrate)
	assert.Equal(t, "/projects/42", n.URL())
	assert.True(t, n.RequireInteraction)
	assert.Equal(t, "withdrawal", n.Tag)
}

func TestPushEmptyOrMalformedIsNoop(t *testing.T) {
	h, tray, _ := testHandler(language.French)
	for _, data := range []string{"", "   ", "not json", `{"title": 3}`} {
		n, err := h.Push(context.Background(), []byte(data))
		require.NoError(t, err, data)
		assert.Nil(t, n, data)
	}
	assert.Empty(t, tray.List())
}

func TestTrayReplacesSameTag(t *testing.T) {
	h, tray, _ := testHandler(language.French)
	ctx := context.Background()
	_, err := h.Push(ctx, []byte(`{"title":"one","tag":"t"}`))
	require.NoError(t, err)
	second, err := h.Push(ctx, []byte(`{"title":"two","tag":"t"}`))
	require.NoError(t, err)
	_, err = h.Push(ctx, []byte(`{"title":"three","tag":"other"}`))
	require.NoError(t, err)

	list := tray.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
}

func TestClickRouting(t *testing.T) {
	tests := []struct {
		name   string
		action string
		data   map[string]interface{}
		want   string
	}{
		{"view with url", ActionView, map[string]interface{}{"url": "/projects/7"}, "/projects/7"},
		{"view without url", ActionView, map[string]interface{}{}, "/dashboard"},
		{"body click", "", map[string]interface{}{"url": "/projects/7"}, "/dashboard"},
		{"unknown action", "archive", nil, "/dashboard"},
		{"dismiss", ActionDismiss, map[string]interface{}{"url": "/projects/7"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, tray, registry := testHandler(language.French)
			ctx := context.Background()
			n := h.Build(Payload{Data: tt.data})
			require.NoError(t, tray.Show(ctx, n))

			c, err := h.Click(ctx, ClickEvent{Notification: n, Action: tt.action})
			require.NoError(t, err)
			_, shown := tray.Get(n.ID)
			assert.False(t, shown, "notification not closed")

			if tt.want == "" {
				assert.Nil(t, c)
				assert.Empty(t, registry.List())
				return
			}
			require.NotNil(t, c)
			assert.Equal(t, tt.want, c.URL)
			assert.Equal(t, "ttrust-static-v1.1.0", c.Controller)
		})
	}
}

type failingNotifier struct{}

func (failingNotifier) Show(ctx context.Context, n Notification) error {
	return fmt.Errorf("display unavailable")
}

func (failingNotifier) Close(ctx context.Context, id string) error {
	return nil
}

func TestMultiNotifier(t *testing.T) {
	tray := NewTray(0)
	multi := Multi{tray, LogNotifier{Logger: zerolog.Nop()}, failingNotifier{}}
	h := NewHandler(Options{Notifier: multi, Logger: zerolog.Nop()})

	_, err := h.Push(context.Background(), []byte(`{"title":"x"}`))
	require.Error(t, err)
	assert.Len(t, tray.List(), 1)
}

func TestTrayDropsOldest(t *testing.T) {
	ctx := context.Background()
	tray := NewTray(2)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, tray.Show(ctx, Notification{ID: id}))
	}
	list := tray.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "c", list[1].ID)
	_, ok := tray.Get("a")
	assert.False(t, ok)

	// replacing by tag does not drop anything
	require.NoError(t, tray.Show(ctx, Notification{ID: "d", Tag: "t"}))
	require.NoError(t, tray.Show(ctx, Notification{ID: "e", Tag: "t"}))
	list = tray.List()
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "e", list[1].ID)
}

func TestMatchLocale(t *testing.T) {
	assert.Equal(t, language.French, MatchLocale(language.MustParse("fr-CA")))
	assert.Equal(t, language.English, MatchLocale(language.MustParse("en-GB")))
	assert.Equal(t, language.French, MatchLocale())
}

func TestRedisNotifier(t *testing.T) {
	rawURL := os.Getenv("SW_CACHE_TEST_REDIS_URL")
	if rawURL == "" {
		t.Skip("SW_CACHE_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(rawURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, "sw-cache-test:notifications")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	notifier := NewRedisNotifier(client, "sw-cache-test:notifications")
	require.NoError(t, notifier.Show(ctx, Notification{ID: "n1", Title: "hello"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var evt redisEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
	assert.Equal(t, "show", evt.Type)
	assert.Equal(t, "hello", evt.Notification.Title)
}
