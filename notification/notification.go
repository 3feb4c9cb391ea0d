// Package notification shows push messages as notifications and routes clicks on them.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/always-cache/sw-cache/clients"
)

const (
	keyTitle         = "notification.title"
	keyBody          = "notification.body"
	keyActionView    = "notification.action.view"
	keyActionDismiss = "notification.action.dismiss"
)

const (
	ActionView    = "view"
	ActionDismiss = "dismiss"

	DefaultIcon  = "/static/icons/icon-192x192.png"
	DefaultBadge = "/static/icons/badge-72x72.png"
	DefaultTag   = "default"
	DefaultRoute = "/dashboard"
)

var DefaultVibrate = []int{200, 100, 200}

// DefaultLocale is used when no locale is configured.
var DefaultLocale = language.French

var supportedLocales = []language.Tag{language.French, language.English}

var localeMatcher = language.NewMatcher(supportedLocales)

// MatchLocale returns the supported locale closest to the requested one.
func MatchLocale(requested ...language.Tag) language.Tag {
	if len(requested) == 0 {
		return DefaultLocale
	}
	_, index, _ := localeMatcher.Match(requested...)
	return supportedLocales[index]
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

type Notification struct {
	ID                 string                 `json:"id"`
	Title              string                 `json:"title"`
	Body               string                 `json:"body"`
	Icon               string                 `json:"icon"`
	Badge              string                 `json:"badge"`
	Vibrate            []int                  `json:"vibrate"`
	Data               map[string]interface{} `json:"data"`
	Actions            []Action               `json:"actions"`
	RequireInteraction bool                   `json:"requireInteraction"`
	Tag                string                 `json:"tag"`
	ShownAt            time.Time              `json:"shownAt"`
}

// URL returns the url carried in the notification data, if any.
func (n Notification) URL() string {
	if n.Data == nil {
		return ""
	}
	url, _ := n.Data["url"].(string)
	return url
}

// Payload is the JSON pushed to the worker. Every field is optional.
type Payload struct {
	Title              string                 `json:"title"`
	Body               string                 `json:"body"`
	Icon               string                 `json:"icon"`
	Badge              string                 `json:"badge"`
	Vibrate            []int                  `json:"vibrate"`
	Data               map[string]interface{} `json:"data"`
	Actions            []Action               `json:"actions"`
	RequireInteraction bool                   `json:"requireInteraction"`
	Tag                string                 `json:"tag"`
}

// Notifier displays notifications to the user.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, id string) error
}

// WindowOpener opens a window client at a url.
type WindowOpener interface {
	OpenWindow(ctx context.Context, url string, controller string) (clients.Client, error)
}

type Options struct {
	Notifier Notifier
	Opener   WindowOpener
	// Controller is the version that owns opened windows.
	Controller   string
	DefaultRoute string
	Locale       language.Tag
	Logger       zerolog.Logger
}

type Handler struct {
	notifier     Notifier
	opener       WindowOpener
	controller   string
	defaultRoute string
	printer      *message.Printer
	log          zerolog.Logger
}

func NewHandler(opts Options) *Handler {
	if opts.DefaultRoute == "" {
		opts.DefaultRoute = DefaultRoute
	}
	if opts.Locale == language.Und {
		opts.Locale = DefaultLocale
	}
	return &Handler{
		notifier:     opts.Notifier,
		opener:       opts.Opener,
		controller:   opts.Controller,
		defaultRoute: opts.DefaultRoute,
		printer:      message.NewPrinter(MatchLocale(opts.Locale)),
		log:          opts.Logger,
	}
}

// Push shows a notification for the pushed data.
// An empty or malformed payload is logged and ignored.
func (h *Handler) Push(ctx context.Context, data []byte) (*Notification, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		h.log.Debug().Msg("Push without payload ignored")
		return nil, nil
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		err = errors.Wrap(err, errors.CodeInvalidInput, "malformed push payload")
		h.log.Warn().Err(err).Msg("Push ignored")
		return nil, nil
	}
	n := h.Build(payload)
	if err := h.notifier.Show(ctx, n); err != nil {
		return nil, err
	}
	h.log.Debug().Str("id", n.ID).Str("tag", n.Tag).Msg("Notification shown")
	return &n, nil
}

// Build fills in the defaults for every field missing in the payload.
func (h *Handler) Build(p Payload) Notification {
	n := Notification{
		ID:                 uuid.NewString(),
		Title:              p.Title,
		Body:               p.Body,
		Icon:               p.Icon,
		Badge:              p.Badge,
		Vibrate:            p.Vibrate,
		Data:               p.Data,
		Actions:            p.Actions,
		RequireInteraction: p.RequireInteraction,
		Tag:                p.Tag,
		ShownAt:            time.Now(),
	}
	if n.Title == "" {
		n.Title = h.printer.Sprintf(keyTitle)
	}
	if n.Body == "" {
		n.Body = h.printer.Sprintf(keyBody)
	}
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.Badge == "" {
		n.Badge = DefaultBadge
	}
	if len(n.Vibrate) == 0 {
		n.Vibrate = append([]int(nil), DefaultVibrate...)
	}
	if n.Data == nil {
		n.Data = map[string]interface{}{}
	}
	if len(n.Actions) == 0 {
		n.Actions = []Action{
			{Action: ActionView, Title: h.printer.Sprintf(keyActionView), Icon: "/static/icons/view-24x24.png"},
			{Action: ActionDismiss, Title: h.printer.Sprintf(keyActionDismiss), Icon: "/static/icons/dismiss-24x24.png"},
		}
	}
	if n.Tag == "" {
		n.Tag = DefaultTag
	}
	return n
}

type ClickEvent struct {
	Notification Notification `json:"notification"`
	Action       string       `json:"action"`
}

// Click closes the notification and navigates according to the chosen action.
// It returns the opened window, or nil if the action navigates nowhere.
func (h *Handler) Click(ctx context.Context, e ClickEvent) (*clients.Client, error) {
	if err := h.notifier.Close(ctx, e.Notification.ID); err != nil {
		h.log.Warn().Err(err).Str("id", e.Notification.ID).Msg("Could not close notification")
	}

	var url string
	switch e.Action {
	case ActionDismiss:
		return nil, nil
	case ActionView:
		url = e.Notification.URL()
		if url == "" {
			url = h.defaultRoute
		}
	default:
		url = h.defaultRoute
	}

	if h.opener == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "no window opener configured")
	}
	c, err := h.opener.OpenWindow(ctx, url, h.controller)
	if err != nil {
		return nil, err
	}
	h.log.Debug().Str("url", url).Str("action", e.Action).Msg("Opened window for notification")
	return &c, nil
}
