// Package clients tracks the pages (window clients) controlled by the worker.
package clients

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
)

var (
	ErrNotFound       = errors.New(errors.CodeNotFound, "client not found")
	ErrTooManyClients = errors.New(errors.CodeRateLimit, "too many clients")
)

// DefaultLimit is the number of clients a registry holds by default.
const DefaultLimit = 1000

type Type string

const TypeWindow Type = "window"

type Client struct {
	ID  string `json:"id"`
	URL string `json:"url"`
	// Controller is the version of the worker controlling the client, empty if uncontrolled.
	Controller  string    `json:"controller,omitempty"`
	Type        Type      `json:"type"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Opener is called for every window opened by the worker.
type Opener func(ctx context.Context, c Client) error

// Registry is a thread-safe list of open clients.
type Registry struct {
	mutex   sync.RWMutex
	clients map[string]Client
	opener  Opener
	limit   int
}

// NewRegistry returns a registry holding at most limit clients,
// or DefaultLimit if limit is not positive.
func NewRegistry(opener Opener, limit int) *Registry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Registry{
		clients: make(map[string]Client),
		opener:  opener,
		limit:   limit,
	}
}

// Register adds an uncontrolled client for the url.
// It fails with ErrTooManyClients when the registry is full.
func (r *Registry) Register(url string) (Client, error) {
	c := Client{
		ID:          uuid.NewString(),
		URL:         url,
		Type:        TypeWindow,
		ConnectedAt: time.Now(),
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.clients) >= r.limit {
		return Client{}, errors.WrapWithContext(ErrTooManyClients, errors.CodeRateLimit, "register", map[string]interface{}{"limit": r.limit})
	}
	r.clients[c.ID] = c
	return c, nil
}

func (r *Registry) Unregister(id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.clients[id]; !ok {
		return errors.WrapWithContext(ErrNotFound, errors.CodeNotFound, "unregister", map[string]interface{}{"id": id})
	}
	delete(r.clients, id)
	return nil
}

func (r *Registry) Get(id string) (Client, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// List returns all clients, oldest first.
func (r *Registry) List() []Client {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	list := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ConnectedAt.Equal(list[j].ConnectedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].ConnectedAt.Before(list[j].ConnectedAt)
	})
	return list
}

// Claim makes controller the controller of every open client.
// It returns the number of clients whose controller changed.
func (r *Registry) Claim(ctx context.Context, controller string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	changed := 0
	for id, c := range r.clients {
		if c.Controller != controller {
			c.Controller = controller
			r.clients[id] = c
			changed++
		}
	}
	return changed, nil
}

// OpenWindow opens a new window client at url, controlled by controller.
func (r *Registry) OpenWindow(ctx context.Context, url string, controller string) (Client, error) {
	c, err := r.Register(url)
	if err != nil {
		return Client{}, err
	}
	if controller != "" {
		r.mutex.Lock()
		c.Controller = controller
		r.clients[c.ID] = c
		r.mutex.Unlock()
	}
	if r.opener != nil {
		if err := r.opener(ctx, c); err != nil {
			r.Unregister(c.ID)
			return Client{}, errors.Wrapf(err, errors.CodeExecutionFailed, "could not open window %s", url)
		}
	}
	return c, nil
}
