// Package lifecycle installs and activates a worker version.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"

	"github.com/always-cache/sw-cache/cache"
	"github.com/always-cache/sw-cache/fetch"
)

type State int

const (
	Parsed State = iota
	Installing
	Installed
	Activating
	Activated
	Redundant
)

func (s State) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Activating:
		return "activating"
	case Activated:
		return "activated"
	case Redundant:
		return "redundant"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Claimer takes control of open clients.
type Claimer interface {
	Claim(ctx context.Context, controller string) (int, error)
}

type Options struct {
	Responses cache.Responses
	Fetcher   fetch.Fetcher
	Names     cache.Names
	// Precache lists the urls stored in the static partition at install.
	Precache []string
	Clients  Claimer
	// HoldWaiting keeps an installed version waiting until SkipWaiting is called.
	HoldWaiting bool
	Logger      zerolog.Logger
}

// Manager drives a worker version through install and activation.
type Manager struct {
	opts  Options
	log   zerolog.Logger
	phase sync.Mutex

	mutex       sync.RWMutex
	state       State
	skipWaiting bool
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts: opts,
		log:  opts.Logger.With().Str("version", opts.Names.Static).Logger(),
	}
}

func (m *Manager) State() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state
}

func (m *Manager) setState(state State) {
	m.mutex.Lock()
	prev := m.state
	m.state = state
	m.mutex.Unlock()
	m.log.Debug().Stringer("from", prev).Stringer("to", state).Msg("Lifecycle state change")
}

// Run installs the version and activates it unless it has to wait.
// A failed run leaves the version redundant and may be retried.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Install(ctx); err != nil {
		return err
	}
	if m.shouldSkipWaiting() {
		_, err := m.Activate(ctx)
		return err
	}
	m.log.Info().Msg("Installed version is waiting")
	return nil
}

// Install precaches every url into the static partition.
// It is all or nothing: any failed fetch or non-ok response fails the install
// and no entry is written.
func (m *Manager) Install(ctx context.Context) error {
	m.phase.Lock()
	defer m.phase.Unlock()

	m.log.Info().Msg("Installing...")
	m.setState(Installing)

	if err := m.install(ctx); err != nil {
		m.log.Error().Err(err).Msg("Installation failed")
		m.setState(Redundant)
		return err
	}

	m.setState(Installed)
	m.log.Info().Int("resources", len(m.opts.Precache)).Msg("Installation completed")
	if !m.opts.HoldWaiting {
		m.mutex.Lock()
		m.skipWaiting = true
		m.mutex.Unlock()
	}
	return nil
}

func (m *Manager) install(ctx context.Context) error {
	partition, err := m.opts.Responses.Storage.Open(ctx, m.opts.Names.Static)
	if err != nil {
		return err
	}
	m.log.Debug().Str("partition", partition.Name()).Msg("Caching static resources")

	entries := make([]cache.Entry, len(m.opts.Precache))
	event := newEvent(ctx)
	for i, target := range m.opts.Precache {
		i, target := i, target
		event.WaitUntil(func(ctx context.Context) error {
			entry, err := m.precache(ctx, target)
			entries[i] = entry
			return err
		})
	}
	if err := event.Wait(); err != nil {
		return err
	}

	for _, entry := range entries {
		if err := partition.Put(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// precache fetches the target bypassing any intermediate HTTP cache.
func (m *Manager) precache(ctx context.Context, target string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return cache.Entry{}, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid precache url %s", target)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	res, err := m.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		return cache.Entry{}, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return cache.Entry{}, fetch.NetworkError(fmt.Errorf("bad response status %d", res.StatusCode), target)
	}
	m.log.Trace().Str("url", target).Msg("Precached")
	return m.opts.Responses.Snapshot(req, res)
}

// SkipWaiting lets an installed version activate without waiting.
// If the version is already installed it is activated right away.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	m.mutex.Lock()
	m.skipWaiting = true
	state := m.state
	m.mutex.Unlock()

	if state != Installed {
		return nil
	}
	_, err := m.Activate(ctx)
	return err
}

func (m *Manager) shouldSkipWaiting() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.skipWaiting
}

// Activate deletes every partition not owned by this version and claims all
// clients, concurrently. It returns the names of the deleted partitions.
// Activating again deletes nothing new.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	m.phase.Lock()
	defer m.phase.Unlock()

	switch state := m.State(); state {
	case Installed, Activated:
	default:
		return nil, errors.Newf(errors.CodeConflict, "cannot activate %s version", state)
	}

	m.log.Info().Msg("Activating...")
	m.setState(Activating)

	var deleted []string
	event := newEvent(ctx)
	event.WaitUntil(func(ctx context.Context) error {
		var err error
		deleted, err = m.deleteStale(ctx)
		return err
	})
	event.WaitUntil(func(ctx context.Context) error {
		if m.opts.Clients == nil {
			return nil
		}
		n, err := m.opts.Clients.Claim(ctx, m.opts.Names.Static)
		if err == nil {
			m.log.Debug().Int("clients", n).Msg("Claimed clients")
		}
		return err
	})
	err := event.Wait()

	// a failed activation still activates the version
	m.setState(Activated)
	if err != nil {
		m.log.Error().Err(err).Msg("Activation failed")
		return deleted, err
	}
	m.log.Info().Strs("deleted", deleted).Msg("Activation completed")
	return deleted, nil
}

func (m *Manager) deleteStale(ctx context.Context) ([]string, error) {
	names, err := m.opts.Responses.Storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0)
	for _, name := range names {
		if m.opts.Names.IsCurrent(name) {
			continue
		}
		m.log.Info().Str("partition", name).Msg("Deleting old cache")
		ok, err := m.opts.Responses.Storage.Delete(ctx, name)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	return deleted, nil
}
