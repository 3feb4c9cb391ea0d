package swcache

import "context"

// BackgroundSyncTag is the sync tag handled by the worker itself.
const BackgroundSyncTag = "background-sync"

// SyncHandler runs the work registered for a sync tag.
type SyncHandler func(ctx context.Context) error

// Sync runs the handler registered for the tag and reports whether there was one.
// Handler errors are logged.
func (w *Worker) Sync(ctx context.Context, tag string) bool {
	handler, ok := w.syncHandlers[tag]
	if !ok {
		w.log.Debug().Str("tag", tag).Msg("No handler for sync tag")
		return false
	}
	if err := handler(ctx); err != nil {
		w.log.Error().Err(err).Str("tag", tag).Msg("Background sync failed")
	}
	return true
}

// backgroundSync is the hook for replaying queued work once connectivity returns.
// Nothing is queued yet.
func (w *Worker) backgroundSync(ctx context.Context) error {
	w.log.Info().Msg("Background sync triggered")
	return nil
}
