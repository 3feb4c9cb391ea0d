package swcache

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/always-cache/sw-cache/notification"
)

// maxControlBody limits the size of control request bodies.
const maxControlBody = 64 << 10

// routes builds the control endpoints through which pages and operators
// talk to the worker.
func (w *Worker) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(w.log))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Dur("duration", duration).
			Msg("Control request")
	}))

	r.Route(w.settings.ControlPrefix, func(r chi.Router) {
		if w.settings.ControlToken != "" {
			r.Use(requireToken(w.settings.ControlToken))
		}
		r.Get("/state", w.getState)
		r.Post("/message", w.postMessage)
		r.Post("/sync/{tag}", w.postSync)
		r.Post("/push", w.postPush)
		r.Get("/notifications", w.getNotifications)
		r.Post("/notifications/{id}/click", w.postNotificationClick)
		r.Get("/clients", w.getClients)
		r.Post("/clients", w.postClient)
		r.Delete("/clients/{id}", w.deleteClient)
	})
	return r
}

// requireToken rejects requests without the bearer token.
func requireToken(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
				hlog.FromRequest(r).Warn().Stringer("url", r.URL).Msg("Unauthorized control request")
				rw.Header().Set("WWW-Authenticate", `Bearer realm="sw-cache"`)
				writeError(rw, errors.New(errors.CodeUnauthorized, "missing or invalid control token"))
				return
			}
			next.ServeHTTP(rw, r)
		})
	}
}

type stateReply struct {
	State      string   `json:"state"`
	Version    string   `json:"version"`
	Partitions []string `json:"partitions"`
	Clients    int      `json:"clients"`
}

func (w *Worker) getState(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, stateReply{
		State:      w.lifecycle.State().String(),
		Version:    w.names.Static,
		Partitions: []string{w.names.Static, w.names.Dynamic},
		Clients:    len(w.clients.List()),
	})
}

// replyPort collects the reply of a message posted over HTTP.
type replyPort struct {
	reply interface{}
}

func (p *replyPort) PostMessage(v interface{}) error {
	p.reply = v
	return nil
}

func (w *Worker) postMessage(rw http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&msg); err != nil {
		http.Error(rw, "Malformed message", http.StatusBadRequest)
		return
	}
	port := &replyPort{}
	if err := w.HandleMessage(r.Context(), msg, port); err != nil {
		writeError(rw, err)
		return
	}
	if port.reply == nil {
		rw.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(rw, http.StatusOK, port.reply)
}

func (w *Worker) postSync(rw http.ResponseWriter, r *http.Request) {
	if !w.Sync(r.Context(), chi.URLParam(r, "tag")) {
		http.Error(rw, "Unknown sync tag", http.StatusNotFound)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

func (w *Worker) postPush(rw http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		http.Error(rw, "Could not read push", http.StatusBadRequest)
		return
	}
	n, err := w.notifications.Push(r.Context(), data)
	if err != nil {
		writeError(rw, err)
		return
	}
	if n == nil {
		rw.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(rw, http.StatusCreated, n)
}

func (w *Worker) getNotifications(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, w.tray.List())
}

type clickRequest struct {
	Action string `json:"action"`
}

func (w *Worker) postNotificationClick(rw http.ResponseWriter, r *http.Request) {
	n, ok := w.tray.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(rw, "Notification not found", http.StatusNotFound)
		return
	}
	var click clickRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&click); err != nil && err != io.EOF {
			http.Error(rw, "Malformed click", http.StatusBadRequest)
			return
		}
	}
	c, err := w.notifications.Click(r.Context(), notification.ClickEvent{Notification: n, Action: click.Action})
	if err != nil {
		writeError(rw, err)
		return
	}
	if c == nil {
		rw.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(rw, http.StatusOK, c)
}

func (w *Worker) getClients(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, w.clients.List())
}

type registerRequest struct {
	URL string `json:"url"`
}

func (w *Worker) postClient(rw http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&req); err != nil || req.URL == "" {
		http.Error(rw, "Malformed client", http.StatusBadRequest)
		return
	}
	c, err := w.clients.Register(req.URL)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, c)
}

func (w *Worker) deleteClient(rw http.ResponseWriter, r *http.Request) {
	if err := w.clients.Unregister(chi.URLParam(r, "id")); err != nil {
		writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

// writeError maps error codes to HTTP statuses.
func writeError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidInput:
		status = http.StatusBadRequest
	case errors.CodeConflict:
		status = http.StatusConflict
	case errors.CodeNetwork:
		status = http.StatusBadGateway
	case errors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case errors.CodeRateLimit:
		status = http.StatusTooManyRequests
	}
	http.Error(rw, err.Error(), status)
}
