package swcache

import (
	"context"

	"github.com/jmgilman/go/errors"
)

const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

// Message is a message posted to the worker by a page.
type Message struct {
	Type string `json:"type"`
}

// VersionReply answers GET_VERSION.
type VersionReply struct {
	Version string `json:"version"`
}

// Port is the reply channel of a message.
type Port interface {
	PostMessage(v interface{}) error
}

// ChanPort delivers replies on a channel. It blocks if the channel is full.
type ChanPort chan interface{}

func (p ChanPort) PostMessage(v interface{}) error {
	p <- v
	return nil
}

// HandleMessage reacts to a message from a page.
// Unknown message types are ignored.
func (w *Worker) HandleMessage(ctx context.Context, msg Message, port Port) error {
	switch msg.Type {
	case MessageSkipWaiting:
		return w.lifecycle.SkipWaiting(ctx)
	case MessageGetVersion:
		if port == nil {
			return errors.New(errors.CodeInvalidInput, "GET_VERSION without reply port")
		}
		return port.PostMessage(VersionReply{Version: w.names.Static})
	default:
		w.log.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
		return nil
	}
}
