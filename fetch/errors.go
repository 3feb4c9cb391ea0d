package fetch

import (
	"github.com/jmgilman/go/errors"
)

// NetworkError marks err as a failure to obtain a response from the network.
func NetworkError(err error, url string) error {
	return errors.WrapWithContext(err, errors.CodeNetwork, "fetch failed", map[string]interface{}{
		"url": url,
	})
}

// IsNetworkError checks if a network error is anywhere in the tree of err,
// including errors joined with other causes.
func IsNetworkError(err error) bool {
	return hasCode(err, errors.CodeNetwork)
}

func hasCode(err error, code errors.ErrorCode) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(errors.PlatformError); ok && pe.Code() == code {
		return true
	}
	switch e := err.(type) {
	case interface{ Unwrap() error }:
		return hasCode(e.Unwrap(), code)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if hasCode(inner, code) {
				return true
			}
		}
	}
	return false
}
