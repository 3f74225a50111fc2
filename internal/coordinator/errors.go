package coordinator

import (
	"errors"
	"net/http"

	"github.com/xcawolfe-amzn/switchboard/internal/config"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
	"github.com/xcawolfe-amzn/switchboard/internal/worklock"
)

// ErrorKind classifies operation failures for the RPC surface.
type ErrorKind string

const (
	KindUnknownSession  ErrorKind = "unknown-session"
	KindNotPermitted    ErrorKind = "not-permitted"
	KindPaneGone        ErrorKind = "pane-gone"
	KindForumTransient  ErrorKind = "forum-transient"
	KindProviderRefused ErrorKind = "provider-refused"
	KindConfigInvalid   ErrorKind = "config-invalid"
	KindLockHeld        ErrorKind = "lock-held"
	KindBadRequest      ErrorKind = "bad-request"
	KindInternal        ErrorKind = "internal"
)

// errBadRequest marks client-side input errors.
var errBadRequest = errors.New("bad request")

// kindOf maps an error onto its taxonomy entry.
func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return KindUnknownSession
	case errors.Is(err, session.ErrNotPermitted):
		return KindNotPermitted
	case errors.Is(err, tmux.ErrPaneNotFound), errors.Is(err, tmux.ErrNoServer):
		return KindPaneGone
	case errors.Is(err, worklock.ErrHeld), errors.Is(err, worklock.ErrNotHeld):
		return KindLockHeld
	case errors.Is(err, config.ErrInvalid):
		return KindConfigInvalid
	case errors.Is(err, errBadRequest):
		return KindBadRequest
	default:
		return KindInternal
	}
}

// httpStatus maps an error kind onto a response code.
func httpStatus(kind ErrorKind) int {
	switch kind {
	case KindUnknownSession:
		return http.StatusNotFound
	case KindNotPermitted:
		return http.StatusForbidden
	case KindPaneGone:
		return http.StatusGone
	case KindLockHeld:
		return http.StatusConflict
	case KindBadRequest, KindConfigInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
