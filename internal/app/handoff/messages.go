package handoff

import (
	"context"
	"errors"

	"github.com/dkeye/Livecall/internal/app/fsm"
	"github.com/dkeye/Livecall/internal/app/media"
	"github.com/dkeye/Livecall/internal/app/publish"
	"github.com/dkeye/Livecall/internal/domain"
)

type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

type Notice struct {
	Kind  NoticeKind
	Title string
	Body  string
}

// Notifier shows a local notification to the user.
type Notifier interface {
	Notify(n Notice)
}

// UserMessage turns any error from starting or joining a session into an
// actionable sentence. Backend error text is never passed through.
func UserMessage(err error) string {
	var notReady *domain.NotReadyError
	var acq *media.AcquisitionError
	var terr *publish.TransportError
	var cerr *ChannelError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &notReady):
		return notReady.Reason()
	case errors.Is(err, domain.ErrRateLimited):
		return "You're starting sessions too quickly. Wait a moment and try again."
	case errors.Is(err, domain.ErrNotFound):
		return "That fan is no longer in your queue."
	case errors.Is(err, domain.ErrForbidden):
		return "You can't start a session for this fan."
	case errors.As(err, &acq):
		return "We couldn't access your camera or microphone. Check your permissions and try again."
	case errors.Is(err, media.ErrMediaInitBlocked):
		return "Your camera is still shutting down from the last call. Try again in a moment."
	case errors.As(err, &terr):
		return "Your video couldn't be sent. Check your connection."
	case errors.As(err, &cerr):
		return "Live updates are unavailable. Refresh the page to reconnect."
	case errors.Is(err, fsm.ErrInvalidTransition):
		return "You can't do that right now. Refresh the page and try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request took too long. Please try again."
	}
	return "Something went wrong. Please try again."
}
