package attendance

import "errors"

// Kind is the stable machine-readable classification of a rejection. These
// are expected business outcomes, not faults; handlers surface the kind to
// the client so it can render an actionable message.
type Kind string

const (
	KindLectureNotFound   Kind = "lecture_not_found"
	KindAlreadyActive     Kind = "already_active"
	KindNoActiveSession   Kind = "no_active_session"
	KindAlreadyMarked     Kind = "already_marked"
	KindLectureNotStarted Kind = "lecture_not_started"
	KindWindowClosed      Kind = "window_closed"
	KindInvalidCode       Kind = "invalid_code"
	KindCodeExpired       Kind = "code_expired"
	KindInvalidQR         Kind = "invalid_qr"
	KindQRExpired         Kind = "qr_expired"
	KindUnauthorized      Kind = "unauthorized"
	KindInvalidWindow     Kind = "invalid_window"
)

// Rejection is a business-rule refusal carrying its kind. Anything that is
// not a *Rejection is a storage or infrastructure fault and maps to a
// generic internal error at the HTTP boundary.
type Rejection struct {
	Kind    Kind
	Message string
}

func (r *Rejection) Error() string { return string(r.Kind) + ": " + r.Message }

// Reject builds a typed rejection.
func Reject(kind Kind, message string) *Rejection {
	return &Rejection{Kind: kind, Message: message}
}

// AsRejection unwraps err into a *Rejection when it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsKind reports whether err is a rejection of the given kind.
func IsKind(err error, kind Kind) bool {
	r, ok := AsRejection(err)
	return ok && r.Kind == kind
}
