package attendance

import (
	"context"
	"fmt"
	"log"
	"time"

	"presence/internal/audit"
	"presence/internal/metrics"
)

// ClaimStore is the storage surface the validator needs. *Repository is
// the production implementation.
type ClaimStore interface {
	GetLecture(ctx context.Context, id string) (*Lecture, error)
	GetActiveSession(ctx context.Context, lectureID string) (*Session, error)
	RecordExists(ctx context.Context, lectureID, studentID string) (bool, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	GetRecord(ctx context.Context, id string) (*Record, error)
	CorrectRecord(ctx context.Context, id string, status RecordStatus, reason, correctedBy string) error
}

// Reporter receives rejection events for anomaly analysis. Implementations
// must never block a claim; the validator treats reporting as
// fire-and-forget and only logs failures.
type Reporter interface {
	ReportRejection(ctx context.Context, evt RejectionEvent) error
}

// Validator decides attendance claims. Checks run in a fixed order,
// cheapest and most informative first, and short-circuit on the first
// failure. Nothing is written before the final atomic insert, so a failed
// claim leaves no partial state.
type Validator struct {
	store    ClaimStore
	reporter Reporter
	sink     audit.Sink

	codeTTL time.Duration
	qrTTL   time.Duration
	grace   time.Duration
}

// NewValidator creates a validator with the deployment's credential
// validity periods and grace threshold. reporter and sink may be nil.
func NewValidator(store ClaimStore, reporter Reporter, sink audit.Sink, codeTTL, qrTTL, grace time.Duration) *Validator {
	return &Validator{store: store, reporter: reporter, sink: sink, codeTTL: codeTTL, qrTTL: qrTTL, grace: grace}
}

// Submit validates a student's claim and, on success, writes the terminal
// attendance record. Every rejection from the session, window, and
// credential checks is also reported to the anomaly pipeline; the lecture
// and duplicate checks are not, since failing them is normal usage.
func (v *Validator) Submit(ctx context.Context, claim Claim) (Record, error) {
	if claim.SubmittedAt.IsZero() {
		claim.SubmittedAt = time.Now().UTC()
	}

	// 1. Lecture existence.
	lec, err := v.store.GetLecture(ctx, claim.LectureID)
	if err != nil {
		return Record{}, err
	}
	if lec == nil {
		return Record{}, v.outcome(Reject(KindLectureNotFound, "lecture does not exist"))
	}

	// 2. Duplicate check. Advisory; the insert's unique constraint closes
	// the race where two concurrent claims both pass this point.
	marked, err := v.store.RecordExists(ctx, claim.LectureID, claim.StudentID)
	if err != nil {
		return Record{}, err
	}
	if marked {
		return Record{}, v.outcome(Reject(KindAlreadyMarked, "attendance already marked for this lecture"))
	}

	// 3. Active session.
	sess, err := v.store.GetActiveSession(ctx, claim.LectureID)
	if err != nil {
		return Record{}, err
	}
	if sess == nil {
		return Record{}, v.rejected(ctx, claim, Reject(KindNoActiveSession, "no active session for this lecture"))
	}

	// 4. Window.
	elapsed := claim.SubmittedAt.Sub(lec.StartsAt)
	if elapsed < 0 {
		return Record{}, v.rejected(ctx, claim, Reject(KindLectureNotStarted, "lecture has not started yet"))
	}
	window := time.Duration(sess.WindowMinutes) * time.Minute
	if elapsed > window {
		return Record{}, v.rejected(ctx, claim,
			Reject(KindWindowClosed, fmt.Sprintf("attendance window closed %s after start", window)))
	}

	// 5. Credential, branching on the closed method set. Expiry is
	// time-based, never value-based: a rotation can regenerate an
	// identical-looking code, so a textual match proves nothing about
	// freshness.
	switch claim.Method {
	case MethodCode:
		if claim.Credential != sess.ClassroomCode {
			return Record{}, v.rejected(ctx, claim, Reject(KindInvalidCode, "classroom code does not match"))
		}
		if claim.SubmittedAt.Sub(sess.CodeGeneratedAt) > v.codeTTL {
			return Record{}, v.rejected(ctx, claim, Reject(KindCodeExpired, "classroom code has expired"))
		}
	case MethodQR:
		if claim.Credential != sess.QRToken {
			return Record{}, v.rejected(ctx, claim, Reject(KindInvalidQR, "qr token does not match"))
		}
		if claim.SubmittedAt.Sub(sess.QRGeneratedAt) > v.qrTTL {
			return Record{}, v.rejected(ctx, claim, Reject(KindQRExpired, "qr token has expired"))
		}
	case MethodManual:
		return Record{}, v.outcome(Reject(KindUnauthorized, "manual marking is a teacher operation"))
	default:
		return Record{}, fmt.Errorf("unknown marking method %q", claim.Method)
	}

	// 6. Grade.
	status := StatusPresent
	if elapsed > v.grace {
		status = StatusLate
	}

	// 7. Commit. A lost duplicate race surfaces from the store as
	// AlreadyMarked.
	rec, err := v.store.InsertRecord(ctx, Record{
		LectureID: claim.LectureID,
		StudentID: claim.StudentID,
		Status:    status,
		Method:    claim.Method,
		IPAddress: claim.IPAddress,
		MarkedAt:  claim.SubmittedAt,
	})
	if err != nil {
		if r, ok := AsRejection(err); ok {
			return Record{}, v.outcome(r)
		}
		return Record{}, err
	}
	metrics.Claims.WithLabelValues(string(status)).Inc()
	return rec, nil
}

// MarkManual is the privileged teacher path. It bypasses credential and
// window checks but not the one-record-per-(lecture, student) constraint.
func (v *Validator) MarkManual(ctx context.Context, actor, lectureID, studentID string, status RecordStatus) (Record, error) {
	lec, err := v.store.GetLecture(ctx, lectureID)
	if err != nil {
		return Record{}, err
	}
	if lec == nil {
		return Record{}, Reject(KindLectureNotFound, "lecture does not exist")
	}
	if lec.TeacherID != actor {
		return Record{}, Reject(KindUnauthorized, "only the owning teacher may mark manually")
	}
	if status == "" {
		status = StatusPresent
	}
	now := time.Now().UTC()
	rec, err := v.store.InsertRecord(ctx, Record{
		LectureID: lectureID,
		StudentID: studentID,
		Status:    status,
		Method:    MethodManual,
		MarkedAt:  now,
	})
	if err != nil {
		return Record{}, err
	}
	v.audit(ctx, audit.Event{Action: audit.ActionCorrect, LectureID: lectureID, Actor: actor, At: now,
		Meta: map[string]string{"student": studentID, "status": string(status), "mode": "manual"}})
	return rec, nil
}

// Correct mutates an existing record's status; audit-logged.
func (v *Validator) Correct(ctx context.Context, actor, recordID string, status RecordStatus, reason string) (*Record, error) {
	if err := v.store.CorrectRecord(ctx, recordID, status, reason, actor); err != nil {
		return nil, err
	}
	rec, err := v.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		v.audit(ctx, audit.Event{Action: audit.ActionCorrect, LectureID: rec.LectureID, Actor: actor, At: time.Now().UTC(),
			Meta: map[string]string{"record": recordID, "status": string(status), "reason": reason}})
	}
	return rec, nil
}

// rejected counts and reports a session/window/credential refusal before
// returning it.
func (v *Validator) rejected(ctx context.Context, claim Claim, r *Rejection) error {
	v.outcome(r)
	if v.reporter != nil {
		evt := RejectionEvent{
			Kind:      r.Kind,
			LectureID: claim.LectureID,
			StudentID: claim.StudentID,
			Method:    claim.Method,
			IPAddress: claim.IPAddress,
			At:        claim.SubmittedAt,
		}
		if err := v.reporter.ReportRejection(ctx, evt); err != nil {
			log.Printf("rejection report failed: %v", err)
		}
	}
	return r
}

func (v *Validator) outcome(r *Rejection) error {
	metrics.Claims.WithLabelValues(string(r.Kind)).Inc()
	return r
}

func (v *Validator) audit(ctx context.Context, evt audit.Event) {
	if v.sink == nil {
		return
	}
	if err := v.sink.Record(ctx, evt); err != nil {
		log.Printf("audit record failed: %v", err)
	}
}
