package attendance

import (
	"context"
	"fmt"
	"log"
	"time"

	"presence/internal/audit"
	"presence/internal/credential"
	"presence/internal/metrics"
)

// SessionStore is the storage surface the session service and rotation
// scheduler need. *Repository is the production implementation.
type SessionStore interface {
	GetLecture(ctx context.Context, id string) (*Lecture, error)
	SetLectureStatus(ctx context.Context, id string, status LectureStatus) error
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetActiveSession(ctx context.Context, lectureID string) (*Session, error)
	RotateSessionCode(ctx context.Context, lectureID, code string, at time.Time) (*Session, error)
	RotateSessionQR(ctx context.Context, lectureID, token string, at time.Time) (*Session, error)
	EndSession(ctx context.Context, lectureID string, at time.Time) error
}

// Sessions owns the lecture-session lifecycle: start, manual rotation,
// end, and the read path used by polling students and the validator.
type Sessions struct {
	store   SessionStore
	sink    audit.Sink
	rotator *Rotator
	grace   time.Duration
	now     func() time.Time
}

// NewSessions creates the session service. rotator may be nil when no
// background rotation is wanted (tests, one-shot tools).
func NewSessions(store SessionStore, sink audit.Sink, rotator *Rotator, grace time.Duration) *Sessions {
	return &Sessions{store: store, sink: sink, rotator: rotator, grace: grace, now: func() time.Time { return time.Now().UTC() }}
}

// ownedLecture resolves the lecture and checks the acting teacher owns it.
func (s *Sessions) ownedLecture(ctx context.Context, actor, lectureID string) (*Lecture, error) {
	lec, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return nil, err
	}
	if lec == nil {
		return nil, Reject(KindLectureNotFound, "lecture does not exist")
	}
	if lec.TeacherID != actor {
		return nil, Reject(KindUnauthorized, "only the owning teacher may manage this session")
	}
	return lec, nil
}

// Start opens a session for the lecture with freshly generated
// credentials. At most one active session per lecture can exist; a
// concurrent start loses the storage race and receives AlreadyActive.
func (s *Sessions) Start(ctx context.Context, actor, lectureID string, windowMinutes int) (Session, error) {
	if _, err := s.ownedLecture(ctx, actor, lectureID); err != nil {
		return Session{}, err
	}
	if windowMinutes <= 0 {
		return Session{}, Reject(KindInvalidWindow, "window must be positive")
	}
	if s.grace > time.Duration(windowMinutes)*time.Minute {
		return Session{}, Reject(KindInvalidWindow,
			fmt.Sprintf("grace period %s exceeds the %d minute window", s.grace, windowMinutes))
	}

	code, err := credential.NewClassroomCode()
	if err != nil {
		return Session{}, err
	}
	token, err := credential.NewQRToken()
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	sess, err := s.store.CreateSession(ctx, Session{
		LectureID:       lectureID,
		ClassroomCode:   code,
		QRToken:         token,
		CodeGeneratedAt: now,
		QRGeneratedAt:   now,
		WindowMinutes:   windowMinutes,
		StartedAt:       now,
	})
	if err != nil {
		return Session{}, err
	}

	if err := s.store.SetLectureStatus(ctx, lectureID, LectureActive); err != nil {
		log.Printf("lecture %s status update failed: %v", lectureID, err)
	}
	s.emit(ctx, audit.Event{Action: audit.ActionStart, LectureID: lectureID, Actor: actor, Credential: sess.ClassroomCode, At: now,
		Meta: map[string]string{"window_minutes": fmt.Sprintf("%d", windowMinutes)}})
	if s.rotator != nil {
		s.rotator.Track(lectureID)
	}
	return sess, nil
}

// RotateCode replaces the classroom code on teacher request. The QR token
// is untouched.
func (s *Sessions) RotateCode(ctx context.Context, actor, lectureID string) (*Session, error) {
	if _, err := s.ownedLecture(ctx, actor, lectureID); err != nil {
		return nil, err
	}
	return rotateCode(ctx, s.store, s.sink, actor, lectureID, s.now())
}

// RotateQR replaces the QR token on teacher request. The classroom code
// is untouched.
func (s *Sessions) RotateQR(ctx context.Context, actor, lectureID string) (*Session, error) {
	if _, err := s.ownedLecture(ctx, actor, lectureID); err != nil {
		return nil, err
	}
	return rotateQR(ctx, s.store, s.sink, actor, lectureID, s.now())
}

// End closes the session. The write is conditioned on active in the
// store, so an end racing a rotation always wins: the rotation's
// compare-and-swap sees active = FALSE and affects nothing. A new session
// is a new row, never a resurrection.
func (s *Sessions) End(ctx context.Context, actor, lectureID string) error {
	if _, err := s.ownedLecture(ctx, actor, lectureID); err != nil {
		return err
	}
	now := s.now()
	if err := s.store.EndSession(ctx, lectureID, now); err != nil {
		return err
	}
	if s.rotator != nil {
		s.rotator.Stop(lectureID)
	}
	if err := s.store.SetLectureStatus(ctx, lectureID, LectureCompleted); err != nil {
		log.Printf("lecture %s status update failed: %v", lectureID, err)
	}
	s.emit(ctx, audit.Event{Action: audit.ActionEnd, LectureID: lectureID, Actor: actor, At: now})
	return nil
}

// GetActive returns the live session snapshot for a lecture.
func (s *Sessions) GetActive(ctx context.Context, lectureID string) (*Session, error) {
	sess, err := s.store.GetActiveSession(ctx, lectureID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, Reject(KindNoActiveSession, "no active session for this lecture")
	}
	return sess, nil
}

func (s *Sessions) emit(ctx context.Context, evt audit.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Record(ctx, evt); err != nil {
		log.Printf("audit record failed: %v", err)
	}
}

// rotateCode generates a fresh code and swaps it in; shared by manual
// rotation and the scheduler.
func rotateCode(ctx context.Context, store SessionStore, sink audit.Sink, actor, lectureID string, now time.Time) (*Session, error) {
	code, err := credential.NewClassroomCode()
	if err != nil {
		return nil, err
	}
	sess, err := store.RotateSessionCode(ctx, lectureID, code, now)
	if err != nil {
		return nil, err
	}
	metrics.Rotations.WithLabelValues("code").Inc()
	emitRotate(ctx, sink, audit.Event{Action: audit.ActionRotate, LectureID: lectureID, Actor: actor,
		Credential: sess.ClassroomCode, Meta: map[string]string{"credential_type": "code"}, At: now})
	return sess, nil
}

func rotateQR(ctx context.Context, store SessionStore, sink audit.Sink, actor, lectureID string, now time.Time) (*Session, error) {
	token, err := credential.NewQRToken()
	if err != nil {
		return nil, err
	}
	sess, err := store.RotateSessionQR(ctx, lectureID, token, now)
	if err != nil {
		return nil, err
	}
	metrics.Rotations.WithLabelValues("qr").Inc()
	emitRotate(ctx, sink, audit.Event{Action: audit.ActionRotate, LectureID: lectureID, Actor: actor,
		Credential: sess.QRToken, Meta: map[string]string{"credential_type": "qr"}, At: now})
	return sess, nil
}

func emitRotate(ctx context.Context, sink audit.Sink, evt audit.Event) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, evt); err != nil {
		log.Printf("audit record failed: %v", err)
	}
}
