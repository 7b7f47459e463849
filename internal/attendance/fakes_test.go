package attendance

import (
	"context"
	"sync"
	"time"
)

// fakeStore is an in-memory SessionStore + ClaimStore for tests.
type fakeStore struct {
	mu       sync.Mutex
	lectures map[string]Lecture
	sessions map[string]*Session // active session per lecture
	records  map[string]Record   // keyed lecture|student
	byID     map[string]Record

	insertErr  error
	rotateErrs []error // popped per rotate call when non-empty
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lectures: make(map[string]Lecture),
		sessions: make(map[string]*Session),
		records:  make(map[string]Record),
		byID:     make(map[string]Record),
	}
}

func (f *fakeStore) addLecture(lec Lecture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lectures[lec.ID] = lec
}

func (f *fakeStore) addSession(s Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.Active = true
	f.sessions[s.LectureID] = &s
}

func (f *fakeStore) GetLecture(_ context.Context, id string) (*Lecture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lec, ok := f.lectures[id]
	if !ok {
		return nil, nil
	}
	return &lec, nil
}

func (f *fakeStore) SetLectureStatus(_ context.Context, id string, status LectureStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lec, ok := f.lectures[id]
	if ok {
		lec.Status = status
		f.lectures[id] = lec
	}
	return nil
}

func (f *fakeStore) CreateSession(_ context.Context, s Session) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.LectureID]; ok {
		return Session{}, Reject(KindAlreadyActive, "an active session already exists for this lecture")
	}
	s.ID = "sess-" + s.LectureID
	s.Active = true
	f.sessions[s.LectureID] = &s
	return s, nil
}

func (f *fakeStore) GetActiveSession(_ context.Context, lectureID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[lectureID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) popRotateErr() error {
	if len(f.rotateErrs) == 0 {
		return nil
	}
	err := f.rotateErrs[0]
	f.rotateErrs = f.rotateErrs[1:]
	return err
}

func (f *fakeStore) RotateSessionCode(_ context.Context, lectureID, code string, at time.Time) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popRotateErr(); err != nil {
		return nil, err
	}
	s, ok := f.sessions[lectureID]
	if !ok {
		return nil, Reject(KindNoActiveSession, "no active session for this lecture")
	}
	s.ClassroomCode = code
	s.CodeGeneratedAt = at
	cp := *s
	return &cp, nil
}

func (f *fakeStore) RotateSessionQR(_ context.Context, lectureID, token string, at time.Time) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popRotateErr(); err != nil {
		return nil, err
	}
	s, ok := f.sessions[lectureID]
	if !ok {
		return nil, Reject(KindNoActiveSession, "no active session for this lecture")
	}
	s.QRToken = token
	s.QRGeneratedAt = at
	cp := *s
	return &cp, nil
}

func (f *fakeStore) EndSession(_ context.Context, lectureID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[lectureID]; !ok {
		return Reject(KindNoActiveSession, "no active session for this lecture")
	}
	delete(f.sessions, lectureID)
	return nil
}

func (f *fakeStore) RecordExists(_ context.Context, lectureID, studentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[lectureID+"|"+studentID]
	return ok, nil
}

func (f *fakeStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return Record{}, f.insertErr
	}
	key := rec.LectureID + "|" + rec.StudentID
	if _, ok := f.records[key]; ok {
		return Record{}, Reject(KindAlreadyMarked, "attendance already marked for this lecture")
	}
	rec.ID = "rec-" + key
	rec.CreatedAt = rec.MarkedAt
	f.records[key] = rec
	f.byID[rec.ID] = rec
	return rec, nil
}

func (f *fakeStore) GetRecord(_ context.Context, id string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) CorrectRecord(_ context.Context, id string, status RecordStatus, reason, correctedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.CorrectionReason = &reason
	rec.CorrectedBy = &correctedBy
	f.byID[id] = rec
	f.records[rec.LectureID+"|"+rec.StudentID] = rec
	return nil
}

// fakeReporter collects rejection events.
type fakeReporter struct {
	mu     sync.Mutex
	events []RejectionEvent
}

func (r *fakeReporter) ReportRejection(_ context.Context, evt RejectionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *fakeReporter) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
