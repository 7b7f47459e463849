package attendance

import (
	"context"
	"testing"
	"time"
)

func newSessionScenario() (*Sessions, *fakeStore) {
	store := newFakeStore()
	store.addLecture(Lecture{
		ID:        "lec-1",
		Course:    "CS101",
		TeacherID: "teach-1",
		StartsAt:  t0,
		EndsAt:    t0.Add(time.Hour),
	})
	svc := NewSessions(store, nil, nil, 5*time.Minute)
	svc.now = func() time.Time { return t0 }
	return svc, store
}

func TestStart_IssuesFreshCredentials(t *testing.T) {
	svc, _ := newSessionScenario()

	sess, err := svc.Start(context.Background(), "teach-1", "lec-1", 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(sess.ClassroomCode) != 4 {
		t.Fatalf("code %q: want 4 digits", sess.ClassroomCode)
	}
	if sess.QRToken == "" || sess.QRToken == sess.ClassroomCode {
		t.Fatalf("qr token %q not generated independently", sess.QRToken)
	}
	if !sess.CodeGeneratedAt.Equal(t0) || !sess.QRGeneratedAt.Equal(t0) || !sess.StartedAt.Equal(t0) {
		t.Fatalf("timestamps not initialized to start: %+v", sess)
	}
	if !sess.Active {
		t.Fatal("session not active")
	}
}

func TestStart_SecondStartAlreadyActive(t *testing.T) {
	svc, _ := newSessionScenario()

	if _, err := svc.Start(context.Background(), "teach-1", "lec-1", 10); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := svc.Start(context.Background(), "teach-1", "lec-1", 10)
	if !IsKind(err, KindAlreadyActive) {
		t.Fatalf("err = %v, want already_active", err)
	}
}

func TestStart_RejectsGraceBeyondWindow(t *testing.T) {
	svc, _ := newSessionScenario()

	// Grace is 5 minutes; a 3 minute window cannot hold it.
	_, err := svc.Start(context.Background(), "teach-1", "lec-1", 3)
	if !IsKind(err, KindInvalidWindow) {
		t.Fatalf("err = %v, want invalid_window", err)
	}
}

func TestStart_Authorization(t *testing.T) {
	svc, _ := newSessionScenario()

	if _, err := svc.Start(context.Background(), "teach-2", "lec-1", 10); !IsKind(err, KindUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	if _, err := svc.Start(context.Background(), "teach-1", "lec-missing", 10); !IsKind(err, KindLectureNotFound) {
		t.Fatalf("err = %v, want lecture_not_found", err)
	}
}

func TestRotate_OnlyTouchesItsCredential(t *testing.T) {
	svc, store := newSessionScenario()

	started, err := svc.Start(context.Background(), "teach-1", "lec-1", 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	svc.now = func() time.Time { return t0.Add(2 * time.Minute) }
	rotated, err := svc.RotateCode(context.Background(), "teach-1", "lec-1")
	if err != nil {
		t.Fatalf("rotate code: %v", err)
	}
	if rotated.QRToken != started.QRToken || !rotated.QRGeneratedAt.Equal(started.QRGeneratedAt) {
		t.Fatal("code rotation touched the qr token")
	}
	if !rotated.CodeGeneratedAt.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("code timestamp not reset: %v", rotated.CodeGeneratedAt)
	}

	rotated2, err := svc.RotateQR(context.Background(), "teach-1", "lec-1")
	if err != nil {
		t.Fatalf("rotate qr: %v", err)
	}
	if rotated2.ClassroomCode != rotated.ClassroomCode || !rotated2.CodeGeneratedAt.Equal(rotated.CodeGeneratedAt) {
		t.Fatal("qr rotation touched the classroom code")
	}
	if rotated2.QRToken == started.QRToken {
		t.Fatal("qr token unchanged after rotation")
	}

	// End, then confirm the session is gone for readers and rotators.
	if err := svc.End(context.Background(), "teach-1", "lec-1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := svc.GetActive(context.Background(), "lec-1"); !IsKind(err, KindNoActiveSession) {
		t.Fatalf("err = %v, want no_active_session", err)
	}
	if _, err := svc.RotateCode(context.Background(), "teach-1", "lec-1"); !IsKind(err, KindNoActiveSession) {
		t.Fatalf("err = %v, want no_active_session", err)
	}
	if lec, _ := store.GetLecture(context.Background(), "lec-1"); lec.Status != LectureCompleted {
		t.Fatalf("lecture status = %s, want completed", lec.Status)
	}
}

func TestEnd_WithoutSession(t *testing.T) {
	svc, _ := newSessionScenario()

	if err := svc.End(context.Background(), "teach-1", "lec-1"); !IsKind(err, KindNoActiveSession) {
		t.Fatalf("err = %v, want no_active_session", err)
	}
}
