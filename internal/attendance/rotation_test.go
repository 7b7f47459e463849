package attendance

import (
	"context"
	"testing"
	"time"
)

func TestRotatorTick_RotatesOneCredential(t *testing.T) {
	store := newFakeStore()
	store.addSession(Session{
		LectureID:       "lec-1",
		ClassroomCode:   "1111",
		QRToken:         "tok-1",
		CodeGeneratedAt: t0,
		QRGeneratedAt:   t0,
		WindowMinutes:   10,
		StartedAt:       t0,
	})
	r := NewRotator(store, nil, time.Minute, time.Second)

	if stop := r.tick("lec-1", false); stop {
		t.Fatal("code tick requested stop on a live session")
	}
	sess, _ := store.GetActiveSession(context.Background(), "lec-1")
	if sess.ClassroomCode == "1111" && sess.CodeGeneratedAt.Equal(t0) {
		t.Fatal("code tick did not rotate the code")
	}
	if sess.QRToken != "tok-1" {
		t.Fatal("code tick rotated the qr token")
	}

	if stop := r.tick("lec-1", true); stop {
		t.Fatal("qr tick requested stop on a live session")
	}
	sess, _ = store.GetActiveSession(context.Background(), "lec-1")
	if sess.QRToken == "tok-1" {
		t.Fatal("qr tick did not rotate the token")
	}
}

func TestRotatorTick_StopsWhenSessionEnded(t *testing.T) {
	store := newFakeStore() // no session: every rotate sees active = FALSE
	r := NewRotator(store, nil, time.Minute, time.Second)

	if stop := r.tick("lec-1", false); !stop {
		t.Fatal("tick against an ended session should stop the loop")
	}
	if stop := r.tick("lec-1", true); !stop {
		t.Fatal("qr tick against an ended session should stop the loop")
	}
}

func TestRotatorTick_TransientFailureKeepsRunning(t *testing.T) {
	store := newFakeStore()
	store.addSession(Session{LectureID: "lec-1", ClassroomCode: "1111", QRToken: "tok-1", WindowMinutes: 10, StartedAt: t0})
	store.rotateErrs = []error{context.DeadlineExceeded}
	r := NewRotator(store, nil, time.Minute, time.Second)

	if stop := r.tick("lec-1", false); stop {
		t.Fatal("a transient store failure must not stop rotation")
	}
}

func TestRotator_TrackAndStop(t *testing.T) {
	store := newFakeStore()
	store.addSession(Session{LectureID: "lec-1", ClassroomCode: "1111", QRToken: "tok-1", WindowMinutes: 10, StartedAt: t0})
	r := NewRotator(store, nil, 5*time.Millisecond, 3*time.Millisecond)

	r.Track("lec-1")
	deadline := time.After(2 * time.Second)
	for {
		sess, _ := store.GetActiveSession(context.Background(), "lec-1")
		if sess.ClassroomCode != "1111" && sess.QRToken != "tok-1" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("rotator never advanced both credentials")
		case <-time.After(5 * time.Millisecond):
		}
	}
	r.Stop("lec-1")

	// After Stop, the credentials settle.
	time.Sleep(20 * time.Millisecond)
	before, _ := store.GetActiveSession(context.Background(), "lec-1")
	time.Sleep(30 * time.Millisecond)
	after, _ := store.GetActiveSession(context.Background(), "lec-1")
	if before.ClassroomCode != after.ClassroomCode || before.QRToken != after.QRToken {
		t.Fatal("rotation continued after Stop")
	}
}
