package attendance

import "time"

// LectureStatus tracks the lecture lifecycle.
type LectureStatus string

const (
	LectureScheduled LectureStatus = "scheduled"
	LectureActive    LectureStatus = "active"
	LectureCompleted LectureStatus = "completed"
	LectureCancelled LectureStatus = "cancelled"
)

// Lecture holds scheduling metadata. Immutable once a session starts,
// except for status transitions.
type Lecture struct {
	ID        string        `json:"id"`
	Course    string        `json:"course"`
	Title     string        `json:"title"`
	TeacherID string        `json:"teacher_id"`
	Location  string        `json:"location"`
	StartsAt  time.Time     `json:"starts_at"`
	EndsAt    time.Time     `json:"ends_at"`
	Status    LectureStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Session is the live proof-of-presence state for one lecture. Mutated in
// place by rotation; soft-ended by clearing Active. Never physically
// removed, the row stays for audit.
type Session struct {
	ID              string     `json:"id"`
	LectureID       string     `json:"lecture_id"`
	ClassroomCode   string     `json:"classroom_code"`
	QRToken         string     `json:"qr_token"`
	CodeGeneratedAt time.Time  `json:"code_generated_at"`
	QRGeneratedAt   time.Time  `json:"qr_generated_at"`
	WindowMinutes   int        `json:"window_minutes"`
	StartedAt       time.Time  `json:"started_at"`
	Active          bool       `json:"active"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// Method is the closed set of ways an attendance record can be marked.
// The validator branches exhaustively on it; a new method needs an
// explicit new branch, not a fallthrough.
type Method string

const (
	MethodCode   Method = "code"
	MethodQR     Method = "qr"
	MethodManual Method = "manual"
)

// RecordStatus is the terminal grading of one (lecture, student) pair.
type RecordStatus string

const (
	StatusPresent RecordStatus = "present"
	StatusLate    RecordStatus = "late"
	StatusAbsent  RecordStatus = "absent"
	StatusExcused RecordStatus = "excused"
)

// Record is the permanent attendance row, unique per (lecture, student).
// Only a privileged correction may later change Status.
type Record struct {
	ID               string       `json:"id"`
	LectureID        string       `json:"lecture_id"`
	StudentID        string       `json:"student_id"`
	Status           RecordStatus `json:"status"`
	Method           Method       `json:"method"`
	IPAddress        string       `json:"ip_address"`
	MarkedAt         time.Time    `json:"marked_at"`
	CorrectionReason *string      `json:"correction_reason,omitempty"`
	CorrectedBy      *string      `json:"corrected_by,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Claim is a student's attendance submission.
type Claim struct {
	LectureID   string
	StudentID   string
	Method      Method
	Credential  string
	SubmittedAt time.Time
	IPAddress   string
}

// RejectionEvent is the signal sent to the anomaly pipeline for every
// claim refused by the session, window, or credential checks.
type RejectionEvent struct {
	Kind      Kind      `json:"kind"`
	LectureID string    `json:"lecture_id"`
	StudentID string    `json:"student_id"`
	Method    Method    `json:"method"`
	IPAddress string    `json:"ip_address"`
	At        time.Time `json:"at"`
}
