// Package anomaly flags suspicious claim-rejection patterns for human
// review. It is advisory only: nothing here ever blocks or alters a
// validator decision.
package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"presence/internal/attendance"
	"presence/internal/metrics"
)

// Flag kinds emitted by the detector.
const (
	FlagStaleCredential     = "stale_credential"
	FlagExcessiveRejections = "excessive_rejections"
)

// Flag is a side-channel record of an anomalous claim pattern, resolved
// later by a reviewer.
type Flag struct {
	ID        string    `json:"id"`
	LectureID string    `json:"lecture_id"`
	StudentID string    `json:"student_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// FlagStore persists flags; *FlagRepo is the production implementation.
type FlagStore interface {
	InsertFlag(ctx context.Context, f Flag) (Flag, error)
}

// Thresholds configures when a rejection pattern becomes a flag. Counts
// accumulate per (lecture, student) within a fixed Window.
type Thresholds struct {
	Window  time.Duration
	Expired int
	Total   int
}

// Detector is a stateless decision over bounded recent-history counters.
type Detector struct {
	counter Counter
	flags   FlagStore
	cfg     Thresholds
}

// NewDetector creates a detector.
func NewDetector(counter Counter, flags FlagStore, cfg Thresholds) *Detector {
	return &Detector{counter: counter, flags: flags, cfg: cfg}
}

// Process counts one rejection and emits a flag when a threshold is
// crossed. A flag is written only at the exact crossing so a burst of
// rejections yields one flag per window, not one per attempt.
func (d *Detector) Process(ctx context.Context, evt attendance.RejectionEvent) error {
	pair := evt.LectureID + ":" + evt.StudentID

	total, err := d.counter.Incr(ctx, "anomaly:total:"+pair, d.cfg.Window)
	if err != nil {
		return err
	}
	if total == int64(d.cfg.Total) {
		if err := d.emit(ctx, evt, FlagExcessiveRejections, total); err != nil {
			return err
		}
	}

	if evt.Kind == attendance.KindCodeExpired || evt.Kind == attendance.KindQRExpired {
		stale, err := d.counter.Incr(ctx, "anomaly:expired:"+pair, d.cfg.Window)
		if err != nil {
			return err
		}
		if stale == int64(d.cfg.Expired) {
			if err := d.emit(ctx, evt, FlagStaleCredential, stale); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Detector) emit(ctx context.Context, evt attendance.RejectionEvent, kind string, count int64) error {
	detail, _ := json.Marshal(map[string]any{
		"count":     count,
		"window":    d.cfg.Window.String(),
		"last_kind": evt.Kind,
		"method":    evt.Method,
		"ip":        evt.IPAddress,
		"at":        evt.At,
	})
	_, err := d.flags.InsertFlag(ctx, Flag{
		LectureID: evt.LectureID,
		StudentID: evt.StudentID,
		Kind:      kind,
		Detail:    string(detail),
	})
	if err != nil {
		return fmt.Errorf("insert flag: %w", err)
	}
	metrics.SuspiciousFlags.Inc()
	return nil
}
