// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Claims counts attendance claims by outcome (present, late, or a
	// rejection kind).
	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_claims_total",
		Help: "Attendance claims by outcome.",
	}, []string{"outcome"})

	// Rotations counts credential rotations by credential type.
	Rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_credential_rotations_total",
		Help: "Credential rotations by credential type.",
	}, []string{"credential"})

	// SuspiciousFlags counts flags emitted by the anomaly detector.
	SuspiciousFlags = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_suspicious_flags_total",
		Help: "Suspicious flags emitted by the anomaly detector.",
	})
)
