// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package policy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/guildhall/guildhall/internal/access"
)

var (
	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guildhall_access_resolve_duration_seconds",
		Help:    "Latency of Resolve calls, including member loading",
		Buckets: prometheus.DefBuckets,
	})

	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildhall_access_resolutions_total",
		Help: "Capability resolutions by reason and outcome",
	}, []string{"reason", "granted"})

	manageChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildhall_access_manage_checks_total",
		Help: "Hierarchy checks by reason and outcome",
	}, []string{"reason", "allowed"})

	loadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildhall_access_member_load_failures_total",
		Help: "Member loads that failed for reasons other than not-found",
	})
)

// recordResolve records metrics for a completed resolution.
func recordResolve(elapsed time.Duration, r access.Result) {
	resolveDuration.Observe(elapsed.Seconds())
	resolutions.WithLabelValues(r.Reason.String(), strconv.FormatBool(r.Granted)).Inc()
}

func recordManage(d access.ManageDecision) {
	manageChecks.WithLabelValues(string(d.Reason), strconv.FormatBool(d.Allowed)).Inc()
}
