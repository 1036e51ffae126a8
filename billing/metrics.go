// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import "github.com/prometheus/client_golang/prometheus"

var (
	metricEventsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlo_billing_events_recorded_total",
			Help: "Consumption events recorded, by provider",
		},
		[]string{"provider"},
	)
	metricCostRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlo_billing_cost_micro_total",
			Help: "Cost recorded in micro-USD, by provider",
		},
		[]string{"provider"},
	)
	metricQuotaDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlo_billing_quota_denials_total",
			Help: "Quota checks that returned deny, by accounting mode",
		},
		[]string{"mode"},
	)
	metricCacheFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parlo_billing_cache_fallbacks_total",
			Help: "Quota reads that missed the cache and fell back to the durable store",
		},
	)
	metricRecordFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlo_billing_record_failures_total",
			Help: "Usage writes that failed, by store",
		},
		[]string{"store"},
	)
)

func init() {
	prometheus.MustRegister(metricEventsRecorded)
	prometheus.MustRegister(metricCostRecorded)
	prometheus.MustRegister(metricQuotaDenials)
	prometheus.MustRegister(metricCacheFallbacks)
	prometheus.MustRegister(metricRecordFailures)
}
