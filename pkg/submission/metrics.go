// Copyright 2022 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package submission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	opSubmit = "submit"
	opStatus = "status"
	opKill   = "kill"

	resultOK   = "ok"
	resultFail = "fail"
)

var (
	backendOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "submission",
			Name:      "operations_total",
			Help:      "Total number of backend operations",
		}, []string{"backend", "operation", "result"})
	backendOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jobflow",
			Subsystem: "submission",
			Name:      "operation_duration_seconds",
			Help:      "Bucketed histogram of backend command duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"backend", "operation"})
	jobStatusCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "submission",
			Name:      "job_status_total",
			Help:      "Job statuses reported by backends",
		}, []string{"backend", "status"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(backendOperationCounter)
	registry.MustRegister(backendOperationDuration)
	registry.MustRegister(jobStatusCounter)
}

func observeOperation(kind Kind, op string, start time.Time, err error) {
	result := resultOK
	if err != nil {
		result = resultFail
	}
	backendOperationCounter.WithLabelValues(string(kind), op, result).Inc()
	backendOperationDuration.WithLabelValues(string(kind), op).Observe(time.Since(start).Seconds())
}
