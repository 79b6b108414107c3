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

package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "server_client",
			Name:      "commands_total",
			Help:      "Total number of commands sent to the workflow server",
		}, []string{"command", "result"})

	commandRetryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "server_client",
			Name:      "command_retries_total",
			Help:      "Total number of retried attempts of workflow server commands",
		}, []string{"command"})

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jobflow",
			Subsystem: "server_client",
			Name:      "command_duration_seconds",
			Help:      "Bucketed histogram of workflow server command duration, retries included",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
		}, []string{"command"})

	signalCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "server_client",
			Name:      "signals_total",
			Help:      "Total number of signals that aborted a client scope",
		}, []string{"signal"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(commandCounter)
	registry.MustRegister(commandRetryCounter)
	registry.MustRegister(commandDuration)
	registry.MustRegister(signalCounter)
}
