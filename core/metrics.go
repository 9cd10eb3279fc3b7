// Copyright 2025 The dreamforge Authors
// This file is part of the dreamforge library.
//
// The dreamforge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dreamforge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dreamforge library. If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dreamforge",
		Subsystem: "pipeline",
		Name:      "transitions_total",
		Help:      "Pipeline status transitions, labelled by resulting status.",
	}, []string{"to"})

	creditCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dreamforge",
		Subsystem: "credits",
		Name:      "moved_total",
		Help:      "Credits debited and refunded per stage.",
	}, []string{"stage", "direction"})

	providerPollCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dreamforge",
		Subsystem: "provider",
		Name:      "polls_total",
		Help:      "Provider status polls, labelled by provider and observed state.",
	}, []string{"provider", "state"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dreamforge",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of completed generation stages.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})
)
