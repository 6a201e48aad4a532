/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package region

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/srediag/shmregion/pkg/region"

type metrics struct {
	reg        prometheus.Registerer
	registered []prometheus.Collector

	opens    *prometheus.CounterVec
	closes   *prometheus.CounterVec
	occupied prometheus.Gauge
	ops      metric.Int64Counter
}

func newMetrics(cfg *Config) (*metrics, error) {
	m := &metrics{
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shm",
			Subsystem: "region",
			Name:      "opens_total",
			Help:      "Region Open calls by result.",
		}, []string{"result"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shm",
			Subsystem: "region",
			Name:      "closes_total",
			Help:      "Region Close calls by result.",
		}, []string{"result"}),
		occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shm",
			Subsystem: "region",
			Name:      "slots_occupied",
			Help:      "Region table slots currently holding a key.",
		}),
	}
	if cfg.Registerer != nil {
		m.reg = cfg.Registerer
		for _, c := range []prometheus.Collector{m.opens, m.closes, m.occupied} {
			if err := m.reg.Register(c); err != nil {
				m.unregister()
				return nil, errors.Wrap(err, "register region metrics")
			}
			m.registered = append(m.registered, c)
		}
	}

	meter := cfg.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	ops, err := meter.Int64Counter("shm.region.operations",
		metric.WithDescription("Region table operations by op and result."))
	if err != nil {
		m.unregister()
		return nil, errors.Wrap(err, "create region operation counter")
	}
	m.ops = ops
	return m, nil
}

func (m *metrics) observe(ctx context.Context, ev Event, occupied int) {
	switch ev.Op {
	case OpOpen:
		m.opens.WithLabelValues(ev.Result.String()).Inc()
	case OpClose:
		m.closes.WithLabelValues(ev.Result.String()).Inc()
	}
	m.occupied.Set(float64(occupied))
	m.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", ev.Op.String()),
		attribute.String("result", ev.Result.String()),
	))
}

func (m *metrics) unregister() {
	for _, c := range m.registered {
		m.reg.Unregister(c)
	}
	m.registered = nil
}
