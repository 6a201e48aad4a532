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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/srediag/shmregion/pkg/frame"
)

func TestVerifyConfig(t *testing.T) {
	assert.NoError(t, VerifyConfig(DefaultConfig()))
	assert.Error(t, VerifyConfig(&Config{Capacity: 0}))
	assert.Error(t, VerifyConfig(&Config{Capacity: -3}))
	assert.Error(t, VerifyConfig(&Config{Capacity: 1, Release: ReleasePolicy(9)}))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 64, cfg.Capacity)
	assert.Equal(t, ReleaseDeferred, cfg.Release)
	assert.False(t, cfg.RollbackOnMapFailure)
	assert.True(t, cfg.ReclaimFrames)
}

func TestReleasePolicyText(t *testing.T) {
	assert.Equal(t, "deferred", ReleaseDeferred.String())
	assert.Equal(t, "on-zero", ReleaseOnZero.String())
	assert.Equal(t, "ReleasePolicy(7)", ReleasePolicy(7).String())

	var p ReleasePolicy
	require.NoError(t, p.UnmarshalText([]byte(" On-Zero ")))
	assert.Equal(t, ReleaseOnZero, p)
	assert.Error(t, p.UnmarshalText([]byte("eager")))
}

func TestConfigYAML(t *testing.T) {
	var cfg Config
	in := "capacity: 16\nrelease: on-zero\nrollbackOnMapFailure: true\nreclaimFrames: false\n"
	require.NoError(t, yaml.Unmarshal([]byte(in), &cfg))
	assert.Equal(t, Config{Capacity: 16, Release: ReleaseOnZero, RollbackOnMapFailure: true}, cfg)

	out, err := yaml.Marshal(&cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "release: on-zero")
}

func TestResultAndOpNames(t *testing.T) {
	assert.Equal(t, "open", OpOpen.String())
	assert.Equal(t, "close", OpClose.String())
	assert.Equal(t, "table_full", ResultTableFull.String())
	assert.Equal(t, "unknown_key", ResultUnknownKey.String())
	assert.Equal(t, "Result(200)", Result(200).String())
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	require.NoError(t, (<-ch).Write(m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	pool, err := frame.NewPool(ctx, &frame.PoolConfig{Frames: 4, Base: 0x100000})
	require.NoError(t, err)
	defer pool.Close(ctx)

	cfg := DefaultConfig()
	cfg.Capacity = 2
	cfg.Registerer = reg
	tbl, err := NewTable(cfg, pool, &testMapper{})
	require.NoError(t, err)

	space := &testSpace{pid: 1}
	_, _ = tbl.Open(ctx, 1, space)
	_, _ = tbl.Open(ctx, 1, space)
	_, _ = tbl.Open(ctx, 2, space)
	_, _ = tbl.Open(ctx, 3, space)
	_ = tbl.Close(ctx, 9)

	m := tbl.metrics
	assert.Equal(t, 2.0, counterValue(t, m.opens.WithLabelValues("created")))
	assert.Equal(t, 1.0, counterValue(t, m.opens.WithLabelValues("joined")))
	assert.Equal(t, 1.0, counterValue(t, m.opens.WithLabelValues("table_full")))
	assert.Equal(t, 1.0, counterValue(t, m.closes.WithLabelValues("unknown_key")))
	assert.Equal(t, 2.0, counterValue(t, m.occupied))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["shm_region_opens_total"])
	assert.True(t, names["shm_region_closes_total"])
	assert.True(t, names["shm_region_slots_occupied"])

	// a second table on the same registry collides
	_, err = NewTable(cfg, pool, &testMapper{})
	assert.Error(t, err)

	tbl.Unregister()
	_, err = NewTable(cfg, pool, &testMapper{})
	assert.NoError(t, err, "registry is free again after Unregister")
}

func TestMetricsRegistrationUndoneOnFailure(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "shm_region_closes_total", Help: "taken"}))
	pool, err := frame.NewPool(ctx, &frame.PoolConfig{Frames: 1, Base: 0x100000})
	require.NoError(t, err)
	defer pool.Close(ctx)

	cfg := DefaultConfig()
	cfg.Registerer = reg
	_, err = NewTable(cfg, pool, &testMapper{})
	require.Error(t, err)

	opens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shm", Subsystem: "region", Name: "opens_total", Help: "Region Open calls by result.",
	}, []string{"result"})
	assert.False(t, reg.Unregister(opens), "opens collector left registered")
}
