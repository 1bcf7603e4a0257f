// Package stats tracks process-wide cache hit/miss counters and a histogram
// of response payload sizes.
//
// A Tracker is created once at startup and injected as a handle; there is no
// package-level singleton. Counters are monotonic for the process lifetime
// and only ever reset by restart. Each counter is independently atomic:
// Snapshot returns a point-in-time copy whose individual values are exact,
// but cross-counter consistency is neither guaranteed nor needed by any
// consumer.
package stats

import (
	"sync"
	"sync/atomic"
)

// Kind selects which response cache a hit or miss belongs to.
type Kind string

const (
	KindData     Kind = "data"
	KindForecast Kind = "forecast"
)

// Tracker accumulates cache counters and a payload-size histogram.
type Tracker struct {
	dataHits       atomic.Uint64
	dataMisses     atomic.Uint64
	forecastHits   atomic.Uint64
	forecastMisses atomic.Uint64

	mu          sync.Mutex
	sizeBuckets map[string]uint64
}

// Snapshot is a point-in-time copy of the tracker state.
type Snapshot struct {
	DataCacheHits        uint64            `json:"dataCacheHits"`
	DataCacheMisses      uint64            `json:"dataCacheMisses"`
	ForecastCacheHits    uint64            `json:"forecastCacheHits"`
	ForecastCacheMisses  uint64            `json:"forecastCacheMisses"`
	WeatherStringLengths map[string]uint64 `json:"weatherStringLengthMap"`
}

// New creates a zeroed Tracker.
func New() *Tracker {
	return &Tracker{sizeBuckets: make(map[string]uint64)}
}

// RecordHit atomically increments the hit counter for kind.
func (t *Tracker) RecordHit(kind Kind) {
	switch kind {
	case KindForecast:
		t.forecastHits.Add(1)
	default:
		t.dataHits.Add(1)
	}
}

// RecordMiss atomically increments the miss counter for kind. Call it once
// per actual upstream fetch, not per cache probe, so retries are not
// double-counted.
func (t *Tracker) RecordMiss(kind Kind) {
	switch kind {
	case KindForecast:
		t.forecastMisses.Add(1)
	default:
		t.dataMisses.Add(1)
	}
}

// RecordPayloadSize increments the histogram counter for bucket. Bucket
// derivation is the caller's policy; the tracker stores whatever key it is
// handed.
func (t *Tracker) RecordPayloadSize(bucket string) {
	t.mu.Lock()
	t.sizeBuckets[bucket]++
	t.mu.Unlock()
}

// Snapshot returns a copy of all counters. The histogram map is copied, so
// the caller may hold or serialize it without racing later increments.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	buckets := make(map[string]uint64, len(t.sizeBuckets))
	for k, v := range t.sizeBuckets {
		buckets[k] = v
	}
	t.mu.Unlock()

	return Snapshot{
		DataCacheHits:        t.dataHits.Load(),
		DataCacheMisses:      t.dataMisses.Load(),
		ForecastCacheHits:    t.forecastHits.Load(),
		ForecastCacheMisses:  t.forecastMisses.Load(),
		WeatherStringLengths: buckets,
	}
}
