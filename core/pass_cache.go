package core

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/signalsfoundry/mission-engine/model"
)

type passKey struct {
	altitude    float64
	inclination float64
	raan        float64
	epoch       int64
	stationID   string
	station     model.GeodeticLocation
	minute      int64
}

type cachedPass struct {
	pass *model.Pass
}

// PassCache memoises NextPass results per element set, station (id and
// location) and virtual minute. Entries expire after ttl of wall-clock time.
type PassCache struct {
	lru    *expirable.LRU[passKey, cachedPass]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPassCache constructs a cache holding at most size entries.
func NewPassCache(size int, ttl time.Duration) *PassCache {
	if size <= 0 {
		size = 1024
	}
	return &PassCache{lru: expirable.NewLRU[passKey, cachedPass](size, nil, ttl)}
}

// NextPass behaves like the package-level NextPass but serves repeated
// queries within the same minute from the cache.
func (c *PassCache) NextPass(el model.OrbitalElements, station model.GroundStation, t time.Time) *model.Pass {
	if c == nil {
		return NextPass(el, station, t)
	}
	key := passKey{
		altitude:    el.AltitudeKm,
		inclination: el.InclinationDegrees,
		raan:        el.RAANDegrees,
		epoch:       el.Epoch.UnixNano(),
		stationID:   station.ID,
		station:     station.Location,
		minute:      t.Unix() / 60,
	}
	if entry, ok := c.lru.Get(key); ok {
		if entry.pass == nil {
			c.hits.Add(1)
			return nil
		}
		if entry.pass.StartTime.After(t) {
			c.hits.Add(1)
			out := *entry.pass
			out.TimeUntilPass = out.StartTime.Sub(t)
			return &out
		}
	}
	c.misses.Add(1)
	pass := NextPass(el, station, t)
	c.lru.Add(key, cachedPass{pass: pass})
	return pass
}

// HitRatio reports hits / (hits + misses), or zero before any lookup.
func (c *PassCache) HitRatio() float64 {
	if c == nil {
		return 0
	}
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// Calculator computes visibility readings, using a PassCache for the
// next-pass scan when one is configured.
type Calculator struct {
	Cache *PassCache
}

// Visibility is CalculateVisibility with cached next-pass lookups.
func (c *Calculator) Visibility(el model.OrbitalElements, station model.GroundStation, t time.Time) model.VisibilityReading {
	if c == nil || c.Cache == nil {
		return CalculateVisibility(el, station, t)
	}
	return calculateVisibility(el, station, t, c.Cache.NextPass)
}

// Visibilities computes readings for every station in order.
func (c *Calculator) Visibilities(el model.OrbitalElements, stations []model.GroundStation, t time.Time) []model.VisibilityReading {
	out := make([]model.VisibilityReading, 0, len(stations))
	for _, st := range stations {
		out = append(out, c.Visibility(el, st, t))
	}
	return out
}
