package core

import (
	"testing"
	"time"

	"github.com/signalsfoundry/mission-engine/model"
)

func TestPassCache_ServesSameMinute(t *testing.T) {
	el := equatorialElements()
	cache := NewPassCache(16, time.Minute)
	from := testEpoch.Add(7 * time.Minute)

	first := cache.NextPass(el, equatorStation, from)
	second := cache.NextPass(el, equatorStation, from.Add(20*time.Second))
	if first == nil || second == nil {
		t.Fatalf("NextPass returned nil: %v %v", first, second)
	}
	if !first.StartTime.Equal(second.StartTime) {
		t.Fatalf("cached StartTime %v, want %v", second.StartTime, first.StartTime)
	}
	if second.TimeUntilPass != first.TimeUntilPass-20*time.Second {
		t.Fatalf("TimeUntilPass = %v, want %v", second.TimeUntilPass, first.TimeUntilPass-20*time.Second)
	}
	if ratio := cache.HitRatio(); ratio != 0.5 {
		t.Fatalf("HitRatio = %v, want 0.5", ratio)
	}
}

func TestCalculator_MatchesUncached(t *testing.T) {
	el := issElements()
	calc := &Calculator{Cache: NewPassCache(16, time.Minute)}
	ts := testEpoch.Add(90 * time.Minute)

	got := calc.Visibility(el, goldstone, ts)
	want := CalculateVisibility(el, goldstone, ts)
	if got.IsVisible != want.IsVisible || got.Elevation != want.Elevation {
		t.Fatalf("cached reading %+v differs from %+v", got, want)
	}
	if (got.NextPassTime == nil) != (want.NextPassTime == nil) {
		t.Fatalf("NextPassTime mismatch: %v vs %v", got.NextPassTime, want.NextPassTime)
	}
	if got.NextPassTime != nil && !got.NextPassTime.Equal(*want.NextPassTime) {
		t.Fatalf("NextPassTime = %v, want %v", got.NextPassTime, want.NextPassTime)
	}
}

func TestPassCache_RelocatedStationMisses(t *testing.T) {
	el := issElements()
	cache := NewPassCache(16, time.Minute)
	from := testEpoch

	if cache.NextPass(el, goldstone, from) == nil {
		t.Fatalf("no pass over Goldstone")
	}

	moved := goldstone
	moved.Location = model.GeodeticLocation{LatitudeDeg: -33.87, LongitudeDeg: 151.21}
	at := from.Add(10 * time.Second)
	got := cache.NextPass(el, moved, at)
	want := NextPass(el, moved, at)
	if (got == nil) != (want == nil) {
		t.Fatalf("cached %v, uncached %v", got, want)
	}
	if got != nil && !got.StartTime.Equal(want.StartTime) {
		t.Fatalf("relocated station StartTime = %v, want %v", got.StartTime, want.StartTime)
	}
	if ratio := cache.HitRatio(); ratio != 0 {
		t.Fatalf("HitRatio = %v, want 0 after a relocation", ratio)
	}
}
