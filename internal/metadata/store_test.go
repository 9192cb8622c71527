package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftline/internal/detect"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "metadata.json"), 0, nil)
}

func TestUpdateFieldStats_TypeCountsSumToAppearances(t *testing.T) {
	s := newTestStore(t)
	s.UpdateFieldStats("battery", detect.TagInteger, "50")
	s.UpdateFieldStats("battery", detect.TagInteger, "60")
	s.UpdateFieldStats("battery", detect.TagString, "charging")

	s.mu.Lock()
	f := s.doc.Fields["battery"]
	var sum int64
	for _, c := range f.TypeCounts {
		sum += c
	}
	s.mu.Unlock()

	assert.EqualValues(t, 3, sum)
	assert.EqualValues(t, 3, s.Appearances("battery"))
}

func TestUpdateFieldStats_SampleValuesBoundedDedupedTruncated(t *testing.T) {
	s := newTestStore(t)
	long := ""
	for i := 0; i < 150; i++ {
		long += "x"
	}
	for i := 0; i < 10; i++ {
		s.UpdateFieldStats("name", detect.TagString, "alice")
	}
	s.UpdateFieldStats("name", detect.TagString, "bob")
	s.UpdateFieldStats("name", detect.TagString, long)
	s.UpdateFieldStats("name", detect.TagString, "carol")
	s.UpdateFieldStats("name", detect.TagString, "dave")
	s.UpdateFieldStats("name", detect.TagString, "erin") // would be 6th unique, beyond the cap of 5

	samples := s.SampleValues("name")
	assert.LessOrEqual(t, len(samples), 5)
	assert.Contains(t, samples, "alice")
	assert.Len(t, samples[2], 100)
}

func TestUpdateFieldStats_NullRatio(t *testing.T) {
	s := newTestStore(t)
	s.UpdateFieldStats("optional", detect.TagNull, "None")
	s.UpdateFieldStats("optional", detect.TagNull, "None")
	s.UpdateFieldStats("optional", detect.TagString, "x")
	assert.InDelta(t, 2.0/3.0, s.NullRatio("optional"), 1e-9)
}

func TestDominantTypeAndStability_TiedCountsHalfStability(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 50; i++ {
		s.UpdateFieldStats("mixed", detect.TagInteger, "1")
	}
	for i := 0; i < 50; i++ {
		s.UpdateFieldStats("mixed", detect.TagString, "x")
	}
	_, stability := s.DominantTypeAndStability("mixed")
	assert.InDelta(t, 0.5, stability, 1e-9)
}

func TestDriftScore_BatteryDriftScenario(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 40; i++ {
		s.UpdateFieldStats("battery", detect.TagInteger, "50")
	}
	for i := 0; i < 20; i++ {
		s.UpdateFieldStats("battery", detect.TagString, "charging")
	}
	// appearances=60, window=min(60,50)=50: the most recent 50 pushes are the
	// last 30 integers followed by the 20 strings. The dominant type is still
	// integer (40 vs 20), so drift = 1 - 30/50 = 0.40.
	score := s.DriftScore("battery")
	assert.GreaterOrEqual(t, score, 0.25, "expected moderate-or-greater drift after sustained type change")
}

func TestSetPlacementDecision_StickyUntilOverwritten(t *testing.T) {
	s := newTestStore(t)
	s.SetPlacementDecision("username", BackendBoth, "mandatory join key")
	d, ok := s.GetPlacementDecision("username")
	require.True(t, ok)
	assert.Equal(t, BackendBoth, d.Backend)

	s.SetPlacementDecision("username", BackendDoc, "drift downgrade")
	d2, _ := s.GetPlacementDecision("username")
	assert.Equal(t, BackendDoc, d2.Backend)
}

func TestFrequency_ZeroTotalRecordsIsZero(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, 0.0, s.Frequency("anything"))
}

func TestPersistLoadRoundTrip_IgnoringLastUpdated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")

	s1 := New(path, 0, nil)
	s1.IncrementTotalRecords()
	s1.IncrementTotalRecords()
	s1.UpdateFieldStats("username", detect.TagString, "alice")
	s1.SetPlacementDecision("username", BackendBoth, "mandatory join key")
	s1.AddNormalizationRule("userName", "username")
	require.NoError(t, s1.Checkpoint())

	_, err := os.Stat(path)
	require.NoError(t, err)

	s2 := New(path, 0, nil)

	assert.Equal(t, s1.TotalRecords(), s2.TotalRecords())
	assert.Equal(t, s1.Appearances("username"), s2.Appearances("username"))
	d1, _ := s1.GetPlacementDecision("username")
	d2, _ := s2.GetPlacementDecision("username")
	assert.Equal(t, d1.Backend, d2.Backend)
	assert.Equal(t, d1.Reason, d2.Reason)
	assert.Equal(t, s1.GetNormalizedKey("userName"), s2.GetNormalizedKey("userName"))
}

func TestLoadFallsBackToFreshStoreOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "does-not-exist.json"), 0, nil)
	assert.EqualValues(t, 0, s.TotalRecords())
	assert.Empty(t, s.AllFields())
}

func TestWithClock_ControlsFirstAndLastSeen(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	dir := t.TempDir()
	s := New(filepath.Join(dir, "metadata.json"), 0, nil, WithClock(func() time.Time { return fixed }))
	s.UpdateFieldStats("k", detect.TagString, "v")
	s.mu.Lock()
	f := s.doc.Fields["k"]
	s.mu.Unlock()
	assert.True(t, f.FirstSeen.Equal(fixed))
	assert.True(t, f.LastSeen.Equal(fixed))
}
