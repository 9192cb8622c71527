// Package metadata implements the persistent, mutex-guarded store of
// per-field statistics (appearance counts, type histograms, drift) that the
// placement engine consults and that survives process restarts.
package metadata

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"driftline/internal/detect"
)

// Backend is one of the four placement states a field can hold.
type Backend string

const (
	BackendUndecided Backend = "UNDECIDED"
	BackendSQL       Backend = "SQL"
	BackendDoc       Backend = "DOC"
	BackendBoth      Backend = "BOTH"
)

const driftWindowSize = 50

// driftWindow is a fixed-size ring buffer of the most recently observed
// tags for one field, used to approximate drift_score without retaining
// unbounded history.
type driftWindow struct {
	tags [driftWindowSize]detect.Tag
	pos  int
	size int
}

func (w *driftWindow) push(tag detect.Tag) {
	w.tags[w.pos] = tag
	w.pos = (w.pos + 1) % driftWindowSize
	if w.size < driftWindowSize {
		w.size++
	}
}

func (w *driftWindow) score(dominant detect.Tag) float64 {
	if w.size == 0 {
		return 0
	}
	matches := 0
	for i := 0; i < w.size; i++ {
		if w.tags[i] == dominant {
			matches++
		}
	}
	return 1 - float64(matches)/float64(w.size)
}

// FieldRecord is the per-canonical-key statistics entry. Exported fields are
// persisted; the drift window and type-insertion order are rebuilt fresh on
// every process start (spec.md leaves drift_score's exact representation as
// an implementation-defined windowed approximation, see DESIGN.md).
type FieldRecord struct {
	Appearances int64                `json:"appearances"`
	TypeCounts  map[detect.Tag]int64 `json:"type_counts"`
	SampleValues []string            `json:"sample_values"`
	FirstSeen   time.Time            `json:"first_seen"`
	LastSeen    time.Time            `json:"last_seen"`
	NullRatio   float64              `json:"null_ratio"`
	Placement   Backend              `json:"placement"`
	Quarantined bool                 `json:"quarantined"`

	typeOrder []detect.Tag
	drift     *driftWindow
}

func newFieldRecord(now time.Time) *FieldRecord {
	return &FieldRecord{
		TypeCounts:   make(map[detect.Tag]int64),
		SampleValues: make([]string, 0, 5),
		FirstSeen:    now,
		LastSeen:     now,
		Placement:    BackendUndecided,
		drift:        &driftWindow{},
	}
}

// dominant returns the tag with the highest count, ties broken by which tag
// was first observed for this field.
func (f *FieldRecord) dominant() detect.Tag {
	var best detect.Tag
	bestCount := int64(-1)
	for _, tag := range f.typeOrder {
		if c := f.TypeCounts[tag]; c > bestCount {
			bestCount = c
			best = tag
		}
	}
	return best
}

func (f *FieldRecord) typeStability() float64 {
	if f.Appearances == 0 {
		return 0
	}
	return float64(f.TypeCounts[f.dominant()]) / float64(f.Appearances)
}

func (f *FieldRecord) driftScore() float64 {
	if f.drift == nil {
		return 0
	}
	return f.drift.score(f.dominant())
}

// PlacementDecision is a recorded backend assignment for a canonical key.
type PlacementDecision struct {
	Backend   Backend   `json:"backend"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}

// document is the on-disk shape, mirroring spec.md §6.2's field list.
type document struct {
	Fields             map[string]*FieldRecord      `json:"fields"`
	NormalizationRules map[string]string            `json:"normalization_rules"`
	PlacementDecisions map[string]PlacementDecision  `json:"placement_decisions"`
	TotalRecords       int64                         `json:"total_records"`
	LastUpdated        time.Time                     `json:"last_updated"`
	SessionStart       time.Time                     `json:"session_start"`
}

func freshDocument(now time.Time) document {
	return document{
		Fields:             make(map[string]*FieldRecord),
		NormalizationRules: make(map[string]string),
		PlacementDecisions: make(map[string]PlacementDecision),
		SessionStart:       now,
		LastUpdated:        now,
	}
}

// Store is the mutex-guarded, checkpointed metadata store. All exported
// methods are safe for concurrent use by multiple feeders sharing one
// store, per spec.md §5's single mutual-exclusion region.
type Store struct {
	mu sync.Mutex
	doc document

	path            string
	checkpointEvery int
	sinceCheckpoint int

	log *zap.Logger
	now func() time.Time
}

// Option configures a Store at construction.
type Option func(*Store)

// WithClock overrides the store's time source; used by tests that need
// deterministic first_seen/last_seen values.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New loads path if it exists and is valid JSON, otherwise starts from an
// empty document and logs the fallback. checkpointEvery of 0 disables
// periodic checkpointing (Close still performs a final write).
func New(path string, checkpointEvery int, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		path:            path,
		checkpointEvery: checkpointEvery,
		log:             log,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	doc, err := loadDocument(path)
	if err != nil {
		if log != nil {
			log.Warn("metadata: falling back to fresh store", zap.String("path", path), zap.Error(err))
		}
		doc = freshDocument(s.now())
	}
	s.doc = doc
	return s
}

// IncrementTotalRecords bumps the global record counter.
func (s *Store) IncrementTotalRecords() {
	s.mu.Lock()
	s.doc.TotalRecords++
	s.mu.Unlock()
}

// UpdateFieldStats records one observation of tag/sampleValue for
// canonical key key, creating the field record on first appearance.
func (s *Store) UpdateFieldStats(key string, tag detect.Tag, sampleValue string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.doc.Fields[key]
	if !ok {
		f = newFieldRecord(now)
		s.doc.Fields[key] = f
	}

	f.Appearances++
	f.LastSeen = now

	if _, seen := f.TypeCounts[tag]; !seen {
		f.typeOrder = append(f.typeOrder, tag)
	}
	f.TypeCounts[tag]++
	f.drift.push(tag)
	f.NullRatio = float64(f.TypeCounts[detect.TagNull]) / float64(f.Appearances)

	if len(f.SampleValues) < 5 {
		truncated := sampleValue
		if len(truncated) > 100 {
			truncated = truncated[:100]
		}
		if !containsString(f.SampleValues, truncated) {
			f.SampleValues = append(f.SampleValues, truncated)
		}
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// AddNormalizationRule records that raw maps to canonical, idempotently.
func (s *Store) AddNormalizationRule(raw, canonical string) {
	s.mu.Lock()
	s.doc.NormalizationRules[raw] = canonical
	s.mu.Unlock()
}

// GetNormalizedKey returns the recorded canonical form for raw, or raw
// itself if no rule has been recorded.
func (s *Store) GetNormalizedKey(raw string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if canonical, ok := s.doc.NormalizationRules[raw]; ok {
		return canonical
	}
	return raw
}

// SetPlacementDecision records backend as the last-writer-wins decision
// for key.
func (s *Store) SetPlacementDecision(key string, backend Backend, reason string) {
	s.mu.Lock()
	s.doc.PlacementDecisions[key] = PlacementDecision{
		Backend:   backend,
		Reason:    reason,
		DecidedAt: s.now(),
	}
	s.mu.Unlock()
}

// GetPlacementDecision returns the recorded decision for key, if any.
func (s *Store) GetPlacementDecision(key string) (PlacementDecision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doc.PlacementDecisions[key]
	return d, ok
}

// MarkQuarantined sets the quarantine flag on an existing field record. It
// is a no-op if the field does not exist yet.
func (s *Store) MarkQuarantined(key string) {
	s.mu.Lock()
	if f, ok := s.doc.Fields[key]; ok {
		f.Quarantined = true
	}
	s.mu.Unlock()
}

// IsQuarantined reports whether key has been flagged by the drift response.
func (s *Store) IsQuarantined(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.doc.Fields[key]; ok {
		return f.Quarantined
	}
	return false
}

// Frequency returns appearances(key) / max(total_records, 1).
func (s *Store) Frequency(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.doc.TotalRecords
	if total == 0 {
		total = 1
	}
	f, ok := s.doc.Fields[key]
	if !ok {
		return 0
	}
	return float64(f.Appearances) / float64(total)
}

// DominantTypeAndStability returns the field's dominant tag and the share
// of its appearances that tag accounts for.
func (s *Store) DominantTypeAndStability(key string) (detect.Tag, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.doc.Fields[key]
	if !ok || len(f.TypeCounts) == 0 {
		return detect.TagUnknown, 0
	}
	return f.dominant(), f.typeStability()
}

// DriftScore returns the field's current windowed drift score.
func (s *Store) DriftScore(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.doc.Fields[key]
	if !ok {
		return 0
	}
	return f.driftScore()
}

// NullRatio returns the field's current null ratio.
func (s *Store) NullRatio(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.doc.Fields[key]; ok {
		return f.NullRatio
	}
	return 0
}

// Appearances returns the field's appearance count.
func (s *Store) Appearances(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.doc.Fields[key]; ok {
		return f.Appearances
	}
	return 0
}

// SampleValues returns a copy of the field's captured sample values.
func (s *Store) SampleValues(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.doc.Fields[key]
	if !ok {
		return nil
	}
	out := make([]string, len(f.SampleValues))
	copy(out, f.SampleValues)
	return out
}

// HasField reports whether key has ever been observed.
func (s *Store) HasField(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.doc.Fields[key]
	return ok
}

// AllFields returns every tracked canonical field name, in no particular
// order.
func (s *Store) AllFields() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.doc.Fields))
	for k := range s.doc.Fields {
		out = append(out, k)
	}
	return out
}

// TotalRecords returns the global processed-record counter.
func (s *Store) TotalRecords() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.TotalRecords
}

// Statistics is the comprehensive read snapshot used for reporting,
// mirroring original_source's get_statistics.
type Statistics struct {
	TotalRecords       int64     `json:"total_records"`
	UniqueFields       int       `json:"unique_fields"`
	NormalizationRules int       `json:"normalization_rules"`
	PlacementDecisions int       `json:"placement_decisions"`
	SessionStart       time.Time `json:"session_start"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Stats returns the store's summary statistics.
func (s *Store) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{
		TotalRecords:       s.doc.TotalRecords,
		UniqueFields:       len(s.doc.Fields),
		NormalizationRules: len(s.doc.NormalizationRules),
		PlacementDecisions: len(s.doc.PlacementDecisions),
		SessionStart:       s.doc.SessionStart,
		LastUpdated:        s.doc.LastUpdated,
	}
}

// Touch increments the checkpoint counter and checkpoints if the
// configured cadence has been reached. Called once per ingested record.
func (s *Store) Touch() error {
	s.mu.Lock()
	s.sinceCheckpoint++
	due := s.checkpointEvery > 0 && s.sinceCheckpoint >= s.checkpointEvery
	if due {
		s.sinceCheckpoint = 0
	}
	s.mu.Unlock()

	if due {
		return s.Checkpoint()
	}
	return nil
}

// Checkpoint persists the store unconditionally via an atomic
// write-temp-then-rename. The JSON encoding happens while the lock is held
// so a concurrent UpdateFieldStats can never observe or mutate a
// half-serialized map.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	s.doc.LastUpdated = s.now()
	data, err := marshalDocument(s.doc)
	s.mu.Unlock()
	if err != nil {
		if s.log != nil {
			s.log.Error("metadata: checkpoint encode failed", zap.Error(err))
		}
		return err
	}

	if err := writeAtomic(s.path, data); err != nil {
		if s.log != nil {
			s.log.Error("metadata: checkpoint write failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// Close performs a final checkpoint. Callers should invoke it during
// graceful shutdown.
func (s *Store) Close() error {
	return s.Checkpoint()
}
