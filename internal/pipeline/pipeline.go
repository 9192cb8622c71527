// Package pipeline orchestrates one record at a time through flattening,
// normalization, type detection, bi-temporal timestamping, placement
// splitting, and dispatch to whichever backend adapters are configured.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"driftline/internal/detect"
	"driftline/internal/metadata"
	"driftline/internal/normalize"
	"driftline/internal/placement"
	"driftline/internal/types"
)

// BackendAdapter is the minimum contract every storage backend must
// satisfy. Insert receives the already-split, native-Go-typed record.
type BackendAdapter interface {
	Insert(ctx context.Context, record map[string]any) error
	Close() error
}

// ColumnEnsurer is implemented only by adapters backed by a schema that
// must evolve on demand (the relational adapter); document adapters have
// no schema to evolve.
type ColumnEnsurer interface {
	EnsureColumn(name string, tag detect.Tag, unique bool) error
}

// Default checkpoint and progress-log cadences (N and M from spec.md
// §4.6 step 7). IngestRecord logs progress every DefaultProgressEvery
// records; the checkpoint cadence actually used is the one the metadata
// store was built with (cmd/driftline passes the configured
// checkpoint_every, whose default is also 10).
const (
	DefaultCheckpointEvery = 10
	DefaultProgressEvery   = 50
)

// Stats tallies outcomes across every call to IngestRecord.
type Stats struct {
	Processed     int64
	SQLInserted   int64
	DocInserted   int64
	SQLDuplicates int64
	DocDuplicates int64
	Errors        int64
}

// Pipeline wires a metadata store and placement engine to zero-or-one
// relational adapter and zero-or-one document adapter. At least one
// adapter must be present at construction; New returns an error otherwise.
type Pipeline struct {
	store  *metadata.Store
	engine *placement.Engine
	sql    BackendAdapter
	doc    BackendAdapter

	feederID string
	counter  uint64

	log   *zap.Logger
	stats Stats
}

// New builds a Pipeline. Either sqlAdapter or docAdapter may be nil, but
// not both.
func New(store *metadata.Store, engine *placement.Engine, sqlAdapter, docAdapter BackendAdapter, feederID string, log *zap.Logger) (*Pipeline, error) {
	if sqlAdapter == nil && docAdapter == nil {
		return nil, fmt.Errorf("pipeline: at least one backend adapter is required")
	}
	return &Pipeline{
		store:    store,
		engine:   engine,
		sql:      sqlAdapter,
		doc:      docAdapter,
		feederID: feederID,
		log:      log,
	}, nil
}

// IngestRecord runs one JSON record through the full pipeline. It returns
// an error for malformed input; backend write failures are tallied, and
// one is returned only when no backend accepted the record.
func (p *Pipeline) IngestRecord(ctx context.Context, raw []byte) error {
	value, err := types.FromJSON(raw)
	if err != nil {
		atomic.AddInt64(&p.stats.Errors, 1)
		return fmt.Errorf("pipeline: malformed record: %w", err)
	}
	record, ok := value.(types.Dict)
	if !ok {
		atomic.AddInt64(&p.stats.Errors, 1)
		return fmt.Errorf("pipeline: record is not a JSON object")
	}

	flat, nestedTop := Flatten(record)

	normalizedFlat := make(map[string]types.Value, len(flat))
	for rawKey, v := range flat {
		canonical := normalize.Normalize(rawKey)
		if canonical != rawKey {
			p.store.AddNormalizationRule(rawKey, canonical)
		}
		normalizedFlat[canonical] = v
	}

	normalizedNested := make(map[string]types.Value, len(nestedTop))
	for rawKey, v := range nestedTop {
		canonical := normalize.Normalize(rawKey)
		if canonical != rawKey {
			p.store.AddNormalizationRule(rawKey, canonical)
		}
		normalizedNested[canonical] = v
	}

	for key, v := range normalizedFlat {
		tag := detect.Detect(v)
		p.store.UpdateFieldStats(key, tag, types.Stringify(v))
	}

	finalRecord := make(map[string]types.Value, len(normalizedFlat)+len(normalizedNested)+2)
	for k, v := range normalizedFlat {
		finalRecord[k] = v
	}
	for k, v := range normalizedNested {
		finalRecord[k] = v
	}
	p.addTemporalTimestamps(finalRecord, normalizedFlat)

	p.store.IncrementTotalRecords()

	sqlRecord, docRecord := p.split(finalRecord)

	sqlOK, sqlErr := p.dispatchSQL(ctx, sqlRecord)
	docOK, docErr := p.dispatchDoc(ctx, docRecord)

	atomic.AddInt64(&p.stats.Processed, 1)
	processed := atomic.LoadInt64(&p.stats.Processed)

	if checkErr := p.store.Touch(); checkErr != nil && p.log != nil {
		p.log.Warn("pipeline: metadata checkpoint failed", zap.Error(checkErr))
	}
	if processed%DefaultProgressEvery == 0 && p.log != nil {
		p.log.Info("pipeline: progress",
			zap.Int64("processed", processed),
			zap.Int64("sql_inserted", atomic.LoadInt64(&p.stats.SQLInserted)),
			zap.Int64("doc_inserted", atomic.LoadInt64(&p.stats.DocInserted)),
		)
	}

	if !sqlOK && !docOK {
		atomic.AddInt64(&p.stats.Errors, 1)
		if sqlErr != nil {
			return sqlErr
		}
		return docErr
	}
	return nil
}

// addTemporalTimestamps assigns the server-generated sys_ingested_at and
// derives t_stamp from an observed timestamp field, or the current time.
func (p *Pipeline) addTemporalTimestamps(finalRecord map[string]types.Value, normalizedFlat map[string]types.Value) {
	now := time.Now().UTC()
	counter := atomic.AddUint64(&p.counter, 1) - 1

	suffix := fmt.Sprintf("%s%06d", p.feederID, counter%1_000_000)
	sysIngestedAt := now.Format("2006-01-02T15:04:05") + "." + suffix
	finalRecord["sys_ingested_at"] = types.String(sysIngestedAt)

	if _, hasTStamp := finalRecord["t_stamp"]; !hasTStamp {
		if ts, ok := normalizedFlat["timestamp"]; ok {
			finalRecord["t_stamp"] = ts
		} else {
			finalRecord["t_stamp"] = types.String(now.Format(time.RFC3339))
		}
	}
}

// split assigns every field in finalRecord to the relational record, the
// document record, or both, consulting the placement engine per key.
func (p *Pipeline) split(finalRecord map[string]types.Value) (map[string]any, map[string]any) {
	sqlRecord := make(map[string]any)
	docRecord := make(map[string]any)

	for key, v := range finalRecord {
		backend := p.engine.Decide(key)

		if backend == metadata.BackendSQL || backend == metadata.BackendBoth {
			sqlRecord[key] = sqlValue(v)
			if ensurer, ok := p.sql.(ColumnEnsurer); ok {
				tag := detect.Detect(v)
				if err := ensurer.EnsureColumn(key, tag, p.engine.ShouldBeUnique(key)); err != nil && p.log != nil {
					p.log.Warn("pipeline: ensure column failed", zap.String("field", key), zap.Error(err))
				}
			}
		}
		if backend == metadata.BackendDoc || backend == metadata.BackendBoth {
			docRecord[key] = types.ToNative(v)
		}
	}
	return sqlRecord, docRecord
}

// sqlValue converts v for the relational side: nested structures are
// JSON-serialized to a string, everything else passes through natively.
func sqlValue(v types.Value) any {
	switch v.(type) {
	case types.List, types.Dict:
		b, err := json.Marshal(types.ToNative(v))
		if err != nil {
			return types.Stringify(v)
		}
		return string(b)
	default:
		return types.ToNative(v)
	}
}

func (p *Pipeline) dispatchSQL(ctx context.Context, record map[string]any) (bool, error) {
	if p.sql == nil || len(record) == 0 {
		return false, nil
	}
	err := p.sql.Insert(ctx, record)
	if err == nil {
		atomic.AddInt64(&p.stats.SQLInserted, 1)
		return true, nil
	}
	if IsDuplicateKey(err) {
		atomic.AddInt64(&p.stats.SQLDuplicates, 1)
		return false, err
	}
	if p.log != nil {
		p.log.Warn("pipeline: sql insert failed", zap.Error(err))
	}
	return false, err
}

func (p *Pipeline) dispatchDoc(ctx context.Context, record map[string]any) (bool, error) {
	if p.doc == nil || len(record) == 0 {
		return false, nil
	}
	err := p.doc.Insert(ctx, record)
	if err == nil {
		atomic.AddInt64(&p.stats.DocInserted, 1)
		return true, nil
	}
	if IsDuplicateKey(err) {
		atomic.AddInt64(&p.stats.DocDuplicates, 1)
		return false, err
	}
	if p.log != nil {
		p.log.Warn("pipeline: doc insert failed", zap.Error(err))
	}
	return false, err
}

// Stats returns a snapshot of the running counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:     atomic.LoadInt64(&p.stats.Processed),
		SQLInserted:   atomic.LoadInt64(&p.stats.SQLInserted),
		DocInserted:   atomic.LoadInt64(&p.stats.DocInserted),
		SQLDuplicates: atomic.LoadInt64(&p.stats.SQLDuplicates),
		DocDuplicates: atomic.LoadInt64(&p.stats.DocDuplicates),
		Errors:        atomic.LoadInt64(&p.stats.Errors),
	}
}

// Close performs a final metadata checkpoint and closes both adapters.
func (p *Pipeline) Close() error {
	var firstErr error
	if err := p.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if p.sql != nil {
		if err := p.sql.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.doc != nil {
		if err := p.doc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
