package placement

import (
	"strings"

	"driftline/internal/detect"
)

// uniqueNameTokens are underscore-delimited tokens that suggest a field is
// an identifier. Matching on whole tokens (rather than a substring \b
// regex, which underscore defeats since it is itself a word character)
// correctly flags "device_id" and "session_id" while still rejecting
// "humidity".
var uniqueNameTokens = map[string]bool{
	"id":      true,
	"uuid":    true,
	"session": true,
	"key":     true,
}

func hasUniqueNameToken(key string) bool {
	for _, token := range strings.Split(key, "_") {
		if uniqueNameTokens[token] {
			return true
		}
	}
	return false
}

// ShouldBeUnique reports whether key should carry a UNIQUE constraint in
// the relational adapter: its name suggests an identifier, it is not
// "username", and either its dominant type is uuid/integer or its sample
// values show high cardinality.
func (e *Engine) ShouldBeUnique(key string) bool {
	if key == "username" {
		return false
	}
	if !hasUniqueNameToken(key) {
		return false
	}
	if !e.store.HasField(key) {
		return false
	}

	dominant, _ := e.store.DominantTypeAndStability(key)
	if dominant == detect.TagUUID || dominant == detect.TagInteger {
		return true
	}

	samples := e.store.SampleValues(key)
	if len(samples) > 1 {
		seen := make(map[string]bool, len(samples))
		for _, s := range samples {
			seen[s] = true
		}
		ratio := float64(len(seen)) / float64(len(samples))
		if ratio > 0.9 {
			return true
		}
	}
	return false
}

// indexedFields are always indexed once present, regardless of frequency.
var indexedFields = map[string]bool{
	"username":        true,
	"timestamp":       true,
	"t_stamp":         true,
	"sys_ingested_at": true,
	"session_id":      true,
	"device_id":       true,
	"user_id":         true,
}

// ShouldBeIndexed reports whether key is frequent enough, or named
// prominently enough, to warrant a lazily-created index.
func (e *Engine) ShouldBeIndexed(key string) bool {
	if e.store.Frequency(key) >= 0.50 {
		return true
	}
	return indexedFields[key]
}
