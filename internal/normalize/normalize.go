// Package normalize resolves field-name ambiguity ("ip", "IP", "IpAddress",
// "ip_address" all becoming the same canonical key) so the metadata store
// never tracks the same logical field under two different names.
package normalize

import (
	"regexp"
	"strings"

	"driftline/internal/types"
)

var (
	camelBoundary1 = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	camelBoundary2 = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	multiUnderscore = regexp.MustCompile(`_+`)
)

// rule is one semantic-equivalence pattern. Order matters: the first
// matching rule wins, and Go maps do not preserve iteration order, so the
// table is a slice rather than the Python original's dict.
type rule struct {
	pattern   *regexp.Regexp
	canonical string
}

// semanticRules mirrors original_source/field_normalizer.py's
// semantic_patterns table entry for entry, in the same order.
var semanticRules = []rule{
	{regexp.MustCompile(`^ip(_?addr(ess)?)?$`), "ip_address"},
	{regexp.MustCompile(`^ipv4(_?addr(ess)?)?$`), "ip_address"},
	{regexp.MustCompile(`^user(_?name)?$`), "username"},
	{regexp.MustCompile(`^user_id$`), "user_id"},
	{regexp.MustCompile(`^e?_?mail(_?addr(ess)?)?$`), "email"},
	{regexp.MustCompile(`^(phone|tel|telephone)(_?num(ber)?)?$`), "phone"},
	{regexp.MustCompile(`^(time)?_?stamp$`), "timestamp"},
	{regexp.MustCompile(`^t_?stamp$`), "timestamp"},
	{regexp.MustCompile(`^created(_?at)?$`), "created_at"},
	{regexp.MustCompile(`^updated(_?at)?$`), "updated_at"},
	{regexp.MustCompile(`^(gps_?)?(lat|latitude)$`), "gps_lat"},
	{regexp.MustCompile(`^(gps_?)?(lon|long|longitude)$`), "gps_lon"},
	{regexp.MustCompile(`^dev(ice)?_?id$`), "device_id"},
	{regexp.MustCompile(`^dev(ice)?_?model$`), "device_model"},
	{regexp.MustCompile(`^sess(ion)?_?id$`), "session_id"},
	{regexp.MustCompile(`^net(work)?$`), "network"},
	{regexp.MustCompile(`^bat(tery)?(_?level)?$`), "battery"},
	{regexp.MustCompile(`^os(_?name)?$`), "os"},
	{regexp.MustCompile(`^operating_?system$`), "os"},
	{regexp.MustCompile(`^(app_?)version$`), "app_version"},
	{regexp.MustCompile(`^ver(sion)?$`), "version"},
}

// Normalize converts a field name to its canonical form:
//  1. camelCase/PascalCase split to snake_case
//  2. lowercase
//  3. collapse repeated underscores, trim leading/trailing ones
//  4. first matching semantic-equivalence rule wins
//
// Normalize is idempotent: Normalize(Normalize(k)) == Normalize(k) for every
// k, since every canonical output on the right-hand side of semanticRules
// also matches its own rule's pattern.
func Normalize(fieldName string) string {
	if fieldName == "" {
		return fieldName
	}

	s1 := camelBoundary1.ReplaceAllString(fieldName, "${1}_${2}")
	s2 := camelBoundary2.ReplaceAllString(s1, "${1}_${2}")

	normalized := strings.ToLower(s2)
	normalized = multiUnderscore.ReplaceAllString(normalized, "_")
	normalized = strings.Trim(normalized, "_")

	for _, r := range semanticRules {
		if r.pattern.MatchString(normalized) {
			return r.canonical
		}
	}
	return normalized
}

// Keys recursively normalizes every key in v, descending into nested dicts
// and into dicts held inside lists. Non-dict, non-list values pass through
// unchanged.
func Keys(v types.Value) types.Value {
	switch val := v.(type) {
	case types.Dict:
		out := make(types.Dict, len(val))
		for k, sub := range val {
			out[Normalize(k)] = Keys(sub)
		}
		return out
	case types.List:
		out := make(types.List, len(val))
		for i, e := range val {
			out[i] = Keys(e)
		}
		return out
	default:
		return v
	}
}
