// Package detect classifies a decoded value into one of a closed set of
// semantic tags, going beyond the raw JSON shape to distinguish, e.g., an
// IPv4-looking string from a float with a dot. Detection is pure and
// stateless: the same value always maps to the same tag regardless of any
// prior observation.
package detect

import (
	"net/netip"
	"regexp"
	"strings"

	"driftline/internal/types"
)

// Tag is one of the closed-set value classifications. Detect returns one of
// thirteen of them; TagPhone is never returned by Detect and serves only as
// a semantic booster signal.
type Tag string

const (
	TagNull      Tag = "null"
	TagBoolean   Tag = "boolean"
	TagInteger   Tag = "integer"
	TagFloat     Tag = "float"
	TagString    Tag = "string"
	TagIPAddress Tag = "ip_address"
	TagUUID      Tag = "uuid"
	TagEmail     Tag = "email"
	TagURL       Tag = "url"
	TagTimestamp Tag = "timestamp"
	TagPhone     Tag = "phone"
	TagList      Tag = "list"
	TagDict      Tag = "dict"
	TagUnknown   Tag = "unknown"
)

// Compiled once at package init and held read-only; detection runs on every
// value observed by the pipeline, so the pattern set must never be
// recompiled per call.
var (
	uuidPattern      = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	emailPattern     = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	urlPattern       = regexp.MustCompile(`^https?://\S+$`)
	timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
)

var semanticTags = map[Tag]bool{
	TagUUID:      true,
	TagEmail:     true,
	TagIPAddress: true,
	TagTimestamp: true,
	TagURL:       true,
	TagPhone:     true,
}

// IsSemantic reports whether tag is one of the designated semantic booster
// signals consumed by the placement engine.
func IsSemantic(tag Tag) bool {
	return semanticTags[tag]
}

// Detect classifies v, trying semantic string patterns in the order that
// spec requires: UUID, then IPv4 (so "1.2" stays a string while "10.0.0.1"
// becomes an IP), then email, URL, and ISO timestamp.
func Detect(v types.Value) Tag {
	switch val := v.(type) {
	case nil, types.Null:
		return TagNull
	case types.Bool:
		return TagBoolean
	case types.Int:
		return TagInteger
	case types.Float:
		return TagFloat
	case types.List:
		return TagList
	case types.Dict:
		return TagDict
	case types.String:
		return detectString(string(val))
	default:
		return TagUnknown
	}
}

func detectString(s string) Tag {
	if s == "" {
		return TagString
	}
	if uuidPattern.MatchString(s) {
		return TagUUID
	}
	if isIPv4(s) {
		return TagIPAddress
	}
	if emailPattern.MatchString(s) {
		return TagEmail
	}
	if urlPattern.MatchString(s) {
		return TagURL
	}
	if timestampPattern.MatchString(s) {
		return TagTimestamp
	}
	return TagString
}

// isIPv4 guards against confusing "1.2" (string, too few octets) and
// "999.1.1.1" (string, octet out of range) with a genuine dotted-quad.
// netip.ParseAddr already rejects leading zeros and out-of-range octets; the
// Is4 check additionally rejects the IPv4-mapped IPv6 form ParseAddr
// otherwise accepts ("::ffff:1.2.3.4"), which also has three dots.
func isIPv4(s string) bool {
	if strings.Count(s, ".") != 3 {
		return false
	}
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

// SQLType maps a detected tag to the relational column type used by the
// relational adapter. An unrecognized or null tag maps to TEXT, a
// placeholder that is never retyped once real values arrive (tags do not
// migrate).
func SQLType(tag Tag) string {
	switch tag {
	case TagBoolean:
		return "BOOLEAN"
	case TagInteger:
		return "INTEGER"
	case TagFloat:
		return "REAL"
	case TagIPAddress:
		return "VARCHAR(15)"
	case TagUUID:
		return "VARCHAR(36)"
	case TagEmail:
		return "VARCHAR(255)"
	case TagURL:
		return "TEXT"
	case TagTimestamp:
		return "TIMESTAMP"
	case TagString:
		return "TEXT"
	default:
		return "TEXT"
	}
}
