package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"driftline/internal/types"
)

func TestNormalize_IPVariants(t *testing.T) {
	for _, in := range []string{"ip", "IP", "IpAddress", "ip_address", "ipAddress"} {
		assert.Equal(t, "ip_address", Normalize(in), "input %q", in)
	}
}

func TestNormalize_UsernameVariants(t *testing.T) {
	for _, in := range []string{"userName", "user_name", "username", "UserName"} {
		assert.Equal(t, "username", Normalize(in), "input %q", in)
	}
}

func TestNormalize_UserIDPreservedDistinctFromUsername(t *testing.T) {
	assert.Equal(t, "user_id", Normalize("userId"))
	assert.Equal(t, "user_id", Normalize("UserID"))
}

func TestNormalize_EmailVariants(t *testing.T) {
	for _, in := range []string{"emailAddress", "email", "eMail"} {
		assert.Equal(t, "email", Normalize(in), "input %q", in)
	}
}

func TestNormalize_TimestampVariants(t *testing.T) {
	for _, in := range []string{"timestamp", "timeStamp", "t_stamp", "tStamp"} {
		assert.Equal(t, "timestamp", Normalize(in), "input %q", in)
	}
}

func TestNormalize_GPSVariants(t *testing.T) {
	for _, in := range []string{"gpsLat", "gps_lat", "latitude", "Latitude"} {
		assert.Equal(t, "gps_lat", Normalize(in), "input %q", in)
	}
}

func TestNormalize_SessionVariants(t *testing.T) {
	for _, in := range []string{"sessionId", "session_id", "SessionID"} {
		assert.Equal(t, "session_id", Normalize(in), "input %q", in)
	}
}

func TestNormalize_NoSemanticMatchFallsThroughToSyntactic(t *testing.T) {
	assert.Equal(t, "custom_field_name", Normalize("customFieldName"))
	assert.Equal(t, "already_snake", Normalize("already_snake"))
}

func TestNormalize_CollapsesAndTrimsUnderscores(t *testing.T) {
	assert.Equal(t, "a_b", Normalize("a___b"))
	assert.Equal(t, "a_b", Normalize("_a_b_"))
}

func TestNormalize_EmptyStringPassesThrough(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"IpAddress", "userName", "DeviceID", "gpsLat", "customFieldName", "os", "version"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "normalize not idempotent for %q", in)
	}
}

func TestKeys_RecursesIntoNestedDictsAndLists(t *testing.T) {
	in := types.Dict{
		"userName": types.String("alice"),
		"metaData": types.Dict{
			"ipAddress": types.String("10.0.0.1"),
		},
		"events": types.List{
			types.Dict{"sessionId": types.String("abc")},
			types.Int(1),
		},
	}
	out := Keys(in).(types.Dict)

	assert.Equal(t, types.String("alice"), out["username"])
	nested := out["meta_data"].(types.Dict)
	assert.Equal(t, types.String("10.0.0.1"), nested["ip_address"])
	list := out["events"].(types.List)
	assert.Equal(t, types.String("abc"), list[0].(types.Dict)["session_id"])
	assert.Equal(t, types.Int(1), list[1])
}
