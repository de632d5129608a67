package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
	RecordHTTPRequest("GET", "/v1/profiles/:id", 200, 3*time.Millisecond)
	RecordMutation("address", "add", "ok")
}

func TestCountersAdvance(t *testing.T) {
	before := testutil.ToFloat64(forcedLogouts.WithLabelValues("profile_missing"))
	RecordForcedLogout("profile_missing")
	if got := testutil.ToFloat64(forcedLogouts.WithLabelValues("profile_missing")); got != before+1 {
		t.Fatalf("forced logouts: got %v want %v", got, before+1)
	}

	before = testutil.ToFloat64(fetches.WithLabelValues("profile", "stale"))
	RecordFetch("profile", "stale")
	RecordFetch("profile", "stale")
	if got := testutil.ToFloat64(fetches.WithLabelValues("profile", "stale")); got != before+2 {
		t.Fatalf("stale fetches: got %v want %v", got, before+2)
	}
}
