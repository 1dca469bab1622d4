package canonical_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/recordvault/audittrail/internal/canonical"
)

func TestMarshalSortsKeys(t *testing.T) {
	a := map[string]interface{}{
		"tenant": "acme",
		"actor":  "u-1",
		"event":  "signed",
	}
	b := map[string]interface{}{
		"event":  "signed",
		"actor":  "u-1",
		"tenant": "acme",
	}

	ca, err := canonical.Marshal(a)
	if err != nil {
		t.Fatalf("canonical.Marshal(a) error: %v", err)
	}
	cb, err := canonical.Marshal(b)
	if err != nil {
		t.Fatalf("canonical.Marshal(b) error: %v", err)
	}

	if string(ca) != string(cb) {
		t.Fatalf("canonical outputs differ:\nA: %s\nB: %s", ca, cb)
	}

	var tmp interface{}
	if err := json.Unmarshal(ca, &tmp); err != nil {
		t.Fatalf("canonical output is not valid JSON: %v", err)
	}
}

func TestMarshalTimestampsNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	local := time.Date(2026, 3, 14, 11, 30, 0, 0, loc)

	ca, err := canonical.Marshal(map[string]interface{}{"ts": local})
	if err != nil {
		t.Fatalf("canonical.Marshal error: %v", err)
	}
	cb, err := canonical.Marshal(map[string]interface{}{"ts": local.UTC()})
	if err != nil {
		t.Fatalf("canonical.Marshal error: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("timestamps with equal instants differ:\nA: %s\nB: %s", ca, cb)
	}
	if want := `{"ts":"2026-03-14T09:30:00Z"}`; string(ca) != want {
		t.Fatalf("unexpected timestamp encoding: got %s want %s", ca, want)
	}
}

func TestMarshalNumbersAndNesting(t *testing.T) {
	in := map[string]interface{}{
		"count":  json.Number("42"),
		"weight": json.Number("123.45"),
		"bins":   []interface{}{3, 2, 1},
		"nested": map[string]interface{}{"z": nil, "a": true},
	}

	c, err := canonical.Marshal(in)
	if err != nil {
		t.Fatalf("canonical.Marshal error: %v", err)
	}
	want := `{"bins":[3,2,1],"count":42,"nested":{"a":true,"z":null},"weight":123.45}`
	if string(c) != want {
		t.Fatalf("unexpected canonical form:\ngot:  %s\nwant: %s", c, want)
	}

	// Repeated runs must be byte-identical.
	for i := 0; i < 10; i++ {
		again, err := canonical.Marshal(in)
		if err != nil {
			t.Fatalf("canonical.Marshal error: %v", err)
		}
		if string(again) != want {
			t.Fatalf("non-deterministic output on run %d: %s", i, again)
		}
	}
}
