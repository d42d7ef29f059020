package audit

import (
	"encoding/json"
	"strings"
	"testing"
)

func cleanChain() []Record {
	return []Record{
		{ID: 1, SessionID: "s1", Sequence: 1, PrevHash: "", EntryHash: "h1",
			Signature: "sig1", Algorithm: "sha256", SignatureSchemaVersion: "1", Verified: true},
		{ID: 2, SessionID: "s1", Sequence: 2, PrevHash: "h1", EntryHash: "h2",
			Signature: "sig2", Algorithm: "sha256", SignatureSchemaVersion: "1", Verified: true},
		{ID: 3, SessionID: "s1", Sequence: 3, PrevHash: "h2", EntryHash: "h3",
			Signature: "sig3", Algorithm: "sha256", SignatureSchemaVersion: "1", Verified: true},
	}
}

func mustVerify(t *testing.T, records []Record) Decision {
	t.Helper()
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Verify(data)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestVerifyAllowsCleanLog(t *testing.T) {
	d := mustVerify(t, cleanChain())
	if !d.Allowed() {
		t.Fatalf("clean log denied: %+v", d.Reasons)
	}
}

func TestVerifyDeniesHashChainBreak(t *testing.T) {
	records := cleanChain()
	records[2].PrevHash = "tampered"

	d := mustVerify(t, records)
	if d.Allowed() {
		t.Fatal("broken chain allowed")
	}
	found := false
	for _, r := range d.Reasons {
		if r == "hash chain break at id=3" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v, want hash chain break at id=3", d.Reasons)
	}
}

func TestVerifyDeniesEmptySignatureFields(t *testing.T) {
	tests := []struct {
		mutate func(*Record)
		want   string
	}{
		{func(r *Record) { r.Signature = "" }, "empty signature at id=2"},
		{func(r *Record) { r.Algorithm = "" }, "empty algorithm at id=2"},
		{func(r *Record) { r.SignatureSchemaVersion = "" }, "empty signature_schema_version at id=2"},
	}
	for _, tt := range tests {
		records := cleanChain()
		tt.mutate(&records[1])
		d := mustVerify(t, records)
		if d.Allowed() {
			t.Errorf("log with %s allowed", tt.want)
			continue
		}
		found := false
		for _, r := range d.Reasons {
			if r == tt.want {
				found = true
			}
		}
		if !found {
			t.Errorf("reasons = %v, want %q", d.Reasons, tt.want)
		}
	}
}

func TestVerifyDeniesSequenceReplay(t *testing.T) {
	records := cleanChain()
	records[2].Sequence = 2 // repeat of record 2's sequence

	d := mustVerify(t, records)
	if d.Allowed() {
		t.Fatal("replayed sequence allowed")
	}
	found := false
	for _, r := range d.Reasons {
		if strings.Contains(r, "sequence replay in session s1 at id=3") {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v", d.Reasons)
	}
}

func TestVerifySequencesArePerSession(t *testing.T) {
	records := []Record{
		{ID: 1, SessionID: "s1", Sequence: 1, EntryHash: "h1",
			Signature: "sig", Algorithm: "sha256", SignatureSchemaVersion: "1"},
		{ID: 2, SessionID: "s2", Sequence: 1, PrevHash: "h1", EntryHash: "h2",
			Signature: "sig", Algorithm: "sha256", SignatureSchemaVersion: "1"},
	}
	d := mustVerify(t, records)
	if !d.Allowed() {
		t.Errorf("independent session sequences denied: %v", d.Reasons)
	}
}

func TestVerifyAcceptsEntriesWrapper(t *testing.T) {
	data, err := json.Marshal(map[string]any{"entries": cleanChain()})
	if err != nil {
		t.Fatal(err)
	}
	d, err := Verify(data)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed() {
		t.Errorf("wrapped log denied: %v", d.Reasons)
	}
}

func TestVerifyUnsortedInputIsSortedByID(t *testing.T) {
	records := cleanChain()
	records[0], records[2] = records[2], records[0]

	d := mustVerify(t, records)
	if !d.Allowed() {
		t.Errorf("out-of-order but consistent log denied: %v", d.Reasons)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	if _, err := Verify([]byte("not json")); err == nil {
		t.Fatal("garbage input verified")
	}
}

func TestVerifyAllowsEmptyLog(t *testing.T) {
	d, err := Verify([]byte("[]"))
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed() {
		t.Errorf("empty log denied: %v", d.Reasons)
	}
}
