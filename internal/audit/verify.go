package audit

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Record is one exported audit log entry.
type Record struct {
	ID                     int64  `json:"id"`
	SessionID              string `json:"session_id"`
	Sequence               int64  `json:"sequence"`
	PrevHash               string `json:"prev_hash"`
	EntryHash              string `json:"entry_hash"`
	Signature              string `json:"signature"`
	Algorithm              string `json:"algorithm"`
	SignatureSchemaVersion string `json:"signature_schema_version"`
	Verified               bool   `json:"verified"`
	DecisionContextJSON    string `json:"decision_context_json"`
}

// Decision is the gate's verdict over an exported log.
type Decision struct {
	// Decision is "allow" or "deny".
	Decision string `json:"decision"`
	// Reasons lists every violation found; empty on allow.
	Reasons []string `json:"reasons,omitempty"`
}

// Allowed reports whether the log passed every check.
func (d Decision) Allowed() bool { return d.Decision == "allow" }

// Verify checks an exported audit log: a JSON array of records or an object
// with an "entries" array. It validates signature field presence, per-session
// strictly increasing sequences, and the id-ordered hash chain. An empty log
// is allowed.
func Verify(data []byte) (Decision, error) {
	records, err := decodeRecords(data)
	if err != nil {
		return Decision{}, err
	}

	var reasons []string
	reasons = append(reasons, checkSignatureFields(records)...)
	reasons = append(reasons, checkSequences(records)...)
	reasons = append(reasons, checkHashChain(records)...)

	if len(reasons) > 0 {
		return Decision{Decision: "deny", Reasons: reasons}, nil
	}
	return Decision{Decision: "allow"}, nil
}

func decodeRecords(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var wrapped struct {
		Entries []Record `json:"entries"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("audit log is neither a record array nor an entries object: %w", err)
	}
	return wrapped.Entries, nil
}

func checkSignatureFields(records []Record) []string {
	var reasons []string
	for _, r := range records {
		switch {
		case r.Signature == "":
			reasons = append(reasons, fmt.Sprintf("empty signature at id=%d", r.ID))
		case r.Algorithm == "":
			reasons = append(reasons, fmt.Sprintf("empty algorithm at id=%d", r.ID))
		case r.SignatureSchemaVersion == "":
			reasons = append(reasons, fmt.Sprintf("empty signature_schema_version at id=%d", r.ID))
		}
	}
	return reasons
}

// checkSequences enforces strictly increasing sequences per session, in id
// order, so a replayed record is caught even if its hash fields were forged
// consistently.
func checkSequences(records []Record) []string {
	ordered := sortedByID(records)
	last := make(map[string]int64)

	var reasons []string
	for _, r := range ordered {
		prev, ok := last[r.SessionID]
		if ok && r.Sequence <= prev {
			reasons = append(reasons, fmt.Sprintf(
				"sequence replay in session %s at id=%d (%d after %d)", r.SessionID, r.ID, r.Sequence, prev))
			continue
		}
		last[r.SessionID] = r.Sequence
	}
	return reasons
}

func checkHashChain(records []Record) []string {
	ordered := sortedByID(records)
	var reasons []string
	for i := 1; i < len(ordered); i++ {
		if ordered[i].PrevHash != ordered[i-1].EntryHash {
			reasons = append(reasons, fmt.Sprintf("hash chain break at id=%d", ordered[i].ID))
		}
	}
	return reasons
}

func sortedByID(records []Record) []Record {
	ordered := make([]Record, len(records))
	copy(ordered, records)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	return ordered
}
