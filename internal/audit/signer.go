// Package audit produces hash-chained signatures for capability invocations
// and verifies exported audit logs. Signing is fire-and-forget from the
// router's perspective; verification is a standalone gate over a JSON export.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"overseer/internal/capability"
)

const (
	algorithmSHA256 = "sha256"
	schemaVersion   = "1"
)

// Signature is the outcome of signing one invocation.
type Signature struct {
	// EntryHash chains this record to its successor.
	EntryHash string
	// PrevHash is the entry hash of the preceding record.
	PrevHash string
	// Value is the signature string stored alongside the hashes.
	Value string
	// Sequence is this record's position within its session.
	Sequence int64
}

// Signer signs capability invocations. Implementations must be safe for
// concurrent use.
type Signer interface {
	Sign(capabilityName string, args capability.Args, resultPreview string, latencyMs int64) (*Signature, error)
}

// ChainSigner writes sha256 hash-chained records to its own SQLite store.
// The chain spans all sessions in the store; sequences are per session.
type ChainSigner struct {
	mu        sync.Mutex
	db        *sql.DB
	sessionID string
	prevHash  string
	sequence  int64
}

const signerSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	prev_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL,
	signature TEXT NOT NULL,
	algorithm TEXT NOT NULL,
	signature_schema_version TEXT NOT NULL,
	verified INTEGER NOT NULL DEFAULT 1,
	decision_context_json TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_entries(session_id, sequence);
`

// NewChainSigner opens (creating if needed) the audit store at dbPath and
// positions the chain after the store's last entry.
func NewChainSigner(dbPath, sessionID string) (*ChainSigner, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	if _, err := db.Exec(signerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit store: %w", err)
	}

	s := &ChainSigner{db: db, sessionID: sessionID}

	var last sql.NullString
	if err := db.QueryRow(`SELECT entry_hash FROM audit_entries ORDER BY id DESC LIMIT 1`).Scan(&last); err != nil && err != sql.ErrNoRows {
		db.Close()
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	if last.Valid {
		s.prevHash = last.String
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(sequence) FROM audit_entries WHERE session_id = ?`, sessionID).Scan(&maxSeq); err != nil && err != sql.ErrNoRows {
		db.Close()
		return nil, fmt.Errorf("load session sequence: %w", err)
	}
	if maxSeq.Valid {
		s.sequence = maxSeq.Int64
	}
	return s, nil
}

// Close releases the underlying store.
func (s *ChainSigner) Close() error { return s.db.Close() }

// Sign appends one record to the chain and returns its signature.
func (s *ChainSigner) Sign(capabilityName string, args capability.Args, resultPreview string, latencyMs int64) (*Signature, error) {
	contextJSON, err := json.Marshal(map[string]any{
		"capability":     capabilityName,
		"args":           args,
		"result_preview": resultPreview,
		"latency_ms":     latencyMs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode decision context: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.sequence + 1
	entryHash := hashEntry(s.prevHash, s.sessionID, seq, contextJSON)
	sigValue := signHash(entryHash)

	_, err = s.db.Exec(`
		INSERT INTO audit_entries
		(session_id, sequence, prev_hash, entry_hash, signature, algorithm, signature_schema_version, verified, decision_context_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		s.sessionID, seq, s.prevHash, entryHash, sigValue,
		algorithmSHA256, schemaVersion, string(contextJSON), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	sig := &Signature{
		EntryHash: entryHash,
		PrevHash:  s.prevHash,
		Value:     sigValue,
		Sequence:  seq,
	}
	s.prevHash = entryHash
	s.sequence = seq
	return sig, nil
}

// Entries returns every record in the store sorted by id, ready for export
// and verification.
func (s *ChainSigner) Entries() ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, sequence, prev_hash, entry_hash, signature,
		       algorithm, signature_schema_version, verified, decision_context_json
		FROM audit_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read audit entries: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Sequence, &r.PrevHash, &r.EntryHash,
			&r.Signature, &r.Algorithm, &r.SignatureSchemaVersion, &r.Verified, &r.DecisionContextJSON); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func hashEntry(prevHash, sessionID string, sequence int64, contextJSON []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%d\n", prevHash, sessionID, sequence)
	h.Write(contextJSON)
	return hex.EncodeToString(h.Sum(nil))
}

func signHash(entryHash string) string {
	h := sha256.Sum256([]byte("overseer-sig-v" + schemaVersion + ":" + entryHash))
	return hex.EncodeToString(h[:])
}
