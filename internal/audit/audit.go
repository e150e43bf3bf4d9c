// Package audit provides tamper-evident SQLite storage for security events.
//
// Security model:
//  1. File permissions: 0600 (owner read/write only)
//  2. Integrity: each record carries an HMAC
//  3. Append-only: events are never modified after insertion
//  4. Chain linking: each event references the previous event hash
//
// Every trust decision (registration, verification, re-check, lock) is
// recorded here so a locked-out session leaves an inspectable trail.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EventType classifies an audit event.
type EventType string

// Audit event types.
const (
	EventStartup      EventType = "startup"
	EventShutdown     EventType = "shutdown"
	EventRegistration EventType = "registration"
	EventVerification EventType = "verification"
	EventMonitorStart EventType = "monitor_start"
	EventMonitorEnd   EventType = "monitor_end"
	EventRecheck      EventType = "recheck"
	EventLock         EventType = "lock"
	EventTamper       EventType = "tamper"
	EventError        EventType = "error"
)

// Event is one security-relevant record. RiskScore, Threshold and Status
// are set only for events produced by a risk assessment.
type Event struct {
	ID          int64
	TimestampNs int64
	Type        EventType
	Detail      string
	Result      string
	RiskScore   *float64
	Threshold   *float64
	Status      string

	PreviousHash [32]byte
	EventHash    [32]byte
}

// Time returns the event timestamp.
func (e *Event) Time() time.Time {
	return time.Unix(0, e.TimestampNs)
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns    INTEGER NOT NULL,
    event_type      TEXT NOT NULL,
    detail          TEXT NOT NULL,
    result          TEXT NOT NULL,
    risk_score      REAL,
    threshold       REAL,
    status          TEXT,
    previous_hash   BLOB NOT NULL,
    event_hash      BLOB NOT NULL UNIQUE,
    hmac            BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);

CREATE TABLE IF NOT EXISTS integrity (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    chain_hash      BLOB NOT NULL,
    event_count     INTEGER NOT NULL DEFAULT 0,
    last_verified   INTEGER,
    hmac            BLOB NOT NULL
);
`

// ErrIntegrityCompromised is returned when the chain fails verification.
var ErrIntegrityCompromised = errors.New("audit log integrity compromised")

// Log is the tamper-evident audit store.
type Log struct {
	db      *sql.DB
	hmacKey []byte

	mu          sync.Mutex
	lastHash    [32]byte
	eventCount  int64
	integrityOK bool
}

// Open opens or creates the audit log at path. The HMAC key lives next to
// the database and is generated on first use.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	key, err := loadOrCreateKey(path + ".key")
	if err != nil {
		return nil, err
	}

	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("set audit database permissions: %w", err)
	}

	l := &Log{db: db, hmacKey: key}

	if isNew {
		if err := l.initializeIntegrity(); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize integrity: %w", err)
		}
		l.integrityOK = true
	} else {
		if err := l.Verify(); err != nil {
			// Keep the handle so the trail remains readable.
			return l, err
		}
	}

	return l, nil
}

// Close closes the database.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// IntegrityOK reports whether the chain passed its last verification.
func (l *Log) IntegrityOK() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.integrityOK
}

// Record appends an event to the chain. The event's hashes are filled in.
func (l *Log) Record(e *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.integrityOK {
		return fmt.Errorf("%w: refusing to write", ErrIntegrityCompromised)
	}

	if e.TimestampNs == 0 {
		e.TimestampNs = time.Now().UnixNano()
	}
	e.PreviousHash = l.lastHash
	e.EventHash = hashEvent(e)
	mac := l.eventHMAC(e)

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO events (timestamp_ns, event_type, detail, result, risk_score, threshold, status, previous_hash, event_hash, hmac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TimestampNs, string(e.Type), e.Detail, e.Result,
		nullable(e.RiskScore), nullable(e.Threshold), e.Status,
		e.PreviousHash[:], e.EventHash[:], mac,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	e.ID, _ = result.LastInsertId()

	newCount := l.eventCount + 1
	integrityMAC := l.integrityHMAC(e.EventHash, newCount)
	if _, err := tx.Exec(`
		UPDATE integrity SET chain_hash = ?, event_count = ?, last_verified = ?, hmac = ? WHERE id = 1`,
		e.EventHash[:], newCount, time.Now().UnixNano(), integrityMAC,
	); err != nil {
		return fmt.Errorf("update integrity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}

	l.lastHash = e.EventHash
	l.eventCount = newCount
	return nil
}

// Recent returns the newest n events, most recent first.
func (l *Log) Recent(n int) ([]Event, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp_ns, event_type, detail, result, risk_score, threshold, status, previous_hash, event_hash
		FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of recorded events.
func (l *Log) Count() (int64, error) {
	var n int64
	err := l.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// Verify walks the entire chain and checks linkage, per-event HMACs, and
// the integrity record. It updates the in-memory chain head on success.
func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var chainHash, storedMAC []byte
	var eventCount int64
	err := l.db.QueryRow(`SELECT chain_hash, event_count, hmac FROM integrity WHERE id = 1`).
		Scan(&chainHash, &eventCount, &storedMAC)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			l.integrityOK = false
			return fmt.Errorf("%w: integrity record missing", ErrIntegrityCompromised)
		}
		return fmt.Errorf("read integrity record: %w", err)
	}

	var head [32]byte
	copy(head[:], chainHash)
	if !hmac.Equal(storedMAC, l.integrityHMAC(head, eventCount)) {
		l.integrityOK = false
		return fmt.Errorf("%w: integrity record HMAC mismatch", ErrIntegrityCompromised)
	}

	rows, err := l.db.Query(`
		SELECT id, timestamp_ns, event_type, detail, result, risk_score, threshold, status, previous_hash, event_hash, hmac
		FROM events ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var lastHash [32]byte
	var count int64
	for rows.Next() {
		var e Event
		var score, threshold sql.NullFloat64
		var prevHash, eventHash, storedEventMAC []byte
		var typ string
		if err := rows.Scan(&e.ID, &e.TimestampNs, &typ, &e.Detail, &e.Result,
			&score, &threshold, &e.Status, &prevHash, &eventHash, &storedEventMAC); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		e.Type = EventType(typ)
		if score.Valid {
			e.RiskScore = &score.Float64
		}
		if threshold.Valid {
			e.Threshold = &threshold.Float64
		}
		copy(e.PreviousHash[:], prevHash)
		copy(e.EventHash[:], eventHash)

		if e.PreviousHash != lastHash {
			l.integrityOK = false
			return fmt.Errorf("%w: chain break at event %d", ErrIntegrityCompromised, e.ID)
		}
		if hashEvent(&e) != e.EventHash {
			l.integrityOK = false
			return fmt.Errorf("%w: event %d hash mismatch", ErrIntegrityCompromised, e.ID)
		}
		if !hmac.Equal(storedEventMAC, l.eventHMAC(&e)) {
			l.integrityOK = false
			return fmt.Errorf("%w: event %d HMAC mismatch", ErrIntegrityCompromised, e.ID)
		}

		lastHash = e.EventHash
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}

	if count != eventCount {
		l.integrityOK = false
		return fmt.Errorf("%w: event count mismatch (recorded %d, found %d)", ErrIntegrityCompromised, eventCount, count)
	}
	if lastHash != head {
		l.integrityOK = false
		return fmt.Errorf("%w: chain head mismatch", ErrIntegrityCompromised)
	}

	l.lastHash = lastHash
	l.eventCount = count
	l.integrityOK = true
	return nil
}

func (l *Log) initializeIntegrity() error {
	var zero [32]byte
	mac := l.integrityHMAC(zero, 0)
	_, err := l.db.Exec(`
		INSERT INTO integrity (id, chain_hash, event_count, last_verified, hmac)
		VALUES (1, ?, 0, ?, ?)`,
		zero[:], time.Now().UnixNano(), mac,
	)
	return err
}

// hashEvent computes the chain hash over the event's content and its
// previous-hash link.
func hashEvent(e *Event) [32]byte {
	h := sha256.New()
	h.Write([]byte("keysentry-audit-v1"))
	binary.Write(h, binary.BigEndian, e.TimestampNs)
	writeString(h, string(e.Type))
	writeString(h, e.Detail)
	writeString(h, e.Result)
	binary.Write(h, binary.BigEndian, deref(e.RiskScore))
	binary.Write(h, binary.BigEndian, deref(e.Threshold))
	writeString(h, e.Status)
	h.Write(e.PreviousHash[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (l *Log) eventHMAC(e *Event) []byte {
	mac := hmac.New(sha256.New, l.hmacKey)
	hash := hashEvent(e)
	mac.Write(hash[:])
	return mac.Sum(nil)
}

func (l *Log) integrityHMAC(chainHash [32]byte, count int64) []byte {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(chainHash[:])
	binary.Write(mac, binary.BigEndian, count)
	return mac.Sum(nil)
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	binary.Write(h, binary.BigEndian, int64(len(s)))
	h.Write([]byte(s))
}

func deref(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var e Event
	var score, threshold sql.NullFloat64
	var prevHash, eventHash []byte
	var typ string
	if err := rows.Scan(&e.ID, &e.TimestampNs, &typ, &e.Detail, &e.Result,
		&score, &threshold, &e.Status, &prevHash, &eventHash); err != nil {
		return e, fmt.Errorf("scan event: %w", err)
	}
	e.Type = EventType(typ)
	if score.Valid {
		e.RiskScore = &score.Float64
	}
	if threshold.Valid {
		e.Threshold = &threshold.Float64
	}
	copy(e.PreviousHash[:], prevHash)
	copy(e.EventHash[:], eventHash)
	return e, nil
}

// loadOrCreateKey reads the HMAC key, generating a new 32-byte key with
// owner-only permissions on first use.
func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) < 32 {
			return nil, fmt.Errorf("audit key too short: %d bytes", len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read audit key: %w", err)
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate audit key: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("write audit key: %w", err)
	}
	return key, nil
}
