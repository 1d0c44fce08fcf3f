package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var validate = validator.New()

// Store wraps a SQLite database holding the person directory, profile
// records, turn audit log, job queue and sqlite-backed vector indexes.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "applyd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for the sqlite vector store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Persons ---

// AddPerson registers a new person and assigns the next profile index:
// one more than the current maximum, or 1 when the directory is empty.
func (s *Store) AddPerson(name, email string) (int, error) {
	p := Person{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email)}
	if err := validate.Struct(p); err != nil {
		return 0, fmt.Errorf("invalid person: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning add-person transaction: %w", err)
	}
	defer tx.Rollback()

	var maxIdx sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(idx) FROM persons`).Scan(&maxIdx); err != nil {
		return 0, fmt.Errorf("reading max index: %w", err)
	}
	idx := 1
	if maxIdx.Valid {
		idx = int(maxIdx.Int64) + 1
	}

	if _, err := tx.Exec(`INSERT INTO persons (idx, name, email, created_at) VALUES (?, ?, ?, ?)`,
		idx, p.Name, p.Email, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return 0, fmt.Errorf("inserting person: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing person: %w", err)
	}
	return idx, nil
}

// LookupIndexByEmail returns the profile index registered for email.
func (s *Store) LookupIndexByEmail(email string) (int, error) {
	var idx int
	err := s.db.QueryRow(`SELECT idx FROM persons WHERE email = ?`, strings.TrimSpace(email)).Scan(&idx)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return idx, nil
}

// RemovePerson deletes the person at idx and any profile stored under it.
// Removing an unknown index returns ErrNotFound.
func (s *Store) RemovePerson(idx int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning remove-person transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM persons WHERE idx = ?`, idx)
	if err != nil {
		return fmt.Errorf("deleting person %d: %w", idx, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM profiles WHERE idx = ?`, idx); err != nil {
		return fmt.Errorf("deleting profile %d: %w", idx, err)
	}
	return tx.Commit()
}

func (s *Store) GetPerson(idx int) (Person, error) {
	var p Person
	var createdAt string
	err := s.db.QueryRow(`SELECT idx, name, email, created_at FROM persons WHERE idx = ?`, idx).
		Scan(&p.Index, &p.Name, &p.Email, &createdAt)
	if err == sql.ErrNoRows {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Person{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}

func (s *Store) ListPersons() ([]Person, error) {
	rows, err := s.db.Query(`SELECT idx, name, email, created_at FROM persons ORDER BY idx ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Person
	for rows.Next() {
		var p Person
		var createdAt string
		if err := rows.Scan(&p.Index, &p.Name, &p.Email, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Profiles ---

// SaveProfile stores the raw profile JSON for idx, replacing any previous copy.
func (s *Store) SaveProfile(idx int, dataJSON string) error {
	_, err := s.db.Exec(`
		INSERT INTO profiles (idx, data_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET data_json = excluded.data_json, updated_at = excluded.updated_at`,
		idx, dataJSON, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) LoadProfile(idx int) (string, error) {
	var data string
	err := s.db.QueryRow(`SELECT data_json FROM profiles WHERE idx = ?`, idx).Scan(&data)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return data, err
}

// --- Turns ---

func (s *Store) SaveTurn(t Turn) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO turns (id, session_id, profile_index, rag_type, channel, gated, message, prompt, reply, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.ProfileIndex, t.RAGType, t.Channel, t.Gated,
		t.Message, t.Prompt, t.Reply, createdAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListTurns returns the turns of one session, oldest first.
func (s *Store) ListTurns(sessionID string) ([]Turn, error) {
	return s.queryTurns(`
		SELECT id, session_id, profile_index, rag_type, channel, gated, message, prompt, reply, created_at
		FROM turns WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
}

func (s *Store) RecentTurns(limit int) ([]Turn, error) {
	return s.queryTurns(`
		SELECT id, session_id, profile_index, rag_type, channel, gated, message, prompt, reply, created_at
		FROM turns ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) queryTurns(query string, args ...any) ([]Turn, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ProfileIndex, &t.RAGType, &t.Channel, &t.Gated,
			&t.Message, &t.Prompt, &t.Reply, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
