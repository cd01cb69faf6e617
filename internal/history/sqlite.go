package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rflorenc/fitsync/internal/db"
	"github.com/rflorenc/fitsync/internal/models"
)

// details holds the list-valued attempt fields, stored as one msgpack blob.
type details struct {
	MigratedKeys []string              `msgpack:"migrated_keys"`
	Errors       []string              `msgpack:"errors"`
	Warnings     []string              `msgpack:"warnings"`
	Conflicts    []models.SyncConflict `msgpack:"conflicts"`
}

// SQLiteStore persists attempts in the migration_attempts table.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore wraps an opened and migrated database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

func (s *SQLiteStore) Append(a *models.MigrationAttempt) error {
	snap := a.Snapshot()
	if snap.FinishedAt == nil {
		return fmt.Errorf("history: attempt %s is not sealed", snap.ID)
	}
	blob, err := msgpack.Marshal(&details{
		MigratedKeys: snap.MigratedKeys,
		Errors:       snap.Errors,
		Warnings:     snap.Warnings,
		Conflicts:    snap.Conflicts,
	})
	if err != nil {
		return fmt.Errorf("encoding attempt %s: %w", snap.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO migration_attempts (attempt_id, account_id, started_at, finished_at, success, details)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.AccountID, formatTime(snap.StartedAt), formatTime(*snap.FinishedAt), snap.Success, blob)
	if err != nil {
		return fmt.Errorf("saving attempt %s: %w", snap.ID, err)
	}
	return nil
}

func (s *SQLiteStore) List() ([]*models.MigrationAttempt, error) {
	rows, err := s.db.Query(`
		SELECT attempt_id, account_id, started_at, finished_at, success, details
		FROM migration_attempts
		ORDER BY started_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var result []*models.MigrationAttempt
	for rows.Next() {
		var (
			id, account, started string
			finished             sql.NullString
			success              bool
			blob                 []byte
		)
		if err := rows.Scan(&id, &account, &started, &finished, &success, &blob); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a, err := decodeAttempt(id, account, started, finished, success, blob)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func decodeAttempt(id, account, started string, finished sql.NullString, success bool, blob []byte) (*models.MigrationAttempt, error) {
	startedAt, err := parseTime(started)
	if err != nil {
		return nil, fmt.Errorf("attempt %s: %w", id, err)
	}
	var d details
	if err := msgpack.Unmarshal(blob, &d); err != nil {
		return nil, fmt.Errorf("decoding attempt %s: %w", id, err)
	}
	a := models.NewAttempt(id, account, startedAt)
	for _, k := range d.MigratedKeys {
		a.AddMigrated(k)
	}
	for _, e := range d.Errors {
		a.AddError(e)
	}
	for _, w := range d.Warnings {
		a.AddWarning(w)
	}
	for _, c := range d.Conflicts {
		a.AddConflict(c)
	}
	if finished.Valid {
		finishedAt, err := parseTime(finished.String)
		if err != nil {
			return nil, fmt.Errorf("attempt %s: %w", id, err)
		}
		a.Seal(success, finishedAt)
	}
	return a, nil
}

// timeLayout keeps every fractional digit so stored timestamps compare
// correctly as text in ORDER BY.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime also accepts rows written with trimmed fractions.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
