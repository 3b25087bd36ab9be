package datasource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Repository persists data-source configuration.
type Repository interface {
	Create(ctx context.Context, ds *DataSource) error
	GetByXID(ctx context.Context, xid string) (*DataSource, error)
	List(ctx context.Context) ([]DataSource, error)
	SetEnabled(ctx context.Context, xid string, enabled bool) error
}

// SQLiteRepository implements Repository on the data_sources table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `id, xid, name, type, enabled, config, created_at, updated_at`

// Create validates and inserts ds, generating its ID and timestamps.
func (r *SQLiteRepository) Create(ctx context.Context, ds *DataSource) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	var configJSON sql.NullString
	if len(ds.Config) > 0 {
		data, err := json.Marshal(ds.Config)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}
		configJSON = sql.NullString{String: string(data), Valid: true}
	}

	if ds.ID == "" {
		ds.ID = "ds-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC().Truncate(time.Second)
	ds.CreatedAt = now
	ds.UpdatedAt = now
	ts := now.Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO data_sources (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.XID, ds.Name, string(ds.Type), boolToInt(ds.Enabled), configJSON, ts, ts,
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrExists
		}
		return fmt.Errorf("inserting data source: %w", err)
	}
	return nil
}

// GetByXID returns ErrNotFound for unknown XIDs.
func (r *SQLiteRepository) GetByXID(ctx context.Context, xid string) (*DataSource, error) {
	return scanDataSource(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM data_sources WHERE xid = ?`, xid))
}

// List returns every data source ordered by XID. Never nil.
func (r *SQLiteRepository) List(ctx context.Context) ([]DataSource, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM data_sources ORDER BY xid`)
	if err != nil {
		return nil, fmt.Errorf("listing data sources: %w", err)
	}
	defer rows.Close()

	out := []DataSource{}
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating data sources: %w", err)
	}
	return out, nil
}

// SetEnabled flips the enabled flag.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, xid string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE data_sources SET enabled = ?, updated_at = ? WHERE xid = ?`,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), xid,
	)
	if err != nil {
		return fmt.Errorf("updating data source: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataSource(s rowScanner) (*DataSource, error) {
	var (
		ds                   DataSource
		typ                  string
		enabled              int
		configJSON           sql.NullString
		createdAt, updatedAt string
	)

	if err := s.Scan(&ds.ID, &ds.XID, &ds.Name, &typ, &enabled, &configJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning data source: %w", err)
	}

	ds.Type = Type(typ)
	ds.Enabled = enabled != 0
	if configJSON.Valid && configJSON.String != "" {
		if err := json.Unmarshal([]byte(configJSON.String), &ds.Config); err != nil {
			return nil, fmt.Errorf("unmarshalling config of %s: %w", ds.XID, err)
		}
	}
	ds.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by Create
	ds.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by Create
	return &ds, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
