package readings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/particle-bridge/internal/bridges/particle"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

// ErrInvalidReading is returned by Record for points without a measurement.
var ErrInvalidReading = errors.New("readings: measurement is required")

// Entry is one journaled reading.
type Entry struct {
	ID          int64              `json:"id"`
	Measurement string             `json:"measurement"`
	Location    string             `json:"location,omitempty"`
	Device      string             `json:"device,omitempty"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Timestamp   time.Time          `json:"timestamp"`
	ReceivedAt  time.Time          `json:"received_at"`
}

// Point converts the entry back into a particle.Point.
func (e Entry) Point() particle.Point {
	return particle.Point{
		Measurement: e.Measurement,
		Tags:        e.Tags,
		Fields:      e.Fields,
		Timestamp:   e.Timestamp.UnixNano(),
	}
}

// Repository stores and retrieves journaled readings.
//
// Implementations must be thread-safe.
type Repository interface {
	// Record appends an accepted point to the journal.
	Record(ctx context.Context, p particle.Point) error

	// Recent returns up to limit entries, newest reading first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Prune deletes entries whose reading time is older than now-olderThan
	// and returns the number of rows removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the readings table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a journal on an open, migrated database.
//
// Parameters:
//   - db: Open SQLite connection (database.DB embeds one)
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts p into the journal.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - p: Accepted point; tags and fields are stored as JSON
//
// Returns:
//   - error: ErrInvalidReading, or the underlying database error
func (r *SQLiteRepository) Record(ctx context.Context, p particle.Point) error {
	if p.Measurement == "" {
		return ErrInvalidReading
	}

	tags := p.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	fields := p.Fields
	if fields == nil {
		fields = map[string]float64{}
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshalling fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO readings
		 (measurement, location, device, tags, fields, temperature, humidity, timestamp_ns, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Measurement,
		nullString(p.Location()),
		nullString(p.Device()),
		string(tagsJSON),
		string(fieldsJSON),
		nullFloat(fields, particle.FieldTemperature),
		nullFloat(fields, particle.FieldHumidity),
		p.Timestamp,
		r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// Recent returns the newest entries by reading time.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 1000)
//
// Returns:
//   - []Entry: Entries ordered by timestamp DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, measurement, location, device, tags, fields, timestamp_ns, received_at
		 FROM readings
		 ORDER BY timestamp_ns DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			location   sql.NullString
			device     sql.NullString
			tagsJSON   string
			fieldsJSON string
			tsNanos    int64
			receivedAt string
		)
		if err := rows.Scan(&e.ID, &e.Measurement, &location, &device, &tagsJSON, &fieldsJSON, &tsNanos, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return nil, fmt.Errorf("unmarshalling tags: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &e.Fields); err != nil {
			return nil, fmt.Errorf("unmarshalling fields: %w", err)
		}
		e.Location = location.String
		e.Device = device.String
		e.Timestamp = time.Unix(0, tsNanos).UTC()
		e.ReceivedAt, err = time.Parse(time.RFC3339Nano, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing received_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return entries, nil
}

// Prune deletes entries with a reading time older than now-olderThan.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Retention window (must be positive)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().Add(-olderThan).UnixNano()
	result, err := r.db.ExecContext(ctx, "DELETE FROM readings WHERE timestamp_ns < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting readings: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(fields map[string]float64, key string) sql.NullFloat64 {
	v, ok := fields[key]
	return sql.NullFloat64{Float64: v, Valid: ok}
}
