package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/devicelink/internal/infrastructure/database"
	"github.com/nerrad567/devicelink/migrations"
)

// sqliteBusyTimeout is the lock wait.
const sqliteBusyTimeout = 5 * time.Second

// SQLiteStore appends entries to a per-device SQLite file. Every insert is
// its own transaction committed with synchronous=FULL.
type SQLiteStore struct {
	db      *database.DB
	session Session
}

// OpenSQLite creates the database at path and applies the log schema.
func OpenSQLite(ctx context.Context, path string, session Session) (*SQLiteStore, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        path,
		BusyTimeout: sqliteBusyTimeout,
		Synchronous: "FULL",
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, err
	}
	return &SQLiteStore{db: db, session: session}, nil
}

// Append inserts one row.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_entries (timestamp, device_name, direction, message_type, message, notes, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Format(TimestampLayout),
		e.DeviceID,
		string(e.Direction),
		string(e.MessageType),
		e.Message,
		e.Notes,
		s.session.ID,
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

// Entries returns rows oldest first.
func (s *SQLiteStore) Entries(ctx context.Context, filter Filter) ([]Entry, error) {
	filter = filter.normalise()

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, device_name, direction, message_type, message, notes
		FROM log_entries
		ORDER BY seq ASC
		LIMIT ? OFFSET ?`,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying log entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			ts      string
			e       Entry
			dir, mt string
		)
		if err := rows.Scan(&ts, &e.DeviceID, &dir, &mt, &e.Message, &e.Notes); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		e.Timestamp, err = time.ParseInLocation(TimestampLayout, ts, time.Local)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp %q: %w", ts, err)
		}
		e.Direction = Direction(dir)
		e.MessageType = MessageType(mt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log entries: %w", err)
	}
	return entries, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.db.Path()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
