package appointment

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/wingheights/wingsite"
	"github.com/wingheights/wingsite/internal/config"
)

// Store is the append-only log of bookings. Records are never updated or
// deleted.
type Store interface {
	Append(ctx context.Context, a *wingsite.Appointment) error
	Close() error
}

// OpenStore opens the store selected by cfg.
func OpenStore(ctx context.Context, cfg config.AppointmentsConfig) (Store, error) {
	switch cfg.GetStore() {
	case "csv":
		return NewCSVLog(cfg.GetPath()), nil
	case "sqlite":
		return OpenSQLStore(ctx, "sqlite", cfg.GetDSN())
	case "postgres":
		return OpenSQLStore(ctx, "postgres", cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unknown appointments store %q", cfg.Store)
	}
}

// csvHeader is written once, when the log file is created.
var csvHeader = []string{"Name", "Contact Number", "Email", "Appointment Date", "Appointment Time", "Insurance Type"}

// CSVLog appends bookings to a CSV file. Appends are serialised so concurrent
// submissions never interleave.
type CSVLog struct {
	path string
	mu   sync.Mutex
}

// NewCSVLog creates a log at path. The file is created on first append.
func NewCSVLog(path string) *CSVLog {
	return &CSVLog{path: path}
}

// Path returns the log file location.
func (l *CSVLog) Path() string {
	return l.path
}

// Append writes one record, preceded by the header if the file is new or
// empty.
func (l *CSVLog) Append(_ context.Context, a *wingsite.Appointment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open appointment log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat appointment log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(record(a)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush appointment log: %w", err)
	}
	return f.Close()
}

// Close is a no-op; the file is opened per append.
func (l *CSVLog) Close() error {
	return nil
}

func record(a *wingsite.Appointment) []string {
	return []string{
		a.Name,
		a.ContactNumber,
		a.Email,
		a.FormattedDate(),
		a.Start.Format("15:04"),
		string(a.InsuranceType),
	}
}

const createTable = `CREATE TABLE IF NOT EXISTS appointments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	contact_number TEXT NOT NULL,
	email TEXT NOT NULL,
	insurance_type TEXT NOT NULL DEFAULT '',
	appointment_date TEXT NOT NULL,
	appointment_time TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

// SQLStore inserts bookings into an appointments table in SQLite or
// PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
	newID   func() string
}

// OpenSQLStore connects with the given driver ("sqlite" or "postgres") and
// creates the table if needed.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s store: dsn is required", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s store: failed to open database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s store: failed to connect: %w", driver, err)
	}

	s := NewSQLStore(db, driver)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database. dialect selects placeholder syntax.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Migrate creates the appointments table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("%s store: create table: %w", s.dialect, err)
	}
	return nil
}

// Append inserts one booking.
func (s *SQLStore) Append(ctx context.Context, a *wingsite.Appointment) error {
	query := `INSERT INTO appointments
	(id, name, contact_number, email, insurance_type, appointment_date, appointment_time, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.dialect == "postgres" {
		query = `INSERT INTO appointments
	(id, name, contact_number, email, insurance_type, appointment_date, appointment_time, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	}

	_, err := s.db.ExecContext(ctx, query,
		s.newID(),
		a.Name,
		a.ContactNumber,
		a.Email,
		string(a.InsuranceType),
		a.FormattedDate(),
		a.Start.Format("15:04"),
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s store: insert appointment: %w", s.dialect, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
