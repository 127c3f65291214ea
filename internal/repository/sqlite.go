package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}
	if err := s.seed(context.Background()); err != nil {
		return nil, fmt.Errorf("error while seeding contacts: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			number TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_contacts_type ON contacts(type);
	`

	_, err := s.db.Exec(schema)
	return err
}

// defaultContacts are the national numbers loaded into an empty directory.
var defaultContacts = []models.Contact{
	{Name: "Nepal Police", Number: "100", Address: "Nationwide", Type: "police"},
	{Name: "Fire Brigade", Number: "101", Address: "Nationwide", Type: "fire"},
	{Name: "Ambulance", Number: "102", Address: "Nationwide", Type: "ambulance"},
	{Name: "Traffic Police", Number: "103", Address: "Nationwide", Type: "police"},
	{Name: "Tourist Police", Number: "1144", Address: "Bhrikutimandap, Kathmandu", Type: "police"},
	{Name: "Child Helpline", Number: "1098", Address: "Nationwide", Type: "helpline"},
	{Name: "Bir Hospital", Number: "01-4221119", Address: "Mahaboudha, Kathmandu", Type: "hospital"},
	{Name: "Tribhuvan University Teaching Hospital", Number: "01-4412303", Address: "Maharajgunj, Kathmandu", Type: "hospital"},
}

func (s *SQLiteDB) seed(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for i := range defaultContacts {
		c := defaultContacts[i]
		if err := s.AddContact(ctx, &c); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
