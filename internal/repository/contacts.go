package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLiteDB) ListContacts(ctx context.Context, query string) ([]models.Contact, error) {
	q := `SELECT id, name, number, address, type FROM contacts`
	var args []any

	if query = strings.TrimSpace(query); query != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
		q += ` WHERE lower(name) LIKE ? ESCAPE '\'
			OR lower(address) LIKE ? ESCAPE '\'
			OR lower(type) LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern, pattern)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying contacts: %w", err)
	}
	defer rows.Close()

	contacts := []models.Contact{}
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Number, &c.Address, &c.Type); err != nil {
			return nil, fmt.Errorf("error scanning contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *SQLiteDB) GetContact(ctx context.Context, id int64) (*models.Contact, error) {
	var c models.Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, number, address, type FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Number, &c.Address, &c.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting contact %d: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteDB) AddContact(ctx context.Context, c *models.Contact) error {
	if c.Name == "" || c.Number == "" {
		return fmt.Errorf("contact needs a name and a number")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (name, number, address, type) VALUES (?, ?, ?, ?)`,
		c.Name, c.Number, c.Address, c.Type,
	)
	if err != nil {
		return fmt.Errorf("error adding contact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("error reading contact id: %w", err)
	}
	c.ID = id
	return nil
}
