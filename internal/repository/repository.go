package repository

import (
	"context"
	"errors"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

var ErrNotFound = errors.New("not found")

// ContactRepository is the emergency contact directory.
type ContactRepository interface {
	// ListContacts returns contacts whose name, address or type contains
	// query, case-insensitively. An empty query returns everything.
	ListContacts(ctx context.Context, query string) ([]models.Contact, error)
	GetContact(ctx context.Context, id int64) (*models.Contact, error)
	AddContact(ctx context.Context, c *models.Contact) error
}
