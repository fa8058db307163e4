package user

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// Contact holds the delivery details of a registered user.
type Contact struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// DisplayName returns the full name, falling back to the username.
func (c Contact) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return c.Username
	}
	return name
}

// Repository provides read access to user contact details.
type Repository interface {
	Contact(ctx context.Context, id string) (*Contact, error)
}
