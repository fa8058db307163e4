package address

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Sentinel errors for address operations.
var (
	ErrNotFound      = errors.New("address not found")
	ErrLastAddress   = errors.New("cannot delete the only address")
	ErrMissingFields = errors.New("street, city, postal code and country are required")
)

// Address is a shipping address owned by a user. At most one address per user
// carries the default flag, and exactly one does while the user has any.
type Address struct {
	ID         string
	UserID     string
	Street     string
	City       string
	PostalCode string
	Country    string
	IsDefault  bool
	CreatedAt  time.Time
}

// Repository defines persistence operations for addresses. Add, SetDefault
// and Delete keep the single-default invariant atomically.
type Repository interface {
	List(ctx context.Context, userID string) ([]Address, error)
	// Get returns the address when owned by userID, or ErrNotFound.
	Get(ctx context.Context, userID, id string) (*Address, error)
	// Add inserts a. The address becomes the default when a.IsDefault is set
	// or when it is the first address of the user; a.IsDefault is updated to
	// the stored value.
	Add(ctx context.Context, a *Address) error
	SetDefault(ctx context.Context, userID, id string) error
	// Delete removes the address, promoting another one to default when the
	// deleted address was the default. It refuses to delete the last address.
	Delete(ctx context.Context, userID, id string) error
}

// Service implements address bookkeeping.
type Service struct {
	repo Repository
}

// NewService creates an address Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns the addresses of the user.
func (s *Service) List(ctx context.Context, userID string) ([]Address, error) {
	list, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	return list, nil
}

// Get returns an address owned by the user.
func (s *Service) Get(ctx context.Context, userID, id string) (*Address, error) {
	return s.repo.Get(ctx, userID, id)
}

// Add validates and stores a new address for the user.
func (s *Service) Add(ctx context.Context, userID string, in Address) (*Address, error) {
	a := &Address{
		ID:         uuid.New().String(),
		UserID:     userID,
		Street:     strings.TrimSpace(in.Street),
		City:       strings.TrimSpace(in.City),
		PostalCode: strings.TrimSpace(in.PostalCode),
		Country:    strings.TrimSpace(in.Country),
		IsDefault:  in.IsDefault,
	}
	if a.Street == "" || a.City == "" || a.PostalCode == "" || a.Country == "" {
		return nil, ErrMissingFields
	}
	if err := s.repo.Add(ctx, a); err != nil {
		return nil, errors.Wrap(err, "add address")
	}
	return a, nil
}

// SetDefault marks the address as the default of the user.
func (s *Service) SetDefault(ctx context.Context, userID, id string) error {
	return s.repo.SetDefault(ctx, userID, id)
}

// Delete removes an address of the user.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.repo.Delete(ctx, userID, id)
}
