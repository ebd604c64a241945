// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/SinzaXh/Shein-suto-verse/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateURL = errors.New("url already configured")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	EnsureUser(ctx context.Context, id int64) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpdateUserAuth(ctx context.Context, id int64, state model.AuthState, phone, cookies string) error
	UpdateLastCheck(ctx context.Context, id int64, at time.Time) error

	ListURLs(ctx context.Context, userID int64) ([]string, error)
	AddURL(ctx context.Context, userID int64, url string) error
	RemoveURL(ctx context.Context, userID int64, url string) error

	ListPincodes(ctx context.Context, userID int64) ([]string, error)
	AddPincode(ctx context.Context, userID int64, code string) error
	RemovePincode(ctx context.Context, userID int64, code string) error

	AlreadyChecked(ctx context.Context, userID int64, productCode, pincode string) (bool, error)
	MarkChecked(ctx context.Context, userID int64, productCode, pincode string, deliverable bool) error
	// SaveResult marks the pair checked and, when a notification is given,
	// records it in the same transaction.
	SaveResult(ctx context.Context, res model.SeenResult, n *model.Notification) error
	PurgeExpired(ctx context.Context, userID int64, before time.Time) (int64, error)
	ClearSeen(ctx context.Context, userID int64) error
	CountSeen(ctx context.Context, userID int64) (int, error)

	ListPendingNotifications(ctx context.Context, userID int64) ([]model.Notification, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	CountPendingNotifications(ctx context.Context, userID int64) (int, error)

	Close() error
}
