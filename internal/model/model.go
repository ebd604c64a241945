// Package model defines the domain types used across the application.
package model

import "time"

// AuthState is the tagged state of a user's upstream session.
type AuthState string

// Session states. Transitions happen only through the login flow:
// absent -> pending_otp -> authenticated -> expired -> pending_otp.
const (
	AuthAbsent        AuthState = "absent"
	AuthPendingOTP    AuthState = "pending_otp"
	AuthAuthenticated AuthState = "authenticated"
	AuthExpired       AuthState = "expired"
)

// User holds the per-user monitoring state. The Telegram chat ID doubles
// as the user ID.
type User struct {
	ID          int64
	AuthState   AuthState
	Phone       string // phone number of a pending or completed login
	Cookies     string // upstream credential cookie string, empty unless authenticated
	LastCheckAt *time.Time
	CreatedAt   time.Time
}

// Product is a single listing returned by product discovery.
type Product struct {
	Code     string
	Name     string
	Price    float64
	ImageURL string
	URL      string
}

// SeenResult records the outcome of one product x pincode evaluation.
type SeenResult struct {
	UserID      int64
	ProductCode string
	Pincode     string
	Deliverable bool
	FirstSeenAt time.Time
}

// Notification is created for every newly deliverable product x pincode
// pair and retained until delivery to the user succeeds.
type Notification struct {
	ID          string
	UserID      int64
	ProductURL  string
	ProductName string
	Pincode     string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}
