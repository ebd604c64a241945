package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/SinzaXh/Shein-suto-verse/internal/model"
	"github.com/SinzaXh/Shein-suto-verse/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// EnsureUser returns the user with the given ID, creating a blank record
// if none exists yet.
func (s *SQLite) EnsureUser(ctx context.Context, id int64) (*model.User, error) {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, auth_state, created_at) VALUES (?, ?, ?)`,
		id, string(model.AuthAbsent), now,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser returns a single user by ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, auth_state, phone, cookies, last_check_at, created_at FROM users WHERE id = ?`, id,
	)
	var u model.User
	var state string
	var lastCheck, created sql.NullString
	err := row.Scan(&u.ID, &state, &u.Phone, &u.Cookies, &lastCheck, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.AuthState = model.AuthState(state)
	if lastCheck.Valid {
		t, _ := time.Parse(timeLayout, lastCheck.String)
		u.LastCheckAt = &t
	}
	if created.Valid {
		u.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &u, nil
}

// UpdateUserAuth persists a session state transition.
func (s *SQLite) UpdateUserAuth(ctx context.Context, id int64, state model.AuthState, phone, cookies string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET auth_state = ?, phone = ?, cookies = ? WHERE id = ?`,
		string(state), phone, cookies, id,
	)
	if err != nil {
		return fmt.Errorf("update auth: %w", err)
	}
	return requireRow(res)
}

// UpdateLastCheck records when the user's check cycle last completed.
func (s *SQLite) UpdateLastCheck(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_check_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("update last check: %w", err)
	}
	return nil
}

// ListURLs returns the user's monitor URLs in configured order.
func (s *SQLite) ListURLs(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM monitor_urls WHERE user_id = ? ORDER BY position`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

// AddURL appends a monitor URL for the user. Duplicates are rejected.
func (s *SQLite) AddURL(ctx context.Context, userID int64, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM monitor_urls WHERE user_id = ? AND url = ?`, userID, url,
	).Scan(&count); err != nil {
		return fmt.Errorf("check url: %w", err)
	}
	if count > 0 {
		return ErrDuplicateURL
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO monitor_urls (user_id, url, position, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM monitor_urls WHERE user_id = ?), ?)`,
		userID, url, userID, now,
	)
	if err != nil {
		return fmt.Errorf("insert url: %w", err)
	}
	return tx.Commit()
}

// RemoveURL deletes a monitor URL.
func (s *SQLite) RemoveURL(ctx context.Context, userID int64, url string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM monitor_urls WHERE user_id = ? AND url = ?`, userID, url,
	)
	if err != nil {
		return fmt.Errorf("delete url: %w", err)
	}
	return requireRow(res)
}

// ListPincodes returns the user's pincodes in sorted order.
func (s *SQLite) ListPincodes(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code FROM pincodes WHERE user_id = ? ORDER BY code`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pincodes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

// AddPincode records a pincode for the user. Adding an existing code is a no-op.
func (s *SQLite) AddPincode(ctx context.Context, userID int64, code string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pincodes (user_id, code, created_at) VALUES (?, ?, ?)`,
		userID, code, now,
	)
	if err != nil {
		return fmt.Errorf("insert pincode: %w", err)
	}
	return nil
}

// RemovePincode deletes a pincode.
func (s *SQLite) RemovePincode(ctx context.Context, userID int64, code string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pincodes WHERE user_id = ? AND code = ?`, userID, code,
	)
	if err != nil {
		return fmt.Errorf("delete pincode: %w", err)
	}
	return requireRow(res)
}

// AlreadyChecked reports whether a product x pincode pair has a live entry.
func (s *SQLite) AlreadyChecked(ctx context.Context, userID int64, productCode, pincode string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_products WHERE user_id = ? AND product_code = ? AND pincode = ?`,
		userID, productCode, pincode,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count > 0, nil
}

// MarkChecked records the outcome of one product x pincode evaluation.
func (s *SQLite) MarkChecked(ctx context.Context, userID int64, productCode, pincode string, deliverable bool) error {
	return s.SaveResult(ctx, model.SeenResult{
		UserID:      userID,
		ProductCode: productCode,
		Pincode:     pincode,
		Deliverable: deliverable,
	}, nil)
}

// SaveResult marks a pair checked and records the notification, if any,
// atomically. An existing entry for the pair is left untouched.
func (s *SQLite) SaveResult(ctx context.Context, res model.SeenResult, n *model.Notification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_products (user_id, product_code, pincode, deliverable, first_seen_at)
		 VALUES (?, ?, ?, ?, ?)`,
		res.UserID, res.ProductCode, res.Pincode, boolToInt(res.Deliverable), now,
	)
	if err != nil {
		return fmt.Errorf("mark checked: %w", err)
	}

	if n != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO notifications (id, user_id, product_url, product_name, pincode, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, n.UserID, n.ProductURL, n.ProductName, n.Pincode, now,
		)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		n.CreatedAt, _ = time.Parse(timeLayout, now)
	}
	return tx.Commit()
}

// PurgeExpired removes seen entries first recorded before the cutoff and
// returns the number of rows evicted.
func (s *SQLite) PurgeExpired(ctx context.Context, userID int64, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_products WHERE user_id = ? AND first_seen_at <= ?`,
		userID, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ClearSeen wipes all dedup entries for the user.
func (s *SQLite) ClearSeen(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM seen_products WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("clear seen: %w", err)
	}
	return nil
}

// CountSeen returns the number of live dedup entries for the user.
func (s *SQLite) CountSeen(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_products WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return count, nil
}

// ListPendingNotifications returns undelivered notifications, oldest first.
func (s *SQLite) ListPendingNotifications(ctx context.Context, userID int64) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, product_url, product_name, pincode, created_at, delivered_at
		 FROM notifications WHERE user_id = ? AND delivered_at IS NULL ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var created string
		var delivered sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.ProductURL, &n.ProductName, &n.Pincode, &created, &delivered); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt, _ = time.Parse(timeLayout, created)
		if delivered.Valid {
			t, _ := time.Parse(timeLayout, delivered.String)
			n.DeliveredAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkDelivered stamps a notification as successfully dispatched.
func (s *SQLite) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET delivered_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return requireRow(res)
}

// CountPendingNotifications returns the number of undelivered notifications.
func (s *SQLite) CountPendingNotifications(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND delivered_at IS NULL`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
