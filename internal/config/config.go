// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AuthorizedUsers  []int64

	// Proxy pool for outbound upstream calls.
	ProxyAddrs    []string
	ProxyUsername string
	ProxyPassword string
	ProxyDisabled bool

	// Upstream check behaviour.
	CheckInterval time.Duration
	MaxProducts   int
	WaitMin       time.Duration // politeness delay between product-level calls
	WaitMax       time.Duration
	RetentionDays int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if !strings.Contains(token, ":") {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is malformed")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/monitor.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	users, err := parseUserList(os.Getenv("AUTHORIZED_USERS"))
	if err != nil {
		return nil, err
	}
	// The allowlist is also the scheduler's roster. Empty means nobody
	// gets checked, which is never a useful deployment.
	if len(users) == 0 {
		return nil, fmt.Errorf("AUTHORIZED_USERS is required")
	}

	interval, err := envDuration("CHECK_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	waitMin, err := envDuration("CHECK_WAIT_MIN", 1500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	waitMax, err := envDuration("CHECK_WAIT_MAX", 3*time.Second)
	if err != nil {
		return nil, err
	}
	if waitMax < waitMin {
		return nil, fmt.Errorf("CHECK_WAIT_MAX %v is below CHECK_WAIT_MIN %v", waitMax, waitMin)
	}

	maxProducts, err := envInt("MAX_PRODUCTS", 90)
	if err != nil {
		return nil, err
	}
	retention, err := envInt("RETENTION_DAYS", 7)
	if err != nil {
		return nil, err
	}

	var proxies []string
	if raw := os.Getenv("PROXY_LIST"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				proxies = append(proxies, p)
			}
		}
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     dbPath,
		LogLevel:         logLevel,
		AuthorizedUsers:  users,
		ProxyAddrs:       proxies,
		ProxyUsername:    os.Getenv("PROXY_USERNAME"),
		ProxyPassword:    os.Getenv("PROXY_PASSWORD"),
		ProxyDisabled:    strings.EqualFold(os.Getenv("NO_PROXY"), "true"),
		CheckInterval:    interval,
		MaxProducts:      maxProducts,
		WaitMin:          waitMin,
		WaitMax:          waitMax,
		RetentionDays:    retention,
	}, nil
}

// IsUserAllowed checks whether a user ID is in the authorized list.
// Strict membership: an empty list admits nobody, so the command layer
// and the check roster never disagree about who is authorized.
func (c *Config) IsUserAllowed(userID int64) bool {
	for _, id := range c.AuthorizedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func parseUserList(raw string) ([]int64, error) {
	var users []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in AUTHORIZED_USERS: %w", s, err)
		}
		users = append(users, uid)
	}
	return users, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, raw)
	}
	return n, nil
}
