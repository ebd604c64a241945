package bot

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var pincodeRe = regexp.MustCompile(`^[1-9]\d{5}$`)

// ParseMonitorURL validates a category or search URL given to /seturl.
func ParseMonitorURL(args string) (string, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return "", fmt.Errorf("url is required")
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", s)
	}
	return s, nil
}

// ParsePincodes splits /setpin arguments into valid codes and rejects.
// Indian pincodes are six digits and never start with zero.
func ParsePincodes(args string) (valid, invalid []string) {
	for _, field := range strings.Fields(args) {
		code := strings.Trim(field, ",")
		if code == "" {
			continue
		}
		if pincodeRe.MatchString(code) {
			valid = append(valid, code)
		} else {
			invalid = append(invalid, code)
		}
	}
	return valid, invalid
}

// ParseOTPArg extracts the login code from /otp arguments.
func ParseOTPArg(args string) (string, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return "", fmt.Errorf("code is required")
	}
	fields := strings.Fields(s)
	code := fields[0]
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid code %q", code)
		}
	}
	return code, nil
}
