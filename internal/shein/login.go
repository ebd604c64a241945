package shein

import (
	"context"
	"fmt"
	"strings"
)

type loginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	StatusCode   int    `json:"statusCode"`
	Error        string `json:"error"`
	Message      string `json:"message"`
}

// RequestOTP asks the upstream identity endpoint to send a login code to
// the phone number.
func (c *Client) RequestOTP(ctx context.Context, phone string) error {
	otpURL := c.baseURL + "/api/auth/generateLoginOTP"
	referer := c.baseURL + "/login?referrer=/my-account/"
	payload := map[string]string{"mobileNumber": phone}

	var resp loginResponse
	if err := c.postJSON(ctx, otpURL, referer, "", payload, &resp); err != nil {
		return fmt.Errorf("request otp: %w", err)
	}
	if resp.Error != "" || resp.StatusCode >= 400 {
		return fmt.Errorf("request otp: upstream said %q", firstNonEmpty(resp.Message, resp.Error))
	}
	return nil
}

// VerifyOTP exchanges the code for the session cookie string used on all
// authenticated calls.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (string, error) {
	loginURL := c.baseURL + "/api/auth/login"
	referer := c.baseURL + "/login/otp?referrer=/my-account/"
	payload := map[string]string{"username": phone, "otp": code}

	var resp loginResponse
	if err := c.postJSON(ctx, loginURL, referer, "", payload, &resp); err != nil {
		return "", fmt.Errorf("verify otp: %w", err)
	}
	if resp.Error != "" || resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: upstream said %q", ErrLoginRejected, firstNonEmpty(resp.Message, resp.Error))
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("verify otp: no access token in response")
	}

	pairs := []string{"A=" + resp.AccessToken}
	if resp.RefreshToken != "" {
		pairs = append(pairs, "R="+resp.RefreshToken)
	}
	pairs = append(pairs, "LS=LOGGED_IN", "customerType=Existing")
	return strings.Join(pairs, "; "), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
