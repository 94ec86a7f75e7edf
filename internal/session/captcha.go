package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helmdesk/helmdesk/internal/shared"
)

// HTTPCaptchaVerifier verifies challenge tokens against a reCAPTCHA-style
// siteverify endpoint and fails closed below the minimum trust score.
type HTTPCaptchaVerifier struct {
	endpoint string
	secret   string
	minScore float64
	client   *http.Client
}

// NewHTTPCaptchaVerifier constructs a verifier.
func NewHTTPCaptchaVerifier(endpoint, secret string, minScore float64) *HTTPCaptchaVerifier {
	return &HTTPCaptchaVerifier{
		endpoint: endpoint,
		secret:   secret,
		minScore: minScore,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type captchaResponse struct {
	Success bool    `json:"success"`
	Score   float64 `json:"score"`
}

// Verify posts the token to the challenge endpoint. Any transport failure,
// unsuccessful verdict or sub-threshold score rejects the login attempt.
func (v *HTTPCaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return fmt.Errorf("%w: challenge token missing", shared.ErrValidation)
	}
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: challenge request", shared.ErrValidation)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: challenge verification unavailable", shared.ErrValidation)
	}
	defer res.Body.Close()

	var verdict captchaResponse
	if err := json.NewDecoder(res.Body).Decode(&verdict); err != nil {
		return fmt.Errorf("%w: challenge verification unreadable", shared.ErrValidation)
	}
	if !verdict.Success || verdict.Score < v.minScore {
		return fmt.Errorf("%w: challenge failed", shared.ErrValidation)
	}
	return nil
}

var _ CaptchaVerifier = (*HTTPCaptchaVerifier)(nil)
