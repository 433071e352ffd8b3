package brokerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/mindsignal/pairing/internal/errors"
	"github.com/mindsignal/pairing/internal/httputil"
	"github.com/mindsignal/pairing/internal/pairing"
	"github.com/mindsignal/pairing/internal/util"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
)

// APIError is a broker answer the client has no specific meaning for.
type APIError struct {
	StatusCode int
	Code       apperrors.ErrorCode
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker returned %d", e.StatusCode)
}

// Client talks to the Session Broker's HTTP API. It implements pairing.Broker and
// pairing.StatusChecker.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type sessionPayload struct {
	ID           string     `json:"id"`
	PairingToken string     `json:"pairingToken"`
	Status       string     `json:"status"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	PairedAt     *time.Time `json:"pairedAt"`
}

type envelope struct {
	Status  string              `json:"status"`
	Data    *sessionPayload     `json:"data"`
	Message string              `json:"message"`
	Code    apperrors.ErrorCode `json:"code"`
}

func (c *Client) CreateSession(ctx context.Context) (pairing.Issuance, error) {
	data, err := c.do(ctx, "create session", http.MethodPost, "/sessions")
	if err != nil {
		return pairing.Issuance{}, err
	}
	if data.PairingToken == "" {
		return pairing.Issuance{}, fmt.Errorf("create session: response has no pairingToken")
	}

	return pairing.Issuance{
		SessionID: data.ID,
		Token:     data.PairingToken,
		ExpiresAt: data.ExpiresAt,
	}, nil
}

func (c *Client) Claim(ctx context.Context, token string) (pairing.ClaimResult, error) {
	data, err := c.do(ctx, "claim", http.MethodPost, "/sessions/"+url.PathEscape(token)+"/pair")
	if err != nil {
		return pairing.ClaimResult{}, err
	}

	// some broker versions answer 200 with the session's real status inside
	switch pairing.Status(data.Status) {
	case pairing.StatusPaired:
	case pairing.StatusExpired:
		return pairing.ClaimResult{}, fmt.Errorf("claim: %w", pairing.ErrExpired)
	default:
		return pairing.ClaimResult{}, fmt.Errorf("claim: unexpected session status %q", data.Status)
	}

	result := pairing.ClaimResult{SessionID: data.ID}
	if data.PairedAt != nil {
		result.PairedAt = *data.PairedAt
	}
	log.Debug().Str("token", util.MaskCode(token)).Str("sessionId", data.ID).Msg("claim accepted")
	return result, nil
}

func (c *Client) SessionStatus(ctx context.Context, sessionID string) (pairing.SessionInfo, error) {
	data, err := c.do(ctx, "status", http.MethodGet, "/sessions/status/"+url.PathEscape(sessionID))
	if err != nil {
		return pairing.SessionInfo{}, err
	}

	return pairing.SessionInfo{
		SessionID: data.ID,
		Status:    pairing.Status(data.Status),
		ExpiresAt: data.ExpiresAt,
		PairedAt:  data.PairedAt,
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string) (*sessionPayload, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &pairing.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &pairing.NetworkError{Op: op, Err: err}
	}

	log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("broker response")

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && env.Status != httputil.EnvelopeFail {
		if decodeErr != nil {
			return nil, fmt.Errorf("%s: decode response: %w", op, decodeErr)
		}
		if env.Data == nil {
			return nil, fmt.Errorf("%s: response has no data", op)
		}
		return env.Data, nil
	}

	return nil, fmt.Errorf("%s: %w", op, classify(resp.StatusCode, env))
}

// classify maps a failed broker answer onto the pairing error taxonomy. The
// envelope code covers brokers that report failures with a 200.
func classify(status int, env envelope) error {
	switch {
	case status == http.StatusGone || env.Code == apperrors.ErrCodePairingExpired:
		return pairing.ErrExpired
	case status == http.StatusConflict || env.Code == apperrors.ErrCodeAlreadyPaired:
		return pairing.ErrAlreadyClaimed
	case status == http.StatusNotFound || env.Code == apperrors.ErrCodeInvalidPairingCode:
		return pairing.ErrUnknownToken
	}
	return &APIError{StatusCode: status, Code: env.Code, Message: env.Message}
}

// IsAPIError reports whether err carries an unclassified broker answer.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
