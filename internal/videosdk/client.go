// Package videosdk talks to the VideoSDK REST API to mint tokens and manage rooms.
package videosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/telehealth-booking/internal/meetings"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

const (
	defaultBaseURL   = "https://api.videosdk.live"
	defaultUserAgent = "telehealth-booking/0.1"
)

// Config controls how the VideoSDK client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Secret     string
	TokenTTL   time.Duration
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
}

// Client implements meetings.Provider against VideoSDK.
type Client struct {
	apiKey     string
	secret     []byte
	baseURL    string
	tokenTTL   time.Duration
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	userAgent  string
	now        func() time.Time
}

var _ meetings.Provider = (*Client)(nil)

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("videosdk: API key is required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("videosdk: secret is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 2 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		secret:     []byte(cfg.Secret),
		baseURL:    baseURL,
		tokenTTL:   tokenTTL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
		now:        time.Now,
	}, nil
}

type tokenClaims struct {
	APIKey      string   `json:"apikey"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// MintToken signs an HS256 token granting join and moderation rights.
func (c *Client) MintToken(_ context.Context) (meetings.Token, error) {
	now := c.now()
	exp := now.Add(c.tokenTTL)
	claims := tokenClaims{
		APIKey:      c.apiKey,
		Permissions: []string{"allow_join", "allow_mod"},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return meetings.Token{}, &meetings.ProviderError{Op: "mint_token", Err: err}
	}
	return meetings.Token{Value: signed, ExpiresAt: exp}, nil
}

type roomResponse struct {
	RoomID string `json:"roomId"`
}

// CreateRoom creates a room. Only responses that prove the room was not
// created (429) are retried.
func (c *Client) CreateRoom(ctx context.Context, token meetings.Token) (meetings.Room, error) {
	data, err := c.invoke(ctx, "create_room", "/v2/rooms", token, []byte("{}"), retryRejectedOnly)
	if err != nil {
		return meetings.Room{}, err
	}
	var resp roomResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return meetings.Room{}, &meetings.ProviderError{Op: "create_room", Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(resp.RoomID) == "" {
		return meetings.Room{}, &meetings.ProviderError{Op: "create_room", Body: "response missing roomId"}
	}
	return meetings.Room{ID: resp.RoomID}, nil
}

// DeleteRoom deactivates a room. Deactivation is idempotent so transient
// failures are retried.
func (c *Client) DeleteRoom(ctx context.Context, token meetings.Token, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return errors.New("videosdk: room id required")
	}
	body, err := json.Marshal(map[string]string{"roomId": roomID})
	if err != nil {
		return fmt.Errorf("videosdk: marshal deactivate body: %w", err)
	}
	_, err = c.invoke(ctx, "delete_room", "/v2/rooms/deactivate", token, body, shouldRetry)
	return err
}

func (c *Client) invoke(ctx context.Context, op, path string, token meetings.Token, body []byte, retryable func(int, error) bool) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("videosdk: build request: %w", err)
		}
		req.Header.Set("Authorization", token.Value)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			perr := &meetings.ProviderError{Op: op, Err: err}
			if ctx.Err() != nil || !retryable(0, err) || attempt == c.maxRetries {
				return nil, perr
			}
			lastErr = perr
			c.logRetry(op, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, &meetings.ProviderError{Op: op, Err: sleepErr}
			}
			continue
		}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			return nil, &meetings.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", readErr)}
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		perr := &meetings.ProviderError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
		if attempt < c.maxRetries && retryable(resp.StatusCode, nil) {
			lastErr = perr
			c.logRetry(op, attempt, resp.StatusCode, perr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, &meetings.ProviderError{Op: op, Err: sleepErr}
			}
			continue
		}
		return nil, perr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &meetings.ProviderError{Op: op, Err: errors.New("request failed without response")}
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(op string, attempt int, status int, err error) {
	c.logger.Warn("videosdk retry",
		"operation", op,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

func retryRejectedOnly(status int, err error) bool {
	return err == nil && status == http.StatusTooManyRequests
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
