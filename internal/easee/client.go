package easee

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/config"
)

// maxExpiresIn is the longest token lifetime, in seconds, a time.Duration can hold
const maxExpiresIn = math.MaxInt64 / int64(time.Second)

const (
	loginPath    = "/accounts/login"
	refreshPath  = "/accounts/refresh_token"
	chargersPath = "/chargers"
)

// CredentialsProvider supplies the account login.
type CredentialsProvider interface {
	Get() (config.Credentials, error)
}

// ChargerState is the subset of a charger's state that gets reported.
type ChargerState struct {
	ID            string  `json:"id"`
	Power         float64 `json:"power"`           // kW
	Session       float64 `json:"session"`         // kWh
	EnergyPerHour float64 `json:"energy_per_hour"` // kWh
}

type tokenResponse struct {
	AccessToken  *string `json:"accessToken"`
	RefreshToken *string `json:"refreshToken"`
	ExpiresIn    *int64  `json:"expiresIn"`
}

func (t tokenResponse) valid() bool {
	return t.AccessToken != nil && *t.AccessToken != "" && t.RefreshToken != nil && t.ExpiresIn != nil
}

type chargerResponse struct {
	ID *string `json:"id"`
}

type stateResponse struct {
	TotalPower    *float64 `json:"totalPower"`
	SessionEnergy *float64 `json:"sessionEnergy"`
	EnergyPerHour *float64 `json:"energyPerHour"`
}

// Client talks to the Easee cloud API. It logs in lazily and keeps the
// session fresh before every request; it is safe for concurrent use.
type Client struct {
	http        *retryablehttp.Client
	baseURL     string
	credentials CredentialsProvider
	session     *Session
	authMu      sync.Mutex
	logger      *zap.Logger
}

// NewClient creates a client for the API at cfg.BaseURL
func NewClient(cfg config.EaseeConfig, credentials CredentialsProvider, logger *zap.Logger) *Client {
	logger = logger.With(zap.String("module", "easee"))

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = newLeveledLogger(logger)
	// keep the last response so its status can be classified
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:        client,
		baseURL:     cfg.BaseURL,
		credentials: credentials,
		session:     NewSession(),
		logger:      logger,
	}
}

// Session exposes the client's session.
func (c *Client) Session() *Session {
	return c.session
}

// Login authenticates with the account credentials and replaces the session tokens.
func (c *Client) Login(ctx context.Context) error {
	creds, err := c.credentials.Get()
	if err != nil {
		return fmt.Errorf("%w: credentials unavailable: %v", ErrLoginFailed, err)
	}

	payload := map[string]string{
		"userName": creds.Username,
		"password": creds.Password,
	}

	c.logger.Debug("Sending login request")
	token, err := c.requestToken(ctx, loginPath, payload)
	if err != nil {
		c.logger.Error("Login failed", zap.Error(err))
		return err
	}

	c.session.set(token)
	c.logger.Info("Login success", zap.Time("expires_at", c.session.ExpiresAt()))
	return nil
}

func (c *Client) refresh(ctx context.Context) error {
	access, refresh := c.session.tokens()
	if access == "" || refresh == "" {
		c.logger.Warn("No refresh token, logging in")
		return c.Login(ctx)
	}

	payload := map[string]string{
		"accessToken":  access,
		"refreshToken": refresh,
	}

	c.logger.Debug("Sending token refresh request")
	token, err := c.requestToken(ctx, refreshPath, payload)
	if err != nil {
		return err
	}

	c.session.set(token)
	c.logger.Info("Token refreshed", zap.Time("expires_at", c.session.ExpiresAt()))
	return nil
}

// requestToken posts to a token endpoint. Every non-2xx answer other than 429 is a login failure.
func (c *Client) requestToken(ctx context.Context, path string, payload map[string]string) (tokenResponse, error) {
	var token tokenResponse

	body, err := json.Marshal(payload)
	if err != nil {
		return token, fmt.Errorf("encode %s payload: %w", path, err)
	}

	resp, err := c.send(ctx, http.MethodPost, path, body, "")
	if err != nil {
		return token, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := ErrLoginFailed
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = ErrRateLimit
		}
		return token, &StatusError{Kind: kind, StatusCode: resp.StatusCode, Path: path}
	}

	if err := decode(resp.Body, &token); err != nil {
		return token, err
	}
	if !token.valid() {
		return token, fmt.Errorf("%w: %s: token fields missing", ErrInvalidResponse, path)
	}
	if *token.ExpiresIn < 0 || *token.ExpiresIn > maxExpiresIn {
		return token, fmt.Errorf("%w: %s: expiresIn %d out of range", ErrInvalidResponse, path, *token.ExpiresIn)
	}
	return token, nil
}

// ensureAuth makes sure the session holds a usable token and returns it.
func (c *Client) ensureAuth(ctx context.Context) (string, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	switch c.session.State() {
	case SessionValid:
		c.logger.Debug("Token is still valid")
	case SessionExpired:
		c.logger.Debug("Token expired")
		if err := c.refresh(ctx); err != nil {
			c.logger.Warn("Token refresh failed, logging in", zap.Error(err))
			c.session.Clear()
			if err := c.Login(ctx); err != nil {
				return "", err
			}
		}
	default:
		c.logger.Debug("Performing first login")
		if err := c.Login(ctx); err != nil {
			return "", err
		}
	}

	return c.session.AccessToken(), nil
}

// get performs an authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	token, err := c.ensureAuth(ctx)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, http.MethodGet, path, nil, token)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := classifyStatus(resp.StatusCode)
		switch kind {
		case ErrUnauthorized:
			c.logger.Warn("Request unauthorized, clearing session", zap.String("path", path))
			c.session.Clear()
		case ErrRateLimit:
			c.logger.Warn("Rate limit exceeded", zap.String("path", path))
		default:
			c.logger.Error("Request failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		}
		return &StatusError{Kind: kind, StatusCode: resp.StatusCode, Path: path}
	}

	return decode(resp.Body, out)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, rawBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request %s: %v", ErrHTTPFailed, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrHTTPFailed, method, path, err)
	}
	return resp, nil
}

func decode(r io.Reader, out interface{}) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrHTTPFailed, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// ListChargers returns the ids of every charger on the account.
func (c *Client) ListChargers(ctx context.Context) ([]string, error) {
	var chargers []chargerResponse
	if err := c.get(ctx, chargersPath, &chargers); err != nil {
		return nil, err
	}
	if chargers == nil {
		return nil, fmt.Errorf("%w: charger list is not an array", ErrInvalidResponse)
	}

	ids := make([]string, 0, len(chargers))
	for i, charger := range chargers {
		if charger.ID == nil || *charger.ID == "" {
			return nil, fmt.Errorf("%w: charger %d has no id", ErrInvalidResponse, i)
		}
		ids = append(ids, *charger.ID)
	}

	c.logger.Debug("Got chargers", zap.Int("count", len(ids)))
	return ids, nil
}

// ChargerState returns the state of a single charger.
func (c *Client) ChargerState(ctx context.Context, id string) (ChargerState, error) {
	var state stateResponse
	if err := c.get(ctx, chargersPath+"/"+url.PathEscape(id)+"/state", &state); err != nil {
		return ChargerState{}, err
	}

	if state.TotalPower == nil || state.SessionEnergy == nil || state.EnergyPerHour == nil {
		return ChargerState{}, fmt.Errorf("%w: charger %s state is incomplete", ErrInvalidResponse, id)
	}

	result := ChargerState{
		ID:            id,
		Power:         *state.TotalPower,
		Session:       *state.SessionEnergy,
		EnergyPerHour: *state.EnergyPerHour,
	}
	c.logger.Debug("Got charger state",
		zap.String("charger", id),
		zap.Float64("power", result.Power),
		zap.Float64("session", result.Session),
		zap.Float64("energy_per_hour", result.EnergyPerHour))
	return result, nil
}

// ChargerStates returns the state of every charger in list order. The first error aborts.
func (c *Client) ChargerStates(ctx context.Context) ([]ChargerState, error) {
	ids, err := c.ListChargers(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]ChargerState, 0, len(ids))
	for _, id := range ids {
		state, err := c.ChargerState(ctx, id)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}
