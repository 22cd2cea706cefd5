package easee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/config"
)

type staticCredentials struct {
	creds config.Credentials
	err   error
}

func (s staticCredentials) Get() (config.Credentials, error) {
	return s.creds, s.err
}

// fakeAPI is a minimal Easee API.
type fakeAPI struct {
	mu            sync.Mutex
	logins        int
	refreshes     int
	loginBodies   []map[string]string
	refreshStatus int
	stateStatus   int
	chargers      string
	states        map[string]string
	expiresIn     int64
	tokenSeq      int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		chargers: `[{"id":"EH000001","name":"garage"},{"id":"EH000002"}]`,
		states: map[string]string{
			"EH000001": `{"totalPower":7.2,"sessionEnergy":12.5,"energyPerHour":3.1,"chargerOpMode":3}`,
			"EH000002": `{"totalPower":0,"sessionEnergy":0.4,"energyPerHour":0}`,
		},
		expiresIn: 3600,
	}
}

func (f *fakeAPI) token(w http.ResponseWriter) {
	f.tokenSeq++
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accessToken":  fmt.Sprintf("access-%d", f.tokenSeq),
		"refreshToken": "refresh",
		"expiresIn":    f.expiresIn,
		"tokenType":    "Bearer",
	})
}

func (f *fakeAPI) counts() (logins, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.refreshes
}

func (f *fakeAPI) setStateStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateStatus = status
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/accounts/login":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.loginBodies = append(f.loginBodies, body)
		f.logins++
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.token(w)
	case "/api/accounts/refresh_token":
		f.refreshes++
		if f.refreshStatus != 0 {
			w.WriteHeader(f.refreshStatus)
			return
		}
		f.token(w)
	case "/api/chargers":
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(f.chargers))
	default:
		if f.stateStatus != 0 {
			w.WriteHeader(f.stateStatus)
			return
		}
		for id, state := range f.states {
			if r.URL.Path == "/api/chargers/"+id+"/state" {
				w.Write([]byte(state))
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, api http.Handler, password string) *Client {
	t.Helper()
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	logger, _ := zap.NewDevelopment()
	return NewClient(config.EaseeConfig{
		BaseURL:  ts.URL + "/api",
		Timeout:  5 * time.Second,
		RetryMax: 0,
	}, staticCredentials{creds: config.Credentials{Username: "alice@example.com", Password: password}}, logger)
}

func TestChargerStates(t *testing.T) {
	api := newFakeAPI()
	client := newTestClient(t, api, "secret")

	states, err := client.ChargerStates(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)

	assert.Equal(t, ChargerState{ID: "EH000001", Power: 7.2, Session: 12.5, EnergyPerHour: 3.1}, states[0])
	assert.Equal(t, ChargerState{ID: "EH000002", Power: 0, Session: 0.4, EnergyPerHour: 0}, states[1])

	// one login serves all three requests
	logins, _ := api.counts()
	assert.Equal(t, 1, logins)
	api.mu.Lock()
	assert.Equal(t, map[string]string{"userName": "alice@example.com", "password": "secret"}, api.loginBodies[0])
	api.mu.Unlock()
	assert.Equal(t, SessionValid, client.Session().State())
}

func TestLoginReusedWithinLifetime(t *testing.T) {
	api := newFakeAPI()
	client := newTestClient(t, api, "secret")

	for i := 0; i < 3; i++ {
		_, err := client.ListChargers(context.Background())
		require.NoError(t, err)
	}

	logins, refreshes := api.counts()
	assert.Equal(t, 1, logins)
	assert.Equal(t, 0, refreshes)
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	api := newFakeAPI()
	client := newTestClient(t, api, "secret")

	now := time.Now()
	client.session.now = func() time.Time { return now }

	_, err := client.ListChargers(context.Background())
	require.NoError(t, err)
	first := client.Session().AccessToken()

	now = now.Add(2 * time.Hour)
	assert.Equal(t, SessionExpired, client.Session().State())

	_, err = client.ListChargers(context.Background())
	require.NoError(t, err)

	logins, refreshes := api.counts()
	assert.Equal(t, 1, logins)
	assert.Equal(t, 1, refreshes)
	assert.NotEqual(t, first, client.Session().AccessToken())
}

func TestFailedRefreshFallsBackToLogin(t *testing.T) {
	api := newFakeAPI()
	api.refreshStatus = http.StatusBadRequest
	client := newTestClient(t, api, "secret")

	now := time.Now()
	client.session.now = func() time.Time { return now }

	_, err := client.ListChargers(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = client.ListChargers(context.Background())
	require.NoError(t, err)

	logins, refreshes := api.counts()
	assert.Equal(t, 2, logins)
	assert.Equal(t, 1, refreshes)
}

func TestLoginFailed(t *testing.T) {
	client := newTestClient(t, newFakeAPI(), "wrong")

	_, err := client.ChargerStates(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginFailed))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, SessionEmpty, client.Session().State())
}

func TestLoginWithoutCredentials(t *testing.T) {
	ts := httptest.NewServer(newFakeAPI())
	defer ts.Close()

	client := NewClient(config.EaseeConfig{BaseURL: ts.URL + "/api", Timeout: time.Second},
		staticCredentials{err: errors.New("no credentials file")}, zap.NewNop())

	err := client.Login(context.Background())
	assert.True(t, errors.Is(err, ErrLoginFailed))
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, want: ErrUnauthorized},
		{name: "rate limit", status: http.StatusTooManyRequests, want: ErrRateLimit},
		{name: "not found", status: http.StatusNotFound, want: ErrHTTPFailed},
		{name: "server error", status: http.StatusInternalServerError, want: ErrHTTPFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.stateStatus = tt.status
			client := newTestClient(t, api, "secret")

			_, err := client.ChargerStates(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestUnauthorizedClearsSession(t *testing.T) {
	api := newFakeAPI()
	client := newTestClient(t, api, "secret")

	require.NoError(t, client.Login(context.Background()))
	api.setStateStatus(http.StatusUnauthorized)

	_, err := client.ChargerState(context.Background(), "EH000001")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, SessionEmpty, client.Session().State())

	api.setStateStatus(0)
	_, err = client.ChargerState(context.Background(), "EH000001")
	require.NoError(t, err)
	logins, _ := api.counts()
	assert.Equal(t, 2, logins)
}

func TestInvalidResponses(t *testing.T) {
	tests := []struct {
		name     string
		chargers string
		state    string
	}{
		{name: "chargers not json", chargers: `<html>`},
		{name: "chargers not an array", chargers: `{"id":"EH000001"}`},
		{name: "charger without id", chargers: `[{"name":"garage"}]`},
		{name: "charger id not a string", chargers: `[{"id":42}]`},
		{name: "state missing field", state: `{"totalPower":1,"sessionEnergy":2}`},
		{name: "state wrong type", state: `{"totalPower":"1","sessionEnergy":2,"energyPerHour":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			if tt.chargers != "" {
				api.chargers = tt.chargers
			}
			if tt.state != "" {
				api.chargers = `[{"id":"EH000001"}]`
				api.states["EH000001"] = tt.state
			}
			client := newTestClient(t, api, "secret")

			_, err := client.ChargerStates(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidResponse), "got %v", err)
		})
	}
}

func TestTokenLifetimeOutOfRange(t *testing.T) {
	for _, expiresIn := range []int64{-1, math.MaxInt64} {
		t.Run(fmt.Sprint(expiresIn), func(t *testing.T) {
			api := newFakeAPI()
			api.expiresIn = expiresIn
			client := newTestClient(t, api, "secret")

			err := client.Login(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidResponse), "got %v", err)
			assert.Equal(t, SessionEmpty, client.Session().State())
		})
	}
}

func TestTransportFailure(t *testing.T) {
	ts := httptest.NewServer(newFakeAPI())
	url := ts.URL
	ts.Close()

	client := NewClient(config.EaseeConfig{BaseURL: url + "/api", Timeout: time.Second},
		staticCredentials{creds: config.Credentials{Username: "a", Password: "secret"}}, zap.NewNop())

	_, err := client.ListChargers(context.Background())
	assert.True(t, errors.Is(err, ErrHTTPFailed), "got %v", err)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(&StatusError{Kind: ErrUnauthorized, StatusCode: 403}))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(ErrRateLimit))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrInvalidResponse))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrLoginFailed))
}
