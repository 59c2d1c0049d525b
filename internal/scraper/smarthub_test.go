package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jgoulah/energybot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	loginPath = "/Login.html"
	authPath  = "/services/oauth/auth/v2"
	pollPath  = "/services/secured/utility-usage/poll"
)

const completeResponse = `{
  "status": "COMPLETE",
  "data": {
    "ELECTRIC": [{
      "meterNumber": "1234",
      "type": "USAGE",
      "series": [{
        "name": "kWh",
        "data": [
          {"x": 1700000000000, "y": 12.5},
          {"x": 1700086400000, "y": 20.25},
          {"x": 1699913600000, "y": 8}
        ]
      }]
    }]
  }
}`

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func testConfig(baseURL string) SmartHubConfig {
	return SmartHubConfig{
		BaseURL:         baseURL,
		LoginURL:        baseURL + loginPath,
		PollURL:         baseURL + pollPath,
		Email:           "user@example.com",
		Password:        "hunter2",
		ServiceLocation: "SL-1",
		AccountNumber:   "AC-1",
		Timeout:         5 * time.Second,
	}
}

// newTestClient returns a client whose waits are recorded instead of slept
func newTestClient(cfg SmartHubConfig, waits *int32) *SmartHubClient {
	c := NewSmartHubClient(cfg, discardLogger())
	c.wait = func(ctx context.Context, d time.Duration) error {
		if waits != nil {
			atomic.AddInt32(waits, 1)
		}
		return nil
	}
	return c
}

// loginServer serves the login flow, answering the auth POST with authBody
func loginServer(t *testing.T, authStatus int, authBody string, authHeader string, setSessionCookie bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case loginPath:
			if setSessionCookie {
				http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/"})
			}
			w.Write([]byte("<html>login</html>"))
		case "/services/two-factor":
			assert.Equal(t, "user@example.com", r.URL.Query().Get("userId"))
			assert.Equal(t, "true", r.URL.Query().Get("isLogin"))
			w.Write([]byte(`{"twoFactorEnabled": false}`))
		case authPath:
			assert.Equal(t, http.MethodPost, r.Method)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "user@example.com", r.Form.Get("userId"))
			assert.Equal(t, "hunter2", r.Form.Get("password"))
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			if authHeader != "" {
				w.Header().Set("Authorization", authHeader)
			}
			w.WriteHeader(authStatus)
			w.Write([]byte(authBody))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
}

func TestAuthenticate(t *testing.T) {
	t.Run("Configured token makes no requests", func(t *testing.T) {
		cfg := testConfig("https://smarthub.invalid")
		cfg.Token = "preissued"
		c := newTestClient(cfg, nil)
		c.transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
			t.Errorf("unexpected request to %s", r.URL)
			return nil, errors.New("no network")
		})

		session, err := c.Authenticate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, AuthMethodToken, session.Method)
		assert.Equal(t, "Bearer preissued", session.Header().Get("Authorization"))
	})

	t.Run("Configured token keeps existing prefix", func(t *testing.T) {
		cfg := testConfig("https://smarthub.invalid")
		cfg.Token = "bearer xyz"
		session, err := newTestClient(cfg, nil).Authenticate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "bearer xyz", session.Header().Get("Authorization"))
	})

	t.Run("Token from response body", func(t *testing.T) {
		ts := loginServer(t, http.StatusOK, `{"status":"SUCCESS","jwt":"j","authorizationToken":"a1"}`, "", false)
		defer ts.Close()

		session, err := newTestClient(testConfig(ts.URL), nil).Authenticate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, AuthMethodBearer, session.Method)
		assert.Equal(t, "Bearer a1", session.Header().Get("Authorization"))
		assert.Equal(t, "user@example.com", session.Header().Get(usernameHeader))
	})

	t.Run("Empty preferred field falls back to next", func(t *testing.T) {
		ts := loginServer(t, http.StatusOK, `{"status":"SUCCESS","authorizationToken":"","token":"t2"}`, "", false)
		defer ts.Close()

		session, err := newTestClient(testConfig(ts.URL), nil).Authenticate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer t2", session.Header().Get("Authorization"))
	})

	t.Run("Token from response header", func(t *testing.T) {
		ts := loginServer(t, http.StatusOK, `{"status":"SUCCESS"}`, "Bearer h3", false)
		defer ts.Close()

		session, err := newTestClient(testConfig(ts.URL), nil).Authenticate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer h3", session.Header().Get("Authorization"))
	})

	t.Run("Success without token uses cookies", func(t *testing.T) {
		ts := loginServer(t, http.StatusOK, `{"status":"SUCCESS","user":{"id":1}}`, "", false)
		defer ts.Close()

		session, err := newTestClient(testConfig(ts.URL), nil).Authenticate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, AuthMethodCookie, session.Method)
		assert.Empty(t, session.Header().Get("Authorization"))
		assert.Equal(t, "user@example.com", session.Header().Get(usernameHeader))
	})

	t.Run("Failure status", func(t *testing.T) {
		ts := loginServer(t, http.StatusOK, `{"status":"FAILURE","message":"bad password"}`, "", true)
		defer ts.Close()

		_, err := newTestClient(testConfig(ts.URL), nil).Authenticate(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthentication)

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "FAILURE", authErr.Status)
	})

	t.Run("Non-200 with session cookie", func(t *testing.T) {
		ts := loginServer(t, http.StatusInternalServerError, `oops`, "", true)
		defer ts.Close()

		session, err := newTestClient(testConfig(ts.URL), nil).Authenticate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, AuthMethodCookie, session.Method)
	})

	t.Run("Unexpected status with session cookie", func(t *testing.T) {
		ts := loginServer(t, http.StatusOK, `{"status":"MFA_REQUIRED"}`, "", true)
		defer ts.Close()

		session, err := newTestClient(testConfig(ts.URL), nil).Authenticate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, AuthMethodCookie, session.Method)
	})

	t.Run("Non-200 without session cookie", func(t *testing.T) {
		ts := loginServer(t, http.StatusUnauthorized, `denied`, "", false)
		defer ts.Close()

		_, err := newTestClient(testConfig(ts.URL), nil).Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrAuthentication)

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	})

	t.Run("Undecodable body", func(t *testing.T) {
		ts := loginServer(t, http.StatusOK, `<html>maintenance</html>`, "", true)
		defer ts.Close()

		_, err := newTestClient(testConfig(ts.URL), nil).Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrAuthentication)
	})
}

// pollServer answers each poll with the next body of responses, repeating the last
func pollServer(t *testing.T, calls *int32, responses ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pollPath {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		n := int(atomic.AddInt32(calls, 1))
		if n > len(responses) {
			n = len(responses)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(responses[n-1]))
	}))
}

func tokenSession(t *testing.T, c *SmartHubClient) *Session {
	t.Helper()
	c.cfg.Token = "tok"
	session, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	return session
}

func TestFetchDailyUsage(t *testing.T) {
	t.Run("Requires a session", func(t *testing.T) {
		c := newTestClient(testConfig("https://smarthub.invalid"), nil)
		_, err := c.FetchDailyUsage(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("Submits report request", func(t *testing.T) {
		now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)

			var req PollRequest
			assert.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "DAILY", req.TimeFrame)
			assert.Equal(t, "USAGE_EXPLORER", req.Screen)
			assert.Equal(t, "user@example.com", req.UserID)
			assert.Equal(t, "SL-1", req.ServiceLocationNumber)
			assert.Equal(t, "AC-1", req.AccountNumber)
			assert.Equal(t, []string{"ELECTRIC"}, req.Industries)
			assert.False(t, req.IncludeDemand)
			assert.Equal(t, now.UnixMilli(), req.EndDateTime)
			assert.Equal(t, now.AddDate(0, 0, -30).UnixMilli(), req.StartDateTime)

			w.Write([]byte(completeResponse))
		}))
		defer ts.Close()

		c := newTestClient(testConfig(ts.URL), nil)
		c.now = func() time.Time { return now }

		point, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		require.NoError(t, err)
		assert.Equal(t, models.UsagePoint{Timestamp: 1700086400000, KWh: 20.25}, point)
	})

	t.Run("Times out after ten pending responses", func(t *testing.T) {
		var calls, waits int32
		ts := pollServer(t, &calls, `{"status":"PENDING"}`)
		defer ts.Close()

		c := newTestClient(testConfig(ts.URL), &waits)
		_, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPollTimeout)

		var timeout *PollTimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.Equal(t, 10, timeout.Attempts)
		assert.Equal(t, int32(10), atomic.LoadInt32(&calls))
		assert.Equal(t, int32(9), atomic.LoadInt32(&waits))
	})

	t.Run("Pending then complete", func(t *testing.T) {
		var calls, waits int32
		ts := pollServer(t, &calls, `{"status":"PENDING"}`, `{"status":"PENDING"}`, completeResponse)
		defer ts.Close()

		c := newTestClient(testConfig(ts.URL), &waits)
		point, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		require.NoError(t, err)
		assert.Equal(t, 20.25, point.KWh)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
		assert.Equal(t, int32(2), atomic.LoadInt32(&waits))
	})

	t.Run("Data key stops polling without status", func(t *testing.T) {
		var calls int32
		ts := pollServer(t, &calls,
			`{"data": {"ELECTRIC": [{"usage": [{"x": 5, "y": 1.5}, {"x": 9, "y": 2.5}]}]}}`,
			`{"status":"PENDING"}`)
		defer ts.Close()

		c := newTestClient(testConfig(ts.URL), nil)
		point, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		require.NoError(t, err)
		assert.Equal(t, models.UsagePoint{Timestamp: 9, KWh: 2.5}, point)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("Data key stops polling with unknown status", func(t *testing.T) {
		var calls int32
		ts := pollServer(t, &calls, `{"status": "PARTIAL", "data": {"ELECTRIC": [{"s": [{"x": 1, "y": 7}]}]}}`)
		defer ts.Close()

		cfg := testConfig(ts.URL)
		cfg.StrictPollStatus = true
		c := newTestClient(cfg, nil)
		point, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		require.NoError(t, err)
		assert.Equal(t, 7.0, point.KWh)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("Unknown status stops polling", func(t *testing.T) {
		var calls int32
		ts := pollServer(t, &calls, `{"status":"ERROR"}`)
		defer ts.Close()

		c := newTestClient(testConfig(ts.URL), nil)
		_, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		assert.ErrorIs(t, err, ErrNoUsageData)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("Unknown status in strict mode", func(t *testing.T) {
		var calls int32
		ts := pollServer(t, &calls, `{"status":"ERROR"}`)
		defer ts.Close()

		cfg := testConfig(ts.URL)
		cfg.StrictPollStatus = true
		c := newTestClient(cfg, nil)
		_, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))

		var statusErr *PollStatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, "ERROR", statusErr.Status)
		assert.Equal(t, 1, statusErr.Attempt)
	})

	t.Run("Complete without electric data", func(t *testing.T) {
		var calls int32
		ts := pollServer(t, &calls, `{"status":"COMPLETE","data":{"ELECTRIC":[]}}`)
		defer ts.Close()

		c := newTestClient(testConfig(ts.URL), nil)
		_, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		assert.ErrorIs(t, err, ErrNoUsageData)
	})

	t.Run("Complete without series", func(t *testing.T) {
		var calls int32
		ts := pollServer(t, &calls, `{"status":"COMPLETE","data":{"ELECTRIC":[{"meterNumber":"1"}]}}`)
		defer ts.Close()

		c := newTestClient(testConfig(ts.URL), nil)
		_, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		assert.ErrorIs(t, err, ErrSeriesNotFound)
	})

	t.Run("Rejected session", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "expired", http.StatusUnauthorized)
		}))
		defer ts.Close()

		c := newTestClient(testConfig(ts.URL), nil)
		_, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("Server error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer ts.Close()

		c := newTestClient(testConfig(ts.URL), nil)
		_, err := c.FetchDailyUsage(context.Background(), tokenSession(t, c))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("Cancelled while waiting", func(t *testing.T) {
		var calls int32
		ts := pollServer(t, &calls, `{"status":"PENDING"}`)
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		c := newTestClient(testConfig(ts.URL), nil)
		session := tokenSession(t, c)
		c.wait = func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleepContext(ctx, d)
		}

		_, err := c.FetchDailyUsage(ctx, session)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestWithBearer(t *testing.T) {
	assert.Equal(t, "Bearer abc", withBearer("abc"))
	assert.Equal(t, "Bearer abc", withBearer("Bearer abc"))
	assert.Equal(t, "BEARER abc", withBearer("BEARER abc"))
}
