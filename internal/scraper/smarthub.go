package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/jgoulah/energybot/pkg/models"
)

const (
	acceptJSON = "application/json, text/plain, */*"

	usernameHeader = "x-nisc-smarthub-username"

	pollStatusPending  = "PENDING"
	pollStatusComplete = "COMPLETE"

	defaultPollAttempts = 10
	defaultPollInterval = 5 * time.Second
	usageWindow         = 30 * 24 * time.Hour
)

// tokenFields lists the login response keys that may carry the bearer token,
// most specific first.
var tokenFields = []string{
	"authorizationToken",
	"token",
	"access_token",
	"authorization",
	"accessToken",
	"jwt",
}

// SmartHubConfig holds everything needed to talk to a SmartHub portal
type SmartHubConfig struct {
	BaseURL  string // e.g. "https://holston.smarthub.coop"
	LoginURL string
	PollURL  string

	Email    string
	Password string
	Token    string // Pre-issued token, skips the login flow when set

	ServiceLocation string
	AccountNumber   string

	PollAttempts     int
	PollInterval     time.Duration
	StrictPollStatus bool // Treat unknown poll statuses as errors instead of stopping
	Timeout          time.Duration
}

// AuthMethod records how a session was established
type AuthMethod string

const (
	AuthMethodToken  AuthMethod = "token"  // pre-issued token from config
	AuthMethodBearer AuthMethod = "bearer" // token returned by the login endpoint
	AuthMethodCookie AuthMethod = "cookie" // portal session cookie only
)

// Session is an authenticated SmartHub context. It is created by
// Authenticate and lives only as long as the run.
type Session struct {
	Method AuthMethod

	header http.Header
	client *http.Client
}

// Header returns a copy of the headers sent with every authenticated request
func (s *Session) Header() http.Header {
	if s == nil {
		return http.Header{}
	}
	return s.header.Clone()
}

func (s *Session) established() bool {
	if s == nil || s.client == nil {
		return false
	}
	return s.header.Get("Authorization") != "" || s.Method == AuthMethodCookie
}

// PollRequest is the body submitted to the usage report endpoint
type PollRequest struct {
	TimeFrame             string   `json:"timeFrame"`
	UserID                string   `json:"userId"`
	Screen                string   `json:"screen"`
	IncludeDemand         bool     `json:"includeDemand"`
	ServiceLocationNumber string   `json:"serviceLocationNumber"`
	AccountNumber         string   `json:"accountNumber"`
	Industries            []string `json:"industries"`
	StartDateTime         int64    `json:"startDateTime"`
	EndDateTime           int64    `json:"endDateTime"`
}

// SmartHubClient logs in to a SmartHub portal and retrieves daily usage
type SmartHubClient struct {
	cfg       SmartHubConfig
	logger    *slog.Logger
	transport http.RoundTripper
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error
}

// NewSmartHubClient creates a new SmartHub client
func NewSmartHubClient(cfg SmartHubConfig, logger *slog.Logger) *SmartHubClient {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &SmartHubClient{
		cfg:    cfg,
		logger: logger.With(slog.String("module", "smarthub")),
		now:    time.Now,
		wait:   sleepContext,
	}
}

// Authenticate establishes a session. A configured token is attached as-is
// without any network traffic; otherwise the portal's login flow is run.
func (c *SmartHubClient) Authenticate(ctx context.Context) (*Session, error) {
	if c.cfg.Token != "" {
		c.logger.Info("using configured SmartHub token, skipping login")
		return c.newSession(AuthMethodToken, nil, withBearer(c.cfg.Token), ""), nil
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &AuthError{Message: "creating cookie jar", Err: err}
	}
	client := c.httpClient(jar)

	c.logger.Info("logging in to SmartHub", slog.String("url", c.cfg.LoginURL))

	// Loading the login page sets the portal cookies
	if err := c.visit(ctx, client, c.cfg.LoginURL); err != nil {
		return nil, &AuthError{Message: "loading login page", Err: err}
	}

	twoFactorURL := fmt.Sprintf("%s/services/two-factor?%s", c.cfg.BaseURL, url.Values{
		"userId":  {c.cfg.Email},
		"isLogin": {"true"},
	}.Encode())
	if err := c.visit(ctx, client, twoFactorURL); err != nil {
		c.logger.Debug("two-factor check failed", slog.Any("error", err))
	}

	resp, body, err := c.postLogin(ctx, client)
	if err != nil {
		return nil, &AuthError{Message: "posting credentials", Err: err}
	}

	var status string
	if resp.StatusCode == http.StatusOK {
		data, err := ParseNode(body)
		if err != nil {
			return nil, &AuthError{StatusCode: resp.StatusCode, Message: "decoding login response", Err: err}
		}
		c.logger.Debug("login response", slog.Any("keys", data.Keys()))

		status, _ = data.StringField("status")
		switch status {
		case "SUCCESS":
			token, source, ok := data.FirstStringField(tokenFields...)
			if !ok {
				token, source = resp.Header.Get("Authorization"), "Authorization header"
			}

			if token != "" {
				c.logger.Info("login successful", slog.String("token_source", source))
				return c.newSession(AuthMethodBearer, jar, withBearer(token), c.cfg.Email), nil
			}

			c.logger.Warn("login succeeded but no token found, using cookie session",
				slog.Any("keys", data.Keys()))
			return c.newSession(AuthMethodCookie, jar, "", c.cfg.Email), nil

		case "FAILURE":
			return nil, &AuthError{
				StatusCode: resp.StatusCode,
				Status:     status,
				Message:    "invalid credentials or account issue",
			}

		default:
			c.logger.Warn("unexpected login status", slog.String("status", status))
		}
	} else {
		c.logger.Warn("login request failed",
			slog.Int("status_code", resp.StatusCode),
			slog.String("body", preview(body)))
	}

	if c.hasSessionCookie(jar) {
		c.logger.Info("session cookie found, proceeding with cookie-based auth")
		return c.newSession(AuthMethodCookie, jar, "", ""), nil
	}

	return nil, &AuthError{
		StatusCode: resp.StatusCode,
		Status:     status,
		Message:    "could not retrieve authentication token or session",
	}
}

// FetchDailyUsage submits a 30-day daily usage report and polls until it is
// ready, then returns the most recent point of the electric meter series.
func (c *SmartHubClient) FetchDailyUsage(ctx context.Context, session *Session) (models.UsagePoint, error) {
	if !session.established() {
		return models.UsagePoint{}, ErrNotAuthenticated
	}

	c.logger.Info("polling for usage data")

	payload, err := json.Marshal(c.newPollRequest(c.now()))
	if err != nil {
		return models.UsagePoint{}, fmt.Errorf("encoding poll request: %w", err)
	}
	c.logger.Debug("poll payload", slog.String("payload", string(payload)))

	data, err := c.poll(ctx, session, payload)
	if err != nil {
		return models.UsagePoint{}, err
	}

	meter, err := electricMeter(data)
	if err != nil {
		c.logger.Debug("usage response has no electric meter", slog.Any("keys", data.Keys()))
		return models.UsagePoint{}, err
	}

	points, path, err := locateSeries(meter)
	if err != nil {
		keys := meter.Keys()
		if len(keys) > 20 {
			keys = keys[:20]
		}
		c.logger.Warn("could not find usage series", slog.Any("meter_keys", keys))
		return models.UsagePoint{}, err
	}
	c.logger.Debug("found usage series", slog.String("path", path), slog.Int("points", len(points)))

	latest, err := LatestPoint(points)
	if err != nil {
		return models.UsagePoint{}, err
	}

	c.logger.Info("retrieved usage",
		slog.Float64("kwh", latest.KWh),
		slog.Int64("timestamp", latest.Timestamp))
	return latest, nil
}

// poll resubmits the report request while the portal answers PENDING
func (c *SmartHubClient) poll(ctx context.Context, session *Session, payload []byte) (Node, error) {
	maxAttempts := c.cfg.PollAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, err := c.submitPoll(ctx, session, payload)
		if err != nil {
			return Node{}, fmt.Errorf("poll attempt %d: %w", attempt, err)
		}

		status, _ := data.StringField("status")
		switch {
		case status == pollStatusPending:
			c.logger.Debug("usage report pending",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", maxAttempts))
			if attempt < maxAttempts {
				if err := c.wait(ctx, c.cfg.PollInterval); err != nil {
					return Node{}, fmt.Errorf("waiting for usage report: %w", err)
				}
			}

		case status == pollStatusComplete || data.Has("data"):
			c.logger.Info("poll complete", slog.Int("attempts", attempt))
			return data, nil

		default:
			if c.cfg.StrictPollStatus {
				return Node{}, &PollStatusError{Status: status, Attempt: attempt}
			}
			c.logger.Warn("unexpected poll status", slog.String("status", status))
			return data, nil
		}
	}

	return Node{}, &PollTimeoutError{Attempts: maxAttempts}
}

func (c *SmartHubClient) submitPoll(ctx context.Context, session *Session, payload []byte) (Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PollURL, bytes.NewReader(payload))
	if err != nil {
		return Node{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header = session.Header()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptJSON)

	resp, err := session.client.Do(req)
	if err != nil {
		return Node{}, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Node{}, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Node{}, &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("usage endpoint rejected session: %s", preview(body)),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Node{}, fmt.Errorf("usage endpoint returned status %d: %s", resp.StatusCode, preview(body))
	}

	data, err := ParseNode(body)
	if err != nil {
		c.logger.Debug("undecodable poll response", slog.String("body", preview(body)))
		return Node{}, err
	}
	return data, nil
}

func (c *SmartHubClient) newPollRequest(now time.Time) PollRequest {
	return PollRequest{
		TimeFrame:             "DAILY",
		UserID:                c.cfg.Email,
		Screen:                "USAGE_EXPLORER",
		IncludeDemand:         false,
		ServiceLocationNumber: c.cfg.ServiceLocation,
		AccountNumber:         c.cfg.AccountNumber,
		Industries:            []string{"ELECTRIC"},
		StartDateTime:         now.Add(-usageWindow).UnixMilli(),
		EndDateTime:           now.UnixMilli(),
	}
}

func (c *SmartHubClient) postLogin(ctx context.Context, client *http.Client) (*http.Response, []byte, error) {
	form := url.Values{
		"userId":   {c.cfg.Email},
		"password": {c.cfg.Password},
	}

	authURL := c.cfg.BaseURL + "/services/oauth/auth/v2"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", acceptJSON)
	req.Header.Set("Origin", c.cfg.BaseURL)
	req.Header.Set("Referer", c.cfg.BaseURL+"/ui/")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp, body, nil
}

// visit performs a GET whose only purpose is its side effects (cookies)
func (c *SmartHubClient) visit(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHTML)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

func (c *SmartHubClient) hasSessionCookie(jar http.CookieJar) bool {
	for _, raw := range []string{c.cfg.BaseURL + "/", c.cfg.LoginURL} {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		for _, cookie := range jar.Cookies(u) {
			if cookie.Name == "JSESSIONID" || strings.Contains(strings.ToLower(cookie.Name), "session") {
				return true
			}
		}
	}
	return false
}

func (c *SmartHubClient) newSession(method AuthMethod, jar http.CookieJar, authorization, username string) *Session {
	if jar == nil {
		// cookiejar.New never fails with nil options
		jar, _ = cookiejar.New(nil)
	}

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	header.Set("Accept", acceptHTML)
	if authorization != "" {
		header.Set("Authorization", authorization)
	}
	if username != "" {
		header.Set(usernameHeader, username)
	}

	return &Session{
		Method: method,
		header: header,
		client: c.httpClient(jar),
	}
}

func (c *SmartHubClient) httpClient(jar http.CookieJar) *http.Client {
	return &http.Client{
		Timeout:   c.cfg.Timeout,
		Jar:       jar,
		Transport: c.transport,
	}
}

// electricMeter returns data.ELECTRIC[0]
func electricMeter(response Node) (Node, error) {
	data, ok := response.Get("data")
	if !ok {
		return Node{}, ErrNoUsageData
	}
	electric, ok := data.Get("ELECTRIC")
	if !ok {
		return Node{}, ErrNoUsageData
	}
	meter, ok := electric.Index(0)
	if !ok {
		return Node{}, ErrNoUsageData
	}
	return meter, nil
}

func withBearer(token string) string {
	if strings.HasPrefix(strings.ToLower(token), "bearer") {
		return token
	}
	return "Bearer " + token
}

func preview(body []byte) string {
	const max = 500
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
