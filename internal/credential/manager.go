package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrExchangeFailed indicates the token-exchange endpoint rejected the refresh
// token or returned an empty access token. Fatal for the current request,
// retryable on the next call.
var ErrExchangeFailed = errors.New("credential exchange failed")

const (
	// clientID is the public OAuth client id for the device flow. Installed
	// applications embed these; they are not secrets.
	clientID    = "Iv1.b507a08c87ecfe98"
	deviceScope = "read:user"
	deviceGrant = "urn:ietf:params:oauth:grant-type:device_code"

	deviceFlowUserAgent = "GitHubCopilotChat/0.35.0"

	authCallTimeout     = 30 * time.Second
	defaultPollInterval = 5 * time.Second
)

// DefaultHeaders are required by the proxy on every completion request and on
// the token exchange.
var DefaultHeaders = map[string]string{
	"User-Agent":             "GitHubCopilotChat/0.32.4",
	"Editor-Version":         "vscode/1.105.1",
	"Editor-Plugin-Version":  "copilot-chat/0.32.4",
	"Copilot-Integration-Id": "vscode-chat",
}

// Manager owns the device-flow credential: it drives device authorization,
// exchanges the refresh token for access tokens, and persists every mutation.
// Mutations run inside shared singleflight calls, so they stay serialized
// without any lock being held across a network call. The valid-token fast
// path reads the store directly and never waits on an in-flight flow.
type Manager struct {
	store            *Store
	enterpriseDomain string
	client           *http.Client
	group            singleflight.Group

	// injected for tests
	endpoints func(domain string) endpoints
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// NewManager creates a lifecycle manager. enterpriseDomain may be empty, in
// which case the public multi-tenant domain is used.
func NewManager(store *Store, enterpriseDomain string) *Manager {
	return &Manager{
		store:            store,
		enterpriseDomain: enterpriseDomain,
		client:           &http.Client{Timeout: authCallTimeout},
		endpoints:        endpointsFor,
		sleep:            sleepCtx,
		now:              time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// domain resolves the active domain. Computed per operation, never cached.
func (m *Manager) domain() string {
	if m.enterpriseDomain != "" {
		return normalizeDomain(m.enterpriseDomain)
	}
	return publicDomain
}

// CompletionBaseURL returns the proxy completion endpoint for the active
// domain.
func (m *Manager) CompletionBaseURL() string {
	return completionBaseURL(m.domain(), m.enterpriseDomain != "")
}

// EnsureCredential returns the stored credential record, running device
// authorization first when no usable record exists. Device authorization is
// operator-paced: the verification URL and user code are logged at warning
// level and the call blocks, polling at the server-dictated interval, until
// the operator completes the browser step or ctx is cancelled. Concurrent
// callers join one in-flight authorization instead of spawning their own.
func (m *Manager) EnsureCredential(ctx context.Context) (*Record, error) {
	existing, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Refresh != "" {
		return existing, nil
	}

	v, err := m.shared(ctx, "device-flow", func() (any, error) {
		rec, err := m.store.Load()
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.Refresh != "" {
			return rec, nil
		}
		return m.runDeviceFlow(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// AccessToken returns a currently-valid access token, exchanging the refresh
// token first when the stored one is absent or expired. The common case, a
// stored unexpired token, makes no network call and takes no lock, so it can
// never block behind an in-flight device authorization or exchange.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	rec, err := m.store.Load()
	if err != nil {
		return "", err
	}
	if usable(rec, m.now()) {
		return rec.Access, nil
	}

	v, err := m.shared(ctx, "exchange", func() (any, error) {
		rec, err := m.EnsureCredential(ctx)
		if err != nil {
			return nil, err
		}
		// an overlapping flight may have refreshed the token already
		if usable(rec, m.now()) {
			return rec.Access, nil
		}
		return m.exchange(ctx, rec)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func usable(rec *Record, now time.Time) bool {
	return rec != nil && rec.Access != "" && rec.Expires > now.UnixMilli()
}

// shared funnels concurrent callers through one in-flight call per key while
// keeping every waiter individually cancellable. Store writes happen only
// inside these flights, which serializes mutations without a lock being held
// across a suspension point.
func (m *Manager) shared(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	ch := m.group.DoChan(key, fn)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	}
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Interval        int    `json:"interval"`
}

type pollResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
}

type exchangeResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (m *Manager) runDeviceFlow(ctx context.Context) (*Record, error) {
	ep := m.endpoints(m.domain())

	dc, err := m.requestDeviceCode(ctx, ep)
	if err != nil {
		return nil, err
	}

	// Surfaced in logs on purpose: an operator has to open the URL and enter
	// the code before polling can ever succeed.
	logrus.Warn("device-flow login required")
	logrus.Warnf("open: %s", dc.VerificationURI)
	logrus.Warnf("enter code: %s", dc.UserCode)

	interval := defaultPollInterval
	if dc.Interval > 0 {
		interval = time.Duration(dc.Interval) * time.Second
	}

	refresh, err := m.pollForToken(ctx, ep, dc.DeviceCode, interval)
	if err != nil {
		return nil, err
	}

	rec := &Record{Refresh: refresh}
	if m.enterpriseDomain != "" {
		rec.EnterpriseURL = m.domain()
	}
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *Manager) requestDeviceCode(ctx context.Context, ep endpoints) (*deviceCodeResponse, error) {
	body, err := m.postJSON(ctx, ep.deviceCode, map[string]string{
		"client_id": clientID,
		"scope":     deviceScope,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate device authorization: %w", err)
	}

	var dc deviceCodeResponse
	if err := json.Unmarshal(body, &dc); err != nil {
		return nil, fmt.Errorf("decode device code response: %w", err)
	}
	if dc.DeviceCode == "" {
		return nil, errors.New("device authorization response missing device_code")
	}
	return &dc, nil
}

// pollForToken polls the token endpoint until the operator approves, an
// unexpected error code arrives, or ctx is cancelled. There is deliberately
// no bounded timeout here.
func (m *Manager) pollForToken(ctx context.Context, ep endpoints, deviceCode string, interval time.Duration) (string, error) {
	for {
		body, err := m.postJSON(ctx, ep.accessToken, map[string]string{
			"client_id":   clientID,
			"device_code": deviceCode,
			"grant_type":  deviceGrant,
		})
		if err != nil {
			return "", fmt.Errorf("device flow polling: %w", err)
		}

		var pr pollResponse
		if err := json.Unmarshal(body, &pr); err != nil {
			return "", fmt.Errorf("decode polling response: %w", err)
		}

		switch {
		case pr.AccessToken != "":
			return pr.AccessToken, nil
		case pr.Error == "" || pr.Error == "authorization_pending":
			if err := m.sleep(ctx, interval); err != nil {
				return "", err
			}
		default:
			return "", fmt.Errorf("device flow failed: %s", pr.Error)
		}
	}
}

// exchange trades the refresh token for a fresh access token, persists the
// updated record, and returns the token. Runs only inside the exchange flight.
func (m *Manager) exchange(ctx context.Context, rec *Record) (string, error) {
	ep := m.endpoints(m.domain())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.tokenExchange, nil)
	if err != nil {
		return "", fmt.Errorf("construct token exchange request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+rec.Refresh)
	for k, v := range DefaultHeaders {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrExchangeFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrExchangeFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ex exchangeResponse
	if err := json.Unmarshal(body, &ex); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrExchangeFailed, err)
	}
	if ex.Token == "" {
		return "", fmt.Errorf("%w: exchange returned empty token", ErrExchangeFailed)
	}

	rec.Access = ex.Token
	rec.Expires = ex.ExpiresAt * 1000
	if m.enterpriseDomain != "" {
		rec.EnterpriseURL = m.domain()
	}
	if err := m.store.Save(rec); err != nil {
		return "", err
	}
	return rec.Access, nil
}

func (m *Manager) postJSON(ctx context.Context, url string, payload map[string]string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", deviceFlowUserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
