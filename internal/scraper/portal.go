package scraper

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/jgoulah/bwusage/internal/config"
)

// AuthError represents an authentication failure
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Fetcher retrieves the raw usage payload from the portal. It owns the
// login/session; any failure is reported as an error.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Authenticator is implemented by fetchers that can verify credentials alone
type Authenticator interface {
	Login(ctx context.Context) error
}

// NewFetcher builds the fetcher for cfg.Portal.Mode
func NewFetcher(cfg *config.Config) (Fetcher, error) {
	p := cfg.Portal
	if p.LoginURL == "" || p.UsageURL == "" {
		return nil, fmt.Errorf("portal login_url and usage_url are required")
	}

	switch cfg.GetPortalMode() {
	case "api":
		return NewAPIFetcher(p, cfg.GetPortalTimeout()), nil
	case "form":
		return NewFormFetcher(p, cfg.GetPortalTimeout()), nil
	case "browser":
		return NewBrowserFetcher(p, cfg.GetPortalTimeout()), nil
	default:
		return nil, fmt.Errorf("unknown portal mode: %s (available: api, form, browser)", p.Mode)
	}
}

// APIFetcher talks to the JSON portal: login for a bearer token, then POST
// for the usage document.
type APIFetcher struct {
	cfg    config.PortalConfig
	client *http.Client
}

// NewAPIFetcher creates a fetcher for the JSON portal
func NewAPIFetcher(cfg config.PortalConfig, timeout time.Duration) *APIFetcher {
	return &APIFetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	BUID     string `json:"bu_id"`
}

type usageRequest struct {
	AccountUserID string `json:"account_user_id"`
	Case          string `json:"case"`
	BUID          string `json:"bu_id"`
	MAC           string `json:"mac"`
}

// Login implements Authenticator
func (f *APIFetcher) Login(ctx context.Context) error {
	_, err := f.token(ctx)
	return err
}

func (f *APIFetcher) token(ctx context.Context) (string, error) {
	body, err := f.post(ctx, f.cfg.LoginURL, "", loginRequest{
		Username: f.cfg.Username,
		Password: f.cfg.Password,
		BUID:     f.cfg.BUID,
	})
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing login response: %w", err)
	}
	if resp.Token == "" {
		return "", &AuthError{StatusCode: http.StatusOK, Message: "login response did not contain a token"}
	}
	return resp.Token, nil
}

// Fetch implements Fetcher
func (f *APIFetcher) Fetch(ctx context.Context) ([]byte, error) {
	token, err := f.token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := f.post(ctx, f.cfg.UsageURL, token, usageRequest{
		AccountUserID: f.cfg.Username,
		Case:          f.cfg.Case,
		BUID:          f.cfg.BUID,
		MAC:           f.cfg.MAC,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching usage: %w", err)
	}
	return body, nil
}

func (f *APIFetcher) post(ctx context.Context, target, token string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "text/plain")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	return readResponse(resp)
}

// FormFetcher talks to the legacy portal: a form login that sets a session
// cookie, then a GET of the usage page.
type FormFetcher struct {
	cfg     config.PortalConfig
	timeout time.Duration
}

// NewFormFetcher creates a fetcher for the legacy form portal
func NewFormFetcher(cfg config.PortalConfig, timeout time.Duration) *FormFetcher {
	return &FormFetcher{cfg: cfg, timeout: timeout}
}

// newClient returns a client with a fresh cookie jar so sessions never leak
// between gather cycles
func (f *FormFetcher) newClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if f.cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // legacy portal uses a self-signed cert
	}

	return &http.Client{Jar: jar, Transport: transport, Timeout: f.timeout}, nil
}

func (f *FormFetcher) login(ctx context.Context, client *http.Client) error {
	form := url.Values{}
	form.Set("username", f.cfg.Username)
	form.Set("password", f.cfg.Password)
	form.Set("command", "login")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("login request error: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unable to login (status %d)", resp.StatusCode),
		}
	}
	return nil
}

// Login implements Authenticator
func (f *FormFetcher) Login(ctx context.Context) error {
	client, err := f.newClient()
	if err != nil {
		return err
	}
	return f.login(ctx, client)
}

// Fetch implements Fetcher
func (f *FormFetcher) Fetch(ctx context.Context) ([]byte, error) {
	client, err := f.newClient()
	if err != nil {
		return nil, err
	}
	if err := f.login(ctx, client); err != nil {
		return nil, err
	}
	return getPage(ctx, client, f.cfg.UsageURL)
}

func getPage(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating usage request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request error: %w", err)
	}
	defer resp.Body.Close()

	return readResponse(resp)
}

func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("authentication failed (status %d): %s", resp.StatusCode, string(body)),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("portal returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
