package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jgoulah/bwusage/internal/config"
)

const (
	browserUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	usernameSelector  = `input[name="username"]`
	passwordSelector  = `input[name="password"]`
	browserLoginGrace = 3 * time.Second
)

// BrowserFetcher logs in with a headless browser, for portals whose login
// needs JavaScript, then fetches the usage page over plain HTTP with the
// session cookies the browser ended up with.
type BrowserFetcher struct {
	cfg     config.PortalConfig
	timeout time.Duration

	// Visible shows the browser window, for debugging a failing login
	Visible bool
}

// NewBrowserFetcher creates a browser-login fetcher
func NewBrowserFetcher(cfg config.PortalConfig, timeout time.Duration) *BrowserFetcher {
	return &BrowserFetcher{cfg: cfg, timeout: timeout}
}

// Login implements Authenticator
func (f *BrowserFetcher) Login(ctx context.Context) error {
	_, err := f.sessionCookies(ctx)
	return err
}

// Fetch implements Fetcher
func (f *BrowserFetcher) Fetch(ctx context.Context) ([]byte, error) {
	cookies, err := f.sessionCookies(ctx)
	if err != nil {
		return nil, err
	}

	usageURL, err := url.Parse(f.cfg.UsageURL)
	if err != nil {
		return nil, fmt.Errorf("parsing usage_url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	jar.SetCookies(usageURL, cookies)

	client := &http.Client{Jar: jar, Timeout: f.timeout}
	return getPage(ctx, client, f.cfg.UsageURL)
}

func (f *BrowserFetcher) sessionCookies(ctx context.Context) ([]*http.Cookie, error) {
	if f.cfg.Username == "" || f.cfg.Password == "" {
		return nil, fmt.Errorf("browser login needs username and password")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !f.Visible),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("ignore-certificate-errors", f.cfg.Insecure),
		chromedp.UserAgent(browserUserAgent),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, 2*time.Minute)
	defer cancel()

	if err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(f.cfg.LoginURL),
		chromedp.WaitVisible(usernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(usernameSelector, f.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, f.cfg.Password, chromedp.ByQuery),
		chromedp.Submit(passwordSelector, chromedp.ByQuery),
		chromedp.Sleep(browserLoginGrace),
	); err != nil {
		return nil, fmt.Errorf("browser login failed: %w", err)
	}

	var browserCookies []*network.Cookie
	if err := chromedp.Run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			browserCookies, err = network.GetCookies().Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("getting cookies: %w", err)
	}

	if len(browserCookies) == 0 {
		return nil, &AuthError{Message: "browser login produced no session cookies"}
	}

	cookies := make([]*http.Cookie, 0, len(browserCookies))
	for _, c := range browserCookies {
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return cookies, nil
}
