package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Cookies a logged-in 115 session must carry
var requiredP115Cookies = []string{"UID", "CID", "SEID"}

// P115Client holds an authenticated 115 session
type P115Client struct {
	baseURL    string
	userAgent  string
	userID     string
	cookies    []*http.Cookie
	httpClient *http.Client
}

// P115Option customizes a P115Client
type P115Option func(*P115Client)

// WithBaseURL points the client at another upload host, e.g. a signing proxy
func WithBaseURL(baseURL string) P115Option {
	return func(c *P115Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) P115Option {
	return func(c *P115Client) { c.httpClient = hc }
}

// WithTimeout bounds every request; zero means no timeout
func WithTimeout(d time.Duration) P115Option {
	return func(c *P115Client) { c.httpClient.Timeout = d }
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) P115Option {
	return func(c *P115Client) { c.userAgent = ua }
}

// NewP115Client parses a cookie header string ("UID=...; CID=...; SEID=...")
// and fails when the session cookies are missing.
func NewP115Client(cookieHeader string, opts ...P115Option) (*P115Client, error) {
	cookies, err := parseCookieHeader(cookieHeader)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(cookies))
	for _, ck := range cookies {
		values[ck.Name] = ck.Value
	}
	var missing []string
	for _, name := range requiredP115Cookies {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("invalid 115 cookies: missing %s", strings.Join(missing, ", "))
	}

	// UID looks like "<user id>_<suffix>"
	userID, _, _ := strings.Cut(values["UID"], "_")

	c := &P115Client{
		baseURL:    "https://uplb.115.com",
		userAgent:  "ptto115",
		userID:     userID,
		cookies:    cookies,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UserID returns the numeric account id taken from the UID cookie
func (c *P115Client) UserID() string {
	return c.userID
}

// postForm sends a form to path and decodes the JSON answer into out
func (c *P115Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseCookieHeader(header string) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid 115 cookies: malformed pair %q", part)
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("invalid 115 cookies: empty")
	}
	return cookies, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
