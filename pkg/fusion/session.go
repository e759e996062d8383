package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/types"
	"golang.org/x/net/publicsuffix"
)

// State is where the client is in the login lifecycle.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type cookieKey struct {
	name   string
	domain string
	path   string
}

// sessionJar is a cookie jar that also remembers the full attributes of every
// cookie it accepted. The stdlib jar only hands back name and value, which is
// not enough to persist a session.
type sessionJar struct {
	jar *cookiejar.Jar
	now func() time.Time

	mu      sync.Mutex
	cookies map[cookieKey]http.Cookie
}

func newSessionJar() *sessionJar {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		panic(fmt.Errorf("failed to create cookie jar: %w", err))
	}
	return &sessionJar{
		jar:     jar,
		now:     time.Now,
		cookies: make(map[cookieKey]http.Cookie),
	}
}

// SetCookies implements http.CookieJar.
func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	host := strings.ToLower(u.Hostname())
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		rc := *c
		rc.Domain = strings.TrimPrefix(strings.ToLower(rc.Domain), ".")
		if rc.Domain == "" {
			rc.Domain = host
		} else if rc.Domain != host && !strings.HasSuffix(host, "."+rc.Domain) {
			// the underlying jar rejects these too
			continue
		}
		if rc.Path == "" || rc.Path[0] != '/' {
			rc.Path = defaultCookiePath(u.Path)
		}

		key := cookieKey{name: rc.Name, domain: rc.Domain, path: rc.Path}
		if rc.MaxAge < 0 || (!rc.Expires.IsZero() && !rc.Expires.After(now)) {
			delete(j.cookies, key)
			continue
		}
		if rc.MaxAge > 0 {
			rc.Expires = now.Add(time.Duration(rc.MaxAge) * time.Second)
			rc.MaxAge = 0
		}
		rc.Raw = ""
		rc.RawExpires = ""
		rc.Unparsed = nil
		j.cookies[key] = rc
	}
}

// Cookies implements http.CookieJar.
func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// export returns every unexpired cookie sorted by domain, path and name.
func (j *sessionJar) export() []types.SessionCookie {
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]types.SessionCookie, 0, len(j.cookies))
	for key, c := range j.cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			delete(j.cookies, key)
			continue
		}
		sc := types.SessionCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if !c.Expires.IsZero() {
			exp := c.Expires.Unix()
			sc.Expires = &exp
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		if out[a].Path != out[b].Path {
			return out[a].Path < out[b].Path
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// restore puts persisted cookies back into the jar. Each cookie is set
// against its own domain and path rather than the portal base URL so
// cookies from the SSO host land where they came from.
func (j *sessionJar) restore(cookies []types.SessionCookie) {
	for _, sc := range cookies {
		if sc.Name == "" || sc.Domain == "" {
			continue
		}
		path := sc.Path
		if path == "" {
			path = "/"
		}
		scheme := "http"
		if sc.Secure {
			scheme = "https"
		}
		c := &http.Cookie{
			Name:     sc.Name,
			Value:    sc.Value,
			Domain:   sc.Domain,
			Path:     path,
			Secure:   sc.Secure,
			HttpOnly: sc.HTTPOnly,
		}
		if sc.Expires != nil {
			c.Expires = time.Unix(*sc.Expires, 0)
		}
		j.SetCookies(&url.URL{Scheme: scheme, Host: sc.Domain, Path: path}, []*http.Cookie{c})
	}
}

// defaultCookiePath implements the default-path algorithm of RFC 6265 5.1.4.
func defaultCookiePath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// Snapshot exports the current session so it can be persisted.
func (c *Client) Snapshot() types.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.SessionSnapshot{
		Cookies:   c.jar.export(),
		CompanyID: c.companyID,
		CSRFToken: c.csrfToken,
		Timestamp: time.Now().UTC(),
	}
}

// Restore loads a previously persisted session. The restored session is only
// trusted until the portal rejects it, at which point the client logs in
// again on its own.
func (c *Client) Restore(ctx context.Context, snap types.SessionSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jar.restore(snap.Cookies)

	// company and token are only meaningful together
	if snap.CompanyID != "" && snap.CSRFToken != "" {
		c.companyID = snap.CompanyID
		c.csrfToken = snap.CSRFToken
		c.refreshedAt = snap.Timestamp
		c.state.Store(int32(StateAuthenticated))
	} else {
		c.companyID = ""
		c.csrfToken = ""
		c.state.Store(int32(StateUnauthenticated))
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"restored fusionsolar session",
		slog.Int("cookies", len(snap.Cookies)),
		slog.Bool("hasToken", c.csrfToken != ""),
		slog.Time("capturedAt", snap.Timestamp),
	)
}

// State returns the current login state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// CompanyID returns the organization identifier of the logged in account.
func (c *Client) CompanyID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.companyID
}

// currentSession returns the token and reconfiguration epoch a request should
// be built with and whether a session was ever established.
func (c *Client) currentSession() (token string, epoch uint64, configured bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrfToken, c.epoch, c.companyID != "" && c.csrfToken != ""
}
