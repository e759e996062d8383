package fusion

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/raterudder/fusionsolar/pkg/log"
)

const (
	pubKeyPath    = "unisso/pubkey"
	loginV3Path   = "unisso/v3/validateUser.action"
	loginV2Path   = "unisso/v2/validateUser.action"
	keepAlivePath = "rest/dpcloud/auth/v1/keep-alive"
	companyPath   = "rest/neteco/web/organization/v2/company/current"
	csrfPath      = "unisess/v1/auth/session"

	// the login answered but wants us to visit another region first
	redirectRequiredCode = "470"

	// what company/current answers when the account lives on another subdomain
	badSubdomainException = "bad status"
)

type loginRequest struct {
	OrganizationName string `json:"organizationName"`
	Username         string `json:"username"`
	Password         string `json:"password"`
}

type loginResult struct {
	ErrorCode           flexString `json:"errorCode"`
	ErrorMsg            string     `json:"errorMsg"`
	RespMultiRegionName []string   `json:"respMultiRegionName"`
}

type keepAliveResult struct {
	Code    int     `json:"code"`
	Payload *string `json:"payload"`
}

type companyResult struct {
	Data *struct {
		MoDn string `json:"moDn"`
		Name string `json:"name"`
	} `json:"data"`
	ExceptionID string `json:"exceptionId"`
}

type csrfResult struct {
	CSRFToken string `json:"csrfToken"`
}

func (c *Client) getPublicKey(ctx context.Context) (publicKey, error) {
	req, err := c.newGetRequest(ctx, pubKeyPath, nil)
	if err != nil {
		return publicKey{}, err
	}
	var key publicKey
	if _, err := c.roundTrip(req, &key); err != nil {
		return publicKey{}, fmt.Errorf("failed to fetch public key: %w", err)
	}
	return key, nil
}

func newNonce() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// login performs the SSO handshake. On success the session cookies are in the
// jar but there is no CSRF token yet.
func (c *Client) login(ctx context.Context) error {
	if c.creds.Username == "" {
		return fmt.Errorf("%w: missing username", ErrConfiguration)
	}
	if c.creds.Password == "" {
		return fmt.Errorf("%w: missing password", ErrConfiguration)
	}

	key, err := c.getPublicKey(ctx)
	if err != nil {
		return err
	}
	password, err := encryptPassword(key, c.creds.Password)
	if err != nil {
		return err
	}

	endpoint := loginV3Path
	params := url.Values{}
	if key.encrypted() {
		params.Set("timeStamp", string(key.TimeStamp))
		params.Set("nonce", newNonce())
	} else {
		endpoint = loginV2Path
		params.Set("decision", "1")
		params.Set("service", c.baseURL+"/unisess/v1/auth?service=/netecowebext/home/index.html")
	}

	req, err := c.newPostJSONRequest(ctx, endpoint, params, loginRequest{
		Username: c.creds.Username,
		Password: password,
	})
	if err != nil {
		return err
	}

	var res loginResult
	if _, err := c.roundTrip(req, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "fusionsolar login failed", slog.Any("error", err))
		return fmt.Errorf("login failed: %w", err)
	}

	if string(res.ErrorCode) == redirectRequiredCode {
		if err := c.followLoginRedirect(ctx, res.RespMultiRegionName); err != nil {
			return err
		}
	}
	if res.ErrorMsg != "" {
		log.Ctx(ctx).ErrorContext(ctx, "fusionsolar rejected login", slog.String("errorCode", string(res.ErrorCode)), slog.String("message", res.ErrorMsg))
		return fmt.Errorf("%w: %s", ErrAuthentication, res.ErrorMsg)
	}

	c.metrics.logins.Inc()
	log.Ctx(ctx).DebugContext(ctx, "fusionsolar login success", slog.String("username", c.creds.Username), slog.Bool("encrypted", key.encrypted()))
	return nil
}

// followLoginRedirect visits the region path handed back with error code 470.
// This happens exactly once per login.
func (c *Client) followLoginRedirect(ctx context.Context, regions []string) error {
	if len(regions) < 2 || regions[1] == "" {
		return fmt.Errorf("%w: login asked for a redirect but sent no target", ErrAuthentication)
	}
	target, err := url.Parse(regions[1])
	if err != nil {
		return fmt.Errorf("%w: invalid login redirect target %q: %w", ErrAuthentication, regions[1], err)
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}

	u := base.ResolveReference(target)
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "following fusionsolar login redirect", slog.String("path", u.Path))
	if _, err := c.roundTrip(req, nil); err != nil {
		return fmt.Errorf("%w: login redirect failed: %w", ErrAuthentication, err)
	}
	return nil
}

// keepAlive refreshes the session and returns the token the portal expects
// in the CSRF header.
func (c *Client) keepAlive(ctx context.Context, token string) (string, error) {
	req, err := c.newGetRequest(ctx, keepAlivePath, nil)
	if err != nil {
		return "", err
	}
	if token != "" {
		req.Header.Set(csrfHeader, token)
	}

	var res keepAliveResult
	if _, err := c.roundTrip(req, &res); err != nil {
		return "", fmt.Errorf("keep-alive failed: %w", err)
	}
	if res.Code != 0 {
		log.Ctx(ctx).ErrorContext(ctx, "fusionsolar keep-alive rejected", slog.Int("code", res.Code))
		return "", fmt.Errorf("%w: keep-alive returned code %d", ErrAuthentication, res.Code)
	}
	if res.Payload == nil || *res.Payload == "" {
		return "", fmt.Errorf("%w: keep-alive returned no payload", ErrDataIntegrity)
	}
	return *res.Payload, nil
}

func (c *Client) getCompanyID(ctx context.Context, token string) (string, error) {
	params := url.Values{}
	params.Set("_", cacheBuster())
	req, err := c.newGetRequest(ctx, companyPath, params)
	if err != nil {
		return "", err
	}
	req.Header.Set(csrfHeader, token)

	var res companyResult
	_, err = c.roundTrip(req, &res)
	if res.ExceptionID == badSubdomainException {
		log.Ctx(ctx).ErrorContext(ctx, "fusionsolar account not found on subdomain", slog.String("host", c.creds.Host()))
		return "", fmt.Errorf("%w: portal answered %q, check the configured subdomain %q", ErrAuthentication, res.ExceptionID, c.creds.Subdomain)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch company: %w", err)
	}
	if res.Data == nil || res.Data.MoDn == "" {
		return "", fmt.Errorf("%w: company response has no moDn", ErrDataIntegrity)
	}
	return res.Data.MoDn, nil
}

func (c *Client) getCSRFToken(ctx context.Context, token string) (string, error) {
	req, err := c.newGetRequest(ctx, csrfPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(csrfHeader, token)

	var res csrfResult
	if _, err := c.roundTrip(req, &res); err != nil {
		return "", err
	}
	if res.CSRFToken == "" {
		return "", fmt.Errorf("%w: csrf response has no token", ErrDataIntegrity)
	}
	return res.CSRFToken, nil
}

// configureSession runs the full handshake and returns the company id and
// CSRF token of the new session.
func (c *Client) configureSession(ctx context.Context) (string, string, error) {
	if err := c.login(ctx); err != nil {
		return "", "", err
	}

	token, err := c.keepAlive(ctx, "")
	if err != nil {
		return "", "", err
	}

	companyID, err := c.getCompanyID(ctx, token)
	if err != nil {
		return "", "", err
	}

	// Assumed equivalent to the keep-alive token, which stays in use when the
	// dedicated endpoint fails. Not verified against every endpoint.
	if csrf, err := c.getCSRFToken(ctx, token); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch csrf token, using keep-alive token", slog.Any("error", err))
	} else {
		token = csrf
	}

	return companyID, token, nil
}

// reconfigure logs in again unless another caller already did so since
// observed was read, in which case that attempt's outcome is returned.
func (c *Client) reconfigure(ctx context.Context, observed uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != observed {
		return c.lastErr
	}

	c.state.Store(int32(StateAuthenticating))
	log.Ctx(ctx).DebugContext(ctx, "configuring fusionsolar session", slog.Uint64("epoch", c.epoch))

	companyID, token, err := c.configureSession(ctx)
	c.epoch++
	c.lastErr = err
	if err != nil {
		c.metrics.reconfigurations.WithLabelValues("error").Inc()
		c.companyID = ""
		c.csrfToken = ""
		c.state.Store(int32(StateUnauthenticated))
		return err
	}

	c.metrics.reconfigurations.WithLabelValues("ok").Inc()
	c.companyID = companyID
	c.csrfToken = token
	c.refreshedAt = time.Now()
	c.state.Store(int32(StateAuthenticated))
	log.Ctx(ctx).InfoContext(ctx, "fusionsolar session configured", slog.String("companyID", companyID))
	return nil
}

// Login forces a new session regardless of the current one.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	return c.reconfigure(ctx, epoch)
}

// KeepAlive refreshes the current session and its CSRF token.
func (c *Client) KeepAlive(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.csrfToken == "" {
		return fmt.Errorf("%w: no session to keep alive", ErrAuthentication)
	}
	token, err := c.keepAlive(ctx, c.csrfToken)
	if err != nil {
		return err
	}
	c.csrfToken = token
	c.refreshedAt = time.Now()
	return nil
}

// RefreshedAt returns when the session was last established or refreshed.
func (c *Client) RefreshedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshedAt
}
