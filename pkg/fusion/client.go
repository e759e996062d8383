package fusion

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/fusionsolar/pkg/common"
	"github.com/raterudder/fusionsolar/pkg/types"
)

const csrfHeader = "roarand"

// Client talks to the FusionSolar end-customer portal. It owns the portal
// session (cookies, CSRF token, company id) and logs in again by itself
// whenever the portal stops accepting it.
type Client struct {
	client  *http.Client
	baseURL string
	creds   types.Credentials
	jar     *sessionJar
	metrics *metrics

	// mu guards everything below and is held for the whole login sequence
	mu          sync.Mutex
	companyID   string
	csrfToken   string
	refreshedAt time.Time
	// epoch counts reconfiguration attempts and lastErr is the outcome of the
	// latest one
	epoch   uint64
	lastErr error

	state atomic.Int32
}

// New returns a client for the given credentials. Every request made by the
// client is bounded by timeout.
func New(creds types.Credentials, timeout time.Duration) *Client {
	c := &Client{}
	c.init(creds, timeout)
	return c
}

func (c *Client) init(creds types.Credentials, timeout time.Duration) {
	c.creds = creds
	c.jar = newSessionJar()
	c.client = common.HTTPClient(timeout, c.jar)
	c.baseURL = "https://" + creds.Host()
	c.metrics = newMetrics()
}

// Configured registers the portal flags and returns a client that is usable
// once lflag.Configure has been called.
func Configured() *Client {
	username := lflag.RequiredString("fusion-username", "FusionSolar portal username")
	password := lflag.RequiredString("fusion-password", "FusionSolar portal password")
	subdomain := lflag.RequiredString("fusion-subdomain", "FusionSolar region subdomain (e.g. region01eu5) or full portal host")
	timeout := lflag.Duration("fusion-timeout", 30*time.Second, "Timeout for every request made to the portal")

	c := &Client{}
	lflag.Do(func() {
		c.init(types.Credentials{
			Username:  *username,
			Password:  *password,
			Subdomain: *subdomain,
		}, *timeout)
	})
	return c
}

// Credentials returns the credentials the client was created with.
func (c *Client) Credentials() types.Credentials {
	return c.creds
}

func (c *Client) endpointURL(endpoint string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()
	return u, nil
}

func (c *Client) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := c.endpointURL(endpoint, params)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

func (c *Client) newPostJSONRequest(ctx context.Context, endpoint string, params url.Values, data interface{}) (*http.Request, error) {
	u, err := c.endpointURL(endpoint, params)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// cacheBuster is the "_" parameter the portal's web UI adds to every GET.
func cacheBuster() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
