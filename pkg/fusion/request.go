package fusion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raterudder/fusionsolar/pkg/log"
)

// the portal silently redirects requests without a valid session here
const loginPagePath = "/unisso/login"

type responseClass int

const (
	responseOK responseClass = iota
	responseAuthRequired
	responseFatal
)

func (r responseClass) String() string {
	switch r {
	case responseOK:
		return "ok"
	case responseAuthRequired:
		return "auth_required"
	default:
		return "error"
	}
}

// classifyResponse decides whether a response can be decoded, means the
// session is no longer valid, or is a plain failure.
func classifyResponse(resp *http.Response) responseClass {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return responseAuthRequired
	}
	if resp.Request != nil && strings.HasPrefix(resp.Request.URL.Path, loginPagePath) {
		return responseAuthRequired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseFatal
	}
	return responseOK
}

// roundTrip sends req without any session handling. The body of a successful
// response is decoded into dest, the body of a failed one is decoded on a
// best-effort basis.
func (c *Client) roundTrip(req *http.Request, dest interface{}) (responseClass, error) {
	ctx := req.Context()
	endpoint := req.URL.Path
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.observeRequest(endpoint, responseFatal, time.Since(start))
		log.Ctx(ctx).WarnContext(ctx, "fusionsolar request failed", slog.String("endpoint", endpoint), slog.Any("error", err))
		return responseFatal, fmt.Errorf("%w: %s: %w", ErrTransport, endpoint, err)
	}
	defer resp.Body.Close()

	class := classifyResponse(resp)
	c.metrics.observeRequest(endpoint, class, time.Since(start))
	if class == responseAuthRequired {
		log.Ctx(ctx).DebugContext(
			ctx,
			"fusionsolar session rejected",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("finalURL", resp.Request.URL.Path),
		)
		return class, fmt.Errorf("%w: %s requires a new session (status %d)", ErrAuthentication, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return responseFatal, fmt.Errorf("%w: %s: reading body: %w", ErrTransport, endpoint, err)
	}

	if class == responseFatal {
		// faults still carry an error description the caller may care about
		if dest != nil {
			_ = json.Unmarshal(body, dest)
		}
		log.Ctx(ctx).ErrorContext(ctx, "fusionsolar unexpected status", slog.String("endpoint", endpoint), slog.Int("status", resp.StatusCode))
		return class, fmt.Errorf("%w: %s: status %d", ErrTransport, endpoint, resp.StatusCode)
	}

	if dest == nil {
		return class, nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode fusionsolar response", slog.String("endpoint", endpoint), slog.Any("error", err), slog.String("body", string(body)))
		return responseFatal, fmt.Errorf("%w: %s: decoding body: %w", ErrTransport, endpoint, err)
	}
	return class, nil
}

// do performs an authenticated request. A first use of the client or a
// request the portal rejects for lack of a session triggers one session
// reconfiguration, after which the request is sent once more. Failing again
// is returned to the caller.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body, dest interface{}) error {
	for attempt := 0; ; attempt++ {
		token, epoch, configured := c.currentSession()
		if !configured {
			if err := c.reconfigure(ctx, epoch); err != nil {
				return err
			}
			token, epoch, _ = c.currentSession()
		}

		var req *http.Request
		var err error
		if method == http.MethodGet {
			req, err = c.newGetRequest(ctx, endpoint, params)
		} else {
			req, err = c.newPostJSONRequest(ctx, endpoint, params, body)
		}
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set(csrfHeader, token)
		}

		class, err := c.roundTrip(req, dest)
		if class != responseAuthRequired {
			return err
		}
		if attempt > 0 {
			log.Ctx(ctx).ErrorContext(ctx, "fusionsolar session rejected after reauthentication", slog.String("endpoint", endpoint))
			return err
		}

		c.metrics.reauths.Inc()
		if err := c.reconfigure(ctx, epoch); err != nil {
			return err
		}
	}
}
