package fusion

import "errors"

// Errors returned by the client are wrapped around one of these so callers can
// decide what to do with errors.Is.
var (
	// ErrConfiguration means the key material or credentials we were given
	// cannot be used at all. Retrying will not help.
	ErrConfiguration = errors.New("fusionsolar configuration error")

	// ErrAuthentication means the portal rejected the login or the session,
	// including after the one reauthentication retry.
	ErrAuthentication = errors.New("fusionsolar authentication failed")

	// ErrTransport covers network errors, timeouts, unexpected HTTP statuses
	// and bodies that could not be decoded.
	ErrTransport = errors.New("fusionsolar request failed")

	// ErrDataIntegrity means the portal answered but a field we depend on was
	// missing or inconsistent.
	ErrDataIntegrity = errors.New("unexpected fusionsolar response")
)
