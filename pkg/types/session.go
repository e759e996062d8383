package types

import "time"

// SessionSnapshot is the durable form of a portal session. It is written at
// the end of a run and restored at the start of the next one so we can skip
// the login handshake while the vendor still accepts the cookies.
type SessionSnapshot struct {
	Cookies   []SessionCookie `json:"cookies"`
	CompanyID string          `json:"companyId,omitempty"`
	CSRFToken string          `json:"csrfToken,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SessionCookie is a single persisted cookie. Expires is in epoch seconds and
// omitted for session cookies.
type SessionCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  *int64 `json:"expires,omitempty"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
}
