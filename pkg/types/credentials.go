package types

import "strings"

const portalDomain = "fusionsolar.huawei.com"

// Credentials for the FusionSolar end-customer portal. The subdomain is the
// region label shown in the portal URL (e.g. "region01eu5") or the full host.
type Credentials struct {
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
	Subdomain string `json:"subdomain"`
}

// Host returns the portal host name for the credentials' subdomain.
func (c Credentials) Host() string {
	sub := strings.TrimSuffix(strings.TrimSpace(c.Subdomain), ".")
	if strings.Contains(sub, ".") {
		return sub
	}
	return sub + "." + portalDomain
}

// SessionKey identifies the persisted session for these credentials.
func (c Credentials) SessionKey() string {
	return c.Host() + "/" + c.Username
}
