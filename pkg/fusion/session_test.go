package fusion

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/raterudder/fusionsolar/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionJar(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	newJar := func() *sessionJar {
		j := newSessionJar()
		j.now = func() time.Time { return now }
		return j
	}

	t.Run("RecordsAttributes", func(t *testing.T) {
		j := newJar()
		u, _ := url.Parse("https://region01eu5.fusionsolar.huawei.com/unisso/v3/validateUser.action")
		j.SetCookies(u, []*http.Cookie{
			{Name: "JSESSIONID", Value: "abc", Path: "/", Secure: true, HttpOnly: true},
			{Name: "locale", Value: "en-us"},
			{Name: "dp-session", Value: "xyz", Domain: ".fusionsolar.huawei.com", Path: "/", MaxAge: 3600},
			{Name: "other", Value: "nope", Domain: "example.com"},
		})

		exp := now.Add(time.Hour).Unix()
		assert.Equal(t, []types.SessionCookie{
			{Name: "dp-session", Value: "xyz", Domain: "fusionsolar.huawei.com", Path: "/", Expires: &exp},
			{Name: "JSESSIONID", Value: "abc", Domain: "region01eu5.fusionsolar.huawei.com", Path: "/", Secure: true, HTTPOnly: true},
			{Name: "locale", Value: "en-us", Domain: "region01eu5.fusionsolar.huawei.com", Path: "/unisso/v3"},
		}, j.export())

		// the wrapped jar actually sends them
		assert.Len(t, j.Cookies(u), 3)
	})

	t.Run("Deletes", func(t *testing.T) {
		j := newJar()
		u, _ := url.Parse("https://region01eu5.fusionsolar.huawei.com/")
		j.SetCookies(u, []*http.Cookie{{Name: "a", Value: "1", Path: "/"}})
		require.Len(t, j.export(), 1)

		j.SetCookies(u, []*http.Cookie{{Name: "a", Value: "", Path: "/", MaxAge: -1}})
		assert.Empty(t, j.export())
	})

	t.Run("DropsExpiredOnExport", func(t *testing.T) {
		j := newJar()
		u, _ := url.Parse("https://region01eu5.fusionsolar.huawei.com/")
		j.SetCookies(u, []*http.Cookie{{Name: "a", Value: "1", Path: "/", Expires: now.Add(time.Minute)}})
		require.Len(t, j.export(), 1)

		now = now.Add(2 * time.Minute)
		assert.Empty(t, j.export())
	})

	t.Run("RestoreUsesCookieDomain", func(t *testing.T) {
		j := newJar()
		j.restore([]types.SessionCookie{
			{Name: "sso", Value: "1", Domain: "eu5.fusionsolar.huawei.com", Path: "/unisso", Secure: true},
			{Name: "portal", Value: "2", Domain: "region01eu5.fusionsolar.huawei.com", Path: "/"},
			{Name: "", Value: "skipped", Domain: "region01eu5.fusionsolar.huawei.com"},
		})

		sso, _ := url.Parse("https://eu5.fusionsolar.huawei.com/unisso/login")
		cookies := j.Cookies(sso)
		require.Len(t, cookies, 1)
		assert.Equal(t, "sso", cookies[0].Name)

		portal, _ := url.Parse("https://region01eu5.fusionsolar.huawei.com/rest/x")
		cookies = j.Cookies(portal)
		require.Len(t, cookies, 1)
		assert.Equal(t, "portal", cookies[0].Name)

		assert.Len(t, j.export(), 2)
	})
}

func TestDefaultCookiePath(t *testing.T) {
	assert.Equal(t, "/", defaultCookiePath(""))
	assert.Equal(t, "/", defaultCookiePath("relative"))
	assert.Equal(t, "/", defaultCookiePath("/"))
	assert.Equal(t, "/", defaultCookiePath("/login"))
	assert.Equal(t, "/unisso/v3", defaultCookiePath("/unisso/v3/validateUser.action"))
}

func TestSnapshot(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		p := newFakePortal(t)
		c := p.client()
		require.NoError(t, c.Login(t.Context()))

		snap := c.Snapshot()
		assert.Equal(t, testCompanyID, snap.CompanyID)
		assert.Equal(t, "csrf-session-1", snap.CSRFToken)
		require.Len(t, snap.Cookies, 1)
		assert.Equal(t, sessionCookie, snap.Cookies[0].Name)

		b, err := json.Marshal(snap)
		require.NoError(t, err)
		var loaded types.SessionSnapshot
		require.NoError(t, json.Unmarshal(b, &loaded))

		restored := p.client()
		restored.Restore(t.Context(), loaded)
		assert.Equal(t, StateAuthenticated, restored.State())
		assert.Equal(t, snap.Cookies, restored.Snapshot().Cookies)
		assert.Equal(t, snap.CompanyID, restored.Snapshot().CompanyID)
		assert.Equal(t, snap.CSRFToken, restored.Snapshot().CSRFToken)

		// the restored session is accepted without logging in again
		_, err = restored.GetHistory(t.Context(), "NE=1", "NE=2", testDay)
		require.NoError(t, err)
		assert.Equal(t, int32(1), p.logins.Load())
	})

	t.Run("PartialSessionIgnored", func(t *testing.T) {
		c := New(types.Credentials{Username: "u", Subdomain: "x"}, 0)
		c.Restore(t.Context(), types.SessionSnapshot{CompanyID: "NE=1"})
		assert.Equal(t, StateUnauthenticated, c.State())
		assert.Empty(t, c.CompanyID())
		assert.Empty(t, c.Snapshot().CSRFToken)
	})

	t.Run("UnknownFieldsIgnored", func(t *testing.T) {
		var snap types.SessionSnapshot
		err := json.Unmarshal([]byte(`{"cookies":[{"name":"a","value":"b","domain":"x.com","path":"/","expires":1700000000,"secure":true,"httpOnly":false,"sameSite":"Lax"}],"companyId":"NE=1","csrfToken":"t","timestamp":"2024-01-01T00:00:00Z","extra":1}`), &snap)
		require.NoError(t, err)
		require.Len(t, snap.Cookies, 1)
		require.NotNil(t, snap.Cookies[0].Expires)
		assert.Equal(t, int64(1700000000), *snap.Cookies[0].Expires)
		assert.Equal(t, "NE=1", snap.CompanyID)
	})
}
