package fusion

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/raterudder/fusionsolar/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUsername   = "owner@example.com"
	testPassword   = "s3cret pass/word"
	testKeyVersion = "v1"
	testCompanyID  = "NE=12345"
	sessionCookie  = "JSESSIONID"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

// testPrivateKey returns a key large enough for a full 270 byte chunk with
// SHA-384 OAEP padding. Generating it is slow so it is shared by all tests.
func testPrivateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 3072)
		if err != nil {
			panic(err)
		}
	})
	return testKey
}

func publicKeyPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// decryptPassword reverses encryptPassword the way the portal does.
func decryptPassword(t *testing.T, key *rsa.PrivateKey, payload, version string) string {
	t.Helper()
	require.True(t, strings.HasSuffix(payload, version), "payload must end in the key version")
	payload = strings.TrimSuffix(payload, version)

	var sb strings.Builder
	for _, chunk := range strings.Split(payload, encryptSeparator) {
		ciphertext, err := base64.StdEncoding.DecodeString(chunk)
		require.NoError(t, err)
		plain, err := rsa.DecryptOAEP(sha512.New384(), rand.Reader, key, ciphertext, nil)
		require.NoError(t, err)
		sb.Write(plain)
	}
	return sb.String()
}

// fakePortal imitates the parts of the FusionSolar portal the client talks
// to. Only one session is valid at a time. Requests without it are either
// rejected with 401 or silently redirected to the login page.
type fakePortal struct {
	t       *testing.T
	server  *httptest.Server
	key     *rsa.PrivateKey
	encrypt bool

	// redirectUnauthenticated sends invalid sessions to the login page
	// instead of answering 401
	redirectUnauthenticated bool
	// rejectData makes the data endpoints reject every session
	rejectData bool
	// failCSRF makes the dedicated CSRF endpoint fail
	failCSRF bool
	// badSubdomain makes company/current answer like a wrong region
	badSubdomain bool
	// regionRedirect makes the login answer with error code 470
	regionRedirect string

	logins          atomic.Int32
	redirectsFollow atomic.Int32
	rejected        atomic.Int32

	mu        sync.Mutex
	session   string
	keepAlive string
	csrf      string
	balance   map[string]interface{}
	soc       map[string]interface{}
	seenCSRF  []string
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{
		t:       t,
		key:     testPrivateKey(t),
		encrypt: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/unisso/pubkey", p.handlePubKey)
	mux.HandleFunc("/unisso/v3/validateUser.action", p.handleLogin)
	mux.HandleFunc("/unisso/v2/validateUser.action", p.handleLogin)
	mux.HandleFunc("/unisso/login.action", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>login</body></html>")
	})
	mux.HandleFunc("/rest/dpcloud/auth/v1/keep-alive", p.handleKeepAlive)
	mux.HandleFunc("/rest/neteco/web/organization/v2/company/current", p.authenticated(p.handleCompany))
	mux.HandleFunc("/unisess/v1/auth/session", p.authenticated(p.handleCSRF))
	mux.HandleFunc("/rest/pvms/web/station/v1/overview/energy-balance", p.authenticated(p.handleBalance))
	mux.HandleFunc("/rest/pvms/web/device/v1/device-history-data", p.authenticated(p.handleSOC))
	mux.HandleFunc("/region/", func(w http.ResponseWriter, r *http.Request) {
		p.redirectsFollow.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	// the real portal gzips its json
	p.server = httptest.NewServer(gziphandler.GzipHandler(mux))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) client() *Client {
	c := New(types.Credentials{
		Username:  testUsername,
		Password:  testPassword,
		Subdomain: "region01eu5",
	}, 5*time.Second)
	c.baseURL = p.server.URL
	return c
}

func (p *fakePortal) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(p.t, json.NewEncoder(w).Encode(v))
}

func (p *fakePortal) hasSession(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != "" && c.Value == p.session
}

// invalidate drops the current session as if the portal expired it.
func (p *fakePortal) invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = ""
	p.keepAlive = ""
	p.csrf = ""
}

func (p *fakePortal) reject(w http.ResponseWriter, r *http.Request) {
	p.rejected.Add(1)
	if p.redirectUnauthenticated {
		http.Redirect(w, r, "/unisso/login.action?service=%2Fnetecowebext%2Fhome%2Findex.html", http.StatusFound)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// authenticated requires the session cookie and either CSRF token the portal
// handed out for it.
func (p *fakePortal) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(csrfHeader)
		p.mu.Lock()
		p.seenCSRF = append(p.seenCSRF, token)
		validToken := token != "" && (token == p.keepAlive || token == p.csrf)
		p.mu.Unlock()
		rejectData := p.rejectData && strings.HasPrefix(r.URL.Path, "/rest/pvms/")
		if rejectData || !p.hasSession(r) || !validToken {
			p.reject(w, r)
			return
		}
		next(w, r)
	}
}

func (p *fakePortal) handlePubKey(w http.ResponseWriter, r *http.Request) {
	if !p.encrypt {
		p.writeJSON(w, map[string]interface{}{"enableEncrypt": false})
		return
	}
	p.writeJSON(w, map[string]interface{}{
		"pubKey":        publicKeyPEM(p.t, p.key),
		"version":       testKeyVersion,
		"timeStamp":     1704067200000,
		"enableEncrypt": true,
	})
}

func (p *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !assert.NoError(p.t, json.NewDecoder(r.Body).Decode(&req)) {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	password := req.Password
	if strings.HasPrefix(r.URL.Path, "/unisso/v3/") {
		assert.Equal(p.t, "1704067200000", r.URL.Query().Get("timeStamp"))
		assert.NotEmpty(p.t, r.URL.Query().Get("nonce"))
		escaped := decryptPassword(p.t, p.key, req.Password, testKeyVersion)
		var err error
		password, err = url.QueryUnescape(escaped)
		assert.NoError(p.t, err)
	} else {
		assert.Equal(p.t, "1", r.URL.Query().Get("decision"))
		assert.Equal(p.t, p.server.URL+"/unisess/v1/auth?service=/netecowebext/home/index.html", r.URL.Query().Get("service"))
	}

	if req.Username != testUsername || password != testPassword {
		p.writeJSON(w, map[string]interface{}{"errorCode": "401", "errorMsg": "Incorrect username or password."})
		return
	}

	n := p.logins.Add(1)
	p.mu.Lock()
	p.session = fmt.Sprintf("session-%d", n)
	p.keepAlive = ""
	p.csrf = ""
	p.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: fmt.Sprintf("session-%d", n), Path: "/", HttpOnly: true})

	if p.regionRedirect != "" {
		p.writeJSON(w, map[string]interface{}{"errorCode": 470, "respMultiRegionName": []string{"-", p.regionRedirect}})
		return
	}
	p.writeJSON(w, map[string]interface{}{"errorCode": nil, "errorMsg": nil})
}

func (p *fakePortal) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	if !p.hasSession(r) {
		p.writeJSON(w, map[string]interface{}{"code": 1})
		return
	}
	p.mu.Lock()
	if p.keepAlive == "" {
		p.keepAlive = "keepalive-" + p.session
	}
	token := p.keepAlive
	p.mu.Unlock()
	p.writeJSON(w, map[string]interface{}{"code": 0, "payload": token})
}

func (p *fakePortal) handleCompany(w http.ResponseWriter, r *http.Request) {
	assert.NotEmpty(p.t, r.URL.Query().Get("_"))
	if p.badSubdomain {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"exceptionId":"bad status"}`)
		return
	}
	p.writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"moDn": testCompanyID}})
}

func (p *fakePortal) handleCSRF(w http.ResponseWriter, r *http.Request) {
	if p.failCSRF {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	p.mu.Lock()
	p.csrf = "csrf-" + p.session
	token := p.csrf
	p.mu.Unlock()
	p.writeJSON(w, map[string]interface{}{"csrfToken": token})
}

func (p *fakePortal) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assert.Equal(p.t, "2", q.Get("timeDim"))
	assert.Equal(p.t, "0", q.Get("timeZone"))
	assert.Equal(p.t, "UTC", q.Get("timeZoneStr"))
	assert.NotEmpty(p.t, q.Get("stationDn"))
	assert.NotEmpty(p.t, q.Get("queryTime"))
	assert.NotEmpty(p.t, q.Get("dateStr"))

	p.mu.Lock()
	balance := p.balance
	p.mu.Unlock()
	if balance == nil {
		balance = map[string]interface{}{"xAxis": []string{}}
	}
	p.writeJSON(w, map[string]interface{}{"success": true, "data": balance})
}

func (p *fakePortal) handleSOC(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assert.Equal(p.t, batterySOCSignalID, q.Get("signalIds"))
	assert.NotEmpty(p.t, q.Get("deviceDn"))
	assert.NotEmpty(p.t, q.Get("date"))

	p.mu.Lock()
	soc := p.soc
	p.mu.Unlock()
	if soc == nil {
		soc = map[string]interface{}{}
	}
	p.writeJSON(w, map[string]interface{}{"success": true, "data": soc})
}
