package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/keys"
	"authgate.dev/internal/token"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func testKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func newTestAPI(t *testing.T) (*apiClient, *auth.MemStore) {
	t.Helper()

	store := auth.NewMemStore()
	km := keys.NewManager(testKeyPEM(t), "test-key")
	svc := auth.NewService(store, token.NewService(km),
		auth.WithPepper("pepper"),
		auth.WithIssuer("https://auth.test"),
	)

	ctx := context.Background()
	if err := store.EnsureTenant(ctx, &auth.Tenant{ID: "tenant-demo", Name: "Demo"}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	client := &auth.Client{
		ID:           "client-row-1",
		ClientID:     "web-app",
		TenantID:     "tenant-demo",
		ClientSecret: "s3cret",
		RedirectURIs: []string{"https://app.test/callback"},
		Scope:        auth.DefaultScope,
	}
	if err := store.CreateClient(ctx, client); err != nil {
		t.Fatalf("seed client: %v", err)
	}

	api := New(svc, km, ReadyProbe{}, "test", WithRateLimit(1000, 1000))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	httpClient := srv.Client()
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &apiClient{
		baseURL: srv.URL,
		client:  httpClient,
		t:       t,
	}, store
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) postForm(path string, form url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do form request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) registerAndLogin(email string) (map[string]any, *http.Response) {
	c.t.Helper()
	resp := c.post("/api/auth/register", map[string]any{
		"tenant_id": "tenant-demo",
		"email":     email,
		"password":  "correct horse",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register status: %d", resp.StatusCode)
	}

	resp = c.post("/api/auth/login", map[string]any{
		"tenant_id": "tenant-demo",
		"client_id": "web-app",
		"email":     email,
		"password":  "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status: %d", resp.StatusCode)
	}
	return decode[map[string]any](c.t, resp), resp
}

func refreshCookieFrom(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, ck := range resp.Cookies() {
		if ck.Name == refreshCookieName {
			return ck
		}
	}
	t.Fatal("refresh cookie not set")
	return nil
}

func TestHealthz(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestDiscoveryDocument(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.get("/.well-known/openid-configuration", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	doc := decode[map[string]any](t, resp)
	if doc["issuer"] != "https://auth.test" {
		t.Fatalf("unexpected issuer: %v", doc["issuer"])
	}
	if doc["token_endpoint"] != "https://auth.test/token" {
		t.Fatalf("unexpected token endpoint: %v", doc["token_endpoint"])
	}
}

func TestJWKSExposesOnlyPublicMaterial(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.get("/.well-known/jwks.json", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(doc.Keys))
	}
	key := doc.Keys[0]
	if key["kid"] != "test-key" || key["kty"] != "RSA" || key["alg"] != "RS256" {
		t.Fatalf("unexpected key header: %v", key)
	}
	for _, private := range []string{"d", "p", "q", "dp", "dq", "qi"} {
		if _, ok := key[private]; ok {
			t.Fatalf("private field %q leaked into jwks", private)
		}
	}
}

func TestLoginWrongPasswordUnauthorized(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.post("/api/auth/register", map[string]any{
		"tenant_id": "tenant-demo",
		"email":     "user@example.com",
		"password":  "correct horse",
	}, nil)
	resp.Body.Close()

	resp = api.post("/api/auth/login", map[string]any{
		"tenant_id": "tenant-demo",
		"client_id": "web-app",
		"email":     "user@example.com",
		"password":  "wrong",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthorizationCodeFlow(t *testing.T) {
	api, _ := newTestAPI(t)
	bundle, _ := api.registerAndLogin("user@example.com")
	accessToken := bundle["access_token"].(string)

	verifier := "averylongrandomverifierstringaverylongrandomverifier"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	resp := api.get("/authorize", url.Values{
		"response_type":  {"code"},
		"client_id":      {"web-app"},
		"redirect_uri":   {"https://app.test/callback"},
		"state":          {"xyz"},
		"code_challenge": {challenge},
	}, map[string]string{"Authorization": "Bearer " + accessToken})
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatal("missing code in redirect")
	}
	if loc.Query().Get("state") != "xyz" {
		t.Fatalf("state not echoed: %s", loc.RawQuery)
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"web-app"},
		"client_secret": {"s3cret"},
		"code":          {code},
		"redirect_uri":  {"https://app.test/callback"},
		"code_verifier": {verifier},
	}
	resp = api.postForm("/token", form, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exchange status: %d", resp.StatusCode)
	}
	tokens := decode[map[string]any](t, resp)
	if tokens["access_token"] == "" || tokens["id_token"] == "" || tokens["refresh_token"] == "" {
		t.Fatalf("incomplete bundle: %v", tokens)
	}

	// Codes are single use.
	resp = api.postForm("/token", form, nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on reuse, got %d", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "authorization code used") {
		t.Fatalf("unexpected error message: %v", body)
	}
}

func TestAuthorizeRequiresLogin(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.get("/authorize", url.Values{
		"response_type":  {"code"},
		"client_id":      {"web-app"},
		"redirect_uri":   {"https://app.test/callback"},
		"code_challenge": {"abc"},
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	bundle, _ := api.registerAndLogin("user@example.com")
	refreshToken := bundle["refresh_token"].(string)

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	creds := base64.StdEncoding.EncodeToString([]byte("web-app:s3cret"))
	resp := api.postForm("/token", form, map[string]string{
		"Authorization": "Basic " + creds,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status: %d", resp.StatusCode)
	}
	tokens := decode[map[string]any](t, resp)
	if tokens["refresh_token"] == refreshToken {
		t.Fatal("refresh token was not rotated")
	}
}

func TestRefreshCookieRotation(t *testing.T) {
	api, _ := newTestAPI(t)
	_, loginResp := api.registerAndLogin("user@example.com")
	cookie := refreshCookieFrom(t, loginResp)

	resp := api.post("/api/auth/refresh", nil, map[string]string{
		"Cookie": cookie.Name + "=" + cookie.Value,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status: %d", resp.StatusCode)
	}
	next := refreshCookieFrom(t, resp)
	resp.Body.Close()
	if next.Value == cookie.Value {
		t.Fatal("cookie was not rotated")
	}

	// The old cookie is dead after rotation.
	resp = api.post("/api/auth/refresh", nil, map[string]string{
		"Cookie": cookie.Name + "=" + cookie.Value,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale cookie, got %d", resp.StatusCode)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	api, _ := newTestAPI(t)
	_, loginResp := api.registerAndLogin("user@example.com")
	cookie := refreshCookieFrom(t, loginResp)

	resp := api.post("/api/auth/logout", nil, map[string]string{
		"Cookie": cookie.Name + "=" + cookie.Value,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}

	resp = api.post("/api/auth/refresh", nil, map[string]string{
		"Cookie": cookie.Name + "=" + cookie.Value,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestUserInfo(t *testing.T) {
	api, _ := newTestAPI(t)
	bundle, _ := api.registerAndLogin("user@example.com")
	accessToken := bundle["access_token"].(string)

	resp := api.get("/userinfo", nil, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("userinfo status: %d", resp.StatusCode)
	}
	info := decode[map[string]any](t, resp)
	if info["email"] != "user@example.com" || info["tid"] != "tenant-demo" {
		t.Fatalf("unexpected userinfo: %v", info)
	}

	resp = api.get("/userinfo", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestAccessRoleLifecycle(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.post("/api/auth/register", map[string]any{
		"tenant_id": "tenant-demo",
		"email":     "admin@example.com",
		"password":  "correct horse",
	}, nil)
	reg := decode[map[string]any](t, resp)
	userID := reg["user_id"].(string)

	resp = api.post("/api/access/role", map[string]any{
		"tenant_id":   "tenant-demo",
		"name":        "editor",
		"permissions": []string{"write:articles"},
		"client_ids":  []string{"client-row-1"},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role status: %d", resp.StatusCode)
	}
	role := decode[map[string]any](t, resp)
	roleID := role["id"].(string)

	resp = api.post("/api/access/assign", map[string]any{
		"user_id": userID,
		"role_id": roleID,
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign status: %d", resp.StatusCode)
	}

	resp = api.get("/api/access/summary", url.Values{
		"user_id":   {userID},
		"client_id": {"client-row-1"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status: %d", resp.StatusCode)
	}
	summary := decode[map[string]any](t, resp)
	perms, _ := summary["permissions"].([]any)
	if len(perms) != 1 || perms[0] != "write:articles" {
		t.Fatalf("unexpected permissions: %v", summary["permissions"])
	}
}

func TestAccessAssignCrossTenantConflict(t *testing.T) {
	api, store := newTestAPI(t)
	ctx := context.Background()
	if err := store.EnsureTenant(ctx, &auth.Tenant{ID: "tenant-other", Name: "Other"}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	resp := api.post("/api/auth/register", map[string]any{
		"tenant_id": "tenant-demo",
		"email":     "user@example.com",
		"password":  "correct horse",
	}, nil)
	reg := decode[map[string]any](t, resp)
	userID := reg["user_id"].(string)

	resp = api.post("/api/access/role", map[string]any{
		"tenant_id": "tenant-other",
		"name":      "foreign",
	}, nil)
	role := decode[map[string]any](t, resp)
	roleID := role["id"].(string)

	resp = api.post("/api/access/assign", map[string]any{
		"user_id": userID,
		"role_id": roleID,
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestUnsupportedGrantType(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.postForm("/token", url.Values{
		"grant_type": {"password"},
		"client_id":  {"web-app"},
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
