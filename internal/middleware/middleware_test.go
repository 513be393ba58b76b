package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldlogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/permission"
	"github.com/flagpole-io/flagpole/internal/sharedtest"
)

const (
	testPassword     = "correct horse"
	testClientSecret = "default:development.abc123"
)

type fakeTokens map[string]model.APIToken

func (f fakeTokens) Resolve(_ context.Context, secret string) (model.APIToken, error) {
	if secret == "explode" {
		return model.APIToken{}, errors.New("database is down")
	}
	if t, ok := f[secret]; ok {
		return t, nil
	}
	return model.APIToken{}, ErrInvalidCredentials
}

type fakeUsers map[string]model.User

func (f fakeUsers) Authenticate(_ context.Context, login, password string) (model.User, error) {
	if u, ok := f[login]; ok && password == testPassword {
		return u, nil
	}
	return model.User{}, ErrInvalidCredentials
}

func testAuthConfig(mockLog *ldlogtest.MockLog) AuthConfig {
	return AuthConfig{
		Tokens: fakeTokens{
			testClientSecret: {
				Secret: testClientSecret, TokenName: "sdk", Type: model.TokenTypeClient,
				Environment: "development", Projects: []string{"default"},
			},
			"*:*.admin": {Secret: "*:*.admin", TokenName: "ops", Type: model.TokenTypeAdmin},
			"*:production.front": {
				Secret: "*:production.front", TokenName: "web", Type: model.TokenTypeFrontend,
				Environment: "production",
			},
		},
		Users: fakeUsers{
			"alice":             {ID: 1, Username: "alice", RootRole: model.RoleEditor},
			"bob@example.com":   {ID: 2, Email: "bob@example.com", RootRole: model.RoleViewer},
			"carol@example.com": {ID: 3, Username: "carol", Email: "carol@example.com", RootRole: model.RoleAdmin},
		},
		Loggers: mockLog.Loggers,
	}
}

func identityRecorder(captured *permission.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, ok := GetIdentity(req.Context())
		if ok {
			*captured = id
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	type testCase struct {
		name          string
		authorization string
		status        int
		identity      permission.Identity
	}
	for _, tc := range []testCase{
		{
			name:          "client token",
			authorization: testClientSecret,
			status:        http.StatusNoContent,
			identity: permission.Identity{Kind: permission.KindClientToken, Name: "sdk",
				Projects: []string{"default"}, Environment: "development"},
		},
		{
			name:          "bearer prefix",
			authorization: "Bearer *:*.admin",
			status:        http.StatusNoContent,
			identity:      permission.Identity{Kind: permission.KindAdminToken, Name: "ops"},
		},
		{
			name:          "frontend token",
			authorization: "*:production.front",
			status:        http.StatusNoContent,
			identity:      permission.Identity{Kind: permission.KindFrontendToken, Name: "web", Environment: "production"},
		},
		{
			name:          "user by username",
			authorization: sharedtest.BasicAuth("alice", testPassword),
			status:        http.StatusNoContent,
			identity:      permission.Identity{Kind: permission.KindUser, UserID: 1, Name: "alice", Role: model.RoleEditor},
		},
		{
			name:          "user without username is named by email",
			authorization: sharedtest.BasicAuth("bob@example.com", testPassword),
			status:        http.StatusNoContent,
			identity: permission.Identity{Kind: permission.KindUser, UserID: 2, Name: "bob@example.com",
				Role: model.RoleViewer},
		},
		{
			name:          "user with username logging in by email",
			authorization: sharedtest.BasicAuth("carol@example.com", testPassword),
			status:        http.StatusNoContent,
			identity:      permission.Identity{Kind: permission.KindUser, UserID: 3, Name: "carol", Role: model.RoleAdmin},
		},
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "unknown token", authorization: "nope", status: http.StatusUnauthorized},
		{name: "wrong password", authorization: sharedtest.BasicAuth("alice", "wrong"), status: http.StatusUnauthorized},
		{name: "malformed basic", authorization: "Basic !!!", status: http.StatusUnauthorized},
		{name: "resolver failure", authorization: "explode", status: http.StatusInternalServerError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mockLog := ldlogtest.NewMockLog()
			defer mockLog.DumpIfTestFailed(t)
			var captured permission.Identity
			handler := Authenticate(testAuthConfig(mockLog))(identityRecorder(&captured))

			req := sharedtest.BuildRequestWithAuth("GET", "/api/admin/features", tc.authorization, nil)
			resp, body := sharedtest.DoRequest(req, handler)

			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.identity, captured)
			if tc.status != http.StatusNoContent {
				assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
				assert.Contains(t, string(body), `"message"`)
			}
			if tc.status == http.StatusInternalServerError {
				mockLog.AssertMessageMatch(t, true, ldlog.Error, "database is down")
			}
		})
	}
}

func TestAuthenticateDisabledAllowsAnonymousAdmin(t *testing.T) {
	mockLog := ldlogtest.NewMockLog()
	config := testAuthConfig(mockLog)
	config.Disabled = true
	var captured permission.Identity
	handler := Authenticate(config)(identityRecorder(&captured))

	resp, _ := sharedtest.DoRequest(sharedtest.BuildRequest("GET", "/api/admin/features", nil, nil), handler)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, permission.KindUser, captured.Kind)
	assert.Equal(t, model.RoleAdmin, captured.Role)

	t.Run("credentials are still checked when provided", func(t *testing.T) {
		req := sharedtest.BuildRequestWithAuth("GET", "/api/admin/features", "nope", nil)
		resp, _ := sharedtest.DoRequest(req, handler)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAuthenticateUsesCustomCredentialClassifier(t *testing.T) {
	errUnknown := errors.New("unknown token")
	mockLog := ldlogtest.NewMockLog()
	config := testAuthConfig(mockLog)
	config.Tokens = fakeTokensFunc(func(string) error { return errUnknown })
	config.IsInvalidCredentials = func(err error) bool { return errors.Is(err, errUnknown) }
	handler := Authenticate(config)(identityRecorder(new(permission.Identity)))

	resp, _ := sharedtest.DoRequest(sharedtest.BuildRequestWithAuth("GET", "/", "x", nil), handler)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type fakeTokensFunc func(string) error

func (f fakeTokensFunc) Resolve(_ context.Context, secret string) (model.APIToken, error) {
	return model.APIToken{}, f(secret)
}

func TestLoginRateLimit(t *testing.T) {
	mockLog := ldlogtest.NewMockLog()
	config := testAuthConfig(mockLog)
	config.Limiter = NewLoginLimiter(2)
	handler := Authenticate(config)(identityRecorder(new(permission.Identity)))

	doLogin := func(remoteAddr, password string) int {
		req := sharedtest.BuildRequestWithAuth("GET", "/", sharedtest.BasicAuth("alice", password), nil)
		req.RemoteAddr = remoteAddr
		resp, _ := sharedtest.DoRequest(req, handler)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, doLogin("10.0.0.1:1000", testPassword))
	assert.Equal(t, http.StatusUnauthorized, doLogin("10.0.0.1:1000", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, doLogin("10.0.0.1:1001", "wrong"))
	assert.Equal(t, http.StatusTooManyRequests, doLogin("10.0.0.1:1002", testPassword))

	t.Run("other clients are not limited", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, doLogin("10.0.0.2:1000", testPassword))
	})

	t.Run("token requests are not limited", func(t *testing.T) {
		req := sharedtest.BuildRequestWithAuth("GET", "/", testClientSecret, nil)
		req.RemoteAddr = "10.0.0.1:1000"
		resp, _ := sharedtest.DoRequest(req, handler)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestRequirePermission(t *testing.T) {
	type testCase struct {
		name       string
		identity   *permission.Identity
		permission permission.Permission
		status     int
	}
	editor := &permission.Identity{Kind: permission.KindUser, Name: "e", Role: model.RoleEditor}
	viewer := &permission.Identity{Kind: permission.KindUser, Name: "v", Role: model.RoleViewer}
	client := &permission.Identity{Kind: permission.KindClientToken, Name: "c"}
	for _, tc := range []testCase{
		{"editor creates feature", editor, permission.CreateFeature, http.StatusNoContent},
		{"viewer creates feature", viewer, permission.CreateFeature, http.StatusForbidden},
		{"viewer reads admin API", viewer, permission.None, http.StatusNoContent},
		{"editor creates token", editor, permission.CreateAPIToken, http.StatusForbidden},
		{"client token reads client API", client, permission.ReadClientAPI, http.StatusNoContent},
		{"client token reads admin API", client, permission.None, http.StatusForbidden},
		{"no identity", nil, permission.None, http.StatusUnauthorized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			handler := RequirePermission(tc.permission)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			req := sharedtest.BuildRequest("POST", "/", nil, nil)
			if tc.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tc.identity))
			}
			resp, body := sharedtest.DoRequest(req, handler)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status == http.StatusForbidden {
				assert.Contains(t, string(body), tc.permission.String())
			}
		})
	}
}

func TestRequireJSON(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := RequireJSON(ok)

	for name, params := range map[string]struct {
		contentType string
		body        []byte
		status      int
	}{
		"json":             {"application/json", []byte(`{}`), http.StatusNoContent},
		"json with params": {"application/json; charset=utf-8", []byte(`{}`), http.StatusNoContent},
		"json suffix":      {"application/merge-patch+json", []byte(`{}`), http.StatusNoContent},
		"form":             {"application/x-www-form-urlencoded", []byte(`a=b`), http.StatusUnsupportedMediaType},
		"missing type":     {"", []byte(`{}`), http.StatusUnsupportedMediaType},
		"no body":          {"", nil, http.StatusNoContent},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", bytes.NewReader(params.body))
			if params.body == nil {
				req = httptest.NewRequest("POST", "/", nil)
			}
			if params.contentType != "" {
				req.Header.Set("Content-Type", params.contentType)
			}
			resp, _ := sharedtest.DoRequest(req, handler)
			assert.Equal(t, params.status, resp.StatusCode)
		})
	}
}

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	var order []string
	mark := func(name string) mux.MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, req)
			})
		}
	}
	handler := Chain(mark("a"), mark("b"), mark("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	require.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestGetUserAgent(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(userAgentHeader, "curl/8.0")
	assert.Equal(t, "curl/8.0", getUserAgent(req))
	req.Header.Set(appNameHeader, "checkout-service")
	assert.Equal(t, "checkout-service", getUserAgent(req))
}
