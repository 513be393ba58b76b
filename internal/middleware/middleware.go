package middleware

import (
	"context"
	"encoding/base64"
	"errors"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"golang.org/x/time/rate"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/permission"
	"github.com/flagpole-io/flagpole/internal/util"
)

const (
	userAgentHeader = "User-Agent"
	appNameHeader   = "X-Flagpole-AppName"

	httpStatusMessageMissingCredentials = "You must provide credentials in the Authorization header"
	httpStatusMessageInvalidCredentials = "The provided credentials are not valid"
	httpStatusMessageTooManyAttempts    = "Too many failed login attempts, try again later"
	httpStatusMessageUnsupportedBody    = "The request body must be JSON (Content-Type: application/json)"
)

var errMalformedBasicAuth = errors.New("malformed basic authentication header")

// ErrInvalidCredentials must be returned by a TokenResolver or PasswordAuthenticator when the
// credentials are unknown, rather than unusable because of an internal failure.
var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenResolver looks up an API token by its secret.
type TokenResolver interface {
	Resolve(ctx context.Context, secret string) (model.APIToken, error)
}

// PasswordAuthenticator verifies a user's login and password.
type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, login, password string) (model.User, error)
}

// AuthConfig contains the dependencies of the Authenticate middleware.
type AuthConfig struct {
	Tokens TokenResolver
	Users  PasswordAuthenticator
	// Disabled makes every request without credentials an anonymous admin.
	Disabled bool
	// Limiter, if not nil, limits failed password logins per client address.
	Limiter *LoginLimiter
	// IsInvalidCredentials classifies errors from Tokens and Users. If nil, only ErrInvalidCredentials
	// counts as invalid credentials; any other error is a 500.
	IsInvalidCredentials func(error) bool
	Loggers              ldlog.Loggers
}

// getUserAgent returns the SDK application name if available, falling back to the User-Agent header.
func getUserAgent(req *http.Request) string {
	if agent := req.Header.Get(appNameHeader); agent != "" {
		return agent
	}
	return req.Header.Get(userAgentHeader)
}

// Chain combines a series of middleware functions that will be applied in the same order.
func Chain(middlewares ...mux.MiddlewareFunc) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		handler := next
		for i := len(middlewares) - 1; i >= 0; i-- {
			handler = middlewares[i](handler)
		}
		return handler
	}
}

// MetricsContext attaches the OpenCensus context that request measures are recorded with.
func MetricsContext(metricsCtx context.Context) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(WithMetricsContext(req.Context(), metricsCtx)))
		})
	}
}

// Authenticate creates a middleware function that resolves the caller from the Authorization header,
// which may hold an API token (optionally with a "Bearer" prefix) or HTTP basic credentials. If
// successful, it updates the request context so GetIdentity will return the caller. If not, it
// returns a 401 response, or 429 if the client has made too many failed password attempts.
func Authenticate(c AuthConfig) mux.MiddlewareFunc {
	isInvalid := c.IsInvalidCredentials
	if isInvalid == nil {
		isInvalid = func(err error) bool { return errors.Is(err, ErrInvalidCredentials) }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			header := strings.TrimSpace(req.Header.Get("Authorization"))
			var id permission.Identity
			var err error
			switch {
			case header == "":
				if !c.Disabled {
					writeError(w, http.StatusUnauthorized, httpStatusMessageMissingCredentials)
					return
				}
				id = permission.Identity{Kind: permission.KindUser, Name: "anonymous", Role: model.RoleAdmin}
			case hasScheme(header, "Basic"):
				clientKey := clientAddress(req)
				if c.Limiter != nil && !c.Limiter.Allowed(clientKey) {
					writeError(w, http.StatusTooManyRequests, httpStatusMessageTooManyAttempts)
					return
				}
				id, err = authenticateUser(req.Context(), c.Users, header)
				if err != nil && c.Limiter != nil && (isInvalid(err) || errors.Is(err, errMalformedBasicAuth)) {
					c.Limiter.RecordFailure(clientKey)
				}
			default:
				id, err = resolveToken(req.Context(), c.Tokens, header)
			}
			if err != nil {
				if isInvalid(err) || errors.Is(err, errMalformedBasicAuth) {
					writeError(w, http.StatusUnauthorized, httpStatusMessageInvalidCredentials)
				} else {
					c.Loggers.Errorf("Unexpected error while authenticating request: %s", err)
					writeError(w, http.StatusInternalServerError, "Internal error")
				}
				return
			}
			next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), id)))
		})
	}
}

func hasScheme(header, scheme string) bool {
	return len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) && header[len(scheme)] == ' '
}

func authenticateUser(ctx context.Context, users PasswordAuthenticator, header string) (permission.Identity, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len("Basic "):]))
	if err != nil {
		return permission.Identity{}, errMalformedBasicAuth
	}
	login, password, ok := strings.Cut(string(decoded), ":")
	if !ok || login == "" {
		return permission.Identity{}, errMalformedBasicAuth
	}
	u, err := users.Authenticate(ctx, login, password)
	if err != nil {
		return permission.Identity{}, err
	}
	name := u.Username
	if name == "" {
		name = u.Email
	}
	return permission.Identity{Kind: permission.KindUser, UserID: u.ID, Name: name, Role: u.RootRole}, nil
}

func resolveToken(ctx context.Context, tokens TokenResolver, header string) (permission.Identity, error) {
	secret := header
	if hasScheme(header, "Bearer") {
		secret = strings.TrimSpace(header[len("Bearer "):])
	}
	tok, err := tokens.Resolve(ctx, secret)
	if err != nil {
		return permission.Identity{}, err
	}
	id := permission.Identity{Name: tok.TokenName, Projects: tok.Projects, Environment: tok.Environment}
	switch tok.Type {
	case model.TokenTypeAdmin:
		id.Kind = permission.KindAdminToken
	case model.TokenTypeFrontend:
		id.Kind = permission.KindFrontendToken
	default:
		id.Kind = permission.KindClientToken
	}
	return id, nil
}

func clientAddress(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// RequirePermission creates a middleware function that responds 403 unless the caller attached by
// Authenticate holds the permission.
func RequirePermission(p permission.Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id, ok := GetIdentity(req.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, httpStatusMessageMissingCredentials)
				return
			}
			if !permission.Check(id, p) {
				writeError(w, http.StatusForbidden, "You need permission="+p.String()+" to perform this action")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// RequireJSON is a middleware function that responds 415 to a request that has a body whose
// Content-Type is not JSON.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.ContentLength != 0 && req.Body != nil && req.Body != http.NoBody {
			mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
			if err != nil || (mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json")) {
				writeError(w, http.StatusUnsupportedMediaType, httpStatusMessageUnsupportedBody)
				return
			}
		}
		next.ServeHTTP(w, req)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(util.ErrorJSONMsg(message))
}

// LoginLimiter limits failed password logins per client address, using a token bucket for each
// address that refills at the configured number of attempts per minute.
type LoginLimiter struct {
	perMinute int
	limiters  map[string]*rate.Limiter
	lock      sync.Mutex
}

// NewLoginLimiter creates a LoginLimiter that allows perMinute failures per client address.
func NewLoginLimiter(perMinute int) *LoginLimiter {
	return &LoginLimiter{perMinute: perMinute, limiters: make(map[string]*rate.Limiter)}
}

func (l *LoginLimiter) limiter(key string) *rate.Limiter {
	l.lock.Lock()
	defer l.lock.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
		l.limiters[key] = lim
	}
	return lim
}

// Allowed reports whether the client may attempt another login.
func (l *LoginLimiter) Allowed(key string) bool {
	return l.limiter(key).Tokens() >= 1
}

// RecordFailure counts a failed login for the client.
func (l *LoginLimiter) RecordFailure(key string) {
	l.limiter(key).Allow()
}
