package gateway

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
	"github.com/wharfdev/wharf/pkg/storage"
)

type ctxKey string

const principalContextKey ctxKey = "wharf-gateway-principal"

// requestPrincipal identifies the authenticated caller of a request.
type requestPrincipal struct {
	Name    string `json:"name"`
	Scope   string `json:"scope"`
	TokenID string `json:"tokenId,omitempty"`
}

// scopeRank maps token scopes to their authorization level.
var scopeRank = map[string]int{
	storage.TokenScopeRead:  0,
	storage.TokenScopeWrite: 1,
}

func principalFromContext(ctx context.Context) *requestPrincipal {
	if ctx == nil {
		return nil
	}
	if p, ok := ctx.Value(principalContextKey).(*requestPrincipal); ok {
		return p
	}
	return nil
}

// corsMiddleware adds CORS headers based on allowed origins configuration.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowed, wildcard := s.isOriginAllowed(origin); allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if !wildcard {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware adds standard security headers to responses.
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller's principal and short-circuits
// unauthorized requests. Token validity is checked against storage on
// every request: a revocation takes effect immediately.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.authorize(r)
		if err != nil {
			s.countAuthFailure(err)
			respondError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize validates the request and returns the associated principal.
func (s *Server) authorize(r *http.Request) (*requestPrincipal, error) {
	if principal := principalFromContext(r.Context()); principal != nil {
		return principal, nil
	}
	token, fromQuery := extractBearerToken(r)
	if fromQuery && !isWebSocketUpgrade(r) && !isLoopbackBindAddress(s.cfg.Bind) {
		token = ""
	}
	if token == "" {
		if s.cfg.RequireToken {
			return nil, wharferrors.New(wharferrors.ErrCodeMissingToken, "no bearer token presented")
		}
		return &requestPrincipal{Name: "anonymous", Scope: storage.TokenScopeRead}, nil
	}
	record, err := s.store.Authenticate(token)
	if err != nil {
		if wharferrors.CodeOf(err) == wharferrors.ErrCodeInternal {
			return nil, wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "authenticate token")
		}
		return nil, err
	}
	return &requestPrincipal{Name: record.Name, Scope: record.Scope, TokenID: record.ID}, nil
}

// requireScope checks that the request principal has at least the
// required scope.
func (s *Server) requireScope(w http.ResponseWriter, r *http.Request, required string) (*requestPrincipal, bool) {
	p := principalFromContext(r.Context())
	if p == nil {
		s.countAuthFailure(wharferrors.New(wharferrors.ErrCodeMissingToken, ""))
		respondError(w, wharferrors.New(wharferrors.ErrCodeMissingToken, "no bearer token presented"))
		return nil, false
	}
	if scopeRank[strings.ToLower(p.Scope)] < scopeRank[strings.ToLower(required)] {
		err := wharferrors.Newf(wharferrors.ErrCodeWriteScopeRequired, "scope %q cannot perform this operation", p.Scope)
		s.countAuthFailure(err)
		respondError(w, err)
		return nil, false
	}
	return p, true
}

// requireWrite enforces the two-key rule for mutating operations: the
// token must carry write scope AND the global writes gate must be open.
// The gate is read fresh from storage so flipping it applies to the very
// next request.
func (s *Server) requireWrite(w http.ResponseWriter, r *http.Request) (*requestPrincipal, bool) {
	p, ok := s.requireScope(w, r, storage.TokenScopeWrite)
	if !ok {
		return nil, false
	}
	allowed, err := s.allowWrites()
	if err != nil {
		respondError(w, wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "read allow_writes setting"))
		return nil, false
	}
	if !allowed {
		err := wharferrors.New(wharferrors.ErrCodeWritesDisabled, "gateway writes are disabled")
		s.countAuthFailure(err)
		respondError(w, err)
		return nil, false
	}
	return p, true
}

// extractBearerToken extracts a bearer token from the Authorization
// header or the token query param.
func extractBearerToken(r *http.Request) (token string, fromQuery bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[len("Bearer "):]), false
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, true
	}
	return "", false
}

// isWebSocketUpgrade reports whether the request is a WS handshake.
// Browsers cannot set Authorization headers on WebSocket connections, so
// the token query param is honored there regardless of bind address.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

// isOriginAllowed checks the provided origin against the allowed list.
func (s *Server) isOriginAllowed(origin string) (allowed bool, wildcard bool) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false, false
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false, false
	}
	normalized := strings.ToLower(parsed.Scheme) + "://" + parsed.Host

	wildcardPresent := false
	for _, allowedOrigin := range s.cfg.AllowedOrigins {
		allowedOrigin = strings.TrimSpace(allowedOrigin)
		if allowedOrigin == "" {
			continue
		}
		if allowedOrigin == "*" {
			wildcardPresent = true
			continue
		}
		if strings.EqualFold(allowedOrigin, origin) || strings.EqualFold(allowedOrigin, normalized) {
			return true, false
		}
	}
	if wildcardPresent {
		return true, true
	}
	return false, false
}

// isWebSocketOriginAllowed checks a WebSocket upgrade's Origin header.
// Non-browser clients send no Origin and pass.
func (s *Server) isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err == nil && parsed.Host != "" && strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	allowed, _ := s.isOriginAllowed(origin)
	return allowed
}
