package rpc

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"bountychain/observability/logging"
)

// AdminScope must appear in the scope claim of tokens presented to admin
// methods.
const AdminScope = "bounty:admin"

type adminAuthenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

func newAdminAuthenticator(secret, issuer string, skew time.Duration) *adminAuthenticator {
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &adminAuthenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		issuer:    strings.TrimSpace(issuer),
		clockSkew: skew,
	}
}

func (s *Server) requireAdmin(r *http.Request) *RPCError {
	if len(s.admin.secret) == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "admin authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if err := s.admin.verify(token); err != nil {
		s.logger.Warn("admin token rejected",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
			slog.String("authorization", logging.MaskBearer(header)))
		return &RPCError{Code: codeUnauthorized, Message: "invalid admin credentials"}
	}
	return nil
}

func (a *adminAuthenticator) verify(tokenString string) error {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("claims not map")
	}
	if !hasScope(extractScopes(claims), AdminScope) {
		return errors.New("missing admin scope")
	}
	return nil
}

func extractScopes(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScope(scopes []string, want string) bool {
	for _, scope := range scopes {
		if scope == want {
			return true
		}
	}
	return false
}

// IssueAdminToken mints a short-lived HS256 token carrying AdminScope.
func IssueAdminToken(secret, issuer string, ttl time.Duration) (string, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return "", errors.New("admin secret required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"scope": AdminScope,
		"iat":   now.Unix(),
		"nbf":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(trimmed))
}
