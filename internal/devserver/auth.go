package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskmate/internal/domain"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID int64
	TypeID int
}

func (p Principal) isAgent() bool { return p.TypeID == domain.UserTypeAgent }

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != 0
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email  string `json:"email,omitempty"`
	TypeID int    `json:"tipo"`
}

func signToken(secret string, p domain.UserProfile, now time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: p.Email,
	}
	if p.Type != nil {
		claims.TypeID = p.Type.ID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateJWT(token, secret string, now func() time.Time) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, errors.New("subject claim must be a user id")
	}
	return Principal{UserID: id, TypeID: claims.TypeID}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware requires a valid bearer token on every route under
// basePath except the Auth endpoints. Tokens of deleted users are rejected.
func newAuthMiddleware(basePath string, secret string, now func() time.Time, users *memStore) func(http.Handler) http.Handler {
	open := path.Join(basePath, "Auth") + "/"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || strings.HasPrefix(req.URL.Path, open) {
				next.ServeHTTP(w, req)
				return
			}
			token, ok := bearerToken(req.Header.Get("Authorization"))
			if !ok {
				respondEnvelopeError(w, newError(http.StatusUnauthorized, "Token não informado"))
				return
			}
			principal, err := authenticateJWT(token, secret, now)
			if err != nil {
				respondEnvelopeError(w, newError(http.StatusUnauthorized, "Token inválido ou expirado"))
				return
			}
			if _, ok := users.user(principal.UserID); !ok {
				respondEnvelopeError(w, newError(http.StatusUnauthorized, "Usuário não encontrado"))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondEnvelopeError(w http.ResponseWriter, err *envelopeError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.status)
	_ = json.NewEncoder(w).Encode(err)
}
