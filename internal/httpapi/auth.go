package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "tech-biz-flow"

// Principal is the caller a request acts for. Every engine call made by a
// handler is scoped to Principal.AccountID.
type Principal struct {
	AccountID string `json:"account_id"`
	Staff     string `json:"staff"`
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	AccountID string `json:"account_id"`
}

func NewAuthManager(secret string, tokenTTL time.Duration) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// IssueToken signs a token for staff working on accountID. Accounts and staff
// are managed elsewhere; this is used by operator tooling and tests.
func (a *AuthManager) IssueToken(accountID string, staff string) (string, time.Time, error) {
	accountID = strings.TrimSpace(accountID)
	staff = strings.TrimSpace(staff)
	if accountID == "" || staff == "" {
		return "", time.Time{}, errors.New("account and staff are required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(a.tokenTTL)
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   staff,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		AccountID: accountID,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (Principal, error) {
	claims := &staffClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Principal{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, errors.New("invalid token subject")
	}
	if strings.TrimSpace(claims.AccountID) == "" {
		return Principal{}, errors.New("token carries no account")
	}
	return Principal{AccountID: claims.AccountID, Staff: sub}, nil
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		principal, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			a.writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}
