// Package auth resolves bearer credentials carried by HTTP and websocket
// handshakes into user identities.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/types"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUserNotFound      = errors.New("user not found")
)

const (
	TokenCookieKey = "token"

	userIdClaim = "user-id"
	expClaim    = "exp"
)

// AccountStore is the slice of the repository the resolver needs.
type AccountStore interface {
	GetAccountById(ctx context.Context, accountId int) (database.User, error)
}

type Resolver struct {
	store      AccountStore
	signingKey []byte
}

func NewResolver(store AccountStore, signingKey []byte) *Resolver {
	return &Resolver{
		store:      store,
		signingKey: signingKey,
	}
}

// CredentialFromRequest extracts the bearer credential from the token cookie
// or the Authorization header. Query parameters are never consulted so that
// credentials stay out of access logs.
func CredentialFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(TokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrUnauthenticated
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrUnauthenticated)
	}

	return strings.TrimSpace(token), nil
}

// UserIdFromToken verifies the token signature and expiry and returns the
// user id claim.
func (r *Resolver) UserIdFromToken(tokenString string) (int, error) {
	if tokenString == "" {
		return 0, ErrUnauthenticated
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	if !token.Valid {
		return 0, ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: invalid token claims", ErrInvalidCredential)
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok || userId <= 0 {
		return 0, fmt.Errorf("%w: invalid user id claim", ErrInvalidCredential)
	}

	return int(userId), nil
}

// Resolve maps a credential to the account it was issued for.
func (r *Resolver) Resolve(ctx context.Context, credential string) (types.User, error) {
	userId, err := r.UserIdFromToken(credential)
	if err != nil {
		return types.User{}, err
	}

	dbUser, err := r.store.GetAccountById(ctx, userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, fmt.Errorf("get account: %w", err)
	}

	return ToUser(dbUser), nil
}

// Authenticate resolves the credential attached to an HTTP request.
func (r *Resolver) Authenticate(ctx context.Context, req *http.Request) (types.User, error) {
	credential, err := CredentialFromRequest(req)
	if err != nil {
		return types.User{}, err
	}

	return r.Resolve(ctx, credential)
}

func (r *Resolver) IssueToken(userId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(r.signingKey)
}

func ToUser(u database.User) types.User {
	user := types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		AvatarUrl:    u.AvatarUrl.String,
		Status:       types.StatusOffline,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt.Time,
	}
	if u.Status.Valid {
		user.Status = types.PresenceStatus(u.Status.String)
	}

	return user
}
