package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func TestCredentialFromRequest(t *testing.T) {
	tcases := []struct {
		name      string
		setup     func(r *http.Request)
		expected  string
		expectErr bool
	}{
		{
			name: "cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: "abc"})
			},
			expected: "abc",
		},
		{
			name: "bearer header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer xyz")
			},
			expected: "xyz",
		},
		{
			name: "cookie wins over header",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: "abc"})
				r.Header.Set("Authorization", "Bearer xyz")
			},
			expected: "abc",
		},
		{
			name:      "no credential",
			setup:     func(r *http.Request) {},
			expectErr: true,
		},
		{
			name: "malformed header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
			},
			expectErr: true,
		},
		{
			name: "query parameter is ignored",
			setup: func(r *http.Request) {
				r.URL.RawQuery = "token=abc"
			},
			expectErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tc.setup(req)

			cred, err := CredentialFromRequest(req)
			if tc.expectErr {
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, cred)
		})
	}
}

func TestUserIdFromToken(t *testing.T) {
	r := NewResolver(nil, testKey)

	valid, err := r.IssueToken(42, time.Hour)
	require.NoError(t, err)

	expired, err := r.IssueToken(42, -time.Hour)
	require.NoError(t, err)

	otherKey, err := NewResolver(nil, []byte("other")).IssueToken(42, time.Hour)
	require.NoError(t, err)

	noClaim, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		expClaim: time.Now().Add(time.Hour).Unix(),
	}).SignedString(testKey)
	require.NoError(t, err)

	tcases := []struct {
		name     string
		token    string
		expected int
		err      error
	}{
		{name: "valid", token: valid, expected: 42},
		{name: "empty", token: "", err: ErrUnauthenticated},
		{name: "expired", token: expired, err: ErrInvalidCredential},
		{name: "wrong key", token: otherKey, err: ErrInvalidCredential},
		{name: "garbage", token: "not-a-jwt", err: ErrInvalidCredential},
		{name: "missing user claim", token: noClaim, err: ErrInvalidCredential},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := r.UserIdFromToken(tc.token)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, id)
		})
	}
}

func TestResolve(t *testing.T) {
	token, err := NewResolver(nil, testKey).IssueToken(7, time.Hour)
	require.NoError(t, err)

	t.Run("resolves existing user", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", mock.Anything, 7).Return(database.User{
			Id:        7,
			Username:  "alice",
			AvatarUrl: sql.NullString{String: "a.png", Valid: true},
		}, nil)

		user, err := NewResolver(db, testKey).Resolve(context.Background(), token)
		assert.NoError(t, err)
		assert.Equal(t, 7, user.Id)
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, "a.png", user.AvatarUrl)
		assert.Equal(t, types.StatusOffline, user.Status)
	})

	t.Run("user no longer exists", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", mock.Anything, 7).Return(database.User{}, sql.ErrNoRows)

		_, err := NewResolver(db, testKey).Resolve(context.Background(), token)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("store failure", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", mock.Anything, 7).Return(database.User{}, errors.New("boom"))

		_, err := NewResolver(db, testKey).Resolve(context.Background(), token)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("invalid credential never reaches store", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)

		_, err := NewResolver(db, testKey).Resolve(context.Background(), "bad")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})
}

func TestAuthenticate(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)

	r := NewResolver(db, testKey)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, err := r.Authenticate(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
