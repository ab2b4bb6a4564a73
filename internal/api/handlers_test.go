package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatserver/internal/auth"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name       string
		mockErr    error
		statusCode int
	}{
		{"successful health check", nil, http.StatusOK},
		{"failed health check", errors.New("db error"), http.StatusServiceUnavailable},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo := newTestApp(t)
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping", mock.Anything).Return(tc.mockErr).Once()

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.mockErr == nil {
				assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
			}
		})
	}
}

func Test_presence(t *testing.T) {
	tcases := []struct {
		name       string
		query      string
		friends    *bool
		friendErr  error
		statusCode int
	}{
		{name: "own status", statusCode: http.StatusOK},
		{name: "malformed user id", query: "?user_id=abc", statusCode: http.StatusBadRequest},
		{name: "friend status", query: "?user_id=2", friends: ptr(true), statusCode: http.StatusOK},
		{name: "not a friend", query: "?user_id=2", friends: ptr(false), statusCode: http.StatusForbidden},
		{name: "db error", query: "?user_id=2", friends: ptr(false), friendErr: errors.New("db error"), statusCode: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			if tc.friends != nil {
				mockRepo.On("FriendshipExists", mock.Anything, 1, 2).Return(*tc.friends, tc.friendErr).Once()
			}

			req := httptest.NewRequest(http.MethodGet, "/api/presence"+tc.query, nil)
			req = req.WithContext(WithUserId(req.Context(), 1))
			rr := httptest.NewRecorder()
			app.presence(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusOK {
				var resp PresenceResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.Equal(t, types.StatusOffline, resp.Status)
			}
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

func Test_serveWs(t *testing.T) {
	mockUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "testuser@example.com",
		CreatedAt:    time.Now().UTC(),
	}

	t.Run("authenticated upgrade registers a session", func(t *testing.T) {
		app, mockRepo := newTestApp(t)
		mockRepo.On("GetAccountById", mock.Anything, 1).Return(mockUser, nil).Once()

		srv := httptest.NewServer(http.HandlerFunc(app.serveWs))
		defer srv.Close()

		token, err := app.resolver.IssueToken(1, time.Hour)
		require.NoError(t, err)

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		header.Set("Origin", "http://localhost:3000")

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		assert.Eventually(t, func() bool {
			return app.cs.Sessions().IsOnline(1)
		}, time.Second, 5*time.Millisecond)

		req := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.presence(rr, req)

		var presence PresenceResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&presence))
		assert.Equal(t, types.StatusOnline, presence.Status)

		conn.Close()
		assert.Eventually(t, func() bool {
			return !app.cs.Sessions().IsOnline(1)
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("disallowed origin is rejected", func(t *testing.T) {
		app, mockRepo := newTestApp(t)
		mockRepo.On("GetAccountById", mock.Anything, 1).Return(mockUser, nil).Once()

		srv := httptest.NewServer(http.HandlerFunc(app.serveWs))
		defer srv.Close()

		token, err := app.resolver.IssueToken(1, time.Hour)
		require.NoError(t, err)

		header := http.Header{}
		header.Set("Cookie", (&http.Cookie{Name: auth.TokenCookieKey, Value: token}).String())
		header.Set("Origin", "http://evil.example.com")

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.False(t, app.cs.Sessions().IsOnline(1))
	})

	errorTestCases := []struct {
		name        string
		token       func(app *GoChatApp) string
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:        "missing credential",
			token:       func(*GoChatApp) string { return "" },
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "invalid credential",
			token:       func(*GoChatApp) string { return "not-a-jwt" },
			expectedErr: NewUnauthorizedError(),
		},
		{
			name: "user not found",
			token: func(app *GoChatApp) string {
				tok, _ := app.resolver.IssueToken(1, time.Hour)
				return tok
			},
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name: "db error",
			token: func(app *GoChatApp) string {
				tok, _ := app.resolver.IssueToken(1, time.Hour)
				return tok
			},
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range errorTestCases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			if tc.mockErr != nil {
				mockRepo.On("GetAccountById", mock.Anything, 1).Return(database.User{}, tc.mockErr).Once()
			}

			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tok := tc.token(app); tok != "" {
				req.AddCookie(&http.Cookie{Name: auth.TokenCookieKey, Value: tok})
			}

			rr := httptest.NewRecorder()
			app.serveWs(rr, req)

			var apiErr ApiError
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr), "failed to decode ApiError response")
			assert.Equal(t, apiErr.StatusCode, rr.Code)
			assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError to match")
			assert.Equal(t, 0, app.cs.Sessions().OnlineCount(), "no session is created for a rejected handshake")
		})
	}
}

type fakeLastStatus struct {
	statuses map[int]types.PresenceStatus
	err      error
}

func (f *fakeLastStatus) LastStatus(_ context.Context, userId int) (types.PresenceStatus, error) {
	if f.err != nil {
		return "", f.err
	}
	if status, ok := f.statuses[userId]; ok {
		return status, nil
	}
	return types.StatusOffline, nil
}

func Test_presence_LastStatusFallback(t *testing.T) {
	tcases := []struct {
		name     string
		reader   *fakeLastStatus
		expected types.PresenceStatus
	}{
		{"status recorded elsewhere", &fakeLastStatus{statuses: map[int]types.PresenceStatus{2: types.StatusBusy}}, types.StatusBusy},
		{"nothing recorded", &fakeLastStatus{}, types.StatusOffline},
		{"reader error keeps live status", &fakeLastStatus{err: errors.New("redis down")}, types.StatusOffline},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo := newTestApp(t)
			app.UseLastStatus(tc.reader)
			mockRepo.On("FriendshipExists", mock.Anything, 1, 2).Return(true, nil).Once()

			req := httptest.NewRequest(http.MethodGet, "/api/presence?user_id=2", nil)
			req = req.WithContext(WithUserId(req.Context(), 1))
			rr := httptest.NewRecorder()
			app.presence(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			var resp PresenceResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, 2, resp.UserId)
			assert.Equal(t, tc.expected, resp.Status)
		})
	}
}

func Test_statusOf_PrefersLiveSessions(t *testing.T) {
	app, mockRepo := newTestApp(t)
	app.UseLastStatus(&fakeLastStatus{statuses: map[int]types.PresenceStatus{1: types.StatusOffline}})
	mockRepo.On("GetAccountById", mock.Anything, 1).Return(database.User{Id: 1, Username: "testuser"}, nil)

	srv := httptest.NewServer(http.HandlerFunc(app.serveWs))
	defer srv.Close()

	token, err := app.resolver.IssueToken(1, time.Hour)
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return app.cs.Sessions().IsOnline(1)
	}, time.Second, 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req = req.WithContext(WithUserId(req.Context(), 1))
	rr := httptest.NewRecorder()
	app.session(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var u types.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
	assert.Equal(t, types.StatusOnline, u.Status, "a live session wins over the recorded status")
}
