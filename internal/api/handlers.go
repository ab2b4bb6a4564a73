package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatserver/internal/types"
)

type PresenceResponse struct {
	UserId int                  `json:"user_id"`
	Status types.PresenceStatus `json:"status"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GoChatApp) statusOf(ctx context.Context, userId int) types.PresenceStatus {
	status := s.cs.Sessions().Presence(userId)
	if status != types.StatusOffline || s.lastStatus == nil {
		return status
	}

	last, err := s.lastStatus.LastStatus(ctx, userId)
	if err != nil {
		s.log.Warn().Err(err).Int("user_id", userId).Msg("read last status")
		return status
	}
	return last
}

// presence reports the live status of the caller or one of their friends.
func (s *GoChatApp) presence(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	targetId := userId
	if q := r.URL.Query().Get("user_id"); q != "" {
		id, err := strconv.Atoi(q)
		if err != nil || id <= 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		targetId = id
	}

	if targetId != userId {
		friends, err := s.db.FriendshipExists(r.Context(), userId, targetId)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if !friends {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	s.writeJson(w, http.StatusOK, PresenceResponse{
		UserId: targetId,
		Status: s.statusOf(r.Context(), targetId),
	})
}

// serveWs authenticates the handshake before upgrading so rejected
// clients get a plain HTTP error.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.handshakeTimeout)
	defer cancel()

	user, err := s.cs.Authenticate(ctx, r)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket handshake rejected")
		errResp := authError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: s.handshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Int("user_id", user.Id).Msg("upgrade connection")
		return
	}

	if _, err := s.cs.Serve(ctx, conn, user); err != nil {
		s.log.Error().Err(err).Int("user_id", user.Id).Msg("serve websocket")
	}
}
