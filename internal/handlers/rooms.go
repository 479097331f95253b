// internal/handlers/rooms.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jason-s-yu/tumaurmai/internal/auth"
	"github.com/jason-s-yu/tumaurmai/internal/database"
	"github.com/jason-s-yu/tumaurmai/internal/models"
	"github.com/jason-s-yu/tumaurmai/internal/signaling"
)

type createRoomRequest struct {
	RoomName string `json:"roomName"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type verifyRoomRequest struct {
	RoomName string `json:"roomName"`
	Password string `json:"password"`
}

// CreateRoomHandler persists a new private room and returns a ticket for it.
// The room becomes live when the first client joins over the WebSocket.
func CreateRoomHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.RoomName = strings.TrimSpace(req.RoomName)
		if err := signaling.ValidateRoomName(req.RoomName); err != nil {
			writeError(w, http.StatusBadRequest, signaling.RoomErrorMessage(err))
			return
		}
		if err := signaling.ValidatePassword(req.Password); err != nil {
			writeError(w, http.StatusBadRequest, signaling.RoomErrorMessage(err))
			return
		}

		_, err := s.coord.RoomSnapshot(r.Context(), req.RoomName)
		switch {
		case err == nil:
			writeError(w, http.StatusConflict, signaling.RoomErrorMessage(signaling.ErrAlreadyExists))
			return
		case !isAbsent(err):
			writeError(w, http.StatusServiceUnavailable, "signaling unavailable")
			return
		}

		hash, err := auth.CreateHash(req.Password, s.params)
		if err != nil {
			s.log.Errorf("hash room password: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		now := s.now()
		room := &models.Room{
			Name:          req.RoomName,
			PasswordHash:  hash,
			CreatedByName: strings.TrimSpace(req.Username),
			CreatedAt:     now,
			ExpiresAt:     now.Add(s.ttl),
		}
		if err := s.store.InsertRoom(r.Context(), room); err != nil {
			if errors.Is(err, database.ErrRoomExists) {
				writeError(w, http.StatusConflict, signaling.RoomErrorMessage(signaling.ErrAlreadyExists))
				return
			}
			s.log.Errorf("insert room %q: %v", room.Name, err)
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}

		// a WebSocket create-room may have taken the name since the check above
		if err := s.coord.ReserveRoom(r.Context(), storedRoom(room)); err != nil {
			if derr := s.store.DeleteRoom(context.WithoutCancel(r.Context()), room.Name); derr != nil {
				s.log.Errorf("roll back room %q: %v", room.Name, derr)
			}
			if errors.Is(err, signaling.ErrAlreadyExists) {
				writeError(w, http.StatusConflict, signaling.RoomErrorMessage(err))
				return
			}
			writeError(w, http.StatusServiceUnavailable, "signaling unavailable")
			return
		}

		ticket, err := auth.CreateRoomTicket(room.Name, auth.Fingerprint(hash))
		if err != nil {
			s.log.Errorf("create room ticket: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		s.log.WithField("room", room.Name).Info("Room created over HTTP")
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"success":   true,
			"roomName":  room.Name,
			"expiresAt": room.ExpiresAt,
			"ticket":    ticket,
		})
	}
}

// VerifyRoomHandler checks a room password and returns a ticket on success.
func VerifyRoomHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRoomRequest
		err := decodeBody(w, r, &req)
		req.RoomName = strings.TrimSpace(req.RoomName)
		if err != nil || req.RoomName == "" {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		fingerprint, status, err := s.verifyRoom(r, req)
		if err != nil {
			writeError(w, status, signaling.RoomErrorMessage(err))
			return
		}
		ticket, err := auth.CreateRoomTicket(req.RoomName, fingerprint)
		if err != nil {
			s.log.Errorf("create room ticket: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to verify room")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"ticket":  ticket,
		})
	}
}

// verifyRoom prefers the live room and falls back to the store. Password
// hashes are compared on the request goroutine.
func (s *Server) verifyRoom(r *http.Request, req verifyRoomRequest) (string, int, error) {
	info, err := s.coord.VerifyRoom(r.Context(), req.RoomName, req.Password)
	switch {
	case err == nil:
		if info.Participants >= info.MaxParticipants {
			return "", http.StatusConflict, signaling.ErrFull
		}
		return info.Fingerprint, http.StatusOK, nil
	case errors.Is(err, signaling.ErrBadPassword):
		return "", http.StatusUnauthorized, err
	case !isAbsent(err):
		return "", http.StatusServiceUnavailable, err
	}
	liveExpired := errors.Is(err, signaling.ErrExpired)

	rec, err := s.store.GetRoom(r.Context(), req.RoomName)
	if errors.Is(err, database.ErrRoomNotFound) || errors.Is(err, database.ErrNoDatabase) {
		if liveExpired {
			return "", http.StatusGone, signaling.ErrExpired
		}
		return "", http.StatusNotFound, signaling.ErrNotFound
	}
	if err != nil {
		s.log.Errorf("get room %q: %v", req.RoomName, err)
		return "", http.StatusInternalServerError, err
	}
	if rec.Expired(s.now()) {
		return "", http.StatusGone, signaling.ErrExpired
	}
	ok, err := auth.ComparePasswordAndHash(req.Password, rec.PasswordHash)
	if err != nil || !ok {
		return "", http.StatusUnauthorized, signaling.ErrBadPassword
	}
	return auth.Fingerprint(rec.PasswordHash), http.StatusOK, nil
}

type roomInfoResponse struct {
	RoomName        string    `json:"roomName"`
	Live            bool      `json:"live"`
	Participants    int       `json:"participants"`
	MaxParticipants int       `json:"maxParticipants"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// RoomInfoHandler reports whether a room exists and how full it is.
func RoomInfoHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		info, err := s.coord.RoomSnapshot(r.Context(), name)
		if err != nil && !isAbsent(err) {
			writeError(w, http.StatusServiceUnavailable, "signaling unavailable")
			return
		}
		if err == nil {
			writeJSON(w, http.StatusOK, roomInfoResponse{
				RoomName:        info.Name,
				Live:            true,
				Participants:    info.Participants,
				MaxParticipants: info.MaxParticipants,
				CreatedAt:       info.CreatedAt,
				ExpiresAt:       info.ExpiresAt,
			})
			return
		}

		liveExpired := errors.Is(err, signaling.ErrExpired)

		rec, err := s.store.GetRoom(r.Context(), name)
		if err != nil {
			if !errors.Is(err, database.ErrRoomNotFound) && !errors.Is(err, database.ErrNoDatabase) {
				s.log.Errorf("get room %q: %v", name, err)
			}
			if liveExpired {
				writeError(w, http.StatusGone, signaling.RoomErrorMessage(signaling.ErrExpired))
				return
			}
			writeError(w, http.StatusNotFound, signaling.RoomErrorMessage(signaling.ErrNotFound))
			return
		}
		if rec.Expired(s.now()) {
			writeError(w, http.StatusGone, signaling.RoomErrorMessage(signaling.ErrExpired))
			return
		}
		writeJSON(w, http.StatusOK, roomInfoResponse{
			RoomName:        rec.Name,
			MaxParticipants: s.maxSize,
			CreatedAt:       rec.CreatedAt,
			ExpiresAt:       rec.ExpiresAt,
		})
	}
}

// isAbsent reports whether err only says there is no live room.
func isAbsent(err error) bool {
	return errors.Is(err, signaling.ErrNotFound) || errors.Is(err, signaling.ErrExpired)
}

func storedRoom(rec *models.Room) signaling.StoredRoom {
	return signaling.StoredRoom{
		Name:         rec.Name,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
	}
}
