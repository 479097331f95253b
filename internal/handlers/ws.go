// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/tumaurmai/internal/auth"
	"github.com/jason-s-yu/tumaurmai/internal/database"
	"github.com/jason-s-yu/tumaurmai/internal/middleware"
	"github.com/jason-s-yu/tumaurmai/internal/signaling"
	"github.com/sirupsen/logrus"
)

const (
	readLimit    = 64 << 10
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
	storeTimeout = 3 * time.Second
)

// SignalingWSHandler upgrades the request and bridges the socket to the
// coordinator until either side goes away.
func SignalingWSHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.origins,
		})
		if err != nil {
			s.log.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")
		c.SetReadLimit(readLimit)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		handle, err := s.coord.Connect(ctx, r.URL.Query().Get("username"))
		if err != nil {
			s.log.Warnf("coordinator refused connection from %s: %v", remoteAddr, err)
			c.Close(CoordinatorUnavailableError, "signaling unavailable")
			return
		}
		middleware.LogWebSocketConnect(s.log, remoteAddr, r.URL.Path, handle.ID)

		go writePump(ctx, cancel, c, handle, s.log)
		err = readPump(ctx, c, handle.ID, s)

		s.coord.Disconnect(handle.ID)
		middleware.LogWebSocketDisconnect(s.log, remoteAddr, r.URL.Path, handle.ID, err)
	}
}

// readPump decodes frames and dispatches them until the socket closes.
func readPump(ctx context.Context, c *websocket.Conn, id string, s *Server) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			s.log.WithField("client", id).Debugf("Ignoring non-text message type %d", typ)
			continue
		}

		msg, err := signaling.DecodeInbound(data)
		if err != nil {
			s.log.WithField("client", id).Debugf("Invalid frame: %v", err)
			writeDirect(ctx, c, signaling.Outbound{"type": signaling.TypeError, "message": "Invalid message format"})
			continue
		}

		if msg.Type == signaling.TypeJoinRoom || msg.Type == signaling.TypeCreateRoom {
			s.prepareJoin(ctx, id, &msg)
		}

		if err := s.coord.Dispatch(ctx, id, msg); err != nil {
			return err
		}
	}
}

// prepareJoin resolves the ticket and the persisted record for a join-room
// or create-room frame so the coordinator never waits on I/O.
func (s *Server) prepareJoin(ctx context.Context, id string, msg *signaling.Inbound) {
	entry := s.log.WithFields(logrus.Fields{"client": id, "room": msg.RoomName})

	if msg.RoomToken != "" && msg.Type == signaling.TypeJoinRoom {
		ticket, err := auth.ParseRoomTicket(msg.RoomToken)
		switch {
		case err != nil:
			entry.Debugf("Rejected room ticket: %v", err)
		case ticket.Room != msg.RoomName:
			entry.Debug("Room ticket issued for a different room")
		default:
			msg.Ticket = &signaling.Ticket{Room: ticket.Room, Fingerprint: ticket.Fingerprint}
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	rec, err := s.store.GetRoom(lookupCtx, msg.RoomName)
	if err != nil {
		if !errors.Is(err, database.ErrRoomNotFound) && !errors.Is(err, database.ErrNoDatabase) {
			entry.Warnf("Room store lookup failed: %v", err)
		}
		return
	}
	stored := storedRoom(rec)
	msg.Stored = &stored
}

// writePump drains the coordinator's outbound channel onto the socket and
// keeps the connection alive with pings.
func writePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, handle *signaling.Handle, logger *logrus.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-handle.Out:
			if !ok {
				c.Close(ClientReleasedError, "connection released")
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("Failed to marshal outgoing %s for client %s: %v", msg.Type(), handle.ID, err)
				continue
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			writeCancel()
			if err != nil {
				logger.Debugf("Failed to write to websocket for client %s: %v", handle.ID, err)
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			pingCancel()
			if err != nil {
				logger.Debugf("Ping failed for client %s: %v", handle.ID, err)
				return
			}
		}
	}
}

// writeDirect sends a frame that the coordinator never sees, such as a parse
// error. Conn.Write is safe for concurrent use with writePump.
func writeDirect(ctx context.Context, c *websocket.Conn, msg signaling.Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = c.Write(writeCtx, websocket.MessageText, data)
}
