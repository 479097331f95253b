// internal/handlers/ice.go
package handlers

import "net/http"

type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// iceServers expands the configured STUN list and optional TURN host into the
// RTCIceServer shape browsers expect.
func (c ICEConfig) iceServers() []iceServer {
	servers := make([]iceServer, 0, 2)
	if len(c.STUNServers) > 0 {
		servers = append(servers, iceServer{URLs: c.STUNServers})
	}
	if c.TURNServer != "" {
		servers = append(servers, iceServer{
			URLs: []string{
				c.TURNServer + ":3478?transport=udp",
				c.TURNServer + ":3478?transport=tcp",
			},
			Username:   c.TURNUsername,
			Credential: c.TURNCredential,
		})
	}
	return servers
}

// ICEServersHandler returns the STUN/TURN configuration for peer connections.
func ICEServersHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"iceServers": s.ice.iceServers(),
		})
	}
}

// HealthHandler reports coordinator liveness and counters.
func HealthHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.coord.Stats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"clients":  stats.Clients,
			"waiting":  stats.Waiting,
			"sessions": stats.Sessions,
			"rooms":    stats.Rooms,
		})
	}
}
