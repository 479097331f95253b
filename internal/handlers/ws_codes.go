// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the signaling handler.
const (
	CoordinatorUnavailableError = 3000 // The coordinator has stopped; the client should reconnect later.
	ClientReleasedError         = 3001 // The coordinator released this connection.
)
