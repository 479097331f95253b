// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// privateKey and publicKey sign and verify room tickets.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TicketTTL is how long a room ticket stays valid (0 => no exp claim).
	TicketTTL = 24 * time.Hour
)

// ErrTicketInvalid is returned for any ticket that fails verification.
var ErrTicketInvalid = errors.New("invalid room ticket")

// RoomTicket is the verified content of a room ticket.
type RoomTicket struct {
	Room        string
	Fingerprint string
	IssuedAt    time.Time
}

// parseTicketTTL reads TOKEN_EXPIRE_TIME ("never", "0" or a Go duration).
func parseTicketTTL() error {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	switch duration {
	case "":
		return nil
	case "never", "0":
		TicketTTL = 0
		return nil
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return fmt.Errorf("failed to parse TOKEN_EXPIRE_TIME: %w", err)
	}
	TicketTTL = d
	return nil
}

// Init generates a fresh ed25519 key pair at runtime and sets the ticket lifetime.
// Tickets issued before a restart stop verifying, which matches the lifetime
// of live rooms.
func Init() error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return parseTicketTTL()
}

// InitFromPath reads ed25519 private/public keys from file and sets the ticket lifetime.
func InitFromPath(privatePath, publicPath string) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return fmt.Errorf("unexpected ed25519 key sizes %d/%d", len(privateKeyData), len(publicKeyData))
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	return parseTicketTTL()
}

// CreateRoomTicket signs a ticket for room bound to the fingerprint of the
// room's stored password hash.
func CreateRoomTicket(room, fingerprint string) (string, error) {
	if privateKey == nil {
		return "", errors.New("auth keys not initialised")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": room,
		"fp":  fingerprint,
		"iat": now.Unix(),
	}
	if TicketTTL > 0 {
		claims["exp"] = now.Add(TicketTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// ParseRoomTicket verifies a ticket string and returns its claims.
func ParseRoomTicket(tokenString string) (*RoomTicket, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTicketInvalid, err)
	}
	if !t.Valid {
		return nil, ErrTicketInvalid
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTicketInvalid
	}
	room, _ := claims["sub"].(string)
	fp, _ := claims["fp"].(string)
	if room == "" || fp == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrTicketInvalid)
	}

	ticket := &RoomTicket{Room: room, Fingerprint: fp}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		ticket.IssuedAt = iat.Time
	}
	return ticket, nil
}
