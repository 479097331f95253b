package signaling

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jason-s-yu/tumaurmai/internal/auth"
)

const (
	DefaultRoomTTL         = 24 * time.Hour
	DefaultMaxParticipants = 10

	MaxRoomNameLength = 50
	MinPasswordLength = 4
	MaxPasswordLength = 50
)

// RoomConfig tunes the room registry.
type RoomConfig struct {
	TTL             time.Duration
	MaxParticipants int
	HashParams      *auth.Params
}

func (c RoomConfig) withDefaults() RoomConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultRoomTTL
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = DefaultMaxParticipants
	}
	if c.HashParams == nil {
		c.HashParams = auth.RoomParams
	}
	return c
}

// Room is a live private room.
type Room struct {
	Name      string
	Members   []string // join order
	CreatedAt time.Time
	ExpiresAt time.Time

	passwordHash string
}

// Fingerprint identifies the room's key for ticket checks.
func (r *Room) Fingerprint() string {
	return auth.Fingerprint(r.passwordHash)
}

func (r *Room) expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *Room) has(id string) bool {
	for _, m := range r.Members {
		if m == id {
			return true
		}
	}
	return false
}

func (r *Room) others(id string) []string {
	out := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

// StoredRoom is a room record committed by the persistence layer.
type StoredRoom struct {
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (rec StoredRoom) expiredAt(now time.Time) bool {
	return !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt)
}

// Credential proves knowledge of a room key: either the clear password or
// the fingerprint from a verified room ticket.
type Credential struct {
	Password    string
	Fingerprint string
}

// RoomRegistry owns every live room, keyed by name. It also remembers names
// committed to the store but not yet live, and names of recently expired rooms.
type RoomRegistry struct {
	cfg      RoomConfig
	clients  *ConnectionRegistry
	rooms    map[string]*Room
	byClient map[string]string
	reserved map[string]StoredRoom
	expired  map[string]time.Time // name -> eviction time
	now      func() time.Time

	// OnEvict runs when a room is evicted for expiry, with its members at the
	// time of eviction.
	OnEvict func(room *Room)
}

// NewRoomRegistry returns an empty registry.
func NewRoomRegistry(cfg RoomConfig, clients *ConnectionRegistry, now func() time.Time) *RoomRegistry {
	if now == nil {
		now = time.Now
	}
	return &RoomRegistry{
		cfg:      cfg.withDefaults(),
		clients:  clients,
		rooms:    make(map[string]*Room),
		byClient: make(map[string]string),
		reserved: make(map[string]StoredRoom),
		expired:  make(map[string]time.Time),
		now:      now,
	}
}

// Config returns the effective configuration.
func (rr *RoomRegistry) Config() RoomConfig {
	return rr.cfg
}

// ValidateRoomName checks the name bounds.
func ValidateRoomName(name string) error {
	n := utf8.RuneCountInString(name)
	if strings.TrimSpace(name) == "" || n > MaxRoomNameLength {
		return ErrInvalidRoomName
	}
	return nil
}

// ValidatePassword checks the password bounds.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return ErrInvalidPassword
	}
	return nil
}

// Lookup returns the live room called name. An expired room is evicted and
// reported as absent.
func (rr *RoomRegistry) Lookup(name string) (*Room, bool) {
	r, err := rr.Find(name)
	return r, err == nil
}

// Find returns the live room called name. It returns ErrExpired for a room
// that outlived its TTL, evicting it if that has not happened yet, and
// ErrNotFound otherwise.
func (rr *RoomRegistry) Find(name string) (*Room, error) {
	r, ok := rr.rooms[name]
	if !ok {
		if _, gone := rr.expired[name]; gone {
			return nil, ErrExpired
		}
		return nil, ErrNotFound
	}
	if r.expired(rr.now()) {
		rr.evict(r)
		return nil, ErrExpired
	}
	return r, nil
}

// Key returns the password hash guarding name: the live room's, or else the
// reserved record's. It never evicts.
func (rr *RoomRegistry) Key(name string) (string, bool) {
	now := rr.now()
	if r, ok := rr.rooms[name]; ok && !r.expired(now) {
		return r.passwordHash, true
	}
	if rec, ok := rr.Reservation(name); ok {
		return rec.PasswordHash, true
	}
	return "", false
}

// Reserve records a room committed to the store so that no live room can
// take its name before its owner joins. It fails with ErrAlreadyExists when a
// live room already holds the name.
func (rr *RoomRegistry) Reserve(rec StoredRoom) error {
	if err := ValidateRoomName(rec.Name); err != nil {
		return err
	}
	if r, ok := rr.rooms[rec.Name]; ok {
		if !r.expired(rr.now()) {
			return ErrAlreadyExists
		}
		rr.evict(r)
	}
	rr.reserved[rec.Name] = rec
	delete(rr.expired, rec.Name)
	return nil
}

// Reservation returns the unexpired reserved record for name.
func (rr *RoomRegistry) Reservation(name string) (StoredRoom, bool) {
	rec, ok := rr.reserved[name]
	if !ok || rec.expiredAt(rr.now()) {
		return StoredRoom{}, false
	}
	return rec, true
}

// RoomOf returns the name of the room id belongs to.
func (rr *RoomRegistry) RoomOf(id string) (string, bool) {
	name, ok := rr.byClient[id]
	return name, ok
}

// Len returns the number of live rooms.
func (rr *RoomRegistry) Len() int {
	return len(rr.rooms)
}

// Create makes a new room with requester as its sole member.
func (rr *RoomRegistry) Create(name, password, requester string) (*Room, error) {
	if err := ValidateRoomName(name); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if err := rr.checkNew(name, requester); err != nil {
		return nil, err
	}

	hash, err := auth.CreateHash(password, rr.cfg.HashParams)
	if err != nil {
		return nil, fmt.Errorf("hash room password: %w", err)
	}
	return rr.CreateHashed(name, hash, requester)
}

// CreateHashed is Create for a password already hashed by the caller.
func (rr *RoomRegistry) CreateHashed(name, hash, requester string) (*Room, error) {
	if err := ValidateRoomName(name); err != nil {
		return nil, err
	}
	if err := rr.checkNew(name, requester); err != nil {
		return nil, err
	}
	if _, _, _, err := auth.DecodeHash(hash); err != nil {
		return nil, fmt.Errorf("room key: %w", err)
	}
	now := rr.now()
	return rr.insert(name, hash, now, now.Add(rr.cfg.TTL), requester), nil
}

// Restore brings a persisted room back to life with requester as its sole
// member, provided cred matches the stored key.
func (rr *RoomRegistry) Restore(rec StoredRoom, cred Credential, requester string) (*Room, error) {
	if err := ValidateRoomName(rec.Name); err != nil {
		return nil, err
	}
	if rec.expiredAt(rr.now()) {
		return nil, ErrExpired
	}
	if err := rr.checkCreatable(rec.Name, requester); err != nil {
		return nil, err
	}
	if err := verifyCredential(rec.PasswordHash, cred); err != nil {
		return nil, err
	}

	created, expires := rec.CreatedAt, rec.ExpiresAt
	if created.IsZero() {
		created = rr.now()
	}
	if expires.IsZero() {
		expires = created.Add(rr.cfg.TTL)
	}
	return rr.insert(rec.Name, rec.PasswordHash, created, expires, requester), nil
}

// Join adds requester to the room and returns the members that were already
// present. A failed join leaves the registry untouched.
func (rr *RoomRegistry) Join(name string, cred Credential, requester string) ([]string, error) {
	r, err := rr.Find(name)
	if err != nil {
		return nil, err
	}
	if err := verifyCredential(r.passwordHash, cred); err != nil {
		return nil, err
	}
	if current, in := rr.byClient[requester]; in {
		if current == name {
			return r.others(requester), nil
		}
		return nil, ErrAlreadyInRoom
	}
	if len(r.Members) >= rr.cfg.MaxParticipants {
		return nil, ErrFull
	}

	existing := r.others(requester)
	r.Members = append(r.Members, requester)
	rr.byClient[requester] = name
	rr.setClientRoom(requester, name)
	return existing, nil
}

// Leave removes id from the room and returns the remaining members. The room
// is destroyed when it becomes empty.
func (rr *RoomRegistry) Leave(name, id string) (remaining []string, destroyed bool) {
	r, ok := rr.rooms[name]
	if !ok || !r.has(id) {
		return nil, false
	}
	r.Members = r.others(id)
	delete(rr.byClient, id)
	rr.setClientRoom(id, "")

	if len(r.Members) == 0 {
		delete(rr.rooms, name)
		return nil, true
	}
	return append([]string(nil), r.Members...), false
}

// OnDisconnect leaves whatever room id belongs to.
func (rr *RoomRegistry) OnDisconnect(id string) (name string, remaining []string, destroyed bool) {
	name, ok := rr.byClient[id]
	if !ok {
		return "", nil, false
	}
	remaining, destroyed = rr.Leave(name, id)
	return name, remaining, destroyed
}

// SweepExpired evicts every room past its expiry and returns them. Expired
// reservations and tombstones older than one TTL are dropped too.
func (rr *RoomRegistry) SweepExpired() []*Room {
	now := rr.now()
	var evicted []*Room
	for _, r := range rr.rooms {
		if r.expired(now) {
			evicted = append(evicted, r)
		}
	}
	for _, r := range evicted {
		rr.evict(r)
	}
	for name, rec := range rr.reserved {
		if rec.expiredAt(now) {
			delete(rr.reserved, name)
		}
	}
	for name, at := range rr.expired {
		if now.Sub(at) >= rr.cfg.TTL {
			delete(rr.expired, name)
		}
	}
	return evicted
}

func (rr *RoomRegistry) checkCreatable(name, requester string) error {
	if r, ok := rr.rooms[name]; ok {
		if !r.expired(rr.now()) {
			return ErrAlreadyExists
		}
		rr.evict(r)
	}
	if _, in := rr.byClient[requester]; in {
		return ErrAlreadyInRoom
	}
	return nil
}

// checkNew is checkCreatable plus the reservation check, for rooms that are
// not being restored from their own record.
func (rr *RoomRegistry) checkNew(name, requester string) error {
	if _, ok := rr.Reservation(name); ok {
		return ErrAlreadyExists
	}
	return rr.checkCreatable(name, requester)
}

func (rr *RoomRegistry) insert(name, hash string, created, expires time.Time, requester string) *Room {
	r := &Room{
		Name:         name,
		Members:      []string{requester},
		CreatedAt:    created,
		ExpiresAt:    expires,
		passwordHash: hash,
	}
	rr.rooms[name] = r
	delete(rr.expired, name)
	rr.byClient[requester] = name
	rr.setClientRoom(requester, name)
	return r
}

func (rr *RoomRegistry) evict(r *Room) {
	if rr.rooms[r.Name] != r {
		return
	}
	delete(rr.rooms, r.Name)
	rr.expired[r.Name] = rr.now()
	for _, m := range r.Members {
		delete(rr.byClient, m)
		rr.setClientRoom(m, "")
	}
	if rr.OnEvict != nil {
		rr.OnEvict(r)
	}
}

func (rr *RoomRegistry) setClientRoom(id, name string) {
	if rr.clients == nil {
		return
	}
	if c, ok := rr.clients.Lookup(id); ok {
		c.RoomName = name
	}
}

func verifyCredential(hash string, cred Credential) error {
	if cred.Fingerprint == "" && cred.Password == "" {
		return ErrBadPassword
	}
	if cred.Fingerprint != "" {
		if auth.CompareFingerprint(auth.Fingerprint(hash), cred.Fingerprint) {
			return nil
		}
		return ErrBadPassword
	}
	ok, err := auth.ComparePasswordAndHash(cred.Password, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPassword, err)
	}
	if !ok {
		return ErrBadPassword
	}
	return nil
}
