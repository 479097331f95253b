package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/tumaurmai/internal/auth"
	"github.com/jason-s-yu/tumaurmai/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrStopped is returned by calls made after Run has returned.
var ErrStopped = errors.New("coordinator stopped")

const (
	DefaultSweepInterval = time.Minute
	DefaultClientBuffer  = 32
)

// EventSink receives lifecycle records. Implementations must not block.
type EventSink interface {
	Record(ev models.SessionEvent)
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) Record(models.SessionEvent) {}

// Options configures a Coordinator.
type Options struct {
	Logger        *logrus.Logger
	Rooms         RoomConfig
	SweepInterval time.Duration
	ClientBuffer  int
	Sink          EventSink
	Now           func() time.Time
}

// Handle is what the transport gets back for a new connection. Out is closed
// by the coordinator once the client is unregistered.
type Handle struct {
	ID  string
	Out <-chan Outbound
}

// RoomInfo is a read-only view of a live room.
type RoomInfo struct {
	Name            string    `json:"roomName"`
	Participants    int       `json:"participants"`
	MaxParticipants int       `json:"maxParticipants"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Fingerprint     string    `json:"-"`
}

// Stats summarises coordinator state.
type Stats struct {
	Clients  int `json:"clients"`
	Waiting  int `json:"waiting"`
	Sessions int `json:"sessions"`
	Rooms    int `json:"rooms"`
}

type connectEvent struct {
	username string
	reply    chan *Handle
}

type disconnectEvent struct {
	id string
}

type inboundEvent struct {
	id  string
	msg Inbound
}

// funcEvent runs fn on the coordinator goroutine.
type funcEvent struct {
	fn   func()
	done chan struct{}
}

// Coordinator is the composition root. A single goroutine (Run) owns the
// connection registry, the random queue and the room registry; every other
// goroutine talks to it through events. Password hashing never runs on that
// goroutine.
type Coordinator struct {
	log     *logrus.Logger
	clients *ConnectionRegistry
	queue   *RandomMatchQueue
	rooms   *RoomRegistry
	relay   *SessionRelay
	sink    EventSink
	now     func() time.Time

	hashParams    *auth.Params
	sweepInterval time.Duration
	clientBuffer  int

	events chan interface{}
	done   chan struct{}
}

// NewCoordinator builds a coordinator. Call Run to start it.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = DefaultClientBuffer
	}

	clients := NewConnectionRegistry(opts.Now)
	queue := NewRandomMatchQueue(clients, opts.Now)
	rooms := NewRoomRegistry(opts.Rooms, clients, opts.Now)

	c := &Coordinator{
		log:           opts.Logger,
		clients:       clients,
		queue:         queue,
		rooms:         rooms,
		relay:         NewSessionRelay(clients, queue, rooms, opts.Now),
		sink:          opts.Sink,
		now:           opts.Now,
		hashParams:    rooms.Config().HashParams,
		sweepInterval: opts.SweepInterval,
		clientBuffer:  opts.ClientBuffer,
		events:        make(chan interface{}, 256),
		done:          make(chan struct{}),
	}
	clients.OnUnregister = c.releaseClient
	rooms.OnEvict = c.roomEvicted
	return c
}

// Run processes events until ctx is cancelled. All outbound channels are
// closed on exit.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	defer close(c.done)

	c.log.Info("Coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case ev := <-c.events:
			c.handle(ev)
		case <-ticker.C:
			c.sweep()
		}
	}
}

// Connect registers a new client.
func (c *Coordinator) Connect(ctx context.Context, username string) (*Handle, error) {
	reply := make(chan *Handle, 1)
	if err := c.send(ctx, connectEvent{username: username, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case h := <-reply:
		return h, nil
	case <-ctx.Done():
		// the event is queued; release the client once it is registered
		go func() {
			select {
			case h := <-reply:
				c.Disconnect(h.ID)
			case <-c.done:
			}
		}()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrStopped
	}
}

// Dispatch hands an inbound frame from client id to the coordinator. Room
// passwords are checked or hashed here, on the caller's goroutine, so the
// event loop only compares fingerprints.
func (c *Coordinator) Dispatch(ctx context.Context, id string, msg Inbound) error {
	switch msg.Type {
	case TypeJoinRoom:
		if err := c.proveRoomKey(ctx, &msg); err != nil {
			return err
		}
	case TypeCreateRoom:
		c.hashRoomKey(&msg)
	}
	return c.send(ctx, inboundEvent{id: id, msg: msg})
}

// proveRoomKey turns a join-room password into a Ticket when it matches the
// live room, the reserved record or the stored record, in that order.
func (c *Coordinator) proveRoomKey(ctx context.Context, msg *Inbound) error {
	if msg.Ticket != nil && msg.Ticket.Room == msg.RoomName {
		return nil
	}
	msg.Ticket = nil
	if msg.RoomPassword == "" {
		return nil
	}

	var (
		name  = msg.RoomName
		hash  string
		found bool
	)
	if err := c.do(ctx, func() { hash, found = c.rooms.Key(name) }); err != nil {
		return err
	}
	if !found && msg.Stored != nil && msg.Stored.Name == msg.RoomName {
		hash, found = msg.Stored.PasswordHash, true
	}
	if !found {
		return nil
	}
	if ok, err := auth.ComparePasswordAndHash(msg.RoomPassword, hash); err == nil && ok {
		msg.Ticket = &Ticket{Room: msg.RoomName, Fingerprint: auth.Fingerprint(hash)}
	}
	return nil
}

// hashRoomKey hashes a well-formed create-room password.
func (c *Coordinator) hashRoomKey(msg *Inbound) {
	if ValidateRoomName(msg.RoomName) != nil || ValidatePassword(msg.RoomPassword) != nil {
		return
	}
	hash, err := auth.CreateHash(msg.RoomPassword, c.hashParams)
	if err != nil {
		c.log.Errorf("hash room password: %v", err)
		return
	}
	msg.keyHash = hash
}

// Disconnect tears down everything held by id. It is safe to call more than once.
func (c *Coordinator) Disconnect(id string) {
	select {
	case c.events <- disconnectEvent{id: id}:
	case <-c.done:
	}
}

// RoomSnapshot returns the live room called name. It fails with ErrNotFound
// when there is none and ErrExpired when the room outlived its TTL.
func (c *Coordinator) RoomSnapshot(ctx context.Context, name string) (RoomInfo, error) {
	info, _, err := c.roomKeySnapshot(ctx, name)
	return info, err
}

// VerifyRoom checks password against the live room called name. The hash is
// compared on the caller's goroutine.
func (c *Coordinator) VerifyRoom(ctx context.Context, name, password string) (RoomInfo, error) {
	info, hash, err := c.roomKeySnapshot(ctx, name)
	if err != nil {
		return RoomInfo{}, err
	}
	ok, err := auth.ComparePasswordAndHash(password, hash)
	if err != nil {
		return RoomInfo{}, fmt.Errorf("%w: %v", ErrBadPassword, err)
	}
	if !ok {
		return RoomInfo{}, ErrBadPassword
	}
	return info, nil
}

// ReserveRoom registers a room committed to the store. It fails with
// ErrAlreadyExists when a live room took the name first; the caller should
// then roll the record back.
func (c *Coordinator) ReserveRoom(ctx context.Context, rec StoredRoom) error {
	var err error
	if derr := c.do(ctx, func() { err = c.rooms.Reserve(rec) }); derr != nil {
		return derr
	}
	return err
}

// Stats returns current counters.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.do(ctx, func() {
		s = Stats{
			Clients:  c.clients.Len(),
			Waiting:  c.queue.Len(),
			Sessions: c.queue.Sessions(),
			Rooms:    c.rooms.Len(),
		}
	})
	return s, err
}

func (c *Coordinator) roomKeySnapshot(ctx context.Context, name string) (RoomInfo, string, error) {
	var (
		info RoomInfo
		hash string
		err  error
	)
	derr := c.do(ctx, func() {
		var r *Room
		if r, err = c.rooms.Find(name); err != nil {
			return
		}
		hash = r.passwordHash
		info = RoomInfo{
			Name:            r.Name,
			Participants:    len(r.Members),
			MaxParticipants: c.rooms.Config().MaxParticipants,
			CreatedAt:       r.CreatedAt,
			ExpiresAt:       r.ExpiresAt,
			Fingerprint:     r.Fingerprint(),
		}
	})
	if derr != nil {
		return RoomInfo{}, "", derr
	}
	return info, hash, err
}

// do runs fn on the coordinator goroutine and waits for it to finish.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	ev := funcEvent{fn: fn, done: make(chan struct{})}
	if err := c.send(ctx, ev); err != nil {
		return err
	}
	select {
	case <-ev.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

func (c *Coordinator) send(ctx context.Context, ev interface{}) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

func (c *Coordinator) handle(ev interface{}) {
	switch e := ev.(type) {
	case connectEvent:
		e.reply <- c.connect(e.username)
	case disconnectEvent:
		c.disconnect(e.id)
	case inboundEvent:
		c.dispatch(e.id, e.msg)
	case funcEvent:
		e.fn()
		close(e.done)
	default:
		c.log.Warnf("Coordinator: unknown event %T", ev)
	}
}

func (c *Coordinator) connect(username string) *Handle {
	out := make(chan Outbound, c.clientBuffer)
	cl := c.clients.Register(out)
	if username != "" {
		c.clients.SetDisplayName(cl.ID, username)
	}
	cl.write(Outbound{"type": TypeConnected, "id": cl.ID})
	c.log.WithField("client", cl.ID).Debug("Client registered")
	return &Handle{ID: cl.ID, Out: out}
}

func (c *Coordinator) disconnect(id string) {
	cl, ok := c.clients.Unregister(id)
	if !ok {
		return
	}
	close(cl.out)
	c.log.WithFields(logrus.Fields{"client": id, "dropped": cl.dropped}).Debug("Client unregistered")
}

// releaseClient is the registry's OnUnregister hook.
func (c *Coordinator) releaseClient(cl *Client) {
	if partner := c.queue.OnDisconnect(cl.ID); partner != "" {
		c.emit(partner, Outbound{"type": TypeUserLeft, "userId": cl.ID, "username": cl.Name()})
		c.record(models.EventDisconnect, "", "", cl.ID, partner)
	}
	if name, remaining, destroyed := c.rooms.OnDisconnect(cl.ID); name != "" {
		c.notifyRoomLeave(cl, name, remaining, destroyed)
	}
}

func (c *Coordinator) dispatch(id string, msg Inbound) {
	cl, ok := c.clients.Lookup(id)
	if !ok {
		return
	}
	entry := c.log.WithFields(logrus.Fields{"client": id, "type": msg.Type})

	switch msg.Type {
	case TypeJoinRandom, TypeJoinRoom, TypeCreateRoom, TypeSetUsername:
		if msg.Username != "" {
			c.clients.SetDisplayName(id, msg.Username)
		}
	}

	if IsNegotiation(msg.Type) {
		if err := c.relay.Route(id, msg); err != nil {
			entry.WithField("to", msg.To).Debugf("Dropped negotiation frame: %v", err)
		}
		return
	}

	switch msg.Type {
	case TypeJoinRandom:
		if name, in := c.rooms.RoomOf(id); in {
			c.leaveRoom(cl, name)
		}
		c.enqueue(cl)

	case TypeLeaveRandom:
		if partner := c.queue.Leave(id); partner != "" {
			c.emit(partner, Outbound{"type": TypeUserLeft, "userId": id, "username": cl.Name()})
			c.record(models.EventLeave, "", "", id, partner)
		}

	case TypeSkipUser:
		c.skip(cl, msg)

	case TypeJoinRoom:
		c.joinRoom(cl, msg)

	case TypeCreateRoom:
		c.createRoom(cl, msg)

	case TypeLeaveRoom:
		if name, in := c.rooms.RoomOf(id); in {
			c.leaveRoom(cl, name)
		}

	case TypeSendMessage:
		if _, err := c.relay.Chat(id, msg); err != nil {
			entry.Debugf("Dropped chat message: %v", err)
		}

	case TypeSetUsername:
		// handled above

	default:
		entry.Warn("Unknown action")
		cl.write(errorFrame("Unknown action type: " + msg.Type))
	}
}

func (c *Coordinator) enqueue(cl *Client) {
	res := c.queue.Enqueue(cl.ID)
	switch {
	case res.State == StateWaiting:
		cl.write(Outbound{"type": TypeWaiting})
	case res.Matched:
		partner, _ := c.clients.Lookup(res.PartnerID)
		c.emit(cl.ID, matchFrame(res.Session, partner))
		c.emit(res.PartnerID, matchFrame(res.Session, cl))
		c.record(models.EventMatch, res.Session.ID, "", res.Session.Members[0], res.Session.Members[1])
		c.log.WithFields(logrus.Fields{"session": res.Session.ID, "a": res.Session.Members[0], "b": res.Session.Members[1]}).Info("Random match")
	}
}

func (c *Coordinator) skip(cl *Client, msg Inbound) {
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = msg.RoomID
	}
	if sessionID == "" {
		if s, ok := c.queue.Session(cl.ID); ok {
			sessionID = s.ID
		}
	}
	if msg.PeerID != "" {
		if s, ok := c.queue.Session(cl.ID); !ok || s.ID != sessionID || s.Other(cl.ID) != msg.PeerID {
			c.log.WithField("client", cl.ID).Debug("Skip for a session the client no longer holds")
			return
		}
	}

	partner, err := c.queue.Skip(sessionID, cl.ID)
	if err != nil {
		c.log.WithFields(logrus.Fields{"client": cl.ID, "session": sessionID}).Debugf("Skip ignored: %v", err)
		return
	}
	c.emit(partner, Outbound{"type": TypePeerSkipped, "sessionId": sessionID, "peerId": cl.ID})
	c.record(models.EventSkip, sessionID, "", cl.ID, partner)

	// only the skipper searches again
	c.enqueue(cl)
}

// credential only ever carries a fingerprint; an unproven password becomes
// an empty credential, which every room rejects.
func credential(msg Inbound) Credential {
	if msg.Ticket != nil && msg.Ticket.Room == msg.RoomName {
		return Credential{Fingerprint: msg.Ticket.Fingerprint}
	}
	return Credential{}
}

// storedRoom returns the committed record for the frame's room, preferring
// the reservation over what the transport read from the store.
func (c *Coordinator) storedRoom(msg Inbound) (StoredRoom, bool) {
	if rec, ok := c.rooms.Reservation(msg.RoomName); ok {
		return rec, true
	}
	if msg.Stored != nil && msg.Stored.Name == msg.RoomName {
		return *msg.Stored, true
	}
	return StoredRoom{}, false
}

func (c *Coordinator) joinRoom(cl *Client, msg Inbound) {
	entry := c.log.WithFields(logrus.Fields{"client": cl.ID, "room": msg.RoomName})
	cred := credential(msg)

	existing, err := c.rooms.Join(msg.RoomName, cred, cl.ID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
		if rec, ok := c.storedRoom(msg); ok {
			existing = nil
			if _, err = c.rooms.Restore(rec, cred, cl.ID); err == nil {
				entry.Info("Room restored from store")
			}
		}
	}
	if err != nil {
		entry.Infof("Room join rejected: %v", err)
		cl.write(roomErrorFrame(err))
		return
	}

	c.leaveRandom(cl)
	cl.write(c.roomJoinedFrame(msg.RoomName, existing))
	for _, m := range existing {
		c.emit(m, Outbound{"type": TypeUserJoined, "userId": cl.ID, "username": cl.Name()})
	}
	c.record(models.EventRoomJoined, "", msg.RoomName, cl.ID)
	entry.WithField("members", len(existing)+1).Info("Joined room")
}

func (c *Coordinator) createRoom(cl *Client, msg Inbound) {
	entry := c.log.WithFields(logrus.Fields{"client": cl.ID, "room": msg.RoomName})
	if err := c.checkCreate(msg); err != nil {
		entry.Infof("Room create rejected: %v", err)
		cl.write(roomErrorFrame(err))
		return
	}
	if _, err := c.rooms.CreateHashed(msg.RoomName, msg.keyHash, cl.ID); err != nil {
		entry.Infof("Room create rejected: %v", err)
		cl.write(roomErrorFrame(err))
		return
	}
	c.leaveRandom(cl)
	cl.write(c.roomJoinedFrame(msg.RoomName, nil))
	c.record(models.EventRoomCreated, "", msg.RoomName, cl.ID)
	entry.Info("Room created")
}

// checkCreate rejects a create-room whose name is already committed to the
// store, even if that room is not live yet.
func (c *Coordinator) checkCreate(msg Inbound) error {
	if err := ValidateRoomName(msg.RoomName); err != nil {
		return err
	}
	if err := ValidatePassword(msg.RoomPassword); err != nil {
		return err
	}
	if rec, ok := c.storedRoom(msg); ok && !rec.expiredAt(c.now()) {
		return ErrAlreadyExists
	}
	return nil
}

func (c *Coordinator) leaveRoom(cl *Client, name string) {
	remaining, destroyed := c.rooms.Leave(name, cl.ID)
	c.notifyRoomLeave(cl, name, remaining, destroyed)
}

func (c *Coordinator) notifyRoomLeave(cl *Client, name string, remaining []string, destroyed bool) {
	for _, m := range remaining {
		c.emit(m, Outbound{"type": TypeUserLeft, "userId": cl.ID, "username": cl.Name()})
	}
	c.record(models.EventRoomLeft, "", name, cl.ID)
	if destroyed {
		c.recordClosed(name, "empty")
		c.log.WithField("room", name).Info("Room empty, destroyed")
	}
}

// leaveRandom drops cl from random matchmaking after it entered a room.
func (c *Coordinator) leaveRandom(cl *Client) {
	if partner := c.queue.Leave(cl.ID); partner != "" {
		c.emit(partner, Outbound{"type": TypeUserLeft, "userId": cl.ID, "username": cl.Name()})
		c.record(models.EventLeave, "", "", cl.ID, partner)
	}
}

// roomEvicted is the room registry's OnEvict hook.
func (c *Coordinator) roomEvicted(r *Room) {
	for _, m := range r.Members {
		c.emit(m, Outbound{"type": TypeRoomClosed, "roomName": r.Name, "reason": "expired"})
	}
	c.recordClosed(r.Name, "expired", r.Members...)
	c.log.WithFields(logrus.Fields{"room": r.Name, "members": len(r.Members)}).Info("Room expired")
}

func (c *Coordinator) sweep() {
	if evicted := c.rooms.SweepExpired(); len(evicted) > 0 {
		c.log.Infof("Swept %d expired rooms", len(evicted))
	}
}

func (c *Coordinator) shutdown() {
	var ids []string
	c.clients.Each(func(cl *Client) { ids = append(ids, cl.ID) })
	for _, id := range ids {
		c.disconnect(id)
	}
	c.log.Info("Coordinator stopped")
}

func (c *Coordinator) emit(id string, msg Outbound) {
	cl, ok := c.clients.Lookup(id)
	if !ok {
		return
	}
	if !cl.write(msg) {
		c.log.WithFields(logrus.Fields{"client": id, "type": msg.Type()}).Warn("Outbound buffer full, frame dropped")
	}
}

func (c *Coordinator) roomJoinedFrame(name string, existing []string) Outbound {
	users := make([]string, 0, len(existing))
	members := make([]map[string]string, 0, len(existing))
	for _, id := range existing {
		users = append(users, id)
		username := DefaultUsername
		if m, ok := c.clients.Lookup(id); ok {
			username = m.Name()
		}
		members = append(members, map[string]string{"id": id, "username": username})
	}
	return Outbound{
		"type":     TypeRoomJoined,
		"roomName": name,
		"users":    users,
		"members":  members,
	}
}

func matchFrame(s *RandomSession, peer *Client) Outbound {
	frame := Outbound{
		"type":      TypeMatchFound,
		"sessionId": s.ID,
		"roomId":    s.ID,
	}
	if peer != nil {
		frame["peerId"] = peer.ID
		frame["peerUsername"] = peer.Name()
	}
	return frame
}

func (c *Coordinator) record(kind, sessionID, room string, clients ...string) {
	c.sink.Record(models.SessionEvent{
		Kind:      kind,
		SessionID: sessionID,
		RoomName:  room,
		ClientIDs: clients,
		Timestamp: c.now(),
	})
}

func (c *Coordinator) recordClosed(room, reason string, clients ...string) {
	c.sink.Record(models.SessionEvent{
		Kind:      models.EventRoomClosed,
		RoomName:  room,
		ClientIDs: clients,
		Reason:    reason,
		Timestamp: c.now(),
	})
}
