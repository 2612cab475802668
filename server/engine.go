// Package server implements the Pangea relay engine.
//
// Every instance is stateless beyond its own live connections: sessions,
// rate limits and the reply cache live in instance memory and die with the
// process, while presence, counters and the leaderboard live in a shared
// store where every record expires on its own. Instances never see each
// other directly - everything crosses through the fan-out bus, and an
// instance ignores the echo of its own publications since it already
// broadcast to its local sessions synchronously.
package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pangea.chat/geo"
)

const (
	// MaxMessageSize is the message text ceiling in runes
	MaxMessageSize = 280

	// ReplyPreviewSize bounds the quoted text on a reply
	ReplyPreviewSize = 90

	// HeartbeatInterval drives presence refresh, cache sweeps and
	// periodic stats publication
	HeartbeatInterval = 10 * time.Second

	// LeaderboardThrottle is the minimum gap between leaderboard
	// publications
	LeaderboardThrottle = 10 * time.Second
)

// fan-out channels
const (
	ChannelMessages    = "messages"
	ChannelStats       = "stats"
	ChannelUsers       = "users"
	ChannelLeaderboard = "leaderboard"
)

// PresenceStore is the shared, self-expiring set of online users
type PresenceStore interface {
	Upsert(ctx context.Context, rec *PresenceRecord) error
	Refresh(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*PresenceRecord, error)
	SetInstanceOnline(ctx context.Context, instance string, n int) error
	TotalOnline(ctx context.Context) (int64, error)
}

// LeaderboardStore is the shared per-city message aggregate
type LeaderboardStore interface {
	Increment(ctx context.Context, city, country string) error
	TopK(ctx context.Context, k int) ([]LeaderboardEntry, error)
}

// StatsStore holds the shared approximate activity counters
type StatsStore interface {
	RegisterUser(ctx context.Context, fingerprint string) error
	AllTimeUsers(ctx context.Context) (int64, error)
	IncrMessages(ctx context.Context) error
	MessagesPerMinute(ctx context.Context) (int64, error)
}

// FanoutBus delivers published payloads to all subscribed instances,
// at most once, best effort
type FanoutBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error
}

// Session is one live connection, owned by this instance only
type Session struct {
	Id          string
	Fingerprint string
	Location    geo.Location
	Connected   int64

	// buffered frames to the client, slow clients drop
	Events chan []byte
	Kill   chan bool
}

func NewSession(ip string, loc geo.Location) *Session {
	return &Session{
		Id:          uuid.New().String(),
		Fingerprint: Fingerprint(ip, loc.Country),
		Location:    loc,
		Connected:   time.Now().UnixNano(),
		Events:      make(chan []byte, 256),
		Kill:        make(chan bool),
	}
}

// Server relays messages and presence among its local sessions and,
// through the shared store and bus, every other instance
type Server struct {
	Instance string
	Created  int64

	presence    PresenceStore
	leaderboard LeaderboardStore
	stats       StatsStore
	bus         FanoutBus
	lookup      geo.Lookup

	limiter *RateLimiter
	replies *ReplyCache

	mtx      sync.RWMutex
	sessions map[string]*Session

	lbMtx  sync.Mutex
	lbLast time.Time
}

// Options wires the shared capabilities into a Server
type Options struct {
	Instance    string
	Presence    PresenceStore
	Leaderboard LeaderboardStore
	Stats       StatsStore
	Bus         FanoutBus
	Lookup      geo.Lookup
}

var alphanum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Random generates an i length alphanum string
func Random(i int) string {
	bytes := make([]byte, i)
	rand.Read(bytes)
	for i, b := range bytes {
		bytes[i] = alphanum[b%byte(len(alphanum))]
	}
	return string(bytes)
}

func New(opts Options) *Server {
	instance := opts.Instance
	if instance == "" {
		instance = Random(8)
	}

	return &Server{
		Instance:    instance,
		Created:     time.Now().UnixNano(),
		presence:    opts.Presence,
		leaderboard: opts.Leaderboard,
		stats:       opts.Stats,
		bus:         opts.Bus,
		lookup:      opts.Lookup,
		limiter:     NewRateLimiter(),
		replies:     NewReplyCache(ReplyTTL),
		sessions:    make(map[string]*Session),
	}
}

// Run subscribes to the bus and drives the heartbeat until ctx ends
func (s *Server) Run(ctx context.Context) error {
	if err := s.subscribe(ctx); err != nil {
		return err
	}

	t := time.NewTicker(HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.heartbeat(ctx)
		}
	}
}

// Connect registers a new session and sends the welcome frame. Shared
// state registration happens asynchronously so the client never waits
// on a store round-trip.
func (s *Server) Connect(ctx context.Context, ip string) *Session {
	var loc geo.Location
	var ok bool

	if s.lookup != nil {
		loc, ok = s.lookup(ip)
	}
	if !ok {
		loc = geo.Fallback(ip)
	}

	sess := NewSession(ip, loc)

	s.mtx.Lock()
	s.sessions[sess.Id] = sess
	local := len(s.sessions)
	s.mtx.Unlock()

	// immediate welcome with locally known stats only
	s.send(sess, &Welcome{
		Type:        "welcome",
		ID:          sess.Id,
		Fingerprint: sess.Fingerprint,
		Location:    loc,
		Stats:       Stats{Type: "stats", Online: int64(local)},
	})

	go s.register(ctx, sess, local)

	return sess
}

// register pushes the new session into shared state and follows up with
// globally accurate snapshots once they are available
func (s *Server) register(ctx context.Context, sess *Session, local int) {
	if err := s.stats.RegisterUser(ctx, sess.Fingerprint); err != nil {
		log.Printf("stats register: %v", err)
	}
	if err := s.presence.SetInstanceOnline(ctx, s.Instance, local); err != nil {
		log.Printf("online count: %v", err)
	}

	s.syncPresence(ctx, sess)

	if frame, ok := s.statsFrame(ctx); ok {
		s.send(sess, frame)
	}
	if leaders, err := s.leaderboard.TopK(ctx, 10); err != nil {
		log.Printf("leaderboard: %v", err)
	} else {
		s.send(sess, &Leaderboard{Type: "leaderboard", Leaders: leaders})
	}
}

// syncPresence upserts the session's presence record and publishes the
// full presence list. The registry is re-checked after the upsert so an
// in-flight registration cannot resurrect a closed session.
func (s *Server) syncPresence(ctx context.Context, sess *Session) {
	s.mtx.RLock()
	_, live := s.sessions[sess.Id]
	rec := &PresenceRecord{
		ID:          sess.Id,
		Fingerprint: sess.Fingerprint,
		Lat:         sess.Location.Lat,
		Lng:         sess.Location.Lng,
		City:        sess.Location.City,
		Country:     sess.Location.Country,
		Instance:    s.Instance,
	}
	s.mtx.RUnlock()

	if !live {
		return
	}

	if err := s.presence.Upsert(ctx, rec); err != nil {
		log.Printf("presence upsert: %v", err)
		return
	}

	s.mtx.RLock()
	_, live = s.sessions[sess.Id]
	s.mtx.RUnlock()

	if !live {
		if err := s.presence.Remove(ctx, sess.Id); err != nil {
			log.Printf("presence remove: %v", err)
		}
		return
	}

	s.publishUsers(ctx)
}

// Disconnect tears down a session. Idempotent.
func (s *Server) Disconnect(ctx context.Context, sess *Session) {
	s.mtx.Lock()
	if _, ok := s.sessions[sess.Id]; !ok {
		s.mtx.Unlock()
		return
	}
	delete(s.sessions, sess.Id)
	local := len(s.sessions)
	s.mtx.Unlock()

	s.limiter.Forget(sess.Id)

	if err := s.presence.Remove(ctx, sess.Id); err != nil {
		log.Printf("presence remove: %v", err)
	}
	if err := s.presence.SetInstanceOnline(ctx, s.Instance, local); err != nil {
		log.Printf("online count: %v", err)
	}

	s.publishUsers(ctx)
	s.publishStats(ctx)
}

// HandleEvent dispatches one inbound client event
func (s *Server) HandleEvent(ctx context.Context, sess *Session, raw []byte) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.sendError(sess, "malformed event")
		return
	}

	switch ev.Type {
	case EventMessage:
		s.handleMessage(ctx, sess, &ev)
	case EventPing:
		s.send(sess, map[string]string{"type": "pong"})
	case EventIdentify:
		s.handleIdentify(ctx, sess, &ev)
	case EventUpdateLocation:
		s.handleLocation(ctx, sess, &ev)
	case EventTyping:
		s.handleTyping(sess)
	case EventReaction:
		s.handleReaction(sess, &ev)
	default:
		// unknown tags are dropped
	}
}

func (s *Server) handleMessage(ctx context.Context, sess *Session, ev *Event) {
	if !s.limiter.Allow(sess.Id, ClassMessage) {
		s.sendError(sess, "rate limited")
		return
	}

	text := ev.Text
	if len(text) == 0 || len([]rune(text)) > MaxMessageSize {
		return
	}

	// ciphertext passes through untouched, the relay never decrypts
	if !ev.Encrypted {
		text = Sanitize(text)
	}

	s.mtx.RLock()
	fp := sess.Fingerprint
	loc := sess.Location
	s.mtx.RUnlock()

	m := &Message{
		Type:              "message",
		ID:                uuid.New().String(),
		Text:              text,
		Lat:               loc.Lat,
		Lng:               loc.Lng,
		Timestamp:         time.Now().UnixMilli(),
		Encrypted:         ev.Encrypted,
		EncryptedFor:      ev.EncryptedFor,
		SenderID:          sess.Id,
		SenderFingerprint: fp,
		InstanceID:        s.Instance,
	}

	// unresolved reply references are dropped without error
	if ev.ReplyTo != "" {
		if orig, ok := s.replies.Get(ev.ReplyTo); ok {
			m.ReplyTo = orig.ID
			m.ReplyToText = truncate(orig.Text, ReplyPreviewSize)
			m.ReplyToLat = orig.Lat
			m.ReplyToLng = orig.Lng
		}
	}

	s.replies.Put(&CachedMessage{
		ID:      m.ID,
		Text:    m.Text,
		Lat:     m.Lat,
		Lng:     m.Lng,
		Created: time.Now(),
	})

	b, err := json.Marshal(m)
	if err != nil {
		return
	}

	s.broadcast(b)
	s.publish(ctx, ChannelMessages, b)

	if err := s.stats.IncrMessages(ctx); err != nil {
		log.Printf("message counter: %v", err)
	}

	if !ev.Encrypted {
		// unfurl from the raw text, sanitization mangles query strings
		go s.unfurl(m.ID, ev.Text)
	}

	if loc.City != "" {
		if err := s.leaderboard.Increment(ctx, loc.City, loc.Country); err != nil {
			log.Printf("leaderboard increment: %v", err)
			return
		}
		s.maybePublishLeaderboard(ctx)
	}
}

func (s *Server) handleIdentify(ctx context.Context, sess *Session, ev *Event) {
	if !ValidIdentifier(ev.ID) {
		s.sendError(sess, "invalid identifier")
		return
	}

	fp := truncate(ev.ID, 16)

	s.mtx.Lock()
	if sess.Fingerprint == fp {
		// repeated identify is a no-op
		s.mtx.Unlock()
		return
	}
	sess.Fingerprint = fp
	s.mtx.Unlock()

	if err := s.stats.RegisterUser(ctx, fp); err != nil {
		log.Printf("stats register: %v", err)
	}

	s.syncPresence(ctx, sess)
}

func (s *Server) handleLocation(ctx context.Context, sess *Session, ev *Event) {
	if !ValidCoords(ev.Lat, ev.Lng) {
		return
	}

	s.mtx.Lock()
	sess.Location.Lat = ev.Lat
	sess.Location.Lng = ev.Lng
	s.mtx.Unlock()

	s.syncPresence(ctx, sess)
}

// typing is a local signal only, it never crosses instances
func (s *Server) handleTyping(sess *Session) {
	if !s.limiter.Allow(sess.Id, ClassTyping) {
		s.sendError(sess, "rate limited")
		return
	}

	s.mtx.RLock()
	t := &Typing{
		Type:        "typing",
		Fingerprint: sess.Fingerprint,
		Lat:         sess.Location.Lat,
		Lng:         sess.Location.Lng,
	}
	s.mtx.RUnlock()

	if b, err := json.Marshal(t); err == nil {
		s.broadcast(b)
	}
}

// reactions are local only, like typing
func (s *Server) handleReaction(sess *Session, ev *Event) {
	if ev.MessageID == "" || !ValidReaction(ev.Emoji) {
		return
	}

	s.mtx.RLock()
	r := &Reaction{
		Type:        "reaction",
		MessageID:   ev.MessageID,
		Emoji:       ev.Emoji,
		Fingerprint: sess.Fingerprint,
	}
	s.mtx.RUnlock()

	if b, err := json.Marshal(r); err == nil {
		s.broadcast(b)
	}
}

// heartbeat keeps this instance's shared records alive and pushes a
// fresh stats snapshot
func (s *Server) heartbeat(ctx context.Context) {
	s.replies.Sweep()

	s.mtx.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	local := len(s.sessions)
	s.mtx.RUnlock()

	for _, id := range ids {
		if err := s.presence.Refresh(ctx, id); err != nil {
			log.Printf("presence refresh: %v", err)
		}
	}

	if err := s.presence.SetInstanceOnline(ctx, s.Instance, local); err != nil {
		log.Printf("online count: %v", err)
	}

	s.publishStats(ctx)
}

// broadcast sends a frame to every local session, dropping for any
// session whose buffer is full
func (s *Server) broadcast(b []byte) {
	s.mtx.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mtx.RUnlock()

	for _, sess := range sessions {
		select {
		case sess.Events <- b:
		default:
		}
	}
}

func (s *Server) send(sess *Session, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.Events <- b:
	default:
	}
}

func (s *Server) sendError(sess *Session, msg string) {
	s.send(sess, &ErrorNotice{Type: "error", Error: msg})
}

// publish is fire and forget: delivery is at most once and a failure
// costs a single event, the next heartbeat restores consistency
func (s *Server) publish(ctx context.Context, channel string, b []byte) {
	if err := s.bus.Publish(ctx, channel, b); err != nil {
		log.Printf("publish %s: %v", channel, err)
	}
}

func (s *Server) statsFrame(ctx context.Context) (*Stats, bool) {
	online, err := s.presence.TotalOnline(ctx)
	if err != nil {
		log.Printf("online total: %v", err)
		return nil, false
	}
	users, err := s.stats.AllTimeUsers(ctx)
	if err != nil {
		log.Printf("alltime users: %v", err)
		return nil, false
	}
	mpm, err := s.stats.MessagesPerMinute(ctx)
	if err != nil {
		log.Printf("messages per minute: %v", err)
		return nil, false
	}

	return &Stats{
		Type:              "stats",
		Online:            online,
		AllTimeUsers:      users,
		MessagesPerMinute: mpm,
		InstanceID:        s.Instance,
	}, true
}

func (s *Server) publishStats(ctx context.Context) {
	frame, ok := s.statsFrame(ctx)
	if !ok {
		return
	}
	if b, err := json.Marshal(frame); err == nil {
		s.broadcast(b)
		s.publish(ctx, ChannelStats, b)
	}
}

func (s *Server) publishUsers(ctx context.Context) {
	users, err := s.presence.ListAll(ctx)
	if err != nil {
		log.Printf("presence list: %v", err)
		return
	}
	frame := &UserList{Type: "users", Users: users, InstanceID: s.Instance}
	if b, err := json.Marshal(frame); err == nil {
		s.broadcast(b)
		s.publish(ctx, ChannelUsers, b)
	}
}

// maybePublishLeaderboard publishes at most once per throttle interval
// so a burst of messages does not turn into leaderboard chatter
func (s *Server) maybePublishLeaderboard(ctx context.Context) {
	s.lbMtx.Lock()
	if time.Since(s.lbLast) < LeaderboardThrottle {
		s.lbMtx.Unlock()
		return
	}
	s.lbLast = time.Now()
	s.lbMtx.Unlock()

	leaders, err := s.leaderboard.TopK(ctx, 10)
	if err != nil {
		log.Printf("leaderboard: %v", err)
		return
	}
	frame := &Leaderboard{Type: "leaderboard", Leaders: leaders, InstanceID: s.Instance}
	if b, err := json.Marshal(frame); err == nil {
		s.broadcast(b)
		s.publish(ctx, ChannelLeaderboard, b)
	}
}

// subscribe wires the bus channels to local re-broadcast. Payloads from
// this instance are skipped: local sessions already got them when the
// event was handled.
func (s *Server) subscribe(ctx context.Context) error {
	for _, channel := range []string{ChannelMessages, ChannelStats, ChannelUsers, ChannelLeaderboard} {
		ch := channel
		err := s.bus.Subscribe(ctx, ch, func(payload []byte) {
			var p peek
			if err := json.Unmarshal(payload, &p); err != nil || p.Type == "" {
				// bad payload from a peer, log and drop
				log.Printf("bad payload on %s: %.64s", ch, payload)
				return
			}
			if p.InstanceID == s.Instance {
				return
			}
			s.broadcast(payload)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Sessions returns the local connection count
func (s *Server) Sessions() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.sessions)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
