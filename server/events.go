package server

import (
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"

	"pangea.chat/geo"
)

// inbound event tags
const (
	EventMessage        = "message"
	EventPing           = "ping"
	EventIdentify       = "identify"
	EventUpdateLocation = "update_location"
	EventTyping         = "typing"
	EventReaction       = "reaction"
)

// Event is the inbound wire envelope. The Type tag decides which
// fields are meaningful; everything else is ignored.
type Event struct {
	Type string `json:"type"`
	// message
	Text         string `json:"text,omitempty"`
	Encrypted    bool   `json:"encrypted,omitempty"`
	EncryptedFor string `json:"encryptedFor,omitempty"`
	ReplyTo      string `json:"replyTo,omitempty"`
	// identify
	ID string `json:"id,omitempty"`
	// update_location
	Lat float64 `json:"lat,omitempty"`
	Lng float64 `json:"lng,omitempty"`
	// reaction
	MessageID string `json:"messageId,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}

// Message is the outbound broadcast frame for a relayed message
type Message struct {
	Type              string  `json:"type"`
	ID                string  `json:"id"`
	Text              string  `json:"text"`
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	Timestamp         int64   `json:"timestamp"`
	Encrypted         bool    `json:"encrypted,omitempty"`
	EncryptedFor      string  `json:"encryptedFor,omitempty"`
	SenderID          string  `json:"senderId"`
	SenderFingerprint string  `json:"senderFingerprint"`
	InstanceID        string  `json:"instanceId"`
	ReplyTo           string  `json:"replyTo,omitempty"`
	ReplyToText       string  `json:"replyToText,omitempty"`
	ReplyToLat        float64 `json:"replyToLat,omitempty"`
	ReplyToLng        float64 `json:"replyToLng,omitempty"`
}

// Stats is the outbound global stats snapshot
type Stats struct {
	Type              string `json:"type"`
	Online            int64  `json:"online"`
	AllTimeUsers      int64  `json:"allTimeUsers"`
	MessagesPerMinute int64  `json:"messagesPerMinute"`
	InstanceID        string `json:"instanceId,omitempty"`
}

// PresenceRecord is one online user as shared across instances
type PresenceRecord struct {
	ID          string  `json:"id"`
	Fingerprint string  `json:"fingerprint"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	City        string  `json:"city,omitempty"`
	Country     string  `json:"country,omitempty"`
	Instance    string  `json:"instance"`
}

// UserList is the outbound full presence snapshot
type UserList struct {
	Type       string            `json:"type"`
	Users      []*PresenceRecord `json:"users"`
	InstanceID string            `json:"instanceId,omitempty"`
}

// LeaderboardEntry is one city aggregate
type LeaderboardEntry struct {
	City    string `json:"city"`
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

// Leaderboard is the outbound top cities snapshot
type Leaderboard struct {
	Type       string             `json:"type"`
	Leaders    []LeaderboardEntry `json:"leaders"`
	InstanceID string             `json:"instanceId,omitempty"`
}

// Welcome is sent once on connect with locally known stats
type Welcome struct {
	Type        string       `json:"type"`
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	Location    geo.Location `json:"location"`
	Stats       Stats        `json:"stats"`
}

// Typing is a transient local typing signal
type Typing struct {
	Type        string  `json:"type"`
	Fingerprint string  `json:"fingerprint"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// Reaction is a transient local emoji reaction
type Reaction struct {
	Type        string `json:"type"`
	MessageID   string `json:"messageId"`
	Emoji       string `json:"emoji"`
	Fingerprint string `json:"fingerprint"`
}

// ErrorNotice tells the client an event was rejected
type ErrorNotice struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// peek is used by subscription handlers to read the common fields
// of a published payload without knowing its full shape
type peek struct {
	Type       string `json:"type"`
	InstanceID string `json:"instanceId"`
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// entities Sanitize emits; an ampersand already starting one of
// these is left alone so sanitizing twice changes nothing
var entities = []string{"amp;", "lt;", "gt;", "quot;", "#39;"}

// Sanitize escapes HTML significant characters. It is idempotent:
// already escaped text passes through unchanged.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#39;")
		case '&':
			if isEntity(s[i+1:]) {
				b.WriteByte(c)
			} else {
				b.WriteString("&amp;")
			}
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

func isEntity(rest string) bool {
	for _, e := range entities {
		if strings.HasPrefix(rest, e) {
			return true
		}
	}
	return false
}

// Fingerprint derives the initial pseudo-identity of a connection.
// Not a security boundary, collisions are tolerated.
func Fingerprint(ip, country string) string {
	h := fnv.New32a()
	h.Write([]byte(ip + "|" + country))
	return fmt.Sprintf("%08x", h.Sum32())
}

// ValidIdentifier reports whether a client declared identity is usable
func ValidIdentifier(id string) bool {
	return identPattern.MatchString(id)
}

// ValidCoords reports whether a lat/lng pair is finite and in range
func ValidCoords(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ValidReaction accepts one or two symbol runes. Variation selectors
// and zero width joiners inside emoji sequences are not counted.
func ValidReaction(emoji string) bool {
	if emoji == "" {
		return false
	}

	var n int
	for _, r := range emoji {
		if r == 0xFE0F || r == 0x200D {
			continue
		}
		if !unicode.IsSymbol(r) {
			return false
		}
		n++
	}

	return n >= 1 && n <= 2
}
