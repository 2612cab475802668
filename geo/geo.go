// Package geo resolves client IP addresses to approximate locations using
// a MaxMind GeoLite2 database. Lookup is best-effort: private addresses and
// lookup failures yield a fallback location so every client is renderable.
package geo

import (
	"fmt"
	"hash/fnv"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location is a point on the map with optional place names
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}

// Lookup resolves an IP to a location. The second return is false when the
// address is unknown, private or unparseable.
type Lookup func(ip string) (Location, bool)

// Reader wraps a GeoLite2-City database
type Reader struct {
	db *geoip2.Reader
}

// Open opens a MaxMind GeoLite2-City database
func Open(path string) (*Reader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: failed to open database: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close closes the underlying database
func (r *Reader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Lookup resolves an IP address to a location
func (r *Reader) Lookup(ip string) (Location, bool) {
	if r == nil || r.db == nil {
		return Location{}, false
	}

	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return Location{}, false
	}

	record, err := r.db.City(parsed)
	if err != nil {
		return Location{}, false
	}

	loc := Location{
		Lat:     record.Location.Latitude,
		Lng:     record.Location.Longitude,
		City:    name(record.City.Names),
		Country: name(record.Country.Names),
	}

	// an all-zero record means the database had nothing
	if loc.Lat == 0 && loc.Lng == 0 && loc.Country == "" {
		return Location{}, false
	}

	return loc, true
}

// prefer english, fallback to anything
func name(names map[string]string) string {
	if n, ok := names["en"]; ok {
		return n
	}
	for _, n := range names {
		return n
	}
	return ""
}

// Fallback returns a deterministic pseudo-random location for a seed.
// Latitude is kept within inhabited bands so the point lands somewhere
// plausible on a world map.
func Fallback(seed string) Location {
	h := fnv.New64a()
	h.Write([]byte(seed))
	v := h.Sum64()

	lat := -50.0 + float64(v%120000)/1000.0 // [-50, 70)
	lng := -180.0 + float64((v/120000)%360000)/1000.0

	return Location{Lat: lat, Lng: lng}
}
