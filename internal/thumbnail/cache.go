package thumbnail

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
)

// Entry is one cached image. Entries are replaced whole, never mutated.
type Entry struct {
	Data      []byte
	ETag      string
	FetchedAt time.Time
}

// Age returns how old the entry is at now
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// ContentType derives the image type from the payload
func (e *Entry) ContentType() string {
	if bytes.HasPrefix(e.Data, pngMagic) {
		return "image/png"
	}
	return "image/jpeg"
}

// IsImage reports whether data starts with a JPEG or PNG signature
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, jpegMagic) || bytes.HasPrefix(data, pngMagic)
}

func newEntry(data []byte, at time.Time) *Entry {
	sum := md5.Sum(data)
	return &Entry{
		Data:      data,
		ETag:      `"` + hex.EncodeToString(sum[:]) + `"`,
		FetchedAt: at,
	}
}

// CameraStats describes one cache entry
type CameraStats struct {
	CameraID   string  `json:"camera_id"`
	Bytes      int     `json:"bytes"`
	AgeSeconds float64 `json:"age_seconds"`
	Fresh      bool    `json:"fresh"`
}

// Cache maps camera ids to their latest thumbnail
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Get returns the entry for a camera. Entries that are not image data are
// dropped and reported as missing.
func (c *Cache) Get(uidd string) (*Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[uidd]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !IsImage(e.Data) {
		c.mu.Lock()
		if c.entries[uidd] == e {
			delete(c.entries, uidd)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e, true
}

// GetFresh returns the entry only if it is younger than maxAge
func (c *Cache) GetFresh(uidd string, maxAge time.Duration) (*Entry, bool) {
	e, ok := c.Get(uidd)
	if !ok || e.Age(c.now()) >= maxAge {
		return nil, false
	}
	return e, true
}

// Put stores data as the camera's entry and returns it
func (c *Cache) Put(uidd string, data []byte) *Entry {
	e := newEntry(data, c.now())
	c.mu.Lock()
	c.entries[uidd] = e
	c.mu.Unlock()
	return e
}

// Delete removes a camera's entry
func (c *Cache) Delete(uidd string) {
	c.mu.Lock()
	delete(c.entries, uidd)
	c.mu.Unlock()
}

// Usage returns entry count and total payload size
func (c *Cache) Usage() (entries int, size int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		size += int64(len(e.Data))
	}
	return len(c.entries), size
}

// Stats lists every entry, ordered by camera id. An entry is fresh while
// younger than freshFor.
func (c *Cache) Stats(freshFor time.Duration) []CameraStats {
	now := c.now()
	c.mu.RLock()
	out := make([]CameraStats, 0, len(c.entries))
	for id, e := range c.entries {
		age := e.Age(now)
		out = append(out, CameraStats{
			CameraID:   id,
			Bytes:      len(e.Data),
			AgeSeconds: float64(age.Milliseconds()) / 1000,
			Fresh:      age < freshFor,
		})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}
