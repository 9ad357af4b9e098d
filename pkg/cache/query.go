package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xhad/gamescout/internal/models"
)

// Entry is one cached answer. Prompt and Answer are returned byte-for-byte on
// a hit.
type Entry struct {
	Result    models.RetrievalResult
	Prompt    string
	Answer    string
	Advice    []string
	CreatedAt time.Time
}

type QueryCacheConfig struct {
	Capacity int
	TTL      time.Duration
	Shards   int
	Now      func() time.Time
}

type QueryCache struct {
	lru    *LRU[Entry]
	closed atomic.Bool
}

func NewQueryCache(config QueryCacheConfig) *QueryCache {
	return &QueryCache{
		lru: NewLRU[Entry](LRUConfig{
			Capacity: config.Capacity,
			TTL:      config.TTL,
			Shards:   config.Shards,
			Now:      config.Now,
		}),
	}
}

func (qc *QueryCache) Get(fingerprint string) (Entry, bool, error) {
	if qc.closed.Load() {
		return Entry{}, false, models.ErrCacheUnavailable
	}
	e, ok := qc.lru.Get(fingerprint)
	return e, ok, nil
}

func (qc *QueryCache) Put(fingerprint string, entry Entry) error {
	if qc.closed.Load() {
		return models.ErrCacheUnavailable
	}
	qc.lru.Put(fingerprint, entry)
	return nil
}

func (qc *QueryCache) Len() int { return qc.lru.Len() }

func (qc *QueryCache) Close() error {
	qc.closed.Store(true)
	qc.lru.Purge()
	return nil
}

// Fingerprint keys a query against one index generation. Text is lowercased
// and whitespace-collapsed; state fields keep their order.
func Fingerprint(q models.Query, generation uint64) string {
	h := sha256.New()
	length := func(n int) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		h.Write(b[:])
	}
	field := func(s string) {
		s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
		length(len(s))
		h.Write([]byte(s))
	}
	list := func(items []string) {
		length(len(items))
		for _, s := range items {
			field(s)
		}
	}

	field(q.Text)
	field(q.State.Region)
	field(q.State.CharacterClass)
	list(q.State.Keywords)
	list(q.State.PointsOfInterest)
	list(q.State.Quests)

	var g [8]byte
	binary.BigEndian.PutUint64(g[:], generation)
	h.Write(g[:])
	return hex.EncodeToString(h.Sum(nil))
}
