// Package echostore implements the two TTL-bounded, content-tolerant
// suppression stores the sync engine uses to recognize its own writes
// coming back as filesystem or editor events.
package echostore

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/voicetree/core/internal/graphmodel"
)

// lengthTolerance is the fraction of normalized-content length difference
// still considered a match for a regular node's upsert echo.
const lengthTolerance = 0.02

var bracketedPayload = regexp.MustCompile(`\[\[[^\]]*\]\]|\[[^\[\]]*\]\*`)

// NormalizeContent strips wikilink payloads and collapses whitespace so
// content re-serialized by the codec still matches the value that was
// marked before the round trip.
func NormalizeContent(content string) string {
	stripped := bracketedPayload.ReplaceAllString(content, "")
	return strings.Join(strings.Fields(stripped), " ")
}

type entry struct {
	content interface{}
	expires time.Time
}

// Store is a mapping from key to a bounded list of recently marked
// entries, each valid until its TTL expires. isRecent never consumes
// entries; TTL expiry on a later mark is the only removal path, so that
// repeated OS-level events for one logical write all see the mark.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string][]entry
	match   func(marked, candidate interface{}) bool
}

// New builds a store with the given TTL and match predicate.
func New(ttl time.Duration, match func(marked, candidate interface{}) bool) *Store {
	return &Store{
		ttl:     ttl,
		entries: make(map[string][]entry),
		match:   match,
	}
}

// Mark records content as recently produced for key.
func (s *Store) Mark(key string, content interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.entries[key] = append(s.prune(key, now), entry{content: content, expires: now.Add(s.ttl)})
}

// IsRecent reports whether content matches any non-expired mark for key.
func (s *Store) IsRecent(key string, content interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, e := range s.prune(key, now) {
		if s.match(e.content, content) {
			return true
		}
	}
	return false
}

// DeleteKey drops every mark recorded for key.
func (s *Store) DeleteKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Clear drops every mark in the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]entry)
}

// prune must be called with s.mu held; it returns key's entries with
// expired ones removed, and writes the pruned list back.
func (s *Store) prune(key string, now time.Time) []entry {
	existing := s.entries[key]
	live := existing[:0]
	for _, e := range existing {
		if now.Before(e.expires) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = live
	return live
}

// NewActionStore builds the renderer-side recent-actions store: keys are
// node ids, content is the editor's text, matched after normalization.
func NewActionStore(ttl time.Duration) *Store {
	return New(ttl, func(marked, candidate interface{}) bool {
		a, aok := marked.(string)
		b, bok := candidate.(string)
		if !aok || !bok {
			return false
		}
		return NormalizeContent(a) == NormalizeContent(b)
	})
}

// NewDeltaStore builds the engine-side recent-deltas store: keys are node
// ids, content is a graphmodel.NodeDelta, matched per the rules in the
// component design (delete-by-id, length-tolerant upsert, id-only for
// context nodes).
func NewDeltaStore(ttl time.Duration) *Store {
	return New(ttl, func(marked, candidate interface{}) bool {
		a, aok := marked.(graphmodel.NodeDelta)
		b, bok := candidate.(graphmodel.NodeDelta)
		if !aok || !bok {
			return false
		}
		return deltaMatches(a, b)
	})
}

func deltaMatches(marked, candidate graphmodel.NodeDelta) bool {
	if marked.IsDelete() && candidate.IsDelete() {
		return marked.Delete.NodeID == candidate.Delete.NodeID
	}
	if marked.IsUpsert() && candidate.IsUpsert() {
		m, c := marked.Upsert.Node, candidate.Upsert.Node
		if m.ID != c.ID {
			return false
		}
		if m.UIMetadata.IsContextNode || c.UIMetadata.IsContextNode {
			return true // id-only match: avoid O(n^2) comparison on large synthesized bodies
		}
		return lengthTolerant(m.ContentWithoutYamlOrLinks, c.ContentWithoutYamlOrLinks)
	}
	return false
}

func lengthTolerant(a, b string) bool {
	na, nb := NormalizeContent(a), NormalizeContent(b)
	la, lb := float64(len(na)), float64(len(nb))
	if la == 0 && lb == 0 {
		return true
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return diff/longest <= lengthTolerance
}
