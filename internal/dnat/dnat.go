// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package dnat implements the time-bucketed DNAT mapping cache of
// §4.4: a Mapper captures observed translations, a Matcher replays
// them onto later entries that share the matching fields.
package dnat

import (
	"fmt"
	"sync"
	"time"

	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/pyrerr"
)

// DefaultKeepSeconds is the default retention window for captured
// mappings, chosen (like the original) so that 63 seconds of history
// fits in 6 bucket bits — 64-second granularity.
const DefaultKeepSeconds = 63

// Mapping is one captured DNAT translation.
type Mapping struct {
	bucketBits uint
	bucket     int64
	saddr      string
	sport      any
	addr       string
	port       any
	daddr      any
	dport      any
}

// BucketBits returns ⌈log2(keepSeconds+1)⌉, the number of low bits of
// a Unix timestamp that identify a coarse time bucket.
func BucketBits(keepSeconds int) uint {
	n := keepSeconds
	var bits uint
	for n > 0 {
		bits++
		n >>= 1
	}
	return bits
}

// Cache is a process-wide, insertion-ordered sequence of Mapping
// records, pruned on every access.
type Cache struct {
	mu       sync.Mutex
	mappings []Mapping
}

// NewCache returns an empty Cache.
func NewCache() *Cache { return &Cache{} }

func (c *Cache) pruneLocked(nowUnix int64) {
	out := c.mappings[:0]
	for _, m := range c.mappings {
		if nowUnix>>m.bucketBits <= m.bucket {
			out = append(out, m)
		}
	}
	c.mappings = out
}

func (c *Cache) put(nowUnix int64, m Mapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(nowUnix)
	c.mappings = append(c.mappings, m)
}

func (c *Cache) snapshot(nowUnix int64) []Mapping {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(nowUnix)
	out := make([]Mapping, len(c.mappings))
	copy(out, c.mappings)
	return out
}

// fieldSpec is a (field name, fixed value) pair: the field value
// overrides the fixed value only when the field is present in the
// Entry.
type fieldSpec struct {
	field     string
	hasField  bool
	hasFixed  bool
	fixed     any
}

func (s fieldSpec) resolve(e *entry.Entry) (any, bool) {
	if s.hasField {
		if v, ok := e.Get(s.field); ok {
			return v, true
		}
	}
	if s.hasFixed {
		return s.fixed, true
	}
	return nil, false
}

// Args is the per-step configuration map for dnatCapture/dnatReplace.
type Args map[string]any

func spec(a Args, fieldKey, valueKey string) fieldSpec {
	s := fieldSpec{}
	if v, ok := a[fieldKey]; ok {
		if str, ok := v.(string); ok {
			s.field, s.hasField = str, true
		}
	}
	if v, ok := a[valueKey]; ok {
		s.fixed, s.hasFixed = v, true
	}
	return s
}

// Mapper captures DNAT translations into a Cache on every act().
type Mapper struct {
	cache *Cache
	now   func() time.Time

	saddr, sport fieldSpec
	addr, port   fieldSpec
	daddr, dport fieldSpec
	bucketBits   uint
}

// NewMapper builds a Mapper from a dnatCapture step's args. saddr and
// addr each require a field or a fixed value.
func NewMapper(cache *Cache, a Args) (*Mapper, error) {
	m := &Mapper{cache: cache, now: time.Now}
	m.saddr = spec(a, "saddr", "saddrValue")
	if !m.saddr.hasField && !m.saddr.hasFixed {
		return nil, pyrerr.NewConfigError("action_dnatCapture", "saddr requires a field or a value")
	}
	m.sport = spec(a, "sport", "sportValue")
	m.addr = spec(a, "addr", "addrValue")
	if !m.addr.hasField && !m.addr.hasFixed {
		return nil, pyrerr.NewConfigError("action_dnatCapture", "addr requires a field or a value")
	}
	m.port = spec(a, "port", "portValue")
	m.daddr = spec(a, "daddr", "daddrValue")
	m.dport = spec(a, "dport", "dportValue")

	keepSeconds := DefaultKeepSeconds
	if v, ok := a["keepSeconds"]; ok {
		if n, ok := v.(int); ok {
			keepSeconds = n
		} else if f, ok := v.(float64); ok {
			keepSeconds = int(f)
		}
	}
	m.bucketBits = BucketBits(keepSeconds)
	return m, nil
}

// Map resolves the configured fields against e and appends a new
// Mapping to the cache, bucketed from e's reserved timestamp field.
func (m *Mapper) Map(e *entry.Entry) error {
	saddr, ok := m.saddr.resolve(e)
	if !ok {
		return nil
	}
	addr, ok := m.addr.resolve(e)
	if !ok {
		return nil
	}
	sport, _ := m.sport.resolve(e)
	port, _ := m.port.resolve(e)
	daddr, _ := m.daddr.resolve(e)
	dport, _ := m.dport.resolve(e)

	ts := e.Timestamp()
	if ts.IsZero() {
		return fmt.Errorf("dnatCapture: entry has no %s", entry.TimestampField)
	}
	nowUnix := ts.Unix()
	bucket := 1 + (nowUnix >> m.bucketBits)

	saddrStr, _ := saddr.(string)
	addrStr, _ := addr.(string)
	m.cache.put(m.now().Unix(), Mapping{
		bucketBits: m.bucketBits,
		bucket:     bucket,
		saddr:      saddrStr,
		sport:      sport,
		addr:       addrStr,
		port:       port,
		daddr:      daddr,
		dport:      dport,
	})
	return nil
}

// matchField is one (entry field name, mapping accessor) pair used by
// Matcher to test or replay a mapping.
type matchField struct {
	entryField string
	get        func(Mapping) any
}

// Matcher replays a captured mapping's saddr/sport onto later entries
// whose configured match fields agree with a cached Mapping.
type Matcher struct {
	matchers []matchField
	updaters []matchField
	cache    *Cache
	now      func() time.Time
}

// NewMatcher builds a Matcher from a dnatReplace step's args. At
// least one match field (addr/port/daddr/dport) and at least one
// replacement field (saddrInto/sportInto) are required.
func NewMatcher(cache *Cache, a Args) (*Matcher, error) {
	m := &Matcher{cache: cache, now: time.Now}
	addField := func(key string, get func(Mapping) any, into bool) error {
		v, ok := a[key]
		if !ok {
			return nil
		}
		field, ok := v.(string)
		if !ok {
			return pyrerr.NewConfigError("action_dnatReplace", key+" must be a string")
		}
		mf := matchField{entryField: field, get: get}
		if into {
			m.updaters = append(m.updaters, mf)
		} else {
			m.matchers = append(m.matchers, mf)
		}
		return nil
	}
	if err := addField("addr", func(mp Mapping) any { return mp.addr }, false); err != nil {
		return nil, err
	}
	if err := addField("port", func(mp Mapping) any { return mp.port }, false); err != nil {
		return nil, err
	}
	if err := addField("daddr", func(mp Mapping) any { return mp.daddr }, false); err != nil {
		return nil, err
	}
	if err := addField("dport", func(mp Mapping) any { return mp.dport }, false); err != nil {
		return nil, err
	}
	if err := addField("saddrInto", func(mp Mapping) any { return mp.saddr }, true); err != nil {
		return nil, err
	}
	if err := addField("sportInto", func(mp Mapping) any { return mp.sport }, true); err != nil {
		return nil, err
	}
	if len(m.matchers) == 0 {
		return nil, pyrerr.NewConfigError("action_dnatReplace", "no field was provided on which to do the matching")
	}
	if len(m.updaters) == 0 {
		return nil, pyrerr.NewConfigError("action_dnatReplace", "no field was provided in which to store the translated values")
	}
	return m, nil
}

// Replace requires all configured match fields be present in e, then
// scans the cache in insertion order for the first Mapping whose
// match fields equal e's, copying its translated values into e.
func (m *Matcher) Replace(e *entry.Entry) error {
	for _, mf := range m.matchers {
		if !e.Has(mf.entryField) {
			return nil
		}
	}
	for _, mp := range m.cache.snapshot(m.now().Unix()) {
		matched := true
		for _, mf := range m.matchers {
			v, _ := e.Get(mf.entryField)
			if v != mf.get(mp) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		for _, mf := range m.updaters {
			e.Set(mf.entryField, mf.get(mp))
		}
		return nil
	}
	return nil
}
