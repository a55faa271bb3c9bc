// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ban

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pyruse/pyrused/internal/atomicfile"
	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/logger"
	"github.com/pyruse/pyrused/internal/pyrerr"
)

// Record is one persisted ban, matching the §6 ban state file shape.
type Record struct {
	IP        string `json:"IP"`
	Set       string `json:"nfSet"`
	Timestamp int64  `json:"timestamp"` // 0 means permanent
}

// Metrics receives an ambient count each time Act actually issues a
// new ban through the driver. Optional: a nil Metrics is a no-op.
type Metrics interface {
	BanIssued(set string)
}

// Store is the persistent set of active bans for one driver, rooted
// at a JSON file that is fully rewritten on every change.
type Store struct {
	path       string
	driver     Driver
	ipv4Set    string
	ipv6Set    string
	field      string
	banSeconds int
	logf       logger.Logf
	now        func() time.Time
	jumpRule   *JumpRuleBinding
	metrics    Metrics
}

// Config configures one Store instance, mirroring one ban action's
// args: args.IP names the Entry field holding the IP to ban,
// args.<family>Set names the target set for each address family, and
// banSeconds of 0 means permanent.
type Config struct {
	Path       string
	Driver     Driver
	IPv4Set    string
	IPv6Set    string
	Field      string
	BanSeconds int
	Logf       logger.Logf
	Now        func() time.Time

	// JumpRule, if set, is ensured against both IPv4Set and IPv6Set
	// on every Boot.
	JumpRule *JumpRuleBinding

	// Metrics, if set, receives a BanIssued count each time Act issues
	// a new ban.
	Metrics Metrics
}

// NewStore builds a Store. Field, IPv4Set and IPv6Set are required.
func NewStore(c Config) (*Store, error) {
	if c.Field == "" {
		return nil, pyrerr.MissingArgError("ban", "IP")
	}
	if c.IPv4Set == "" || c.IPv6Set == "" {
		return nil, pyrerr.NewConfigError("ban", "both IPv4 and IPv6 set names are required")
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	logf := c.Logf
	if logf == nil {
		logf = logger.Discard
	}
	return &Store{
		path:       c.Path,
		driver:     c.Driver,
		ipv4Set:    c.IPv4Set,
		ipv6Set:    c.IPv6Set,
		field:      c.Field,
		banSeconds: c.BanSeconds,
		logf:       logf,
		now:        now,
		jumpRule:   c.JumpRule,
		metrics:    c.Metrics,
	}, nil
}

func (s *Store) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.logf("ban store: reading %s: %v", s.path, err)
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logf("ban store: decoding %s: %v", s.path, err)
		return nil, nil
	}
	return records, nil
}

func (s *Store) save(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(s.path, data, 0600)
}

// Act selects the set by address family (':' in the IP selects
// IPv6), drops expired and superseded records, cancels any previous
// ban on the same (IP, set), issues the new ban through the driver,
// and rewrites the state file.
func (s *Store) Act(e *entry.Entry) error {
	ip := e.GetString(s.field)
	if ip == "" {
		return fmt.Errorf("ban: entry has no value for field %s", s.field)
	}
	set := s.ipv4Set
	for _, r := range ip {
		if r == ':' {
			set = s.ipv6Set
			break
		}
	}

	now := s.now()
	nowUnix := now.Unix()

	existing, _ := s.load()
	var kept []Record
	var previousTS int64 = -1
	for _, r := range existing {
		switch {
		case r.Timestamp > 0 && r.Timestamp <= nowUnix:
			// expired, drop
		case r.IP == ip && r.Set == set:
			previousTS = r.Timestamp
		default:
			kept = append(kept, r)
		}
	}

	if previousTS >= 0 {
		if err := s.driver.CancelBan(set, ip); err != nil {
			s.logf("ban store: cancelBan(%s, %s): %v (ignored, too late)", set, ip, err)
		}
	}

	var newTimestamp int64
	var seconds int
	if s.banSeconds > 0 {
		newTimestamp = nowUnix + int64(s.banSeconds)
		seconds = s.banSeconds
	}

	if err := s.driver.SetBan(set, ip, seconds); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.BanIssued(set)
	}

	kept = append(kept, Record{IP: ip, Set: set, Timestamp: newTimestamp})
	return s.save(kept)
}

// Boot restores firewall state after a process or host restart: it
// drops expired records, re-applies permanents with seconds=0, and
// re-applies timed records with the remaining duration.
func (s *Store) Boot() error {
	if s.jumpRule != nil {
		if err := s.jumpRule.Ensure(s.ipv4Set); err != nil {
			s.logf("ban store boot: %v", err)
		}
		if err := s.jumpRule.Ensure(s.ipv6Set); err != nil {
			s.logf("ban store boot: %v", err)
		}
	}
	existing, _ := s.load()
	now := s.now().Unix()
	var kept []Record
	for _, r := range existing {
		switch {
		case r.Timestamp == 0:
			if err := s.driver.SetBan(r.Set, r.IP, 0); err != nil {
				s.logf("ban store boot: setBan(%s, %s): %v", r.Set, r.IP, err)
			}
			kept = append(kept, r)
		case r.Timestamp <= now:
			// expired, drop
		default:
			timeout := int(r.Timestamp - now)
			if err := s.driver.SetBan(r.Set, r.IP, timeout); err != nil {
				s.logf("ban store boot: setBan(%s, %s): %v", r.Set, r.IP, err)
			}
			kept = append(kept, r)
		}
	}
	return s.save(kept)
}
