// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package actions

import (
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/pyruse/pyrused/internal/counter"
	"github.com/pyruse/pyrused/internal/dnat"
	"github.com/pyruse/pyrused/internal/entry"
)

type fakeDriver struct {
	bans      map[string]int
	cancelled []string
}

func newFakeDriver() *fakeDriver { return &fakeDriver{bans: map[string]int{}} }

func (d *fakeDriver) SetBan(set, ip string, seconds int) error {
	d.bans[set+"|"+ip] = seconds
	return nil
}

func (d *fakeDriver) CancelBan(set, ip string) error {
	d.cancelled = append(d.cancelled, set+"|"+ip)
	return nil
}

func TestCounterRaiseSavesCount(t *testing.T) {
	c := qt.New(t)
	reg := counter.NewRegistry(nil)
	effect, err := CounterRaise(reg, Args{"counter": "hits", "for": "ip", "save": "n"})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("ip", "1.2.3.4")
	c.Assert(effect(e), qt.IsNil)
	c.Assert(effect(e), qt.IsNil)
	n, _ := e.Get("n")
	c.Assert(n, qt.Equals, 2)
}

func TestCounterResetClearsState(t *testing.T) {
	c := qt.New(t)
	reg := counter.NewRegistry(nil)
	raise, err := CounterRaise(reg, Args{"counter": "hits", "for": "ip"})
	c.Assert(err, qt.IsNil)
	reset, err := CounterReset(reg, Args{"counter": "hits", "for": "ip", "save": "n"})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("ip", "1.2.3.4")
	c.Assert(raise(e), qt.IsNil)
	c.Assert(reset(e), qt.IsNil)
	n, _ := e.Get("n")
	c.Assert(n, qt.Equals, 0)
}

func TestCounterRaiseMissingArg(t *testing.T) {
	c := qt.New(t)
	reg := counter.NewRegistry(nil)
	_, err := CounterRaise(reg, Args{"counter": "hits"})
	c.Assert(err, qt.IsNotNil)
}

func TestDnatCaptureThenReplace(t *testing.T) {
	c := qt.New(t)
	cache := dnat.NewCache()
	capture, err := DnatCapture(cache, Args{"saddr": "saddr", "addr": "addr"})
	c.Assert(err, qt.IsNil)
	replace, err := DnatReplace(cache, Args{"addr": "addr", "saddrInto": "origin"})
	c.Assert(err, qt.IsNil)

	now := time.Now()
	e1 := entry.New()
	e1.SetTimestamp(now)
	e1.Set("saddr", "10.0.0.1")
	e1.Set("addr", "203.0.113.9")
	c.Assert(capture(e1), qt.IsNil)

	e2 := entry.New()
	e2.SetTimestamp(now)
	e2.Set("addr", "203.0.113.9")
	c.Assert(replace(e2), qt.IsNil)
	origin, ok := e2.Get("origin")
	c.Assert(ok, qt.IsTrue)
	c.Assert(origin, qt.Equals, "10.0.0.1")
}

func TestNewBanStoreIssuesDriverCall(t *testing.T) {
	c := qt.New(t)
	driver := newFakeDriver()
	store, err := newBanStore(driver, filepath.Join(c.TempDir(), "bans.json"), nil, nil,
		Args{"nftSetIPv4": "v4set", "nftSetIPv6": "v6set", "IP": "ip", "banSeconds": 60},
		"action_nftBan", "nftSetIPv4", "nftSetIPv6")
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("ip", "203.0.113.9")
	c.Assert(store.Act(e), qt.IsNil)
	c.Assert(driver.bans["v4set|203.0.113.9"], qt.Equals, 60)
}

func TestIpsetBanRequiresFields(t *testing.T) {
	c := qt.New(t)
	_, err := IpsetBan(nil, filepath.Join(c.TempDir(), "bans.json"), nil, nil, Args{"ipSetIPv4": "v4set"})
	c.Assert(err, qt.IsNotNil)
}
