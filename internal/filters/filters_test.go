// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package filters

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/pyruse/pyrused/internal/entry"
)

func TestEqualsCrossTypeNumericComparison(t *testing.T) {
	c := qt.New(t)
	pred, err := Equals(Args{"field": "n", "value": 3})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("n", 3.0)
	ok, err := pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestEqualsMissingFieldIsFalse(t *testing.T) {
	c := qt.New(t)
	pred, err := Equals(Args{"field": "n", "value": 3})
	c.Assert(err, qt.IsNil)

	ok, err := pred(entry.New())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestInMembership(t *testing.T) {
	c := qt.New(t)
	pred, err := In(Args{"field": "proto", "values": []any{"tcp", "udp"}})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("proto", "udp")
	ok, err := pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	e.Set("proto", "icmp")
	ok, err = pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestLowerOrEqualsCrossTypeNumeric(t *testing.T) {
	c := qt.New(t)
	pred, err := LowerOrEquals(Args{"field": "n", "value": 5})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("n", 4.5)
	ok, err := pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestGreaterOrEqualsStringComparison(t *testing.T) {
	c := qt.New(t)
	pred, err := GreaterOrEquals(Args{"field": "name", "value": "m"})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("name", "zeta")
	ok, err := pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	e.Set("name", "alpha")
	ok, err = pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestPcreCapturesSaveAndNamedGroups(t *testing.T) {
	c := qt.New(t)
	pred, err := Pcre(Args{
		"field": "msg",
		"re":    `user (\w+) from (?P<ip>\S+)`,
		"save":  []any{"user"},
	})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("msg", "user bob from 10.0.0.1")
	ok, err := pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	user, _ := e.Get("user")
	c.Assert(user, qt.Equals, "bob")
	ip, _ := e.Get("ip")
	c.Assert(ip, qt.Equals, "10.0.0.1")
}

func TestPcreNoMatch(t *testing.T) {
	c := qt.New(t)
	pred, err := Pcre(Args{"field": "msg", "re": `^nope$`})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("msg", "something else")
	ok, err := pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestPcreAnySucceedsOnFirstMatch(t *testing.T) {
	c := qt.New(t)
	pred, err := PcreAny(Args{
		"field": "msg",
		"re":    []any{`^nope$`, `host (?P<host>\S+)`},
	})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("msg", "host web1")
	ok, err := pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	host, _ := e.Get("host")
	c.Assert(host, qt.Equals, "web1")
}

// TestInNetworksScenario encodes §8 scenario 6 verbatim: two CIDRs,
// one IPv4 and one IPv6, tested against three addresses.
func TestInNetworksScenario(t *testing.T) {
	c := qt.New(t)
	pred, err := InNetworks(Args{
		"field": "ip",
		"nets":  []any{"34.56.78.90/12", "2001:db8:1:1a0::/59"},
	})
	c.Assert(err, qt.IsNil)

	for _, tc := range []struct {
		ip   string
		want bool
	}{
		{"34.48.0.1", true},
		{"34.47.255.254", false},
		{"2001:db8:1:1a0::1", true},
	} {
		e := entry.New()
		e.Set("ip", tc.ip)
		ok, err := pred(e)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.Equals, tc.want, qt.Commentf("ip=%s", tc.ip))
	}
}

func TestInNetworksMissingFieldIsFalse(t *testing.T) {
	c := qt.New(t)
	pred, err := InNetworks(Args{"field": "ip", "nets": []any{"10.0.0.0/8"}})
	c.Assert(err, qt.IsNil)

	ok, err := pred(entry.New())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestUserExistsKnownUser(t *testing.T) {
	c := qt.New(t)
	pred, err := UserExists(Args{"field": "user"})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("user", "root")
	ok, err := pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestUserExistsUnknownUser(t *testing.T) {
	c := qt.New(t)
	pred, err := UserExists(Args{"field": "user"})
	c.Assert(err, qt.IsNil)

	e := entry.New()
	e.Set("user", "no-such-pyruse-test-user")
	ok, err := pred(e)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestEqualsMissingArgsRejected(t *testing.T) {
	c := qt.New(t)
	_, err := Equals(Args{"field": "n"})
	c.Assert(err, qt.IsNotNil)
}
