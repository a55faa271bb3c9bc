// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package filters implements the predicate nodes of §4.2: equals,
// in-set, in-networks, lowerOrEquals, greaterOrEquals, regex,
// regex-any and user-exists.
package filters

import (
	"fmt"
	"net/netip"
	"os/user"
	"regexp"

	"go4.org/netipx"

	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/pyrerr"
)

// Args is the per-step configuration map, mirroring the untyped
// args dict the original pipeline's module loader handed each filter
// constructor.
type Args map[string]any

func stringArg(a Args, key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", pyrerr.MissingArgError("filter", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", pyrerr.NewConfigError("filter", fmt.Sprintf("arg %q is not a string", key))
	}
	return s, nil
}

// Equals implements the "equals" filter: field present AND equal to
// value, with cross-type numeric comparison (int vs float).
func Equals(a Args) (func(*entry.Entry) (bool, error), error) {
	field, err := stringArg(a, "field")
	if err != nil {
		return nil, err
	}
	value, ok := a["value"]
	if !ok {
		return nil, pyrerr.MissingArgError("filter_equals", "value")
	}
	return func(e *entry.Entry) (bool, error) {
		v, ok := e.Get(field)
		if !ok {
			return false, nil
		}
		return valuesEqual(v, value), nil
	}, nil
}

// In implements the "in" filter: field present AND its value is a
// member of args.values.
func In(a Args) (func(*entry.Entry) (bool, error), error) {
	field, err := stringArg(a, "field")
	if err != nil {
		return nil, err
	}
	values, ok := a["values"].([]any)
	if !ok {
		return nil, pyrerr.MissingArgError("filter_in", "values")
	}
	return func(e *entry.Entry) (bool, error) {
		v, ok := e.Get(field)
		if !ok {
			return false, nil
		}
		for _, want := range values {
			if valuesEqual(v, want) {
				return true, nil
			}
		}
		return false, nil
	}, nil
}

// LowerOrEquals implements the "lowerOrEquals" filter: field present
// AND field value <= args.value.
func LowerOrEquals(a Args) (func(*entry.Entry) (bool, error), error) {
	return compareFilter(a, "filter_lowerOrEquals", func(cmp int) bool { return cmp <= 0 })
}

// GreaterOrEquals implements the "greaterOrEquals" filter: field
// present AND field value >= args.value.
func GreaterOrEquals(a Args) (func(*entry.Entry) (bool, error), error) {
	return compareFilter(a, "filter_greaterOrEquals", func(cmp int) bool { return cmp >= 0 })
}

func compareFilter(a Args, module string, accept func(cmp int) bool) (func(*entry.Entry) (bool, error), error) {
	field, err := stringArg(a, "field")
	if err != nil {
		return nil, err
	}
	value, ok := a["value"]
	if !ok {
		return nil, pyrerr.MissingArgError(module, "value")
	}
	return func(e *entry.Entry) (bool, error) {
		v, ok := e.Get(field)
		if !ok {
			return false, nil
		}
		cmp, ok := compareValues(v, value)
		if !ok {
			return false, nil
		}
		return accept(cmp), nil
	}, nil
}

// valuesEqual compares two heterogeneous Entry values, treating
// int/float pairs as numerically comparable.
func valuesEqual(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return a == b
}

// compareValues returns (-1|0|1, true) if a and b are both numeric
// (int64/float64, in any combination) or both strings; (_, false) if
// they aren't comparable this way.
func compareValues(a, b any) (int, bool) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Pcre implements the "pcre" filter: compiles args.re once, searches
// entry[field] (empty string if absent), and on match copies both
// positional captures (mapped through args.save) and named captures
// into the Entry.
func Pcre(a Args) (func(*entry.Entry) (bool, error), error) {
	field, err := stringArg(a, "field")
	if err != nil {
		return nil, err
	}
	reStr, err := stringArg(a, "re")
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(reStr)
	if err != nil {
		return nil, pyrerr.WrapConfigError("filter_pcre", "invalid regular expression", err)
	}
	var save []string
	if rawSave, ok := a["save"].([]any); ok {
		for _, s := range rawSave {
			if str, ok := s.(string); ok {
				save = append(save, str)
			}
		}
	}
	names := re.SubexpNames()
	return func(e *entry.Entry) (bool, error) {
		m := re.FindStringSubmatch(e.GetString(field))
		if m == nil {
			return false, nil
		}
		applyCaptures(e, names, m, save)
		return true, nil
	}, nil
}

// PcreAny implements the "pcreAny" filter: a list of regexes,
// succeeding on the first that matches; its named groups are copied
// into the Entry.
func PcreAny(a Args) (func(*entry.Entry) (bool, error), error) {
	field, err := stringArg(a, "field")
	if err != nil {
		return nil, err
	}
	rawList, ok := a["re"].([]any)
	if !ok {
		return nil, pyrerr.MissingArgError("filter_pcreAny", "re")
	}
	type compiled struct {
		re    *regexp.Regexp
		names []string
	}
	var list []compiled
	for _, item := range rawList {
		s, ok := item.(string)
		if !ok {
			return nil, pyrerr.NewConfigError("filter_pcreAny", "re entries must be strings")
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, pyrerr.WrapConfigError("filter_pcreAny", "invalid regular expression", err)
		}
		list = append(list, compiled{re, re.SubexpNames()})
	}
	return func(e *entry.Entry) (bool, error) {
		s := e.GetString(field)
		for _, c := range list {
			if m := c.re.FindStringSubmatch(s); m != nil {
				applyCaptures(e, c.names, m, nil)
				return true, nil
			}
		}
		return false, nil
	}, nil
}

func applyCaptures(e *entry.Entry, names []string, m []string, save []string) {
	for i := 1; i < len(m); i++ {
		if i-1 < len(save) && save[i-1] != "" {
			e.Set(save[i-1], m[i])
		}
		if i < len(names) && names[i] != "" {
			e.Set(names[i], m[i])
		}
	}
}

// InNetworks implements the "inNetworks" filter: each CIDR is parsed
// once into an IPv4 or IPv6 netipx.IPSet depending on family, and
// evaluation chooses the set by the presence of ':' in the field
// value.
func InNetworks(a Args) (func(*entry.Entry) (bool, error), error) {
	field, err := stringArg(a, "field")
	if err != nil {
		return nil, err
	}
	rawNets, ok := a["nets"].([]any)
	if !ok {
		return nil, pyrerr.MissingArgError("filter_inNetworks", "nets")
	}
	var v4, v6 netipx.IPSetBuilder
	for _, n := range rawNets {
		s, ok := n.(string)
		if !ok {
			return nil, pyrerr.NewConfigError("filter_inNetworks", "nets entries must be strings")
		}
		prefix, err := parsePrefix(s)
		if err != nil {
			return nil, pyrerr.WrapConfigError("filter_inNetworks", "invalid network "+s, err)
		}
		if prefix.Addr().Is4() {
			v4.AddPrefix(prefix)
		} else {
			v6.AddPrefix(prefix)
		}
	}
	set4, err := v4.IPSet()
	if err != nil {
		return nil, pyrerr.WrapConfigError("filter_inNetworks", "building IPv4 set", err)
	}
	set6, err := v6.IPSet()
	if err != nil {
		return nil, pyrerr.WrapConfigError("filter_inNetworks", "building IPv6 set", err)
	}
	return func(e *entry.Entry) (bool, error) {
		s, ok := e.Get(field)
		if !ok {
			return false, nil
		}
		str, ok := s.(string)
		if !ok {
			return false, nil
		}
		addr, err := netip.ParseAddr(str)
		if err != nil {
			return false, nil
		}
		if addr.Is4() {
			return set4.Contains(addr), nil
		}
		return set6.Contains(addr), nil
	}, nil
}

// parsePrefix accepts either a bare address (treated as a /32 or
// /128) or a CIDR.
func parsePrefix(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// UserExists implements the "userExists" filter: true iff
// entry[args.field] names a local user.
func UserExists(a Args) (func(*entry.Entry) (bool, error), error) {
	field, err := stringArg(a, "field")
	if err != nil {
		return nil, err
	}
	return func(e *entry.Entry) (bool, error) {
		_, err := user.Lookup(e.GetString(field))
		return err == nil, nil
	}, nil
}
