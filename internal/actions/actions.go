// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package actions wires the pipeline's stateful subsystems — counters,
// the DNAT cache, ban stores, the report aggregator, the mailer — into
// the Effect closures step.Action expects, one constructor per §4
// action kind.
package actions

import (
	"context"
	"time"

	"github.com/pyruse/pyrused/internal/ban"
	"github.com/pyruse/pyrused/internal/counter"
	"github.com/pyruse/pyrused/internal/dnat"
	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/logger"
	"github.com/pyruse/pyrused/internal/mailer"
	"github.com/pyruse/pyrused/internal/pyrerr"
	"github.com/pyruse/pyrused/internal/report"
)

// Args is one action step's configuration, as parsed from the
// document's "actions" map.
type Args map[string]any

func stringArg(a Args, key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func requiredString(module string, a Args, key string) (string, error) {
	s, ok := stringArg(a, key)
	if !ok || s == "" {
		return "", pyrerr.MissingArgError(module, key)
	}
	return s, nil
}

func intArg(a Args, key string) (int, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// CounterRaise builds the counterRaise action (§ counter.Augment),
// grounded on action_counterRaise.py: args "counter", "for" (the
// Entry field holding the key), optional "save" (Entry field to store
// the new count into) and "keepSeconds".
func CounterRaise(reg *counter.Registry, a Args) (func(*entry.Entry) error, error) {
	counterName, err := requiredString("action_counterRaise", a, "counter")
	if err != nil {
		return nil, err
	}
	keyField, err := requiredString("action_counterRaise", a, "for")
	if err != nil {
		return nil, err
	}
	saveField, _ := stringArg(a, "save")
	keepSeconds, _ := intArg(a, "keepSeconds")
	keep := time.Duration(keepSeconds) * time.Second

	return func(e *entry.Entry) error {
		key := e.GetString(keyField)
		count := reg.Augment(counterName, key, keep)
		if saveField != "" {
			e.Set(saveField, count)
		}
		return nil
	}, nil
}

// CounterReset builds the counterReset action, grounded on
// action_counterReset.py: same "counter"/"for"/"save" args plus
// "graceSeconds".
func CounterReset(reg *counter.Registry, a Args) (func(*entry.Entry) error, error) {
	counterName, err := requiredString("action_counterReset", a, "counter")
	if err != nil {
		return nil, err
	}
	keyField, err := requiredString("action_counterReset", a, "for")
	if err != nil {
		return nil, err
	}
	saveField, _ := stringArg(a, "save")
	graceSeconds, _ := intArg(a, "graceSeconds")
	grace := time.Duration(graceSeconds) * time.Second

	return func(e *entry.Entry) error {
		key := e.GetString(keyField)
		reg.Reset(counterName, key, grace)
		if saveField != "" {
			e.Set(saveField, 0)
		}
		return nil
	}, nil
}

// DnatCapture builds the dnatCapture action over a shared dnat.Cache.
func DnatCapture(cache *dnat.Cache, a Args) (func(*entry.Entry) error, error) {
	m, err := dnat.NewMapper(cache, dnat.Args(a))
	if err != nil {
		return nil, err
	}
	return m.Map, nil
}

// DnatReplace builds the dnatReplace action over a shared dnat.Cache.
func DnatReplace(cache *dnat.Cache, a Args) (func(*entry.Entry) error, error) {
	m, err := dnat.NewMatcher(cache, dnat.Args(a))
	if err != nil {
		return nil, err
	}
	return m.Replace, nil
}

// NftBan builds the nftBan action, grounded on action_nftBan.py: args
// "nftSetIPv4", "nftSetIPv6", "IP", optional "banSeconds". storagePath
// is shared process-wide across every nftBan step, matching the
// original's single class-level _storage file.
func NftBan(driver *ban.NFTDriver, storagePath string, metrics ban.Metrics, logf logger.Logf, a Args) (func(*entry.Entry) error, error) {
	store, err := newBanStore(driver, storagePath, metrics, logf, a, "action_nftBan", "nftSetIPv4", "nftSetIPv6")
	if err != nil {
		return nil, err
	}
	return store.Act, nil
}

// IpsetBan builds the ipsetBan action, grounded on
// action_ipsetBan.py: args "ipSetIPv4", "ipSetIPv6", "IP", optional
// "banSeconds".
func IpsetBan(driver *ban.IPSetDriver, storagePath string, metrics ban.Metrics, logf logger.Logf, a Args) (func(*entry.Entry) error, error) {
	store, err := newBanStore(driver, storagePath, metrics, logf, a, "action_ipsetBan", "ipSetIPv4", "ipSetIPv6")
	if err != nil {
		return nil, err
	}
	return store.Act, nil
}

func newBanStore(driver ban.Driver, storagePath string, metrics ban.Metrics, logf logger.Logf, a Args, module, v4Key, v6Key string) (*ban.Store, error) {
	ipv4Set, err := requiredString(module, a, v4Key)
	if err != nil {
		return nil, err
	}
	ipv6Set, err := requiredString(module, a, v6Key)
	if err != nil {
		return nil, err
	}
	field, err := requiredString(module, a, "IP")
	if err != nil {
		return nil, err
	}
	banSeconds, _ := intArg(a, "banSeconds")
	return ban.NewStore(ban.Config{
		Path:       storagePath,
		Driver:     driver,
		IPv4Set:    ipv4Set,
		IPv6Set:    ipv6Set,
		Field:      field,
		BanSeconds: banSeconds,
		Metrics:    metrics,
		Logf:       logf,
	})
}

// Log builds the log action of §4.8: format the template and emit it
// to the journal at the configured syslog priority.
func Log(sink func(priority int, msg string), a Args) (func(*entry.Entry) error, error) {
	template, err := requiredString("action_log", a, "message")
	if err != nil {
		return nil, err
	}
	priority, _ := intArg(a, "priority")
	return func(e *entry.Entry) error {
		msg := report.FormatTemplate(template, e)
		sink(priority, msg)
		return nil
	}, nil
}

// DailyReport builds the dailyReport action over a shared
// *report.Aggregator, grounded on action_dailyReport.py: args "level",
// "message", optional "details".
func DailyReport(agg *report.Aggregator, a Args) (func(*entry.Entry) error, error) {
	template, err := requiredString("action_dailyReport", a, "message")
	if err != nil {
		return nil, err
	}
	levelStr, err := requiredString("action_dailyReport", a, "level")
	if err != nil {
		return nil, err
	}
	detailStr, _ := stringArg(a, "details")
	rec := report.Record{
		Level:   report.ParseLevel(levelStr),
		Detail:  report.ParseDetailMode(detailStr),
		Message: template,
	}
	return func(e *entry.Entry) error {
		return agg.Act(rec, e)
	}, nil
}

// Email builds the email action of §4.7, grounded on action_email.py:
// args "subject" (default "Pyruse Notification") and "message".
func Email(m *mailer.Mailer, a Args) (func(*entry.Entry) error, error) {
	template, err := requiredString("action_email", a, "message")
	if err != nil {
		return nil, err
	}
	subject, _ := stringArg(a, "subject")
	if subject == "" {
		subject = "Pyruse Notification"
	}
	return func(e *entry.Entry) error {
		msg := report.FormatTemplate(template, e)
		return m.Send(context.Background(), subject, msg, "")
	}, nil
}
