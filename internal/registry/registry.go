// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package registry is the static name→constructor table the design
// notes call for in place of the original's dynamic module loading:
// cmd/pyrused populates a Registry with the daemon's live subsystems,
// then hands Registry.Build to workflow.Compile as its Builder.
package registry

import (
	"github.com/pyruse/pyrused/internal/actions"
	"github.com/pyruse/pyrused/internal/ban"
	"github.com/pyruse/pyrused/internal/counter"
	"github.com/pyruse/pyrused/internal/dnat"
	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/filters"
	"github.com/pyruse/pyrused/internal/logger"
	"github.com/pyruse/pyrused/internal/mailer"
	"github.com/pyruse/pyrused/internal/pyrerr"
	"github.com/pyruse/pyrused/internal/report"
	"github.com/pyruse/pyrused/internal/step"
	"github.com/pyruse/pyrused/internal/workflow"
)

// Registry holds the constructed, ready-to-use subsystems a compiled
// step graph closes over. Every field is optional: a document that
// never names a given module leaves the corresponding field unused.
type Registry struct {
	Counters         *counter.Registry
	Dnat             *dnat.Cache
	NftDriver        *ban.NFTDriver
	NftStoragePath   string
	IpsetDriver      *ban.IPSetDriver
	IpsetStoragePath string
	BanMetrics       ban.Metrics
	Report           *report.Aggregator
	Mailer           *mailer.Mailer
	LogSink          func(priority int, msg string)

	// Logf receives every Filter/Action node's §4.1/§7 runtime error
	// log line. Required for production use: a nil Logf silently
	// drops step-runtime error logging (step.Filter.Run/step.Action.Run).
	Logf logger.Logf
}

// Build implements workflow.Builder, dispatching each descriptor to
// its filter or action constructor by the "filter_X"/"action_X"
// module-name convention the design notes specify.
func (r *Registry) Build(desc workflow.StepDesc) (step.Node, error) {
	if desc.Filter != "" {
		return r.buildFilter(desc.Filter, filters.Args(desc.Args))
	}
	return r.buildAction(desc.Action, actions.Args(desc.Args))
}

func (r *Registry) wrapFilter(name string, predicate func(*entry.Entry) (bool, error), err error) (step.Node, error) {
	if err != nil {
		return nil, err
	}
	return &step.Filter{Name: name, Predicate: predicate, Logf: r.Logf}, nil
}

func (r *Registry) wrapAction(name string, effect func(*entry.Entry) error, err error) (step.Node, error) {
	if err != nil {
		return nil, err
	}
	return &step.Action{Name: name, Effect: effect, Logf: r.Logf}, nil
}

func (r *Registry) buildFilter(name string, a filters.Args) (step.Node, error) {
	switch name {
	case "equals":
		return r.wrapFilter(name, filters.Equals(a))
	case "in":
		return r.wrapFilter(name, filters.In(a))
	case "lowerOrEquals":
		return r.wrapFilter(name, filters.LowerOrEquals(a))
	case "greaterOrEquals":
		return r.wrapFilter(name, filters.GreaterOrEquals(a))
	case "pcre":
		return r.wrapFilter(name, filters.Pcre(a))
	case "pcreAny":
		return r.wrapFilter(name, filters.PcreAny(a))
	case "inNetworks":
		return r.wrapFilter(name, filters.InNetworks(a))
	case "userExists":
		return r.wrapFilter(name, filters.UserExists(a))
	}
	return nil, pyrerr.NewConfigError("workflow", "unknown filter module \"filter_"+name+"\"")
}

func (r *Registry) buildAction(name string, a actions.Args) (step.Node, error) {
	switch name {
	case "counterRaise":
		return r.wrapAction(name, actions.CounterRaise(r.Counters, a))
	case "counterReset":
		return r.wrapAction(name, actions.CounterReset(r.Counters, a))
	case "dnatCapture":
		return r.wrapAction(name, actions.DnatCapture(r.Dnat, a))
	case "dnatReplace":
		return r.wrapAction(name, actions.DnatReplace(r.Dnat, a))
	case "nftBan":
		return r.wrapAction(name, actions.NftBan(r.NftDriver, r.NftStoragePath, r.BanMetrics, r.Logf, a))
	case "ipsetBan":
		return r.wrapAction(name, actions.IpsetBan(r.IpsetDriver, r.IpsetStoragePath, r.BanMetrics, r.Logf, a))
	case "log":
		return r.wrapAction(name, actions.Log(r.LogSink, a))
	case "dailyReport":
		return r.wrapAction(name, actions.DailyReport(r.Report, a))
	case "email":
		return r.wrapAction(name, actions.Email(r.Mailer, a))
	}
	return nil, pyrerr.NewConfigError("workflow", "unknown action module \"action_"+name+"\"")
}
