// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package workflow compiles a labeled map of step descriptors into a
// linked step.Node graph, per §4.9: steps within a label chain by
// `next`, `then`/`else` branch across labels, dangling filter `alt`s
// and chain ends fall through to the next top-level label in config
// order, and shared subchains keep stable per-label identity. Unlike
// the original Python, loops are detected and rejected rather than
// left to recurse forever.
package workflow

import (
	"github.com/pyruse/pyrused/internal/pyrerr"
	"github.com/pyruse/pyrused/internal/step"
)

// StepDesc is one step descriptor, matching §6's JSON shape: either a
// filter (with an optional "else" branch label) or an action (with an
// optional "then" branch label).
type StepDesc struct {
	Filter string         // module name, set for a filter step
	Action string         // module name, set for an action step
	Args   map[string]any // module-specific args, per §6
	Then   string         // action-only: branch label after this step
	Else   string         // filter-only: branch label on predicate false
}

// Builder resolves a step descriptor into a step.Node, looking up the
// concrete filter/action implementation by module name. Supplied by
// the config/actions wiring layer so this package stays ignorant of
// any concrete filter or action type.
type Builder func(desc StepDesc) (step.Node, error)

// Document is the compiled input: label → ordered step descriptors,
// plus the optional fallback labels supplemented from the original's
// "fallback" config map (see SPEC_FULL.md).
type Document struct {
	Actions        map[string][]StepDesc
	Labels         []string // top-level label order, as they appear in config
	FilterFallback string   // label entered by every dangling edge left after the last top-level label, if set
	ActionFallback string   // used in place of FilterFallback when that is empty; ignored otherwise
}

// Workflow is the compiled step graph: Root is the first top-level
// label's first step.
type Workflow struct {
	Root step.Node
}

// Compile builds the step graph described by doc, using build to turn
// each descriptor into a concrete step.Node.
func Compile(doc Document, build Builder) (*Workflow, error) {
	c := &compiler{
		actions:   doc.Actions,
		build:     build,
		seen:      map[string]step.Node{},
		compiling: map[string]bool{},
	}

	var fallback step.Node
	haveFallback := doc.FilterFallback != "" || doc.ActionFallback != ""

	var firstStep step.Node
	var dangling []func(step.Node)
	for _, label := range doc.Labels {
		if _, ok := c.seen[label]; ok {
			continue
		}
		entryPoint, newDangling, err := c.initChain(label)
		if err != nil {
			return nil, err
		}
		if firstStep == nil {
			firstStep = entryPoint
		} else if len(dangling) > 0 {
			for _, setter := range dangling {
				setter(entryPoint)
			}
		}
		dangling = newDangling
	}

	if haveFallback {
		var err error
		fallback, err = c.resolveFallback(doc)
		if err != nil {
			return nil, err
		}
	}
	for _, setter := range dangling {
		setter(fallback)
	}

	return &Workflow{Root: firstStep}, nil
}

// resolveFallback compiles (or reuses) the single fallback label:
// doc.FilterFallback, or doc.ActionFallback when FilterFallback is
// empty. Compile wires every remaining dangling setter to this one
// entry step; setters are not told apart by kind, so when both names
// are set ActionFallback is not used. Dangling setters only come from
// filters (a missing else, or the next of a chain ending in a
// filter); a chain ending in an action never reaches the fallback.
func (c *compiler) resolveFallback(doc Document) (step.Node, error) {
	label := doc.FilterFallback
	if label == "" {
		label = doc.ActionFallback
	}
	if n, ok := c.seen[label]; ok {
		return n, nil
	}
	entryPoint, _, err := c.initChain(label)
	return entryPoint, err
}

type compiler struct {
	actions   map[string][]StepDesc
	build     Builder
	seen      map[string]step.Node
	compiling map[string]bool
}

// initChain compiles one label's linear chain, following §4.9's
// dangling-setter algorithm line for line against workflow.py's
// _initChain.
func (c *compiler) initChain(label string) (step.Node, []func(step.Node), error) {
	if c.compiling[label] {
		return nil, nil, pyrerr.LoopError(label)
	}
	descs, ok := c.actions[label]
	if !ok {
		return nil, nil, pyrerr.NewConfigError("workflow", "label not found: "+label)
	}
	c.compiling[label] = true
	defer delete(c.compiling, label)

	var dangling []func(step.Node)
	var firstStep step.Node
	var previousSetNext func(step.Node)
	isPreviousDangling := false
	thenCalled := false

	for _, desc := range descs {
		if thenCalled {
			break
		}
		obj, err := c.build(desc)
		if err != nil {
			return nil, nil, err
		}
		isFilter := desc.Filter != ""

		if !isFilter && desc.Then != "" {
			newDangling, err := c.branchTo(func(n step.Node) { step.SetNext(obj, n) }, desc.Then, dangling)
			if err != nil {
				return nil, nil, err
			}
			dangling = newDangling
			thenCalled = true
		}
		if isFilter {
			if desc.Else != "" {
				newDangling, err := c.branchTo(func(n step.Node) { step.SetAlt(obj, n) }, desc.Else, dangling)
				if err != nil {
					return nil, nil, err
				}
				dangling = newDangling
			} else {
				dangling = append(dangling, func(n step.Node) { step.SetAlt(obj, n) })
			}
		}
		isPreviousDangling = isFilter && !thenCalled

		if previousSetNext != nil {
			previousSetNext(obj)
		} else {
			firstStep = obj
		}
		previousSetNext = func(n step.Node) { step.SetNext(obj, n) }
	}
	if isPreviousDangling && previousSetNext != nil {
		dangling = append(dangling, previousSetNext)
	}
	c.seen[label] = firstStep
	return firstStep, dangling, nil
}

// branchTo resolves a then/else branch to another label: if already
// compiled, links directly to its cached entry step; otherwise
// compiles it now (recursively) and merges its own dangling setters
// into the caller's list.
func (c *compiler) branchTo(setter func(step.Node), branchLabel string, dangling []func(step.Node)) ([]func(step.Node), error) {
	if n, ok := c.seen[branchLabel]; ok {
		setter(n)
		return dangling, nil
	}
	if _, ok := c.actions[branchLabel]; !ok {
		return nil, pyrerr.NewConfigError("workflow", "action chain not found: "+branchLabel)
	}
	entryPoint, newDangling, err := c.initChain(branchLabel)
	if err != nil {
		return nil, err
	}
	setter(entryPoint)
	dangling = append(dangling, newDangling...)
	return dangling, nil
}
