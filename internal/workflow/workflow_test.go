// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package workflow

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/step"
)

// trueFilter/falseFilter/action build named, traceable steps so tests can
// assert on the traversal path taken through a compiled graph.
func trueFilter(name string) StepDesc  { return StepDesc{Filter: name} }
func falseFilter(name string) StepDesc { return StepDesc{Filter: "false:" + name} }
func action(name string) StepDesc      { return StepDesc{Action: name} }

func testBuilder(trace *[]string) Builder {
	return func(desc StepDesc) (step.Node, error) {
		if desc.Filter != "" {
			name := desc.Filter
			result := true
			if len(name) > 6 && name[:6] == "false:" {
				name = name[6:]
				result = false
			}
			return &step.Filter{
				Name: name,
				Predicate: func(e *entry.Entry) (bool, error) {
					*trace = append(*trace, "filter:"+name)
					return result, nil
				},
			}, nil
		}
		name := desc.Action
		return &step.Action{
			Name: name,
			Effect: func(e *entry.Entry) error {
				*trace = append(*trace, "action:"+name)
				return nil
			},
		}, nil
	}
}

func TestLinearChainWithinLabel(t *testing.T) {
	c := qt.New(t)
	var trace []string
	doc := Document{
		Actions: map[string][]StepDesc{
			"main": {trueFilter("f1"), action("a1")},
		},
		Labels: []string{"main"},
	}
	wf, err := Compile(doc, testBuilder(&trace))
	c.Assert(err, qt.IsNil)
	e := entry.New()
	n := wf.Root
	for n != nil {
		n = n.Run(e)
	}
	c.Assert(trace, qt.DeepEquals, []string{"filter:f1", "action:a1"})
}

func TestDanglingFilterFallsThroughToNextLabel(t *testing.T) {
	c := qt.New(t)
	var trace []string
	doc := Document{
		Actions: map[string][]StepDesc{
			"first":  {falseFilter("f1")},
			"second": {action("a2")},
		},
		Labels: []string{"first", "second"},
	}
	wf, err := Compile(doc, testBuilder(&trace))
	c.Assert(err, qt.IsNil)
	e := entry.New()
	n := wf.Root
	for n != nil {
		n = n.Run(e)
	}
	c.Assert(trace, qt.DeepEquals, []string{"filter:f1", "action:a2"})
}

func TestThenBranchesAcrossLabels(t *testing.T) {
	c := qt.New(t)
	var trace []string
	doc := Document{
		Actions: map[string][]StepDesc{
			"main":  {{Action: "a1", Then: "other"}},
			"other": {action("a2")},
		},
		Labels: []string{"main", "other"},
	}
	wf, err := Compile(doc, testBuilder(&trace))
	c.Assert(err, qt.IsNil)
	e := entry.New()
	n := wf.Root
	for n != nil {
		n = n.Run(e)
	}
	c.Assert(trace, qt.DeepEquals, []string{"action:a1", "action:a2"})
}

func TestElseBranchesAcrossLabels(t *testing.T) {
	c := qt.New(t)
	var trace []string
	doc := Document{
		Actions: map[string][]StepDesc{
			"main":  {{Filter: "false:f1", Else: "other"}},
			"other": {action("a2")},
		},
		Labels: []string{"main", "other"},
	}
	wf, err := Compile(doc, testBuilder(&trace))
	c.Assert(err, qt.IsNil)
	e := entry.New()
	n := wf.Root
	for n != nil {
		n = n.Run(e)
	}
	c.Assert(trace, qt.DeepEquals, []string{"filter:f1", "action:a2"})
}

func TestSharedSubchainStableIdentity(t *testing.T) {
	c := qt.New(t)
	var trace []string
	doc := Document{
		Actions: map[string][]StepDesc{
			"main":   {{Filter: "f1", Else: "shared"}, {Action: "a1", Then: "shared"}},
			"shared": {action("ashared")},
		},
		Labels: []string{"main"},
	}
	sharedBuilds := 0
	base := testBuilder(&trace)
	build := func(desc StepDesc) (step.Node, error) {
		if desc.Action == "ashared" {
			sharedBuilds++
		}
		return base(desc)
	}
	wf, err := Compile(doc, build)
	c.Assert(err, qt.IsNil)
	c.Assert(wf.Root, qt.Not(qt.IsNil))
	c.Assert(sharedBuilds, qt.Equals, 1)
}

func TestUnknownBranchLabelIsConfigError(t *testing.T) {
	c := qt.New(t)
	var trace []string
	doc := Document{
		Actions: map[string][]StepDesc{
			"main": {{Filter: "f1", Else: "nosuchlabel"}},
		},
		Labels: []string{"main"},
	}
	_, err := Compile(doc, testBuilder(&trace))
	c.Assert(err, qt.IsNotNil)
}

func TestLoopIsRejected(t *testing.T) {
	c := qt.New(t)
	var trace []string
	doc := Document{
		Actions: map[string][]StepDesc{
			"a": {{Filter: "f1", Else: "b"}},
			"b": {{Filter: "f2", Else: "a"}},
		},
		Labels: []string{"a"},
	}
	_, err := Compile(doc, testBuilder(&trace))
	c.Assert(err, qt.IsNotNil)
}

func TestFallbackResolvesDanglingEnd(t *testing.T) {
	c := qt.New(t)
	var trace []string
	doc := Document{
		Actions: map[string][]StepDesc{
			"main":     {falseFilter("f1")},
			"fallback": {action("caught")},
		},
		Labels:         []string{"main"},
		FilterFallback: "fallback",
	}
	wf, err := Compile(doc, testBuilder(&trace))
	c.Assert(err, qt.IsNil)
	e := entry.New()
	n := wf.Root
	for n != nil {
		n = n.Run(e)
	}
	c.Assert(trace, qt.DeepEquals, []string{"filter:f1", "action:caught"})
}
