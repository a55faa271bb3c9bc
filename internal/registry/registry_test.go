// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package registry

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/pyruse/pyrused/internal/counter"
	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/step"
	"github.com/pyruse/pyrused/internal/workflow"
)

func TestBuildDispatchesKnownFilter(t *testing.T) {
	c := qt.New(t)
	r := &Registry{}
	n, err := r.Build(workflow.StepDesc{Filter: "equals", Args: map[string]any{"field": "a", "value": "b"}})
	c.Assert(err, qt.IsNil)
	c.Assert(step.IsFilter(n), qt.IsTrue)
}

func TestBuildDispatchesKnownAction(t *testing.T) {
	c := qt.New(t)
	r := &Registry{Counters: counter.NewRegistry(nil)}
	n, err := r.Build(workflow.StepDesc{Action: "counterRaise", Args: map[string]any{"counter": "c", "for": "ip"}})
	c.Assert(err, qt.IsNil)
	c.Assert(step.IsFilter(n), qt.IsFalse)

	e := entry.New()
	e.Set("ip", "1.2.3.4")
	c.Assert(n.Run(e), qt.IsNil)
}

func TestBuildRejectsUnknownFilter(t *testing.T) {
	c := qt.New(t)
	r := &Registry{}
	_, err := r.Build(workflow.StepDesc{Filter: "bogus"})
	c.Assert(err, qt.IsNotNil)
}

func TestBuildRejectsUnknownAction(t *testing.T) {
	c := qt.New(t)
	r := &Registry{}
	_, err := r.Build(workflow.StepDesc{Action: "bogus"})
	c.Assert(err, qt.IsNotNil)
}
