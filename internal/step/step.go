// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package step defines the uniform node type the pipeline graph is
// built from. Rather than modeling Filter and Action as a class
// hierarchy, each is a small struct composing the common traversal
// algorithm with a capability closure (Predicate or Effect) supplied
// by the filter/action library, per the composition-over-inheritance
// design note.
package step

import "github.com/pyruse/pyrused/internal/entry"

// Node is one vertex in the compiled pipeline graph. Run evaluates
// the node against e and returns the successor to continue to, or nil
// to end traversal for this Entry.
type Node interface {
	Run(e *entry.Entry) Node

	// setNext and setAlt are used by the workflow builder while
	// compiling the graph; they are unexported, so other packages
	// reach them only through SetNext and SetAlt.
	setNext(Node)
}

// altSetter is implemented by Filter nodes, whose false branch can be
// rewired independently of next.
type altSetter interface {
	setAlt(Node)
}

// SetNext wires n's next-step edge. Exported for the workflow builder
// package, which lives outside this package's trust boundary but must
// still rewire edges during compilation.
func SetNext(n Node, next Node) { n.setNext(next) }

// SetAlt wires n's alt-step edge. It is a no-op if n is not a Filter.
func SetAlt(n Node, alt Node) {
	if a, ok := n.(altSetter); ok {
		a.setAlt(alt)
	}
}

// IsFilter reports whether n is a Filter node.
func IsFilter(n Node) bool {
	_, ok := n.(altSetter)
	return ok
}

// Filter is a predicate node: Predicate decides whether traversal
// continues to Next (true) or Alt (false or error).
type Filter struct {
	Name      string
	Predicate func(*entry.Entry) (bool, error)
	Logf      func(format string, args ...any)

	next Node
	alt  Node
}

func (f *Filter) setNext(n Node) { f.next = n }
func (f *Filter) setAlt(n Node)  { f.alt = n }

// Run implements Node. A predicate error is logged and treated the
// same as a false result: traversal continues down Alt.
func (f *Filter) Run(e *entry.Entry) Node {
	ok, err := f.Predicate(e)
	if err != nil {
		if f.Logf != nil {
			f.Logf("error while executing filter %s: %v", f.Name, err)
		}
		return f.alt
	}
	if ok {
		return f.next
	}
	return f.alt
}

// Action is a side-effecting node: Effect runs for its effect on e and
// on external state; a returned error ends traversal for this Entry.
type Action struct {
	Name   string
	Effect func(*entry.Entry) error
	Logf   func(format string, args ...any)

	next Node
}

func (a *Action) setNext(n Node) { a.next = n }

// Run implements Node.
func (a *Action) Run(e *entry.Entry) Node {
	if err := a.Effect(e); err != nil {
		if a.Logf != nil {
			a.Logf("error while executing action %s: %v", a.Name, err)
		}
		return nil
	}
	return a.next
}
