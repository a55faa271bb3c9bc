// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package dispatch implements the dispatcher loop of §4.10 and §5: for
// each entry read from the journal source, traverse the compiled step
// graph from its root until traversal returns nil, single-threaded and
// strictly sequential.
package dispatch

import (
	"context"

	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/logger"
	"github.com/pyruse/pyrused/internal/step"
)

// Source is the blocking entry producer the dispatcher pulls from;
// satisfied by *journalsrc.Reader.
type Source interface {
	Next(ctx context.Context) (*entry.Entry, error)
}

// Metrics receives ambient counts as entries are dispatched. All
// methods are optional: Dispatcher tolerates a nil Metrics.
type Metrics interface {
	EntryDispatched()
	EntryFailed()
}

// Dispatcher pulls entries from a Source and drives them through a
// compiled step graph's root, one entry fully to completion before the
// next is read — the core's only suspension point is Source.Next's
// blocking wait.
type Dispatcher struct {
	Source  Source
	Root    step.Node
	Logf    logger.Logf
	Metrics Metrics
}

// Run blocks, dispatching entries until ctx is canceled or Source
// returns a non-context error.
func (d *Dispatcher) Run(ctx context.Context) error {
	logf := d.Logf
	if logf == nil {
		logf = logger.Discard
	}
	for {
		e, err := d.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		d.dispatchOne(e, logf)
	}
}

func (d *Dispatcher) dispatchOne(e *entry.Entry, logf logger.Logf) {
	defer func() {
		if r := recover(); r != nil {
			logf("dispatch: recovered from panic traversing entry: %v", r)
			if d.Metrics != nil {
				d.Metrics.EntryFailed()
			}
		}
	}()
	n := d.Root
	for n != nil {
		n = n.Run(e)
	}
	if d.Metrics != nil {
		d.Metrics.EntryDispatched()
	}
}
