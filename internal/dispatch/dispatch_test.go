// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"context"
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/step"
)

type fakeSource struct {
	entries []*entry.Entry
	i       int
}

func (s *fakeSource) Next(ctx context.Context) (*entry.Entry, error) {
	if s.i >= len(s.entries) {
		return nil, errors.New("exhausted")
	}
	e := s.entries[s.i]
	s.i++
	return e, nil
}

type fakeMetrics struct {
	dispatched int
	failed     int
}

func (m *fakeMetrics) EntryDispatched() { m.dispatched++ }
func (m *fakeMetrics) EntryFailed()     { m.failed++ }

func TestRunDispatchesEveryEntryThenStops(t *testing.T) {
	c := qt.New(t)
	var seen []string
	root := &step.Action{
		Name: "record",
		Effect: func(e *entry.Entry) error {
			seen = append(seen, e.GetString("m"))
			return nil
		},
	}
	e1, e2 := entry.New(), entry.New()
	e1.Set("m", "one")
	e2.Set("m", "two")
	src := &fakeSource{entries: []*entry.Entry{e1, e2}}
	metrics := &fakeMetrics{}

	d := &Dispatcher{Source: src, Root: root, Metrics: metrics}
	err := d.Run(context.Background())
	c.Assert(err, qt.IsNotNil)
	c.Assert(seen, qt.DeepEquals, []string{"one", "two"})
	c.Assert(metrics.dispatched, qt.Equals, 2)
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	c := qt.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &canceledSource{}
	d := &Dispatcher{Source: src, Root: nil}
	c.Assert(d.Run(ctx), qt.IsNil)
}

type canceledSource struct{}

func (canceledSource) Next(ctx context.Context) (*entry.Entry, error) {
	return nil, ctx.Err()
}
