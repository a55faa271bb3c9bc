// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package report implements the daily report aggregator of §4.6: an
// append-only on-disk journal of report-worthy events, flushed to a
// two-alternative (AsciiDoc + HTML) mail digest on the first event
// after a local-time hour wrap.
package report

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pyruse/pyrused/internal/atomicfile"
	"github.com/pyruse/pyrused/internal/entry"
	"github.com/pyruse/pyrused/internal/logger"
	"github.com/pyruse/pyrused/internal/mailer"
)

// Level classifies a report record, matching action_dailyReport.py's
// WARN/INFO/OTHER levels.
type Level int

const (
	LevelOther Level = 0
	LevelWarn  Level = 1
	LevelInfo  Level = 2
)

// ParseLevel maps a config string to a Level, defaulting to OTHER for
// anything other than "WARN"/"INFO", matching the original's
// level = args["level"]; isOther = level == "OTHER".
func ParseLevel(s string) Level {
	switch s {
	case "WARN":
		return LevelWarn
	case "INFO":
		return LevelInfo
	default:
		return LevelOther
	}
}

// DetailMode controls how a message's timestamp occurrences render in
// the per-message time cell (§4.6, default ALL).
type DetailMode string

const (
	DetailNone      DetailMode = "NONE"
	DetailFirst     DetailMode = "FIRST"
	DetailLast      DetailMode = "LAST"
	DetailFirstLast DetailMode = "FIRSTLAST"
	DetailAll       DetailMode = "ALL"
)

// ParseDetailMode maps a config string to a DetailMode, defaulting to
// ALL for anything unrecognized or empty.
func ParseDetailMode(s string) DetailMode {
	switch DetailMode(s) {
	case DetailNone, DetailFirst, DetailLast, DetailFirstLast:
		return DetailMode(s)
	default:
		return DetailAll
	}
}

// record is one journaled event, appended to the on-disk file as a
// JSON array element (the "{L, T, M, D}" tuple of §4.6 step 4).
type record struct {
	L Level      `json:"l"`
	T time.Time  `json:"t"`
	M string     `json:"m"`
	D DetailMode `json:"d"`
}

// Metrics receives an ambient count each time the aggregator mails a
// digest out. Optional: a nil Metrics is a no-op.
type Metrics interface {
	DigestMailed()
}

// Aggregator accumulates report events into a single on-disk journal
// shared by every dailyReport action that targets the same path —
// mirroring action_dailyReport.py's class-level _messages state,
// which every Action instance writes into regardless of its own
// level/template.
type Aggregator struct {
	path    string
	mailer  *mailer.Mailer
	logf    logger.Logf
	now     func() time.Time
	metrics Metrics

	mu   sync.Mutex
	hour int
}

// New returns an Aggregator backed by the journal file at path.
func New(path string, m *mailer.Mailer, logf logger.Logf, now func() time.Time) *Aggregator {
	if logf == nil {
		logf = logger.Discard
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{path: path, mailer: m, logf: logf, now: now}
}

// WithMetrics attaches an ambient digest-mailed counter, returning the
// Aggregator itself for chaining at construction time.
func (a *Aggregator) WithMetrics(m Metrics) *Aggregator {
	a.metrics = m
	return a
}

// Record is one configured dailyReport action's template and
// classification, applied to an Entry by Act.
type Record struct {
	Level   Level
	Detail  DetailMode
	Message string
}

// Act formats Record's template against e (per §4.6 step 1), appends
// the resulting record to the journal, and flushes the digest when
// the local hour has wrapped since the previous event.
func (a *Aggregator) Act(r Record, e *entry.Entry) error {
	msg := render(r.Message, e.Get)

	ts := e.Timestamp()
	if ts.IsZero() {
		ts = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	records, err := a.load()
	if err != nil {
		a.logf("report: loading journal %s: %v", a.path, err)
		records = nil
	}
	records = append(records, record{L: r.Level, T: ts, M: msg, D: r.Detail})
	if err := a.save(records); err != nil {
		return err
	}

	thisHour := a.now().Hour()
	wrapped := thisHour < a.hour
	a.hour = thisHour
	if !wrapped {
		return nil
	}
	return a.flushLocked()
}

func (a *Aggregator) load() ([]record, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (a *Aggregator) save(records []record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(a.path, data, 0600)
}

// Flush runs the flush procedure unconditionally: used by callers
// that need to force a digest out-of-band (e.g. at shutdown).
func (a *Aggregator) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *Aggregator) flushLocked() error {
	records, err := a.load()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	warn := groupByMessage(records, LevelWarn)
	info := groupByMessage(records, LevelInfo)
	other := otherRecords(records)

	text := renderAsciiDoc(warn, info, other)
	html := renderHTML(warn, info, other)

	if a.mailer != nil {
		if err := a.mailer.Send(context.Background(), "", text, html); err != nil {
			a.logf("report: sending digest: %v", err)
		} else if a.metrics != nil {
			a.metrics.DigestMailed()
		}
	}
	return os.Remove(a.path)
}

// messageGroup is one message's accumulated detail-mode → timestamps
// mapping, as described by §4.6's flush procedure.
type messageGroup struct {
	message string
	byMode  map[DetailMode][]time.Time
}

func groupByMessage(records []record, level Level) []messageGroup {
	index := map[string]int{}
	var groups []messageGroup
	for _, r := range records {
		if r.L != level {
			continue
		}
		i, ok := index[r.M]
		if !ok {
			i = len(groups)
			index[r.M] = i
			groups = append(groups, messageGroup{message: r.M, byMode: map[DetailMode][]time.Time{}})
		}
		groups[i].byMode[r.D] = append(groups[i].byMode[r.D], r.T)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].message < groups[j].message })
	return groups
}

func otherRecords(records []record) []record {
	var out []record
	for _, r := range records {
		if r.L == LevelOther {
			out = append(out, r)
		}
	}
	return out
}

func (g messageGroup) count() int {
	n := 0
	for _, ts := range g.byMode {
		n += len(ts)
	}
	return n
}
