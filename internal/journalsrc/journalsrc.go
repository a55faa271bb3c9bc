// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package journalsrc wraps github.com/coreos/go-systemd/v22/sdjournal
// as the external journal reader of §4.10: seek to tail, then block
// waiting for APPEND events, decoding each entry's message payload to
// text with a configurable 8-bit fallback encoding.
package journalsrc

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/coreos/go-systemd/v22/sdjournal"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/pyruse/pyrused/internal/entry"
)

// Reader tails the local systemd journal from its current tail,
// decoding each entry into an *entry.Entry.
type Reader struct {
	j        *sdjournal.Journal
	fallback encoding.Encoding
}

// Open seeks to the journal tail. fallbackEncoding names the §6
// "8bit-message-encoding" config key (default "iso-8859-1"), used to
// decode a MESSAGE field whose bytes aren't valid UTF-8.
func Open(fallbackEncoding string) (*Reader, error) {
	j, err := sdjournal.NewJournal()
	if err != nil {
		return nil, err
	}
	if err := j.SeekTail(); err != nil {
		j.Close()
		return nil, err
	}
	// Undo the single implicit forward step SeekTail leaves the
	// cursor at, so the first Wait/Next actually returns the next
	// truly new entry rather than re-replaying the last one seen
	// before this process started — matching
	// journal.Reader.get_previous() in _doForEachJournalEntry.
	if _, err := j.Previous(); err != nil {
		j.Close()
		return nil, err
	}
	return &Reader{j: j, fallback: charmapFor(fallbackEncoding)}, nil
}

func charmapFor(name string) encoding.Encoding {
	switch name {
	case "iso-8859-1", "":
		return charmap.ISO8859_1
	case "iso-8859-15":
		return charmap.ISO8859_15
	case "windows-1252":
		return charmap.Windows1252
	default:
		return charmap.ISO8859_1
	}
}

// Close releases the underlying journal handle.
func (r *Reader) Close() error { return r.j.Close() }

// Next blocks until an entry is appended to the journal, then returns
// it decoded into an *entry.Entry. ctx is checked each time a journal
// wait returns; without a deadline on ctx the wait is unbounded, so a
// cancellation takes effect at the next journal event. It is intended
// to be called in a loop by the dispatcher.
func (r *Reader) Next(ctx context.Context) (*entry.Entry, error) {
	for {
		status := r.j.Wait(waitTimeout(ctx))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if status != sdjournal.SD_JOURNAL_APPEND {
			continue
		}
		n, err := r.j.Next()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		return r.decode()
	}
}

func waitTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return sdjournal.IndefiniteWait
}

func (r *Reader) decode() (*entry.Entry, error) {
	jentry, err := r.j.GetEntry()
	if err != nil {
		return nil, err
	}
	e := entry.New()
	for field, value := range jentry.Fields {
		e.Set(field, decodeField(value, r.fallback))
	}
	e.SetTimestamp(time.UnixMicro(int64(jentry.RealtimeTimestamp)))
	return e, nil
}

// decodeField returns v unchanged when it is already valid UTF-8 (the
// overwhelmingly common case), and otherwise reinterprets its bytes
// through fallback, matching systemd's own documented behavior for a
// MESSAGE field containing arbitrary binary data.
func decodeField(v string, fallback encoding.Encoding) string {
	if utf8.ValidString(v) {
		return v
	}
	out, err := fallback.NewDecoder().String(v)
	if err != nil {
		return v
	}
	return out
}
