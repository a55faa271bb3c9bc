// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

const testDoc = `{
  // comments are fine, this is HuJSON
  "storage": "/var/lib/pyruse",
  "email": {"subject": "alerts", "to": ["root"]},
  "fallback": {
    "all_filters_failed": "catchAll",
    "finalize_after_last_action": "catchAll"
  },
  "actions": {
    "sshd": [
      {"filter": "equals", "args": {"field": "_COMM", "value": "sshd"}, "else": "catchAll"},
      {"action": "counterRaise", "args": {"counter": "sshfail", "for": "ip"}}
    ],
    "catchAll": [
      {"action": "log", "args": {"message": "unhandled: {_COMM}"}}
    ],
  },
}`

func writeTestDoc(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pyruse.json")
	if err := os.WriteFile(path, []byte(testDoc), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPreservesActionsKeyOrder(t *testing.T) {
	c := qt.New(t)
	doc, err := Load(writeTestDoc(t))
	c.Assert(err, qt.IsNil)
	c.Assert(doc.Labels, qt.DeepEquals, []string{"sshd", "catchAll"})
}

func TestLoadDecodesStepDescriptors(t *testing.T) {
	c := qt.New(t)
	doc, err := Load(writeTestDoc(t))
	c.Assert(err, qt.IsNil)
	steps := doc.Actions["sshd"]
	c.Assert(steps, qt.HasLen, 2)
	c.Assert(steps[0].Filter, qt.Equals, "equals")
	c.Assert(steps[0].Else, qt.Equals, "catchAll")
	c.Assert(steps[0].Args["field"], qt.Equals, "_COMM")
	c.Assert(steps[1].Action, qt.Equals, "counterRaise")
}

func TestLoadAppliesDefaults(t *testing.T) {
	c := qt.New(t)
	doc, err := Load(writeTestDoc(t))
	c.Assert(err, qt.IsNil)
	c.Assert(doc.EightBitEncoding, qt.Equals, "iso-8859-1")
}

func TestWorkflowDocumentResolvesFallback(t *testing.T) {
	c := qt.New(t)
	doc, err := Load(writeTestDoc(t))
	c.Assert(err, qt.IsNil)
	wfDoc := doc.WorkflowDocument()
	c.Assert(wfDoc.FilterFallback, qt.Equals, "catchAll")
	c.Assert(wfDoc.ActionFallback, qt.Equals, "catchAll")
	c.Assert(wfDoc.Labels, qt.DeepEquals, []string{"sshd", "catchAll"})
}

func TestLoadRejectsMissingFile(t *testing.T) {
	c := qt.New(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	c.Assert(err, qt.IsNotNil)
}
