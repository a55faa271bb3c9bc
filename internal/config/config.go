// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads the §6 configuration document: a HuJSON
// (JSON-with-comments) file, the same comment-tolerant format
// cmd/gitops-pusher uses for its policy file, so operators can stage
// or disable actions during a maintenance window without deleting
// them.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/tailscale/hujson"

	"github.com/pyruse/pyrused/internal/pyrerr"
	"github.com/pyruse/pyrused/internal/workflow"
)

// Document is the decoded top-level configuration, matching §6's key
// list.
type Document struct {
	Storage               string              `json:"storage"`
	Email                 EmailConfig         `json:"email"`
	NftBan                NftBanConfig        `json:"nftBan"`
	IpsetBan              IpsetBanConfig      `json:"ipsetBan"`
	EightBitEncoding      string              `json:"8bit-message-encoding"`
	Debug                 bool                `json:"debug"`
	Fallback              map[string]string   `json:"fallback"`
	Actions               map[string][]Step   `json:"actions"`
	Labels                []string            `json:"-"` // populated by Load, preserving "actions" key order
}

// EmailConfig mirrors email.py's Mail._mailConf defaults.
type EmailConfig struct {
	Subject  string   `json:"subject"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Sendmail []string `json:"sendmail"`
}

// NftBanConfig holds the "nftBan" section's nft argv. It is decoded
// but not read anywhere: the nft-style ban driver always talks to
// nftables over netlink and never runs an nft command.
type NftBanConfig struct {
	Nft []string `json:"nft"`
}

// IpsetBanConfig holds the "ipsetBan" section's ipset argv. Only its
// first element, the ipset binary path, is passed to the ipset-style
// ban driver; any further elements are ignored.
type IpsetBanConfig struct {
	Ipset []string `json:"ipset"`
}

// Step is one compiled step descriptor, matching §6's JSON shape.
type Step struct {
	Filter string         `json:"filter"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
	Then   string         `json:"then"`
	Else   string         `json:"else"`
}

// Load reads, de-comments and decodes the configuration document at
// path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pyrerr.WrapConfigError("config", "reading "+path, err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, pyrerr.WrapConfigError("config", "parsing "+path, err)
	}

	var doc Document
	if err := json.Unmarshal(std, &doc); err != nil {
		return nil, pyrerr.WrapConfigError("config", "decoding "+path, err)
	}
	if doc.Storage == "" {
		doc.Storage = "/var/lib/pyruse"
	}
	if doc.EightBitEncoding == "" {
		doc.EightBitEncoding = "iso-8859-1"
	}

	labels, err := actionsKeyOrder(std)
	if err != nil {
		return nil, pyrerr.WrapConfigError("config", "reading actions key order", err)
	}
	doc.Labels = labels

	return &doc, nil
}

// actionsKeyOrder walks the standardized document's top-level JSON
// tokens to recover the "actions" object's key order, since
// encoding/json's map decoding does not preserve it and §4.9's
// fall-through algorithm is order-sensitive (config order, not
// alphabetical or hash order).
func actionsKeyOrder(std []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(std))
	if _, err := dec.Token(); err != nil { // top-level '{'
		return nil, err
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		if key == "actions" {
			return objectKeyOrder(raw)
		}
	}
	return nil, nil
}

// WorkflowDocument converts the decoded "actions"/"fallback" keys into
// a workflow.Document ready for workflow.Compile, resolving the
// "fallback" map's all_filters_failed/finalize_after_last_action
// values (each naming another top-level label, per SPEC_FULL.md's
// supplemented fallback-steps feature) to plain label strings.
func (d *Document) WorkflowDocument() workflow.Document {
	actions := make(map[string][]workflow.StepDesc, len(d.Actions))
	for label, steps := range d.Actions {
		descs := make([]workflow.StepDesc, len(steps))
		for i, s := range steps {
			descs[i] = workflow.StepDesc{
				Filter: s.Filter,
				Action: s.Action,
				Args:   s.Args,
				Then:   s.Then,
				Else:   s.Else,
			}
		}
		actions[label] = descs
	}
	return workflow.Document{
		Actions:        actions,
		Labels:         d.Labels,
		FilterFallback: d.Fallback["all_filters_failed"],
		ActionFallback: d.Fallback["finalize_after_last_action"],
	}
}

func objectKeyOrder(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil // "actions" absent or not an object
	}
	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		keys = append(keys, key)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
