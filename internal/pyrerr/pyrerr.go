// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package pyrerr distinguishes the error kinds described by the
// pipeline's error-handling design: configuration errors are fatal at
// startup, while step-runtime, persistent-I/O and subprocess errors
// are logged and swallowed by the dispatcher.
package pyrerr

import "fmt"

// ConfigError reports a problem found while compiling the workflow
// graph or parsing the configuration document: a missing required
// arg, an unknown branch label, a label loop, or malformed JSON.
// ConfigError is always fatal at startup.
type ConfigError struct {
	Where string // module or label the error was found in
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error in %s: %s: %v", e.Where, e.Msg, e.Err)
	}
	return fmt.Sprintf("config error in %s: %s", e.Where, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError without a wrapped cause.
func NewConfigError(where, msg string) *ConfigError {
	return &ConfigError{Where: where, Msg: msg}
}

// WrapConfigError wraps err as a ConfigError located at where.
func WrapConfigError(where, msg string, err error) *ConfigError {
	return &ConfigError{Where: where, Msg: msg, Err: err}
}

// LoopError is a ConfigError specific to a then/else branch landing
// back on a label that is currently being compiled.
func LoopError(label string) *ConfigError {
	return NewConfigError("workflow", fmt.Sprintf("action chain loop detected at label %q", label))
}

// MissingArgError is a ConfigError for a required args.X key absent
// from a step descriptor.
func MissingArgError(module, key string) *ConfigError {
	return NewConfigError(module, fmt.Sprintf("missing required arg %q", key))
}
