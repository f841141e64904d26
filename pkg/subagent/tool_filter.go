// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"path"
	"strings"
)

// Decision is the outcome of a tool filter check.
type Decision struct {
	Allowed bool
	Reason  string
}

// ToolFilter decides which tools a sub-agent may see. Entries may be exact
// names or glob patterns (e.g. "vault_*").
type ToolFilter struct {
	allowlist map[string]bool
	denylist  map[string]bool
	// openByDefault admits every tool when the allowlist is empty.
	openByDefault bool
}

// ToolFilterOption configures a ToolFilter.
type ToolFilterOption func(*ToolFilter)

// NewToolFilter creates a ToolFilter. With no allowlist entries it admits
// nothing unless WithOpenDefault is given.
func NewToolFilter(opts ...ToolFilterOption) *ToolFilter {
	tf := &ToolFilter{
		allowlist: make(map[string]bool),
		denylist:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(tf)
	}
	return tf
}

// WithAllowlist sets the permitted tool names/patterns.
func WithAllowlist(tools []string) ToolFilterOption {
	return func(tf *ToolFilter) { tf.AddToAllowlist(tools...) }
}

// WithDenylist sets the forbidden tool names/patterns.
func WithDenylist(tools []string) ToolFilterOption {
	return func(tf *ToolFilter) { tf.AddToDenylist(tools...) }
}

// WithOpenDefault admits every tool while the allowlist is empty.
func WithOpenDefault() ToolFilterOption {
	return func(tf *ToolFilter) { tf.openByDefault = true }
}

// Check evaluates a tool name. Denylist entries win over the allowlist.
func (tf *ToolFilter) Check(toolName string) Decision {
	if matches(toolName, tf.denylist) {
		return Decision{Reason: "tool is in denylist"}
	}
	if len(tf.allowlist) == 0 {
		if tf.openByDefault {
			return Decision{Allowed: true}
		}
		return Decision{Reason: "no tools are allowed"}
	}
	if !matches(toolName, tf.allowlist) {
		return Decision{Reason: "tool is not in allowlist"}
	}
	return Decision{Allowed: true}
}

// IsAllowed reports whether toolName passes the filter.
func (tf *ToolFilter) IsAllowed(toolName string) bool {
	return tf.Check(toolName).Allowed
}

// Filter returns the names that pass, preserving order.
func (tf *ToolFilter) Filter(toolNames []string) []string {
	out := make([]string, 0, len(toolNames))
	for _, name := range toolNames {
		if tf.IsAllowed(name) {
			out = append(out, name)
		}
	}
	return out
}

// AddToAllowlist adds names/patterns to the allowlist.
func (tf *ToolFilter) AddToAllowlist(tools ...string) {
	for _, tool := range tools {
		if tool = strings.TrimSpace(tool); tool != "" {
			tf.allowlist[tool] = true
		}
	}
}

// AddToDenylist adds names/patterns to the denylist.
func (tf *ToolFilter) AddToDenylist(tools ...string) {
	for _, tool := range tools {
		if tool = strings.TrimSpace(tool); tool != "" {
			tf.denylist[tool] = true
		}
	}
}

func matches(toolName string, list map[string]bool) bool {
	if list[toolName] {
		return true
	}
	for pattern := range list {
		if ok, err := path.Match(pattern, toolName); err == nil && ok {
			return true
		}
	}
	return false
}
