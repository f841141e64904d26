// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestDispatchAttributes(t *testing.T) {
	assertAttributes(t, DispatchAttributes(2, "Socratic", "openai"), map[string]any{
		AttrDispatchIndex: 2,
		AttrPersonaName:   "Socratic",
		AttrBackendID:     "openai",
	})
	if got := DispatchAttributes(0, "Stoic", ""); len(got) != 2 {
		t.Fatalf("backend attribute should be omitted when empty, got %v", got)
	}
}

func TestComposeAttributes(t *testing.T) {
	assertAttributes(t, ComposeAttributes("Socratic", 2, 1, 120), map[string]any{
		AttrPersonaName:   "Socratic",
		AttrSkillsAdded:   2,
		AttrSkillsSkipped: 1,
		AttrPromptTokens:  120,
	})
}

func TestLLMUsageAttributes(t *testing.T) {
	assertAttributes(t, LLMUsageAttributes("gpt-4o", 10, 0), map[string]any{
		AttrLLMModel:       "gpt-4o",
		AttrLLMTokensInput: 10,
	})
	if got := LLMUsageAttributes("", 0, 0); len(got) != 0 {
		t.Fatalf("expected no attributes, got %v", got)
	}
}

func TestSamplingAndToolAttributes(t *testing.T) {
	assertAttributes(t, SamplingAttributes(300, 0.7), map[string]any{
		AttrLLMMaxTokens:   300,
		AttrLLMTemperature: 0.7,
	})
	assertAttributes(t, ToolCallAttributes("socratic", "vault_search", true), map[string]any{
		AttrSubagentName: "socratic",
		AttrToolName:     "vault_search",
		AttrToolSuccess:  true,
	})
}

func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()
	if len(attrs) != len(expected) {
		t.Fatalf("expected %d attributes, got %d: %v", len(expected), len(attrs), attrs)
	}
	for _, kv := range attrs {
		want, ok := expected[string(kv.Key)]
		if !ok {
			t.Errorf("unexpected attribute %s", kv.Key)
			continue
		}
		switch w := want.(type) {
		case string:
			if kv.Value.AsString() != w {
				t.Errorf("%s: expected %q, got %q", kv.Key, w, kv.Value.AsString())
			}
		case int:
			if kv.Value.AsInt64() != int64(w) {
				t.Errorf("%s: expected %d, got %d", kv.Key, w, kv.Value.AsInt64())
			}
		case float64:
			if kv.Value.AsFloat64() != w {
				t.Errorf("%s: expected %v, got %v", kv.Key, w, kv.Value.AsFloat64())
			}
		case bool:
			if kv.Value.AsBool() != w {
				t.Errorf("%s: expected %v, got %v", kv.Key, w, kv.Value.AsBool())
			}
		}
	}
}
