// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires slog, OpenTelemetry tracing and metrics for the
// orchestration engine.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans, metrics and log records.
const (
	AttrPersonaID   = "conclave.persona.id"
	AttrPersonaName = "conclave.persona.name"

	AttrBackendID = "conclave.backend.id"

	AttrSessionID = "conclave.session.id"
	AttrTurnID    = "conclave.turn.id"

	AttrDispatchIndex   = "conclave.dispatch.index"
	AttrDispatchCount   = "conclave.dispatch.count"
	AttrDispatchFailure = "conclave.dispatch.failure"

	AttrSkillID       = "conclave.skill.id"
	AttrSkillName     = "conclave.skill.name"
	AttrSkillsAdded   = "conclave.skills.added"
	AttrSkillsSkipped = "conclave.skills.skipped"
	AttrPromptTokens  = "conclave.prompt.tokens"

	AttrSubagentName = "conclave.subagent.name"
	AttrSubagentTurn = "conclave.subagent.turn"

	AttrToolName    = "conclave.tool.name"
	AttrToolSuccess = "conclave.tool.success"

	AttrErrorCode = "error.code"

	// gen_ai semantic conventions
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMMaxTokens    = "gen_ai.request.max_tokens"
	AttrLLMTemperature  = "gen_ai.request.temperature"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
)

// DispatchAttributes returns attributes for one dispatch call span.
func DispatchAttributes(index int, personaRef, backendID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrDispatchIndex, index),
		attribute.String(AttrPersonaName, personaRef),
	}
	if backendID != "" {
		attrs = append(attrs, attribute.String(AttrBackendID, backendID))
	}
	return attrs
}

// SamplingAttributes returns the resolved sampling parameters of a call.
func SamplingAttributes(maxTokens int, temperature float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrLLMMaxTokens, maxTokens),
		attribute.Float64(AttrLLMTemperature, temperature),
	}
}

// ComposeAttributes summarizes a composition.
func ComposeAttributes(personaName string, added, skipped, usedTokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPersonaName, personaName),
		attribute.Int(AttrSkillsAdded, added),
		attribute.Int(AttrSkillsSkipped, skipped),
		attribute.Int(AttrPromptTokens, usedTokens),
	}
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(model string, inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}

// ToolCallAttributes returns attributes for a sub-agent tool call.
func ToolCallAttributes(subagent, tool string, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSubagentName, subagent),
		attribute.String(AttrToolName, tool),
		attribute.Bool(AttrToolSuccess, success),
	}
}
