// Package core holds the small contracts shared across conclave packages.
package core

import (
	"context"

	"github.com/jllopis/conclave/pkg/llm"
)

// Tool is an operation a sub-agent may call during its run. Vault search,
// calendar lookups and skill resources all arrive through this interface.
type Tool interface {
	Name() string
	// ToolDefinition is what the model sees when the tool is exposed.
	ToolDefinition() llm.Tool
	Call(ctx context.Context, input any) (any, error)
}
