// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/llm"
)

// ResourceToolName is the tool name the Tier-3 tool is exposed under.
const ResourceToolName = "skill_resource"

// Tier-3 resources live in these subdirectories of a skill directory.
var resourceDirs = []string{"scripts", "references", "assets"}

// ResourceTool gives a model on-demand access to a skill's body and the
// auxiliary files next to it. Nothing here is loaded into a prompt; a stale
// reference surfaces only as a failed call.
type ResourceTool struct {
	catalog Catalog
}

// NewResourceTool creates a ResourceTool over the catalog.
func NewResourceTool(c Catalog) *ResourceTool {
	return &ResourceTool{catalog: c}
}

// ResourceRequest is the tool input.
type ResourceRequest struct {
	Skill    string `json:"skill"`
	Action   string `json:"action,omitempty"`   // activate, list_resources, load_resource
	Resource string `json:"resource,omitempty"` // path relative to the skill directory
}

// ResourceResponse is returned by the activate and list_resources actions.
type ResourceResponse struct {
	Name         string   `json:"name"`
	Instructions string   `json:"instructions,omitempty"`
	Resources    []string `json:"resources,omitempty"`
}

// Name implements core.Tool.
func (t *ResourceTool) Name() string { return ResourceToolName }

// Call implements core.Tool. Input may be a JSON string, a map or a
// ResourceRequest.
func (t *ResourceTool) Call(ctx context.Context, input any) (any, error) {
	req, err := parseResourceRequest(input)
	if err != nil {
		return nil, err
	}
	if req.Skill == "" {
		return nil, cerrors.InvalidInput("skill is required")
	}
	skill, err := t.catalog.Get(ctx, req.Skill)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case "", "activate":
		return &ResourceResponse{
			Name:         skill.Name,
			Instructions: skill.Body,
			Resources:    listResources(skill.Dir),
		}, nil
	case "list_resources":
		return &ResourceResponse{Name: skill.Name, Resources: listResources(skill.Dir)}, nil
	case "load_resource":
		return loadResource(skill, req.Resource)
	default:
		return nil, cerrors.InvalidInput(fmt.Sprintf("unknown action %q", req.Action))
	}
}

func parseResourceRequest(input any) (ResourceRequest, error) {
	var req ResourceRequest
	switch v := input.(type) {
	case nil:
	case ResourceRequest:
		req = v
	case *ResourceRequest:
		if v != nil {
			req = *v
		}
	case string:
		if err := json.Unmarshal([]byte(v), &req); err != nil {
			// A bare string names the skill to activate.
			req = ResourceRequest{Skill: strings.TrimSpace(v)}
		}
	case map[string]any:
		req.Skill, _ = v["skill"].(string)
		req.Action, _ = v["action"].(string)
		req.Resource, _ = v["resource"].(string)
	default:
		return req, cerrors.InvalidInput(fmt.Sprintf("unsupported input type %T", input))
	}
	return req, nil
}

func loadResource(skill Skill, resourcePath string) (string, error) {
	if resourcePath == "" {
		return "", cerrors.InvalidInput("resource path is required")
	}
	if skill.Dir == "" {
		return "", cerrors.NotFound("resource", resourcePath).
			WithContext("skill", skill.Name)
	}

	cleanPath := filepath.Clean(resourcePath)
	if strings.HasPrefix(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		return "", cerrors.InvalidInput(fmt.Sprintf("invalid resource path: %s", resourcePath))
	}
	absDir, err := filepath.Abs(skill.Dir)
	if err != nil {
		return "", fmt.Errorf("resolve skill dir: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(skill.Dir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("resolve resource: %w", err)
	}
	if !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return "", cerrors.InvalidInput("resource path outside skill directory")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", cerrors.NotFound("resource", resourcePath).WithContext("skill", skill.Name)
		}
		return "", fmt.Errorf("failed to load resource %s: %w", resourcePath, err)
	}
	return string(data), nil
}

func listResources(dir string) []string {
	if dir == "" {
		return nil
	}
	var resources []string
	for _, subdir := range resourceDirs {
		entries, err := os.ReadDir(filepath.Join(dir, subdir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				resources = append(resources, filepath.ToSlash(filepath.Join(subdir, entry.Name())))
			}
		}
	}
	return resources
}

// ToolDefinition returns the function schema shown to the model.
func (t *ResourceTool) ToolDefinition() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        ResourceToolName,
			Description: "Fetch a skill's full instructions or one of its auxiliary files (scripts, references, assets).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"skill": map[string]any{
						"type":        "string",
						"description": "Skill name or id",
					},
					"action": map[string]any{
						"type":        "string",
						"enum":        []string{"activate", "list_resources", "load_resource"},
						"description": "'activate' returns the instructions, 'list_resources' lists files, 'load_resource' reads one file",
						"default":     "activate",
					},
					"resource": map[string]any{
						"type":        "string",
						"description": "Path relative to the skill directory (for load_resource)",
					},
				},
				"required": []string{"skill"},
			},
		},
	}
}
