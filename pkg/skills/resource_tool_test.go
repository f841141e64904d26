// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	cerrors "github.com/jllopis/conclave/pkg/errors"
)

func resourceFixture(t *testing.T) *ResourceTool {
	t.Helper()
	root := t.TempDir()
	path := writeSkill(t, root, "pdf-processing", "---\nname: pdf-processing\ndescription: Work with PDFs.\n---\nSee references/guide.md.")
	refs := filepath.Join(filepath.Dir(path), "references")
	if err := os.MkdirAll(refs, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(refs, "guide.md"), []byte("# Guide"), 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	return NewResourceTool(NewMemoryCatalog(loaded...))
}

func TestResourceToolActivate(t *testing.T) {
	tool := resourceFixture(t)
	if tool.Name() != ResourceToolName {
		t.Fatalf("unexpected name %q", tool.Name())
	}

	result, err := tool.Call(context.Background(), `{"skill": "pdf-processing"}`)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	resp, ok := result.(*ResourceResponse)
	if !ok {
		t.Fatalf("expected *ResourceResponse, got %T", result)
	}
	if resp.Instructions != "See references/guide.md." {
		t.Errorf("unexpected instructions %q", resp.Instructions)
	}
	if len(resp.Resources) != 1 || resp.Resources[0] != "references/guide.md" {
		t.Errorf("unexpected resources %v", resp.Resources)
	}
}

func TestResourceToolLoadResource(t *testing.T) {
	tool := resourceFixture(t)
	result, err := tool.Call(context.Background(), map[string]any{
		"skill":    "pdf-processing",
		"action":   "load_resource",
		"resource": "references/guide.md",
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result.(string) != "# Guide" {
		t.Errorf("unexpected content %q", result)
	}
}

func TestResourceToolErrors(t *testing.T) {
	tool := resourceFixture(t)
	ctx := context.Background()

	_, err := tool.Call(ctx, ResourceRequest{Skill: "pdf-processing", Action: "load_resource", Resource: "references/gone.md"})
	if !cerrors.IsCode(err, cerrors.CodeNotFound) {
		t.Errorf("stale resource should be NOT_FOUND, got %v", err)
	}
	_, err = tool.Call(ctx, ResourceRequest{Skill: "pdf-processing", Action: "load_resource", Resource: "../../etc/passwd"})
	if !cerrors.IsCode(err, cerrors.CodeInvalidInput) {
		t.Errorf("traversal should be rejected, got %v", err)
	}
	_, err = tool.Call(ctx, ResourceRequest{Skill: "nope"})
	if !cerrors.IsCode(err, cerrors.CodeNotFound) {
		t.Errorf("unknown skill should be NOT_FOUND, got %v", err)
	}
	_, err = tool.Call(ctx, ResourceRequest{Skill: "pdf-processing", Action: "explode"})
	if !cerrors.IsCode(err, cerrors.CodeInvalidInput) {
		t.Errorf("unknown action should be INVALID_INPUT, got %v", err)
	}
	_, err = tool.Call(ctx, 42)
	if err == nil {
		t.Error("expected error for unsupported input")
	}
}

func TestResourceToolDefinition(t *testing.T) {
	def := NewResourceTool(NewMemoryCatalog()).ToolDefinition()
	if def.Function.Name != ResourceToolName {
		t.Errorf("unexpected definition name %q", def.Function.Name)
	}
}
