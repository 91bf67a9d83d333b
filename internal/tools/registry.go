// Package tools implements the fixed toolbox available to the model: file
// read/write/edit, glob, grep, directory listing, and shell execution.
//
// Dispatch locates a tool by exact name, validates the JSON arguments
// against the tool's parameter schema, and runs it. Every tool returns a
// string result suitable for feeding back to the model; failures are typed
// so the executor can render them as model-visible error text.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/quillengine/quill/pkg/models"
)

// ToolError represents a failure during tool execution. It is rendered to
// the model as "ERROR EXECUTING TOOL: ..." and never aborts the agent loop.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

// NewToolError creates a ToolError with a formatted message.
func NewToolError(format string, args ...any) *ToolError {
	return &ToolError{Message: fmt.Sprintf(format, args...)}
}

// ParseError represents a failure to coerce tool-call arguments into the
// tool's input shape. It is rendered to the model as
// "ERROR PARSING TOOL CALL: ..." and never aborts the agent loop.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

// handler executes one tool given validated, decoded arguments.
type handler func(ctx context.Context, args json.RawMessage) (string, error)

type registeredTool struct {
	def     models.ToolDefinition
	schema  *jsonschema.Schema
	handler handler
}

// Registry holds the fixed tool set. It is immutable after construction and
// safe for concurrent use.
type Registry struct {
	order []string
	tools map[string]*registeredTool
}

// NewRegistry builds the registry with the complete toolbox rooted at the
// process working directory.
func NewRegistry() (*Registry, error) {
	r := &Registry{tools: make(map[string]*registeredTool)}

	for _, entry := range []struct {
		def     models.ToolDefinition
		handler handler
	}{
		{readDefinition, runRead},
		{globDefinition, runGlob},
		{grepDefinition, runGrep},
		{lsDefinition, runLS},
		{editDefinition, runEdit},
		{replaceDefinition, runReplace},
		{bashDefinition, runBash},
	} {
		if err := r.register(entry.def, entry.handler); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) register(def models.ToolDefinition, h handler) error {
	schema, err := jsonschema.CompileString(def.Name+".json", string(def.Parameters))
	if err != nil {
		return fmt.Errorf("tools: compile schema for %s: %w", def.Name, err)
	}
	r.order = append(r.order, def.Name)
	r.tools[def.Name] = &registeredTool{def: def, schema: schema, handler: h}
	return nil
}

// Definitions returns the tool definitions in registration order, for
// attachment to provider requests.
func (r *Registry) Definitions() []models.ToolDefinition {
	defs := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Lookup returns a tool definition by exact name.
func (r *Registry) Lookup(name string) (models.ToolDefinition, bool) {
	tool, ok := r.tools[name]
	if !ok {
		return models.ToolDefinition{}, false
	}
	return tool.def, true
}

// Execute validates the call's arguments against the tool's schema and runs
// the tool. Unknown tools and schema violations return a *ParseError;
// execution failures return a *ToolError.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall) (string, error) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return "", &ParseError{Message: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return "", &ParseError{Message: fmt.Sprintf("arguments for %s are not valid JSON: %v", call.Name, err)}
	}
	if err := tool.schema.Validate(decoded); err != nil {
		return "", &ParseError{Message: fmt.Sprintf("arguments for %s do not match the tool schema: %v", call.Name, err)}
	}

	return tool.handler(ctx, args)
}
