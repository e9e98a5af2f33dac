// Package tools manages the registry of capabilities the model can invoke
// and dispatches tool calls to their handlers. Tool schemas are validated
// at registration time; unknown names are rejected deterministically.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/songmeo/ButlerDuck/pkg/butler/llm"
)

// ErrUnknownTool is returned by Execute when the model requests a tool name
// that was never registered.
var ErrUnknownTool = errors.New("unknown tool")

// toolNamePattern is the name pattern required by the OpenAI API.
var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// DefaultToolTimeout is the maximum time a single tool execution can take.
const DefaultToolTimeout = 30 * time.Second

// Handler is the signature for tool execution handlers. It receives parsed
// arguments and returns the result text shown to the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// registeredTool bundles a tool definition with its handler.
type registeredTool struct {
	definition llm.ToolDefinition
	handler    Handler
}

// Registry maps tool names to validated handlers.
type Registry struct {
	tools   map[string]*registeredTool
	timeout time.Duration
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*registeredTool),
		timeout: DefaultToolTimeout,
		logger:  logger.With("component", "tools"),
	}
}

// Register adds a tool after validating its declaration: the name must match
// the API pattern, the parameter schema must be a JSON object, and the
// handler must be non-nil. Duplicate names are rejected.
func (r *Registry) Register(def llm.ToolDefinition, handler Handler) error {
	name := def.Function.Name
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("tools: invalid tool name %q", name)
	}
	if handler == nil {
		return fmt.Errorf("tools: nil handler for %q", name)
	}
	if err := validateSchema(def.Function.Parameters); err != nil {
		return fmt.Errorf("tools: invalid schema for %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tools: %q already registered", name)
	}
	r.tools[name] = &registeredTool{definition: def, handler: handler}

	r.logger.Debug("tool registered", "name", name)
	return nil
}

// Definitions returns all registered tool declarations for the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.definition)
	}
	return defs
}

// Has checks if a tool is registered by name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute dispatches one tool call. An unregistered name returns
// ErrUnknownTool; every other failure (bad arguments, handler error) is
// reported in the result content so the model can explain it to the user.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	name := call.Function.Name

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("unknown tool called", "name", name)
		return "", fmt.Errorf("tools: %w: %q", ErrUnknownTool, name)
	}

	args, err := parseArgs(call.Function.Arguments)
	if err != nil {
		r.logger.Warn("tool argument parse error", "name", name, "error", err)
		return fmt.Sprintf("Error parsing arguments: %v", err), nil
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	output, err := tool.handler(execCtx, args)
	duration := time.Since(start)

	if err != nil {
		r.logger.Warn("tool execution failed",
			"name", name,
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
		return fmt.Sprintf("Error: %v", err), nil
	}

	r.logger.Info("tool executed",
		"name", name,
		"duration_ms", duration.Milliseconds(),
		"output_len", len(output),
	)
	return output, nil
}

// MakeDefinition creates a ToolDefinition from a name, description, and a
// JSON Schema parameter map.
func MakeDefinition(name, description string, params map[string]any) llm.ToolDefinition {
	if params == nil {
		params = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	schemaJSON, _ := json.Marshal(params)
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  schemaJSON,
		},
	}
}

// validateSchema checks that the declared parameters are a JSON object schema.
func validateSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return errors.New("missing parameter schema")
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("parsing schema: %w", err)
	}
	if t, _ := schema["type"].(string); t != "object" {
		return fmt.Errorf("schema type must be \"object\", got %q", t)
	}
	return nil
}

// parseArgs parses JSON-encoded tool arguments into a map.
func parseArgs(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}
