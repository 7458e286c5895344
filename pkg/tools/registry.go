// Package tools holds the registry of tools an agent may call during its
// reasoning loop.
//
// Invariants:
//   - Arguments are validated against the tool's JSON schema before the
//     handler runs.
//   - Invoke never panics or returns an error value; failures come back as a
//     Result so the loop can feed them to the model.
//   - The registry is safe for concurrent use by every agent of a request.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Kylo111/make-it-heavy/internal/observability"
	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// Registry defaults.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10 * 1024
)

// ErrToolNotFound is reported for calls to unregistered tools.
var ErrToolNotFound = errors.New("tool not found")

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Handler executes a tool with validated arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition is a tool's metadata and handler.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Result is the outcome of one invocation.
type Result struct {
	Success   bool          `json:"success"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Content renders the result as the text of a tool message.
func (r Result) Content() string {
	if !r.Success {
		data, _ := json.Marshal(map[string]string{"error": r.Error})
		return string(data)
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	data, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Sprintf("%v", r.Output)
	}
	return string(data)
}

// Config configures a Registry.
type Config struct {
	Logger         zerolog.Logger
	Timeout        time.Duration // per invocation, default 30s
	MaxOutputBytes int           // default 10KB
}

type entry struct {
	def        Definition
	schema     *gojsonschema.Schema
	descriptor llm.ToolDescriptor
}

// Registry stores tools by name.
type Registry struct {
	mu             sync.RWMutex
	tools          map[string]*entry
	logger         zerolog.Logger
	timeout        time.Duration
	maxOutputBytes int
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Registry{
		tools:          make(map[string]*entry),
		logger:         cfg.Logger,
		timeout:        cfg.Timeout,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
}

// RegisterTool validates def, compiles its schema and stores it, replacing
// any tool of the same name.
func (r *Registry) RegisterTool(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := buildSchema(def.Parameters)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[def.Name] = &entry{
		def:    def,
		schema: schema,
		descriptor: llm.ToolDescriptor{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaMap,
		},
	}

	r.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTools returns descriptors for every tool, sorted by name.
func (r *Registry) ListTools() []llm.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolDescriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke validates args and runs the named tool under the registry timeout.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) Result {
	start := time.Now()

	r.mu.RLock()
	e := r.tools[name]
	r.mu.RUnlock()

	if e == nil {
		r.logger.Warn().Str("tool", name).Msg("Call to unknown tool")
		return Result{Error: fmt.Sprintf("%v: %s", ErrToolNotFound, name)}
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(e.schema, args); err != nil {
		r.logger.Warn().Str("tool", name).Err(err).Msg("Tool arguments rejected")
		return r.finish(name, start, Result{Error: fmt.Sprintf("invalid arguments: %v", err)})
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		out, err := e.def.Handler(callCtx, args)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return r.finish(name, start, Result{Error: fmt.Sprintf("tool timed out after %v", r.timeout)})
		}
		if o.err != nil {
			return r.finish(name, start, Result{Error: o.err.Error()})
		}
		out, truncated := r.truncate(o.out)
		return r.finish(name, start, Result{Success: true, Output: out, Truncated: truncated})
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return r.finish(name, start, Result{Error: fmt.Sprintf("tool cancelled: %v", ctx.Err())})
		}
		return r.finish(name, start, Result{Error: fmt.Sprintf("tool timed out after %v", r.timeout)})
	}
}

func (r *Registry) finish(name string, start time.Time, res Result) Result {
	res.Duration = time.Since(start)
	observability.RecordToolExecution(name, res.Duration, res.Success)

	ev := r.logger.Debug().Str("tool", name).Dur("duration", res.Duration).Bool("success", res.Success)
	if !res.Success {
		ev = ev.Str("error", res.Error)
	}
	ev.Msg("Tool invoked")

	return res
}

func (r *Registry) truncate(out any) (any, bool) {
	var s string
	switch v := out.(type) {
	case string:
		s = v
	case nil:
		return nil, false
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(data)
		}
	}

	if len(s) <= r.maxOutputBytes {
		return out, false
	}
	cut := r.maxOutputBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... [output truncated]", true
}

var validTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "object": true, "array": true,
}

func validateDefinition(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("tool name cannot be empty")
	}
	if def.Description == "" {
		return errors.New("tool description cannot be empty")
	}
	if def.Handler == nil {
		return errors.New("tool handler cannot be nil")
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		if p.Name == "" {
			return errors.New("parameter name cannot be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %s", p.Name)
		}
		seen[p.Name] = true
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid type %q for parameter %s", p.Type, p.Name)
		}
		if p.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", p.Name)
		}
	}
	return nil
}

func buildSchema(params []Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	required := []string{}

	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
