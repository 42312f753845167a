// SPDX-License-Identifier: Apache-2.0

package check

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
)

// Check is a named unit of work that the orchestrator dispatches against a
// live connection. Implementations must honor ctx cancellation (the
// orchestrator enforces a per-check timeout via context.WithTimeout) and
// must never panic past Execute: internal failures become a Result with
// Status: StatusError.
type Check interface {
	Definition() Definition
	Execute(ctx context.Context, db dbconn.DB) Result
}

// Func adapts a plain function into a Check via composition rather than a
// class hierarchy: every concrete check in this package is a func, not a
// type with an embedded base.
type Func struct {
	Def Definition
	Run func(ctx context.Context, db dbconn.DB, def Definition) Result
}

func (f Func) Definition() Definition { return f.Def }

func (f Func) Execute(ctx context.Context, db dbconn.DB) Result {
	return f.Run(ctx, db, f.Def)
}

// Registry holds the set of checks dbsentinel knows how to run, keyed by
// Definition.ID.
type Registry struct {
	checks map[string]Check
	defs   map[string]Definition
}

// NewRegistry returns an empty registry with the built-in checks already
// registered.
func NewRegistry() *Registry {
	r := &Registry{
		checks: make(map[string]Check),
		defs:   make(map[string]Definition),
	}
	for _, c := range builtinChecks() {
		r.Register(c)
	}
	return r
}

// Register adds a check to the registry. If the check's Definition carries
// a ParameterSchema, Parameters is validated against it first and Register
// returns an error rather than admitting a check with malformed
// configuration.
func (r *Registry) Register(c Check) error {
	def := c.Definition()
	if err := validateParameters(def); err != nil {
		return fmt.Errorf("check %s: %w", def.ID, err)
	}
	r.checks[def.ID] = c
	r.defs[def.ID] = def
	return nil
}

func validateParameters(def Definition) error {
	if len(def.ParameterSchema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(def.ID+"-params.json", bytes.NewReader(def.ParameterSchema)); err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	schema, err := compiler.Compile(def.ID + "-params.json")
	if err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	if len(def.Parameters) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(def.Parameters, &v); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("parameters fail schema validation: %w", err)
	}
	return nil
}

// Get returns a check instance by ID, or nil if none is registered.
func (r *Registry) Get(id string) Check {
	return r.checks[id]
}

// GetDefinition returns a check's Definition by ID.
func (r *Registry) GetDefinition(id string) (Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// ListOptions filters List's result set. A zero-value ListOptions lists
// every enabled check.
type ListOptions struct {
	Category Category
	Framework string
	Tags      []string
}

// List returns definitions matching opts, skipping disabled checks.
func (r *Registry) List(opts ListOptions) []Definition {
	var out []Definition
	for _, def := range r.defs {
		if !def.Enabled {
			continue
		}
		if opts.Category != "" && def.Category != opts.Category {
			continue
		}
		if opts.Framework != "" && !contains(def.Frameworks, opts.Framework) {
			continue
		}
		if len(opts.Tags) > 0 && !anyTagMatches(def.Tags, opts.Tags) {
			continue
		}
		out = append(out, def)
	}
	return out
}

// ForFramework returns every enabled Check whose Definition lists framework
// among its Frameworks.
func (r *Registry) ForFramework(framework string) []Check {
	var out []Check
	for id, def := range r.defs {
		if !def.Enabled {
			continue
		}
		if contains(def.Frameworks, framework) {
			out = append(out, r.checks[id])
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyTagMatches(tags, want []string) bool {
	for _, w := range want {
		if contains(tags, w) {
			return true
		}
	}
	return false
}
