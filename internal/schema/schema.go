// Package schema validates document bodies against per-collection CUE
// schemas.
//
// Schemas live under a top-level "collections" struct, one field per
// collection:
//
//	collections: users: {
//		name:    string
//		age?:    int & >=0
//		emails:  [...string]
//	}
//
// A body is valid when it unifies with its collection's schema and the
// result is concrete. Regular fields are therefore required, optional
// fields use "?", and a definition (#User) closes the struct against
// unknown fields. Collections without a schema accept any body.
package schema

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/docsession/internal/ir"
)

// Registry holds compiled collection schemas. A nil *Registry accepts
// every body.
type Registry struct {
	ctx         *cue.Context
	collections map[string]cue.Value
}

// SchemaError reports a schema or validation problem with its CUE source
// position when one is available.
type SchemaError struct {
	Collection string
	Message    string
	Pos        token.Pos
}

func (e *SchemaError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Collection, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Collection, e.Message)
}

// Compile compiles schema source. The filename is used in error positions.
func Compile(filename string, src []byte) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError("", err)
	}
	return newRegistry(ctx, v)
}

// LoadDir loads every CUE file in dir as one instance.
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError("", inst.Err)
	}

	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError("", err)
	}
	return newRegistry(ctx, v)
}

// Load compiles a single schema file, or every CUE file in a directory.
func Load(path string) (*Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return Compile(path, src)
}

func newRegistry(ctx *cue.Context, root cue.Value) (*Registry, error) {
	r := &Registry{ctx: ctx, collections: make(map[string]cue.Value)}

	collections := root.LookupPath(cue.ParsePath("collections"))
	if !collections.Exists() {
		return r, nil
	}

	iter, err := collections.Fields()
	if err != nil {
		return nil, formatCUEError("", err)
	}
	for iter.Next() {
		name := iter.Label()
		v := iter.Value()
		if err := rejectFloats(name, v); err != nil {
			return nil, err
		}
		r.collections[name] = v
	}
	return r, nil
}

// rejectFloats fails when any field of a schema can only hold a float:
// document bodies cannot carry floating point numbers.
func rejectFloats(collection string, v cue.Value) error {
	var found *SchemaError
	v.Walk(func(field cue.Value) bool {
		if found != nil {
			return false
		}
		if field.IncompleteKind() == cue.FloatKind {
			found = &SchemaError{
				Collection: collection,
				Message:    fmt.Sprintf("field %s: floats are not allowed in documents", field.Path()),
				Pos:        field.Pos(),
			}
			return false
		}
		return true
	}, nil)
	if found != nil {
		return found
	}
	return nil
}

// Collections returns the names of collections with a schema, sorted.
func (r *Registry) Collections() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether collection has a schema.
func (r *Registry) Has(collection string) bool {
	if r == nil {
		return false
	}
	_, ok := r.collections[collection]
	return ok
}

// Validate checks body against the schema of collection. It returns a
// SCHEMA_VIOLATION error wrapping a *SchemaError on failure.
func (r *Registry) Validate(collection, id string, body ir.IRObject) error {
	if r == nil {
		return nil
	}
	sch, ok := r.collections[collection]
	if !ok {
		return nil
	}

	doc := r.ctx.Encode(ir.ToGo(body))
	if err := doc.Err(); err != nil {
		return violation(collection, id, formatCUEError(collection, err))
	}
	if err := sch.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return violation(collection, id, formatCUEError(collection, err))
	}
	return nil
}

func violation(collection, id string, err error) error {
	return &ir.Error{
		Code:    ir.ErrCodeSchemaViolation,
		Message: fmt.Sprintf("document does not match %s schema", collection),
		ID:      id,
		Err:     err,
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(collection string, err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &SchemaError{
			Collection: collection,
			Message:    firstErr.Error(),
			Pos:        positions[0],
		}
	}

	return &SchemaError{Collection: collection, Message: firstErr.Error()}
}
