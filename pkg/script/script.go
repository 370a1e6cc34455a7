// Package script reads KDL edit scripts and applies them to INI documents.
//
// A script is a flat list of operations, one per KDL node:
//
//	set "db" "port" 5432
//	ensure "db" "host" "localhost"
//	rename-key "db" "user" "username"
//	rename-section "db" "database"
//	remove-key "cache" "ttl" missing-ok=true
//	remove-section "legacy"
//	include "common.kdl"
//
// Values may be strings, integers, floats or booleans.
package script

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"

	"github.com/ndisidore/inidoc/pkg/ini"
	"github.com/ndisidore/inidoc/pkg/slogctx"
)

// OpKind names a script operation. Values match the KDL node names.
type OpKind string

// Operation kinds.
const (
	OpSet           OpKind = "set"
	OpEnsure        OpKind = "ensure"
	OpRenameKey     OpKind = "rename-key"
	OpRenameSection OpKind = "rename-section"
	OpRemoveKey     OpKind = "remove-key"
	OpRemoveSection OpKind = "remove-section"
)

// _nodeInclude splices another script in place. It never appears as an Op.
const _nodeInclude = "include"

// PropMissingOK makes remove operations succeed when the target is absent.
const PropMissingOK = "missing-ok"

// Op is one parsed operation. Only the fields used by Kind are set.
type Op struct {
	Kind    OpKind
	Section string
	Key     string
	NewName string
	// Value is a string, int64, float64 or bool.
	Value     any
	MissingOK bool
	// Origin is the file the operation was read from.
	Origin string
}

// String renders the op for logs and error messages.
func (o Op) String() string {
	switch o.Kind {
	case OpSet, OpEnsure:
		return fmt.Sprintf("%s [%s] %s=%v", o.Kind, o.Section, o.Key, o.Value)
	case OpRenameKey:
		return fmt.Sprintf("%s [%s] %s -> %s", o.Kind, o.Section, o.Key, o.NewName)
	case OpRenameSection:
		return fmt.Sprintf("%s [%s] -> [%s]", o.Kind, o.Section, o.NewName)
	case OpRemoveKey:
		return fmt.Sprintf("%s [%s] %s", o.Kind, o.Section, o.Key)
	default:
		return fmt.Sprintf("%s [%s]", o.Kind, o.Section)
	}
}

// Script is an ordered list of operations.
type Script struct {
	Name string
	Ops  []Op
}

// Apply runs the script's operations against doc in order. It stops at the
// first failing operation; operations before it stay applied.
func Apply(ctx context.Context, doc *ini.Document, s Script) error {
	log := slogctx.FromContext(ctx)
	for i, op := range s.Ops {
		if err := applyOp(doc, op); err != nil {
			return fmt.Errorf("%s: op %d (%s): %w", op.Origin, i+1, op.Kind, err)
		}
		log.LogAttrs(ctx, slog.LevelDebug, "applied op",
			slog.Int("index", i+1),
			slog.String("op", op.String()),
			slog.Bool("dirty", doc.Dirty()),
		)
	}
	return nil
}

func applyOp(doc *ini.Document, op Op) error {
	switch op.Kind {
	case OpSet, OpEnsure:
		s, err := doc.Section(op.Section)
		if err != nil {
			return err
		}
		k, err := s.Key(op.Key)
		if err != nil {
			return err
		}
		if op.Kind == OpEnsure && !k.Empty() {
			return nil
		}
		return assign(k, op.Value)
	case OpRenameKey:
		s, err := lookup(doc, op.Section)
		if err != nil {
			return err
		}
		return s.RenameKey(op.Key, op.NewName)
	case OpRenameSection:
		return doc.RenameSection(op.Section, op.NewName)
	case OpRemoveKey:
		s, err := lookup(doc, op.Section)
		if err == nil {
			err = s.RemoveKey(op.Key)
		}
		return missingOK(err, op.MissingOK)
	case OpRemoveSection:
		return missingOK(doc.RemoveSection(op.Section), op.MissingOK)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, op.Kind)
	}
}

func lookup(doc *ini.Document, name string) (*ini.Section, error) {
	s, ok := doc.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ini.ErrSectionNotFound, name)
	}
	return s, nil
}

func missingOK(err error, ok bool) error {
	if ok && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

func assign(k ini.Key, v any) error {
	switch x := v.(type) {
	case string:
		ini.Set(k, x)
	case int64:
		ini.Set(k, x)
	case float64:
		ini.Set(k, x)
	case bool:
		ini.Set(k, x)
	default:
		return fmt.Errorf("value %v (%T): %w", v, v, ErrTypeMismatch)
	}
	return nil
}
