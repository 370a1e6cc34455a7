package script

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// Sentinel errors for parse failures.
var (
	ErrUnknownOp       = errors.New("unknown operation")
	ErrMissingArg      = errors.New("missing argument")
	ErrExtraArgs       = errors.New("too many arguments")
	ErrTypeMismatch    = errors.New("argument type mismatch")
	ErrUnknownProp     = errors.New("unknown property")
	ErrUnexpectedBlock = errors.New("operation does not take a block")
	ErrCircularInclude = errors.New("circular include")
	ErrIncludeDepth    = errors.New("include depth exceeded")
)

// _maxIncludeDepth prevents runaway transitive includes.
const _maxIncludeDepth = 32

// _arity is the exact argument count of each operation.
var _arity = map[OpKind]int{
	OpSet:           3,
	OpEnsure:        3,
	OpRenameKey:     3,
	OpRenameSection: 2,
	OpRemoveKey:     2,
	OpRemoveSection: 1,
}

// Parser turns KDL into scripts, resolving include nodes through Resolver.
type Parser struct {
	Resolver Resolver
}

// NewParser returns a Parser that reads includes from the local filesystem.
func NewParser() *Parser {
	return &Parser{Resolver: &FileResolver{}}
}

// ParseFile reads and parses the script at path from the local filesystem.
func ParseFile(path string) (Script, error) {
	return NewParser().ParseFile(path)
}

// Parse parses a script from r. filename is used in errors and as the base
// for relative includes.
func Parse(r io.Reader, filename string) (Script, error) {
	return NewParser().Parse(r, filename)
}

// ParseString parses a script held in a string.
func ParseString(content string) (Script, error) {
	return NewParser().ParseString(content)
}

// ParseFile resolves path and parses the script it names.
func (p *Parser) ParseFile(path string) (s Script, err error) {
	rc, abs, err := p.Resolver.Resolve(path, "")
	if err != nil {
		return Script{}, err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", abs, cerr)
		}
	}()
	return p.Parse(rc, abs)
}

// Parse parses a script from r.
func (p *Parser) Parse(r io.Reader, filename string) (Script, error) {
	ops, err := p.parse(r, filename, newIncludeState())
	if err != nil {
		return Script{}, err
	}
	return Script{Name: scriptName(filename), Ops: ops}, nil
}

// ParseString parses a script held in a string.
func (p *Parser) ParseString(content string) (Script, error) {
	return p.Parse(strings.NewReader(content), "<string>")
}

func (p *Parser) parse(r io.Reader, filename string, state *includeState) ([]Op, error) {
	if err := state.push(filename); err != nil {
		return nil, err
	}
	defer state.pop()

	doc, err := kdl.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}

	ops := make([]Op, 0, len(doc.Nodes))
	for _, node := range doc.Nodes {
		if node.Name.ValueString() == _nodeInclude {
			included, err := p.include(node, filename, state)
			if err != nil {
				return nil, err
			}
			ops = append(ops, included...)
			continue
		}

		op, err := parseOp(node, filename)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// include resolves an include node relative to the including file and
// returns the included operations.
func (p *Parser) include(node *document.Node, fromFile string, state *includeState) ([]Op, error) {
	if err := checkShape(node, 1, nil); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", fromFile, _nodeInclude, err)
	}
	source, err := stringArg(node, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", fromFile, _nodeInclude, err)
	}

	rc, abs, err := p.Resolver.Resolve(source, dirOf(fromFile))
	if err != nil {
		return nil, fmt.Errorf("%s: include %q: %w", fromFile, source, err)
	}
	defer func() { _ = rc.Close() }()

	ops, err := p.parse(rc, abs, state)
	if err != nil {
		return nil, fmt.Errorf("%s: include %q: %w", fromFile, source, err)
	}
	return ops, nil
}

func parseOp(node *document.Node, filename string) (Op, error) {
	kind := OpKind(node.Name.ValueString())
	arity, ok := _arity[kind]
	if !ok {
		return Op{}, fmt.Errorf("%s: %w: %q", filename, ErrUnknownOp, string(kind))
	}

	var allowed []string
	if kind == OpRemoveKey || kind == OpRemoveSection {
		allowed = []string{PropMissingOK}
	}
	if err := checkShape(node, arity, allowed); err != nil {
		return Op{}, fmt.Errorf("%s: %s: %w", filename, kind, err)
	}

	op := Op{Kind: kind, Origin: filename}
	names := arity
	if kind == OpSet || kind == OpEnsure {
		names = 2
	}
	fields := []*string{&op.Section, &op.Key, &op.NewName}
	if kind == OpRenameSection {
		fields = []*string{&op.Section, &op.NewName}
	}
	for i := range names {
		v, err := stringArg(node, i)
		if err != nil {
			return Op{}, fmt.Errorf("%s: %s: %w", filename, kind, err)
		}
		*fields[i] = v
	}

	if kind == OpSet || kind == OpEnsure {
		v, err := scalarArg(node, 2)
		if err != nil {
			return Op{}, fmt.Errorf("%s: %s: %w", filename, kind, err)
		}
		op.Value = v
	}

	missing, err := prop[bool](node, PropMissingOK)
	if err != nil {
		return Op{}, fmt.Errorf("%s: %s: %w", filename, kind, err)
	}
	op.MissingOK = missing
	return op, nil
}

// checkShape enforces the exact argument count, the allowed property names
// and the absence of a child block.
func checkShape(node *document.Node, arity int, allowed []string) error {
	switch n := len(node.Arguments); {
	case n < arity:
		return fmt.Errorf("want %d arguments, got %d: %w", arity, n, ErrMissingArg)
	case n > arity:
		return fmt.Errorf("want %d arguments, got %d: %w", arity, n, ErrExtraArgs)
	}
	for k := range node.Properties {
		ok := false
		for _, a := range allowed {
			ok = ok || k == a
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownProp, k)
		}
	}
	if len(node.Children) > 0 {
		return ErrUnexpectedBlock
	}
	return nil
}

// stringArg returns the string value at the given argument index, or an error.
func stringArg(node *document.Node, idx int) (string, error) {
	if idx >= len(node.Arguments) {
		return "", fmt.Errorf("argument %d: %w", idx, ErrMissingArg)
	}
	v, ok := node.Arguments[idx].ResolvedValue().(string)
	if !ok {
		return "", fmt.Errorf("argument %d: not a string: %w", idx, ErrTypeMismatch)
	}
	return v, nil
}

// scalarArg returns the argument at idx as a string, int64, float64 or bool.
func scalarArg(node *document.Node, idx int) (any, error) {
	if idx >= len(node.Arguments) {
		return nil, fmt.Errorf("argument %d: %w", idx, ErrMissingArg)
	}
	switch v := node.Arguments[idx].ResolvedValue().(type) {
	case string, bool, int64, float64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		if v <= 1<<63-1 {
			return int64(v), nil
		}
		return new(big.Int).SetUint64(v).String(), nil
	case float32:
		return float64(v), nil
	case *big.Int:
		if v.IsInt64() {
			return v.Int64(), nil
		}
		// Too large for any numeric setter; keep the digits.
		return v.String(), nil
	case *big.Float:
		f, _ := v.Float64()
		return f, nil
	default:
		return nil, fmt.Errorf("argument %d: unsupported value %v (%T): %w", idx, v, v, ErrTypeMismatch)
	}
}

// prop reads an optional property of type T. Returns the zero value when the
// property is absent.
func prop[T any](node *document.Node, key string) (T, error) {
	var zero T
	v, ok := node.Properties[key]
	if !ok {
		return zero, nil
	}
	t, ok := v.ResolvedValue().(T)
	if !ok {
		return zero, fmt.Errorf("property %q: want %T: %w", key, zero, ErrTypeMismatch)
	}
	return t, nil
}

// dirOf returns the directory relative includes resolve against. Synthetic
// names such as "<string>" resolve against the working directory.
func dirOf(filename string) string {
	if strings.HasPrefix(filename, "<") {
		return ""
	}
	return filepath.Dir(filename)
}

func scriptName(filename string) string {
	if strings.HasPrefix(filename, "<") {
		return filename
	}
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

// includeState tracks the include ancestry for cycle detection.
type includeState struct {
	ancestors   []string
	ancestorSet map[string]struct{}
}

func newIncludeState() *includeState {
	return &includeState{ancestorSet: make(map[string]struct{})}
}

// push adds a file to the ancestry stack, returning an error on cycles or
// depth overflow.
func (s *includeState) push(file string) error {
	if _, ok := s.ancestorSet[file]; ok {
		cycle := append(append([]string{}, s.ancestors...), file)
		return fmt.Errorf("%w: %s", ErrCircularInclude, strings.Join(cycle, " -> "))
	}
	if len(s.ancestors) >= _maxIncludeDepth {
		return fmt.Errorf("%w: depth %d at %s", ErrIncludeDepth, len(s.ancestors), file)
	}
	s.ancestors = append(s.ancestors, file)
	s.ancestorSet[file] = struct{}{}
	return nil
}

func (s *includeState) pop() {
	last := s.ancestors[len(s.ancestors)-1]
	s.ancestors = s.ancestors[:len(s.ancestors)-1]
	delete(s.ancestorSet, last)
}
