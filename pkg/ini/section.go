package ini

import (
	"bufio"
	"fmt"
	"iter"
	"slices"
)

// Section is an ordered run of blank, comment and key-value lines under one
// header, with a case-insensitive index over its keys. Every key-value in
// body appears in keys under its folded name, and nothing else does.
//
// Comments found directly above the header in the source are kept in lead and
// written before the header line.
//
// A section removed from its document, or held across Reset or Load, is
// detached: later changes through it or its keys never reach the document.
type Section struct {
	name   string
	parsed bool // header was read from source text

	nodes []slot
	lead  []int
	body  []int
	keys  map[string]int

	flag     *dirtyFlag
	detached bool
}

func newSection(name string, flag *dirtyFlag) *Section {
	return &Section{
		name: name,
		keys: make(map[string]int),
		flag: flag,
	}
}

// Name returns the section name with its original casing. The implicit
// top-of-file section has an empty name.
func (s *Section) Name() string { return s.name }

// Len returns the number of keys in the section.
func (s *Section) Len() int { return len(s.keys) }

// Key returns the key with the given name, creating an empty one at the end of
// the section when none exists. Creation does not mark the document dirty.
func (s *Section) Key(name string) (Key, error) {
	name = trimSpace(name)
	if id, ok := s.keys[fold(name)]; ok {
		return Key{s: s, id: id}, nil
	}
	if !validKeyName(name) {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKeyName, name)
	}

	id := s.add(Node{Kind: KindKeyValue, Name: name})
	s.body = append(s.body, id)
	s.keys[fold(name)] = id
	return Key{s: s, id: id}, nil
}

// MustKey is like Key but panics when name is not a valid key name.
func (s *Section) MustKey(name string) Key {
	k, err := s.Key(name)
	if err != nil {
		panic(fmt.Sprintf("ini: section %q: %v", s.name, err))
	}
	return k
}

// Lookup returns the key with the given name without creating it.
func (s *Section) Lookup(name string) (Key, bool) {
	id, ok := s.keys[fold(trimSpace(name))]
	if !ok {
		return Key{}, false
	}
	return Key{s: s, id: id}, true
}

// Has reports whether the section contains the named key.
func (s *Section) Has(name string) bool {
	_, ok := s.keys[fold(trimSpace(name))]
	return ok
}

// RemoveKey deletes the named key from the section.
func (s *Section) RemoveKey(name string) error {
	folded := fold(trimSpace(name))
	id, ok := s.keys[folded]
	if !ok {
		return fmt.Errorf("section %q: %w: %q", s.name, ErrKeyNotFound, name)
	}

	delete(s.keys, folded)
	if i := slices.Index(s.body, id); i >= 0 {
		s.body = slices.Delete(s.body, i, i+1)
	}
	s.nodes[id].removed = true
	s.flag.set = true
	return nil
}

// RenameKey changes the name of a key, keeping its position and value. It
// fails without side effects when newName is invalid or already used by a
// different key. Renaming to the identical name is a no-op.
func (s *Section) RenameKey(name, newName string) error {
	id, ok := s.keys[fold(trimSpace(name))]
	if !ok {
		return fmt.Errorf("section %q: %w: %q", s.name, ErrKeyNotFound, name)
	}
	newName = trimSpace(newName)
	if !validKeyName(newName) {
		return fmt.Errorf("%w: %q", ErrInvalidKeyName, newName)
	}

	old := s.nodes[id].Name
	if old == newName {
		return nil
	}
	folded := fold(newName)
	if other, taken := s.keys[folded]; taken && other != id {
		return fmt.Errorf("section %q: key %q: %w", s.name, newName, ErrNameConflict)
	}

	delete(s.keys, fold(old))
	s.keys[folded] = id
	s.nodes[id].Name = newName
	s.flag.set = true
	return nil
}

// HasTrailingBlank reports whether the last line of the section body is blank.
func (s *Section) HasTrailingBlank() bool {
	if len(s.body) == 0 {
		return false
	}
	return s.nodes[s.body[len(s.body)-1]].Kind == KindBlank
}

// Nodes yields every line of the section in output order: leading comments,
// the header (named sections only), then the body.
func (s *Section) Nodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for _, id := range s.lead {
			if !yield(s.nodes[id].Node) {
				return
			}
		}
		if s.name != "" && !yield(Node{Kind: KindSection, Name: s.name}) {
			return
		}
		for _, id := range s.body {
			if !yield(s.nodes[id].Node) {
				return
			}
		}
	}
}

// Keys yields the section's keys in document order.
func (s *Section) Keys() iter.Seq[Key] {
	return func(yield func(Key) bool) {
		for _, id := range s.body {
			if s.nodes[id].Kind != KindKeyValue {
				continue
			}
			if !yield(Key{s: s, id: id}) {
				return
			}
		}
	}
}

// add stores n in the arena and returns its id.
func (s *Section) add(n Node) int {
	s.nodes = append(s.nodes, slot{Node: n})
	return len(s.nodes) - 1
}

// pushNode appends a parsed line to the body. Key-values whose name is
// already present are rejected so the first occurrence wins.
func (s *Section) pushNode(n Node) bool {
	switch n.Kind {
	case KindBlank, KindComment:
		s.body = append(s.body, s.add(n))
		return true
	case KindKeyValue:
		folded := fold(n.Name)
		if _, dup := s.keys[folded]; dup {
			return false
		}
		id := s.add(n)
		s.body = append(s.body, id)
		s.keys[folded] = id
		return true
	default:
		return false
	}
}

// ensureTrailingBlank appends a blank line unless the body already ends in one.
func (s *Section) ensureTrailingBlank() {
	if !s.HasTrailingBlank() {
		s.body = append(s.body, s.add(Node{Kind: KindBlank}))
	}
}

// popTrailingComments detaches the comment block that trails the body. The
// block is a run of comments, optionally followed by a single blank line at
// the very end, and must be preceded by a blank line or by the start of an
// implicit section. A key-value or header above the run leaves the body
// untouched.
func (s *Section) popTrailingComments() []Node {
	end := len(s.body)
	i := end
scan:
	for i > 0 {
		switch s.nodes[s.body[i-1]].Kind {
		case KindBlank:
			if i != end {
				break scan
			}
			i--
		case KindComment:
			i--
		default:
			return nil
		}
	}
	if i == 0 && s.name != "" {
		// Ran into the header line.
		return nil
	}
	if i == end {
		return nil
	}

	out := make([]Node, 0, end-i)
	for _, id := range s.body[i:] {
		out = append(out, s.nodes[id].Node)
		s.nodes[id].removed = true
	}
	s.body = s.body[:i]
	return out
}

// prependLead places nodes ahead of any existing leading comments.
func (s *Section) prependLead(nodes []Node) {
	ids := make([]int, 0, len(nodes)+len(s.lead))
	for _, n := range nodes {
		ids = append(ids, s.add(n))
	}
	s.lead = append(ids, s.lead...)
}

// appendBody places nodes at the end of the body.
func (s *Section) appendBody(nodes []Node) {
	for _, n := range nodes {
		s.body = append(s.body, s.add(n))
	}
}

// detach cuts the section off from its document's dirty flag and freezes
// every key handle into it.
func (s *Section) detach() {
	s.detached = true
	s.flag = &dirtyFlag{}
}

// empty reports whether the section has nothing to write. A named section
// that was only materialized by lookup and never given content is empty.
func (s *Section) empty() bool {
	if len(s.lead) > 0 || len(s.body) > 0 {
		return false
	}
	return s.name == "" || !s.parsed
}

func (s *Section) write(w *bufio.Writer) {
	for _, id := range s.lead {
		writeLine(w, s.nodes[id].Line())
	}
	if s.name != "" {
		writeLine(w, "["+s.name+"]")
	}
	for _, id := range s.body {
		writeLine(w, s.nodes[id].Line())
	}
}

func writeLine(w *bufio.Writer, line string) {
	_, _ = w.WriteString(line)
	_ = w.WriteByte('\n')
}
