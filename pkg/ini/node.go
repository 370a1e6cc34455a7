package ini

import "strings"

// Kind identifies what a single line of INI text represents.
type Kind uint8

// Node kinds.
const (
	KindBlank Kind = iota
	KindComment
	KindSection
	KindKeyValue
)

// String returns a lower-case name for the kind.
func (k Kind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindComment:
		return "comment"
	case KindSection:
		return "section"
	case KindKeyValue:
		return "keyvalue"
	default:
		return "unknown"
	}
}

// _space is the set of characters trimmed from both ends of every line.
const _space = " \t\n\r\f\v"

// Node is one logical line of a document. Only the fields relevant to Kind
// are populated: Text for comments, Name for section headers, Name and Value
// for key-values.
type Node struct {
	Kind  Kind
	Text  string
	Name  string
	Value string
}

// Line renders the node as it appears in serialized output, without the
// line terminator.
func (n Node) Line() string {
	switch n.Kind {
	case KindComment:
		return n.Text
	case KindSection:
		return "[" + n.Name + "]"
	case KindKeyValue:
		return n.Name + "=" + n.Value
	default:
		return ""
	}
}

// slot is an arena entry owned by a section. Removed key slots are kept so
// outstanding Key handles never index out of range.
type slot struct {
	Node
	removed bool
}

// trimSpace strips the INI whitespace set from both ends of s.
func trimSpace(s string) string {
	return strings.Trim(s, _space)
}

// singleLine truncates s at the first line break and trims the remainder.
func singleLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return trimSpace(s)
}

// isComment reports whether a trimmed line is a comment.
func isComment(line string) bool {
	return line != "" && (line[0] == ';' || line[0] == '#')
}

// isHeader reports whether a trimmed line is a section header.
func isHeader(line string) bool {
	return len(line) >= 2 && line[0] == '[' && line[len(line)-1] == ']'
}

// headerName extracts the section name from a header-like string. Surrounding
// whitespace and any run of brackets on either side are removed.
func headerName(s string) string {
	s = trimSpace(s)
	s = strings.TrimRight(s, "]")
	s = strings.TrimLeft(s, "[")
	return trimSpace(s)
}

// validKeyName reports whether a trimmed key name can be written back as the
// left side of a key-value line.
func validKeyName(name string) bool {
	if name == "" || strings.ContainsAny(name, ";#=\r\n") {
		return false
	}
	return !isHeader(name)
}

// validSectionName reports whether a normalized section name fits on a
// single header line.
func validSectionName(name string) bool {
	return !strings.ContainsAny(name, "\r\n")
}

// classify turns one trimmed line into a node. Precedence is fixed: blank,
// comment, section header, key-value. ok is false for lines matching none.
func classify(line string) (Node, bool) {
	switch {
	case line == "":
		return Node{Kind: KindBlank}, true
	case isComment(line):
		return Node{Kind: KindComment, Text: line}, true
	case isHeader(line):
		return Node{Kind: KindSection, Name: headerName(line)}, true
	}

	eq := strings.IndexByte(line, '=')
	if eq <= 0 {
		return Node{}, false
	}
	name := trimSpace(line[:eq])
	if !validKeyName(name) {
		return Node{}, false
	}
	return Node{Kind: KindKeyValue, Name: name, Value: singleLine(line[eq+1:])}, true
}

// fold maps a name to its case-insensitive index key. Only ASCII letters are
// folded so non-ASCII names compare byte-exact.
func fold(name string) string {
	for i := 0; i < len(name); i++ {
		if c := name[i]; c >= 'A' && c <= 'Z' {
			return foldSlow(name, i)
		}
	}
	return name
}

func foldSlow(name string, from int) string {
	b := []byte(name)
	for i := from; i < len(b); i++ {
		if c := b[i]; c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
