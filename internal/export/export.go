// Package export renders INI documents as JSON or YAML, keeping section and
// key order.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/ndisidore/inidoc/pkg/ini"
)

// Sentinel errors for export failures.
var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrKeyCollision  = errors.New("top-level key collides with section name")
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Options tunes the rendered output.
type Options struct {
	// Comments carries INI comments into YAML as head comments on the
	// following key or section. JSON output ignores it.
	Comments bool
}

// entry is one ordered member of an exported object. Value is a string or a
// []entry for a section.
type entry struct {
	key      string
	value    any
	comments []string
}

// Write renders doc to w in the given format. Keys of the implicit top
// section become top-level members ahead of the sections.
func Write(w io.Writer, doc *ini.Document, format string, opts Options) error {
	tree, err := build(doc)
	if err != nil {
		return err
	}

	var out []byte
	switch format {
	case FormatJSON:
		out, err = marshalJSON(tree)
	case FormatYAML:
		out, err = marshalYAML(tree, opts)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", format, err)
	}
	_, err = w.Write(out)
	return err
}

func build(doc *ini.Document) ([]entry, error) {
	var top, sections []entry
	names := make(map[string]struct{})

	for s := range doc.Sections() {
		var (
			members []entry
			pending []string
			lead    []string
		)
		for n := range s.Nodes() {
			switch n.Kind {
			case ini.KindComment:
				pending = append(pending, commentText(n.Text))
			case ini.KindBlank:
				pending = nil
			case ini.KindSection:
				lead, pending = pending, nil
			case ini.KindKeyValue:
				members = append(members, entry{key: n.Name, value: n.Value, comments: pending})
				pending = nil
			}
		}

		if s.Name() == "" {
			top = members
			continue
		}
		names[s.Name()] = struct{}{}
		sections = append(sections, entry{key: s.Name(), value: members, comments: lead})
	}

	for _, e := range top {
		if _, clash := names[e.key]; clash {
			return nil, fmt.Errorf("%w: %q", ErrKeyCollision, e.key)
		}
	}
	return append(top, sections...), nil
}

// marshalJSON renders the tree through the YAML encoder in JSON mode, which
// keeps member order and leaves HTML characters alone, then re-indents it.
func marshalJSON(tree []entry) ([]byte, error) {
	flow, err := yaml.MarshalWithOptions(toMapSlice(tree), yaml.JSON())
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := json.Indent(&b, bytes.TrimSpace(flow), "", "  "); err != nil {
		return nil, err
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func commentText(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, ";#"))
}

// _plainKey matches keys that can be addressed in a YAML path without
// quoting.
var _plainKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func marshalYAML(tree []entry, opts Options) ([]byte, error) {
	ms := toMapSlice(tree)
	if !opts.Comments {
		return yaml.Marshal(ms)
	}

	cm := yaml.CommentMap{}
	addComments(cm, "$", tree)
	return yaml.MarshalWithOptions(ms, yaml.WithComment(cm))
}

func toMapSlice(entries []entry) yaml.MapSlice {
	ms := make(yaml.MapSlice, 0, len(entries))
	for _, e := range entries {
		v := e.value
		if sub, ok := v.([]entry); ok {
			v = toMapSlice(sub)
		}
		ms = append(ms, yaml.MapItem{Key: e.key, Value: v})
	}
	return ms
}

func addComments(cm yaml.CommentMap, parent string, entries []entry) {
	for _, e := range entries {
		if !_plainKey.MatchString(e.key) {
			continue
		}
		path := parent + "." + e.key
		if len(e.comments) > 0 {
			lines := make([]string, len(e.comments))
			for i, c := range e.comments {
				lines[i] = " " + c
			}
			cm[path] = []*yaml.Comment{yaml.HeadComment(lines...)}
		}
		if sub, ok := e.value.([]entry); ok {
			addComments(cm, path, sub)
		}
	}
}
