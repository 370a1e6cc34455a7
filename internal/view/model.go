package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ndisidore/inidoc/pkg/ini"
)

// row is one visible line of the browser: a section, or a key inside an
// expanded section.
type row struct {
	section int
	name    string
	value   string
	isKey   bool
}

// sectionState tracks a single section's render state.
type sectionState struct {
	name     string
	keys     [][2]string
	expanded bool
}

// model is the bubbletea model for browsing a document. All methods use
// pointer receivers so cursor moves and toggles apply to the running
// instance.
type model struct {
	title    string
	sections []sectionState
	rows     []row
	cursor   int
	offset   int
	height   int
	boring   bool // use ASCII markers instead of triangles
	done     bool
}

func newModel(title string, doc *ini.Document, boring bool) *model {
	m := &model{title: title, boring: boring}
	for s := range doc.Sections() {
		if s.Name() == "" && s.Len() == 0 {
			continue
		}
		st := sectionState{name: s.Name()}
		for k := range s.Keys() {
			st.keys = append(st.keys, [2]string{k.Name(), k.String()})
		}
		m.sections = append(m.sections, st)
	}
	m.rebuild()
	return m
}

// rebuild recomputes the visible rows from the expansion state.
func (m *model) rebuild() {
	m.rows = m.rows[:0]
	for i, s := range m.sections {
		m.rows = append(m.rows, row{section: i, name: s.name})
		if !s.expanded {
			continue
		}
		for _, kv := range s.keys {
			m.rows = append(m.rows, row{section: i, name: kv[0], value: kv[1], isKey: true})
		}
	}
	m.cursor = min(m.cursor, max(0, len(m.rows)-1))
}

// Init implements tea.Model.
func (*model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.done = true
			return m, tea.Quit
		case "up", "k":
			m.move(-1)
		case "down", "j":
			m.move(1)
		case "home", "g":
			m.move(-len(m.rows))
		case "end", "G":
			m.move(len(m.rows))
		case "enter", " ", "right", "l", "left", "h":
			m.toggle(msg.String())
		case "e":
			m.expandAll(true)
		case "c":
			m.expandAll(false)
		}
	}
	m.scroll()
	return m, nil
}

func (m *model) move(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.cursor = max(0, min(len(m.rows)-1, m.cursor+delta))
}

// toggle opens or closes the section under the cursor. On a key row it acts
// on the owning section and moves the cursor to its header.
func (m *model) toggle(key string) {
	if len(m.rows) == 0 {
		return
	}
	r := m.rows[m.cursor]
	s := &m.sections[r.section]
	switch key {
	case "right", "l":
		s.expanded = true
	case "left", "h":
		s.expanded = false
	default:
		s.expanded = !s.expanded
	}
	if r.isKey && !s.expanded {
		m.cursor = m.headerRow(r.section)
	}
	m.rebuild()
}

func (m *model) expandAll(open bool) {
	sec := -1
	if len(m.rows) > 0 {
		sec = m.rows[m.cursor].section
	}
	for i := range m.sections {
		m.sections[i].expanded = open
	}
	m.rebuild()
	if sec >= 0 {
		m.cursor = m.headerRow(sec)
	}
}

func (m *model) headerRow(section int) int {
	for i, r := range m.rows {
		if r.section == section && !r.isKey {
			return i
		}
	}
	return 0
}

// scroll keeps the cursor inside the visible window.
func (m *model) scroll() {
	page := m.page()
	if page <= 0 {
		m.offset = 0
		return
	}
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+page {
		m.offset = m.cursor - page + 1
	}
}

// page is the number of rows that fit below the title and above the help
// line. Zero means unbounded.
func (m *model) page() int {
	if m.height <= 0 {
		return 0
	}
	return max(1, m.height-3)
}

var (
	_titleStyle   = lipgloss.NewStyle().Bold(true)
	_sectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	_keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	_cursorStyle  = lipgloss.NewStyle().Reverse(true)
	_helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// View implements tea.Model.
func (m *model) View() string {
	var b strings.Builder

	_, _ = b.WriteString(_titleStyle.Render(fmt.Sprintf("%s (%d sections)", m.title, len(m.sections))))
	_ = b.WriteByte('\n')

	open, closed := "▾", "▸"
	if m.boring {
		open, closed = "-", "+"
	}

	start, end := 0, len(m.rows)
	if page := m.page(); page > 0 {
		start = m.offset
		end = min(len(m.rows), m.offset+page)
	}
	for i := start; i < end; i++ {
		r := m.rows[i]
		var line string
		if r.isKey {
			line = fmt.Sprintf("    %s = %s", _keyStyle.Render(r.name), r.value)
		} else {
			s := m.sections[r.section]
			marker := closed
			if s.expanded {
				marker = open
			}
			name := "(top)"
			if s.name != "" {
				name = "[" + s.name + "]"
			}
			line = fmt.Sprintf("  %s %s  %d keys", marker, _sectionStyle.Render(name), len(s.keys))
		}
		if i == m.cursor {
			line = _cursorStyle.Render(line)
		}
		_, _ = b.WriteString(line)
		_ = b.WriteByte('\n')
	}

	_, _ = b.WriteString(_helpStyle.Render("j/k move  enter toggle  e/c expand/collapse all  q quit"))
	_ = b.WriteByte('\n')
	return b.String()
}
