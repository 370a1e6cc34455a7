// Package view provides an interactive terminal browser for INI documents.
package view

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ndisidore/inidoc/pkg/ini"
)

// Browser renders a read-only section and key tree with bubbletea.
type Browser struct {
	Boring bool // use ASCII markers instead of triangles

	opts []tea.ProgramOption
}

// Run displays doc until the user quits or ctx is cancelled.
func (b *Browser) Run(ctx context.Context, title string, doc *ini.Document) error {
	m := newModel(title, doc, b.Boring)

	opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, b.opts...)
	p := tea.NewProgram(m, opts...)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running browser: %w", err)
	}
	return nil
}
