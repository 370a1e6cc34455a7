// Package main provides the CLI entry point for inidoc.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	digest "github.com/opencontainers/go-digest"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/ndisidore/inidoc/internal/charset"
	"github.com/ndisidore/inidoc/internal/export"
	"github.com/ndisidore/inidoc/internal/logging"
	"github.com/ndisidore/inidoc/internal/stats"
	"github.com/ndisidore/inidoc/internal/textdiff"
	"github.com/ndisidore/inidoc/internal/view"
	"github.com/ndisidore/inidoc/pkg/ini"
	"github.com/ndisidore/inidoc/pkg/script"
	"github.com/ndisidore/inidoc/pkg/slogctx"
)

// errWouldReformat is returned by fmt --check when at least one file is not
// in canonical form.
var errWouldReformat = errors.New("files would be reformatted")

// _stdio is the path that selects stdin for input and stdout for output.
const _stdio = "-"

// app bundles dependencies so CLI action handlers become testable methods.
type app struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	isTTY   bool
	format  string // resolved log format (pretty, json, text)
	storage ini.Storage
	scripts *script.Parser
	browse  func(ctx context.Context, title string, doc *ini.Document) error
}

func main() {
	a := &app{
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		isTTY:   term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("CI") == "",
		scripts: script.NewParser(),
	}
	a.browse = func(ctx context.Context, title string, doc *ini.Document) error {
		b := &view.Browser{Boring: !a.isTTY}
		return b.Run(ctx, title, doc)
	}

	if err := a.command().Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:      "inidoc",
		Usage:     "read and edit INI files without disturbing their layout",
		Writer:    a.stdout,
		ErrWriter: a.stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Usage:   "log format (auto, pretty, json, text)",
				Value:   logging.FormatAuto,
				Sources: cli.EnvVars("INIDOC_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("INIDOC_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "encoding",
				Usage:   "file encoding (utf-8, latin1, cp1252, utf-16, or any IANA name)",
				Value:   "utf-8",
				Sources: cli.EnvVars("INIDOC_ENCODING"),
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "print the value of a key",
				ArgsUsage: "<file> <section> <key>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "default",
						Usage: "value to print when the key is missing or empty",
					},
				},
				Action: a.getAction,
			},
			{
				Name:      "set",
				Usage:     "set the value of a key, creating it if needed",
				ArgsUsage: "<file> <section> <key> <value>",
				Action:    a.setAction,
			},
			{
				Name:      "ensure",
				Usage:     "print a key's value, writing the default first if it is empty",
				ArgsUsage: "<file> <section> <key> <default>",
				Action:    a.ensureAction,
			},
			{
				Name:      "del",
				Usage:     "remove a key, or a whole section when no key is given",
				ArgsUsage: "<file> <section> [key]",
				Action:    a.delAction,
			},
			{
				Name:      "rename",
				Usage:     "rename a key, or a section when no key is given",
				ArgsUsage: "<file> <section> [key] <new-name>",
				Action:    a.renameAction,
			},
			{
				Name:      "list",
				Usage:     "list section names, or the keys of one section",
				ArgsUsage: "<file> [section]",
				Action:    a.listAction,
			},
			{
				Name:      "fmt",
				Usage:     "rewrite files in canonical form",
				ArgsUsage: "<file>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "check",
						Usage: "report files that would change and exit non-zero, without writing",
					},
					&cli.BoolFlag{
						Name:  "diff",
						Usage: "print the changes instead of writing them",
					},
					&cli.IntFlag{
						Name:    "parallelism",
						Aliases: []string{"j"},
						Usage:   "max concurrent files (0 = unlimited)",
						Value:   0,
					},
				},
				Action: a.fmtAction,
			},
			{
				Name:      "apply",
				Usage:     "run a KDL edit script against a file",
				ArgsUsage: "<file> <script.kdl>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "print the resulting changes without writing",
					},
				},
				Action: a.applyAction,
			},
			{
				Name:      "export",
				Usage:     "render a file as JSON or YAML",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "to",
						Usage: "output format (json, yaml)",
						Value: export.FormatJSON,
					},
					&cli.BoolFlag{
						Name:  "comments",
						Usage: "carry comments into YAML output",
					},
				},
				Action: a.exportAction,
			},
			{
				Name:      "stats",
				Usage:     "summarize the structure of files",
				ArgsUsage: "<file>...",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "parallelism",
						Aliases: []string{"j"},
						Usage:   "max concurrent files (0 = unlimited)",
						Value:   0,
					},
				},
				Action: a.statsAction,
			},
			{
				Name:      "view",
				Usage:     "browse a file interactively",
				ArgsUsage: "<file>",
				Action:    a.viewAction,
			},
		},
	}
}

// before resolves global flags into the logger and storage every command uses.
func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	a.format = logging.ResolveFormat(cmd.String("format"), a.isTTY)
	level, err := logging.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return ctx, fmt.Errorf("invalid log level: %w", err)
	}
	logger, err := logging.NewLogger(a.stderr, a.format, level)
	if err != nil {
		return ctx, fmt.Errorf("initializing logger: %w", err)
	}
	slog.SetDefault(logger)

	enc, err := charset.Lookup(cmd.String("encoding"))
	if err != nil {
		return ctx, err
	}
	a.storage = charset.Wrap(ini.FileStorage{}, enc)
	return slogctx.ContextWithLogger(ctx, logger), nil
}

// load reads path into a new document, or stdin when path is "-".
func (a *app) load(ctx context.Context, path string) (*ini.Document, error) {
	d := &ini.Document{Storage: a.storage}
	if path == _stdio {
		if err := d.Decode(ctx, a.stdin); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return d, nil
	}
	if err := d.Load(ctx, path); err != nil {
		return nil, err
	}
	return d, nil
}

// save writes a modified document back to where it came from. A document read
// from stdin is always written to stdout.
func (a *app) save(ctx context.Context, path string, d *ini.Document) error {
	if path == _stdio {
		return d.Encode(a.stdout)
	}
	if !d.Dirty() {
		slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "document unchanged", slog.String("path", path))
		return nil
	}
	return d.Flush(ctx, path)
}

// readRaw returns the decoded text of path, or of stdin for "-".
func (a *app) readRaw(path string) ([]byte, error) {
	if path == _stdio {
		return io.ReadAll(a.stdin)
	}
	rc, err := a.storage.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// args returns the positional arguments when their count lies in [lo, hi].
func args(cmd *cli.Command, lo, hi int) ([]string, error) {
	got := cmd.Args().Slice()
	if len(got) < lo || len(got) > hi {
		return nil, fmt.Errorf("usage: inidoc %s %s", cmd.Name, cmd.ArgsUsage)
	}
	return got, nil
}

func (a *app) getAction(ctx context.Context, cmd *cli.Command) error {
	av, err := args(cmd, 3, 3)
	if err != nil {
		return err
	}
	d, err := a.load(ctx, av[0])
	if err != nil {
		return err
	}

	var (
		k  ini.Key
		ok bool
	)
	if s, found := d.Lookup(av[1]); found {
		k, ok = s.Lookup(av[2])
	}
	switch {
	case ok && cmd.IsSet("default"):
		_, _ = fmt.Fprintln(a.stdout, ini.GetOr(k, cmd.String("default")))
	case ok:
		_, _ = fmt.Fprintln(a.stdout, k.String())
	case cmd.IsSet("default"):
		_, _ = fmt.Fprintln(a.stdout, cmd.String("default"))
	default:
		return fmt.Errorf("%s: [%s] %s: %w", av[0], av[1], av[2], ini.ErrKeyNotFound)
	}
	return nil
}

func (a *app) setAction(ctx context.Context, cmd *cli.Command) error {
	av, err := args(cmd, 4, 4)
	if err != nil {
		return err
	}
	d, err := a.load(ctx, av[0])
	if err != nil {
		return err
	}
	k, err := sectionKey(d, av[1], av[2])
	if err != nil {
		return fmt.Errorf("%s: %w", av[0], err)
	}
	k.SetString(av[3])
	return a.save(ctx, av[0], d)
}

func (a *app) ensureAction(ctx context.Context, cmd *cli.Command) error {
	av, err := args(cmd, 4, 4)
	if err != nil {
		return err
	}
	d, err := a.load(ctx, av[0])
	if err != nil {
		return err
	}
	k, err := sectionKey(d, av[1], av[2])
	if err != nil {
		return fmt.Errorf("%s: %w", av[0], err)
	}
	v := ini.Ensure(k, av[3])
	if err := a.save(ctx, av[0], d); err != nil {
		return err
	}
	if av[0] != _stdio {
		_, _ = fmt.Fprintln(a.stdout, v)
	}
	return nil
}

func sectionKey(d *ini.Document, section, key string) (ini.Key, error) {
	s, err := d.Section(section)
	if err != nil {
		return ini.Key{}, err
	}
	return s.Key(key)
}

func (a *app) delAction(ctx context.Context, cmd *cli.Command) error {
	av, err := args(cmd, 2, 3)
	if err != nil {
		return err
	}
	d, err := a.load(ctx, av[0])
	if err != nil {
		return err
	}

	if len(av) == 2 {
		err = d.RemoveSection(av[1])
	} else {
		err = withSection(d, av[1], func(s *ini.Section) error { return s.RemoveKey(av[2]) })
	}
	if err != nil {
		return fmt.Errorf("%s: %w", av[0], err)
	}
	return a.save(ctx, av[0], d)
}

func (a *app) renameAction(ctx context.Context, cmd *cli.Command) error {
	av, err := args(cmd, 3, 4)
	if err != nil {
		return err
	}
	d, err := a.load(ctx, av[0])
	if err != nil {
		return err
	}

	if len(av) == 3 {
		err = d.RenameSection(av[1], av[2])
	} else {
		err = withSection(d, av[1], func(s *ini.Section) error { return s.RenameKey(av[2], av[3]) })
	}
	if err != nil {
		return fmt.Errorf("%s: %w", av[0], err)
	}
	return a.save(ctx, av[0], d)
}

func withSection(d *ini.Document, name string, fn func(*ini.Section) error) error {
	s, ok := d.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ini.ErrSectionNotFound, name)
	}
	return fn(s)
}

func (a *app) listAction(ctx context.Context, cmd *cli.Command) error {
	av, err := args(cmd, 1, 2)
	if err != nil {
		return err
	}
	d, err := a.load(ctx, av[0])
	if err != nil {
		return err
	}

	if len(av) == 1 {
		for s := range d.Sections() {
			if s.Name() != "" {
				_, _ = fmt.Fprintln(a.stdout, s.Name())
			}
		}
		return nil
	}
	return withSection(d, av[1], func(s *ini.Section) error {
		for k := range s.Keys() {
			_, _ = fmt.Fprintf(a.stdout, "%s=%s\n", k.Name(), k.String())
		}
		return nil
	})
}

// fmtResult is the outcome of formatting one file.
type fmtResult struct {
	path          string
	raw, text     []byte
	before, after digest.Digest
}

func (r fmtResult) changed() bool { return r.before != r.after }

func (a *app) fmtAction(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("usage: inidoc %s %s", cmd.Name, cmd.ArgsUsage)
	}
	parallelism := int(cmd.Int("parallelism"))
	if parallelism < 0 {
		return fmt.Errorf("invalid value %d for flag --parallelism: must be >= 0", parallelism)
	}
	check, diff := cmd.Bool("check"), cmd.Bool("diff")

	results := make([]fmtResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, path := range paths {
		g.Go(func() error {
			r, err := a.format1(gctx, path)
			if err != nil {
				return err
			}
			results[i] = r
			if check || diff || !r.changed() {
				return nil
			}
			return a.writeFormatted(gctx, r)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	pending := 0
	printer := textdiff.Printer{Context: 3, Color: a.isTTY}
	for _, r := range results {
		if !r.changed() {
			continue
		}
		pending++
		switch {
		case diff:
			if _, err := printer.Print(a.stdout, r.path, r.path+" (formatted)", string(r.raw), string(r.text)); err != nil {
				return err
			}
		case check:
			_, _ = fmt.Fprintln(a.stdout, r.path)
		default:
			slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelInfo, "formatted", slog.String("path", r.path))
		}
	}
	if check && pending > 0 {
		return fmt.Errorf("%d of %d: %w", pending, len(paths), errWouldReformat)
	}
	return nil
}

// format1 renders one file in canonical form without writing it.
func (a *app) format1(ctx context.Context, path string) (fmtResult, error) {
	ctx = slogctx.With(ctx, slog.String("path", path))
	raw, err := a.readRaw(path)
	if err != nil {
		return fmtResult{}, fmt.Errorf("reading %s: %w", path, err)
	}
	d := &ini.Document{}
	if err := d.Decode(ctx, bytes.NewReader(raw)); err != nil {
		return fmtResult{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	var out bytes.Buffer
	if err := d.Encode(&out); err != nil {
		return fmtResult{}, err
	}
	r := fmtResult{
		path:   path,
		raw:    raw,
		text:   out.Bytes(),
		before: digest.FromBytes(raw),
		after:  digest.FromBytes(out.Bytes()),
	}
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "rendered canonical form",
		slog.String("before", r.before.Encoded()[:12]),
		slog.String("after", r.after.Encoded()[:12]),
	)
	return r, nil
}

func (a *app) writeFormatted(ctx context.Context, r fmtResult) error {
	if r.path == _stdio {
		_, err := a.stdout.Write(r.text)
		return err
	}
	d := &ini.Document{Storage: a.storage}
	if err := d.Decode(ctx, bytes.NewReader(r.text)); err != nil {
		return err
	}
	return d.Flush(ctx, r.path)
}

func (a *app) applyAction(ctx context.Context, cmd *cli.Command) error {
	av, err := args(cmd, 2, 2)
	if err != nil {
		return err
	}
	s, err := a.scripts.ParseFile(av[1])
	if err != nil {
		return fmt.Errorf("parsing %s: %w", av[1], err)
	}
	d, err := a.load(ctx, av[0])
	if err != nil {
		return err
	}

	before := d.String()
	ctx = slogctx.With(ctx, slog.String("path", av[0]), slog.String("script", s.Name))
	if err := script.Apply(ctx, d, s); err != nil {
		return err
	}

	if cmd.Bool("dry-run") {
		printer := textdiff.Printer{Context: 3, Color: a.isTTY}
		_, err := printer.Print(a.stdout, av[0], av[0]+" (edited)", before, d.String())
		return err
	}
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "applied script",
		slog.Int("ops", len(s.Ops)),
		slog.Bool("changed", d.Dirty()),
	)
	return a.save(ctx, av[0], d)
}

func (a *app) exportAction(ctx context.Context, cmd *cli.Command) error {
	av, err := args(cmd, 1, 1)
	if err != nil {
		return err
	}
	d, err := a.load(ctx, av[0])
	if err != nil {
		return err
	}
	return export.Write(a.stdout, d, cmd.String("to"), export.Options{Comments: cmd.Bool("comments")})
}

func (a *app) statsAction(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("usage: inidoc %s %s", cmd.Name, cmd.ArgsUsage)
	}
	parallelism := int(cmd.Int("parallelism"))
	if parallelism < 0 {
		return fmt.Errorf("invalid value %d for flag --parallelism: must be >= 0", parallelism)
	}

	// Reports are slotted by argument index so output follows argument order.
	reports := make([]stats.FileReport, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, path := range paths {
		g.Go(func() error {
			raw, err := a.readRaw(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			d := &ini.Document{}
			if err := d.Decode(slogctx.With(gctx, slog.String("path", path)), bytes.NewReader(raw)); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
			reports[i] = stats.Analyze(path, raw, d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c := stats.NewCollector()
	for _, r := range reports {
		c.Observe(r)
	}
	stats.PrintReport(a.stdout, c.Report())
	return nil
}

func (a *app) viewAction(ctx context.Context, cmd *cli.Command) error {
	av, err := args(cmd, 1, 1)
	if err != nil {
		return err
	}
	d, err := a.load(ctx, av[0])
	if err != nil {
		return err
	}
	return a.browse(ctx, av[0], d)
}
