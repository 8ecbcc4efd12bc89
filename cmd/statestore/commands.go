package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/invopop/jsonschema"
	"github.com/maruel/ksid"
	"gopkg.in/yaml.v3"

	"github.com/maruel/statestore/internal/bus"
	"github.com/maruel/statestore/internal/config"
	apierrors "github.com/maruel/statestore/internal/errors"
	"github.com/maruel/statestore/internal/medium"
	"github.com/maruel/statestore/internal/store"
)

type command struct {
	name  string
	usage string
	help  string
	debug bool
	run   func(ctx context.Context, a *app, args []string) error
}

var commands []*command

func init() {
	commands = []*command{
		{name: "get", usage: "get [-format json|yaml] <ns> [path]", help: "Print a value", run: cmdGet},
		{name: "set", usage: "set <ns> <path> <json>", help: "Store a JSON value", run: cmdSet},
		{name: "delete", usage: "delete <ns> [path]", help: "Remove a value or a whole namespace", run: cmdDelete},
		{name: "watch", usage: "watch [-if expr] <ns> [path]", help: "Print a JSON merge patch per change", run: cmdWatch},
		{name: "stats", usage: "stats", help: "Print store internals (requires -debug)", debug: true, run: cmdStats},
		{name: "schema", usage: "schema", help: "Print the JSON Schema of replication messages", run: cmdSchema},
	}
}

func lookup(name string) *command {
	for _, c := range commands {
		if c.name == name {
			return c
		}
	}
	return nil
}

// app holds what the commands share. The store is opened on first use.
type app struct {
	dataDir string
	cfg     *config.Config
	out     io.Writer

	dir   *medium.Dir
	spool *bus.Spool
	rt    *store.Runtime
}

func (a *app) runtime(ctx context.Context) (*store.Runtime, error) {
	if a.rt != nil {
		return a.rt, nil
	}
	d, err := medium.NewDir(filepath.Join(a.dataDir, "store"), a.cfg.StoragePrefix)
	if err != nil {
		return nil, err
	}
	origin := ksid.NewID()
	opts := []store.Option{store.WithMedium(d), store.WithOrigin(origin)}
	if a.cfg.Spool.Enabled {
		sp, err := bus.NewSpool(ctx, filepath.Join(a.dataDir, "spool"), origin, a.cfg.Spool.TTL)
		if err != nil {
			return nil, err
		}
		a.spool = sp
		opts = append(opts, store.WithBus(sp))
	}
	a.dir = d
	a.rt = store.New(opts...)
	return a.rt, nil
}

// namespace binds ns with its configured defaults.
func (a *app) namespace(ctx context.Context, ns string) (*store.Namespace, error) {
	if ns == "" {
		return nil, errors.New("namespace is required")
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return nil, err
	}
	return rt.Namespace(ns, a.cfg.Defaults[ns])
}

func (a *app) close() {
	if a.rt != nil {
		_ = a.rt.Close()
	}
	if a.spool != nil {
		_ = a.spool.Close()
	}
}

// splitArgs extracts the namespace and optional path. "." is the root.
func splitArgs(args []string, extra int) (ns, path string, rest []string, err error) {
	if len(args) < 1 || len(args) > 2+extra {
		return "", "", nil, fmt.Errorf("unexpected arguments: %q", args)
	}
	ns = args[0]
	if len(args) > 1 {
		path = args[1]
	}
	if path == "." {
		path = ""
	}
	return ns, path, args[min(len(args), 2):], nil
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	format := fs.String("format", "json", "Output format (json, yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ns, path, _, err := splitArgs(fs.Args(), 0)
	if err != nil {
		return err
	}
	n, err := a.namespace(ctx, ns)
	if err != nil {
		return err
	}
	v, ok := n.Get(path)
	if !ok {
		return fmt.Errorf("%s: not found", key(ns, path))
	}
	return a.print(*format, v)
}

func cmdSet(ctx context.Context, a *app, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: set <ns> <path> <json>")
	}
	ns, path, rest, err := splitArgs(args, 1)
	if err != nil {
		return err
	}
	v, err := parseValue(rest[0])
	if err != nil {
		return err
	}
	n, err := a.namespace(ctx, ns)
	if err != nil {
		return err
	}
	if err := n.Set(path, v); err != nil {
		if errors.Is(err, apierrors.InvalidValue) {
			return fmt.Errorf("%s: value rejected: %w", key(ns, path), err)
		}
		return err
	}
	return nil
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	ns, path, _, err := splitArgs(args, 0)
	if err != nil {
		return err
	}
	n, err := a.namespace(ctx, ns)
	if err != nil {
		return err
	}
	n.Delete(path)
	return nil
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	cond := fs.String("if", "", "Only print changes for which this expression is true; value and present are bound")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ns, path, _, err := splitArgs(fs.Args(), 0)
	if err != nil {
		return err
	}
	f, err := compileFilter(*cond)
	if err != nil {
		return err
	}
	n, err := a.namespace(ctx, ns)
	if err != nil {
		return err
	}
	var prev *store.Snapshot
	for s := range n.Watch(ctx, path) {
		keep, err := f.match(s)
		if err != nil {
			slog.WarnContext(ctx, "Filter failed", "err", err)
			continue
		}
		if !keep {
			continue
		}
		line, err := patchLine(prev, s)
		if err != nil {
			return err
		}
		prev = &s
		if line == nil {
			continue
		}
		if _, err := fmt.Fprintf(a.out, "%s\n", line); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func cmdStats(ctx context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	names, err := a.dir.Namespaces()
	if err != nil {
		return err
	}
	for _, ns := range names {
		rt.Has(ns)
	}
	return a.print("yaml", rt.Stats())
}

func cmdSchema(_ context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}
	return a.print("json", messageSchema())
}

func messageSchema() *jsonschema.Schema {
	idType := reflect.TypeFor[ksid.ID]()
	r := jsonschema.Reflector{
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == idType {
				return &jsonschema.Schema{Type: "string"}
			}
			return nil
		},
	}
	return r.Reflect(&bus.Message{})
}

func (a *app) print(format string, v any) error {
	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(v)
	default:
		return fmt.Errorf("unknown format: %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	_, err = a.out.Write(data)
	return err
}

func key(ns, path string) string {
	if path == "" {
		return ns
	}
	return ns + "." + path
}

// parseValue decodes a JSON command line argument.
func parseValue(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid JSON value %q: %w", s, err)
	}
	return v, nil
}

// filter is a compiled -if expression. The zero value keeps everything.
type filter struct {
	prg *vm.Program
}

func compileFilter(code string) (filter, error) {
	if code == "" {
		return filter{}, nil
	}
	prg, err := expr.Compile(code, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return filter{}, fmt.Errorf("failed to compile -if: %w", err)
	}
	return filter{prg: prg}, nil
}

func (f filter) match(s store.Snapshot) (bool, error) {
	if f.prg == nil {
		return true, nil
	}
	out, err := expr.Run(f.prg, map[string]any{"value": s.Value, "present": s.Present})
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

// patchLine returns the JSON merge patch turning prev into s. The value is
// wrapped as {"value": ...} so scalars and absence have a representation.
// The first snapshot is printed whole. A nil line means nothing changed.
func patchLine(prev *store.Snapshot, s store.Snapshot) ([]byte, error) {
	after, err := json.Marshal(wrap(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	if prev == nil {
		return after, nil
	}
	before, err := json.Marshal(wrap(*prev))
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	patch, err := jsonpatch.CreateMergePatch(before, after)
	if err != nil {
		return nil, fmt.Errorf("failed to create patch: %w", err)
	}
	if string(patch) == "{}" {
		return nil, nil
	}
	return patch, nil
}

func wrap(s store.Snapshot) map[string]any {
	if !s.Present {
		return map[string]any{}
	}
	return map[string]any{"value": s.Value}
}
