package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/ruslano69/fluidsql/pkg/dataservice"
	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
	"github.com/ruslano69/fluidsql/pkg/fluid"
	"github.com/ruslano69/fluidsql/pkg/security"
)

func newDialectsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List registered dialects",
		Args:  cobra.NoArgs,
		RunE: c.runE(func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDRIVER\tPREFIX\tDEFAULT TYPE")
			for _, name := range dialect.Names() {
				d := dialect.MustLookup(name)
				hint := "-"
				if h, ok := dialect.DefaultHint(d); ok {
					hint = h.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name(), d.DriverName(), d.ParameterPrefix(), hint)
			}
			return w.Flush()
		}),
	}
}

func newPingCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a connection can be opened",
		Args:  cobra.NoArgs,
		RunE: c.runE(func(cmd *cobra.Command, args []string) error {
			if err := c.requireConnection(); err != nil {
				return err
			}
			if err := c.svc.Ping(cmd.Context()); err != nil {
				return err
			}
			d := c.svc.Dialect()
			printOK(cmd.OutOrStdout(), "%s %s", d.Name(), d.Describe(c.svc.ConnectionString()))
			return nil
		}),
	}
}

func newDescribeCmd(c *cli) *cobra.Command {
	var (
		keys     []string
		identity string
		showSQL  bool
	)
	cmd := &cobra.Command{
		Use:   "describe <table>",
		Short: "Show table columns and the generated commands",
		Args:  cobra.ExactArgs(1),
		RunE: c.runE(func(cmd *cobra.Command, args []string) error {
			if err := c.requireConnection(); err != nil {
				return err
			}
			tbl, err := c.svc.CreateTable(cmd.Context(), dataset.New("describe"), args[0])
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				if err := tbl.SetPrimaryKey(keys...); err != nil {
					return err
				}
			}
			if identity != "" {
				col, ok := tbl.Column(identity)
				if !ok {
					return fmt.Errorf("identity column %q not found in %s", identity, tbl.Name)
				}
				col.AutoIncrement = true
			}

			out := cmd.OutOrStdout()
			if err := writeColumns(out, tbl); err != nil {
				return err
			}
			if !showSQL {
				return nil
			}
			a := fluid.New(c.svc.Dialect()).CreateUpdate(tbl)
			if err := a.Err(); err != nil {
				return err
			}
			writeCommands(out, a)
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&keys, "key", nil, "primary key columns")
	cmd.Flags().StringVar(&identity, "identity", "", "auto-increment column")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "print SELECT/INSERT/UPDATE/DELETE")
	return cmd
}

func writeColumns(out io.Writer, tbl *dataset.Table) error {
	keys := make(map[string]bool)
	for _, k := range tbl.PrimaryKey() {
		keys[k.Name] = true
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tKIND\tNULL\tKEY")
	for _, col := range tbl.Columns() {
		var flags []string
		if keys[col.Name] {
			flags = append(flags, "PK")
		}
		if col.AutoIncrement {
			flags = append(flags, "IDENTITY")
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", col.Name, col.Kind, col.AllowNull, strings.Join(flags, ","))
	}
	return w.Flush()
}

func writeCommands(out io.Writer, a *fluid.Adapter) {
	for _, cmd := range []struct {
		name string
		c    *fluid.Command
	}{
		{"SELECT", a.Select},
		{"INSERT", a.Insert},
		{"UPDATE", a.Update},
		{"DELETE", a.Delete},
	} {
		fmt.Fprintf(out, "\n-- %s\n", cmd.name)
		if cmd.c == nil {
			printWarn(out, "not generated")
			continue
		}
		fmt.Fprintln(out, cmd.c.FullText())
	}
}

func newQueryCmd(c *cli) *cobra.Command {
	var (
		where   []string
		columns []string
		text    string
		expect  int
	)
	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Select rows, --where name=value or name:kind=value",
		Long: "Select rows of a table. With --sql the text is used as is (SELECT or WITH only),\n" +
			"the table argument names the result and --where values become its parameters.",
		Args: cobra.ExactArgs(1),
		RunE: c.runE(func(cmd *cobra.Command, args []string) error {
			if err := c.requireConnection(); err != nil {
				return err
			}
			var sel *fluid.Selector
			if text != "" {
				if len(columns) > 0 {
					return fmt.Errorf("--columns cannot be combined with --sql")
				}
				if err := security.NewStatementGuard(security.ReadOnly).Check(text); err != nil {
					return err
				}
				sel = fluid.NewSelector(fluid.New(c.svc.Dialect()).CreateSelectText(text, args[0]))
			} else {
				sel = fluid.NewTableSelector(c.svc.Dialect(), args[0], columns...)
			}
			for _, w := range where {
				a, err := parseAssignment(w)
				if err != nil {
					return err
				}
				var opts []fluid.ConditionOption
				if a.typed {
					opts = append(opts, fluid.OfKind(a.kind))
				}
				if text != "" {
					opts = append(opts, fluid.NoInject())
				}
				sel.SetParameter(a.name, a.value, opts...)
			}
			if err := sel.Err(); err != nil {
				return err
			}

			ds := dataset.New("query")
			cfg := sel.Configuration(ds)
			if expect >= 0 {
				fluid.WithExpectedRows(expect)(cfg)
			}
			if err := c.svc.Perform1(cmd.Context(), cfg); err != nil {
				return err
			}
			tbl, ok := ds.Table(cfg.TableName)
			if !ok {
				return fmt.Errorf("%w: %s", dataservice.ErrTableNotFound, cfg.TableName)
			}
			return writeRows(cmd.OutOrStdout(), tbl)
		}),
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "condition name=value, repeatable")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "columns to select (default all)")
	cmd.Flags().StringVar(&text, "sql", "", "select text instead of the table")
	cmd.Flags().IntVar(&expect, "expect", -1, "expected row count")
	return cmd
}

func writeRows(out io.Writer, tbl *dataset.Table) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	names := make([]string, 0, len(tbl.Columns()))
	for _, col := range tbl.Columns() {
		names = append(names, col.Name)
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, r := range tbl.Rows() {
		cells := make([]string, 0, len(names))
		for _, name := range names {
			if r.IsNull(name) {
				cells = append(cells, "NULL")
				continue
			}
			cells = append(cells, cast.ToString(r.Get(name)))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "(%d rows)\n", tbl.Len())
	return nil
}

func newExecCmd(c *cli) *cobra.Command {
	var (
		params   []string
		rollback bool
		unsafe   bool
		expect   int
	)
	cmd := &cobra.Command{
		Use:   "exec <sql>",
		Short: "Execute a command without a result set",
		Long: "Execute one INSERT, UPDATE, DELETE or MERGE inside a transaction. Parameters are\n" +
			"passed as --param name=value or --param name:kind=value, the name with the dialect\n" +
			"prefix. DDL, comments and several statements need --unsafe.",
		Args: cobra.ExactArgs(1),
		RunE: c.runE(func(cmd *cobra.Command, args []string) error {
			if err := c.requireConnection(); err != nil {
				return err
			}
			policy := security.SingleWrite
			if unsafe {
				policy = security.Unrestricted
			}
			if err := security.NewStatementGuard(policy).Check(args[0]); err != nil {
				return err
			}
			a := fluid.New(c.svc.Dialect()).CreateExecute(args[0])
			var infos []fluid.ParameterInfo
			for _, p := range params {
				pa, err := parseAssignment(p)
				if err != nil {
					return err
				}
				a.SetParameter(pa.name, pa.kind)
				infos = append(infos, fluid.NewParameterInfo(pa.name, pa.value))
			}
			if err := a.Err(); err != nil {
				return err
			}

			opts := []fluid.ConfigOption{fluid.WithParameters(infos...)}
			if expect >= 0 {
				opts = append(opts, fluid.WithExpectedRows(expect))
			}
			cfg := fluid.NewAdapterConfiguration(nil, "", a, fluid.ActionExecute, opts...)

			err := c.svc.MultiplePerform(cmd.Context(), func(ctx context.Context, s *dataservice.Service) (bool, error) {
				if err := s.Perform1(ctx, cfg); err != nil {
					return false, err
				}
				if rollback {
					return true, s.ForceRollback()
				}
				return true, nil
			})
			if err != nil {
				return err
			}
			if rollback {
				printWarn(cmd.OutOrStdout(), "rolled back")
				return nil
			}
			printOK(cmd.OutOrStdout(), "committed")
			return nil
		}),
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter name=value, repeatable")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back after execution")
	cmd.Flags().BoolVar(&unsafe, "unsafe", false, "skip the statement check")
	cmd.Flags().IntVar(&expect, "expect", -1, "expected affected row count")
	return cmd
}

type assignment struct {
	name  string
	kind  dataset.Kind
	typed bool
	value any
}

// parseAssignment разбирает "name=value" и "name:kind=value".
// Без вида значение остается строкой, "NULL" с видом дает nil.
func parseAssignment(s string) (assignment, error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return assignment{}, fmt.Errorf("expected name=value, got %q", s)
	}
	a := assignment{name: strings.TrimSpace(key), kind: dataset.KindString, value: raw}
	if name, kind, typed := strings.Cut(a.name, ":"); typed {
		k, err := dataset.ParseKind(kind)
		if err != nil {
			return assignment{}, fmt.Errorf("%s: %w", s, err)
		}
		a.name, a.kind, a.typed = name, k, true
		if raw == "NULL" {
			a.value = nil
			return a, nil
		}
		v, err := dataset.Coerce(k, raw)
		if err != nil {
			return assignment{}, fmt.Errorf("%s: %w", s, err)
		}
		a.value = v
	}
	return a, nil
}
