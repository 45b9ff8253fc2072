package cmd

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/derickschaefer/kwchart/internal/expr"
	"github.com/derickschaefer/kwchart/internal/util"
	"github.com/spf13/cobra"
)

var exprCmd = &cobra.Command{
	Use:   "expr",
	Short: "Inspect and evaluate calculation expressions",
	Long: `Tools for the arithmetic expressions used by calculation series.

Expressions use + - * / % ^, parentheses, numeric literals, the constants
pi and e, and an allowlist of functions (see 'kwchart expr check --functions').`,
}

// ─── expr vars ────────────────────────────────────────────────────────────────

var exprVarsCmd = &cobra.Command{
	Use:     "vars <expression>",
	Short:   "List the distinct variables of an expression in first-occurrence order",
	Example: `  kwchart expr vars "grid_import - pv_power"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := expr.ExtractVariableNames(args[0])
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

// ─── expr check ───────────────────────────────────────────────────────────────

var exprCheckFunctions bool

var exprCheckCmd = &cobra.Command{
	Use:   "check [expression...]",
	Short: "Check expression syntax; exits non-zero if any is invalid",
	Example: `  kwchart expr check "a - b" "max(a, 2"
  kwchart expr check --functions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if exprCheckFunctions {
			fmt.Fprintln(out, strings.Join(expr.Functions(), " "))
			if len(args) == 0 {
				return nil
			}
		}
		if len(args) == 0 {
			return fmt.Errorf("no expression given")
		}
		var errs util.MultiError
		for _, src := range args {
			if _, err := expr.Compile(src); err != nil {
				fmt.Fprintf(out, "✗ %s: %v\n", src, err)
				errs.Add(fmt.Errorf("%q: %w", src, err))
				continue
			}
			fmt.Fprintf(out, "✓ %s\n", src)
		}
		return errs.Err()
	},
}

// ─── expr annotate ────────────────────────────────────────────────────────────

var exprAnnotateAggs string

var exprAnnotateCmd = &cobra.Command{
	Use:   "annotate <expression>",
	Short: "Rename each variable to <variable>_<aggregation>",
	Long: `Annotate pairs the expression's variables, in first-occurrence order, with
the comma-separated aggregations and rewrites every occurrence.`,
	Example: `  kwchart expr annotate "a - b" --aggs sum,avg    # a_sum - b_avg`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		aggs := splitList(exprAnnotateAggs)
		out, err := expr.Annotate(args[0], aggs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

// ─── expr eval ────────────────────────────────────────────────────────────────

var exprEvalVars []string

var exprEvalCmd = &cobra.Command{
	Use:   "eval <expression>",
	Short: "Evaluate an expression against name=value bindings",
	Long: `Evaluate binds each --var name=value and evaluates the expression. Use
"null" as a value to see how missing inputs propagate.`,
	Example: `  kwchart expr eval "(pv - load) / 1000" --var pv=5000 --var load=3000
  kwchart expr eval "a * 0 + 1" --var a=null`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := parseBindings(exprEvalVars)
		if err != nil {
			return err
		}
		prog, err := expr.Compile(args[0])
		if err != nil {
			return err
		}
		for _, v := range prog.Vars() {
			if _, ok := scope[v]; !ok {
				return fmt.Errorf("variable %q: %w", v, expr.ErrUnbound)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), util.FormatValue(prog.EvalScope(scope)))
		return nil
	},
}

// parseBindings parses name=value pairs. "null" binds a missing value.
func parseBindings(pairs []string) (map[string]float64, error) {
	scope := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid binding %q: expected name=value", p)
		}
		raw = strings.TrimSpace(raw)
		if strings.EqualFold(raw, "null") {
			scope[strings.TrimSpace(name)] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid binding %q: %w", p, err)
		}
		scope[strings.TrimSpace(name)] = v
	}
	return scope, nil
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(exprCmd)
	exprCmd.AddCommand(exprVarsCmd, exprCheckCmd, exprAnnotateCmd, exprEvalCmd)

	exprCheckCmd.Flags().BoolVar(&exprCheckFunctions, "functions", false, "list the allowed functions")
	exprAnnotateCmd.Flags().StringVar(&exprAnnotateAggs, "aggs", "", "comma-separated aggregations, one per variable")
	exprEvalCmd.Flags().StringArrayVar(&exprEvalVars, "var", nil, "variable binding name=value (repeatable)")
}
