// Package expr implements the small arithmetic language used by calculation
// series: numbers, variables, + - * / % ^, parentheses, and calls to a fixed
// allowlist of math functions. There is no other capability; an expression
// can only read the numbers it is given in its scope.
package expr

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/derickschaefer/kwchart/internal/model"
)

var (
	ErrSyntax          = errors.New("syntax error")
	ErrUnknownFunction = errors.New("unknown function")
	ErrUnbound         = errors.New("unbound variable")
)

// Program is a compiled expression.
type Program struct {
	src  string
	root node
	refs []token
	vars []string
}

// Compile parses src.
func Compile(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	names := lo.Map(p.refs, func(t token, _ int) string { return t.text })
	return &Program{src: src, root: root, refs: p.refs, vars: lo.Uniq(names)}, nil
}

// Source returns the expression text.
func (p *Program) Source() string { return p.src }

// Vars returns the distinct variable names in first-occurrence order.
func (p *Program) Vars() []string {
	out := make([]string, len(p.vars))
	copy(out, p.vars)
	return out
}

// Eval evaluates the program. A variable missing from scope is an error.
func (p *Program) Eval(scope map[string]float64) (float64, error) {
	return p.root.eval(scope)
}

// EvalScope evaluates with null propagation: when any referenced variable is
// absent or NaN the result is NaN and the expression is not evaluated.
// Non-finite arithmetic results (division by zero, log of a negative) are
// reported as NaN too.
func (p *Program) EvalScope(scope map[string]float64) float64 {
	for _, name := range p.vars {
		v, ok := scope[name]
		if !ok || math.IsNaN(v) {
			return math.NaN()
		}
	}
	v, err := p.root.eval(scope)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// Annotate rewrites every occurrence of the i-th variable v to v_aggs[i],
// keeping all other text unchanged.
func (p *Program) Annotate(aggs []string) (string, error) {
	if len(aggs) < len(p.vars) {
		return "", fmt.Errorf("annotate %q: %d variable(s) but %d aggregation(s)", p.src, len(p.vars), len(aggs))
	}
	index := make(map[string]int, len(p.vars))
	for i, v := range p.vars {
		index[v] = i
	}
	var sb strings.Builder
	last := 0
	for _, ref := range p.refs {
		sb.WriteString(p.src[last:ref.start])
		sb.WriteString(model.CacheKey(ref.text, aggs[index[ref.text]]))
		last = ref.end
	}
	sb.WriteString(p.src[last:])
	return sb.String(), nil
}

// ─── Package-level helpers ────────────────────────────────────────────────────

// ExtractVariableNames returns the distinct variables referenced by src in
// first-occurrence order. Function names and constants are never included.
func ExtractVariableNames(src string) ([]string, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return p.Vars(), nil
}

// IsValid reports whether src compiles. Nothing is evaluated.
func IsValid(src string) bool {
	_, err := Compile(src)
	return err == nil
}

// Annotate compiles src and rewrites its variables with their aggregations.
func Annotate(src string, aggs []string) (string, error) {
	p, err := Compile(src)
	if err != nil {
		return "", err
	}
	return p.Annotate(aggs)
}

// Evaluate compiles and evaluates src against scope.
func Evaluate(src string, scope map[string]float64) (float64, error) {
	p, err := Compile(src)
	if err != nil {
		return 0, err
	}
	return p.Eval(scope)
}

// BuildScope returns, for output index i, the value of every
// "{name}_{agg}" series at that index. seriesByKey is keyed the same way.
// A series that is absent or too short contributes NaN.
func BuildScope(i int, names, aggs []string, seriesByKey map[string][]model.Point) map[string]float64 {
	scope := make(map[string]float64, len(names))
	for j, name := range names {
		agg := ""
		if j < len(aggs) {
			agg = aggs[j]
		}
		key := model.CacheKey(name, agg)
		pts := seriesByKey[key]
		if i < 0 || i >= len(pts) {
			scope[key] = math.NaN()
			continue
		}
		scope[key] = pts[i].V
	}
	return scope
}
