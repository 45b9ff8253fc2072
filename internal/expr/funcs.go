package expr

import (
	"math"
	"sort"
)

// function is one entry of the allowlist. maxArgs < 0 means variadic.
type function struct {
	minArgs int
	maxArgs int
	call    func(args []float64) float64
}

func unary(f func(float64) float64) function {
	return function{minArgs: 1, maxArgs: 1, call: func(a []float64) float64 { return f(a[0]) }}
}

func binary(f func(float64, float64) float64) function {
	return function{minArgs: 2, maxArgs: 2, call: func(a []float64) float64 { return f(a[0], a[1]) }}
}

// functions is the complete set of callable names. Nothing outside this
// table can be reached from an expression.
var functions = map[string]function{
	"abs":   unary(math.Abs),
	"ceil":  unary(math.Ceil),
	"floor": unary(math.Floor),
	"trunc": unary(math.Trunc),
	"sqrt":  unary(math.Sqrt),
	"cbrt":  unary(math.Cbrt),
	"exp":   unary(math.Exp),
	"log2":  unary(math.Log2),
	"log10": unary(math.Log10),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"asin":  unary(math.Asin),
	"acos":  unary(math.Acos),
	"atan":  unary(math.Atan),
	"sinh":  unary(math.Sinh),
	"cosh":  unary(math.Cosh),
	"tanh":  unary(math.Tanh),
	"sign": unary(func(x float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return x
	}),
	"pow":   binary(math.Pow),
	"mod":   binary(math.Mod),
	"hypot": binary(math.Hypot),
	"atan2": binary(math.Atan2),
	"round": {minArgs: 1, maxArgs: 2, call: func(a []float64) float64 {
		if len(a) == 1 {
			return math.Round(a[0])
		}
		p := math.Pow(10, math.Trunc(a[1]))
		return math.Round(a[0]*p) / p
	}},
	"log": {minArgs: 1, maxArgs: 2, call: func(a []float64) float64 {
		if len(a) == 1 {
			return math.Log(a[0])
		}
		return math.Log(a[0]) / math.Log(a[1])
	}},
	"min": {minArgs: 1, maxArgs: -1, call: func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Min(m, v)
		}
		return m
	}},
	"max": {minArgs: 1, maxArgs: -1, call: func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Max(m, v)
		}
		return m
	}},
}

// constants are identifiers that evaluate to a fixed number and are never
// treated as variables.
var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// Functions returns the sorted names of every allowlisted function.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for n := range functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsFunction reports whether name is an allowlisted function.
func IsFunction(name string) bool {
	_, ok := functions[name]
	return ok
}
