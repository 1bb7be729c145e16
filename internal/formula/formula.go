// Package formula compiles and evaluates KPI formulas: arithmetic over numeric
// literals and named variables with +, -, *, / and parentheses.
//
// Evaluation sees only the variable mapping passed to it. Identifiers are
// resolved as whole tokens, never by text substitution.
package formula

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of compiled formulas kept by NewCache when size <= 0.
const DefaultCacheSize = 256

// Formula is a compiled, immutable formula. It is safe for concurrent use.
type Formula struct {
	src    string
	root   node
	idents []string
}

// Compile parses src. Errors are *EvaluationError wrapping ErrSyntax.
func Compile(src string) (*Formula, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	root, seen, err := parse(src, tokens)
	if err != nil {
		return nil, err
	}
	idents := make([]string, 0, len(seen))
	for name := range seen {
		idents = append(idents, name)
	}
	sort.Strings(idents)
	return &Formula{src: src, root: root, idents: idents}, nil
}

// Source returns the formula text.
func (f *Formula) Source() string {
	return f.src
}

// Identifiers returns the sorted, de-duplicated identifiers referenced by the formula.
func (f *Formula) Identifiers() []string {
	return append([]string(nil), f.idents...)
}

// Eval evaluates the formula against vars. The result is always finite.
func (f *Formula) Eval(vars map[string]float64) (float64, error) {
	return f.root.eval(f, vars)
}

// Evaluate compiles and evaluates src in one step.
func Evaluate(src string, vars map[string]float64) (float64, error) {
	f, err := Compile(src)
	if err != nil {
		return 0, err
	}
	return f.Eval(vars)
}

type compiled struct {
	formula *Formula
	err     error
}

// Cache memoizes compiled formulas by source text, including compile failures.
type Cache struct {
	entries *lru.Cache[string, compiled]
}

// NewCache returns a Cache holding up to size compiled formulas.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, compiled](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &Cache{entries: entries}
}

// Compile returns the cached compilation of src, compiling it on a miss.
func (c *Cache) Compile(src string) (*Formula, error) {
	if c == nil {
		return Compile(src)
	}
	if hit, ok := c.entries.Get(src); ok {
		return hit.formula, hit.err
	}
	f, err := Compile(src)
	c.entries.Add(src, compiled{formula: f, err: err})
	return f, err
}

// Evaluate evaluates src against vars using the cached compilation.
func (c *Cache) Evaluate(src string, vars map[string]float64) (float64, error) {
	f, err := c.Compile(src)
	if err != nil {
		return 0, err
	}
	return f.Eval(vars)
}

// Len reports the number of cached formulas.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
