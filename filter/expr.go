package filter

import (
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/vm"

	"github.com/s0up4200/wxapi/wechat"
)

const (
	modeFilter   = "filter"
	modeSelector = "select"
)

// exprFilter implements CompiledFilter using the expr language
type exprFilter struct {
	expression string
	program    *vm.Program
	helpers    map[string]any
}

// exprSelector implements Selector using the expr language
type exprSelector struct {
	expression string
	program    *vm.Program
	helpers    map[string]any
}

// ExprCompilerOption configures an expr compiler
type ExprCompilerOption func(*exprCompiler)

// WithCache enables program caching with the specified size
func WithCache(size int) ExprCompilerOption {
	return func(c *exprCompiler) {
		if size <= 0 {
			return
		}
		if cache, err := newProgramCache(size); err == nil {
			c.cache = cache
		}
	}
}

// WithCustomFunctions adds custom helper functions
func WithCustomFunctions(funcs map[string]any) ExprCompilerOption {
	return func(c *exprCompiler) {
		maps.Copy(c.helperFuncs, funcs)
	}
}

// NewExprCompiler creates a new expr-based compiler
func NewExprCompiler(opts ...ExprCompilerOption) CachingCompiler {
	c := &exprCompiler{
		helperFuncs: createHelperFunctions(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// exprCompiler implements CachingCompiler for expr-based filters
type exprCompiler struct {
	helperFuncs map[string]any
	cache       *programCache
}

// Compile compiles a boolean expression into an executable filter
func (c *exprCompiler) Compile(expression string) (CompiledFilter, error) {
	expression = strings.TrimSpace(expression)
	program, err := c.compile(modeFilter, expression, expr.AsBool())
	if err != nil {
		return nil, err
	}
	return &exprFilter{expression: expression, program: program, helpers: c.helperFuncs}, nil
}

// CompileSelector compiles an expression whose result is returned as is
func (c *exprCompiler) CompileSelector(expression string) (Selector, error) {
	expression = strings.TrimSpace(expression)
	program, err := c.compile(modeSelector, expression)
	if err != nil {
		return nil, err
	}
	return &exprSelector{expression: expression, program: program, helpers: c.helperFuncs}, nil
}

func (c *exprCompiler) compile(mode, expression string, extra ...expr.Option) (*vm.Program, error) {
	if expression == "" {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "empty expression",
			Position:   -1,
		}
	}

	// Check cache if enabled
	if c.cache != nil {
		if program, ok := c.cache.Get(mode, expression); ok {
			return program, nil
		}
	}

	// Compile with static environment for validation
	options := []expr.Option{
		expr.Env(c.helperFuncs),
		expr.AllowUndefinedVariables(), // Payload keys vary per endpoint
	}
	options = append(options, extra...)

	program, err := expr.Compile(expression, options...)
	if err != nil {
		compErr := &CompilationError{
			Expression: expression,
			Reason:     "failed to compile expression",
			Position:   -1,
			Err:        err,
		}
		var fileErr *file.Error
		if errors.As(err, &fileErr) {
			compErr.Reason = fileErr.Message
			compErr.Position = fileErr.Column
		}
		return nil, compErr
	}

	// Cache if enabled
	if c.cache != nil {
		c.cache.Put(mode, expression, program)
	}

	return program, nil
}

// Clear removes all cached programs
func (c *exprCompiler) Clear() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Size returns the number of cached programs
func (c *exprCompiler) Size() int {
	if c.cache != nil {
		return c.cache.Size()
	}
	return 0
}

// Evaluate evaluates the filter against a payload
func (f *exprFilter) Evaluate(payload wechat.Payload) bool {
	ok, err := f.Match(payload)
	if err != nil {
		// Payloads the expression cannot handle do not match
		return false
	}
	return ok
}

// Match evaluates the filter and reports runtime errors
func (f *exprFilter) Match(payload wechat.Payload) (bool, error) {
	result, err := expr.Run(f.program, createRuntimeEnvironment(payload, f.helpers))
	if err != nil {
		return false, &EvaluationError{
			Expression: f.expression,
			Reason:     "failed to run expression",
			Err:        err,
		}
	}

	// Result is guaranteed to be bool due to AsBool() option during compilation
	return result.(bool), nil
}

// Expression returns the original expression
func (f *exprFilter) Expression() string {
	return f.expression
}

// Select evaluates the expression against a payload
func (s *exprSelector) Select(payload wechat.Payload) (any, error) {
	result, err := expr.Run(s.program, createRuntimeEnvironment(payload, s.helpers))
	if err != nil {
		return nil, &EvaluationError{
			Expression: s.expression,
			Reason:     "failed to run expression",
			Err:        err,
		}
	}
	return result, nil
}

// Expression returns the original expression
func (s *exprSelector) Expression() string {
	return s.expression
}

// createHelperFunctions creates the static helper functions used during
// compilation. Payload-bound helpers get placeholders with the same signature.
func createHelperFunctions() map[string]any {
	funcs := make(map[string]any, 16)
	addHelperFunctions(funcs)
	funcs["has"] = func(string) bool { return false }
	funcs["Payload"] = map[string]any{}
	return funcs
}

// addHelperFunctions adds all payload-independent helpers to env
func addHelperFunctions(env map[string]any) {
	// Time helpers. The platform reports times as unix seconds.
	env["fromUnix"] = func(sec int64) time.Time {
		return time.Unix(sec, 0)
	}
	env["daysSince"] = func(t time.Time) int {
		return int(time.Since(t).Hours() / 24)
	}
	env["daysAgo"] = func(days int) time.Time {
		return time.Now().AddDate(0, 0, -days)
	}
	env["parseDate"] = func(dateStr string) time.Time {
		t, _ := time.Parse("2006-01-02", dateStr)
		return t
	}
	// Case-insensitive string helpers. contains, startsWith and endsWith are
	// operators in expr and stay available in their case-sensitive infix form.
	env["containsFold"] = func(str, substr string) bool {
		return strings.Contains(strings.ToLower(str), strings.ToLower(substr))
	}
	env["hasPrefixFold"] = func(str, prefix string) bool {
		return strings.HasPrefix(strings.ToLower(str), strings.ToLower(prefix))
	}
	env["hasSuffixFold"] = func(str, suffix string) bool {
		return strings.HasSuffix(strings.ToLower(str), strings.ToLower(suffix))
	}
	env["lower"] = strings.ToLower
	env["upper"] = strings.ToUpper
	// Current time
	env["now"] = time.Now
}

// createRuntimeEnvironment exposes every top-level payload key as a variable,
// the whole payload as Payload, and the helpers. Helpers win on name clashes.
func createRuntimeEnvironment(payload wechat.Payload, helpers map[string]any) map[string]any {
	env := make(map[string]any, len(payload)+len(helpers)+1)

	for k, v := range payload {
		env[k] = normalizeValue(v)
	}

	// helpers holds placeholders for the payload-bound entries; overwrite them
	maps.Copy(env, helpers)
	whole, _ := normalizeValue(map[string]any(payload)).(map[string]any)
	env["Payload"] = whole
	env["has"] = createHasFunc(payload)

	return env
}

func createHasFunc(payload wechat.Payload) func(string) bool {
	return func(key string) bool {
		_, exists := payload[key]
		return exists
	}
}

// normalizeValue turns json.Number into int64 or float64 so expressions can
// compare it with numeric literals
func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
