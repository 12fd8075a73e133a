// Package filter evaluates expr-lang expressions against WeChat API payloads.
//
// Every top-level key of a payload is a variable, so a user profile can be
// matched with `subscribe == 1 and sex == 2`. The whole payload is also
// available as Payload, and has("key") reports whether a key is present.
// Numbers are compared as int64 or float64.
package filter

import (
	"strings"

	"github.com/s0up4200/wxapi/wechat"
)

var defaultCompiler = NewExprCompiler(WithCache(64))

// CompileFilter compiles a boolean expression with the shared compiler
func CompileFilter(expression string) (CompiledFilter, error) {
	return defaultCompiler.Compile(expression)
}

// CompileSelector compiles a value expression with the shared compiler
func CompileSelector(expression string) (Selector, error) {
	return defaultCompiler.CompileSelector(expression)
}

// MatchAll is a filter that accepts every payload
type MatchAll struct{}

// Evaluate always returns true
func (MatchAll) Evaluate(wechat.Payload) bool { return true }

// Match always returns true
func (MatchAll) Match(wechat.Payload) (bool, error) { return true, nil }

// Expression returns an empty expression
func (MatchAll) Expression() string { return "" }

// ParseFilter returns MatchAll for a blank expression and a compiled filter
// otherwise
func ParseFilter(expression string) (CompiledFilter, error) {
	if strings.TrimSpace(expression) == "" {
		return MatchAll{}, nil
	}
	return CompileFilter(expression)
}
