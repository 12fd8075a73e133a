package filter

import (
	"context"

	"github.com/s0up4200/wxapi/wechat"
)

// Filter defines the basic interface for payload filters
type Filter interface {
	// Evaluate checks if a payload matches the filter criteria. Evaluation
	// errors count as no match.
	Evaluate(payload wechat.Payload) bool
}

// CompiledFilter represents a pre-compiled filter ready for evaluation
type CompiledFilter interface {
	Filter

	// Match is Evaluate with the evaluation error surfaced
	Match(payload wechat.Payload) (bool, error)

	// Expression returns the original filter expression
	Expression() string
}

// Selector projects a payload to an arbitrary value
type Selector interface {
	Select(payload wechat.Payload) (any, error)
	Expression() string
}

// Compiler compiles expressions into executable filters and selectors
type Compiler interface {
	// Compile parses and compiles a boolean filter expression
	Compile(expression string) (CompiledFilter, error)

	// CompileSelector parses and compiles an expression of any result type
	CompileSelector(expression string) (Selector, error)
}

// Evaluator evaluates filters against payloads
type Evaluator interface {
	// Evaluate returns the payloads matching filter, in input order
	Evaluate(ctx context.Context, filter CompiledFilter, payloads []wechat.Payload) ([]wechat.Payload, error)
}

// BatchEvaluator evaluates multiple filters concurrently
type BatchEvaluator interface {
	Evaluator

	// EvaluateBatch evaluates every filter against payloads concurrently
	EvaluateBatch(ctx context.Context, filters map[string]CompiledFilter, payloads []wechat.Payload) (map[string][]wechat.Payload, error)
}

// CachingCompiler provides caching for compiled programs
type CachingCompiler interface {
	Compiler

	// Clear removes all cached programs
	Clear()

	// Size returns the number of cached programs
	Size() int
}
