package verification

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/pkg/judge0"
)

// ErrNoExamples is returned when the example strategy has nothing to compare against.
var ErrNoExamples = errors.New("no examples to verify")

// ErrNoHarness is returned when no harness exists for any language.
var ErrNoHarness = errors.New("no test harness available")

const missingInputSignature = "EOF when reading a line"

// Executor runs one program to completion.
type Executor interface {
	Execute(ctx context.Context, sub judge0.Submission) (judge0.Result, error)
}

// Example is one stdin/stdout pair declared by an exercise.
type Example struct {
	Input  string `json:"entrada"`
	Output string `json:"salida"`
}

// Payload is the verification material attached to an exercise.
type Payload struct {
	Harness  map[string]string
	Examples []Example
}

// HasHarness reports whether at least one harness source is non-empty.
func (p Payload) HasHarness() bool {
	for _, source := range p.Harness {
		if strings.TrimSpace(source) != "" {
			return true
		}
	}
	return false
}

// Input describes one verification request.
type Input struct {
	Code       string
	LanguageID int
	Payload    Payload
}

// CaseResult captures the outcome of one example run.
type CaseResult struct {
	Index    int    `json:"ejemplo"`
	Input    string `json:"entrada"`
	Expected string `json:"salida_esperada"`
	Actual   string `json:"salida_obtenida"`
	Correct  bool   `json:"es_correcto"`
	Time     string `json:"tiempo"`
	Error    string `json:"error,omitempty"`
}

// Verdict is the correctness outcome of a verification.
type Verdict struct {
	Strategy      string
	CasesCorrect  int
	CasesTotal    int
	IsCorrect     bool
	ScoreFraction float64
	RawOutput     string
	Stderr        string
	Message       string
	Cases         []CaseResult
}

// Strategy turns execution output into a verdict.
type Strategy interface {
	Name() string
	Verify(ctx context.Context, in Input) (Verdict, error)
}

// Selector picks the strategy matching an exercise payload.
type Selector struct {
	harness  *HarnessStrategy
	examples *ExamplesStrategy
	compile  *CompileOnlyStrategy
}

// NewSelector wires all strategies around one executor.
func NewSelector(exec Executor, defaultLanguageID int, logger zerolog.Logger) *Selector {
	return &Selector{
		harness:  NewHarnessStrategy(exec, defaultLanguageID, logger),
		examples: NewExamplesStrategy(exec, logger),
		compile:  NewCompileOnlyStrategy(exec),
	}
}

// Select returns the strategy by priority: harness, examples, compile only.
func (s *Selector) Select(payload Payload) Strategy {
	switch {
	case payload.HasHarness():
		return s.harness
	case len(payload.Examples) > 0:
		return s.examples
	default:
		return s.compile
	}
}

// MissingInput reports whether a runtime error was caused by reading from an
// empty stdin. Such runs are graded as correct.
func MissingInput(result judge0.Result) bool {
	return result.RuntimeError() && strings.Contains(result.Stderr, missingInputSignature)
}

func fraction(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	value := float64(correct) / float64(total)
	if value > 1 {
		return 1
	}
	if value < 0 {
		return 0
	}
	return value
}

func fullCredit(strategy string, result judge0.Result, message string) Verdict {
	return Verdict{
		Strategy:      strategy,
		CasesCorrect:  1,
		CasesTotal:    1,
		IsCorrect:     true,
		ScoreFraction: 1,
		RawOutput:     result.Stdout,
		Stderr:        result.Stderr,
		Message:       message,
	}
}

func zeroCredit(strategy string, result judge0.Result, message string) Verdict {
	stderr := result.Stderr
	if result.CompilationError() && result.CompileOutput != "" {
		stderr = result.CompileOutput
	}
	return Verdict{
		Strategy:   strategy,
		CasesTotal: 1,
		RawOutput:  result.Stdout,
		Stderr:     stderr,
		Message:    message,
	}
}
