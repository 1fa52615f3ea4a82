package verification

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-grader/pkg/judge0"
)

// CompileOnlyStrategy awards full credit when the code runs without error.
type CompileOnlyStrategy struct {
	exec Executor
}

// NewCompileOnlyStrategy constructs the smoke check strategy.
func NewCompileOnlyStrategy(exec Executor) *CompileOnlyStrategy {
	return &CompileOnlyStrategy{exec: exec}
}

func (s *CompileOnlyStrategy) Name() string { return "compile_only" }

func (s *CompileOnlyStrategy) Verify(ctx context.Context, in Input) (Verdict, error) {
	result, err := s.exec.Execute(ctx, judge0.Submission{SourceCode: in.Code, LanguageID: in.LanguageID})
	if err != nil {
		return Verdict{}, fmt.Errorf("run code: %w", err)
	}
	return Reconcile(result), nil
}

// Reconcile grades a terminal result without test output. Compile errors
// and runtime errors score zero unless stdin was simply missing.
func Reconcile(result judge0.Result) Verdict {
	switch {
	case result.CompilationError():
		return zeroCredit("compile_only", result, "Error de compilación")
	case MissingInput(result):
		return fullCredit("compile_only", result, "Código verificado (sin entrada)")
	case result.RuntimeError():
		return zeroCredit("compile_only", result, "Error de ejecución")
	case result.Accepted():
		return fullCredit("compile_only", result, "")
	default:
		return zeroCredit("compile_only", result, failureMessage(result))
	}
}
