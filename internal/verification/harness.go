package verification

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/pkg/judge0"
)

const (
	passMarker  = "✓ CORRECTO"
	failMarker  = "✗ INCORRECTO"
	errorMarker = "✗ ERROR"
)

var summaryPattern = regexp.MustCompile(`Resultado:\s*(\d+)/(\d+)\s*pruebas\s*pasadas`)

// HarnessStrategy runs the student code together with an advanced test program.
type HarnessStrategy struct {
	exec              Executor
	defaultLanguageID int
	logger            zerolog.Logger
}

// NewHarnessStrategy constructs the harness strategy.
func NewHarnessStrategy(exec Executor, defaultLanguageID int, logger zerolog.Logger) *HarnessStrategy {
	if defaultLanguageID == 0 {
		defaultLanguageID = judge0.LanguagePython
	}
	return &HarnessStrategy{
		exec:              exec,
		defaultLanguageID: defaultLanguageID,
		logger:            logger.With().Str("component", "harness_strategy").Logger(),
	}
}

func (s *HarnessStrategy) Name() string { return "harness" }

// Program builds the full source that is dispatched for an input.
func (s *HarnessStrategy) Program(in Input) (string, error) {
	harness, ok := ResolveHarness(in.Payload.Harness, in.LanguageID, s.defaultLanguageID)
	if !ok {
		return "", ErrNoHarness
	}
	return Compose(in.Code, WithHelpers(harness, in.LanguageID, in.Code)), nil
}

func (s *HarnessStrategy) Verify(ctx context.Context, in Input) (Verdict, error) {
	program, err := s.Program(in)
	if err != nil {
		return Verdict{}, err
	}

	result, err := s.exec.Execute(ctx, judge0.Submission{SourceCode: program, LanguageID: in.LanguageID})
	if err != nil {
		return Verdict{}, fmt.Errorf("run harness: %w", err)
	}

	return ScoreHarness(result), nil
}

// ScoreHarness derives a verdict from a finished harness run. Output that
// reports cases is scored even when the run ended abnormally, so passes
// printed before a crash still count.
func ScoreHarness(result judge0.Result) Verdict {
	if MissingInput(result) {
		return fullCredit("harness", result, "Código verificado (sin entrada)")
	}
	if !result.Accepted() && !Reported(result.Stdout) {
		return zeroCredit("harness", result, failureMessage(result))
	}

	passed, total := ParseSummary(result.Stdout)
	verdict := Verdict{
		Strategy:      "harness",
		CasesCorrect:  passed,
		CasesTotal:    total,
		IsCorrect:     passed == total,
		ScoreFraction: fraction(passed, total),
		RawOutput:     result.Stdout,
		Stderr:        result.Stderr,
	}
	if !result.Accepted() {
		verdict.IsCorrect = false
		verdict.Message = failureMessage(result)
	}
	return verdict
}

// Reported reports whether harness output carries a summary line or at
// least one case marker.
func Reported(output string) bool {
	return summaryPattern.MatchString(output) ||
		strings.Contains(output, passMarker) ||
		strings.Contains(output, failMarker) ||
		strings.Contains(output, errorMarker)
}

// ParseSummary reads the pass count from harness output. Without a summary
// line it counts pass and fail markers; total is never below one.
func ParseSummary(output string) (int, int) {
	if match := summaryPattern.FindStringSubmatch(output); match != nil {
		passed, _ := strconv.Atoi(match[1])
		total, _ := strconv.Atoi(match[2])
		if total <= 0 {
			total = 1
		}
		return passed, total
	}

	passed := strings.Count(output, passMarker)
	failed := strings.Count(output, failMarker) + strings.Count(output, errorMarker)
	total := passed + failed
	if total == 0 {
		total = 1
	}
	return passed, total
}

func failureMessage(result judge0.Result) string {
	switch {
	case result.CompilationError():
		return "Error de compilación"
	case result.RuntimeError():
		return "Error de ejecución"
	case result.TimedOut():
		return "Tiempo de espera agotado"
	case result.Status.Description != "":
		return result.Status.Description
	default:
		return "Ejecución fallida"
	}
}
