package verification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/pkg/judge0"
)

// ExamplesStrategy runs the code once per declared example.
type ExamplesStrategy struct {
	exec   Executor
	logger zerolog.Logger
}

// NewExamplesStrategy constructs the example comparison strategy.
func NewExamplesStrategy(exec Executor, logger zerolog.Logger) *ExamplesStrategy {
	return &ExamplesStrategy{exec: exec, logger: logger.With().Str("component", "examples_strategy").Logger()}
}

func (s *ExamplesStrategy) Name() string { return "examples" }

func (s *ExamplesStrategy) Verify(ctx context.Context, in Input) (Verdict, error) {
	examples := in.Payload.Examples
	if len(examples) == 0 {
		return Verdict{}, ErrNoExamples
	}

	verdict := Verdict{Strategy: s.Name(), CasesTotal: len(examples), Cases: make([]CaseResult, 0, len(examples))}
	var stdout, stderr strings.Builder

	for i, example := range examples {
		expected := strings.TrimSpace(example.Output)
		result, err := s.exec.Execute(ctx, judge0.Submission{
			SourceCode:     in.Code,
			LanguageID:     in.LanguageID,
			Stdin:          example.Input,
			ExpectedOutput: expected,
		})
		if err != nil {
			return Verdict{}, fmt.Errorf("run example %d: %w", i+1, err)
		}

		actual := strings.TrimSpace(result.Stdout)
		correct := result.Accepted() || (!result.TimedOut() && actual == expected)

		errText := result.Stderr
		if errText == "" {
			errText = result.CompileOutput
		}

		verdict.Cases = append(verdict.Cases, CaseResult{
			Index:    i + 1,
			Input:    example.Input,
			Expected: expected,
			Actual:   actual,
			Correct:  correct,
			Time:     result.Time,
			Error:    errText,
		})
		if correct {
			verdict.CasesCorrect++
		}

		stdout.WriteString(result.Stdout)
		if result.Stderr != "" {
			stderr.WriteString(result.Stderr)
			stderr.WriteString("\n")
		}

		s.logger.Debug().Int("example", i+1).Int("status_id", result.Status.ID).Bool("correct", correct).Msg("example verified")
	}

	verdict.ScoreFraction = fraction(verdict.CasesCorrect, verdict.CasesTotal)
	verdict.IsCorrect = verdict.CasesCorrect == verdict.CasesTotal
	verdict.RawOutput = stdout.String()
	verdict.Stderr = strings.TrimSpace(stderr.String())
	return verdict, nil
}
