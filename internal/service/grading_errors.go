package service

import "errors"

// ErrEvaluationNotFound indicates the evaluation cannot be located.
var ErrEvaluationNotFound = errors.New("evaluation not found")

// ErrExerciseNotFound indicates the exercise cannot be located.
var ErrExerciseNotFound = errors.New("exercise not found")

// ErrAttemptNotFound indicates the student has no attempt for the evaluation.
var ErrAttemptNotFound = errors.New("attempt not found")

// ErrAttemptClosed indicates the attempt no longer accepts answers.
var ErrAttemptClosed = errors.New("attempt already closed")

// ErrExerciseNotInEvaluation indicates the exercise is not part of the evaluation.
var ErrExerciseNotInEvaluation = errors.New("exercise does not belong to evaluation")

// ErrServiceUnavailable indicates the execution service cannot be reached.
var ErrServiceUnavailable = errors.New("grading temporarily unavailable")

// ErrHistoryNotFound indicates the history record cannot be located.
var ErrHistoryNotFound = errors.New("history record not found")

// ErrHistoryForbidden indicates the caller may not read the history record.
var ErrHistoryForbidden = errors.New("forbidden")

// ErrNoExamples indicates the exercise declares no examples to run.
var ErrNoExamples = errors.New("exercise has no examples")

// ErrUnsupportedLanguage indicates the requested language is not allowed.
var ErrUnsupportedLanguage = errors.New("unsupported language")
