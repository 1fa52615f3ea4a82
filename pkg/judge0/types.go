package judge0

import "strings"

// Status identifiers reported by the execution service.
const (
	StatusTimeout          = -1
	StatusInQueue          = 1
	StatusProcessing       = 2
	StatusAccepted         = 3
	StatusWrongAnswer      = 4
	StatusTimeLimit        = 5
	StatusCompilationError = 6
	StatusRuntimeSIGSEGV   = 7
	StatusRuntimeSIGXFSZ   = 8
	StatusRuntimeSIGFPE    = 9
	StatusRuntimeSIGABRT   = 10
	StatusRuntimeNZEC      = 11
	StatusRuntimeOther     = 12
	StatusInternalError    = 13
	StatusExecFormatError  = 14
)

// Language identifiers accepted by the execution service.
const (
	LanguagePython     = 71
	LanguageJavaScript = 63
	LanguageJava       = 62
	LanguageCPP        = 54
	LanguageC          = 50
)

var languageIDs = map[string]int{
	"python":     LanguagePython,
	"python3":    LanguagePython,
	"javascript": LanguageJavaScript,
	"java":       LanguageJava,
	"cpp":        LanguageCPP,
	"c":          LanguageC,
}

// LanguageID resolves a language name from the registry.
func LanguageID(name string) (int, bool) {
	id, ok := languageIDs[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// SupportedLanguage reports whether the identifier belongs to the registry.
func SupportedLanguage(id int) bool {
	for _, candidate := range languageIDs {
		if candidate == id {
			return true
		}
	}
	return false
}

// Limits is applied uniformly to every submission.
type Limits struct {
	CPUTimeLimit  float64 `json:"cpu_time_limit"`
	CPUExtraTime  float64 `json:"cpu_extra_time"`
	WallTimeLimit float64 `json:"wall_time_limit"`
	MemoryLimitKB int     `json:"memory_limit"`
	StackLimitKB  int     `json:"stack_limit"`
	MaxProcesses  int     `json:"max_processes_and_or_threads"`
	EnableNetwork bool    `json:"enable_network"`
}

// DefaultLimits mirrors the sandbox defaults used when configuration is absent.
func DefaultLimits() Limits {
	return Limits{
		CPUTimeLimit:  2,
		CPUExtraTime:  0.5,
		WallTimeLimit: 5,
		MemoryLimitKB: 128000,
		StackLimitKB:  64000,
		MaxProcesses:  60,
		EnableNetwork: false,
	}
}

// Submission describes a single program dispatched to the service.
type Submission struct {
	SourceCode     string
	LanguageID     int
	Stdin          string
	ExpectedOutput string
}

type submissionPayload struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	Limits
}

// Status is the status object attached to each result.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is the terminal (or synthetic timeout) state of a submission.
type Result struct {
	Token         string  `json:"token"`
	Status        Status  `json:"status"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	CompileOutput string  `json:"compile_output"`
	Message       string  `json:"message"`
	Time          string  `json:"time"`
	Memory        float64 `json:"memory"`
}

// Pending reports whether the submission is still queued or processing.
// A result without a status id, such as a null batch entry, is pending too.
func (r Result) Pending() bool {
	return r.Status.ID == 0 || r.Status.ID == StatusInQueue || r.Status.ID == StatusProcessing
}

// Accepted reports whether the service accepted the run.
func (r Result) Accepted() bool {
	return r.Status.ID == StatusAccepted
}

// RuntimeError reports whether the run ended with any runtime error status.
func (r Result) RuntimeError() bool {
	return r.Status.ID >= StatusRuntimeSIGSEGV && r.Status.ID <= StatusRuntimeOther
}

// CompilationError reports whether the program failed to compile.
func (r Result) CompilationError() bool {
	return r.Status.ID == StatusCompilationError
}

// TimedOut reports whether polling gave up before a terminal status arrived.
func (r Result) TimedOut() bool {
	return r.Status.ID == StatusTimeout
}

func timeoutResult(token string) Result {
	return Result{
		Token:  token,
		Status: Status{ID: StatusTimeout, Description: "Timeout"},
		Stderr: "Tiempo de espera agotado",
		Time:   "0",
	}
}
