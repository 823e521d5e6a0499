package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which pipeline step raised the error
type Phase string

const (
	PhaseConfig   Phase = "config"   // parameter validation, staging preparation
	PhaseCompile  Phase = "compile"  // cross compilation
	PhaseBind     Phase = "bind"     // binding generation
	PhaseOptimize Phase = "optimize" // size optimization
)

// Kind categorizes the error
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindToolInvocation      Kind = "tool_invocation"
	KindStageFailure        Kind = "stage_failure"
	KindArtifactConsistency Kind = "artifact_consistency"
)

// Process exit statuses reported by the CLI for each Kind.
const (
	ExitOK                  = 0
	ExitUnknown             = 1
	ExitConfiguration       = 2
	ExitToolInvocation      = 3
	ExitStageFailure        = 4
	ExitArtifactConsistency = 5
)

// Error is the structured error type used throughout the pipeline
type Error struct {
	Cause      error
	Phase      Phase
	Kind       Kind
	Tool       string
	Path       string
	Detail     string
	Diagnostic string // captured tool output, verbatim
	ExitCode   int    // tool exit status, 0 when the tool never ran
}

// Error implements the error interface. The diagnostic is not included;
// callers render it separately so it stays verbatim.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Tool != "" {
		b.WriteString(" in ")
		b.WriteString(e.Tool)
	}
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit status %d)", e.ExitCode)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && t.Phase != e.Phase {
			return false
		}
		return t.Kind == e.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Tool sets the external tool name
func (b *Builder) Tool(name string) *Builder {
	b.err.Tool = name
	return b
}

// Path sets the file system path involved
func (b *Builder) Path(p string) *Builder {
	b.err.Path = p
	return b
}

// ExitCode sets the tool exit status
func (b *Builder) ExitCode(code int) *Builder {
	b.err.ExitCode = code
	return b
}

// Diagnostic sets the captured tool output
func (b *Builder) Diagnostic(out string) *Builder {
	b.err.Diagnostic = out
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Configuration creates a configuration error for the named field
func Configuration(field string, msg string, args ...any) *Error {
	detail := msg
	if len(args) > 0 {
		detail = fmt.Sprintf(msg, args...)
	}
	if field != "" {
		detail = field + ": " + detail
	}
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindConfiguration,
		Detail: detail,
	}
}

// ToolNotFound creates a tool invocation error for a tool that could not be located or started
func ToolNotFound(phase Phase, tool string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindToolInvocation,
		Tool:   tool,
		Detail: "tool could not be started",
		Cause:  cause,
	}
}

// StageFailed creates a stage failure carrying the tool's captured diagnostic
func StageFailed(phase Phase, tool string, exitCode int, diagnostic string) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindStageFailure,
		Tool:       tool,
		Detail:     "tool reported failure",
		ExitCode:   exitCode,
		Diagnostic: diagnostic,
	}
}

// ArtifactMissing creates a consistency error for an input artifact that does not exist
func ArtifactMissing(phase Phase, role, path string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindArtifactConsistency,
		Path:   path,
		Detail: fmt.Sprintf("%s artifact is missing", role),
	}
}

// ArtifactEmpty creates a consistency error for a zero-length artifact
func ArtifactEmpty(phase Phase, role, path string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindArtifactConsistency,
		Path:   path,
		Detail: fmt.Sprintf("%s artifact is empty", role),
	}
}

// ArtifactMalformed creates a consistency error for an artifact that fails to parse or validate
func ArtifactMalformed(phase Phase, role, path string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindArtifactConsistency,
		Path:   path,
		Detail: fmt.Sprintf("%s artifact is malformed", role),
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Is forwards to the standard library so callers need not import both packages.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As forwards to the standard library so callers need not import both packages.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// KindOf returns the Kind of the first *Error in the chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DiagnosticOf returns the captured tool output of the first *Error in the chain.
func DiagnosticOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Diagnostic
	}
	return ""
}

// ExitStatus maps err to the process exit status the CLI reports.
func ExitStatus(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindConfiguration:
		return ExitConfiguration
	case KindToolInvocation:
		return ExitToolInvocation
	case KindStageFailure:
		return ExitStageFailure
	case KindArtifactConsistency:
		return ExitArtifactConsistency
	default:
		return ExitUnknown
	}
}
