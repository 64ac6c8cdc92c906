// Package feedback drives the generate, materialize, verify and retry cycle.
//
// Each attempt builds a prompt from the request, the retrieved context and the
// previous attempt's diagnostic, then parses, writes and verifies the response.
// Verification failures, service errors and timeouts end the attempt and feed the
// next one; anything else aborts the run.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/fileset"
	"github.com/mwiater/codeforge/internal/logging"
	"github.com/mwiater/codeforge/internal/project"
	"github.com/mwiater/codeforge/internal/providers"
	"github.com/mwiater/codeforge/internal/rag"
	"github.com/mwiater/codeforge/internal/verify"
	"github.com/mwiater/codeforge/internal/websearch"
)

// ErrCancelled is returned when the caller cancels the run.
var ErrCancelled = errors.New("generation cancelled")

const (
	// GenerationTimeoutDiagnostic is fed back when a generation call exceeds its timeout.
	GenerationTimeoutDiagnostic = "generation timed out"
	// EmptyResponseDiagnostic is fed back when a response holds no file blocks.
	EmptyResponseDiagnostic = "response contained no [FILE: <path>] ... [END FILE] blocks"
)

// State is a node of the loop's state machine.
type State int

const (
	StateGenerating State = iota
	StateVerifying
	StateRetrying
	StateDone
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StateVerifying:
		return "verifying"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ContextSource returns ranked knowledge for a request. *rag.Retriever implements it.
type ContextSource interface {
	Retrieve(ctx context.Context, query string) (rag.RetrievalResult, error)
}

// WebSearcher supplies extra context when the knowledge base is thin. *websearch.Client implements it.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]websearch.Result, error)
}

// ResponseParser turns generated text into a file set. *fileset.Parser implements it.
type ResponseParser interface {
	Parse(raw string) fileset.FileSet
}

// Materializer writes and normalises the project directory. *project.Materializer implements it.
type Materializer interface {
	Save(files fileset.FileSet, dir string) error
	Cleanup(dir string) error
}

// Verifier judges a project directory. *verify.Runner implements it.
type Verifier interface {
	Verify(ctx context.Context, dir string) (verify.Report, error)
}

// Deps are the loop's collaborators. Retriever and Web are optional.
type Deps struct {
	Retriever    ContextSource
	Web          WebSearcher
	Generator    providers.Generator
	Parser       ResponseParser
	Materializer Materializer
	Verifier     Verifier
}

// Options configures a Loop.
type Options struct {
	MaxAttempts       int
	OutputDir         string
	Model             string
	Parameters        appconfig.Parameters
	GenerationTimeout time.Duration
	// MinContextWords triggers the web fallback when retrieved context is shorter.
	MinContextWords int
	Prompt          PromptBuilder
	// Observer, when set, is called after every attempt.
	Observer func(Attempt)
}

// Attempt records one generate, parse, materialize and verify cycle.
type Attempt struct {
	RunID      string
	Number     int
	Prompt     string
	Response   string
	Files      []string
	Report     verify.Report
	Passed     bool
	Diagnostic string
	Generation time.Duration
	Duration   time.Duration
}

// Result is the outcome of a run: success with the project directory, or failure
// with the last diagnostic text.
type Result struct {
	RunID      string
	Success    bool
	Directory  string
	Diagnostic string
	Attempts   []Attempt
	Context    string
	States     []State
}

// Loop runs generation attempts for one output directory at a time.
type Loop struct {
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) (*Loop, error) {
	if deps.Generator == nil || deps.Parser == nil || deps.Materializer == nil || deps.Verifier == nil {
		return nil, errors.New("feedback loop requires a generator, parser, materializer and verifier")
	}
	if opts.MaxAttempts <= 0 {
		return nil, &appconfig.ConfigError{Field: "maxAttempts", Reason: "must be positive"}
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, &appconfig.ConfigError{Field: "outputDir", Reason: "is required"}
	}
	if opts.Prompt.Language == "" {
		opts.Prompt.Language = "Rust"
	}
	return &Loop{deps: deps, opts: opts}, nil
}

// Run generates a project for description. Verification failures never surface as
// errors: the returned Result carries success or the last diagnostic. Errors are
// structural (service unreachable, disk failure) or ErrCancelled.
func (l *Loop) Run(ctx context.Context, description string) (Result, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Result{}, errors.New("project description is empty")
	}
	res := Result{RunID: uuid.NewString(), Directory: l.opts.OutputDir}
	logging.LogEvent("[LOOP] run=%s start: max_attempts=%d dir=%s", res.RunID, l.opts.MaxAttempts, l.opts.OutputDir)

	kbContext, err := l.gatherContext(ctx, description)
	if err != nil {
		return res, err
	}
	res.Context = kbContext

	diagnostic := ""
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		res.States = append(res.States, StateGenerating)
		attempt, err := l.attempt(ctx, res.RunID, n, description, kbContext, diagnostic, &res)
		if err != nil {
			return res, err
		}
		res.Attempts = append(res.Attempts, attempt)
		if l.opts.Observer != nil {
			l.opts.Observer(attempt)
		}

		if attempt.Passed {
			res.States = append(res.States, StateDone)
			res.Success = true
			res.Diagnostic = ""
			logging.LogEvent("[LOOP] run=%s done after %d attempt(s)", res.RunID, n)
			return res, nil
		}
		diagnostic = attempt.Diagnostic
		res.Diagnostic = diagnostic
		if n >= l.opts.MaxAttempts {
			res.States = append(res.States, StateExhausted)
			logging.LogEvent("[LOOP] run=%s exhausted after %d attempt(s)", res.RunID, n)
			return res, nil
		}
		res.States = append(res.States, StateRetrying)
		logging.LogEvent("[LOOP] run=%s attempt %d/%d failed, retrying", res.RunID, n, l.opts.MaxAttempts)
	}
}

// attempt runs one cycle. A nil error with Passed false means the attempt failed
// in an expected way and Diagnostic explains why.
func (l *Loop) attempt(ctx context.Context, runID string, n int, description, kbContext, diagnostic string, res *Result) (Attempt, error) {
	start := time.Now()
	a := Attempt{RunID: runID, Number: n}
	a.Prompt = l.opts.Prompt.User(description, kbContext, diagnostic)
	logging.LogEvent("[LOOP] run=%s attempt %d/%d: %s", runID, n, l.opts.MaxAttempts, StateGenerating)

	completion, diag, err := l.generate(ctx, a.Prompt)
	a.Generation = time.Since(start)
	if ctx.Err() != nil {
		// The in-flight result belongs to a cancelled run and is discarded.
		return a, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if err != nil {
		return a, err
	}
	if diag != "" {
		return l.fail(a, start, diag), nil
	}
	a.Response = completion.Text

	files := l.deps.Parser.Parse(completion.Text)
	a.Files = files.Paths()
	if len(files) == 0 {
		return l.fail(a, start, EmptyResponseDiagnostic), nil
	}
	if err := l.deps.Materializer.Save(files, l.opts.OutputDir); err != nil {
		return a, fmt.Errorf("materialize attempt %d: %w", n, err)
	}
	if err := l.deps.Materializer.Cleanup(l.opts.OutputDir); err != nil {
		var merr *project.ManifestError
		if !errors.As(err, &merr) {
			return a, fmt.Errorf("clean attempt %d: %w", n, err)
		}
		return l.fail(a, start, merr.Error()), nil
	}

	res.States = append(res.States, StateVerifying)
	logging.LogEvent("[LOOP] run=%s attempt %d/%d: %s %d file(s)", runID, n, l.opts.MaxAttempts, StateVerifying, len(files))
	report, err := l.deps.Verifier.Verify(ctx, l.opts.OutputDir)
	if ctx.Err() != nil {
		return a, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if err != nil {
		return a, fmt.Errorf("verify attempt %d: %w", n, err)
	}
	a.Report = report
	if !report.Passed {
		return l.fail(a, start, report.Diagnostic), nil
	}
	a.Passed = true
	a.Duration = time.Since(start)
	return a, nil
}

func (l *Loop) fail(a Attempt, start time.Time, diag string) Attempt {
	a.Passed = false
	a.Diagnostic = diag
	a.Duration = time.Since(start)
	logging.LogEvent("[LOOP] run=%s attempt %d failed: %s", a.RunID, a.Number, firstLine(diag))
	return a
}

// generate calls the generator under the configured timeout. Service errors and
// timeouts come back as a diagnostic; other errors are structural.
func (l *Loop) generate(ctx context.Context, prompt string) (providers.Completion, string, error) {
	genCtx := ctx
	if l.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, l.opts.GenerationTimeout)
		defer cancel()
	}
	completion, err := l.deps.Generator.Generate(genCtx, providers.GenerateRequest{
		Model:        l.opts.Model,
		SystemPrompt: l.opts.Prompt.System(),
		Messages:     []providers.ChatMessage{{Role: providers.RoleUser, Content: prompt}},
		Parameters:   l.opts.Parameters,
	})
	if err == nil {
		return completion, "", nil
	}
	if ctx.Err() == nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) {
		return completion, GenerationTimeoutDiagnostic, nil
	}
	// HTTP client timeouts inside a provider count the same as our own deadline.
	var terr interface{ Timeout() bool }
	if ctx.Err() == nil && errors.As(err, &terr) && terr.Timeout() {
		return completion, GenerationTimeoutDiagnostic, nil
	}
	var serr *providers.ServiceError
	if errors.As(err, &serr) {
		return completion, serr.Error(), nil
	}
	return completion, "", fmt.Errorf("generation: %w", err)
}

// gatherContext retrieves knowledge once per run and falls back to web search
// when the retrieved text is shorter than MinContextWords.
func (l *Loop) gatherContext(ctx context.Context, description string) (string, error) {
	var (
		parts    []string
		contents []string
	)
	if l.deps.Retriever != nil {
		result, err := l.deps.Retriever.Retrieve(ctx, description)
		if err != nil {
			return "", fmt.Errorf("retrieve context: %w", err)
		}
		for _, m := range result.Matches {
			contents = append(contents, m.Entry.Content)
		}
		if result.Context != "" {
			parts = append(parts, result.Context)
		}
		logging.LogEvent("[LOOP] retrieved %d match(es), %d context token(s)", len(result.Matches), result.ContextTokens)
	}

	if l.deps.Web != nil && !rag.Sufficient(contents, l.opts.MinContextWords) {
		results, err := l.deps.Web.Search(ctx, description)
		if err != nil {
			logging.LogEvent("[LOOP] web search unavailable: %v", err)
		} else if web := websearch.FormatResults(results); web != "" {
			parts = append(parts, web)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
