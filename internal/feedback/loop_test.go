package feedback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mwiater/codeforge/internal/fileset"
	"github.com/mwiater/codeforge/internal/project"
	"github.com/mwiater/codeforge/internal/providers"
	"github.com/mwiater/codeforge/internal/rag"
	"github.com/mwiater/codeforge/internal/verify"
	"github.com/mwiater/codeforge/internal/websearch"
)

const validResponse = "[FILE: src/main.rs]\nfn main() {}\n[END FILE]"

// scriptedGenerator replays responses in order and records every prompt.
type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	replies []func(ctx context.Context) (providers.Completion, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, req providers.GenerateRequest) (providers.Completion, error) {
	g.mu.Lock()
	n := len(g.prompts)
	g.prompts = append(g.prompts, req.Messages[len(req.Messages)-1].Content)
	g.mu.Unlock()
	if n < len(g.replies) {
		return g.replies[n](ctx)
	}
	return providers.Completion{Text: validResponse}, nil
}

func (g *scriptedGenerator) Close() error { return nil }

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func text(s string) func(context.Context) (providers.Completion, error) {
	return func(context.Context) (providers.Completion, error) { return providers.Completion{Text: s}, nil }
}

// scriptedVerifier returns the report for each call; calls beyond the script pass.
type scriptedVerifier struct {
	calls   int
	reports []verify.Report
}

func (v *scriptedVerifier) Verify(ctx context.Context, dir string) (verify.Report, error) {
	v.calls++
	if v.calls <= len(v.reports) {
		return v.reports[v.calls-1], nil
	}
	return verify.Report{Passed: true}, nil
}

type alwaysFail struct{ calls int }

func (v *alwaysFail) Verify(ctx context.Context, dir string) (verify.Report, error) {
	v.calls++
	return verify.Report{Phase: "compile", Diagnostic: fmt.Sprintf("error: attempt %d failed to compile", v.calls)}, nil
}

type staticContext struct {
	result rag.RetrievalResult
	err    error
}

func (s staticContext) Retrieve(ctx context.Context, query string) (rag.RetrievalResult, error) {
	return s.result, s.err
}

type staticWeb struct {
	results []websearch.Result
	queries int
}

func (w *staticWeb) Search(ctx context.Context, query string) ([]websearch.Result, error) {
	w.queries++
	return w.results, nil
}

func newLoop(t *testing.T, gen providers.Generator, v Verifier, mutate func(*Deps, *Options)) (*Loop, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "generated_project")
	deps := Deps{
		Generator:    gen,
		Parser:       fileset.NewParser(fileset.Options{}),
		Materializer: project.NewMaterializer(project.Options{SourceExtensions: []string{".rs"}}),
		Verifier:     v,
	}
	opts := Options{MaxAttempts: 3, OutputDir: dir, GenerationTimeout: time.Second}
	if mutate != nil {
		mutate(&deps, &opts)
	}
	loop, err := New(deps, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return loop, dir
}

func TestLoopTerminatesAfterMaxAttempts(t *testing.T) {
	gen := &scriptedGenerator{}
	v := &alwaysFail{}
	loop, _ := newLoop(t, gen, v, nil)

	res, err := loop.Run(context.Background(), "a cli that counts words")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if gen.calls() != 3 || len(res.Attempts) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d generations and %d attempts", gen.calls(), len(res.Attempts))
	}
	if res.Diagnostic != "error: attempt 3 failed to compile" {
		t.Fatalf("expected the 3rd diagnostic verbatim, got %q", res.Diagnostic)
	}
	if last := res.States[len(res.States)-1]; last != StateExhausted {
		t.Fatalf("final state = %s, want exhausted", last)
	}
}

func TestLoopSucceedsOnSecondAttempt(t *testing.T) {
	diag := "error[E0308]: mismatched types\n --> src/main.rs:1:5"
	gen := &scriptedGenerator{}
	v := &scriptedVerifier{reports: []verify.Report{{Phase: "compile", Diagnostic: diag}}}
	var observed []Attempt
	loop, dir := newLoop(t, gen, v, func(d *Deps, o *Options) {
		o.Observer = func(a Attempt) { observed = append(observed, a) }
	})

	res, err := loop.Run(context.Background(), "a cli that counts words")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.Directory != dir || len(res.Attempts) != 2 || gen.calls() != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if strings.Contains(gen.prompts[0], "Previous attempt failed") {
		t.Fatal("first prompt must not carry a diagnostic")
	}
	if !strings.Contains(gen.prompts[1], diag) {
		t.Fatalf("second prompt lacks the first diagnostic:\n%s", gen.prompts[1])
	}
	if len(observed) != 2 || observed[0].Passed || !observed[1].Passed {
		t.Fatalf("observer saw %+v", observed)
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "main.rs")); err != nil {
		t.Fatalf("project not materialized: %v", err)
	}
	want := []State{StateGenerating, StateVerifying, StateRetrying, StateGenerating, StateVerifying, StateDone}
	if fmt.Sprint(res.States) != fmt.Sprint(want) {
		t.Fatalf("states = %v, want %v", res.States, want)
	}
}

func TestLoopServiceErrorFailsAttempt(t *testing.T) {
	serr := &providers.ServiceError{Provider: "openai", StatusCode: 503, Message: "overloaded"}
	gen := &scriptedGenerator{replies: []func(context.Context) (providers.Completion, error){
		func(context.Context) (providers.Completion, error) { return providers.Completion{}, serr },
	}}
	v := &scriptedVerifier{}
	loop, _ := newLoop(t, gen, v, nil)

	res, err := loop.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || len(res.Attempts) != 2 || v.calls != 1 {
		t.Fatalf("unexpected result %+v (verifier calls %d)", res, v.calls)
	}
	if res.Attempts[0].Diagnostic != serr.Error() || !strings.Contains(gen.prompts[1], "status 503") {
		t.Fatalf("service error not fed back: %q", res.Attempts[0].Diagnostic)
	}
}

func TestLoopGenerationTimeout(t *testing.T) {
	gen := &scriptedGenerator{replies: []func(context.Context) (providers.Completion, error){
		func(ctx context.Context) (providers.Completion, error) {
			<-ctx.Done()
			return providers.Completion{}, ctx.Err()
		},
	}}
	loop, _ := newLoop(t, gen, &scriptedVerifier{}, func(d *Deps, o *Options) {
		o.MaxAttempts = 1
		o.GenerationTimeout = 20 * time.Millisecond
	})

	res, err := loop.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success || res.Diagnostic != GenerationTimeoutDiagnostic {
		t.Fatalf("expected timeout diagnostic, got %+v", res)
	}
}

func TestLoopStructuralErrorPropagates(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	gen := &scriptedGenerator{replies: []func(context.Context) (providers.Completion, error){
		func(context.Context) (providers.Completion, error) { return providers.Completion{}, boom },
	}}
	loop, _ := newLoop(t, gen, &scriptedVerifier{}, nil)

	if _, err := loop.Run(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected structural error, got %v", err)
	}
	if gen.calls() != 1 {
		t.Fatalf("structural errors must not retry, got %d calls", gen.calls())
	}
}

func TestLoopEmptyResponseAndManifestErrorsAreDiagnostics(t *testing.T) {
	gen := &scriptedGenerator{replies: []func(context.Context) (providers.Completion, error){
		text("Sorry, here is some prose without file blocks."),
		text("[FILE: Cargo.toml]\n[dependencies]\nrand = \"0.8\"\n[END FILE]"),
	}}
	v := &scriptedVerifier{}
	loop, _ := newLoop(t, gen, v, func(d *Deps, o *Options) {
		d.Materializer = project.NewMaterializer(project.Options{
			CleanOutputDir: true,
			ManifestFile:   "Cargo.toml",
			Sections:       []string{"package", "dependencies"},
		})
	})

	res, err := loop.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Attempts[0].Diagnostic != EmptyResponseDiagnostic {
		t.Fatalf("attempt 1 diagnostic = %q", res.Attempts[0].Diagnostic)
	}
	if !strings.Contains(res.Attempts[1].Diagnostic, "[package]") {
		t.Fatalf("attempt 2 diagnostic = %q", res.Attempts[1].Diagnostic)
	}
	if !res.Success || v.calls != 1 {
		t.Fatalf("expected success on attempt 3 with one verification, got %+v", res)
	}
}

func TestLoopCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &scriptedGenerator{}
	loop, _ := newLoop(t, gen, &alwaysFail{}, func(d *Deps, o *Options) {
		o.Observer = func(Attempt) { cancel() }
	})

	_, err := loop.Run(ctx, "x")
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if gen.calls() != 1 {
		t.Fatalf("expected one generation before cancellation, got %d", gen.calls())
	}
}

func TestLoopDiscardsResultAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &scriptedGenerator{replies: []func(context.Context) (providers.Completion, error){
		func(context.Context) (providers.Completion, error) {
			cancel()
			return providers.Completion{Text: validResponse}, nil
		},
	}}
	v := &scriptedVerifier{}
	loop, dir := newLoop(t, gen, v, nil)

	if _, err := loop.Run(ctx, "x"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if v.calls != 0 {
		t.Fatal("late result must not be verified")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("late result must not be written, stat err=%v", err)
	}
}

func TestLoopContextAndWebFallback(t *testing.T) {
	kb := rag.RetrievalResult{
		Context: "CONTEXT\n[source:vec.rs]\nuse std::vec::Vec;",
		Matches: []rag.Match{{Entry: rag.Entry{Content: "use std::vec::Vec;"}}},
	}
	web := &staticWeb{results: []websearch.Result{{URL: "https://docs.rs/clap", Snippet: "Command line argument parser"}}}
	gen := &scriptedGenerator{}
	loop, _ := newLoop(t, gen, &scriptedVerifier{}, func(d *Deps, o *Options) {
		d.Retriever = staticContext{result: kb}
		d.Web = web
		o.MinContextWords = 50
	})

	res, err := loop.Run(context.Background(), "a cli")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if web.queries != 1 {
		t.Fatalf("expected one web search, got %d", web.queries)
	}
	for _, want := range []string{"[source:vec.rs]", "From https://docs.rs/clap: Command line argument parser"} {
		if !strings.Contains(gen.prompts[0], want) || !strings.Contains(res.Context, want) {
			t.Fatalf("prompt lacks %q:\n%s", want, gen.prompts[0])
		}
	}
}

func TestLoopSkipsWebWhenContextSufficient(t *testing.T) {
	long := strings.Repeat("word ", 60)
	web := &staticWeb{}
	loop, _ := newLoop(t, &scriptedGenerator{}, &scriptedVerifier{}, func(d *Deps, o *Options) {
		d.Retriever = staticContext{result: rag.RetrievalResult{Context: long, Matches: []rag.Match{{Entry: rag.Entry{Content: long}}}}}
		d.Web = web
		o.MinContextWords = 50
	})
	if _, err := loop.Run(context.Background(), "x"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if web.queries != 0 {
		t.Fatal("web search should not run when the knowledge base suffices")
	}
}

func TestLoopRetrievalErrorPropagates(t *testing.T) {
	loop, _ := newLoop(t, &scriptedGenerator{}, &scriptedVerifier{}, func(d *Deps, o *Options) {
		d.Retriever = staticContext{err: errors.New("embedding host down")}
	})
	if _, err := loop.Run(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "embedding host down") {
		t.Fatalf("expected retrieval error, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Deps{}, Options{MaxAttempts: 1, OutputDir: "x"}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
	deps := Deps{Generator: &scriptedGenerator{}, Parser: fileset.NewParser(fileset.Options{}), Materializer: project.NewMaterializer(project.Options{}), Verifier: &scriptedVerifier{}}
	if _, err := New(deps, Options{MaxAttempts: 0, OutputDir: "x"}); err == nil {
		t.Fatal("expected error for non-positive max attempts")
	}
}

func TestPromptBuilder(t *testing.T) {
	b := PromptBuilder{Language: "Rust", LayoutFiles: []string{"Cargo.toml", "src/main.rs"}}
	got := b.User("word counter", "CONTEXT\nsnippet", "")
	for _, want := range []string{"Create a complete Rust project for: word counter", "Use these patterns and best practices:\nCONTEXT\nsnippet", "[FILE: Cargo.toml]\n<content>\n[END FILE]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt lacks %q:\n%s", want, got)
		}
	}
	retry := b.User("word counter", "", "boom")
	if !strings.HasSuffix(retry, "Previous attempt failed with errors:\nboom\nPlease fix these issues while preserving the original functionality.") {
		t.Fatalf("unexpected retry prompt:\n%s", retry)
	}
	if !strings.Contains(b.System(), "[END FILE]") {
		t.Fatal("system prompt must describe the file format")
	}
}

type clientTimeout struct{}

func (clientTimeout) Error() string { return "Client.Timeout exceeded while awaiting headers" }
func (clientTimeout) Timeout() bool { return true }

func TestLoopClientTimeoutIsDiagnostic(t *testing.T) {
	gen := &scriptedGenerator{replies: []func(context.Context) (providers.Completion, error){
		func(context.Context) (providers.Completion, error) {
			return providers.Completion{}, fmt.Errorf("post: %w", clientTimeout{})
		},
	}}
	loop, _ := newLoop(t, gen, &scriptedVerifier{}, nil)

	res, err := loop.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || len(res.Attempts) != 2 || res.Attempts[0].Diagnostic != GenerationTimeoutDiagnostic {
		t.Fatalf("expected a timed-out first attempt then success, got %+v", res)
	}
}

// libChecker fails while src/lib.rs is present in the project.
type libChecker struct{}

func (v *libChecker) Verify(ctx context.Context, dir string) (verify.Report, error) {
	if _, err := os.Stat(filepath.Join(dir, "src", "lib.rs")); err == nil {
		return verify.Report{Phase: "compile", Diagnostic: "error: expected one of `)` in src/lib.rs"}, nil
	}
	return verify.Report{Passed: true}, nil
}

func TestLoopDropsFilesAbandonedBetweenAttempts(t *testing.T) {
	gen := &scriptedGenerator{replies: []func(context.Context) (providers.Completion, error){
		text("[FILE: src/main.rs]\nfn main() {}\n[END FILE]\n[FILE: src/lib.rs]\npub fn broken( {}\n[END FILE]"),
		text(validResponse),
	}}
	loop, dir := newLoop(t, gen, &libChecker{}, nil)

	res, err := loop.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || len(res.Attempts) != 2 {
		t.Fatalf("expected success on attempt 2, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "lib.rs")); !os.IsNotExist(err) {
		t.Fatalf("abandoned src/lib.rs should be gone, stat err=%v", err)
	}
}
