package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/veictry/aiaim/pkg/agenttest"
)

func newRunner(t *testing.T, cfg Config) *TaskRunner {
	t.Helper()
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

func TestRunCompletesOnFirstIteration(t *testing.T) {
	wbe := agenttest.NewScripted(agenttest.OutputResponse("did the work"))
	sbe := agenttest.NewScripted(agenttest.CompleteVerdict("all done"))

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe, MaxIterations: 5})
	res := r.Run(context.Background(), "X")

	if !res.Success || !res.Completed {
		t.Fatalf("result = %+v, want success and completed", res)
	}
	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want completed", res.Outcome)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
	if res.ChatID != "chat-test" {
		t.Errorf("chat id = %q, want chat-test", res.ChatID)
	}
	if res.FinalSummary != "all done" {
		t.Errorf("final summary = %q, want %q", res.FinalSummary, "all done")
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Iteration != 1 || rec.Timestamp.IsZero() {
		t.Errorf("record header = %+v, want iteration 1 with a timestamp", rec)
	}
	if rec.Worker == nil || !rec.Worker.Success {
		t.Errorf("worker outcome = %+v, want success", rec.Worker)
	}
	if rec.Supervisor == nil || !rec.Supervisor.IsComplete {
		t.Errorf("supervisor verdict = %+v, want complete", rec.Supervisor)
	}
	if wbe.CreateCalls() != 1 {
		t.Errorf("create chat calls = %d, want 1", wbe.CreateCalls())
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	wbe := agenttest.NewScripted(
		agenttest.OutputResponse("pass 1"),
		agenttest.OutputResponse("pass 2"),
		agenttest.OutputResponse("pass 3"),
	)
	sbe := agenttest.NewScripted(
		agenttest.IncompleteVerdict("keep going", "item"),
		agenttest.IncompleteVerdict("keep going", "item"),
		agenttest.IncompleteVerdict("keep going", "item"),
	)

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe, MaxIterations: 3})
	res := r.Run(context.Background(), "task")

	if res.Success || res.Completed {
		t.Fatalf("result = %+v, want incomplete", res)
	}
	if res.Outcome != OutcomeMaxIterations {
		t.Errorf("outcome = %q, want max_iterations", res.Outcome)
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
	if !strings.Contains(res.FinalSummary, "3") {
		t.Errorf("final summary = %q, want it to name the bound", res.FinalSummary)
	}
	if res.Error == "" {
		t.Error("error is empty, want the max-iterations error")
	}
	if len(res.Records) != 3 {
		t.Errorf("records = %d, want 3", len(res.Records))
	}

	prompts := wbe.Prompts()
	if strings.Contains(prompts[0], "## Pending Items") {
		t.Error("first worker prompt has pending items, want none")
	}
	for i := 1; i < 3; i++ {
		if !strings.Contains(prompts[i], "- item") {
			t.Errorf("worker prompt %d missing carried pending item:\n%s", i+1, prompts[i])
		}
	}
}

func TestRunWorkerFailureDoesNotAbort(t *testing.T) {
	wbe := agenttest.NewScripted(
		agenttest.OutputResponse("ok"),
		agenttest.FailedResponse("exploded"),
		agenttest.OutputResponse("recovered"),
	)
	sbe := agenttest.NewScripted(
		agenttest.IncompleteVerdict("going", "a"),
		agenttest.IncompleteVerdict("still going", "a"),
		agenttest.CompleteVerdict("done"),
	)

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe, MaxIterations: 5})
	res := r.Run(context.Background(), "task")

	if !res.Completed || res.Iterations != 3 {
		t.Fatalf("result = %+v, want completion on iteration 3", res)
	}

	failed := res.Records[1]
	if failed.Worker == nil || failed.Worker.Success {
		t.Errorf("iteration 2 worker outcome = %+v, want failure", failed.Worker)
	}
	if failed.Worker.Error != "exploded" {
		t.Errorf("iteration 2 worker error = %q, want %q", failed.Worker.Error, "exploded")
	}
	// The supervisor still judged the state on the failed iteration.
	if failed.Supervisor == nil {
		t.Error("iteration 2 has no supervisor verdict")
	}
}

func TestRunParsesFencedVerdict(t *testing.T) {
	wbe := agenttest.NewScripted(agenttest.OutputResponse("work"))
	sbe := agenttest.NewScripted(agenttest.OutputResponse(
		"Sure! ```json\n{\"is_complete\": true, \"status\": \"completed\", \"pending_items\": [], \"summary\": \"done\"}\n``` Thanks.",
	))

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe})
	res := r.Run(context.Background(), "task")

	if !res.Completed || res.Iterations != 1 {
		t.Fatalf("result = %+v, want completion on iteration 1", res)
	}
}

func TestRunInitializationFailure(t *testing.T) {
	wbe := agenttest.NewScripted()
	wbe.CreateErr = errors.New("backend unavailable: cursor-cli not installed")
	sbe := agenttest.NewScripted()

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe})
	res := r.Run(context.Background(), "task")

	if res.Success || res.Completed {
		t.Fatalf("result = %+v, want failure", res)
	}
	if res.Outcome != OutcomeInitFailed {
		t.Errorf("outcome = %q, want init_failed", res.Outcome)
	}
	if res.Iterations != 0 || len(res.Records) != 0 {
		t.Errorf("iterations = %d, records = %d, want no iterations run", res.Iterations, len(res.Records))
	}
	if !strings.Contains(res.Error, "cursor-cli not installed") {
		t.Errorf("error = %q, want the initialization cause", res.Error)
	}
	if len(wbe.Prompts()) != 0 || len(sbe.Prompts()) != 0 {
		t.Error("agents were invoked despite initialization failure")
	}
}

func TestRunResumeSkipsChatCreation(t *testing.T) {
	wbe := agenttest.NewScripted(agenttest.OutputResponse("work"))
	sbe := agenttest.NewScripted(agenttest.CompleteVerdict("done"))

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe, ChatID: "existing-chat"})
	res := r.Run(context.Background(), "task")

	if wbe.CreateCalls() != 0 {
		t.Errorf("create chat calls = %d, want 0 when resuming", wbe.CreateCalls())
	}
	if res.ChatID != "existing-chat" {
		t.Errorf("chat id = %q, want existing-chat", res.ChatID)
	}
}

func TestRunInitialPendingReachesWorkerOnly(t *testing.T) {
	wbe := agenttest.NewScripted(
		agenttest.OutputResponse("pass 1"),
		agenttest.OutputResponse("pass 2"),
	)
	sbe := agenttest.NewScripted(
		agenttest.IncompleteVerdict("progress", "next item"),
		agenttest.CompleteVerdict("done"),
	)

	r := newRunner(t, Config{
		WorkerBackend:     wbe,
		SupervisorBackend: sbe,
		MaxIterations:     2,
		InitialPending:    []string{"resume a", "resume b"},
	})
	res := r.Run(context.Background(), "task")
	if !res.Completed {
		t.Fatalf("result = %+v, want completion", res)
	}

	workerFirst := wbe.Prompts()[0]
	if !strings.Contains(workerFirst, "- resume a") || !strings.Contains(workerFirst, "- resume b") {
		t.Errorf("first worker prompt missing initial pending items:\n%s", workerFirst)
	}

	supFirst := sbe.Prompts()[0]
	if strings.Contains(supFirst, "resume a") {
		t.Errorf("initial pending leaked into the first supervisor context:\n%s", supFirst)
	}
	if !strings.Contains(supFirst, "no history yet") {
		t.Errorf("first supervisor prompt missing the empty-context note:\n%s", supFirst)
	}

	// The verdict's list supersedes the initial one on the second pass.
	workerSecond := wbe.Prompts()[1]
	if !strings.Contains(workerSecond, "- next item") {
		t.Errorf("second worker prompt missing the verdict's pending item:\n%s", workerSecond)
	}
	if strings.Contains(workerSecond, "resume a") {
		t.Errorf("superseded initial item still present in second worker prompt:\n%s", workerSecond)
	}

	supSecond := sbe.Prompts()[1]
	if !strings.Contains(supSecond, "next item") {
		t.Errorf("second supervisor context missing the previous round's items:\n%s", supSecond)
	}
}

func TestRunPendingListSupersedes(t *testing.T) {
	wbe := agenttest.NewScripted(
		agenttest.OutputResponse("1"),
		agenttest.OutputResponse("2"),
		agenttest.OutputResponse("3"),
	)
	sbe := agenttest.NewScripted(
		agenttest.IncompleteVerdict("two open", "a", "b"),
		agenttest.IncompleteVerdict("new list", "c"),
		agenttest.CompleteVerdict("done"),
	)

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe, MaxIterations: 3})
	r.Run(context.Background(), "task")

	third := wbe.Prompts()[2]
	if !strings.Contains(third, "- c") {
		t.Errorf("third worker prompt missing superseding item:\n%s", third)
	}
	if strings.Contains(third, "- a") || strings.Contains(third, "- b") {
		t.Errorf("third worker prompt still carries superseded items:\n%s", third)
	}
}

func TestRunInterruptedBetweenPhases(t *testing.T) {
	wbe := agenttest.NewScripted(agenttest.OutputResponse("streamed work"))
	sbe := agenttest.NewScripted(agenttest.CompleteVerdict("never reached"))

	ctx, cancel := context.WithCancel(context.Background())
	r := newRunner(t, Config{
		WorkerBackend:     wbe,
		SupervisorBackend: sbe,
		// Cancel while the worker streams; the loop notices after the phase.
		OnAgentLine: func(string) { cancel() },
	})
	res := r.Run(ctx, "task")

	if res.Outcome != OutcomeInterrupted {
		t.Fatalf("outcome = %q, want interrupted", res.Outcome)
	}
	if res.Iterations != 1 || len(res.Records) != 1 {
		t.Errorf("iterations = %d, records = %d, want the partial iteration kept", res.Iterations, len(res.Records))
	}
	rec := res.Records[0]
	if rec.Worker == nil {
		t.Error("partial record missing the worker outcome")
	}
	if rec.Supervisor != nil {
		t.Error("supervisor ran despite cancellation between phases")
	}
	if len(sbe.Prompts()) != 0 {
		t.Error("supervisor backend was invoked after cancellation")
	}
}

func TestRunInterruptedDuringDelay(t *testing.T) {
	wbe := agenttest.NewScripted(agenttest.OutputResponse("work"))
	sbe := agenttest.NewScripted(agenttest.IncompleteVerdict("open", "item"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	r := newRunner(t, Config{
		WorkerBackend:     wbe,
		SupervisorBackend: sbe,
		MaxIterations:     2,
		Delay:             30 * time.Second,
	})

	start := time.Now()
	res := r.Run(ctx, "task")

	if res.Outcome != OutcomeInterrupted {
		t.Fatalf("outcome = %q, want interrupted", res.Outcome)
	}
	if len(res.Records) != 1 || res.Records[0].Supervisor == nil {
		t.Errorf("records = %+v, want one full record", res.Records)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("run did not return promptly on cancellation during the delay")
	}
}

func TestRunSkipsDelayAfterFinalIteration(t *testing.T) {
	wbe := agenttest.NewScripted(agenttest.OutputResponse("work"))
	sbe := agenttest.NewScripted(agenttest.IncompleteVerdict("open", "item"))

	r := newRunner(t, Config{
		WorkerBackend:     wbe,
		SupervisorBackend: sbe,
		MaxIterations:     1,
		Delay:             30 * time.Second,
	})

	start := time.Now()
	res := r.Run(context.Background(), "task")

	if res.Outcome != OutcomeMaxIterations {
		t.Fatalf("outcome = %q, want max_iterations", res.Outcome)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("delay was not skipped after the final iteration")
	}
}

func TestRunCallbacksAndNumbering(t *testing.T) {
	wbe := agenttest.NewScripted(
		agenttest.OutputResponse("1"),
		agenttest.OutputResponse("2"),
	)
	sbe := agenttest.NewScripted(
		agenttest.IncompleteVerdict("open", "a"),
		agenttest.CompleteVerdict("done"),
	)

	var statuses []string
	var started []int
	var emitted []Record
	r := newRunner(t, Config{
		WorkerBackend:     wbe,
		SupervisorBackend: sbe,
		MaxIterations:     4,
		StartIteration:    4,
		OnStatus:          func(s string) { statuses = append(statuses, s) },
		OnIterationStart:  func(n int) { started = append(started, n) },
		OnIteration:       func(rec Record) { emitted = append(emitted, rec) },
	})
	res := r.Run(context.Background(), "task")

	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2 passes this run", res.Iterations)
	}
	if len(started) != 2 || started[0] != 4 || started[1] != 5 {
		t.Errorf("iteration starts = %v, want [4 5]", started)
	}
	if len(emitted) != 2 || emitted[0].Iteration != 4 || emitted[1].Iteration != 5 {
		t.Errorf("emitted records = %+v, want iterations numbered 4 and 5", emitted)
	}

	joined := strings.Join(statuses, "\n")
	for _, want := range []string{"=== Iteration 4 ===", "Worker executing...", "Check result: done", "Task complete."} {
		if !strings.Contains(joined, want) {
			t.Errorf("status stream missing %q:\n%s", want, joined)
		}
	}
}

func TestRunLedgerAccumulatesAcrossIterations(t *testing.T) {
	wbe := agenttest.NewScripted(
		agenttest.OutputResponse("1"),
		agenttest.OutputResponse("2"),
		agenttest.OutputResponse("3"),
	)
	sbe := agenttest.NewScripted(
		agenttest.IncompleteVerdict("two open", "a", "b"),
		agenttest.OutputResponse(`{"is_complete": false, "status": "in_progress", "pending_items": ["b"], "newly_completed": ["a"], "summary": "one down"}`),
		agenttest.CompleteVerdict("done", "b"),
	)

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe, MaxIterations: 3})
	res := r.Run(context.Background(), "task")

	if !res.Completed {
		t.Fatalf("result = %+v, want completion", res)
	}
	pending, completed := r.Ledger().Counts()
	if pending != 0 || completed != 2 {
		t.Errorf("ledger counts = (%d, %d), want (0, 2)", pending, completed)
	}
}

func TestRunSharedBackendByDefault(t *testing.T) {
	be := agenttest.NewScripted(
		agenttest.OutputResponse("worker pass"),
		agenttest.CompleteVerdict("done"),
	)

	r := newRunner(t, Config{WorkerBackend: be})
	res := r.Run(context.Background(), "task")

	if !res.Completed {
		t.Fatalf("result = %+v, want completion", res)
	}
	prompts := be.Prompts()
	if len(prompts) != 2 {
		t.Fatalf("prompts = %d, want worker then supervisor", len(prompts))
	}
	if !strings.Contains(prompts[0], "Please complete the following task.") {
		t.Errorf("first prompt is not a worker prompt:\n%s", prompts[0])
	}
	if !strings.Contains(prompts[1], "has been fully completed") {
		t.Errorf("second prompt is not a supervisor prompt:\n%s", prompts[1])
	}
}

func TestCheckOnly(t *testing.T) {
	wbe := agenttest.NewScripted()
	sbe := agenttest.NewScripted(agenttest.IncompleteVerdict("two left", "x", "y"))

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe})
	v := r.CheckOnly(context.Background(), "task")

	if v.IsComplete || len(v.PendingItems) != 2 {
		t.Errorf("verdict = %+v, want two pending items", v)
	}
	if len(wbe.Prompts()) != 0 || wbe.CreateCalls() != 0 {
		t.Error("check-only touched the worker backend")
	}
}

func TestStepOnce(t *testing.T) {
	wbe := agenttest.NewScripted(agenttest.OutputResponse("stepped"))
	sbe := agenttest.NewScripted(agenttest.IncompleteVerdict("one left", "p"))

	r := newRunner(t, Config{WorkerBackend: wbe, SupervisorBackend: sbe})
	wout, v := r.StepOnce(context.Background(), "task", []string{"p"})

	if !wout.Success || wout.Output != "stepped" {
		t.Errorf("worker outcome = %+v, want the scripted output", wout)
	}
	if v.IsComplete {
		t.Error("verdict complete, want pending")
	}
	if !strings.Contains(wbe.Prompts()[0], "- p") {
		t.Errorf("worker prompt missing the pending item:\n%s", wbe.Prompts()[0])
	}
	if !strings.Contains(sbe.Prompts()[0], "- p") {
		t.Errorf("supervisor context missing the pending item:\n%s", sbe.Prompts()[0])
	}
}

func TestNewRequiresWorkerBackend(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() accepted a config without a worker backend")
	}
}
