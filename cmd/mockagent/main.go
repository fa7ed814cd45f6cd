// mockagent is a stand-in agent CLI for exercising aiaim end to end
// without a real backend. It speaks the same contract aiaim expects from
// an agent command:
//
//	mockagent [flags] create-chat          print a chat id and exit
//	mockagent [flags] [--resume ID] PROMPT respond to a prompt
//
// Prompts that open with a completion check produce a verdict JSON
// document; everything else is treated as work and produces plain
// output. With -state, a counter carried across invocations lets a
// scenario stay incomplete for a configurable number of checks. With
// -script, responses come verbatim from a JSON array instead, one per
// invocation, with the position persisted beside the script file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/veictry/aiaim/internal/verdict"
)

func main() {
	var (
		stateDir      = flag.String("state", "", "Directory for the cross-invocation check counter (empty: stateless)")
		script        = flag.String("script", "", "JSON array of responses served in order (position kept in <script>.cursor)")
		chatID        = flag.String("chat-id", "mock-chat-1", "Chat id printed by create-chat")
		completeAfter = flag.Int("complete-after", 1, "Supervisor check number that returns a complete verdict")
		pending       = flag.String("pending", "finish the remaining work", "Comma-separated pending items for incomplete verdicts")
		workerOutput  = flag.String("worker-output", "done working", "Output printed for work prompts")
		echo          = flag.Bool("echo", false, "Respond to work prompts with the prompt itself")
		fenced        = flag.Bool("fenced", false, "Wrap verdict JSON in a markdown code fence")
		fail          = flag.Bool("fail", false, "Exit nonzero on every prompt")
		failWork      = flag.Bool("fail-work", false, "Exit nonzero on work prompts; checks still respond")
		failCreate    = flag.Bool("fail-create", false, "Make create-chat exit nonzero")
		sleep         = flag.Duration("sleep", 0, "Pause before responding")
		resume        = flag.String("resume", "", "Chat id of the conversation being resumed")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mockagent [flags] create-chat | [--resume ID] PROMPT")
		os.Exit(2)
	}
	arg := flag.Arg(0)

	if *sleep > 0 {
		time.Sleep(*sleep)
	}

	if arg == "create-chat" {
		if *failCreate {
			fmt.Fprintln(os.Stderr, "mockagent: chat creation refused")
			os.Exit(1)
		}
		fmt.Println(*chatID)
		return
	}

	if *fail {
		fmt.Fprintln(os.Stderr, "mockagent: simulated failure")
		os.Exit(1)
	}

	// A script overrides the canned behaviors until it runs out.
	if *script != "" {
		if response, ok := nextScripted(*script); ok {
			fmt.Println(response)
			return
		}
	}

	if isCheckPrompt(arg) {
		respondToCheck(*stateDir, *completeAfter, splitItems(*pending), *fenced)
		return
	}

	if *failWork {
		fmt.Fprintln(os.Stderr, "mockagent: simulated work failure")
		os.Exit(1)
	}

	if *echo {
		fmt.Println(arg)
		return
	}

	fmt.Println(*workerOutput)
	if *resume != "" {
		fmt.Printf("resumed chat %s\n", *resume)
	}
}

// isCheckPrompt distinguishes a completion check from a work prompt by
// the prompt's opening line.
func isCheckPrompt(prompt string) bool {
	return strings.HasPrefix(prompt, "Please check whether")
}

func respondToCheck(stateDir string, completeAfter int, pending []string, fenced bool) {
	check := bumpCheckCount(stateDir)

	var v verdict.Verdict
	if check >= completeAfter {
		v = verdict.Verdict{
			IsComplete:     true,
			Status:         verdict.StatusCompleted,
			PendingItems:   []string{},
			NewlyCompleted: pending,
			Summary:        fmt.Sprintf("all work finished after %d checks", check),
		}
	} else {
		v = verdict.Verdict{
			IsComplete:     false,
			Status:         verdict.StatusInProgress,
			PendingItems:   pending,
			NewlyCompleted: []string{},
			Summary:        fmt.Sprintf("check %d of %d, work remains", check, completeAfter),
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mockagent: %v\n", err)
		os.Exit(1)
	}

	if fenced {
		fmt.Printf("Here is my assessment:\n\n```json\n%s\n```\n", data)
		return
	}
	fmt.Println(string(data))
}

// nextScripted returns the next unserved response from the script file
// and advances the cursor persisted beside it. ok is false once every
// response has been served.
func nextScripted(path string) (response string, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mockagent: cannot read script: %v\n", err)
		os.Exit(1)
	}
	var responses []string
	if err := json.Unmarshal(data, &responses); err != nil {
		fmt.Fprintf(os.Stderr, "mockagent: invalid script: %v\n", err)
		os.Exit(1)
	}

	cursorPath := path + ".cursor"
	cursor := 0
	if data, err := os.ReadFile(cursorPath); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			cursor = n
		}
	}
	if cursor >= len(responses) {
		return "", false
	}

	if err := os.WriteFile(cursorPath, []byte(strconv.Itoa(cursor+1)), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "mockagent: cannot persist script cursor: %v\n", err)
		os.Exit(1)
	}
	return responses[cursor], true
}

// bumpCheckCount returns the 1-based number of this check. Without a
// state directory every invocation is the first check.
func bumpCheckCount(stateDir string) int {
	if stateDir == "" {
		return 1
	}

	path := filepath.Join(stateDir, "mockagent-checks")
	count := 0
	if data, err := os.ReadFile(path); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			count = n
		}
	}
	count++

	if err := os.WriteFile(path, []byte(strconv.Itoa(count)), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "mockagent: cannot persist check counter: %v\n", err)
		os.Exit(1)
	}
	return count
}

func splitItems(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
