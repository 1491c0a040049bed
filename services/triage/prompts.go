// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triage

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/triage/config"
)

// =============================================================================
// Diagnostic Prompts
// =============================================================================

// diagnoseInstructions is the fixed preamble of every diagnostic turn.
// The %s slot receives the tools section, or "" when no secondary logs
// exist and the action protocol is not advertised.
const diagnoseInstructions = `You are a precise debugging assistant.
%s
Given ONLY the test log below, return STRICT JSON with:

1) "cause": one short, informative sentence (max ~20 words) explaining why the error happened.
2) "hints": an array of objects; each has:
   - "description": concise, actionable description of what caused the error and where
   - "file": absolute or project-relative file path
   - "function": function name if known, else null
   - "line": integer line number if known, else null

The "file" field inside each hint is mandatory. Never leave it null. If
you are not certain, guess the most likely file from the log content or
stack trace.

DO NOT add extra keys. DO NOT wrap in code fences. Return ONLY valid JSON.

IMPORTANT:
- If multiple errors appear to be caused by one root issue, return only ONE consolidated hint.
- You may mention that other errors are cascading from the root cause, but DO NOT list or count them.
- Do not output numbers of errors or hints ("5 errors", "3 hints") — only a single root-cause hint.
`

// diagnoseToolsSection is inserted into diagnoseInstructions when
// secondary output logs are available to read.
const diagnoseToolsSection = `
You have access to one tool:
1) "read_output_log"
   - description: reads the runtime output log (useful for deeper debugging)
   - use this ONLY if the test log does not have enough information
   - you can use it up to 3 times

If you need more context, return:
{"action": "read_output_log"}

If you have enough information, return your analysis wrapped in:
{"action": "final", "result": { ... your normal response here ... }}
`

// diagnoseBestEffort closes a diagnostic conversation that ran out of
// steps without a final analysis.
const diagnoseBestEffort = `You have reached the maximum number of steps.
Based on the log and all gathered context, provide your BEST GUESS now.

You MUST return STRICT JSON with "cause" and "hints" as instructed
before. If you cannot identify the failure, say so in "cause" and return
an empty "hints" array.
`

// questionInstructions answers one clarifying question from the repair
// conversation, grounded only in the failure log.
const questionInstructions = `You are a debugging assistant.
A repair agent is trying to fix an error and has a question about the logs.

Answer the question based ONLY on the log content below.
Be concise and specific. If the answer is not in the logs, say so.

--- QUESTION ---
%s

--- LOG ---
%s

Answer in plain text, no JSON needed.
`

// buildDiagnosePrompt renders one diagnostic turn.
func buildDiagnosePrompt(logText string, state *ToolCallState, hasTools bool) string {
	var b strings.Builder
	tools := ""
	if hasTools {
		tools = diagnoseToolsSection
	}
	b.WriteString(fmt.Sprintf(diagnoseInstructions, tools))
	b.WriteString("\n--- LOG START ---\n")
	b.WriteString(logText)
	b.WriteString("\n--- LOG END ---\n")
	if !state.Empty() {
		b.WriteString("\n--- KNOWN CONTEXT ---\n")
		b.WriteString(state.ContextJSON())
		b.WriteString("\n")
	}
	return b.String()
}

// buildDiagnoseBestEffortPrompt renders the single closing diagnostic turn.
func buildDiagnoseBestEffortPrompt(logText string, state *ToolCallState) string {
	var b strings.Builder
	b.WriteString(diagnoseBestEffort)
	b.WriteString("\n--- LOG START ---\n")
	b.WriteString(logText)
	b.WriteString("\n--- LOG END ---\n")
	if !state.Empty() {
		b.WriteString("\n--- KNOWN CONTEXT ---\n")
		b.WriteString(state.ContextJSON())
		b.WriteString("\n")
	}
	return b.String()
}

// buildQuestionPrompt renders one secondary question-answering request.
func buildQuestionPrompt(question, logText string) string {
	return fmt.Sprintf(questionInstructions, question, logText)
}

// =============================================================================
// Repair Prompts
// =============================================================================

// repairInstructions is the fixed preamble of every repair turn. The
// two %s slots receive the hint text and the serialized context block.
const repairInstructions = `You are an autonomous debugging agent. You have ONLY a short failure hint.
You can ask the controller to run LOCAL TOOLS for you, and you will receive their outputs.

CRITICAL RULES:
- NEVER suggest fixes to files inside node_modules/, vendor/, or any dependency folder
- NEVER suggest fixes to third-party libraries
- The bug is ALWAYS in the project's own code, not in dependencies
- If the error originates from a dependency, find the PROJECT code that calls it incorrectly
- Consider configuration files, test setup, or initialization code as candidates

Available tools you can request with an "action":
1) "run_tree"
   - description: prints the project structure (dirs and files), excluding hidden and dependency dirs
   - params: none
   - output label: "PROJECT_TREE"
2) "extract_function"
   - description: prints a function by name from a specific file
   - params:
       "file_path": string
       "function_name": string (MUST be provided)
   - IMPORTANT: never call extract_function without function_name
   - output label: "FUNCTION::<file>::<func>"
3) "read_file"
   - description: returns the FULL content of a file
   - WARNING: this tool is extremely expensive. Use it ONLY if no function name can be inferred.
   - params:
       "file_path": string (absolute or project-relative)
   - output label: "FILE::<path>"
4) "ask_oracle"
   - description: ask the diagnostic oracle a question about the failure logs. Use this when
     you need details about the error that are not in the hint.
   - WARNING: this tool is VERY expensive. Use it ONLY as a last resort.
   - params:
       "question": string (your question about the logs)
   - you can use it up to 3 times
   - output label: "ORACLE_ANSWER"

Goal:
- Propose a MINIMAL fix that changes as little logic as possible.
- List which function(s) should be edited.
- Provide a short reason.
- Provide a MINIMAL patch with ONLY the lines that change:
  - removed lines start with "-"
  - added lines start with "+"
  - do NOT include context lines (unchanged lines)
  - do NOT include file headers
  - no code fences
  - Example: if changing one line, return only 2 lines (one "-" and one "+")

Loop:
- If you need more context, return an action to run a tool with the correct params.
- If you have enough information, return "final" with the result.

STRICT JSON ONLY for EVERY step.

Schema for a non-final step:
{"action": "run_tree" | "extract_function" | "read_file" | "ask_oracle", "params": { ... }}

For extract_function:
{"action": "extract_function", "params": {"file_path": "path/to/file.go", "function_name": "myFunc"}}

Schema for the final step:
{
  "action": "final",
  "result": {
    "functions_to_edit": ["file.go:funcName", ...],
    "reason": "one short informative sentence",
    "patch_suggestion": "a small diff hunk (only +/- lines, no headers, no code fences, minimal change)"
  }
}

Additional rule:
- If multiple failures exist but clearly originate from a single root issue, treat them as one problem.
- You may state that other failures are cascading from the same source, but DO NOT enumerate or count them.
- Do not reference quantities like "x errors" or "y hints".

Now your inputs:

--- HINT ---
%s

--- KNOWN CONTEXT (controller accumulates tool outputs for you) ---
%s
`

// repairBestEffort closes a repair conversation that ran out of steps.
const repairBestEffort = `You have reached the maximum number of steps.
Based on all the context you gathered, provide your BEST GUESS for a fix.
If you cannot provide a fix, explain what information is missing and what the problem seems to be.

You MUST return a final JSON response now:
{
  "action": "final",
  "result": {
    "functions_to_edit": ["file.go:funcName"],
    "reason": "your best explanation",
    "patch_suggestion": "your best guess for the fix, or explanation of the problem"
  }
}

--- HINT ---
%s

--- CONTEXT ---
%s
`

// buildRepairPrompt renders one repair turn.
func buildRepairPrompt(hintText string, state *ToolCallState) string {
	return fmt.Sprintf(repairInstructions, hintText, state.ContextJSON())
}

// buildRepairBestEffortPrompt renders the single closing repair turn.
// The hint is halved so the gathered context keeps room in the prompt.
func buildRepairBestEffortPrompt(hintText string, state *ToolCallState, hintLimit int) string {
	return fmt.Sprintf(repairBestEffort, Clip(hintText, hintLimit/2), state.ContextJSON())
}

// =============================================================================
// Log Relevance Filter
// =============================================================================

// failureKeywords mark log lines worth showing to the oracle.
var failureKeywords = []string{"error", "fail", "exception", "traceback", "assert"}

const (
	// relevantLinesBefore and relevantLinesAfter bound the window kept
	// around each keyword line.
	relevantLinesBefore = 3
	relevantLinesAfter  = 10
)

// RelevantLog reduces a raw test log to the windows around failure
// keywords, capped at maxChars.
//
// # Description
//
// For every line containing a failure keyword (case-insensitive), the
// window from 3 lines before to 10 lines after is kept, in order; windows
// may overlap and repeat, matching how much emphasis a noisy log puts on
// its failures. When no keyword appears at all, the tail of the log is
// returned instead — the end usually carries the summary.
func RelevantLog(logText string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = config.DefaultContextCharLimit
	}
	lines := strings.Split(logText, "\n")

	var relevant []string
	for i, line := range lines {
		if !containsFailureKeyword(line) {
			continue
		}
		start := i - relevantLinesBefore
		if start < 0 {
			start = 0
		}
		end := i + relevantLinesAfter
		if end > len(lines) {
			end = len(lines)
		}
		relevant = append(relevant, lines[start:end]...)
	}

	if len(relevant) == 0 {
		if len(logText) > maxChars {
			return logText[len(logText)-maxChars:]
		}
		return logText
	}

	return Clip(strings.Join(relevant, "\n"), maxChars)
}

// containsFailureKeyword reports whether a log line mentions a failure.
func containsFailureKeyword(line string) bool {
	low := strings.ToLower(line)
	for _, kw := range failureKeywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}
