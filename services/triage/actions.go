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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAction means the oracle requested an action outside the
// advertised protocol. The conversation treats this as a contract
// violation and aborts instead of retrying.
var ErrUnknownAction = errors.New("triage: unknown oracle action")

// ErrMalformedReply means an oracle reply held no decodable JSON object,
// even after stripping code fences and scanning for an embedded object.
var ErrMalformedReply = errors.New("triage: oracle reply is not JSON")

// ActionKind discriminates what the oracle asked for in one reply.
type ActionKind string

const (
	// ActionRunTree requests the project directory listing.
	ActionRunTree ActionKind = "run_tree"

	// ActionExtractFunction requests one function body from one file.
	ActionExtractFunction ActionKind = "extract_function"

	// ActionReadFile requests the full content of one file.
	ActionReadFile ActionKind = "read_file"

	// ActionAskOracle requests a clarifying answer from the diagnostic
	// oracle, scoped to the original failure log.
	ActionAskOracle ActionKind = "ask_oracle"

	// ActionReadOutputLog requests the latest secondary log. Only the
	// diagnostic conversation advertises it.
	ActionReadOutputLog ActionKind = "read_output_log"

	// ActionFinal carries the terminal result object.
	ActionFinal ActionKind = "final"

	// ActionBareResult marks a JSON object that carried no "action" key.
	// The diagnostic conversation accepts it as a final analysis; the
	// repair conversation does not.
	ActionBareResult ActionKind = "bare_result"

	// ActionUnknown marks an unrecognized action name or a recognized one
	// missing a required parameter. Both abort the conversation.
	ActionUnknown ActionKind = "unknown"
)

// Action is one decoded oracle request. Only the fields relevant to its
// Kind are populated.
type Action struct {
	// Kind discriminates which payload fields are meaningful.
	Kind ActionKind

	// Name is the raw action string as sent, kept for error reporting.
	Name string

	// File is the file reference for extract_function and read_file.
	File string

	// Function is the function name for extract_function.
	Function string

	// Question is the free-text question for ask_oracle.
	Question string

	// Result is the raw result object for final and bare replies.
	Result json.RawMessage
}

// replyParams is the params object shared by all tool requests. Extra
// fields are ignored; absent fields decode to "".
type replyParams struct {
	FilePath     string `json:"file_path"`
	FunctionName string `json:"function_name"`
	Question     string `json:"question"`
}

// replyEnvelope is the wire shape of one oracle reply. Action is a
// pointer so an absent key and an empty string both read as "no action".
type replyEnvelope struct {
	Action *string         `json:"action"`
	Params replyParams     `json:"params"`
	Result json.RawMessage `json:"result"`
}

// ParseAction decodes an oracle reply into an Action.
//
// # Description
//
// Decoding is two layers deep: strip an accidental Markdown code fence,
// then try a strict JSON parse; if that fails, scan for the first
// balanced {...} substring and parse that. A reply that survives neither
// layer is ErrMalformedReply — the caller records the raw text as a
// degraded artifact rather than crashing or looping.
//
// A decoded object with no "action" key becomes ActionBareResult carrying
// the whole object, because the diagnostic oracle answers without an
// envelope when no tools were advertised. A recognized action missing a
// required parameter becomes ActionUnknown.
func ParseAction(reply string) (Action, error) {
	text := StripCodeFences(reply)

	payload := []byte(text)
	env, err := decodeEnvelope(payload)
	if err != nil {
		obj, ok := firstJSONObject(text)
		if !ok {
			return Action{}, fmt.Errorf("parsing oracle reply: %w", ErrMalformedReply)
		}
		payload = []byte(obj)
		if env, err = decodeEnvelope(payload); err != nil {
			return Action{}, fmt.Errorf("parsing extracted object: %w", ErrMalformedReply)
		}
	}

	return env.toAction(payload), nil
}

// decodeEnvelope parses payload strictly as a reply envelope object.
func decodeEnvelope(payload []byte) (replyEnvelope, error) {
	var env replyEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return replyEnvelope{}, err
	}
	return env, nil
}

// toAction maps a decoded envelope onto the closed action variant.
// payload is the full decoded object, kept whole for bare replies.
func (e replyEnvelope) toAction(payload []byte) Action {
	name := ""
	if e.Action != nil {
		name = strings.TrimSpace(*e.Action)
	}

	switch name {
	case "":
		return Action{Kind: ActionBareResult, Result: json.RawMessage(payload)}
	case "run_tree":
		return Action{Kind: ActionRunTree, Name: name}
	case "extract_function":
		if e.Params.FilePath == "" || e.Params.FunctionName == "" {
			return Action{Kind: ActionUnknown, Name: name}
		}
		return Action{
			Kind:     ActionExtractFunction,
			Name:     name,
			File:     e.Params.FilePath,
			Function: e.Params.FunctionName,
		}
	case "read_file":
		if e.Params.FilePath == "" {
			return Action{Kind: ActionUnknown, Name: name}
		}
		return Action{Kind: ActionReadFile, Name: name, File: e.Params.FilePath}
	case "ask_oracle":
		if e.Params.Question == "" {
			return Action{Kind: ActionUnknown, Name: name}
		}
		return Action{Kind: ActionAskOracle, Name: name, Question: e.Params.Question}
	case "read_output_log":
		return Action{Kind: ActionReadOutputLog, Name: name}
	case "final":
		return Action{Kind: ActionFinal, Name: name, Result: e.Result}
	default:
		return Action{Kind: ActionUnknown, Name: name}
	}
}

// StripCodeFences removes a Markdown fence wrapper from an oracle reply.
// Oracles occasionally wrap JSON in ```json fences despite instructions.
func StripCodeFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.Trim(t, "`")
	t = strings.TrimSpace(t)
	if len(t) >= 4 && strings.EqualFold(t[:4], "json") {
		t = strings.TrimSpace(t[4:])
	}
	return t
}

// firstJSONObject returns the first balanced {...} substring of text.
//
// The scan is quote- and escape-aware, so braces inside string values do
// not unbalance it. Returns false when no complete object exists.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
