// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"testing"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// newTestDB creates an in-memory BadgerDB for testing.
func newTestDB(t *testing.T) *dgbadger.DB {
	t.Helper()
	opts := dgbadger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := dgbadger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReplyCache_MissThenHit(t *testing.T) {
	cache := NewReplyCache(newTestDB(t), 0, nil)
	ctx := context.Background()

	messages := []Message{
		{Role: "system", Content: "triage"},
		{Role: "user", Content: "diagnose this failure"},
	}

	got, err := cache.Load(ctx, "gemini-1.5-flash", messages)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss on empty cache, got %+v", got)
	}

	saved := &GenerateResult{
		Text:         `{"action": "run_tree", "parameters": {}}`,
		FinishReason: "STOP",
		Usage:        Usage{PromptTokens: 100, CandidateTokens: 20, TotalTokens: 120},
	}
	if err := cache.Save(ctx, "gemini-1.5-flash", messages, saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err = cache.Load(ctx, "gemini-1.5-flash", messages)
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if got == nil {
		t.Fatal("expected hit after save")
	}
	if got.Text != saved.Text {
		t.Errorf("text = %q, want %q", got.Text, saved.Text)
	}
	if got.Usage.TotalTokens != 120 {
		t.Errorf("total tokens = %d, want 120", got.Usage.TotalTokens)
	}
}

func TestReplyCache_KeyedByModel(t *testing.T) {
	cache := NewReplyCache(newTestDB(t), 0, nil)
	ctx := context.Background()

	messages := []Message{{Role: "user", Content: "same prompt"}}
	if err := cache.Save(ctx, "gemini-1.5-flash", messages, &GenerateResult{Text: "flash"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := cache.Load(ctx, "gemini-2.0-pro", messages)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("different model must not hit, got %+v", got)
	}
}

func TestReplyCache_KeyedByConversation(t *testing.T) {
	cache := NewReplyCache(newTestDB(t), 0, nil)
	ctx := context.Background()

	if err := cache.Save(ctx, "m", []Message{{Role: "user", Content: "a"}}, &GenerateResult{Text: "one"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Same text in a different role must not collide.
	got, err := cache.Load(ctx, "m", []Message{{Role: "assistant", Content: "a"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("different role must not hit, got %+v", got)
	}
}

func TestReplyCache_NilReceiver(t *testing.T) {
	var cache *ReplyCache
	ctx := context.Background()

	got, err := cache.Load(ctx, "m", []Message{{Role: "user", Content: "x"}})
	if err != nil || got != nil {
		t.Errorf("nil cache Load = (%v, %v), want (nil, nil)", got, err)
	}
	if err := cache.Save(ctx, "m", nil, &GenerateResult{Text: "x"}); err != nil {
		t.Errorf("nil cache Save should be a no-op, got %v", err)
	}
}

// scriptedClient returns canned results in order and counts calls.
type scriptedClient struct {
	results []*GenerateResult
	calls   int
}

func (s *scriptedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (*GenerateResult, error) {
	return s.Chat(ctx, []Message{{Role: "user", Content: prompt}}, params)
}

func (s *scriptedClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*GenerateResult, error) {
	if s.calls >= len(s.results) {
		return nil, fmt.Errorf("scripted client exhausted after %d calls", s.calls)
	}
	res := s.results[s.calls]
	s.calls++
	return res, nil
}

func TestCachedClient_SecondCallServedFromCache(t *testing.T) {
	inner := &scriptedClient{results: []*GenerateResult{{Text: "first", FinishReason: "STOP"}}}
	cache := NewReplyCache(newTestDB(t), 0, nil)
	client := NewCachedClient(inner, cache, "gemini-1.5-flash", nil)
	ctx := context.Background()

	res1, err := client.Generate(ctx, "prompt", GenerationParams{})
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	res2, err := client.Generate(ctx, "prompt", GenerationParams{})
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1 (second call should be cached)", inner.calls)
	}
	if res1.Text != res2.Text {
		t.Errorf("cached text %q differs from original %q", res2.Text, res1.Text)
	}
}

func TestCachedClient_NilCachePassThrough(t *testing.T) {
	inner := &scriptedClient{results: []*GenerateResult{{Text: "a"}, {Text: "b"}}}
	client := NewCachedClient(inner, nil, "gemini-1.5-flash", nil)
	ctx := context.Background()

	if _, err := client.Generate(ctx, "p", GenerationParams{}); err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if _, err := client.Generate(ctx, "p", GenerationParams{}); err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2 (nil cache must not cache)", inner.calls)
	}
}
