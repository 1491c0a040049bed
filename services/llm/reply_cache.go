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

// =============================================================================
// ReplyCache — Oracle Reply Persistence
// =============================================================================
//
// Re-triaging the same failure replays the same prompts: the project tree,
// the failure log slice, and the conversation prefix are all deterministic
// for a given run log. This cache persists oracle replies in BadgerDB so a
// repeated prompt is answered locally instead of burning tokens on an
// identical API call.
//
// Design choices:
//
//	1. BadgerDB (embedded): replies are service infrastructure, not user
//	   data. No network call, no availability dependency.
//
//	2. Prompt hash as cache key: SHA256(model + serialized conversation).
//	   Any change to the prompt text or the model produces a different
//	   hash, so there is no explicit invalidation API — just delete the
//	   cache directory.
//
//	3. BadgerDB native TTL: expiry is enforced by BadgerDB's GC, not by
//	   application code. Expired keys return ErrKeyNotFound, which the
//	   cache treats as a miss.
//
// Storage layout:
//
//	triage/reply/v1/{promptHash}  →  gob-encoded cachedReply
//	                                  TTL: 24 hours (configurable)

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// replyCacheDefaultTTL is the default lifetime of a cached oracle reply.
// 24 hours covers the usual fix-rerun-triage cycle without serving replies
// computed against a long-stale codebase.
const replyCacheDefaultTTL = 24 * time.Hour

// replyCacheKeyPrefix is prepended to the prompt hash to form the BadgerDB key.
// Versioned (v1) to allow future format changes without collision.
const replyCacheKeyPrefix = "triage/reply/v1/"

// errReplyCacheMiss is a sentinel used internally to distinguish "key not
// found" (a normal miss) from a genuine storage error in Load.
var errReplyCacheMiss = errors.New("cache miss")

// cachedReply is the gob-encoded value stored for each prompt hash.
type cachedReply struct {
	Text            string
	FinishReason    string
	PromptTokens    int
	CandidateTokens int
	TotalTokens     int
	CreatedAt       int64 // Unix milliseconds UTC
}

// ReplyCache persists oracle replies across triage runs.
//
// # Description
//
// The cache is keyed by a SHA256 digest of the model name and the full
// conversation text. All methods are nil-receiver safe: a nil *ReplyCache
// behaves as an always-miss cache, which is the correct behavior for tests
// and for deployments that do not configure a cache directory.
//
// The DB must be opened by the caller (typically in main) and must not be
// closed before the cache is done being used. The cache does not own the DB.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type ReplyCache struct {
	db     *dgbadger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewReplyCache creates a ReplyCache backed by the given BadgerDB instance.
//
// # Inputs
//
//   - db: Opened BadgerDB instance. Must not be nil.
//   - ttl: Lifetime for each cached reply. Pass 0 to use the default (24h).
//   - logger: Logger for hit/miss diagnostics. May be nil.
//
// # Outputs
//
//   - *ReplyCache: Ready-to-use cache. Never nil.
func NewReplyCache(db *dgbadger.DB, ttl time.Duration, logger *slog.Logger) *ReplyCache {
	if db == nil {
		panic("NewReplyCache: db must not be nil")
	}
	if ttl <= 0 {
		ttl = replyCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyCache{db: db, ttl: ttl, logger: logger}
}

// Load retrieves a cached reply for the given model and conversation.
//
// Returns (nil, nil) on cache miss (key absent or TTL expired).
// Returns (nil, error) on storage or decode failure.
// Returns (result, nil) on cache hit.
func (c *ReplyCache) Load(ctx context.Context, model string, messages []Message) (*GenerateResult, error) {
	if c == nil {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("reply cache load: %w", ctx.Err())
	}

	key := replyCacheKey(model, messages)

	var raw []byte
	err := c.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errReplyCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errReplyCacheMiss) {
		c.logger.Debug("reply cache: miss", slog.String("hash", shortReplyHash(key)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reply cache load: %w", err)
	}

	var entry cachedReply
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		return nil, fmt.Errorf("reply cache decode: %w", err)
	}

	c.logger.Debug("reply cache: hit",
		slog.String("hash", shortReplyHash(key)),
		slog.Int("reply_len", len(entry.Text)),
	)
	return &GenerateResult{
		Text:         entry.Text,
		FinishReason: entry.FinishReason,
		Usage: Usage{
			PromptTokens:    entry.PromptTokens,
			CandidateTokens: entry.CandidateTokens,
			TotalTokens:     entry.TotalTokens,
		},
	}, nil
}

// Save persists an oracle reply with the configured TTL.
//
// Returns non-nil error only on encode or storage failure. The caller logs
// the error as a warning and continues: persistence failure is non-fatal,
// the reply will simply be recomputed next time.
func (c *ReplyCache) Save(ctx context.Context, model string, messages []Message, res *GenerateResult) error {
	if c == nil || res == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("reply cache save: %w", ctx.Err())
	}

	entry := cachedReply{
		Text:            res.Text,
		FinishReason:    res.FinishReason,
		PromptTokens:    res.Usage.PromptTokens,
		CandidateTokens: res.Usage.CandidateTokens,
		TotalTokens:     res.Usage.TotalTokens,
		CreatedAt:       time.Now().UnixMilli(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return fmt.Errorf("reply cache encode: %w", err)
	}

	key := replyCacheKey(model, messages)
	err := c.db.Update(func(txn *dgbadger.Txn) error {
		e := dgbadger.NewEntry(key, buf.Bytes()).WithTTL(c.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("reply cache save: %w", err)
	}

	c.logger.Debug("reply cache: saved",
		slog.String("hash", shortReplyHash(key)),
		slog.Duration("ttl", c.ttl),
	)
	return nil
}

// =============================================================================
// CachedClient — cache decorator over a Client
// =============================================================================

// CachedClient wraps a Client with a ReplyCache.
//
// # Description
//
// On Chat, the cache is consulted first; a hit short-circuits the inner
// client entirely, so the egress guard underneath never sees the request
// and no budget is consumed. Cache errors are logged and treated as misses.
//
// A nil cache makes CachedClient a transparent pass-through.
//
// # Thread Safety
//
// Safe for concurrent use.
type CachedClient struct {
	inner  Client
	cache  *ReplyCache
	model  string
	logger *slog.Logger
}

// NewCachedClient wraps inner with the given reply cache.
//
// # Inputs
//
//   - inner: The client to delegate to on cache miss. Must not be nil.
//   - cache: The reply cache. May be nil (pass-through mode).
//   - model: The model name used in cache keys.
//   - logger: Logger for cache diagnostics. May be nil.
func NewCachedClient(inner Client, cache *ReplyCache, model string, logger *slog.Logger) *CachedClient {
	if inner == nil {
		panic("NewCachedClient: inner must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClient{inner: inner, cache: cache, model: model, logger: logger}
}

// Generate implements Client.Generate through the cache.
func (c *CachedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (*GenerateResult, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements Client.Chat through the cache.
func (c *CachedClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*GenerateResult, error) {
	model := c.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	if cached, err := c.cache.Load(ctx, model, messages); err != nil {
		c.logger.Warn("reply cache load failed, treating as miss", slog.String("error", err.Error()))
	} else if cached != nil {
		return cached, nil
	}

	res, err := c.inner.Chat(ctx, messages, params)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Save(ctx, model, messages, res); err != nil {
		c.logger.Warn("reply cache save failed", slog.String("error", err.Error()))
	}
	return res, nil
}

// =============================================================================
// Helpers
// =============================================================================

// replyCacheKey builds the BadgerDB key for a model + conversation pair.
// The digest covers role boundaries so that moving text between turns
// produces a different key.
func replyCacheKey(model string, messages []Message) []byte {
	h := sha256.New()
	fmt.Fprintf(h, "model=%s\n", model)
	for _, m := range messages {
		fmt.Fprintf(h, "%s\t%d\t%s\n", m.Role, len(m.Content), m.Content)
	}
	return []byte(replyCacheKeyPrefix + hex.EncodeToString(h.Sum(nil)))
}

// shortReplyHash returns the tail of a cache key for log display.
func shortReplyHash(key []byte) string {
	s := string(key)
	if len(s) > len(replyCacheKeyPrefix)+8 {
		return s[len(replyCacheKeyPrefix) : len(replyCacheKeyPrefix)+8] + "..."
	}
	return s
}
