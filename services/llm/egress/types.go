// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package egress provides spend control for oracle calls. It implements a
// decorator that wraps the raw LLM client with pre-flight checks (rate
// limiting, session token budget) and post-call accounting (budget
// recording, Prometheus metrics), plus the secret manager that supplies
// provider credentials.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use unless documented
//	otherwise.
package egress

import "errors"

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrTokenBudgetExhausted is returned when the session's token budget
	// cannot cover the estimated cost of the next oracle call.
	ErrTokenBudgetExhausted = errors.New("egress: token budget exhausted")

	// ErrRateLimited is returned when the provider's rate limit has been
	// exceeded.
	ErrRateLimited = errors.New("egress: rate limited")

	// ErrSecretNotFound is returned when a required secret cannot be
	// retrieved from the secret backend.
	ErrSecretNotFound = errors.New("egress: secret not found")
)
