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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/llm/egress"
	"github.com/AleutianAI/AleutianTriage/services/patch"
	"github.com/AleutianAI/AleutianTriage/services/triage/artifacts"
	"github.com/AleutianAI/AleutianTriage/services/triage/config"
	"github.com/AleutianAI/AleutianTriage/services/triage/messaging"
	"github.com/AleutianAI/AleutianTriage/services/triage/runner"
	"github.com/AleutianAI/AleutianTriage/services/triage/tools"
	"github.com/AleutianAI/AleutianTriage/services/triage/vcs"
)

// diagnoser produces a Hint for one raw test log and answers clarifying
// questions scoped to it.
type diagnoser interface {
	Run(ctx context.Context) (*artifacts.Hint, string, error)
	AnswerQuestion(ctx context.Context, question string) (string, error)
}

// repairer produces a Fix for one hint. A degraded outcome returns a nil
// Fix and no error.
type repairer interface {
	Run(ctx context.Context) (*artifacts.Fix, string, error)
}

// Controller drives triage sessions: test run, diagnosis, repair, report,
// then whatever the human decides, until terminate or budget exhaustion.
//
// # Description
//
// One iteration is runner → diagnose loop → repair loop → summary out →
// decision in. A clean diagnosis skips the repair loop. A failing fix
// application never ends the session; the rerun that follows shows
// whether anything improved. The token ceiling is the only thing that
// overrides the human: once the session budget is spent, the session
// ends no matter what was requested.
//
// # Thread Safety
//
// One controller drives one session from one goroutine. UpdateConfig is
// the exception: the config watcher may call it from its own goroutine.
// Concurrent readers use Session.Snapshot.
type Controller struct {
	mu        sync.Mutex
	cfg       *config.Config
	oracle    llm.Client
	store     *artifacts.Store
	runner    *runner.Runner
	git       *vcs.Manager
	messenger messaging.Messenger
	session   *Session
	logger    *slog.Logger

	// Loop factories, swappable in tests.
	newDiagnose func(rawLog string) diagnoser
	newRepair   func(answerer QuestionAnswerer, hintText string) repairer

	// lastLog is the most recent test log text; the suggest flow grounds
	// its clarifying-question oracle in it without a fresh test run.
	lastLog string
}

// NewController wires a controller for one session.
//
// Inputs:
//   - cfg: Loaded configuration.
//   - oracle: Generation backend, typically the guarded client.
//   - store: Artifact store shared with the status surface.
//   - run: Test runner.
//   - git: Commit manager. May be nil when commits are disabled.
//   - messenger: Human channel.
//   - session: Session state shared with the status surface.
//   - logger: Logger. May be nil.
func NewController(cfg *config.Config, oracle llm.Client, store *artifacts.Store,
	run *runner.Runner, git *vcs.Manager, messenger messaging.Messenger,
	session *Session, logger *slog.Logger) (*Controller, error) {

	switch {
	case cfg == nil:
		return nil, errors.New("controller: nil config")
	case oracle == nil:
		return nil, errors.New("controller: nil oracle")
	case store == nil:
		return nil, errors.New("controller: nil artifact store")
	case run == nil:
		return nil, errors.New("controller: nil runner")
	case messenger == nil:
		return nil, errors.New("controller: nil messenger")
	case session == nil:
		return nil, errors.New("controller: nil session")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		cfg:       cfg,
		oracle:    oracle,
		store:     store,
		runner:    run,
		git:       git,
		messenger: messenger,
		session:   session,
		logger:    logger,
	}
	c.newDiagnose = func(rawLog string) diagnoser {
		return NewDiagnoseLoop(oracle, store, rawLog, c.config().Loops, logger)
	}
	c.newRepair = func(answerer QuestionAnswerer, hintText string) repairer {
		cur := c.config()
		return NewRepairLoop(oracle, store, answerer, cur.Project.Root, hintText, cur.Loops, logger)
	}
	return c, nil
}

// UpdateConfig swaps the configuration read by subsequent iterations.
// Collaborators built at startup (runner, store, messenger) keep their
// original settings; loop budgets and limits take effect on the next
// pass. Safe to call from the config watcher goroutine.
func (c *Controller) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Controller) config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Start runs the session until the human terminates it, the token budget
// runs out, or an unrecoverable error occurs.
func (c *Controller) Start(ctx context.Context) error {
	cfg := c.config()
	c.logger.Info("triage session starting",
		slog.String("session_id", c.session.ID),
		slog.String("project", cfg.Project.Root),
		slog.String("command", cfg.Runner.Command),
	)

	action, err := c.runIteration(ctx)
	for {
		if err != nil {
			if errors.Is(err, egress.ErrTokenBudgetExhausted) {
				c.endForBudget(ctx)
				return nil
			}
			c.session.End("error")
			return err
		}
		if c.session.Budget.Exhausted() {
			c.endForBudget(ctx)
			return nil
		}

		switch action {
		case messaging.ActionTerminate:
			c.session.End("terminated")
			c.logger.Info("session terminated", slog.String("session_id", c.session.ID))
			c.sendInfo(ctx, "Session ended. "+c.session.Budget.Summary())
			return nil

		case messaging.ActionRerun:
			action, err = c.runIteration(ctx)

		case messaging.ActionFixAndRerun:
			if aerr := c.applyFixAndCommit(ctx); aerr != nil {
				c.logger.Warn("fix application failed",
					slog.String("error", aerr.Error()),
				)
				c.sendInfo(ctx, "⚠️ Fix application failed: "+aerr.Error()+" — rerunning anyway.")
			}
			action, err = c.runIteration(ctx)

		case messaging.ActionSuggest:
			action, err = c.repairWithFeedback(ctx)

		default:
			c.session.End("error")
			return fmt.Errorf("controller: unexpected decision %q", action)
		}
	}
}

// runIteration performs one full triage pass and returns the human's
// decision on it.
func (c *Controller) runIteration(ctx context.Context) (messaging.Action, error) {
	start := time.Now()
	iteration := c.session.BeginIteration()
	c.logger.Info("triage iteration starting",
		slog.String("session_id", c.session.ID),
		slog.Int("iteration", iteration),
	)

	// === Test Run ===

	c.session.SetPhase(PhaseRunningTests)
	res, err := c.runner.Run(ctx)
	if err != nil {
		if !errors.Is(err, runner.ErrRunTimeout) {
			RecordTestRun("error")
			return "", fmt.Errorf("controller: test run: %w", err)
		}
		// The partial log of a timed-out run still diagnoses fine.
		RecordTestRun("timeout")
	} else if res.ExitCode == 0 {
		RecordTestRun("passed")
	} else {
		RecordTestRun("failed")
	}
	c.session.RecordTest(res.TimedOut || res.ExitCode != 0)

	logData, err := os.ReadFile(res.LogPath)
	if err != nil {
		return "", fmt.Errorf("controller: reading test log: %w", err)
	}
	c.lastLog = string(logData)
	c.logger.Info("test run finished",
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Duration("duration", res.Duration),
		slog.Int("log_bytes", len(logData)),
	)

	// === Diagnose ===

	c.session.SetPhase(PhaseDiagnosing)
	diag := c.newDiagnose(c.lastLog)
	hint, _, err := diag.Run(ctx)
	if err != nil {
		return "", err
	}
	c.session.RecordHint()

	if hint.Clean() {
		RecordIterationDuration(time.Since(start).Seconds())
		c.logger.Info("diagnosis found no failure", slog.Int("iteration", iteration))
		c.session.SetPhase(PhaseAwaitingHuman)
		c.sendInfo(ctx, fmt.Sprintf("✅ No failure diagnosed (exit %d in %s).",
			res.ExitCode, res.Duration.Round(time.Millisecond)))
		return c.awaitAction(ctx)
	}

	// === Repair ===

	if err := c.repair(ctx, diag, ""); err != nil {
		return "", err
	}

	RecordIterationDuration(time.Since(start).Seconds())
	return c.report(ctx)
}

// repair runs the repair loop on the latest hint, optionally extended
// with human feedback.
func (c *Controller) repair(ctx context.Context, answerer QuestionAnswerer, feedback string) error {
	c.session.SetPhase(PhaseRepairing)

	hintText, err := c.store.LatestHintText(ctx)
	if err != nil {
		return fmt.Errorf("controller: loading hint: %w", err)
	}
	if feedback != "" {
		hintText = hintText + "\n\n--- USER FEEDBACK ---\n" + feedback
	}

	fix, _, err := c.newRepair(answerer, hintText).Run(ctx)
	if err != nil {
		return err
	}
	if fix != nil {
		c.session.RecordFix()
	}
	return nil
}

// repairWithFeedback serves the suggest decision: collect free text from
// the human and rerun only the repair loop, on the previous hint extended
// with that text. No test rerun, no fresh diagnosis.
func (c *Controller) repairWithFeedback(ctx context.Context) (messaging.Action, error) {
	c.sendInfo(ctx, "💬 Send your suggestion as a message.")
	feedback, err := c.messenger.AwaitFreeText(ctx)
	if err != nil {
		return "", fmt.Errorf("controller: awaiting suggestion: %w", err)
	}
	c.logger.Info("human suggestion received", slog.Int("chars", len(feedback)))

	if err := c.repair(ctx, c.newDiagnose(c.lastLog), feedback); err != nil {
		return "", err
	}
	return c.report(ctx)
}

// report sends the hint-plus-fix summary and waits for a decision.
func (c *Controller) report(ctx context.Context) (messaging.Action, error) {
	c.session.SetPhase(PhaseAwaitingHuman)

	summary, err := messaging.BuildSummary(ctx, c.store)
	if err != nil {
		c.logger.Warn("summary build failed", slog.String("error", err.Error()))
		c.sendInfo(ctx, "Triage pass complete, but the summary could not be built: "+err.Error())
	} else if _, err := c.messenger.SendSummary(ctx, summary); err != nil {
		return "", fmt.Errorf("controller: sending summary: %w", err)
	}
	return c.awaitAction(ctx)
}

func (c *Controller) awaitAction(ctx context.Context) (messaging.Action, error) {
	action, err := c.messenger.AwaitAction(ctx)
	if err != nil {
		return "", fmt.Errorf("controller: awaiting decision: %w", err)
	}
	RecordHumanAction(string(action))
	c.session.RecordAction(string(action))
	c.logger.Info("human decision received", slog.String("action", string(action)))
	return action, nil
}

// applyFixAndCommit applies the latest fix's patch to its target file and
// commits the result. Every failure is reported to the caller and none is
// fatal to the session.
func (c *Controller) applyFixAndCommit(ctx context.Context) error {
	c.session.SetPhase(PhaseApplyingFix)

	fix, _, err := c.store.LatestFix(ctx)
	if err != nil {
		return fmt.Errorf("controller: loading fix: %w", err)
	}
	if strings.TrimSpace(fix.PatchSuggestion) == "" {
		RecordPatchResult("no_hunks", 0, 0)
		return errors.New("controller: fix carries no patch suggestion")
	}
	target := fix.TargetFile()
	if target == "" {
		RecordPatchResult("missing_target", 0, 0)
		return errors.New("controller: fix names no target file")
	}

	cfg := c.config()
	if c.git != nil && !c.git.PrepareBranch(ctx) {
		c.logger.Warn("fix branch unavailable, applying on current branch",
			slog.String("branch", cfg.Git.BranchName),
		)
	}

	path := tools.ResolvePath(cfg.Project.Root, target)
	res, err := patch.ApplyToFile(path, fix.PatchSuggestion)
	switch {
	case errors.Is(err, patch.ErrTargetFileMissing):
		RecordPatchResult("missing_target", 0, 0)
		return err
	case errors.Is(err, patch.ErrNoHunksApplied):
		RecordPatchResult("no_hunks", res.Applied, res.Total-res.Applied)
		return err
	case err != nil:
		RecordPatchResult("error", res.Applied, res.Total-res.Applied)
		return err
	}

	outcome := "applied"
	if res.Applied < res.Total {
		outcome = "partial"
	}
	RecordPatchResult(outcome, res.Applied, res.Total-res.Applied)
	c.session.RecordApplied()
	c.logger.Info("fix applied",
		slog.String("file", path),
		slog.Int("hunks_applied", res.Applied),
		slog.Int("hunks_total", res.Total),
	)

	if c.git != nil && !c.git.StageAndCommit(ctx, path, fix.Reason) {
		c.logger.Warn("commit failed, fix left in working tree",
			slog.String("file", path),
		)
	}
	return nil
}

// endForBudget ends the session because the token ceiling was reached.
func (c *Controller) endForBudget(ctx context.Context) {
	c.session.End("budget_exhausted")
	c.logger.Warn("token budget exhausted, ending session",
		slog.String("session_id", c.session.ID),
		slog.String("budget", c.session.Budget.Summary()),
	)
	c.sendInfo(ctx, "⛔ Token budget exhausted — ending session. "+c.session.Budget.Summary())
}

// sendInfo sends informational text to the human; delivery failures are
// logged, never fatal.
func (c *Controller) sendInfo(ctx context.Context, text string) {
	if _, err := c.messenger.SendText(ctx, text); err != nil {
		c.logger.Warn("message delivery failed", slog.String("error", err.Error()))
	}
}
