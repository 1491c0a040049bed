// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package messaging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	consoleTealBright = lipgloss.Color("#2CD7C7")
	consoleTealDeep   = lipgloss.Color("#16858E")
	consoleSlate      = lipgloss.Color("#2C4A54")
)

var (
	consoleTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(consoleTealBright)
	consoleLabelStyle = lipgloss.NewStyle().Bold(true)
	consoleMutedStyle = lipgloss.NewStyle().Foreground(consoleSlate)
	consoleCodeStyle  = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(consoleTealDeep).
				Padding(0, 1)
)

// ConsoleMessenger renders summaries to the terminal and collects the
// decision through an interactive form. Piped or CI stdin falls back to
// plain line reading: one action word per line, plain text summaries.
type ConsoleMessenger struct {
	out         io.Writer
	in          *bufio.Reader
	interactive bool
	logger      *slog.Logger
}

// NewConsoleMessenger builds the console channel, probing stdin for a
// real terminal.
func NewConsoleMessenger(logger *slog.Logger) *ConsoleMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	return &ConsoleMessenger{
		out:         os.Stdout,
		in:          bufio.NewReader(os.Stdin),
		interactive: interactive,
		logger:      logger,
	}
}

// SendText prints a status line. The console has no message ids.
func (c *ConsoleMessenger) SendText(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintln(c.out, text)
	return "", nil
}

// SendSummary prints the fix digest, styled when the terminal is
// interactive.
func (c *ConsoleMessenger) SendSummary(ctx context.Context, summary *Summary) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !c.interactive {
		fmt.Fprintln(c.out, summary.Text())
		return "", nil
	}
	fmt.Fprintln(c.out, c.renderSummary(summary))
	return "", nil
}

// AwaitAction prompts for one of the four decisions. On piped stdin it
// accepts one action word per line; EOF reads as terminate.
func (c *ConsoleMessenger) AwaitAction(ctx context.Context) (Action, error) {
	if !c.interactive {
		return c.readActionLine(ctx)
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Next action").
			Options(
				huh.NewOption("Rerun the tests", string(ActionRerun)),
				huh.NewOption("Apply the fix and rerun", string(ActionFixAndRerun)),
				huh.NewOption("Suggest a direction", string(ActionSuggest)),
				huh.NewOption("Terminate the session", string(ActionTerminate)),
			).
			Value(&choice),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			c.logger.Info("messaging: prompt aborted, terminating")
			return ActionTerminate, nil
		}
		return "", fmt.Errorf("messaging: action prompt: %w", err)
	}
	return Action(choice), nil
}

// AwaitFreeText prompts for a free-form suggestion line.
func (c *ConsoleMessenger) AwaitFreeText(ctx context.Context) (string, error) {
	if !c.interactive {
		line, err := c.readLine(ctx)
		if err != nil {
			return "", fmt.Errorf("messaging: read suggestion: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	var text string
	form := huh.NewForm(huh.NewGroup(
		huh.NewText().
			Title("Suggestion for the next repair pass").
			Placeholder("Describe where to look or what to change").
			Value(&text),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", nil
		}
		return "", fmt.Errorf("messaging: suggestion prompt: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (c *ConsoleMessenger) renderSummary(s *Summary) string {
	fnList := consoleMutedStyle.Render("None")
	if len(s.Functions) > 0 {
		lines := make([]string, len(s.Functions))
		for i, fn := range s.Functions {
			lines[i] = "  • " + fn
		}
		fnList = strings.Join(lines, "\n")
	}
	current := s.CurrentBlock
	if current == "" {
		current = consoleMutedStyle.Render("(not available)")
	}

	var b strings.Builder
	b.WriteString(consoleTitleStyle.Render("Bug Fix Summary") + "\n\n")
	b.WriteString(consoleLabelStyle.Render("Hint") + "\n" + s.Cause + "\n\n")
	b.WriteString(consoleLabelStyle.Render("Functions to edit") + "\n" + fnList + "\n\n")
	b.WriteString(consoleLabelStyle.Render("Reason") + "\n" + s.Reason + "\n\n")
	b.WriteString(consoleLabelStyle.Render("Current code") + "\n" + consoleCodeStyle.Render(current) + "\n\n")
	b.WriteString(consoleLabelStyle.Render("Suggested fix") + "\n" + consoleCodeStyle.Render(s.SuggestedBlock) + "\n")
	return b.String()
}

// readActionLine maps piped input words onto decisions. Unknown words
// are reported and skipped so a typo cannot end the session.
func (c *ConsoleMessenger) readActionLine(ctx context.Context) (Action, error) {
	for {
		line, err := c.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Info("messaging: stdin closed, terminating")
				return ActionTerminate, nil
			}
			return "", fmt.Errorf("messaging: read action: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			continue
		case "rerun", "r":
			return ActionRerun, nil
		case "fix", "fix_and_rerun", "f":
			return ActionFixAndRerun, nil
		case "suggest", "s":
			return ActionSuggest, nil
		case "terminate", "t", "quit", "q":
			return ActionTerminate, nil
		default:
			fmt.Fprintf(c.out, "unrecognized action %q (rerun, fix, suggest, terminate)\n",
				strings.TrimSpace(line))
		}
	}
}

func (c *ConsoleMessenger) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
