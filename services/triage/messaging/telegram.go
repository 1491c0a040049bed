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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianTriage/services/llm/egress"
)

// telegramAPIBase is the bot API root; the bot token is appended to it.
const telegramAPIBase = "https://api.telegram.org/bot"

// pollPause paces getUpdates calls so a failing API cannot be hammered.
const pollPause = 500 * time.Millisecond

// TelegramMessenger talks to one chat through the Telegram bot API. It
// sends summaries with an inline keyboard and long-polls getUpdates for
// the button press or a plain text reply.
//
// # Thread Safety
//
// Not safe for concurrent use. One session drives one messenger.
type TelegramMessenger struct {
	apiURL      string
	chatID      string
	client      *http.Client
	limiter     *rate.Limiter
	pollTimeout time.Duration

	// offset is the next update id to request. Zero means no update has
	// been seen yet and getUpdates is called without an offset.
	offset int64

	logger *slog.Logger
}

// NewTelegramMessenger resolves TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID
// through the secret manager and builds the channel. A missing credential
// is an error; mode "auto" relies on that to fall back to the console.
func NewTelegramMessenger(ctx context.Context, secrets *egress.SecretManager, pollTimeout time.Duration, logger *slog.Logger) (*TelegramMessenger, error) {
	if secrets == nil {
		return nil, fmt.Errorf("messaging: secret manager is required")
	}
	token, err := secrets.GetSecret(ctx, "TELEGRAM_BOT_TOKEN")
	if err != nil {
		return nil, fmt.Errorf("messaging: telegram bot token: %w", err)
	}
	chatID, err := secrets.GetSecret(ctx, "TELEGRAM_CHAT_ID")
	if err != nil {
		return nil, fmt.Errorf("messaging: telegram chat id: %w", err)
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramMessenger{
		apiURL: telegramAPIBase + token,
		// The client timeout must outlive the server-side long poll.
		client:      &http.Client{Timeout: pollTimeout + 15*time.Second},
		chatID:      chatID,
		limiter:     rate.NewLimiter(rate.Every(pollPause), 1),
		pollTimeout: pollTimeout,
		logger:      logger,
	}, nil
}

// SendText delivers a short status line without markup or keyboard.
func (t *TelegramMessenger) SendText(ctx context.Context, text string) (string, error) {
	return t.sendMessage(ctx, url.Values{
		"chat_id": {t.chatID},
		"text":    {text},
	})
}

// SendSummary delivers the HTML summary with the four decision buttons.
func (t *TelegramMessenger) SendSummary(ctx context.Context, summary *Summary) (string, error) {
	keyboard, err := json.Marshal(map[string]any{
		"inline_keyboard": [][]map[string]string{
			{
				{"text": "🔁 Rerun", "callback_data": string(ActionRerun)},
				{"text": "🛠 Fix & Rerun", "callback_data": string(ActionFixAndRerun)},
			},
			{
				{"text": "💬 Suggest", "callback_data": string(ActionSuggest)},
				{"text": "⛔ Terminate", "callback_data": string(ActionTerminate)},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("messaging: marshal keyboard: %w", err)
	}
	return t.sendMessage(ctx, url.Values{
		"chat_id":      {t.chatID},
		"text":         {summary.HTML()},
		"parse_mode":   {"HTML"},
		"reply_markup": {string(keyboard)},
	})
}

// AwaitAction long-polls getUpdates until a keyboard button is pressed.
// Updates queued before the call are drained first so a stale press from
// an earlier summary cannot answer this one.
func (t *TelegramMessenger) AwaitAction(ctx context.Context) (Action, error) {
	if err := t.drain(ctx); err != nil {
		return "", err
	}
	for {
		updates, err := t.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			t.logger.Warn("messaging: getUpdates failed, retrying",
				slog.String("error", err.Error()))
			continue
		}
		for _, u := range updates {
			t.offset = u.UpdateID + 1
			if u.CallbackQuery == nil {
				continue
			}
			t.answerCallback(ctx, u.CallbackQuery.ID)
			action := Action(u.CallbackQuery.Data)
			if !action.Valid() {
				t.logger.Warn("messaging: ignoring unknown callback data",
					slog.String("data", u.CallbackQuery.Data))
				continue
			}
			t.logger.Info("messaging: human decision received",
				slog.String("action", string(action)))
			return action, nil
		}
	}
}

// AwaitFreeText long-polls until the chat sends a plain text message and
// returns that text. The offset is not re-drained here: text typed right
// after the Suggest press must still be seen.
func (t *TelegramMessenger) AwaitFreeText(ctx context.Context) (string, error) {
	for {
		updates, err := t.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			t.logger.Warn("messaging: getUpdates failed, retrying",
				slog.String("error", err.Error()))
			continue
		}
		for _, u := range updates {
			t.offset = u.UpdateID + 1
			if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
				continue
			}
			if strconv.FormatInt(u.Message.Chat.ID, 10) != t.chatID {
				continue
			}
			return strings.TrimSpace(u.Message.Text), nil
		}
	}
}

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
	Message       *tgMessage       `json:"message"`
}

type tgCallbackQuery struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type tgMessage struct {
	Text string `json:"text"`
	Chat tgChat `json:"chat"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type tgUpdatesResponse struct {
	OK     bool       `json:"ok"`
	Result []tgUpdate `json:"result"`
}

// drain advances the offset past everything already queued. A failed
// drain is logged and tolerated: it only risks reading one stale press.
func (t *TelegramMessenger) drain(ctx context.Context) error {
	body, err := t.getUpdates(ctx, url.Values{})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("messaging: drain failed", slog.String("error", err.Error()))
		return nil
	}
	var resp tgUpdatesResponse
	if err := json.Unmarshal(body, &resp); err != nil || !resp.OK {
		return nil
	}
	if n := len(resp.Result); n > 0 {
		t.offset = resp.Result[n-1].UpdateID + 1
	}
	return nil
}

func (t *TelegramMessenger) poll(ctx context.Context) ([]tgUpdate, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	query := url.Values{
		"timeout": {strconv.Itoa(int(t.pollTimeout / time.Second))},
	}
	if t.offset > 0 {
		query.Set("offset", strconv.FormatInt(t.offset, 10))
	}
	body, err := t.getUpdates(ctx, query)
	if err != nil {
		return nil, err
	}
	var resp tgUpdatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("messaging: decode getUpdates response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("messaging: getUpdates rejected")
	}
	return resp.Result, nil
}

// answerCallback stops the button spinner in the Telegram UI. Failure is
// cosmetic and only logged.
func (t *TelegramMessenger) answerCallback(ctx context.Context, callbackID string) {
	if _, err := t.postForm(ctx, "answerCallbackQuery", url.Values{
		"callback_query_id": {callbackID},
	}); err != nil {
		t.logger.Warn("messaging: answerCallbackQuery failed",
			slog.String("error", err.Error()))
	}
}

func (t *TelegramMessenger) sendMessage(ctx context.Context, form url.Values) (string, error) {
	body, err := t.postForm(ctx, "sendMessage", form)
	if err != nil {
		return "", err
	}
	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("messaging: decode sendMessage response: %w", err)
	}
	if !resp.OK {
		return "", fmt.Errorf("messaging: telegram rejected message: %s", resp.Description)
	}
	return strconv.FormatInt(resp.Result.MessageID, 10), nil
}

func (t *TelegramMessenger) postForm(ctx context.Context, method string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.apiURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("messaging: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, err := t.do(req)
	if err != nil {
		return nil, fmt.Errorf("messaging: %s: %w", method, err)
	}
	return body, nil
}

func (t *TelegramMessenger) getUpdates(ctx context.Context, query url.Values) ([]byte, error) {
	target := t.apiURL + "/getUpdates"
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: build getUpdates request: %w", err)
	}
	body, err := t.do(req)
	if err != nil {
		return nil, fmt.Errorf("messaging: getUpdates: %w", err)
	}
	return body, nil
}

func (t *TelegramMessenger) do(req *http.Request) ([]byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bodySnippet(body))
	}
	return body, nil
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
