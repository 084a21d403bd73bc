// Package notify posts law mutation events to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type EventKind string

const (
	EventLawCreated   EventKind = "law_created"
	EventLawUpdated   EventKind = "law_updated"
	EventLawDeleted   EventKind = "law_deleted"
	EventLawMoved     EventKind = "law_moved"
	EventGroupCreated EventKind = "group_created"
	EventGroupDeleted EventKind = "group_deleted"
	EventRulesFetched EventKind = "rules_fetched"
	EventRulesApplied EventKind = "rules_applied"
	EventSyncFailed   EventKind = "sync_failed"
)

// Event describes one committed mutation.
type Event struct {
	Kind       EventKind
	Actor      string
	GroupTitle string
	Language   string
	LawCode    string
	Title      string
	Detail     string
}

// Notifier is the law-mutation callback. Implementations must not block the
// caller for long; failures are reported but never roll anything back.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Webhook delivers events as Discord embeds.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: strings.TrimSpace(url), client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) IsConfigured() bool {
	return w != nil && w.url != ""
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color"`
	Footer      *struct {
		Text string `json:"text"`
	} `json:"footer,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (w *Webhook) Notify(ctx context.Context, event Event) error {
	if !w.IsConfigured() {
		return nil
	}

	body, err := json.Marshal(buildPayload(event))
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func buildPayload(event Event) discordPayload {
	title := eventTitle(event.Kind)
	if event.GroupTitle != "" {
		title += ": " + event.GroupTitle
	}

	lines := make([]string, 0, 3)
	if subject := strings.TrimSpace(event.LawCode + " " + event.Title); subject != "" {
		lines = append(lines, "**"+subject+"**")
	}
	if event.Detail != "" {
		lines = append(lines, event.Detail)
	}
	if event.Language != "" {
		lines = append(lines, "Language: "+event.Language)
	}

	embed := discordEmbed{
		Title:       title,
		Description: strings.Join(lines, "\n"),
		Color:       eventColor(event.Kind),
	}
	if event.Actor != "" {
		embed.Footer = &struct {
			Text string `json:"text"`
		}{Text: "by " + event.Actor}
	}
	return discordPayload{Username: "Law of Root", Embeds: []discordEmbed{embed}}
}

func eventTitle(kind EventKind) string {
	switch kind {
	case EventLawCreated:
		return "Law created"
	case EventLawUpdated:
		return "Law updated"
	case EventLawDeleted:
		return "Law deleted"
	case EventLawMoved:
		return "Law moved"
	case EventGroupCreated:
		return "Law group created"
	case EventGroupDeleted:
		return "Law group deleted"
	case EventRulesFetched:
		return "New rules version fetched"
	case EventRulesApplied:
		return "Rules file applied"
	case EventSyncFailed:
		return "Rules sync failed"
	default:
		return string(kind)
	}
}

func eventColor(kind EventKind) int {
	switch kind {
	case EventLawDeleted, EventGroupDeleted, EventSyncFailed:
		return 0xC0392B
	case EventRulesFetched, EventRulesApplied:
		return 0x2E86C1
	default:
		return 0x27AE60
	}
}
