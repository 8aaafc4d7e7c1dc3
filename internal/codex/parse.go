package codex

import (
	"encoding/json"
	"regexp"
	"strings"
)

// RateLimitWindow describes one rate-limit window from a token_count event.
type RateLimitWindow struct {
	UsedPercent   float64
	WindowMinutes int
	ResetsAt      int64
}

// RateLimitCredits describes the credit balance from a token_count event.
type RateLimitCredits struct {
	HasCredits bool
	Unlimited  bool
	Balance    *float64
}

// RateLimitSnapshot is the most recent rate-limit state observed in a
// stream of codex events.
type RateLimitSnapshot struct {
	LimitID   string
	LimitName string
	Primary   *RateLimitWindow
	Secondary *RateLimitWindow
	Credits   *RateLimitCredits
	PlanType  string
}

// ContextWindow describes context-window utilization derived from a
// token_count event. UsedTokens is clamped to [0, MaxTokens] and
// PercentLeft to [0, 100].
type ContextWindow struct {
	UsedTokens  int
	MaxTokens   int
	PercentLeft float64
}

var sessionIDPattern = regexp.MustCompile(`(?i)session id:\s*([0-9a-fA-F-]{36})`)

// ParseThreadID extracts the codex thread id from combined process output.
// Structured thread.started events win over the plain-text "session id:"
// form, and later events win over earlier ones. Returns "" when nothing
// was found.
func ParseThreadID(output string) string {
	id := ""
	fallback := ""
	for _, line := range strings.Split(output, "\n") {
		ev, ok := decodeEventLine(line)
		if !ok {
			if m := sessionIDPattern.FindStringSubmatch(line); m != nil {
				fallback = m[1]
			}
			continue
		}
		if ev.typ != eventThreadStarted {
			continue
		}
		if v, found := ev.stringField("thread_id"); found && v != "" {
			id = v
		} else if v, found := ev.stringField("session_id"); found && v != "" {
			id = v
		}
	}
	if id != "" {
		return id
	}
	return fallback
}

// ParseReply extracts the assistant reply from plain-text codex output.
// Everything after the last "\nassistant\n" marker wins; a leading
// "assistant\n" prefix is accepted when no marker exists. Returns "" when
// no reply was found.
func ParseReply(output string) string {
	const marker = "\nassistant\n"
	if idx := strings.LastIndex(output, marker); idx >= 0 {
		return strings.TrimSpace(output[idx+len(marker):])
	}
	if rest, found := strings.CutPrefix(output, "assistant\n"); found {
		return strings.TrimSpace(rest)
	}
	return ""
}

// ParseStructuredReply extracts the assistant reply from a stream of codex
// events. agent_message events contribute their message field; message
// events with an assistant role contribute the concatenated text of their
// output_text/text content items. The last matching event wins.
func ParseStructuredReply(output string) string {
	reply := ""
	for _, line := range strings.Split(output, "\n") {
		ev, ok := decodeEventLine(line)
		if !ok {
			continue
		}
		switch ev.typ {
		case eventAgentMessage:
			if msg, found := ev.stringField("message"); found && msg != "" {
				reply = msg
			}
		case eventMessage:
			if role, found := ev.stringField("role"); !found || role != "assistant" {
				continue
			}
			if text := assistantContentText(ev); text != "" {
				reply = text
			}
		}
	}
	return strings.TrimSpace(reply)
}

func assistantContentText(ev rawEvent) string {
	raw, found := ev.fields["content"]
	if !found {
		return ""
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	var parts []string
	for _, item := range items {
		typ, _ := item["type"].(string)
		if typ != "output_text" && typ != "text" {
			continue
		}
		if text, ok := item["text"].(string); ok && text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// ParseRateLimits extracts the most recent rate-limit snapshot from a
// stream of codex events. Sub-objects failing field validation are omitted
// rather than failing the snapshot. Returns nil when no token_count event
// carried rate limits.
func ParseRateLimits(output string) *RateLimitSnapshot {
	var snap *RateLimitSnapshot
	for _, line := range strings.Split(output, "\n") {
		ev, ok := decodeEventLine(line)
		if !ok || ev.typ != eventTokenCount {
			continue
		}
		limits, found := ev.objectField("rate_limits")
		if !found {
			continue
		}
		s := &RateLimitSnapshot{}
		s.LimitID, _ = limits.stringField("limit_id")
		s.LimitName, _ = limits.stringField("limit_name")
		s.PlanType, _ = limits.stringField("plan_type")
		if w, ok := limits.objectField("primary"); ok {
			s.Primary = decodeWindow(w)
		}
		if w, ok := limits.objectField("secondary"); ok {
			s.Secondary = decodeWindow(w)
		}
		if c, ok := limits.objectField("credits"); ok {
			s.Credits = decodeCredits(c)
		}
		snap = s
	}
	return snap
}

// decodeWindow validates one rate-limit window. All three fields must be
// finite numbers or the window is dropped.
func decodeWindow(w rawEvent) *RateLimitWindow {
	used, ok := w.numberField("used_percent")
	if !ok {
		return nil
	}
	minutes, ok := w.numberField("window_minutes")
	if !ok {
		return nil
	}
	resets, ok := w.numberField("resets_at")
	if !ok {
		return nil
	}
	return &RateLimitWindow{
		UsedPercent:   used,
		WindowMinutes: int(minutes),
		ResetsAt:      int64(resets),
	}
}

// decodeCredits validates the credits block. The booleans are required;
// balance may be a number or null.
func decodeCredits(c rawEvent) *RateLimitCredits {
	hasCredits, ok := c.boolField("has_credits")
	if !ok {
		return nil
	}
	unlimited, ok := c.boolField("unlimited")
	if !ok {
		return nil
	}
	credits := &RateLimitCredits{HasCredits: hasCredits, Unlimited: unlimited}
	if balance, ok := c.numberField("balance"); ok {
		credits.Balance = &balance
	} else if !c.isNull("balance") {
		if _, present := c.fields["balance"]; present {
			return nil
		}
	}
	return credits
}

// ParseContextWindow extracts the most recent context-window utilization
// from token_count events. Returns nil when no event carried usable
// counters.
func ParseContextWindow(output string) *ContextWindow {
	var win *ContextWindow
	for _, line := range strings.Split(output, "\n") {
		ev, ok := decodeEventLine(line)
		if !ok || ev.typ != eventTokenCount {
			continue
		}
		info, found := ev.objectField("info")
		if !found {
			continue
		}
		maxTokens, ok := info.numberField("model_context_window")
		if !ok || maxTokens <= 0 {
			continue
		}
		usage, ok := info.objectField("total_token_usage")
		if !ok {
			continue
		}
		total, ok := usage.numberField("total_tokens")
		if !ok {
			continue
		}
		used := clampFloat(total, 0, maxTokens)
		win = &ContextWindow{
			UsedTokens:  int(used),
			MaxTokens:   int(maxTokens),
			PercentLeft: clampFloat((maxTokens-used)/maxTokens*100, 0, 100),
		}
	}
	return win
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
