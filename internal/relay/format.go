package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/p-sw/vibecord/internal/codex"
	"github.com/p-sw/vibecord/internal/session"
)

// discordMessageLimit is Discord's hard cap on message content length.
const discordMessageLimit = 2000

// splitMessage breaks content into chunks that fit Discord's limit,
// preferring line boundaries and hard-splitting only lines that are
// themselves over the limit.
func splitMessage(content string, limit int) []string {
	if limit <= 0 {
		limit = discordMessageLimit
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= limit {
		return []string{content}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if chunk := strings.TrimSpace(current.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		for len(line) > limit {
			flush()
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}
		if current.Len()+len(line)+1 > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()
	return chunks
}

// usageFooter renders rate-limit and context-window snapshots as a short
// status line, or "" when neither is present.
func usageFooter(limits *codex.RateLimitSnapshot, win *codex.ContextWindow) string {
	var parts []string
	if win != nil {
		parts = append(parts, fmt.Sprintf("context %.0f%% left (%d/%d tokens)",
			win.PercentLeft, win.UsedTokens, win.MaxTokens))
	}
	if limits != nil {
		if limits.Primary != nil {
			parts = append(parts, fmt.Sprintf("%s window %.0f%% used",
				windowLabel(limits.Primary.WindowMinutes), limits.Primary.UsedPercent))
		}
		if limits.Secondary != nil {
			parts = append(parts, fmt.Sprintf("%s window %.0f%% used",
				windowLabel(limits.Secondary.WindowMinutes), limits.Secondary.UsedPercent))
		}
		if limits.Credits != nil && !limits.Credits.Unlimited && limits.Credits.Balance != nil {
			parts = append(parts, fmt.Sprintf("credits %.2f", *limits.Credits.Balance))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " · ")
}

// windowLabel renders a rate-limit window length compactly.
func windowLabel(minutes int) string {
	switch {
	case minutes <= 0:
		return "rate"
	case minutes%10080 == 0:
		return fmt.Sprintf("%dw", minutes/10080)
	case minutes%1440 == 0:
		return fmt.Sprintf("%dd", minutes/1440)
	case minutes%60 == 0:
		return fmt.Sprintf("%dh", minutes/60)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// channelSlug derives a Discord channel name from a session title.
func channelSlug(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "session"
	}
	if len(slug) > 90 {
		slug = strings.Trim(slug[:90], "-")
	}
	return slug
}

// mapUserError converts a bridge/store failure into the text shown to the
// Discord user. CommandNotFound hints pass through verbatim.
func mapUserError(err error) string {
	var notFound *codex.CommandNotFoundError
	if errors.As(err, &notFound) {
		return notFound.Error()
	}
	var timeout *codex.InteractiveTimeoutError
	if errors.As(err, &timeout) {
		return timeout.Error()
	}
	var failed *codex.CommandFailedError
	if errors.As(err, &failed) {
		return "Codex failed: " + failed.Error()
	}
	switch {
	case errors.Is(err, codex.ErrEmptyPrompt):
		return "Your message was empty."
	case errors.Is(err, codex.ErrMissingThreadID), errors.Is(err, codex.ErrMissingReply):
		return err.Error()
	case errors.Is(err, session.ErrNoFocus):
		return "You have no focused session. Create one with /new or pick one with /focus."
	case errors.Is(err, session.ErrNotFound):
		return "That session does not exist."
	default:
		return "Relaying your message failed: " + err.Error()
	}
}
