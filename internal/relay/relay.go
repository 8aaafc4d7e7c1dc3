package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/p-sw/vibecord/internal/codex"
	"github.com/p-sw/vibecord/internal/config"
	"github.com/p-sw/vibecord/internal/logging"
	"github.com/p-sw/vibecord/internal/session"
	"github.com/p-sw/vibecord/internal/statedb"
)

// Bridge is the slice of the codex bridge the relay drives.
type Bridge interface {
	SendMessage(ctx context.Context, sess codex.Session, prompt string, opts codex.SendOptions) (*codex.TurnResult, error)
}

// Relay connects a Discord bot to the codex bridge: one text channel per
// session, plain messages relayed as prompts, slash commands for session
// management.
type Relay struct {
	dg      *discordgo.Session
	store   *session.Store
	bridge  Bridge
	db      *statedb.DB
	cfg     config.DiscordConfig
	limiter *rate.Limiter
	log     *slog.Logger

	ctx context.Context
}

// New builds a Relay around a bot token. The gateway connection is not
// opened until Start.
func New(token string, store *session.Store, bridge Bridge, db *statedb.DB, cfg config.DiscordConfig) (*Relay, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	perSec := cfg.SendsPerSecond
	if perSec <= 0 {
		perSec = 1
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	r := &Relay{
		dg:      dg,
		store:   store,
		bridge:  bridge,
		db:      db,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		log:     logging.ForComponent(logging.CompRelay),
	}
	dg.AddHandler(r.onMessage)
	dg.AddHandler(r.onInteraction)
	return r, nil
}

// Start opens the gateway, registers slash commands, and blocks until ctx
// is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.ctx = ctx
	if err := r.dg.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	defer r.dg.Close()

	appID := r.dg.State.User.ID
	if _, err := r.dg.ApplicationCommandBulkOverwrite(appID, r.cfg.GuildID, commandDefs); err != nil {
		return fmt.Errorf("register slash commands: %w", err)
	}
	r.log.Info("relay started", "user", r.dg.State.User.Username, "guild", r.cfg.GuildID)

	<-ctx.Done()
	r.log.Info("relay stopping")
	return nil
}

var commandDefs = []*discordgo.ApplicationCommand{
	{
		Name:        "new",
		Description: "Create a codex session with its own channel",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "title", Description: "Session title", Required: true},
			{Type: discordgo.ApplicationCommandOptionString, Name: "path", Description: "Project directory", Required: false},
		},
	},
	{Name: "sessions", Description: "List your codex sessions"},
	{
		Name:        "focus",
		Description: "Focus a session for messages sent outside its channel",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "session", Description: "Session ID prefix or title", Required: true},
		},
	},
	{Name: "status", Description: "Run /status in the current session"},
	{Name: "compact", Description: "Run /compact in the current session"},
	{Name: "usage", Description: "Show recorded usage for the current session"},
	{
		Name:        "close",
		Description: "Close the current session",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "session", Description: "Session ID prefix or title", Required: false},
		},
	},
}

// onMessage relays plain channel messages to codex as prompts.
func (r *Relay) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	content := strings.TrimSpace(m.Content)
	if content == "" || strings.HasPrefix(content, "/") {
		return
	}

	rec, err := r.store.FindByChannel(m.ChannelID)
	if err != nil {
		rec, err = r.store.Focused(m.Author.ID)
		if err != nil {
			// Not a session channel and nothing focused: ignore quietly.
			return
		}
	}

	go r.relayPrompt(rec, m.ChannelID, content)
}

// relayPrompt runs one turn and posts the reply. The bridge's per-session
// lock serializes overlapping prompts, so this is safe to run concurrently.
func (r *Relay) relayPrompt(rec *session.Record, channelID, prompt string) {
	ctx := r.ctx
	r.dg.ChannelTyping(channelID)
	start := time.Now()

	result, err := r.bridge.SendMessage(ctx, codex.Session{
		ID:          rec.ID,
		ProjectPath: rec.ProjectPath,
		ThreadID:    rec.ThreadID,
	}, prompt, codex.SendOptions{IncludeRateLimits: r.cfg.IncludeRateLimits})
	if err != nil {
		r.log.Warn("turn failed", "session", rec.ID, "error", err)
		r.send(channelID, mapUserError(err))
		return
	}

	r.recordTurn(rec, result, time.Since(start))

	reply := result.Reply
	if footer := usageFooter(result.RateLimits, result.ContextWindow); footer != "" {
		reply += "\n\n-# " + footer
	}
	for _, chunk := range splitMessage(reply, discordMessageLimit) {
		r.send(channelID, chunk)
	}
}

func (r *Relay) recordTurn(rec *session.Record, result *codex.TurnResult, elapsed time.Duration) {
	if r.db == nil {
		return
	}
	if err := r.db.RecordTurn(buildTurnRow(rec, result, elapsed)); err != nil {
		r.log.Warn("record turn", "session", rec.ID, "error", err)
	}
}

// buildTurnRow maps one turn outcome onto a history row. The recorded
// percentage is the rate-limit window utilization when codex reported one,
// falling back to context-window utilization otherwise.
func buildTurnRow(rec *session.Record, result *codex.TurnResult, elapsed time.Duration) statedb.TurnRow {
	row := statedb.TurnRow{
		SessionID: rec.ID,
		ThreadID:  result.ThreadID,
		Duration:  elapsed,
		CreatedAt: time.Now(),
	}
	if cw := result.ContextWindow; cw != nil {
		row.UsedTokens = cw.UsedTokens
		row.MaxTokens = cw.MaxTokens
		row.UsedPercent = 100 - cw.PercentLeft
	}
	if rl := result.RateLimits; rl != nil && rl.Primary != nil {
		row.UsedPercent = rl.Primary.UsedPercent
	}
	return row
}

// send posts one message, honoring the outbound rate limiter.
func (r *Relay) send(channelID, content string) {
	if err := r.limiter.Wait(r.ctx); err != nil {
		return
	}
	if _, err := r.dg.ChannelMessageSend(channelID, content); err != nil {
		r.log.Warn("send message", "channel", channelID, "error", err)
	}
}

// onInteraction dispatches slash commands.
func (r *Relay) onInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	switch data.Name {
	case "new":
		r.cmdNew(i, data)
	case "sessions":
		r.cmdSessions(i)
	case "focus":
		r.cmdFocus(i, data)
	case "status":
		r.cmdInteractive(i, "/status")
	case "compact":
		r.cmdInteractive(i, "/compact")
	case "usage":
		r.cmdUsage(i)
	case "close":
		r.cmdClose(i, data)
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func optionString(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}

// respond sends the immediate interaction reply.
func (r *Relay) respond(i *discordgo.InteractionCreate, content string) {
	err := r.dg.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		r.log.Warn("interaction respond", "error", err)
	}
}

// deferResponse acknowledges a slow command; followUp completes it later.
func (r *Relay) deferResponse(i *discordgo.InteractionCreate) bool {
	err := r.dg.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		r.log.Warn("interaction defer", "error", err)
		return false
	}
	return true
}

func (r *Relay) followUp(i *discordgo.InteractionCreate, content string) {
	chunks := splitMessage(content, discordMessageLimit)
	if len(chunks) == 0 {
		chunks = []string{"(no output)"}
	}
	if _, err := r.dg.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: chunks[0]}); err != nil {
		r.log.Warn("interaction followup", "error", err)
		return
	}
	for _, chunk := range chunks[1:] {
		r.send(i.ChannelID, chunk)
	}
}

func (r *Relay) cmdNew(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	userID := interactionUserID(i)
	title := strings.TrimSpace(optionString(data, "title"))
	path := strings.TrimSpace(optionString(data, "path"))

	rec, err := r.store.Create(userID, title, path)
	if err != nil {
		r.respond(i, mapUserError(err))
		return
	}

	channelID, err := r.provisionChannel(rec)
	if err != nil {
		r.log.Warn("provision channel", "session", rec.ID, "error", err)
	} else if err := r.store.SetChannelID(rec.ID, channelID); err != nil {
		r.log.Warn("persist channel id", "session", rec.ID, "error", err)
	}
	if err := r.store.Focus(userID, rec.ID); err != nil {
		r.log.Warn("focus session", "session", rec.ID, "error", err)
	}

	msg := fmt.Sprintf("Session **%s** created and focused.", rec.Title)
	if channelID != "" {
		msg += fmt.Sprintf(" Talk to it in <#%s>.", channelID)
	}
	r.respond(i, msg)
}

// provisionChannel creates the per-session text channel under the
// configured category.
func (r *Relay) provisionChannel(rec *session.Record) (string, error) {
	if r.cfg.GuildID == "" {
		return "", fmt.Errorf("no guild configured")
	}
	ch, err := r.dg.GuildChannelCreateComplex(r.cfg.GuildID, discordgo.GuildChannelCreateData{
		Name:     channelSlug(rec.Title),
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: r.cfg.CategoryID,
		Topic:    "codex session " + rec.ID,
	})
	if err != nil {
		return "", fmt.Errorf("create channel: %w", err)
	}
	return ch.ID, nil
}

func (r *Relay) cmdSessions(i *discordgo.InteractionCreate) {
	recs, err := r.store.List(interactionUserID(i))
	if err != nil {
		r.respond(i, mapUserError(err))
		return
	}
	if len(recs) == 0 {
		r.respond(i, "No sessions yet. Create one with /new.")
		return
	}

	focused, _ := r.store.Focused(interactionUserID(i))
	var b strings.Builder
	for _, rec := range recs {
		marker := "  "
		if focused != nil && focused.ID == rec.ID {
			marker = "→ "
		}
		fmt.Fprintf(&b, "%s`%s` **%s**", marker, rec.ID[:8], rec.Title)
		if rec.ChannelID != "" {
			fmt.Fprintf(&b, " <#%s>", rec.ChannelID)
		}
		if rec.ProjectPath != "" {
			fmt.Fprintf(&b, " — %s", rec.ProjectPath)
		}
		b.WriteByte('\n')
	}
	r.respond(i, b.String())
}

func (r *Relay) cmdFocus(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	userID := interactionUserID(i)
	rec, err := r.resolveSession(userID, optionString(data, "session"))
	if err != nil {
		r.respond(i, mapUserError(err))
		return
	}
	if err := r.store.Focus(userID, rec.ID); err != nil {
		r.respond(i, mapUserError(err))
		return
	}
	r.respond(i, fmt.Sprintf("Focused **%s**.", rec.Title))
}

// cmdInteractive runs a codex slash command ("/status", "/compact") inside
// the session's interactive thread and relays the output.
func (r *Relay) cmdInteractive(i *discordgo.InteractionCreate, command string) {
	rec, err := r.sessionForInteraction(i)
	if err != nil {
		r.respond(i, mapUserError(err))
		return
	}
	if !r.deferResponse(i) {
		return
	}

	go func() {
		start := time.Now()
		result, err := r.bridge.SendMessage(r.ctx, codex.Session{
			ID:          rec.ID,
			ProjectPath: rec.ProjectPath,
			ThreadID:    rec.ThreadID,
		}, command, codex.SendOptions{InteractiveSession: true})
		if err != nil {
			r.followUp(i, mapUserError(err))
			return
		}
		r.recordTurn(rec, result, time.Since(start))
		r.followUp(i, result.Reply)
	}()
}

func (r *Relay) cmdUsage(i *discordgo.InteractionCreate) {
	rec, err := r.sessionForInteraction(i)
	if err != nil {
		r.respond(i, mapUserError(err))
		return
	}
	if r.db == nil {
		r.respond(i, "Usage tracking is disabled.")
		return
	}
	sum, err := r.db.SessionUsage(rec.ID)
	if err != nil {
		r.respond(i, mapUserError(err))
		return
	}
	if sum.Turns == 0 {
		r.respond(i, fmt.Sprintf("No turns recorded for **%s** yet.", rec.Title))
		return
	}
	r.respond(i, fmt.Sprintf(
		"**%s**: %d turns, %s total. Last turn: %d/%d tokens (%.0f%% used) at %s.",
		rec.Title, sum.Turns, sum.TotalDuration.Round(time.Second),
		sum.LastUsedTokens, sum.LastMaxTokens, sum.LastUsedPercent,
		sum.LastTurnAt.Format("2006-01-02 15:04"),
	))
}

func (r *Relay) cmdClose(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	userID := interactionUserID(i)
	var rec *session.Record
	var err error
	if ref := optionString(data, "session"); ref != "" {
		rec, err = r.resolveSession(userID, ref)
	} else {
		rec, err = r.sessionForInteraction(i)
	}
	if err != nil {
		r.respond(i, mapUserError(err))
		return
	}
	if err := r.store.Delete(rec.ID); err != nil {
		r.respond(i, mapUserError(err))
		return
	}
	if rec.ChannelID != "" {
		if _, err := r.dg.ChannelDelete(rec.ChannelID); err != nil {
			r.log.Warn("delete channel", "channel", rec.ChannelID, "error", err)
		}
	}
	r.respond(i, fmt.Sprintf("Closed **%s**.", rec.Title))
}

// sessionForInteraction resolves the session a command targets: the
// channel's session if invoked inside one, otherwise the user's focus.
func (r *Relay) sessionForInteraction(i *discordgo.InteractionCreate) (*session.Record, error) {
	if rec, err := r.store.FindByChannel(i.ChannelID); err == nil {
		return rec, nil
	}
	return r.store.Focused(interactionUserID(i))
}

// resolveSession matches a user-supplied reference against the user's
// sessions by ID prefix or exact title.
func (r *Relay) resolveSession(userID, ref string) (*session.Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, session.ErrNotFound
	}
	recs, err := r.store.List(userID)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if strings.HasPrefix(rec.ID, ref) || strings.EqualFold(rec.Title, ref) {
			return rec, nil
		}
	}
	return nil, session.ErrNotFound
}
