package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Discord embed limits.
const (
	discordMaxFields     = 25
	discordMaxFieldName  = 256
	discordMaxFieldValue = 1024
	discordMaxEmbedChars = 6000
	// fields are dropped rather than cut to fewer value characters than this
	discordMinFieldValue = 32
)

// DiscordAdapter posts run digests to one Discord channel over the REST API.
type DiscordAdapter struct {
	token       string
	channelID   string
	session     *discordgo.Session
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token, channelID string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:     token,
		channelID: channelID,
		logger:    logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

// Connect creates the session and checks the target channel is reachable.
func (a *DiscordAdapter) Connect(ctx context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}

	ch, err := session.Channel(a.channelID, discordgo.WithContext(ctx))
	if err != nil {
		a.setError(fmt.Sprintf("channel lookup: %v", err))
		return fmt.Errorf("discord channel %s: %w", a.channelID, err)
	}

	a.mu.Lock()
	a.session = session
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	a.logger.Info("discord adapter connected",
		zap.String("channel", ch.Name),
		zap.String("guild", ch.GuildID))
	return nil
}

func (a *DiscordAdapter) setError(msg string) {
	a.mu.Lock()
	a.lastError = msg
	a.connected = false
	a.mu.Unlock()
}

// discordEmbed renders the digest as a Discord embed. Solutions are
// shortened and trailing suggestions dropped so the embed stays within
// Discord's total size limit.
func discordEmbed(d *Digest) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       d.Title(),
		Description: fmt.Sprintf("%d open · %d resolved · %d matched", d.Open, d.Resolved, d.Matched),
		Timestamp:   d.FinishedAt.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "run " + d.RunID},
	}
	budget := discordMaxEmbedChars - embedSize(embed)
	for i, s := range d.Suggestions {
		if i == discordMaxFields {
			break
		}
		name := truncate(fmt.Sprintf("%s → %s (%.2f)", s.OpenKey, *s.SuggestedKey, s.Similarity), discordMaxFieldName)
		room := min(discordMaxFieldValue, budget-utf8.RuneCountInString(name))
		if room < discordMinFieldValue {
			break
		}
		value := "-"
		if s.SuggestedSolution != nil && strings.TrimSpace(*s.SuggestedSolution) != "" {
			value = truncate(*s.SuggestedSolution, room)
		}
		budget -= utf8.RuneCountInString(name) + utf8.RuneCountInString(value)
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: value})
	}
	return embed
}

// embedSize counts the characters Discord charges against an embed's limit.
func embedSize(e *discordgo.MessageEmbed) int {
	n := utf8.RuneCountInString(e.Title) + utf8.RuneCountInString(e.Description)
	if e.Footer != nil {
		n += utf8.RuneCountInString(e.Footer.Text)
	}
	for _, f := range e.Fields {
		n += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
	}
	return n
}

// Send posts the digest embed to the configured channel.
func (a *DiscordAdapter) Send(ctx context.Context, d *Digest) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord send: not connected")
	}

	_, err := session.ChannelMessageSendEmbed(a.channelID, discordEmbed(d), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
		Details:   "channel=" + a.channelID,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
	}
	return s
}
