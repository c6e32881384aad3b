package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Slack rejects a section whose text is longer than this.
const slackMaxSectionText = 3000

// SlackAdapter posts run digests to one Slack channel with the Web API.
type SlackAdapter struct {
	client      *slack.Client
	channelID   string
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
func NewSlackAdapter(botToken, channelID string, logger *zap.Logger, opts ...slack.Option) *SlackAdapter {
	return &SlackAdapter{
		client:    slack.New(botToken, opts...),
		channelID: channelID,
		logger:    logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

// Connect verifies the token with auth.test.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	resp, err := a.client.AuthTestContext(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.lastError = fmt.Sprintf("auth test: %v", err)
		return fmt.Errorf("slack auth: %w", err)
	}
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.logger.Info("slack adapter connected",
		zap.String("user", resp.User),
		zap.String("team", resp.Team))
	return nil
}

// blocks renders the digest as Block Kit.
func (a *SlackAdapter) blocks(d *Digest) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, d.Title(), false, false)),
	}
	if len(d.Suggestions) == 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "_No suggestions in this run._", false, false), nil, nil))
		return blocks
	}
	for _, text := range bulletSections(d.Lines("*"), slackMaxSectionText) {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("run `%s` · %d resolved tickets in the knowledge base", d.RunID, d.Resolved), false, false)))
	return blocks
}

// bulletSections packs lines into bullet lists of at most limit characters
// each, keeping line order. A line longer than limit is truncated.
func bulletSections(lines []string, limit int) []string {
	var (
		out  []string
		b    strings.Builder
		size int
	)
	for _, l := range lines {
		item := truncate("• "+l, limit)
		n := utf8.RuneCountInString(item)
		if size > 0 && size+1+n > limit {
			out = append(out, b.String())
			b.Reset()
			size = 0
		}
		if size > 0 {
			b.WriteByte('\n')
			size++
		}
		b.WriteString(item)
		size += n
	}
	if size > 0 {
		out = append(out, b.String())
	}
	return out
}

// Send posts the digest to the configured channel.
func (a *SlackAdapter) Send(ctx context.Context, d *Digest) error {
	_, _, err := a.client.PostMessageContext(ctx, a.channelID,
		slack.MsgOptionText(d.Text("*"), false),
		slack.MsgOptionBlocks(a.blocks(d)...),
	)
	if err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", a.channelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Close is a no-op; the Web API client holds no connection.
func (a *SlackAdapter) Close() error {
	return nil
}

// Status reports whether auth.test succeeded and the last error seen.
func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "slack",
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
