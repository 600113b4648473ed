package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"smart-progress/internal/config"
	"smart-progress/internal/logger"
	"smart-progress/internal/model"
)

// Messenger is the chat platform as the engine uses it.
type Messenger interface {
	PostMessage(ctx context.Context, channel, text string) (ts string, err error)
	PostReply(ctx context.Context, channel, threadTS, text string) (ts string, err error)
	FetchHistory(ctx context.Context, channel string, oldest, latest time.Time) ([]model.ChatMessage, error)
	FetchReplies(ctx context.Context, channel, threadTS string) ([]model.CheckinReply, error)
	FormatMention(userID string) string
}

// Errors that retrying cannot fix.
var permanentSlackErrors = map[string]bool{
	"channel_not_found": true,
	"not_in_channel":    true,
	"is_archived":       true,
	"msg_too_long":      true,
	"invalid_blocks":    true,
	"no_text":           true,
	"missing_scope":     true,
	"invalid_auth":      true,
	"not_authed":        true,
	"account_inactive":  true,
	"token_revoked":     true,
}

var authSlackErrors = map[string]bool{
	"invalid_auth": true, "not_authed": true, "account_inactive": true, "token_revoked": true,
}

type SlackMessenger struct {
	api   *slack.Client
	limit int

	mu    sync.Mutex
	names map[string]string
}

func NewSlackMessenger(cfg config.SlackConfig, options ...slack.Option) *SlackMessenger {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 200
	}
	return &SlackMessenger{
		api:   slack.New(cfg.BotToken, options...),
		limit: limit,
		names: map[string]string{},
	}
}

func (m *SlackMessenger) PostMessage(ctx context.Context, channel, text string) (string, error) {
	_, ts, err := m.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return "", deliveryError(err)
	}
	return ts, nil
}

func (m *SlackMessenger) PostReply(ctx context.Context, channel, threadTS, text string) (string, error) {
	_, ts, err := m.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false), slack.MsgOptionTS(threadTS))
	if err != nil {
		return "", deliveryError(err)
	}
	return ts, nil
}

func (m *SlackMessenger) FormatMention(userID string) string {
	return "<@" + userID + ">"
}

// FetchHistory returns human messages in channel with oldest <= time < latest,
// thread replies included, oldest first. Replies are followed only for parents
// inside the window; replies to older threads arrive here only when broadcast
// to the channel.
func (m *SlackMessenger) FetchHistory(ctx context.Context, channel string, oldest, latest time.Time) ([]model.ChatMessage, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Oldest:    slackTS(oldest),
		Latest:    slackTS(latest),
		Limit:     m.limit,
		Inclusive: true,
	}
	var out []model.ChatMessage
	skipped := 0
	for {
		resp, err := m.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("slack history %s: %w", channel, sourceError(err))
		}
		for _, msg := range resp.Messages {
			if skipMessage(msg) {
				continue
			}
			if cm, err := m.chatMessage(ctx, channel, msg); err != nil {
				skipped++
			} else if cm.Time.Before(latest) {
				out = append(out, cm)
			}
			if msg.ReplyCount > 0 && msg.SubType != "thread_broadcast" {
				replies, bad, err := m.threadMessages(ctx, channel, msg.Timestamp, oldest, latest)
				if err != nil {
					return nil, err
				}
				out = append(out, replies...)
				skipped += bad
			}
		}
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
	}
	logMalformed(channel, skipped)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return dedupeMessages(out), nil
}

func (m *SlackMessenger) threadMessages(ctx context.Context, channel, threadTS string, oldest, latest time.Time) ([]model.ChatMessage, int, error) {
	msgs, err := m.replies(ctx, channel, threadTS)
	if err != nil {
		return nil, 0, err
	}
	var out []model.ChatMessage
	skipped := 0
	for _, msg := range msgs {
		cm, err := m.chatMessage(ctx, channel, msg)
		if err != nil {
			skipped++
			continue
		}
		if cm.Time.Before(oldest) || !cm.Time.Before(latest) {
			continue
		}
		out = append(out, cm)
	}
	return out, skipped, nil
}

// FetchReplies returns the human replies to threadTS, without the parent.
func (m *SlackMessenger) FetchReplies(ctx context.Context, channel, threadTS string) ([]model.CheckinReply, error) {
	msgs, err := m.replies(ctx, channel, threadTS)
	if err != nil {
		return nil, err
	}
	out := make([]model.CheckinReply, 0, len(msgs))
	skipped := 0
	for _, msg := range msgs {
		cm, err := m.chatMessage(ctx, channel, msg)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, model.CheckinReply{
			Channel: channel, ThreadTS: threadTS, TS: cm.TS,
			UserID: cm.UserID, UserName: cm.UserName, Text: cm.Text, Time: cm.Time,
		})
	}
	logMalformed(channel, skipped)
	return out, nil
}

func logMalformed(channel string, n int) {
	if n > 0 {
		logger.Warn("slack.malformed", "channel", channel, "skipped", n)
	}
}

// dedupeMessages drops repeated timestamps from sorted input. A broadcast reply
// shows up both in history and in its thread.
func dedupeMessages(in []model.ChatMessage) []model.ChatMessage {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, cm := range in {
		if _, ok := seen[cm.TS]; ok {
			continue
		}
		seen[cm.TS] = struct{}{}
		out = append(out, cm)
	}
	return out
}

func (m *SlackMessenger) replies(ctx context.Context, channel, threadTS string) ([]slack.Message, error) {
	params := &slack.GetConversationRepliesParameters{ChannelID: channel, Timestamp: threadTS, Limit: m.limit}
	var out []slack.Message
	for {
		msgs, hasMore, cursor, err := m.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("slack replies %s/%s: %w", channel, threadTS, sourceError(err))
		}
		for _, msg := range msgs {
			if msg.Timestamp == threadTS || skipMessage(msg) {
				continue
			}
			out = append(out, msg)
		}
		if !hasMore || cursor == "" {
			return out, nil
		}
		params.Cursor = cursor
	}
}

func (m *SlackMessenger) chatMessage(ctx context.Context, channel string, msg slack.Message) (model.ChatMessage, error) {
	t, err := parseSlackTS(msg.Timestamp)
	if err != nil {
		return model.ChatMessage{}, err
	}
	return model.ChatMessage{
		Channel:  channel,
		UserID:   msg.User,
		UserName: m.userName(ctx, msg.User),
		Text:     msg.Text,
		TS:       msg.Timestamp,
		ThreadTS: msg.ThreadTimestamp,
		Time:     t,
	}, nil
}

// userName resolves and caches a display name. Lookup failures leave it empty.
func (m *SlackMessenger) userName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	m.mu.Lock()
	name, ok := m.names[userID]
	m.mu.Unlock()
	if ok {
		return name
	}
	u, err := m.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return ""
	}
	name = u.Profile.DisplayName
	if name == "" {
		name = u.RealName
	}
	if name == "" {
		name = u.Name
	}
	m.mu.Lock()
	m.names[userID] = name
	m.mu.Unlock()
	return name
}

// Ping verifies the bot token.
func (m *SlackMessenger) Ping(ctx context.Context) error {
	if _, err := m.api.AuthTestContext(ctx); err != nil {
		return sourceError(err)
	}
	return nil
}

func skipMessage(msg slack.Message) bool {
	if msg.BotID != "" || msg.SubType == "bot_message" {
		return true
	}
	switch msg.SubType {
	case "", "thread_broadcast", "file_share":
		return msg.User == ""
	}
	return true
}

func slackErrorCode(err error) (string, bool) {
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return se.Err, true
	}
	return "", false
}

// deliveryError sorts a post failure into permanent or retryable.
func deliveryError(err error) error {
	if code, ok := slackErrorCode(err); ok && permanentSlackErrors[code] {
		return model.PermanentDelivery(err)
	}
	return model.TransientDelivery(err)
}

// sourceError maps a read failure onto the source error kinds.
func sourceError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if code, ok := slackErrorCode(err); ok {
		if authSlackErrors[code] {
			return fmt.Errorf("%s: %w", code, model.ErrAuthentication)
		}
		if permanentSlackErrors[code] {
			return fmt.Errorf("slack: %s", code)
		}
	}
	return fmt.Errorf("%v: %w", err, model.ErrTransientSource)
}

func slackTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

func parseSlackTS(ts string) (time.Time, error) {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("slack ts %q: %w", ts, model.ErrMalformedRecord)
	}
	var us int64
	if frac != "" {
		frac = (frac + "000000")[:6]
		if us, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return time.Time{}, fmt.Errorf("slack ts %q: %w", ts, model.ErrMalformedRecord)
		}
	}
	return time.Unix(s, us*1000), nil
}
