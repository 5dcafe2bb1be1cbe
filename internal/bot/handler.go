package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/gemrelay/gemrelay/internal/chat"
	"github.com/gemrelay/gemrelay/internal/history"
	"github.com/gemrelay/gemrelay/internal/prompt"
	"github.com/gemrelay/gemrelay/internal/store"
)

const typingInterval = 8 * time.Second

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	builder := b.builder
	if builder == nil {
		return
	}

	isDM := m.GuildID == ""
	if !isDM && !mentionsUser(m.Mentions, s.State.User.ID) {
		return
	}

	// Permission edits take effect without a restart.
	perms, allowDMs := b.cfg.ReloadPermissions()
	in := gateInput{UserID: m.Author.ID, IsDM: isDM}
	if m.Member != nil {
		in.RoleIDs = m.Member.Roles
	}
	in.ChannelIDs = b.channelScope(m.ChannelID)
	if !allowMessage(perms, allowDMs, in) {
		b.logger.Warn("message blocked",
			slog.String("user_id", m.Author.ID),
			slog.String("channel_id", m.ChannelID))
		return
	}

	b.handleConversation(s, m.Message, isDM)
}

func (b *Bot) handleConversation(s *discordgo.Session, m *discordgo.Message, isDM bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := store.Key{GuildID: m.GuildID}
	if isDM {
		key = store.Key{UserID: m.Author.ID}
	}

	prefs, err := b.store.TouchUser(key, m.Author.ID, authorDisplayName(m))
	if err != nil {
		b.logger.Error("touch user failed", slog.String("user_id", m.Author.ID), slog.Any("error", err))
		prefs, _ = b.store.Load(key)
	}

	stopTyping := make(chan struct{})
	defer close(stopTyping)
	go b.keepTyping(s, m.ChannelID, stopTyping)

	turns, warnings, participants := b.builder.Build(ctx, m, isDM)
	if len(turns) == 0 {
		return
	}

	guildName := ""
	if !isDM {
		if guild, err := s.State.Guild(m.GuildID); err == nil {
			guildName = guild.Name
		}
	}

	req := chat.Request{
		Model: prefs.Model,
		SystemPrompt: prompt.Compose(prompt.Params{
			Base:        prefs.SystemPrompt,
			Preferences: prefs,
			GuildName:   guildName,
			UserIDs:     participants,
			Now:         time.Now(),
		}),
		Turns: turns,
	}

	b.logger.Info("generating response",
		slog.String("model", req.Model),
		slog.String("message_id", m.ID),
		slog.Int("turns", len(turns)))

	// Response messages are cached as locked nodes so a follow-up reply
	// arriving mid-generation waits for the final text instead of
	// re-fetching a partial message.
	var replyNodes []*history.Node
	onSend := func(msg *discordgo.Message) {
		node := b.cache.GetOrCreate(msg.ID)
		node.Lock()
		node.Role = chat.RoleModel
		node.ParentID = m.ID
		node.ParentChannelID = m.ChannelID
		replyNodes = append(replyNodes, node)
	}

	stream := newResponseStream(s, m, b.cfg.UsePlainResponses, warnings, b.logger, onSend)
	chunks, errs := b.streamer.StreamChat(ctx, req)
	b.pumpStream(cancel, stream, chunks, errs, m.ID)

	text := stream.Text()
	for _, node := range replyNodes {
		node.Text = text
		node.MarkPopulated()
		node.Unlock()
	}
	b.cache.EvictExcess()
}

// pumpStream forwards generation deltas into the response stream and settles
// its final state: a generation error or a delivery error both overwrite the
// active message with the error notice, a clean end flushes the final content.
func (b *Bot) pumpStream(cancel context.CancelFunc, stream *responseStream, chunks <-chan chat.StreamChunk, errs <-chan error, messageID string) {
	var pushErr error
	for chunk := range chunks {
		if pushErr != nil {
			continue
		}
		if err := stream.Push(chunk.Delta); err != nil {
			b.logger.Error("stream delivery failed", slog.String("message_id", messageID), slog.Any("error", err))
			pushErr = err
			cancel()
		}
	}

	if genErr := <-errs; genErr != nil {
		b.logger.Error("generation failed", slog.String("message_id", messageID), slog.Any("error", genErr))
		stream.Fail()
	} else if pushErr != nil {
		stream.Fail()
	} else if err := stream.Finish(); err != nil {
		b.logger.Error("finalize response failed", slog.String("message_id", messageID), slog.Any("error", err))
	}
}

func (b *Bot) keepTyping(s *discordgo.Session, channelID string, stop <-chan struct{}) {
	ticker := time.NewTicker(typingInterval)
	defer ticker.Stop()
	for {
		if err := s.ChannelTyping(channelID); err != nil {
			b.logger.Debug("typing indicator failed", slog.String("channel_id", channelID), slog.Any("error", err))
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// channelScope returns the channel plus its thread parent and category, so
// permission rules set on any level of the hierarchy apply.
func (b *Bot) channelScope(channelID string) []string {
	ids := []string{channelID}
	reader := &sessionReader{session: b.session}

	ch, err := reader.Channel(channelID)
	if err != nil || ch.ParentID == "" {
		return ids
	}
	ids = append(ids, ch.ParentID)

	parent, err := reader.Channel(ch.ParentID)
	if err == nil && parent.ParentID != "" {
		ids = append(ids, parent.ParentID)
	}
	return ids
}

func mentionsUser(mentions []*discordgo.User, userID string) bool {
	for _, u := range mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

func authorDisplayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
