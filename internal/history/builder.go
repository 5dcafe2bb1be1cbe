package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/gemrelay/gemrelay/internal/chat"
	"github.com/gemrelay/gemrelay/internal/media"
)

// ChannelReader is the slice of the platform API the builder needs to walk a
// conversation backward.
type ChannelReader interface {
	Channel(id string) (*discordgo.Channel, error)
	PreviousMessage(channelID, beforeID string) (*discordgo.Message, error)
	FetchMessage(channelID, messageID string) (*discordgo.Message, error)
}

// ImageResolver downloads and normalizes one image URL.
type ImageResolver interface {
	Resolve(ctx context.Context, url string) (media.Image, error)
}

// Limits bounds a single conversation walk.
type Limits struct {
	MaxText     int
	MaxImages   int
	MaxMessages int
	MaxURLs     int
}

// Builder reconstructs a bounded, chronological conversation from a trigger
// message by walking the reply/thread lineage backward through the cache and
// the platform.
type Builder struct {
	cache    *Cache
	reader   ChannelReader
	resolver ImageResolver
	botID    string
	limits   Limits
	logger   *slog.Logger
}

// NewBuilder creates a conversation builder for the bot identified by botID.
func NewBuilder(log *slog.Logger, cache *Cache, reader ChannelReader, resolver ImageResolver, botID string, limits Limits) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		cache:    cache,
		reader:   reader,
		resolver: resolver,
		botID:    botID,
		limits:   limits,
		logger:   log.With(slog.String("service", "history")),
	}
}

// Build walks the lineage chain from trigger backward and returns the
// conversation in chronological order, the user-facing warnings collected
// along the way, and the IDs of every human participant.
func (b *Builder) Build(ctx context.Context, trigger *discordgo.Message, isDM bool) ([]chat.Turn, []string, []string) {
	var turns []chat.Turn
	warnings := make(map[string]struct{})
	participants := make(map[string]struct{})

	msg := trigger
	msgID := trigger.ID
	channelID := trigger.ChannelID

	// Bounded by messages visited, not turns emitted: empty messages in a
	// lineage cycle would otherwise walk forever.
	visited := 0
	for msgID != "" && visited < b.limits.MaxMessages {
		visited++
		node := b.cache.GetOrCreate(msgID)
		node.Lock()

		var parentMsg *discordgo.Message
		if !node.Populated() {
			if msg == nil {
				fetched, err := b.reader.FetchMessage(channelID, msgID)
				if err != nil {
					b.logger.Error("fetch lineage message failed", slog.String("message_id", msgID), slog.Any("error", err))
					node.Unlock()
					warnings[lineageWarning(len(turns))] = struct{}{}
					break
				}
				msg = fetched
			}
			parentMsg = b.populate(ctx, node, msg, isDM)
			node.MarkPopulated()
		}

		if node.Role == chat.RoleUser && node.UserID != "" {
			participants[node.UserID] = struct{}{}
		}

		text := node.Text
		if utf8.RuneCountInString(text) > b.limits.MaxText {
			warnings[maxTextWarning(b.limits.MaxText)] = struct{}{}
			text = truncateText(text, b.limits.MaxText)
		}
		if text != "" && node.Role == chat.RoleUser && node.DisplayName != "" {
			text = node.DisplayName + ": " + text
		}

		var parts []chat.Part
		if text != "" {
			parts = append(parts, chat.Part{Text: text})
		}
		images := node.Images
		if len(images) > b.limits.MaxImages {
			images = images[:b.limits.MaxImages]
		}
		for i := range images {
			parts = append(parts, chat.Part{Image: &images[i]})
		}
		if len(parts) > 0 {
			turns = append(turns, chat.Turn{Role: node.Role, Parts: parts})
		}

		if node.ImagesTruncated {
			warnings[maxImagesWarning(b.limits.MaxImages)] = struct{}{}
		}
		if node.HasBadAttachments {
			warnings[badAttachmentsWarning] = struct{}{}
		}
		if node.FetchParentFailed || (node.ParentID != "" && visited == b.limits.MaxMessages) {
			warnings[lineageWarning(len(turns))] = struct{}{}
		}

		nextID := node.ParentID
		nextChannelID := node.ParentChannelID
		node.Unlock()

		// A self-referential parent must not loop.
		if nextID == msgID {
			break
		}
		msgID = nextID
		channelID = nextChannelID
		msg = parentMsg
	}

	reverseTurns(turns)
	return turns, sortedSet(warnings), sortedSet(participants)
}

// populate derives the node's content from the raw message. Callers hold the
// node's lock; populate runs at most once per node. Returns the resolved
// parent message when lineage resolution fetched one.
func (b *Builder) populate(ctx context.Context, node *Node, msg *discordgo.Message, isDM bool) *discordgo.Message {
	cleaned := strings.TrimLeft(stripBotMention(msg.Content, b.botID), " ")

	var lines []string
	if cleaned != "" {
		lines = append(lines, cleaned)
	}
	for _, embed := range msg.Embeds {
		var embedLines []string
		if embed.Title != "" {
			embedLines = append(embedLines, embed.Title)
		}
		if embed.Description != "" {
			embedLines = append(embedLines, embed.Description)
		}
		if len(embedLines) > 0 {
			lines = append(lines, strings.Join(embedLines, "\n"))
		}
	}
	node.Text = strings.Join(lines, "\n")

	var good []*discordgo.MessageAttachment
	for _, att := range msg.Attachments {
		if strings.HasPrefix(att.ContentType, "image") {
			good = append(good, att)
		}
	}
	node.HasBadAttachments = len(msg.Attachments) > len(good)
	if len(good) > b.limits.MaxImages {
		node.ImagesTruncated = true
		good = good[:b.limits.MaxImages]
	}
	for _, att := range good {
		img, err := b.resolver.Resolve(ctx, att.URL)
		if err != nil {
			node.HasBadAttachments = true
			continue
		}
		node.Images = append(node.Images, img)
	}

	if len(node.Images) < b.limits.MaxImages {
		for _, url := range media.ExtractImageURLs(node.Text, b.limits.MaxURLs) {
			if len(node.Images) >= b.limits.MaxImages {
				break
			}
			img, err := b.resolver.Resolve(ctx, url)
			if err != nil {
				continue
			}
			node.Images = append(node.Images, img)
		}
	}

	if msg.Author != nil && msg.Author.ID == b.botID {
		node.Role = chat.RoleModel
	} else {
		node.Role = chat.RoleUser
		if msg.Author != nil {
			node.UserID = msg.Author.ID
			node.DisplayName = displayName(msg)
		}
	}

	return b.resolveParent(node, msg, isDM)
}

// resolveParent applies the lineage precedence: implicit same-author (or
// bot-in-DM) continuation, then public-thread start, then explicit reply
// reference. Any fetch error marks the node and ends the walk.
func (b *Builder) resolveParent(node *Node, msg *discordgo.Message, isDM bool) *discordgo.Message {
	// (a) No reply reference and no mention: the previous message in the
	// channel continues the conversation when its author matches.
	if msg.MessageReference == nil && !mentionsBot(msg.Content, b.botID) {
		prev, err := b.reader.PreviousMessage(msg.ChannelID, msg.ID)
		if err != nil {
			b.logger.Error("fetch previous message failed", slog.String("message_id", msg.ID), slog.Any("error", err))
			node.FetchParentFailed = true
			return nil
		}
		expectedAuthor := ""
		if msg.Author != nil {
			expectedAuthor = msg.Author.ID
		}
		if isDM {
			expectedAuthor = b.botID
		}
		if prev != nil && prev.Author != nil && prev.Author.ID == expectedAuthor &&
			(prev.Type == discordgo.MessageTypeDefault || prev.Type == discordgo.MessageTypeReply) {
			node.ParentID = prev.ID
			node.ParentChannelID = prev.ChannelID
			return prev
		}
	}

	// (b) Unreferenced message in a public thread of a text channel: the
	// thread's starter message is the parent. A thread shares its ID with
	// the message that started it.
	if msg.MessageReference == nil {
		if parentChannelID, ok := b.threadStartParent(msg.ChannelID); ok {
			starter, err := b.reader.FetchMessage(parentChannelID, msg.ChannelID)
			if err != nil {
				b.logger.Error("fetch thread starter failed", slog.String("thread_id", msg.ChannelID), slog.Any("error", err))
				node.FetchParentFailed = true
				return nil
			}
			node.ParentID = msg.ChannelID
			node.ParentChannelID = parentChannelID
			return starter
		}
	}

	// (c) Explicit reply reference.
	if msg.MessageReference != nil && msg.MessageReference.MessageID != "" && msg.MessageReference.MessageID != msg.ID {
		refChannelID := msg.MessageReference.ChannelID
		if refChannelID == "" {
			refChannelID = msg.ChannelID
		}
		if msg.ReferencedMessage != nil {
			node.ParentID = msg.ReferencedMessage.ID
			node.ParentChannelID = refChannelID
			return msg.ReferencedMessage
		}
		parent, err := b.reader.FetchMessage(refChannelID, msg.MessageReference.MessageID)
		if err != nil {
			b.logger.Error("fetch reply target failed", slog.String("message_id", msg.MessageReference.MessageID), slog.Any("error", err))
			node.FetchParentFailed = true
			return nil
		}
		node.ParentID = parent.ID
		node.ParentChannelID = refChannelID
		return parent
	}

	return nil
}

// threadStartParent reports whether channelID is a public thread hanging off
// a standard text channel, returning that parent channel's ID.
func (b *Builder) threadStartParent(channelID string) (string, bool) {
	ch, err := b.reader.Channel(channelID)
	if err != nil || ch == nil || ch.Type != discordgo.ChannelTypeGuildPublicThread || ch.ParentID == "" {
		return "", false
	}
	parent, err := b.reader.Channel(ch.ParentID)
	if err != nil || parent == nil || parent.Type != discordgo.ChannelTypeGuildText {
		return "", false
	}
	return parent.ID, true
}

const badAttachmentsWarning = "⚠️ Unsupported attachments"

func maxTextWarning(max int) string {
	return fmt.Sprintf("⚠️ Max %d characters per message", max)
}

func maxImagesWarning(max int) string {
	return fmt.Sprintf("⚠️ Max %d images per message", max)
}

func lineageWarning(count int) string {
	suffix := "s"
	if count == 1 {
		suffix = ""
	}
	return fmt.Sprintf("⚠️ Only using last %d message%s", count, suffix)
}

func stripBotMention(content, botID string) string {
	for _, mention := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		if strings.HasPrefix(content, mention) {
			return content[len(mention):]
		}
	}
	return content
}

func mentionsBot(content, botID string) bool {
	return strings.Contains(content, "<@"+botID+">") || strings.Contains(content, "<@!"+botID+">")
}

func displayName(msg *discordgo.Message) string {
	if msg.Member != nil && msg.Member.Nick != "" {
		return msg.Member.Nick
	}
	if msg.Author.GlobalName != "" {
		return msg.Author.GlobalName
	}
	return msg.Author.Username
}

// truncateText keeps the first max characters of text.
func truncateText(text string, max int) string {
	count := 0
	for i := range text {
		if count == max {
			return text[:i]
		}
		count++
	}
	return text
}

func reverseTurns(turns []chat.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
