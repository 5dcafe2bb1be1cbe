package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemrelay/gemrelay/internal/chat"
	"github.com/gemrelay/gemrelay/internal/media"
)

const testBotID = "999"

type stubReader struct {
	channels map[string]*discordgo.Channel
	messages map[string]*discordgo.Message
	prev     map[string]*discordgo.Message
	fetchErr map[string]error
}

func (r *stubReader) Channel(id string) (*discordgo.Channel, error) {
	if ch, ok := r.channels[id]; ok {
		return ch, nil
	}
	return &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeGuildText}, nil
}

func (r *stubReader) PreviousMessage(channelID, beforeID string) (*discordgo.Message, error) {
	return r.prev[beforeID], nil
}

func (r *stubReader) FetchMessage(channelID, messageID string) (*discordgo.Message, error) {
	if err, ok := r.fetchErr[messageID]; ok {
		return nil, err
	}
	if msg, ok := r.messages[messageID]; ok {
		return msg, nil
	}
	return nil, fmt.Errorf("message %s not found", messageID)
}

type countingResolver struct {
	calls atomic.Int64
	fail  map[string]bool
}

func (r *countingResolver) Resolve(ctx context.Context, url string) (media.Image, error) {
	r.calls.Add(1)
	if r.fail[url] {
		return media.Image{}, media.ErrGIFDecode
	}
	return media.Image{MIMEType: "image/png", Data: []byte{0xff}}, nil
}

func testLimits() Limits {
	return Limits{MaxText: 1000, MaxImages: 5, MaxMessages: 25, MaxURLs: 3}
}

func newTestBuilder(reader *stubReader, resolver *countingResolver, limits Limits) *Builder {
	return NewBuilder(nil, NewCache(), reader, resolver, testBotID, limits)
}

func userMsg(id, authorID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "chan",
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: "user" + authorID},
		Type:      discordgo.MessageTypeDefault,
	}
}

func botMsg(id, content string) *discordgo.Message {
	msg := userMsg(id, testBotID, content)
	return msg
}

func replyTo(msg, parent *discordgo.Message) *discordgo.Message {
	msg.Type = discordgo.MessageTypeReply
	msg.MessageReference = &discordgo.MessageReference{MessageID: parent.ID, ChannelID: parent.ChannelID}
	msg.ReferencedMessage = parent
	return msg
}

func TestBuildReplyChainChronological(t *testing.T) {
	t.Parallel()

	m1 := userMsg("100", "1", "first question")
	m2 := replyTo(botMsg("101", "first answer"), m1)
	m3 := replyTo(userMsg("102", "1", "follow-up"), m2)

	b := newTestBuilder(&stubReader{}, &countingResolver{}, testLimits())
	turns, warnings, participants := b.Build(context.Background(), m3, false)

	require.Len(t, turns, 3)
	assert.Equal(t, chat.RoleUser, turns[0].Role)
	assert.Equal(t, "user1: first question", turns[0].Parts[0].Text)
	assert.Equal(t, chat.RoleModel, turns[1].Role)
	assert.Equal(t, "first answer", turns[1].Parts[0].Text)
	assert.Equal(t, "user1: follow-up", turns[2].Parts[0].Text)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"1"}, participants)
}

func TestBuildStopsAtMaxMessages(t *testing.T) {
	t.Parallel()

	msgs := make([]*discordgo.Message, 6)
	msgs[0] = userMsg("100", "1", "m0")
	for i := 1; i < 6; i++ {
		msgs[i] = replyTo(userMsg(fmt.Sprintf("10%d", i), "1", fmt.Sprintf("m%d", i)), msgs[i-1])
	}

	limits := testLimits()
	limits.MaxMessages = 3
	b := newTestBuilder(&stubReader{}, &countingResolver{}, limits)
	turns, warnings, _ := b.Build(context.Background(), msgs[5], false)

	require.Len(t, turns, 3)
	// Newest three, oldest first.
	assert.Equal(t, "user1: m3", turns[0].Parts[0].Text)
	assert.Equal(t, "user1: m5", turns[2].Parts[0].Text)
	assert.Contains(t, warnings, "⚠️ Only using last 3 messages")
}

func TestBuildSelfReferentialParentTerminates(t *testing.T) {
	t.Parallel()

	m := userMsg("100", "1", "loop")
	m.MessageReference = &discordgo.MessageReference{MessageID: "100", ChannelID: "chan"}
	m.ReferencedMessage = m

	b := newTestBuilder(&stubReader{}, &countingResolver{}, testLimits())
	turns, _, _ := b.Build(context.Background(), m, false)
	require.Len(t, turns, 1)
}

func TestBuildLineageCycleBounded(t *testing.T) {
	t.Parallel()

	m1 := userMsg("100", "1", "a")
	m2 := userMsg("101", "1", "b")
	replyTo(m1, m2)
	replyTo(m2, m1)

	limits := testLimits()
	limits.MaxMessages = 10
	b := newTestBuilder(&stubReader{}, &countingResolver{}, limits)
	turns, _, _ := b.Build(context.Background(), m2, false)
	assert.LessOrEqual(t, len(turns), 10)
}

func TestBuildEmptyMessageCycleTerminates(t *testing.T) {
	t.Parallel()

	// Empty messages emit no turn, so the walk must be bounded by
	// messages visited rather than turns collected.
	m1 := userMsg("100", "1", "")
	m2 := userMsg("101", "1", "")
	replyTo(m1, m2)
	replyTo(m2, m1)

	limits := testLimits()
	limits.MaxMessages = 10
	b := newTestBuilder(&stubReader{}, &countingResolver{}, limits)
	turns, _, _ := b.Build(context.Background(), m2, false)
	assert.Empty(t, turns)
}

func TestBuildTextTruncation(t *testing.T) {
	t.Parallel()

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	m := userMsg("100", "1", string(long))

	b := newTestBuilder(&stubReader{}, &countingResolver{}, testLimits())
	turns, warnings, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 1)
	// "user1: " prefix plus the 1000-character cap.
	assert.Len(t, turns[0].Parts[0].Text, len("user1: ")+1000)
	assert.Contains(t, warnings, "⚠️ Max 1000 characters per message")
}

func TestBuildTextTruncationCountsRunes(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.MaxText = 10
	m := userMsg("100", "1", strings.Repeat("é", 12))

	b := newTestBuilder(&stubReader{}, &countingResolver{}, limits)
	turns, warnings, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 1)
	assert.Equal(t, "user1: "+strings.Repeat("é", 10), turns[0].Parts[0].Text)
	assert.Contains(t, warnings, "⚠️ Max 10 characters per message")
}

func TestBuildImageCapAndWarning(t *testing.T) {
	t.Parallel()

	m := userMsg("100", "1", "pics")
	for i := 0; i < 7; i++ {
		m.Attachments = append(m.Attachments, &discordgo.MessageAttachment{
			ContentType: "image/png",
			URL:         fmt.Sprintf("https://cdn.example/%d.png", i),
		})
	}

	resolver := &countingResolver{}
	b := newTestBuilder(&stubReader{}, resolver, testLimits())
	turns, warnings, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 1)
	imageParts := 0
	for _, part := range turns[0].Parts {
		if part.Image != nil {
			imageParts++
		}
	}
	assert.Equal(t, 5, imageParts)
	assert.Equal(t, int64(5), resolver.calls.Load())
	assert.Contains(t, warnings, "⚠️ Max 5 images per message")
}

func TestBuildRejectedAttachmentWarning(t *testing.T) {
	t.Parallel()

	m := userMsg("100", "1", "here is a gif")
	m.Attachments = []*discordgo.MessageAttachment{
		{ContentType: "image/gif", URL: "https://cdn.example/broken.gif"},
		{ContentType: "application/pdf", URL: "https://cdn.example/doc.pdf"},
	}

	resolver := &countingResolver{fail: map[string]bool{"https://cdn.example/broken.gif": true}}
	b := newTestBuilder(&stubReader{}, resolver, testLimits())
	turns, warnings, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 1)
	for _, part := range turns[0].Parts {
		assert.Nil(t, part.Image)
	}
	assert.Contains(t, warnings, "⚠️ Unsupported attachments")
}

func TestBuildResolvesTextImageURLs(t *testing.T) {
	t.Parallel()

	m := userMsg("100", "1", "look at https://example.com/cat.png")

	resolver := &countingResolver{}
	b := newTestBuilder(&stubReader{}, resolver, testLimits())
	turns, _, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 1)
	require.Len(t, turns[0].Parts, 2)
	assert.NotNil(t, turns[0].Parts[1].Image)
	assert.Equal(t, int64(1), resolver.calls.Load())
}

func TestBuildPopulateOnceAcrossConcurrentWalks(t *testing.T) {
	t.Parallel()

	m := userMsg("100", "1", "shared history")
	m.Attachments = []*discordgo.MessageAttachment{
		{ContentType: "image/png", URL: "https://cdn.example/shared.png"},
	}

	resolver := &countingResolver{}
	b := newTestBuilder(&stubReader{}, resolver, testLimits())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turns, _, _ := b.Build(context.Background(), m, false)
			if len(turns) != 1 {
				t.Errorf("got %d turns, want 1", len(turns))
			}
		}()
	}
	wg.Wait()

	// The expensive populate ran exactly once.
	assert.Equal(t, int64(1), resolver.calls.Load())
}

func TestBuildImplicitPreviousMessageParent(t *testing.T) {
	t.Parallel()

	prev := userMsg("100", "1", "part one")
	m := userMsg("101", "1", "part two")

	reader := &stubReader{prev: map[string]*discordgo.Message{"101": prev}}
	b := newTestBuilder(reader, &countingResolver{}, testLimits())
	turns, _, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 2)
	assert.Equal(t, "user1: part one", turns[0].Parts[0].Text)
}

func TestBuildImplicitParentRequiresSameAuthor(t *testing.T) {
	t.Parallel()

	prev := userMsg("100", "2", "someone else")
	m := userMsg("101", "1", "unrelated")

	reader := &stubReader{prev: map[string]*discordgo.Message{"101": prev}}
	b := newTestBuilder(reader, &countingResolver{}, testLimits())
	turns, _, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 1)
}

func TestBuildImplicitParentSkippedWhenMentioned(t *testing.T) {
	t.Parallel()

	prev := userMsg("100", "1", "part one")
	m := userMsg("101", "1", "<@"+testBotID+"> part two")

	reader := &stubReader{prev: map[string]*discordgo.Message{"101": prev}}
	b := newTestBuilder(reader, &countingResolver{}, testLimits())
	turns, _, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 1)
	assert.Equal(t, "user1: part two", turns[0].Parts[0].Text)
}

func TestBuildDMContinuationFromBot(t *testing.T) {
	t.Parallel()

	prev := botMsg("100", "earlier answer")
	m := userMsg("101", "1", "thanks, and also...")

	reader := &stubReader{prev: map[string]*discordgo.Message{"101": prev}}
	b := newTestBuilder(reader, &countingResolver{}, testLimits())
	turns, _, _ := b.Build(context.Background(), m, true)

	require.Len(t, turns, 2)
	assert.Equal(t, chat.RoleModel, turns[0].Role)
}

func TestBuildThreadStarterParent(t *testing.T) {
	t.Parallel()

	starter := userMsg("500", "1", "thread opener")
	starter.ChannelID = "textchan"
	m := userMsg("600", "2", "thread reply")
	m.ChannelID = "500" // threads share their ID with the starter message

	reader := &stubReader{
		channels: map[string]*discordgo.Channel{
			"500":      {ID: "500", Type: discordgo.ChannelTypeGuildPublicThread, ParentID: "textchan"},
			"textchan": {ID: "textchan", Type: discordgo.ChannelTypeGuildText},
		},
		messages: map[string]*discordgo.Message{"500": starter},
	}
	b := newTestBuilder(reader, &countingResolver{}, testLimits())
	turns, _, participants := b.Build(context.Background(), m, false)

	require.Len(t, turns, 2)
	assert.Equal(t, "user1: thread opener", turns[0].Parts[0].Text)
	assert.Equal(t, []string{"1", "2"}, participants)
}

func TestBuildFetchFailureStopsWalk(t *testing.T) {
	t.Parallel()

	m := userMsg("101", "1", "reply to deleted")
	m.MessageReference = &discordgo.MessageReference{MessageID: "100", ChannelID: "chan"}

	reader := &stubReader{fetchErr: map[string]error{"100": fmt.Errorf("404")}}
	b := newTestBuilder(reader, &countingResolver{}, testLimits())
	turns, warnings, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 1)
	assert.Contains(t, warnings, "⚠️ Only using last 1 message")
}

func TestBuildSkipsEmptyTurns(t *testing.T) {
	t.Parallel()

	m := userMsg("100", "1", "")
	m.Attachments = []*discordgo.MessageAttachment{
		{ContentType: "application/zip", URL: "https://cdn.example/a.zip"},
	}

	b := newTestBuilder(&stubReader{}, &countingResolver{}, testLimits())
	turns, warnings, _ := b.Build(context.Background(), m, false)

	assert.Empty(t, turns)
	assert.Contains(t, warnings, "⚠️ Unsupported attachments")
}

func TestBuildEmbedTextFoldedIn(t *testing.T) {
	t.Parallel()

	m := userMsg("100", "1", "see embed")
	m.Embeds = []*discordgo.MessageEmbed{
		{Title: "Embed Title", Description: "Embed body"},
	}

	b := newTestBuilder(&stubReader{}, &countingResolver{}, testLimits())
	turns, _, _ := b.Build(context.Background(), m, false)

	require.Len(t, turns, 1)
	assert.Equal(t, "user1: see embed\nEmbed Title\nEmbed body", turns[0].Parts[0].Text)
}
