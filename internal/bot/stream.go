package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	// editInterval is the minimum spacing between mid-stream edits. Discord
	// has strict rate limits, so intermediate deltas are coalesced.
	editInterval = 2 * time.Second

	streamingIndicator = " ⚪"

	// Length caps count characters, with the embed cap reserving the two
	// characters of the streaming indicator.
	plainMaxLength = 2000
	embedMaxLength = 4096 - 2

	colorStreaming = 0xE67E22
	colorComplete  = 0x1F8B4C
	colorError     = 0xE74C3C

	generationErrorMessage = "Sorry, I encountered an error while generating a response."
)

// replySender is the slice of the session API the stream needs.
// *discordgo.Session satisfies it.
type replySender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// responseStream incrementally materializes a generation stream as one or
// more edited reply messages. Content that no longer fits the active message
// is flushed there and continues in a new reply chained off it.
type responseStream struct {
	session  replySender
	trigger  *discordgo.Message
	plain    bool
	warnings []string
	logger   *slog.Logger
	now      func() time.Time
	onSend   func(*discordgo.Message)

	maxLength int
	msgs      []*discordgo.Message
	contents  []string
	lastEdit  time.Time
}

func newResponseStream(session replySender, trigger *discordgo.Message, plain bool, warnings []string, log *slog.Logger, onSend func(*discordgo.Message)) *responseStream {
	if log == nil {
		log = slog.Default()
	}
	maxLength := embedMaxLength
	if plain {
		maxLength = plainMaxLength
	}
	if onSend == nil {
		onSend = func(*discordgo.Message) {}
	}
	return &responseStream{
		session:   session,
		trigger:   trigger,
		plain:     plain,
		warnings:  warnings,
		logger:    log,
		now:       time.Now,
		onSend:    onSend,
		maxLength: maxLength,
	}
}

// Push appends one delta to the response, splitting into a new message when
// the active one is full and editing the active one at most once per
// editInterval.
func (s *responseStream) Push(delta string) error {
	if delta == "" {
		return nil
	}

	// First delta opens the first reply.
	if len(s.contents) == 0 {
		s.contents = append(s.contents, delta)
		if s.plain {
			return nil
		}
		return s.sendStreaming(s.trigger, delta)
	}

	last := len(s.contents) - 1
	if utf8.RuneCountInString(s.contents[last])+utf8.RuneCountInString(delta) > s.maxLength {
		// Flush the committed portion as final content, continue in a
		// new reply seeded with the overflow.
		if !s.plain {
			if err := s.editFinal(last); err != nil {
				return err
			}
		}
		s.contents = append(s.contents, delta)
		if s.plain {
			return nil
		}
		return s.sendStreaming(s.msgs[len(s.msgs)-1], delta)
	}

	s.contents[last] += delta

	if !s.plain && s.now().Sub(s.lastEdit) >= editInterval {
		if err := s.edit(s.msgs[last], s.embed(last, s.contents[last]+streamingIndicator, colorStreaming), ""); err != nil {
			return err
		}
		s.lastEdit = s.now()
	}
	return nil
}

// Finish flushes every message's final content without the in-progress
// marker. Messages not yet sent (plain mode, or trailing overflow) are sent
// now.
func (s *responseStream) Finish() error {
	for i, content := range s.contents {
		if i < len(s.msgs) {
			if err := s.editFinal(i); err != nil {
				return err
			}
			continue
		}
		target := s.trigger
		if len(s.msgs) > 0 {
			target = s.msgs[len(s.msgs)-1]
		}
		if err := s.sendFinal(target, i, content); err != nil {
			return err
		}
	}
	return nil
}

// Fail overwrites the active message (or creates one) with a fixed error
// notice. Earlier completed messages stay as committed.
func (s *responseStream) Fail() {
	var err error
	if len(s.msgs) > 0 {
		last := s.msgs[len(s.msgs)-1]
		if s.plain {
			err = s.edit(last, nil, generationErrorMessage)
		} else {
			err = s.edit(last, &discordgo.MessageEmbed{Description: generationErrorMessage, Color: colorError}, "")
		}
	} else {
		if s.plain {
			_, err = s.send(s.trigger, &discordgo.MessageSend{Content: generationErrorMessage})
		} else {
			_, err = s.send(s.trigger, &discordgo.MessageSend{
				Embeds: []*discordgo.MessageEmbed{{Description: generationErrorMessage, Color: colorError}},
			})
		}
	}
	if err != nil {
		s.logger.Error("send error notice failed", slog.Any("error", err))
	}
}

// Text returns the full response text across all messages.
func (s *responseStream) Text() string {
	return strings.Join(s.contents, "")
}

// Messages returns every outgoing message produced so far.
func (s *responseStream) Messages() []*discordgo.Message {
	return s.msgs
}

func (s *responseStream) sendStreaming(target *discordgo.Message, content string) error {
	msg, err := s.send(target, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{s.embed(len(s.contents)-1, content+streamingIndicator, colorStreaming)},
		Flags:  discordgo.MessageFlagsSuppressNotifications,
	})
	if err != nil {
		return err
	}
	s.msgs = append(s.msgs, msg)
	s.lastEdit = s.now()
	return nil
}

func (s *responseStream) sendFinal(target *discordgo.Message, index int, content string) error {
	data := &discordgo.MessageSend{Flags: discordgo.MessageFlagsSuppressNotifications}
	if s.plain {
		data.Content = content
	} else {
		data.Embeds = []*discordgo.MessageEmbed{s.embed(index, content, colorComplete)}
	}
	msg, err := s.send(target, data)
	if err != nil {
		return err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *responseStream) editFinal(index int) error {
	if s.plain {
		return s.edit(s.msgs[index], nil, s.contents[index])
	}
	return s.edit(s.msgs[index], s.embed(index, s.contents[index], colorComplete), "")
}

func (s *responseStream) send(target *discordgo.Message, data *discordgo.MessageSend) (*discordgo.Message, error) {
	data.Reference = &discordgo.MessageReference{
		MessageID: target.ID,
		ChannelID: target.ChannelID,
		GuildID:   target.GuildID,
	}
	msg, err := s.session.ChannelMessageSendComplex(target.ChannelID, data)
	if err != nil {
		return nil, fmt.Errorf("send response message: %w", err)
	}
	s.onSend(msg)
	return msg, nil
}

func (s *responseStream) edit(msg *discordgo.Message, embed *discordgo.MessageEmbed, content string) error {
	editData := discordgo.NewMessageEdit(msg.ChannelID, msg.ID)
	if embed != nil {
		editData.SetEmbeds([]*discordgo.MessageEmbed{embed})
	} else {
		editData.SetContent(content)
	}
	if _, err := s.session.ChannelMessageEditComplex(editData); err != nil {
		return fmt.Errorf("edit response message: %w", err)
	}
	return nil
}

// embed builds the embed for message index; warnings ride on the first
// message only.
func (s *responseStream) embed(index int, description string, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Description: description, Color: color}
	if index == 0 && len(s.warnings) > 0 {
		embed.Fields = []*discordgo.MessageEmbedField{{
			Name:  "⚠️ Warnings",
			Value: strings.Join(s.warnings, "\n"),
		}}
	}
	return embed
}
