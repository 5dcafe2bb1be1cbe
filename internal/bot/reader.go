package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// sessionReader adapts a discordgo session to the history walker's channel
// access, preferring the gateway state cache over REST where possible.
type sessionReader struct {
	session *discordgo.Session
}

func (r *sessionReader) Channel(id string) (*discordgo.Channel, error) {
	if ch, err := r.session.State.Channel(id); err == nil {
		return ch, nil
	}
	ch, err := r.session.Channel(id)
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w", id, err)
	}
	return ch, nil
}

func (r *sessionReader) PreviousMessage(channelID, beforeID string) (*discordgo.Message, error) {
	msgs, err := r.session.ChannelMessages(channelID, 1, beforeID, "", "")
	if err != nil {
		return nil, fmt.Errorf("fetch message before %s: %w", beforeID, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

func (r *sessionReader) FetchMessage(channelID, messageID string) (*discordgo.Message, error) {
	msg, err := r.session.ChannelMessage(channelID, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	return msg, nil
}
