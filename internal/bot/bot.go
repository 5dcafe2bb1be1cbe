package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/gemrelay/gemrelay/internal/chat"
	"github.com/gemrelay/gemrelay/internal/config"
	"github.com/gemrelay/gemrelay/internal/history"
	"github.com/gemrelay/gemrelay/internal/store"
)

const maxStatusLength = 128

// invitePermissions grants view channel, send messages, send messages in
// threads, attach files, and read message history.
const invitePermissions = "412317191168"

// Bot owns the gateway session and wires incoming Discord events to the
// conversation builder, the generation client, and the preference store.
type Bot struct {
	cfg      config.Config
	session  *discordgo.Session
	store    *store.Store
	cache    *history.Cache
	resolver history.ImageResolver
	streamer chat.Streamer
	logger   *slog.Logger

	// builder is created after the gateway handshake, once the bot's own
	// user ID is known.
	builder *history.Builder
}

// New creates the bot and its gateway session. The session is not opened
// until Start.
func New(log *slog.Logger, cfg config.Config, st *store.Store, cache *history.Cache, resolver history.ImageResolver, streamer chat.Streamer) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	b := &Bot{
		cfg:      cfg,
		session:  session,
		store:    st,
		cache:    cache,
		resolver: resolver,
		streamer: streamer,
		logger:   log.With(slog.String("service", "bot")),
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onInteractionCreate)

	return b, nil
}

// Start resolves the bot's own identity, then opens the gateway connection.
// The builder is in place before the first event can arrive.
func (b *Bot) Start(ctx context.Context) error {
	self, err := b.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("fetch bot user: %w", err)
	}

	b.builder = history.NewBuilder(b.logger, b.cache, &sessionReader{session: b.session}, b.resolver, self.ID, history.Limits{
		MaxText:     b.cfg.MaxText,
		MaxImages:   b.cfg.MaxImages,
		MaxMessages: b.cfg.MaxMessages,
		MaxURLs:     b.cfg.MaxURLs,
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}

	b.logger.Info("gateway connected",
		slog.String("bot_id", self.ID),
		slog.String("username", self.Username))
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop(ctx context.Context) error {
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("close gateway: %w", err)
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if err := b.syncCommands(s, r.Application.ID); err != nil {
		b.logger.Error("sync commands failed", slog.Any("error", err))
	}

	status := b.cfg.StatusMessage
	if len(status) > maxStatusLength {
		status = status[:maxStatusLength]
	}
	if err := s.UpdateCustomStatus(status); err != nil {
		b.logger.Error("set status failed", slog.Any("error", err))
	}

	clientID := b.cfg.ClientID
	if clientID == "" {
		clientID = r.Application.ID
	}
	b.logger.Info("invite url",
		slog.String("url", fmt.Sprintf(
			"https://discord.com/oauth2/authorize?client_id=%s&permissions=%s&scope=bot",
			clientID, invitePermissions)))
}
