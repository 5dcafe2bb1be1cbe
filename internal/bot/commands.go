package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/gemrelay/gemrelay/internal/config"
	"github.com/gemrelay/gemrelay/internal/store"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	modelChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(config.AvailableModels()))
	for _, model := range config.AvailableModels() {
		modelChoices = append(modelChoices, &discordgo.ApplicationCommandOptionChoice{
			Name:  modelDisplayName(model),
			Value: model,
		})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "model",
			Description: "View or switch the current model",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "model",
					Description: "Choose a Gemini model",
					Choices:     modelChoices,
				},
			},
		},
		{
			Name:        "prompt",
			Description: "Manage the system prompt",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "Choose an action",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "View current prompt", Value: "view"},
						{Name: "Set new prompt", Value: "set"},
						{Name: "Reset to default", Value: "reset"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "The system prompt text (for 'set' action)",
				},
			},
		},
		{
			Name:        "known",
			Description: "Manage user personalization",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "Choose an action",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Set your description", Value: "set"},
						{Name: "View description", Value: "view"},
						{Name: "Remove description", Value: "remove"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "description",
					Description: "Your description (for 'set' action)",
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User to manage (admin only)",
				},
			},
		},
	}
}

func (b *Bot) syncCommands(s *discordgo.Session, appID string) error {
	if _, err := s.ApplicationCommandBulkOverwrite(appID, "", commandDefinitions()); err != nil {
		return fmt.Errorf("overwrite commands: %w", err)
	}
	return nil
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case "model":
		b.handleModelCommand(s, i, data)
	case "prompt":
		b.handlePromptCommand(s, i, data)
	case "known":
		b.handleKnownCommand(s, i, data)
	}
}

func (b *Bot) handleModelCommand(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	key := interactionKey(i)
	prefs, err := b.store.Load(key)
	if err != nil {
		b.respond(s, i, "Something went wrong, please try again.")
		return
	}

	model := stringOption(data, "model")
	if model == "" {
		b.respond(s, i, fmt.Sprintf("Current model: `%s`", prefs.Model))
		return
	}
	if model == prefs.Model {
		b.respond(s, i, fmt.Sprintf("Already using: `%s`", prefs.Model))
		return
	}
	if !b.invokerIsAdmin(i) {
		b.respond(s, i, "You don't have permission to change the model.")
		return
	}

	if _, err := b.store.Update(key, func(p *store.Preferences) {
		p.Model = model
	}); err != nil {
		b.respond(s, i, "Something went wrong, please try again.")
		return
	}

	b.respond(s, i, fmt.Sprintf("Model switched to: `%s`", model))
	b.logger.Info("model switched",
		slog.String("model", model),
		slog.String("guild_id", key.GuildID),
		slog.String("user_id", key.UserID))
}

func (b *Bot) handlePromptCommand(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	key := interactionKey(i)
	action := stringOption(data, "action")

	switch action {
	case "view":
		prefs, err := b.store.Load(key)
		if err != nil {
			b.respond(s, i, "Something went wrong, please try again.")
			return
		}
		b.respond(s, i, fmt.Sprintf("**Current system prompt:**\n```\n%s\n```", prefs.SystemPrompt))

	case "set":
		if !b.invokerIsAdmin(i) {
			b.respond(s, i, "You don't have permission to change the system prompt.")
			return
		}
		text := strings.TrimSpace(stringOption(data, "text"))
		if text == "" {
			b.respond(s, i, "Please provide the prompt text.")
			return
		}
		if _, err := b.store.Update(key, func(p *store.Preferences) {
			p.SystemPrompt = text
		}); err != nil {
			b.respond(s, i, "Something went wrong, please try again.")
			return
		}
		b.respond(s, i, "System prompt updated successfully!")

	case "reset":
		if !b.invokerIsAdmin(i) {
			b.respond(s, i, "You don't have permission to reset the system prompt.")
			return
		}
		if _, err := b.store.Update(key, func(p *store.Preferences) {
			p.SystemPrompt = b.cfg.DefaultSystemPrompt
		}); err != nil {
			b.respond(s, i, "Something went wrong, please try again.")
			return
		}
		b.respond(s, i, "System prompt reset to default.")
	}
}

func (b *Bot) handleKnownCommand(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	key := interactionKey(i)
	action := stringOption(data, "action")
	invoker := interactionUser(i)

	target := invoker
	if u := userOption(s, data, "user"); u != nil {
		target = u
	}
	if target.ID != invoker.ID && !b.invokerIsAdmin(i) {
		b.respond(s, i, "You don't have permission to manage other users.")
		return
	}

	switch action {
	case "view":
		prefs, err := b.store.Load(key)
		if err != nil {
			b.respond(s, i, "Something went wrong, please try again.")
			return
		}
		rec, ok := prefs.UserFor(target.ID)
		if !key.IsDM() && (!ok || rec.FirstSeen == "") {
			b.respond(s, i, fmt.Sprintf("%s hasn't interacted with the bot yet.", target.Mention()))
			return
		}
		name := rec.DisplayName
		if name == "" {
			name = userDisplayName(target)
		}
		if rec.Description != "" {
			b.respond(s, i, fmt.Sprintf("**%s's description:**\n%s", name, rec.Description))
		} else {
			b.respond(s, i, fmt.Sprintf("%s has no description set.", name))
		}

	case "set":
		description := strings.TrimSpace(stringOption(data, "description"))
		if description == "" {
			b.respond(s, i, "Please provide a description.")
			return
		}
		if utf8.RuneCountInString(description) > b.cfg.MaxUserDescLen {
			b.respond(s, i, fmt.Sprintf("Description too long! Maximum %d characters.", b.cfg.MaxUserDescLen))
			return
		}

		if _, err := b.store.TouchUser(key, target.ID, userDisplayName(target)); err != nil {
			b.respond(s, i, "Something went wrong, please try again.")
			return
		}
		if _, err := b.store.Update(key, func(p *store.Preferences) {
			setDescription(p, key, target.ID, description)
		}); err != nil {
			b.respond(s, i, "Something went wrong, please try again.")
			return
		}

		if target.ID == invoker.ID {
			b.respond(s, i, "Your description has been updated!")
		} else {
			b.respond(s, i, fmt.Sprintf("Description updated for %s", target.Mention()))
		}

	case "remove":
		prefs, err := b.store.Load(key)
		if err != nil {
			b.respond(s, i, "Something went wrong, please try again.")
			return
		}
		rec, ok := prefs.UserFor(target.ID)
		if !ok || rec.FirstSeen == "" {
			if key.IsDM() {
				b.respond(s, i, "No description to remove.")
			} else {
				b.respond(s, i, fmt.Sprintf("%s hasn't interacted with the bot yet.", target.Mention()))
			}
			return
		}
		if _, err := b.store.Update(key, func(p *store.Preferences) {
			setDescription(p, key, target.ID, "")
		}); err != nil {
			b.respond(s, i, "Something went wrong, please try again.")
			return
		}
		if target.ID == invoker.ID {
			b.respond(s, i, "Your description has been removed.")
		} else {
			b.respond(s, i, fmt.Sprintf("Description removed for %s", target.Mention()))
		}
	}
}

func setDescription(p *store.Preferences, key store.Key, userID, description string) {
	if key.IsDM() {
		if p.User == nil {
			p.User = &store.UserRecord{}
		}
		p.User.Description = description
		return
	}
	rec := p.Users[userID]
	rec.Description = description
	p.Users[userID] = rec
}

func (b *Bot) invokerIsAdmin(i *discordgo.InteractionCreate) bool {
	perms, _ := b.cfg.ReloadPermissions()
	return containsID(perms.Users.AdminIDs, interactionUser(i).ID)
}

func (b *Bot) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		b.logger.Error("interaction respond failed", slog.Any("error", err))
	}
}

func interactionKey(i *discordgo.InteractionCreate) store.Key {
	if i.GuildID != "" {
		return store.Key{GuildID: i.GuildID}
	}
	return store.Key{UserID: interactionUser(i).ID}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func userDisplayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func stringOption(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

func userOption(s *discordgo.Session, data discordgo.ApplicationCommandInteractionData, name string) *discordgo.User {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionUser {
			return opt.UserValue(s)
		}
	}
	return nil
}

func modelDisplayName(model string) string {
	words := strings.Split(model, "-")
	for idx, w := range words {
		if w == "" {
			continue
		}
		words[idx] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
