package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

type Bot struct {
	session *discordgo.Session
	guildID string
	handler *Handler
	log     *slog.Logger
}

func NewBot(token, guildID string, handler *Handler, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	b := &Bot{session: session, guildID: guildID, handler: handler, log: logger}
	return b, nil
}

// Run connects, registers the slash commands and serves interactions until
// ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("discord connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.onInteraction(ctx, s, i)
	})
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	defer b.session.Close()

	appID := b.session.State.User.ID
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, Commands())
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.log.Info("slash commands registered", "count", len(registered), "guild_id", b.guildID)

	<-ctx.Done()
	b.log.Info("discord shutdown")
	return nil
}

func (b *Bot) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	req := requestFromInteraction(i)
	if req.UserID == "" {
		return
	}
	reply := b.handler.Dispatch(ctx, req)
	data := &discordgo.InteractionResponseData{Content: reply.Content}
	if reply.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.log.Error("interaction respond failed", "command", req.Command, "user_id", req.UserID, "err", err)
	}
}

func requestFromInteraction(i *discordgo.InteractionCreate) Request {
	data := i.ApplicationCommandData()
	req := Request{
		Command: data.Name,
		Ints:    make(map[string]int64),
		Strings: make(map[string]string),
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		req.UserID = i.Member.User.ID
		req.Admin = i.Member.Permissions&discordgo.PermissionAdministrator != 0
	case i.User != nil:
		req.UserID = i.User.ID
	}
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionInteger:
			req.Ints[opt.Name] = opt.IntValue()
		case discordgo.ApplicationCommandOptionString:
			req.Strings[opt.Name] = opt.StringValue()
		}
	}
	return req
}
