// Package discord is the chat front end: it maps gateway messages onto the
// portal command surface and renders replies as embeds and reactions.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	apperrors "github.com/breqdev/portal-bridge-go/internal/errors"
	"github.com/breqdev/portal-bridge-go/internal/service"
)

const (
	emojiConfirm = "✅"
	emojiDecline = "❌"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendEmbed(channelID, embed, options...)
}
func (r *realSession) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEditEmbed(channelID, messageID, embed, options...)
}
func (r *realSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionAdd(channelID, messageID, emojiID, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}

// commandContext carries everything a handler needs from the triggering
// message.
type commandContext struct {
	guildID    string
	channelID  string
	messageID  string
	callerID   string
	callerName string
	args       []string
}

type commandHandler struct {
	minArgs int
	usage   string
	run     func(ctx context.Context, c commandContext) (*service.Reply, error)
}

// Bot connects the gateway to the command surface.
type Bot struct {
	sess     session
	token    string
	prefix   string
	commands *service.Commands
	bridge   *service.Bridge
	table    map[string]commandHandler

	mu            sync.Mutex
	botUserID     string
	removeHandler []func()
}

// BotOpts holds parameters for creating a Bot.
type BotOpts struct {
	Token    string
	Prefix   string
	Commands *service.Commands
	Bridge   *service.Bridge
	// For testing: inject a mock session instead of the real gateway.
	Session session
}

func NewBot(opts BotOpts) (*Bot, error) {
	if opts.Session == nil && opts.Token == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}

	b := &Bot{
		sess:     opts.Session,
		token:    opts.Token,
		prefix:   opts.Prefix,
		commands: opts.Commands,
		bridge:   opts.Bridge,
	}
	b.table = b.buildTable()
	return b, nil
}

// buildTable maps subcommand names to handler closures. Adding a command is
// one entry here.
func (b *Bot) buildTable() map[string]commandHandler {
	return map[string]commandHandler{
		"invoke": {
			minArgs: 1,
			usage:   "portal invoke <alias> [command]",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				ui := newSessionUI(b, c.channelID, c.callerID)
				_, err := b.bridge.Invoke(ctx, service.InvokeRequest{
					GuildID:  c.guildID,
					CallerID: c.callerID,
					Alias:    c.args[0],
					Command:  strings.Join(c.args[1:], " "),
				}, ui)
				return nil, err
			},
		},
		"create": {
			usage: "portal create",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				return b.commands.Create(ctx, c.callerID)
			},
		},
		"retoken": {
			minArgs: 1,
			usage:   "portal retoken <id>",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				return b.commands.Retoken(ctx, c.callerID, c.args[0])
			},
		},
		"set": {
			minArgs: 3,
			usage:   "portal set <id> <field> <value>",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				return b.commands.Set(ctx, c.callerID, c.args[0], c.args[1], strings.Join(c.args[2:], " "))
			},
		},
		"delete": {
			minArgs: 1,
			usage:   "portal delete <id>",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				return b.commands.Delete(ctx, c.callerID, c.args[0])
			},
		},
		"mine": {
			usage: "portal mine",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				return b.commands.Mine(ctx, c.callerID, c.callerName)
			},
		},
		"guilds": {
			minArgs: 1,
			usage:   "portal guilds <id>",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				return b.commands.Guilds(ctx, c.callerID, c.args[0])
			},
		},
		"add": {
			minArgs: 2,
			usage:   "portal add <id> <alias>",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				return b.commands.Add(ctx, c.callerID, c.guildID, c.args[0], c.args[1])
			},
		},
		"remove": {
			minArgs: 1,
			usage:   "portal remove <alias>",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				return b.commands.Remove(ctx, c.callerID, c.guildID, c.args[0])
			},
		},
		"list": {
			usage: "portal list",
			run: func(ctx context.Context, c commandContext) (*service.Reply, error) {
				return b.commands.List(ctx, c.guildID)
			},
		},
	}
}

// Start opens the gateway connection and registers handlers.
func (b *Bot) Start(ctx context.Context) error {
	if b.sess == nil {
		dg, err := discordgo.New("Bot " + b.token)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsGuildMessageReactions |
			discordgo.IntentsMessageContent
		b.sess = &realSession{s: dg}
	}

	b.addHandler(b.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.mu.Lock()
		b.botUserID = r.User.ID
		b.mu.Unlock()
		log.Info().Str("username", r.User.Username).Str("userId", r.User.ID).Msg("discord gateway ready")
	}))

	b.addHandler(b.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.HandleMessage(ctx, m)
	}))

	if err := b.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	return nil
}

// Stop removes handlers and closes the gateway connection.
func (b *Bot) Stop() error {
	b.mu.Lock()
	removers := b.removeHandler
	b.removeHandler = nil
	b.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	if b.sess != nil {
		return b.sess.Close()
	}
	return nil
}

func (b *Bot) addHandler(remove func()) {
	b.mu.Lock()
	b.removeHandler = append(b.removeHandler, remove)
	b.mu.Unlock()
}

// HandleMessage dispatches one gateway message. Exported for tests; the
// gateway calls it from its own handler goroutine, so a session that blocks
// on a confirmation or a portal reply does not stall other commands.
func (b *Bot) HandleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	b.mu.Lock()
	botID := b.botUserID
	b.mu.Unlock()
	if m.Author.ID == botID {
		return
	}

	content, ok := strings.CutPrefix(m.Content, b.prefix)
	if !ok {
		return
	}
	fields := strings.Fields(content)
	if len(fields) == 0 || fields[0] != "portal" {
		return
	}

	c := commandContext{
		guildID:    m.GuildID,
		channelID:  m.ChannelID,
		messageID:  m.ID,
		callerID:   m.Author.ID,
		callerName: m.Author.Username,
	}

	if len(fields) < 2 {
		b.sendText(c.channelID, b.usageText())
		return
	}
	handler, ok := b.table[fields[1]]
	if !ok {
		b.sendText(c.channelID, b.usageText())
		return
	}
	c.args = fields[2:]
	if len(c.args) < handler.minArgs {
		b.sendText(c.channelID, fmt.Sprintf("Usage: `%s%s`", b.prefix, handler.usage))
		return
	}

	reply, err := handler.run(ctx, c)
	if err != nil {
		b.sendError(c.channelID, err)
		return
	}
	if reply != nil {
		b.sendReply(c, reply)
	}
}

func (b *Bot) usageText() string {
	return fmt.Sprintf("Try `%sportal list` or `%sportal mine`.", b.prefix, b.prefix)
}

// sendReply renders a structured command reply: an ack reaction, a DM for
// private replies, or a channel embed.
func (b *Bot) sendReply(c commandContext, reply *service.Reply) {
	if reply.Ack {
		if err := b.sess.MessageReactionAdd(c.channelID, c.messageID, emojiConfirm); err != nil {
			log.Warn().Err(err).Msg("failed to add ack reaction")
		}
		return
	}

	channelID := c.channelID
	if reply.Private {
		dm, err := b.sess.UserChannelCreate(c.callerID)
		if err != nil {
			log.Error().Err(err).Str("userId", c.callerID).Msg("failed to open DM channel")
			b.sendText(c.channelID, ":x: I couldn't DM you. Check your privacy settings.")
			return
		}
		channelID = dm.ID
	}

	embed := &discordgo.MessageEmbed{
		Title:       reply.Title,
		Description: reply.Description,
	}
	for _, f := range reply.Fields {
		value := f.Value
		if f.Secret {
			value = "||" + value + "||"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  f.Name,
			Value: value,
		})
	}

	if _, err := b.sess.ChannelMessageSendEmbed(channelID, embed); err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to send reply")
	}
}

// sendError surfaces typed failures to the user; anything else is logged and
// reported generically.
func (b *Bot) sendError(channelID string, err error) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		b.sendText(channelID, ":x: "+appErr.Message)
		return
	}
	log.Error().Err(err).Msg("command failed")
	b.sendText(channelID, ":x: Something went wrong.")
}

func (b *Bot) sendText(channelID, content string) {
	if _, err := b.sess.ChannelMessageSend(channelID, content); err != nil {
		log.Warn().Err(err).Str("channelId", channelID).Msg("failed to send message")
	}
}
