package discord

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/breqdev/portal-bridge-go/internal/service"
)

// sessionUI maps one invocation's lifecycle onto Discord: a reaction-driven
// payment prompt and a single status embed that gets edited in place.
type sessionUI struct {
	bot       *Bot
	channelID string
	callerID  string

	mu        sync.Mutex
	promptID  string
	messageID string
}

func newSessionUI(bot *Bot, channelID, callerID string) *sessionUI {
	return &sessionUI{
		bot:       bot,
		channelID: channelID,
		callerID:  callerID,
	}
}

// Confirm posts the payment prompt with confirm/decline reactions and blocks
// until the invoking caller reacts or ctx expires. Reactions from anyone
// else, or on any other message, are ignored.
func (u *sessionUI) Confirm(ctx context.Context, text string) (bool, error) {
	msg, err := u.bot.sess.ChannelMessageSendEmbed(u.channelID, &discordgo.MessageEmbed{
		Description: text,
	})
	if err != nil {
		return false, err
	}

	u.mu.Lock()
	u.promptID = msg.ID
	u.mu.Unlock()

	for _, emoji := range []string{emojiConfirm, emojiDecline} {
		if err := u.bot.sess.MessageReactionAdd(u.channelID, msg.ID, emoji); err != nil {
			log.Warn().Err(err).Str("emoji", emoji).Msg("failed to seed prompt reaction")
		}
	}

	answer := make(chan bool, 1)
	remove := u.bot.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if r.MessageID != msg.ID || r.UserID != u.callerID {
			return
		}
		switch r.Emoji.Name {
		case emojiConfirm:
			select {
			case answer <- true:
			default:
			}
		case emojiDecline:
			select {
			case answer <- false:
			default:
			}
		}
	})
	defer remove()

	select {
	case affirmed := <-answer:
		return affirmed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Cancelled replaces the payment prompt after a decline.
func (u *sessionUI) Cancelled(ctx context.Context) error {
	u.mu.Lock()
	promptID := u.promptID
	u.mu.Unlock()

	embed := &discordgo.MessageEmbed{Description: "Transaction cancelled."}
	if promptID == "" {
		_, err := u.bot.sess.ChannelMessageSendEmbed(u.channelID, embed)
		return err
	}
	_, err := u.bot.sess.ChannelMessageEditEmbed(u.channelID, promptID, embed)
	return err
}

// Render creates the status embed on first call and edits it in place after.
func (u *sessionUI) Render(ctx context.Context, v service.View) error {
	embed := &discordgo.MessageEmbed{
		Title:       v.Title,
		Description: v.Description,
	}
	if v.Image != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: v.Image}
	}
	if v.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: v.Footer}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.messageID == "" {
		msg, err := u.bot.sess.ChannelMessageSendEmbed(u.channelID, embed)
		if err != nil {
			return err
		}
		u.messageID = msg.ID
		return nil
	}

	_, err := u.bot.sess.ChannelMessageEditEmbed(u.channelID, u.messageID, embed)
	return err
}
