package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breqdev/portal-bridge-go/internal/model"
	"github.com/breqdev/portal-bridge-go/internal/pubsub"
	"github.com/breqdev/portal-bridge-go/internal/service"
	"github.com/breqdev/portal-bridge-go/internal/store"
)

type sentMessage struct {
	channelID string
	content   string
	embed     *discordgo.MessageEmbed
}

type sentReaction struct {
	messageID string
	emoji     string
}

// mockSession records every API call and lets tests fire gateway events.
type mockSession struct {
	mu        sync.Mutex
	nextID    int
	sent      []sentMessage
	edits     []sentMessage
	reactions []sentReaction
	handlers  []interface{}
}

func (m *mockSession) Open() error  { return nil }
func (m *mockSession) Close() error { return nil }

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {}
}

func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", m.nextID), ChannelID: channelID}, nil
}

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, sentMessage{channelID: channelID, embed: embed})
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", m.nextID), ChannelID: channelID}, nil
}

func (m *mockSession) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, sentMessage{channelID: channelID, content: messageID, embed: embed})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (m *mockSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, sentReaction{messageID: messageID, emoji: emojiID})
	return nil
}

func (m *mockSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (m *mockSession) sentMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockSession) sentReactions() []sentReaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentReaction, len(m.reactions))
	copy(out, m.reactions)
	return out
}

// fireReaction delivers a reaction event to every registered reaction handler.
func (m *mockSession) fireReaction(messageID, userID, emoji string) {
	m.mu.Lock()
	handlers := make([]interface{}, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	event := &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     discordgo.Emoji{Name: emoji},
		},
	}
	for _, h := range handlers {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.MessageReactionAdd)); ok {
			fn(nil, event)
		}
	}
}

// hookBroker lets the test play the external portal client: it sees every
// published payload before delivery.
type hookBroker struct {
	*pubsub.MemoryBroker
	onPublish func(channel string, payload []byte)
}

func (h *hookBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if h.onPublish != nil {
		h.onPublish(channel, payload)
	}
	return h.MemoryBroker.Publish(ctx, channel, payload)
}

type botEnv struct {
	bot      *Bot
	sess     *mockSession
	registry *service.Registry
	wallet   *service.Wallet
	broker   *hookBroker
}

func newBotEnv(t *testing.T) *botEnv {
	t.Helper()

	mem := store.NewMemory()
	registry := service.NewRegistry(mem)
	wallet := service.NewWallet(mem)
	broker := &hookBroker{MemoryBroker: pubsub.NewMemory()}

	bridge := service.NewBridge(registry, wallet, broker, nil)
	bridge.ReplyTimeout = 2 * time.Second
	bridge.ConfirmTimeout = 2 * time.Second
	bridge.FrameInterval = 10 * time.Millisecond

	sess := &mockSession{}
	bot, err := NewBot(BotOpts{
		Prefix:   "!",
		Commands: service.NewCommands(registry),
		Bridge:   bridge,
		Session:  sess,
	})
	require.NoError(t, err)

	return &botEnv{bot: bot, sess: sess, registry: registry, wallet: wallet, broker: broker}
}

func (e *botEnv) message(content, authorID, guildID string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "trigger-1",
		ChannelID: "chan-1",
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: authorID},
	}}
}

func TestBotDispatch(t *testing.T) {
	t.Run("ignores messages without the prefix", func(t *testing.T) {
		env := newBotEnv(t)
		env.bot.HandleMessage(context.Background(), env.message("portal list", "alice", "g1"))
		assert.Empty(t, env.sess.sentMessages())
	})

	t.Run("ignores bot authors", func(t *testing.T) {
		env := newBotEnv(t)
		m := env.message("!portal list", "botty", "g1")
		m.Author.Bot = true
		env.bot.HandleMessage(context.Background(), m)
		assert.Empty(t, env.sess.sentMessages())
	})

	t.Run("unknown subcommand points at usage", func(t *testing.T) {
		env := newBotEnv(t)
		env.bot.HandleMessage(context.Background(), env.message("!portal frobnicate", "alice", "g1"))

		sent := env.sess.sentMessages()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].content, "!portal list")
	})

	t.Run("missing arguments show the usage line", func(t *testing.T) {
		env := newBotEnv(t)
		env.bot.HandleMessage(context.Background(), env.message("!portal set p1", "alice", "g1"))

		sent := env.sess.sentMessages()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].content, "portal set <id> <field> <value>")
	})
}

func TestBotCreate(t *testing.T) {
	env := newBotEnv(t)
	env.bot.HandleMessage(context.Background(), env.message("!portal create", "alice", "g1"))

	sent := env.sess.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "dm-alice", sent[0].channelID, "credentials must go to a DM")
	require.NotNil(t, sent[0].embed)
	require.Len(t, sent[0].embed.Fields, 2)
	assert.True(t, strings.HasPrefix(sent[0].embed.Fields[1].Value, "||"),
		"token must be spoilered")

	portals, err := env.registry.ListByOwner(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, portals, 1)
}

func TestBotAckCommands(t *testing.T) {
	env := newBotEnv(t)

	portal, err := env.registry.Create(context.Background(), "alice")
	require.NoError(t, err)

	env.bot.HandleMessage(context.Background(),
		env.message("!portal set "+portal.ID+" name Greeter", "alice", "g1"))

	reactions := env.sess.sentReactions()
	require.Len(t, reactions, 1)
	assert.Equal(t, emojiConfirm, reactions[0].emoji)
	assert.Equal(t, "trigger-1", reactions[0].messageID)

	updated, err := env.registry.Get(context.Background(), portal.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Greeter", updated.Name)
}

func TestBotTypedErrors(t *testing.T) {
	env := newBotEnv(t)
	env.bot.HandleMessage(context.Background(), env.message("!portal delete ghost", "alice", "g1"))

	sent := env.sess.sentMessages()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].content, ":x:"))
}

func TestBotInvoke(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	portal, err := env.registry.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = env.registry.SetField(ctx, portal.ID, "alice", "name", "Greeter")
	require.NoError(t, err)
	require.NoError(t, env.registry.AddToGuild(ctx, portal.ID, "g1", "greeter"))

	// Answer every query like a connected portal client would.
	env.broker.onPublish = func(channel string, payload []byte) {
		var query model.QueryEnvelope
		if json.Unmarshal(payload, &query) != nil || query.Type != model.EnvelopeTypeQuery {
			return
		}
		go func() {
			response, _ := json.Marshal(model.ResponseEnvelope{
				Type: model.EnvelopeTypeResponse,
				Data: model.ResponseData{Description: "Hi Bob!"},
			})
			_ = env.broker.MemoryBroker.Publish(context.Background(),
				pubsub.JobChannel(query.Portal, query.Job), response)
		}()
	}

	env.bot.HandleMessage(ctx, env.message("!portal invoke greeter hello", "bob", "g1"))

	var final *discordgo.MessageEmbed
	require.Eventually(t, func() bool {
		all := append(env.sess.sentMessages(), func() []sentMessage {
			env.sess.mu.Lock()
			defer env.sess.mu.Unlock()
			out := make([]sentMessage, len(env.sess.edits))
			copy(out, env.sess.edits)
			return out
		}()...)
		for _, msg := range all {
			if msg.embed != nil && msg.embed.Description == "Hi Bob!" {
				final = msg.embed
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, final.Footer)
	assert.Equal(t, "Connected to Portal: Greeter", final.Footer.Text)
}

func TestSessionUIConfirm(t *testing.T) {
	t.Run("caller affirms via reaction", func(t *testing.T) {
		env := newBotEnv(t)
		ui := newSessionUI(env.bot, "chan-1", "bob")

		type outcome struct {
			affirmed bool
			err      error
		}
		done := make(chan outcome, 1)
		go func() {
			affirmed, err := ui.Confirm(context.Background(), "Confirm purchase?")
			done <- outcome{affirmed, err}
		}()

		var promptID string
		require.Eventually(t, func() bool {
			sent := env.sess.sentMessages()
			if len(sent) == 0 {
				return false
			}
			promptID = "msg-1"
			return len(env.sess.sentReactions()) == 2
		}, time.Second, 5*time.Millisecond)

		// A bystander's reaction must not settle the prompt.
		env.sess.fireReaction(promptID, "mallory", emojiConfirm)
		select {
		case <-done:
			t.Fatal("prompt settled by the wrong user")
		case <-time.After(50 * time.Millisecond):
		}

		env.sess.fireReaction(promptID, "bob", emojiConfirm)
		result := <-done
		require.NoError(t, result.err)
		assert.True(t, result.affirmed)
	})

	t.Run("caller declines via reaction", func(t *testing.T) {
		env := newBotEnv(t)
		ui := newSessionUI(env.bot, "chan-1", "bob")

		type outcome struct {
			affirmed bool
			err      error
		}
		done := make(chan outcome, 1)
		go func() {
			affirmed, err := ui.Confirm(context.Background(), "Confirm purchase?")
			done <- outcome{affirmed, err}
		}()

		require.Eventually(t, func() bool {
			return len(env.sess.sentReactions()) == 2
		}, time.Second, 5*time.Millisecond)

		env.sess.fireReaction("msg-1", "bob", emojiDecline)
		result := <-done
		require.NoError(t, result.err)
		assert.False(t, result.affirmed)
	})

	t.Run("expired context returns the deadline error", func(t *testing.T) {
		env := newBotEnv(t)
		ui := newSessionUI(env.bot, "chan-1", "bob")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := ui.Confirm(ctx, "Confirm purchase?")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSessionUIRender(t *testing.T) {
	env := newBotEnv(t)
	ui := newSessionUI(env.bot, "chan-1", "bob")
	ctx := context.Background()

	require.NoError(t, ui.Render(ctx, service.View{Title: "Waiting for response..."}))
	require.NoError(t, ui.Render(ctx, service.View{Title: "Waiting for response...", Description: "🕐"}))

	sent := env.sess.sentMessages()
	require.Len(t, sent, 1, "subsequent renders must edit, not resend")

	env.sess.mu.Lock()
	edits := len(env.sess.edits)
	env.sess.mu.Unlock()
	assert.Equal(t, 1, edits)
}
