package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/breqdev/portal-bridge-go/internal/errors"
	"github.com/breqdev/portal-bridge-go/internal/model"
	"github.com/breqdev/portal-bridge-go/internal/pubsub"
	"github.com/breqdev/portal-bridge-go/internal/repository"
	"github.com/breqdev/portal-bridge-go/internal/util"
)

const (
	// DefaultReplyTimeout bounds the wait for the portal client's response.
	DefaultReplyTimeout = 120 * time.Second
	// DefaultConfirmTimeout bounds the payment confirmation wait.
	DefaultConfirmTimeout = 120 * time.Second
	// DefaultFrameInterval is the cadence of the waiting animation ticks.
	DefaultFrameInterval = 200 * time.Millisecond

	// ticksPerClockFrame: the clock face advances every 5th tick, one full
	// face per second at the default interval.
	ticksPerClockFrame = 5
)

var clockFrames = []string{
	"\U0001F550", "\U0001F551", "\U0001F552", "\U0001F553",
	"\U0001F554", "\U0001F555", "\U0001F556", "\U0001F557",
	"\U0001F558", "\U0001F559", "\U0001F55A", "\U0001F55B",
}

// SessionState tracks one invocation through its lifecycle.
type SessionState int

const (
	StateCreated SessionState = iota
	StateAwaitingConfirmation
	StatePublishing
	StateWaitingForReply
	StateResponded
	StateTimedOut
	// StateCancelled: the caller declined the payment prompt.
	StateCancelled
	// StateConfirmationTimedOut: the payment prompt expired unanswered.
	StateConfirmationTimedOut
)

func (s SessionState) Terminal() bool {
	return s >= StateResponded
}

// View is one rendered frame of a session's status display. The front end
// maps it onto a single live-edited message.
type View struct {
	Title       string
	Description string
	Image       string
	Footer      string
}

// SessionUI is the slice of the chat platform a session needs: a payment
// prompt and a single status message it can re-render.
type SessionUI interface {
	// Confirm shows the payment prompt and blocks until the invoking caller
	// affirms or declines, or ctx expires. Responses from other callers or
	// other prompts must be ignored by the implementation.
	Confirm(ctx context.Context, text string) (bool, error)
	// Cancelled replaces the prompt after a decline.
	Cancelled(ctx context.Context) error
	// Render creates or edits the session's status message.
	Render(ctx context.Context, v View) error
}

// InvokeRequest names a portal by its guild alias and carries the command
// text to forward.
type InvokeRequest struct {
	GuildID  string
	CallerID string
	Alias    string
	Command  string
}

// Result is the terminal outcome of a session.
type Result struct {
	State    SessionState
	JobID    string
	Portal   *model.Portal
	Response *model.ResponseData
	Charged  int64
}

// Bridge coordinates one remote-procedure round trip per Invoke call:
// resolve, optionally charge, publish the query, then race the reply against
// the deadline while animating the status display.
type Bridge struct {
	registry    *Registry
	wallet      *Wallet
	broker      pubsub.Broker
	invocations repository.InvocationRepository

	ReplyTimeout   time.Duration
	ConfirmTimeout time.Duration
	FrameInterval  time.Duration
}

func NewBridge(
	registry *Registry,
	wallet *Wallet,
	broker pubsub.Broker,
	invocations repository.InvocationRepository,
) *Bridge {
	return &Bridge{
		registry:       registry,
		wallet:         wallet,
		broker:         broker,
		invocations:    invocations,
		ReplyTimeout:   DefaultReplyTimeout,
		ConfirmTimeout: DefaultConfirmTimeout,
		FrameInterval:  DefaultFrameInterval,
	}
}

// Invoke runs a full session. Typed failures (NotFound, InsufficientFunds)
// are returned before any message is published. A declined or expired
// payment prompt is a terminal result, not an error: the UI has already been
// settled and no funds moved.
func (b *Bridge) Invoke(ctx context.Context, req InvokeRequest, ui SessionUI) (*Result, error) {
	id, err := b.registry.ResolveAlias(ctx, req.GuildID, req.Alias)
	if err != nil {
		return nil, err
	}
	portal, err := b.registry.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}

	jobID := util.NewID()
	result := &Result{State: StateCreated, JobID: jobID, Portal: portal}

	if portal.Price > 0 {
		result.State = StateAwaitingConfirmation
		charged, err := b.runPaymentGate(ctx, req, portal, result, ui)
		if err != nil {
			return nil, err
		}
		if result.State.Terminal() {
			return result, nil
		}
		result.Charged = charged
	}

	return b.runSession(ctx, req, portal, result, ui)
}

// runPaymentGate holds the session until the caller settles the prompt.
// On affirmation the charge is applied immediately; it is not reversed if
// the portal later fails to respond.
func (b *Bridge) runPaymentGate(
	ctx context.Context,
	req InvokeRequest,
	portal *model.Portal,
	result *Result,
	ui SessionUI,
) (int64, error) {
	if err := b.wallet.Ensure(ctx, req.GuildID, req.CallerID, portal.Price); err != nil {
		return 0, err
	}

	confirmCtx, cancel := context.WithTimeout(ctx, b.ConfirmTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Portal %s costs **%d coins**. Confirm purchase?", req.Alias, portal.Price)
	affirmed, err := ui.Confirm(confirmCtx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || apperrors.HasCode(err, apperrors.ErrCodeTimeout) {
			// Prompt expires silently: no charge, no further rendering.
			result.State = StateConfirmationTimedOut
			return 0, nil
		}
		return 0, fmt.Errorf("await confirmation: %w", err)
	}

	if !affirmed {
		if err := ui.Cancelled(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to render cancellation")
		}
		result.State = StateCancelled
		return 0, nil
	}

	if err := b.wallet.Withdraw(ctx, req.GuildID, req.CallerID, portal.Price); err != nil {
		return 0, err
	}
	return portal.Price, nil
}

// runSession publishes the query and waits for the correlated reply,
// animating the status display until a terminal state is reached.
func (b *Bridge) runSession(
	ctx context.Context,
	req InvokeRequest,
	portal *model.Portal,
	result *Result,
	ui SessionUI,
) (*Result, error) {
	result.State = StatePublishing

	channel := pubsub.JobChannel(portal.ID, result.JobID)

	// Subscription must be live before the query goes out, or a fast client
	// could answer into the void.
	sub, err := b.broker.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe to job channel: %w", err)
	}
	defer sub.Close()

	if err := ui.Render(ctx, View{Title: "Waiting for response..."}); err != nil {
		return nil, fmt.Errorf("render waiting state: %w", err)
	}

	query := model.QueryEnvelope{
		Type:   model.EnvelopeTypeQuery,
		Job:    result.JobID,
		Portal: portal.ID,
		Data:   req.Command,
	}
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	if err := b.broker.Publish(ctx, channel, payload); err != nil {
		return nil, fmt.Errorf("publish query: %w", err)
	}

	started := time.Now()
	log.Info().
		Str("jobId", result.JobID).
		Str("portalId", portal.ID).
		Str("caller", req.CallerID).
		Int64("charged", result.Charged).
		Msg("query published")

	result.State = StateWaitingForReply

	// The animation runs as its own task so a slow message edit never delays
	// reply detection. terminal gates every frame: once set, no further
	// animation edit may land.
	var terminal atomic.Bool
	animCtx, stopAnim := context.WithCancel(ctx)
	animDone := make(chan struct{})
	go b.animate(animCtx, ui, &terminal, animDone)

	finish := func() {
		terminal.Store(true)
		stopAnim()
		<-animDone
	}

	deadline := time.NewTimer(b.ReplyTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			finish()
			return nil, ctx.Err()

		case <-deadline.C:
			finish()
			result.State = StateTimedOut
			b.record(req, result, time.Since(started))
			if err := ui.Render(ctx, View{
				Title:       "Timed Out",
				Description: fmt.Sprintf("Portal %s did not respond in time.", portal.Name),
			}); err != nil {
				return nil, fmt.Errorf("render timeout: %w", err)
			}
			return result, nil

		case raw, ok := <-sub.Messages():
			if !ok {
				finish()
				return nil, apperrors.Internal("reply subscription closed unexpectedly")
			}

			var envelope model.ResponseEnvelope
			if err := json.Unmarshal(raw, &envelope); err != nil {
				log.Warn().Err(err).Str("jobId", result.JobID).Msg("discarding malformed message")
				continue
			}
			if envelope.Type != model.EnvelopeTypeResponse {
				continue
			}

			finish()
			result.State = StateResponded
			result.Response = &envelope.Data
			b.record(req, result, time.Since(started))
			if err := ui.Render(ctx, View{
				Title:       envelope.Data.Title,
				Description: envelope.Data.Description,
				Image:       envelope.Data.Image,
				Footer:      fmt.Sprintf("Connected to Portal: %s", portal.Name),
			}); err != nil {
				return nil, fmt.Errorf("render response: %w", err)
			}
			return result, nil
		}
	}
}

// animate edits the status message with a ticking clock until stopped. Every
// frame checks the terminal flag first so a tick that loses the race with
// the final render becomes a no-op.
func (b *Bridge) animate(ctx context.Context, ui SessionUI, terminal *atomic.Bool, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.FrameInterval)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if terminal.Load() {
				return
			}
			if frame%ticksPerClockFrame == 0 {
				clock := clockFrames[(frame/ticksPerClockFrame)%len(clockFrames)]
				if err := ui.Render(ctx, View{
					Title:       "Waiting for response...",
					Description: clock,
				}); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("animation frame render failed")
				}
			}
			frame++
		}
	}
}

func (b *Bridge) record(req InvokeRequest, result *Result, latency time.Duration) {
	if b.invocations == nil {
		return
	}

	outcome := model.InvocationTimedOut
	if result.State == StateResponded {
		outcome = model.InvocationResponded
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := b.invocations.Record(ctx, model.RecordInvocationParams{
		JobID:    result.JobID,
		PortalID: result.Portal.ID,
		GuildID:  req.GuildID,
		CallerID: req.CallerID,
		Command:  req.Command,
		Charged:  result.Charged,
		Outcome:  outcome,
		Latency:  latency,
	})
	if err != nil {
		log.Error().Err(err).Str("jobId", result.JobID).Msg("failed to record invocation")
	}
}
