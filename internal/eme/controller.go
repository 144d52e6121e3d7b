package eme

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Controller reacts to encrypted and message events. Each event starts an
// independent exchange; the only shared state is behind the responder.
type Controller struct {
	keys      MediaKeys
	responder LicenseResponder
	notifier  Notifier
	logger    *slog.Logger

	updates sync.WaitGroup
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithNotifier sets the sink for harness events.
func WithNotifier(n Notifier) ControllerOption {
	return func(c *Controller) {
		c.notifier = n
	}
}

// NewController returns a controller creating sessions on keys.
func NewController(keys MediaKeys, responder LicenseResponder, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		keys:      keys,
		responder: responder,
		notifier:  nopNotifier{},
		logger:    logger.With(slog.String("component", "eme.controller")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleEncrypted opens a session for the event and generates its request.
func (c *Controller) HandleEncrypted(ctx context.Context, ev EncryptedEvent) (KeySession, error) {
	c.logger.InfoContext(ctx, "got encrypted event",
		slog.String("init_data_type", ev.InitDataType),
		slog.Int("init_data_size", len(ev.InitData)))
	c.notifier.Notify(ctx, Event{Type: EventEncrypted, Message: "Got encrypted event"})

	session, err := c.keys.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.OnMessage(func(m MessageEvent) {
		c.HandleMessage(ctx, session, m)
	})
	if err := session.GenerateRequest(ctx, ev.InitDataType, ev.InitData); err != nil {
		return session, fmt.Errorf("generate request: %w", err)
	}
	return session, nil
}

// HandleMessage answers a message event. The license is handed to the
// session without waiting for the outcome.
func (c *Controller) HandleMessage(ctx context.Context, session KeySession, m MessageEvent) {
	logger := c.logger.With(slog.String("session_id", session.ID()))
	c.notifier.Notify(ctx, Event{
		Type:      EventMessage,
		SessionID: session.ID(),
		Message:   fmt.Sprintf("Got %s message", m.MessageType),
	})

	license, err := c.responder.Respond(ctx, m.Message)
	if err != nil {
		logger.ErrorContext(ctx, "license generation failed", slog.String("error", err.Error()))
		c.notifier.Notify(ctx, Event{
			Type:      EventLicenseFailed,
			SessionID: session.ID(),
			Message:   "License generation failed",
			Error:     err.Error(),
		})
		return
	}

	// The update outlives the event that triggered it.
	updateCtx := context.WithoutCancel(ctx)
	c.updates.Add(1)
	go func() {
		defer c.updates.Done()
		if err := session.Update(updateCtx, license); err != nil {
			logger.ErrorContext(updateCtx, "update() failed: "+err.Error(), slog.String("error", err.Error()))
			c.notifier.Notify(updateCtx, Event{
				Type:      EventUpdateFailed,
				SessionID: session.ID(),
				Message:   "update() failed: " + err.Error(),
				Error:     err.Error(),
			})
			return
		}
		logger.InfoContext(updateCtx, "license accepted")
		c.notifier.Notify(updateCtx, Event{
			Type:      EventKeysUpdated,
			SessionID: session.ID(),
			Message:   "License accepted",
		})
	}()
}

// Wait blocks until every in-flight update has finished.
func (c *Controller) Wait() {
	c.updates.Wait()
}
