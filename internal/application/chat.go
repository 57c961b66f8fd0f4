package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
	"github.com/nebrix/klokpilot/internal/ports"
)

const (
	// streamSettleDelay is the fixed wait before re-checking points after an
	// aborted response stream.
	streamSettleDelay = 3 * time.Second

	abortedTurnBody = "[response stream aborted; turn confirmed via point increase]"
	unparsedBody    = "[response received but could not be parsed]"
)

var errNoModelSelected = errors.New("no model selected")

// ChatService owns the conversation state: the model binding, the current
// thread, and the last known point balance. Sending a turn appends exactly
// two turns (user then assistant) or fails without appending the assistant
// turn.
type ChatService struct {
	api    ports.ChatAPI
	exec   *Executor
	tokens TokenSource
	clock  ports.Clock
	log    *zap.Logger

	mu     sync.Mutex
	models []domain.Model
	model  string
	thread *domain.Thread
	points domain.Points
}

func NewChatService(api ports.ChatAPI, exec *Executor, tokens TokenSource, clock ports.Clock, log *zap.Logger) *ChatService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &ChatService{
		api:    api,
		exec:   exec,
		tokens: tokens,
		clock:  clock,
		log:    log,
	}
}

// Models returns the model list, fetched once and cached until forceRefresh.
func (c *ChatService) Models(ctx context.Context, forceRefresh bool) ([]domain.Model, error) {
	c.mu.Lock()
	cached := c.models
	c.mu.Unlock()
	if len(cached) > 0 && !forceRefresh {
		return cached, nil
	}

	var models []domain.Model
	err := c.exec.Execute(ctx, "list models", func(ctx context.Context) error {
		var err error
		models, err = c.api.ListModels(ctx, c.tokens.CurrentToken(ctx), c.exec.CurrentProxy())
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
	c.log.Info("model list retrieved", zap.Int("count", len(models)))
	return models, nil
}

// SelectDefaultModel binds the first active non-pro model for subsequent
// sends. Fails with domain.ErrNoSuitableModel when none matches.
func (c *ChatService) SelectDefaultModel(ctx context.Context) (domain.Model, error) {
	models, err := c.Models(ctx, false)
	if err != nil {
		return domain.Model{}, err
	}
	model, err := domain.DefaultModel(models)
	if err != nil {
		return domain.Model{}, err
	}

	c.mu.Lock()
	c.model = model.Name
	c.mu.Unlock()
	c.log.Info("default model selected", zap.String("model", model.Name))
	return model, nil
}

// NewThread starts a fresh conversation; called once per automation session
// and after every account switch.
func (c *ChatService) NewThread() *domain.Thread {
	thread := domain.NewThread(c.clock.Now())
	c.mu.Lock()
	c.thread = thread
	c.mu.Unlock()
	c.log.Info("new chat thread created", zap.String("thread", thread.ID))
	return thread
}

// Points fetches the current point balance. The last known balance is
// retained for display when the query fails.
func (c *ChatService) Points(ctx context.Context) (domain.Points, error) {
	var points domain.Points
	err := c.exec.Execute(ctx, "fetch points", func(ctx context.Context) error {
		var err error
		points, err = c.api.FetchPoints(ctx, c.tokens.CurrentToken(ctx), c.exec.CurrentProxy())
		return err
	})
	if err != nil {
		return c.LastKnownPoints(), err
	}

	c.mu.Lock()
	c.points = points
	c.mu.Unlock()
	return points, nil
}

func (c *ChatService) LastKnownPoints() domain.Points {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.points
}

// Send submits content as a user turn and appends the assistant reply to the
// thread. When the response stream aborts (or every retry fails), the turn
// is settled by checking for a point increase after a fixed delay: an
// increase counts as delivered. This is a best-effort heuristic; the
// service's real confirmation semantics are unknown.
func (c *ChatService) Send(ctx context.Context, content string) (string, error) {
	c.mu.Lock()
	model := c.model
	if c.thread == nil {
		c.mu.Unlock()
		c.NewThread()
		c.mu.Lock()
	}
	thread := c.thread
	c.mu.Unlock()

	if model == "" {
		return "", errNoModelSelected
	}

	before, pointsKnown := c.pointsBeforeSend(ctx)

	thread.Append(domain.RoleUser, content)
	c.log.Info("sending chat turn",
		zap.String("thread", thread.ID),
		zap.String("model", model),
		zap.Int("content_length", len(content)))

	var reply string
	err := c.exec.Execute(ctx, "submit chat turn", func(ctx context.Context) error {
		var err error
		reply, err = c.api.SubmitTurn(ctx, c.tokens.CurrentToken(ctx), c.exec.CurrentProxy(), *thread, model)
		return err
	})

	if err != nil {
		if !errors.Is(err, domain.ErrStreamAborted) && !domain.IsTransient(err) {
			return "", fmt.Errorf("submit chat turn: %w", err)
		}
		c.log.Warn("chat stream did not complete, verifying via point increase", zap.Error(err))
		if !pointsKnown || !c.verifyPointIncrease(ctx, before) {
			return "", fmt.Errorf("chat turn not confirmed: %w", err)
		}
		reply = abortedTurnBody
	}
	if reply == "" {
		reply = unparsedBody
	}

	thread.Append(domain.RoleAssistant, reply)
	c.log.Info("assistant reply recorded",
		zap.String("thread", thread.ID),
		zap.Int("reply_length", len(reply)))
	return reply, nil
}

func (c *ChatService) pointsBeforeSend(ctx context.Context) (float64, bool) {
	points, err := c.Points(ctx)
	if err != nil {
		c.log.Warn("points fetch before chat failed", zap.Error(err))
		return 0, false
	}
	return points.Inference, true
}

func (c *ChatService) verifyPointIncrease(ctx context.Context, before float64) bool {
	if err := c.clock.Sleep(ctx, streamSettleDelay); err != nil {
		return false
	}
	points, err := c.Points(ctx)
	if err != nil {
		c.log.Warn("point verification failed", zap.Error(err))
		return false
	}
	increased := points.Inference > before
	c.log.Info("point verification",
		zap.Bool("increased", increased),
		zap.Float64("before", before),
		zap.Float64("after", points.Inference))
	return increased
}
