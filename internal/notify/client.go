// Package notify sends notification messages through the messaging API.
// A Client logs in once at construction and reuses that token for every
// send until Login or Upload refreshes it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"cowechat/internal/credential"
	"cowechat/internal/domain"
	"cowechat/internal/metrics"
	"cowechat/internal/wecom"

	"github.com/google/uuid"
)

// DefaultRetryAttempts is the send budget per message.
const DefaultRetryAttempts = 5

// API is the subset of *wecom.Client the dispatcher uses.
type API interface {
	credential.Fetcher
	SendMessage(ctx context.Context, token string, payload any) (*wecom.SendResponse, error)
	UploadMedia(ctx context.Context, token, kind, filename string, r io.Reader) ([]byte, error)
}

// Recorder keeps the outcome of each Send call.
type Recorder interface {
	Record(ctx context.Context, d domain.Delivery) error
}

type Config struct {
	Identity domain.Identity
	API      API
	Cache    credential.TokenCache
	History  Recorder // optional

	RetryAttempts    int
	RetryBackoff     time.Duration // 0 retries immediately
	RatePerMinute    float64       // 0 disables throttling
	RateBurst        int
	VideoTitle       string
	VideoDescription string

	Logger *slog.Logger
	Now    func() time.Time
}

type Client struct {
	identity domain.Identity
	api      API
	creds    *credential.Manager
	history  Recorder
	logger   *slog.Logger

	retryAttempts    int
	retryBackoff     time.Duration
	limiter          *rateLimiter
	videoTitle       string
	videoDescription string

	mu    sync.RWMutex
	token string
}

// New validates the identity, builds the credential manager and logs in.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Identity.Validate(); err != nil {
		cfg.Logger.Error("invalid application identity", "err", err)
		return nil, err
	}
	if cfg.API == nil {
		return nil, errors.New("notify: API client is required")
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.VideoTitle == "" {
		cfg.VideoTitle = DefaultVideoTitle
	}
	if cfg.VideoDescription == "" {
		cfg.VideoDescription = DefaultVideoDescription
	}

	creds, err := credential.NewManager(credential.ManagerConfig{
		Identity: cfg.Identity,
		Cache:    cfg.Cache,
		Fetcher:  cfg.API,
		Logger:   cfg.Logger.With("component", "credential"),
		Now:      cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		identity:         cfg.Identity,
		api:              cfg.API,
		creds:            creds,
		history:          cfg.History,
		logger:           cfg.Logger,
		retryAttempts:    cfg.RetryAttempts,
		retryBackoff:     cfg.RetryBackoff,
		limiter:          newRateLimiter(cfg.RateBurst, cfg.RatePerMinute),
		videoTitle:       cfg.VideoTitle,
		videoDescription: cfg.VideoDescription,
	}
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Login runs the cached-or-fetch token algorithm and makes the result the
// current token.
func (c *Client) Login(ctx context.Context) error {
	token, err := c.creds.EnsureToken(ctx)
	if err != nil {
		c.logger.Error("login failed", "err", err)
		return fmt.Errorf("login: %w", err)
	}
	c.setToken(token)
	return nil
}

// Token returns the current in-memory token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Credentials exposes the underlying manager.
func (c *Client) Credentials() *credential.Manager { return c.creds }

// Send validates msg, builds its payload and delivers it. Transport
// failures are retried up to the budget; a remote errcode aborts at once
// with *wecom.APIError; bad input returns ErrMissingKind or *InputError
// without any network call.
func (c *Client) Send(ctx context.Context, msg domain.OutboundMessage) error {
	payload, err := c.buildPayload(msg)
	if err != nil {
		c.logger.Error("message rejected before send", "kind", msg.Kind, "err", err)
		return err
	}
	c.logger.Info("start sending message", "kind", msg.Kind)
	c.logger.Debug("message payload", "payload", payload)

	start := time.Now()
	attempts, resp, err := c.dispatch(ctx, payload)
	elapsed := time.Since(start)
	metrics.SendLatency.Observe(elapsed.Seconds())
	c.record(ctx, msg, attempts, resp, elapsed, err)
	return err
}

func (c *Client) dispatch(ctx context.Context, payload map[string]any) (int, *wecom.SendResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			wait := backoff(c.retryBackoff, attempt-1)
			if wait > 0 {
				c.logger.Warn("retrying send", "attempt", attempt, "backoff", wait)
			}
			if err := sleep(ctx, wait); err != nil {
				return attempt - 1, nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return attempt - 1, nil, err
		}
		metrics.SendAttempts.Inc()
		resp, err := c.api.SendMessage(ctx, c.Token(), payload)
		if err == nil {
			c.logger.Info("send message response", "errmsg", resp.ErrMsg, "msgid", resp.MsgID, "attempt", attempt)
			return attempt, resp, nil
		}

		var apiErr *wecom.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error("send message error response", "errcode", apiErr.Code, "errmsg", apiErr.Message)
			return attempt, nil, err
		}
		if !wecom.IsTransport(err) || ctx.Err() != nil {
			c.logger.Error("send aborted", "err", err)
			return attempt, nil, err
		}
		lastErr = err
		c.logger.Warn("send attempt failed", "attempt", attempt, "err", err)
	}

	c.logger.Error("send failed, retry budget exhausted", "attempts", c.retryAttempts, "err", lastErr)
	return c.retryAttempts, nil, fmt.Errorf("%w after %d attempts: %w", ErrSendFailed, c.retryAttempts, lastErr)
}

func (c *Client) record(ctx context.Context, msg domain.OutboundMessage, attempts int, resp *wecom.SendResponse, elapsed time.Duration, sendErr error) {
	d := domain.Delivery{
		ID:        uuid.NewString(),
		Kind:      msg.Kind,
		ToUser:    domain.JoinRecipients(msg.ToUser),
		ToParty:   domain.JoinRecipients(msg.ToParty),
		ToTag:     domain.JoinRecipients(msg.ToTag),
		Attempts:  attempts,
		Status:    domain.DeliverySent,
		Latency:   elapsed,
		CreatedAt: time.Now(),
	}
	if resp != nil {
		d.MsgID = resp.MsgID
	}
	var apiErr *wecom.APIError
	switch {
	case sendErr == nil:
		metrics.SendsSent.Inc()
	case errors.As(sendErr, &apiErr):
		metrics.SendsRejected.Inc()
		d.Status = domain.DeliveryRejected
		d.Detail = sendErr.Error()
	default:
		metrics.SendsFailed.Inc()
		d.Status = domain.DeliveryFailed
		d.Detail = sendErr.Error()
	}

	if c.history == nil {
		return
	}
	if err := c.history.Record(ctx, d); err != nil {
		c.logger.Warn("delivery history write failed", "id", d.ID, "err", err)
	}
}
