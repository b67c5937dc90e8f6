package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/steadycore/cache"
	"github.com/jonwraymond/steadycore/observe"
	"github.com/jonwraymond/steadycore/pool"
	"github.com/jonwraymond/steadycore/resilience"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com/v10.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// UserAgent is sent with every request. Default: "steadycore".
	UserAgent string

	// Sessions configures the HTTP session pool.
	// Defaults: name "messaging-sessions", max 4.
	Sessions pool.Config

	// Reads configures the cache for GET responses.
	// Default: 30s TTL, 500 entries, 1m sweep.
	Reads cache.Policy

	// Transport overrides the HTTP transport of every session.
	Transport http.RoundTripper

	Logger      observe.Logger
	Instruments *observe.Instruments
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "steadycore"
	}
	if c.Sessions.Name == "" {
		c.Sessions.Name = "messaging-sessions"
	}
	if c.Sessions.Max == 0 {
		c.Sessions.Max = 4
	}
	if c.Sessions.Logger == nil {
		c.Sessions.Logger = c.Logger
	}
	if c.Sessions.Instruments == nil {
		c.Sessions.Instruments = c.Instruments
	}
	if c.Reads == (cache.Policy{}) {
		c.Reads = cache.Policy{DefaultTTL: 30 * time.Second, MaxSize: 500, SweepInterval: time.Minute}
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	return c
}

// Message is a chat message as exchanged with the API.
type Message struct {
	ID        string `json:"id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	Content   string `json:"content"`
	Nonce     string `json:"nonce,omitempty"`
}

// Client talks to the remote messaging API.
type Client struct {
	base      *url.URL
	token     string
	userAgent string
	remote    *resilience.Client
	sessions  *pool.Pool[*session]
	reads     *cache.MemoryCache[[]byte]
	loader    *cache.Loader[[]byte]
	log       observe.Logger
}

// New creates a Client that sends every request through remote.
// A nil remote uses resilience.NewClient() defaults.
func New(cfg Config, remote *resilience.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("messaging: parse base url: %w", err)
	}
	cfg = cfg.withDefaults()
	if remote == nil {
		remote = resilience.NewClient()
	}

	sessions, err := pool.New[*session](sessionFactory(cfg.Transport), cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("messaging: session pool: %w", err)
	}

	reads := cache.NewMemoryCache[[]byte](cfg.Reads,
		cache.WithName("messaging-reads"),
		cache.WithLogger(cfg.Logger),
		cache.WithInstruments(cfg.Instruments),
	)

	return &Client{
		base:      base,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		remote:    remote,
		sessions:  sessions,
		reads:     reads,
		loader:    cache.NewLoader(reads, nil, 0),
		log:       cfg.Logger.WithOp(observe.OpMeta{Component: "remote", Target: base.Host}),
	}, nil
}

// SessionStats returns the HTTP session pool statistics.
func (c *Client) SessionStats() pool.Stats { return c.sessions.Stats() }

// Remote returns the resilience client requests go through.
func (c *Client) Remote() *resilience.Client { return c.remote }

// Send posts msg to channelID and returns the created message.
//
// The request carries one idempotency key for all of its attempts, so a
// retry after a lost response does not post the message twice on servers
// that honour the key.
func (c *Client) Send(ctx context.Context, channelID string, msg Message) (*Message, error) {
	if channelID == "" || msg.Content == "" {
		return nil, fmt.Errorf("%w: channel id and content are required", ErrInvalidArgument)
	}
	if msg.Nonce == "" {
		msg.Nonce = uuid.NewString()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode message: %w", err)
	}

	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	raw, err := c.do(ctx, http.MethodPost, path, body, msg.Nonce)
	if err != nil {
		return nil, err
	}

	var sent Message
	if err := json.Unmarshal(raw, &sent); err != nil {
		return nil, fmt.Errorf("messaging: decode response: %w", err)
	}

	// A new message changes what channel reads return.
	_ = c.reads.Delete(ctx, c.readKey(path))
	return &sent, nil
}

// FetchMessage returns one message, served from the read cache when fresh.
func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	if channelID == "" || messageID == "" {
		return nil, fmt.Errorf("%w: channel id and message id are required", ErrInvalidArgument)
	}
	raw, err := c.Get(ctx, "/channels/"+url.PathEscape(channelID)+"/messages/"+url.PathEscape(messageID))
	if err != nil {
		return nil, err
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("messaging: decode response: %w", err)
	}
	return &m, nil
}

// Get issues a GET for path and returns the body. Successful responses are
// cached for the read policy's TTL; errors are not.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.reads.GetOrSet(ctx, c.readKey(path), func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodGet, path, nil, "")
	}, 0)
}

// Lookup memoizes an arbitrary GET-like fetch under (namespace, input).
func (c *Client) Lookup(ctx context.Context, namespace string, input any, fetch cache.FetchFunc[[]byte]) ([]byte, error) {
	return c.loader.Load(ctx, namespace, input, fetch)
}

func (c *Client) readKey(path string) string {
	return "GET " + path
}

// Close closes the session pool and the read cache.
func (c *Client) Close() error {
	return errors.Join(c.sessions.Close(), c.reads.Close())
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	target := routeKey(method, path)
	requestID := uuid.NewString()

	// An open route fails fast instead of queueing for a session.
	if err := c.remote.Breakers().Check(target); err != nil {
		return nil, err
	}

	// One session serves every attempt of the call. Pool exhaustion is a
	// local condition and must not count against the route's breaker.
	h, err := c.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	return resilience.CallValue(ctx, c.remote, target, func(ctx context.Context) ([]byte, error) {
		req, err := c.newRequest(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Request-ID", requestID)
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := h.Value().http.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				h.Discard()
			}
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			h.Discard()
			return nil, fmt.Errorf("messaging: read body: %w", err)
		}

		if resp.StatusCode >= 400 {
			serr := &StatusError{
				Code:    resp.StatusCode,
				Message: errorMessage(data),
				Wait:    parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
			c.log.Debug(ctx, "request failed",
				observe.F("method", method),
				observe.F("route", target),
				observe.F("status", resp.StatusCode),
				observe.F("request_id", requestID),
			)
			return nil, serr
		}
		return data, nil
	})
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, r)
	if err != nil {
		return nil, fmt.Errorf("messaging: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// routeKey names the breaker target for a request: the method plus the
// first two path segments, e.g. "POST channels/42".
func routeKey(method, path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return method + " " + strings.Join(parts, "/")
}

// errorMessage extracts {"message": "..."} from an error body, falling back
// to a trimmed prefix of the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
