package delivery

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

	"mls_chat/internal/model"

	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
)

var (
	// ErrConflict means the message was for an epoch the group has left.
	ErrConflict = errors.New("delivery service rejected a stale message")
	ErrNotFound = errors.New("not found on the delivery service")
)

const (
	jsonContent    = "application/json"
	messageContent = "message/mls"

	defaultRetryBase = 100 * time.Millisecond
	defaultRetryMax  = 3
)

type (
	// Client is the HTTP side of the delivery service API.
	Client struct {
		baseURL   *url.URL
		http      *http.Client
		self      *atomic.String
		retryBase time.Duration
		retryMax  uint64
	}

	Option func(*Client)

	StatusError struct {
		Code    int
		Message string
	}
)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithRetry sets the backoff for idempotent reads.
func WithRetry(base time.Duration, max uint64) Option {
	return func(cl *Client) {
		cl.retryBase = base
		cl.retryMax = max
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse delivery service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported delivery service url %q", baseURL)
	}

	c := &Client{
		baseURL:   u,
		http:      &http.Client{Timeout: 30 * time.Second},
		self:      atomic.NewString(""),
		retryBase: defaultRetryBase,
		retryMax:  defaultRetryMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("delivery service returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Code == http.StatusConflict
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}

// Self is the handle assigned by Register.
func (c *Client) Self() model.MemberHandle {
	return model.MemberHandle(c.self.Load())
}

// Register makes the client known to the delivery service. An empty
// clientID lets the service pick one.
func (c *Client) Register(ctx context.Context, user, domain, clientID string) (model.MemberHandle, error) {
	body, err := json.Marshal(&model.RegisterClientRequest{User: user, Domain: domain, ClientID: clientID})
	if err != nil {
		return nil, err
	}

	var res model.RegisterClientResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL.JoinPath("v1", "clients"), jsonContent, body, &res); err != nil {
		return nil, err
	}
	c.self.Store(res.Handle.String())
	return res.Handle, nil
}

func (c *Client) DeleteClient(ctx context.Context, client model.MemberHandle) error {
	return c.do(ctx, http.MethodDelete, c.baseURL.JoinPath("v1", "clients", client.String()), "", nil, nil)
}

func (c *Client) SendMessage(ctx context.Context, message []byte) ([]model.Event, error) {
	var res model.MessageSendingStatus
	if err := c.do(ctx, http.MethodPost, c.baseURL.JoinPath("v1", "messages"), messageContent, message, &res); err != nil {
		return nil, err
	}
	return res.Events, nil
}

func (c *Client) SendWelcome(ctx context.Context, welcome []byte) error {
	return c.do(ctx, http.MethodPost, c.baseURL.JoinPath("v1", "welcome"), messageContent, welcome, nil)
}

func (c *Client) ClaimKeyPackages(ctx context.Context, user model.QualifiedID) ([]model.KeyPackage, error) {
	u := c.baseURL.JoinPath("v1", "users", user.Domain, user.ID, "key-packages", "claim")
	if self := c.self.Load(); self != "" {
		u.RawQuery = url.Values{"claimant": []string{self}}.Encode()
	}

	var res model.ClaimedKeyPackages
	if err := c.do(ctx, http.MethodPost, u, "", nil, &res); err != nil {
		return nil, err
	}
	return res.KeyPackages, nil
}

func (c *Client) CountUnclaimedKeyPackages(ctx context.Context, client model.MemberHandle) (int, error) {
	var res model.KeyPackageCount
	if err := c.getJSON(ctx, c.baseURL.JoinPath("v1", "clients", client.String(), "key-packages", "count"), &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) UploadKeyPackages(ctx context.Context, client model.MemberHandle, keyPackages []string) error {
	body, err := json.Marshal(&model.UploadKeyPackagesRequest{KeyPackages: keyPackages})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.baseURL.JoinPath("v1", "clients", client.String(), "key-packages"), jsonContent, body, nil)
}

func (c *Client) FetchBackendPublicKeys(ctx context.Context) (*model.BackendPublicKeys, error) {
	var res model.BackendPublicKeys
	if err := c.getJSON(ctx, c.baseURL.JoinPath("v1", "public-keys"), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// getJSON retries transport errors and 5xx responses.
func (c *Client) getJSON(ctx context.Context, u *url.URL, out any) error {
	backoff, err := retry.NewExponential(c.retryBase)
	if err != nil {
		return err
	}
	backoff = retry.WithMaxRetries(c.retryMax, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, u, "", nil, out)
		var se *StatusError
		if err == nil || (errors.As(err, &se) && se.Code < http.StatusInternalServerError) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
