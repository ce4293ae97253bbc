package butler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/clean-dependency-project/itchmirror/internal/logger"
)

// Dialer opens connections to the daemon.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client issues calls to a running daemon. Each call uses its own
// authenticated connection, so notifications always belong to the call that
// received them and calls from concurrent goroutines do not interfere.
type Client struct {
	endpoint Endpoint
	dialer   Dialer
	logger   *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger used for call tracing.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the daemon listening at endpoint.
func NewClient(endpoint Endpoint, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		dialer:   &net.Dialer{},
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call runs one request on a fresh connection. Notifications the daemon sends
// before the response are passed to onNotify in order. Requests the daemon
// makes of the client are answered with "method not found".
func (c *Client) Call(ctx context.Context, method string, params, result any, onNotify NotificationFunc) error {
	netConn, err := c.dialer.DialContext(ctx, "tcp", c.endpoint.TCP.Address)
	if err != nil {
		return &RPCError{Method: method, Message: "connecting to daemon: " + err.Error(), Err: err}
	}

	handler := jsonrpc2.HandlerWithError(func(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		if req.Notif {
			if onNotify != nil {
				n := Notification{Method: req.Method}
				if req.Params != nil {
					n.Params = *req.Params
				}
				onNotify(n)
			}
			return nil, nil
		}
		c.logger.Debug("declining daemon request", "method", req.Method, "call", method)
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "method not supported by client: " + req.Method,
		}
	})

	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(netConn, jsonrpc2.PlainObjectCodec{}), handler)
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.Call(ctx, "Meta.Authenticate", map[string]string{"secret": c.endpoint.Secret}, nil); err != nil {
		return wrapCallError("Meta.Authenticate", err)
	}

	c.logger.Debug("butler call", "method", method)
	if err := conn.Call(ctx, method, params, result); err != nil {
		return wrapCallError(method, err)
	}
	return nil
}

func wrapCallError(method string, err error) error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Method: method, Code: rpcErr.Code, Message: rpcErr.Message, Err: err}
	}
	return &RPCError{Method: method, Message: err.Error(), Err: err}
}

// Version calls Version.Get.
func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	if err := c.Call(ctx, "Version.Get", struct{}{}, &v, nil); err != nil {
		return VersionInfo{}, err
	}
	return v, nil
}

// LoginWithAPIKey calls Profile.LoginWithAPIKey.
func (c *Client) LoginWithAPIKey(ctx context.Context, apiKey string) (Profile, error) {
	var res struct {
		Profile Profile `json:"profile"`
	}
	params := map[string]string{"apiKey": apiKey}
	if err := c.Call(ctx, "Profile.LoginWithAPIKey", params, &res, nil); err != nil {
		return Profile{}, err
	}
	return res.Profile, nil
}

// FetchGameUploads lists every upload of a game, bypassing the daemon's cache
// and its compatibility filter.
func (c *Client) FetchGameUploads(ctx context.Context, gameID int64, onNotify NotificationFunc) ([]Upload, error) {
	params := struct {
		GameID     int64 `json:"gameId"`
		Compatible bool  `json:"compatible"`
		Fresh      bool  `json:"fresh"`
	}{GameID: gameID, Compatible: false, Fresh: true}

	var res struct {
		Uploads []Upload `json:"uploads"`
	}
	if err := c.Call(ctx, "Fetch.GameUploads", params, &res, onNotify); err != nil {
		return nil, err
	}
	return res.Uploads, nil
}

// QueueInstall calls Install.Queue.
func (c *Client) QueueInstall(ctx context.Context, params QueueInstallParams, onNotify NotificationFunc) (InstallJob, error) {
	var job InstallJob
	if err := c.Call(ctx, "Install.Queue", params, &job, onNotify); err != nil {
		return InstallJob{}, err
	}
	if job.ID == "" {
		return InstallJob{}, &RPCError{Method: "Install.Queue", Message: "daemon returned no install id"}
	}
	return job, nil
}

// PerformInstall calls Install.Perform for a queued job.
func (c *Client) PerformInstall(ctx context.Context, job InstallJob, onNotify NotificationFunc) error {
	params := struct {
		ID            string `json:"id"`
		StagingFolder string `json:"stagingFolder"`
	}{ID: job.ID, StagingFolder: job.StagingFolder}

	var res json.RawMessage
	if err := c.Call(ctx, "Install.Perform", params, &res, onNotify); err != nil {
		return err
	}
	return nil
}
