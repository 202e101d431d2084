package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrRPCTimeout is returned when no response arrives in time.
var ErrRPCTimeout = errors.New("bus: rpc timeout")

// DefaultRPCTimeout bounds a Call when the client has no timeout set.
const DefaultRPCTimeout = 5 * time.Second

// RPC status codes reported in response headers.
const (
	CodeOK           = 0
	CodeUnknownAPI   = 3203
	CodeBadParameter = 3204
	CodeInternal     = 3205
)

// RequestIdentity correlates a request with its response.
type RequestIdentity struct {
	ID    string `json:"id"`
	APIID int    `json:"api_id"`
}

// RequestHeader is the header of an RPC request.
type RequestHeader struct {
	Identity RequestIdentity `json:"identity"`
}

// Request is an RPC request message.
// Parameter is an opaque, usually JSON encoded, string.
type Request struct {
	Header    RequestHeader `json:"header"`
	Parameter string        `json:"parameter"`
}

// ResponseStatus carries the result code of a call.
type ResponseStatus struct {
	Code int `json:"code"`
}

// ResponseHeader is the header of an RPC response.
type ResponseHeader struct {
	Identity RequestIdentity `json:"identity"`
	Status   ResponseStatus  `json:"status"`
}

// Response is an RPC response message.
type Response struct {
	Header ResponseHeader `json:"header"`
	Data   string         `json:"data"`
}

// RPCError is returned for a response with a non-zero status code.
type RPCError struct {
	APIID   int
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rpc api %d failed (code %d): %s", e.APIID, e.Code, e.Message)
	}
	return fmt.Sprintf("rpc api %d failed (code %d)", e.APIID, e.Code)
}

// IsUnknownAPI returns true if the server has no handler for the API.
func (e *RPCError) IsUnknownAPI() bool {
	return e.Code == CodeUnknownAPI
}

// IsBadParameter returns true if the server rejected the parameter.
func (e *RPCError) IsBadParameter() bool {
	return e.Code == CodeBadParameter
}

// RPCClient sends requests and waits for correlated responses.
type RPCClient struct {
	client        *Client
	requestTopic  string
	responseTopic string
	timeout       time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Response
	sub     Subscription
	closed  bool

	calls    atomic.Int64
	timeouts atomic.Int64
}

// NewRPCClient subscribes to responseTopic and returns a ready client.
// A zero timeout uses DefaultRPCTimeout.
func NewRPCClient(client *Client, requestTopic, responseTopic string, timeout time.Duration, logger *slog.Logger) (*RPCClient, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}

	c := &RPCClient{
		client:        client,
		requestTopic:  requestTopic,
		responseTopic: responseTopic,
		timeout:       timeout,
		logger:        logger.With("component", "bus.rpc"),
		pending:       make(map[string]chan Response),
	}

	sub, err := client.Subscribe(responseTopic, c.handleResponse)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return c, nil
}

func (c *RPCClient) handleResponse(_ string, payload []byte) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logger.Debug("invalid rpc response", "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.Header.Identity.ID]
	if ok {
		delete(c.pending, resp.Header.Identity.ID)
	}
	c.mu.Unlock()

	if !ok {
		return // Not ours, or already timed out
	}
	ch <- resp
}

// Call invokes apiID and waits for its response.
// A response with a non-zero status code returns the response and an *RPCError.
func (c *RPCClient) Call(ctx context.Context, apiID int, parameter string) (Response, error) {
	id := uuid.NewString()
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.calls.Add(1)

	req := Request{
		Header:    RequestHeader{Identity: RequestIdentity{ID: id, APIID: apiID}},
		Parameter: parameter,
	}
	if err := c.client.PublishJSON(ctx, c.requestTopic, req); err != nil {
		return Response{}, fmt.Errorf("send rpc %d: %w", apiID, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Header.Status.Code != CodeOK {
			return resp, &RPCError{APIID: apiID, Code: resp.Header.Status.Code, Message: resp.Data}
		}
		return resp, nil
	case <-timer.C:
		c.timeouts.Add(1)
		return Response{}, fmt.Errorf("%w: api %d after %s", ErrRPCTimeout, apiID, c.timeout)
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Close unsubscribes from the response topic.
func (c *RPCClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.sub.Unsubscribe()
}

// Stats returns client statistics.
func (c *RPCClient) Stats() RPCStats {
	return RPCStats{
		Calls:    c.calls.Load(),
		Timeouts: c.timeouts.Load(),
	}
}

// RPCStats contains RPC statistics.
type RPCStats struct {
	Calls    int64 `json:"calls"`
	Timeouts int64 `json:"timeouts"`
	Served   int64 `json:"served"`
	Failed   int64 `json:"failed"`
}

// RPCHandlerFunc serves one API. The returned string becomes the response data.
// Returning an *RPCError sets its code; any other error maps to CodeInternal.
type RPCHandlerFunc func(ctx context.Context, parameter string) (string, error)

// RPCServer dispatches requests by api_id and publishes responses.
type RPCServer struct {
	client        *Client
	requestTopic  string
	responseTopic string
	logger        *slog.Logger

	mu       sync.RWMutex
	handlers map[int]RPCHandlerFunc
	ctx      context.Context
	sub      Subscription

	served atomic.Int64
	failed atomic.Int64
}

// NewRPCServer creates a server. Register handlers, then call Start.
func NewRPCServer(client *Client, requestTopic, responseTopic string, logger *slog.Logger) *RPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCServer{
		client:        client,
		requestTopic:  requestTopic,
		responseTopic: responseTopic,
		logger:        logger.With("component", "bus.rpc_server"),
		handlers:      make(map[int]RPCHandlerFunc),
	}
}

// Handle registers h for apiID, replacing any previous handler.
func (s *RPCServer) Handle(apiID int, h RPCHandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[apiID] = h
}

// Start subscribes to the request topic. ctx is passed to handlers.
func (s *RPCServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sub != nil {
		s.mu.Unlock()
		return nil // Already running
	}
	s.ctx = ctx
	s.mu.Unlock()

	sub, err := s.client.Subscribe(s.requestTopic, s.handleRequest)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("rpc server started", "topic", s.requestTopic)
	return nil
}

func (s *RPCServer) handleRequest(_ string, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Debug("invalid rpc request", "error", err)
		return
	}

	s.mu.RLock()
	h, ok := s.handlers[req.Header.Identity.APIID]
	ctx := s.ctx
	s.mu.RUnlock()

	resp := Response{Header: ResponseHeader{Identity: req.Header.Identity}}

	if !ok {
		resp.Header.Status.Code = CodeUnknownAPI
		resp.Data = "unknown api"
	} else {
		data, err := h(ctx, req.Parameter)
		if err != nil {
			var rpcErr *RPCError
			if errors.As(err, &rpcErr) {
				resp.Header.Status.Code = rpcErr.Code
				resp.Data = rpcErr.Message
			} else {
				resp.Header.Status.Code = CodeInternal
				resp.Data = err.Error()
			}
		} else {
			resp.Data = data
		}
	}

	if resp.Header.Status.Code != CodeOK {
		s.failed.Add(1)
	}
	s.served.Add(1)

	if err := s.client.PublishJSON(ctx, s.responseTopic, resp); err != nil {
		s.logger.Warn("failed to publish rpc response", "api_id", req.Header.Identity.APIID, "error", err)
	}
}

// Close stops serving.
func (s *RPCServer) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// Stats returns server statistics.
func (s *RPCServer) Stats() RPCStats {
	return RPCStats{
		Served: s.served.Load(),
		Failed: s.failed.Load(),
	}
}
