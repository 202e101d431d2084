package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRPCPair(t *testing.T, timeout time.Duration) (*RPCClient, *RPCServer, *Client) {
	t.Helper()
	c := NewWithTransport(NewMemory(), "robot", nil)
	topics := c.Topics()

	srv := NewRPCServer(c, topics.MotionSwitcherRequest(), topics.MotionSwitcherResponse(), nil)
	cli, err := NewRPCClient(c, topics.MotionSwitcherRequest(), topics.MotionSwitcherResponse(), timeout, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cli.Close()
		_ = srv.Close()
		_ = c.Close()
	})
	return cli, srv, c
}

func TestRPC_CallRoundTrip(t *testing.T) {
	cli, srv, _ := newRPCPair(t, time.Second)

	srv.Handle(1001, func(ctx context.Context, parameter string) (string, error) {
		return `{"form":"0","name":"normal"}`, nil
	})
	require.NoError(t, srv.Start(context.Background()))

	resp, err := cli.Call(context.Background(), 1001, "")
	require.NoError(t, err)
	assert.Equal(t, 1001, resp.Header.Identity.APIID)
	assert.NotEmpty(t, resp.Header.Identity.ID)
	assert.JSONEq(t, `{"form":"0","name":"normal"}`, resp.Data)

	assert.Equal(t, int64(1), cli.Stats().Calls)
	assert.Equal(t, int64(1), srv.Stats().Served)
}

func TestRPC_ParameterIsForwarded(t *testing.T) {
	cli, srv, _ := newRPCPair(t, time.Second)

	var got string
	srv.Handle(1002, func(ctx context.Context, parameter string) (string, error) {
		got = parameter
		return "", nil
	})
	require.NoError(t, srv.Start(context.Background()))

	_, err := cli.Call(context.Background(), 1002, `{"name":"ai"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"ai"}`, got)
}

func TestRPC_ErrorCodes(t *testing.T) {
	cli, srv, _ := newRPCPair(t, time.Second)

	srv.Handle(1002, func(ctx context.Context, parameter string) (string, error) {
		return "", &RPCError{Code: CodeBadParameter, Message: "unknown mode"}
	})
	srv.Handle(1003, func(ctx context.Context, parameter string) (string, error) {
		return "", errors.New("motor fault")
	})
	require.NoError(t, srv.Start(context.Background()))

	tests := []struct {
		apiID    int
		wantCode int
	}{
		{1002, CodeBadParameter},
		{1003, CodeInternal},
		{1999, CodeUnknownAPI},
	}

	for _, tt := range tests {
		_, err := cli.Call(context.Background(), tt.apiID, "")
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr, "api %d", tt.apiID)
		assert.Equal(t, tt.wantCode, rpcErr.Code)
		assert.Equal(t, tt.apiID, rpcErr.APIID)
	}

	_, err := cli.Call(context.Background(), 1999, "")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.True(t, rpcErr.IsUnknownAPI())
	assert.Equal(t, int64(4), srv.Stats().Failed)
}

func TestRPC_Timeout(t *testing.T) {
	cli, _, _ := newRPCPair(t, 30*time.Millisecond)

	start := time.Now()
	_, err := cli.Call(context.Background(), 1001, "")
	assert.ErrorIs(t, err, ErrRPCTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, int64(1), cli.Stats().Timeouts)
}

func TestRPC_ContextCancel(t *testing.T) {
	cli, _, _ := newRPCPair(t, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cli.Call(ctx, 1001, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRPC_IgnoresForeignResponses(t *testing.T) {
	cli, _, c := newRPCPair(t, 50*time.Millisecond)

	// A response for another caller must not complete this call.
	foreign, _ := json.Marshal(Response{Header: ResponseHeader{Identity: RequestIdentity{ID: "someone-else", APIID: 1001}}})
	_, err := c.Subscribe(c.Topics().MotionSwitcherRequest(), func(string, []byte) {
		_ = c.Publish(context.Background(), c.Topics().MotionSwitcherResponse(), foreign)
		_ = c.Publish(context.Background(), c.Topics().MotionSwitcherResponse(), []byte("not json"))
	})
	require.NoError(t, err)

	_, err = cli.Call(context.Background(), 1001, "")
	assert.ErrorIs(t, err, ErrRPCTimeout)
}

func TestRPC_ClosedClient(t *testing.T) {
	cli, _, _ := newRPCPair(t, time.Second)
	require.NoError(t, cli.Close())

	_, err := cli.Call(context.Background(), 1001, "")
	assert.ErrorIs(t, err, ErrClosed)
}
