package transport

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnsupportedProtocol(t *testing.T) {
	for _, protocol := range []string{"ftp:", "ftp", "ws", "unix", ""} {
		host := &Host{Protocol: protocol, Hostname: "localhost", Port: 9200}
		tr, err := New(host, Config{})
		require.ErrorIs(t, err, ErrUnsupportedProtocol, "protocol %q", protocol)
		require.Nil(t, tr)
	}
}

func TestNewAcceptsSupportedProtocols(t *testing.T) {
	for _, protocol := range []string{"http", "https", "HTTP:", "https:"} {
		host := &Host{Protocol: protocol, Hostname: "localhost", Port: 9200}
		tr, err := New(host, Config{})
		require.NoError(t, err, "protocol %q", protocol)
		tr.Close()
	}
}

type stubAgent struct {
	gets    int
	drained int
}

func (s *stubAgent) Get(ctx context.Context) (net.Conn, error) {
	s.gets++
	return nil, ErrAgentClosed
}
func (s *stubAgent) Put(conn net.Conn, reusable bool) {}
func (s *stubAgent) Drain()                           { s.drained++ }
func (s *stubAgent) Stats() AgentStats                { return AgentStats{Closed: true} }

func TestNewAgentFuncOverridesPoolConstruction(t *testing.T) {
	stub := &stubAgent{}
	var gotHost *Host

	host := &Host{Protocol: "http", Hostname: "localhost", Port: 9200}
	tr, err := New(host, Config{
		NewAgentFunc: func(h *Host, cfg Config) Agent {
			gotHost = h
			return stub
		},
	})
	require.NoError(t, err)

	assert.Same(t, host, gotHost)

	tr.Close()
	assert.Equal(t, 1, stub.drained)
	assert.True(t, tr.Stats().Closed)
}

func TestPerformAfterCloseFailsFast(t *testing.T) {
	b := startBackend(t, rawResponse("200 OK", nil, nil))

	tr, err := New(b.host(t), Config{})
	require.NoError(t, err)

	out, _ := perform(t, tr, Request{Path: "/"})
	require.NoError(t, out.err)
	require.Equal(t, 1, tr.Stats().Idle)

	tr.Close()
	tr.Close() // idempotent

	out, _ = perform(t, tr, Request{Path: "/"})
	require.ErrorIs(t, out.err, ErrAgentClosed)
	assert.EqualValues(t, 1, b.accepted.Load(), "a drained pool must not hand out sockets")
	assert.Equal(t, AgentStats{Closed: true}, tr.Stats())
}
