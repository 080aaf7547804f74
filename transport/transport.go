// Package transport executes HTTP requests against a single backend node
// and manages the lifecycle of the keep-alive sockets used to reach it.
package transport

import (
	"github.com/rs/zerolog/log"
)

// Transport is the per-node HTTP transport. It owns the connection pool
// for exactly one host and hands out one Request Executor per Perform
// call. A Transport must not be used after Close.
type Transport struct {
	host  *Host
	cfg   Config
	agent Agent
}

// New validates the host protocol, builds the connection pool and returns
// a ready transport. It fails with ErrUnsupportedProtocol when the host
// scheme is neither http nor https.
func New(host *Host, cfg Config) (*Transport, error) {
	if _, err := host.scheme(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var agent Agent
	if cfg.NewAgentFunc != nil {
		agent = cfg.NewAgentFunc(host, cfg)
	} else {
		agent = newKeepAliveAgent(host, cfg)
	}

	log.Debug().Str("host", host.URL()).Msg("transport created")
	return &Transport{host: host, cfg: cfg, agent: agent}, nil
}

// Close reacts to the node status moving to closed: the pool is drained,
// every tracked socket is force-terminated and all further Perform calls
// fail fast. Safe to call more than once.
func (t *Transport) Close() {
	t.agent.Drain()
}

// Host returns the descriptor this transport is bound to.
func (t *Transport) Host() *Host { return t.host }

// Stats reports the current state of the connection pool.
func (t *Transport) Stats() AgentStats { return t.agent.Stats() }
