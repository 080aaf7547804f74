package transport

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog/log"
)

// Request describes one request against the node. The zero value of
// Method means GET; Path is appended to the host base path.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    string
}

// Callback receives the terminal outcome of a request. It is invoked
// exactly once: with a nil error and the fully decoded body on success,
// or with a non-nil error and zeroed status/headers when the request
// failed before a response was received.
type Callback func(err error, body string, statusCode int, headers map[string]string)

// CancelFunc aborts an in-flight request. It is idempotent and becomes a
// no-op once the request has reached a terminal state.
type CancelFunc func()

// Request executor states. Terminal states start at stateComplete; a
// request settles into exactly one of them.
const (
	stateCreated int32 = iota
	stateSent
	stateReceiving
	stateComplete
	stateFailed
	stateAborted
)

// pendingRequest is one in-flight request. It lives from Perform until
// the terminal transition fires the callback and releases the socket.
type pendingRequest struct {
	id    string
	agent Agent
	cb    Callback
	state atomic.Int32

	ctx   context.Context
	abort context.CancelFunc

	mu   sync.Mutex
	conn net.Conn
}

// Perform issues one request against the node. It returns immediately
// with a cancellation function; the outcome is delivered asynchronously
// through cb, exactly once.
func (t *Transport) Perform(req Request, cb Callback) CancelFunc {
	p := &pendingRequest{
		id:    shortuuid.New(),
		agent: t.agent,
		cb:    cb,
	}
	p.ctx, p.abort = context.WithCancel(context.Background())
	go p.run(t, req)
	return p.Cancel
}

// Cancel force-closes the request transaction. An abort that wins the
// race against natural completion delivers ErrRequestAborted; an aborted
// socket is closed, never returned to the idle set.
func (p *pendingRequest) Cancel() {
	if !p.settle(stateAborted) {
		return
	}
	p.abort()

	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn != nil {
		// Close first to interrupt any in-flight read, then detach the
		// socket from the pool bookkeeping.
		conn.Close()
		p.agent.Put(conn, false)
	}

	log.Debug().Str("req_id", p.id).Msg("request aborted")
	p.cb(ErrRequestAborted, "", 0, nil)
}

func (p *pendingRequest) run(t *Transport, req Request) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	requestURI := t.requestURI(req)
	headers := t.host.HeadersWith(req.Headers)

	conn, err := p.acquire()
	if err != nil {
		p.fail(err, 0, nil)
		return
	}
	defer p.release(conn)

	if !p.advance(stateCreated, stateSent) {
		return
	}
	if err := writeRequest(conn, method, requestURI, t.host.Addr(), headers, req.Body, t.cfg.DisableKeepAlive); err != nil {
		p.fail(fmt.Errorf("could not send request: %w", err), 0, nil)
		return
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: method})
	if err != nil {
		p.fail(fmt.Errorf("could not read response: %w", err), 0, nil)
		return
	}
	defer resp.Body.Close()

	if !p.advance(stateSent, stateReceiving) {
		return
	}
	statusCode := resp.StatusCode
	respHeaders := flattenHeader(resp.Header)

	body, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		p.fail(fmt.Errorf("could not decode response body: %w", err), statusCode, respHeaders)
		return
	}

	reusable := !resp.Close && !t.cfg.DisableKeepAlive && br.Buffered() == 0
	if p.complete(body, statusCode, respHeaders) {
		p.park(conn, reusable)
		log.Debug().
			Str("req_id", p.id).
			Str("method", method).
			Str("params", requestURI).
			Str("request_body", req.Body).
			Str("response", body).
			Int("status", statusCode).
			Msg("request completed")
	}
}

// acquire borrows a socket from the pool and publishes it for Cancel.
func (p *pendingRequest) acquire() (net.Conn, error) {
	conn, err := p.agent.Get(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("could not acquire socket: %w", err)
	}

	p.mu.Lock()
	if p.state.Load() == stateAborted {
		p.mu.Unlock()
		p.agent.Put(conn, false)
		return nil, ErrRequestAborted
	}
	p.conn = conn
	p.mu.Unlock()
	return conn, nil
}

// park hands a socket back to the pool for reuse, detaching it from the
// pending request first so a late Cancel cannot close a pooled socket.
func (p *pendingRequest) park(conn net.Conn, reusable bool) {
	p.mu.Lock()
	owned := p.conn == conn
	p.conn = nil
	p.mu.Unlock()
	if owned {
		p.agent.Put(conn, reusable)
	}
}

// release is the cleanup path for every non-reuse exit: it detaches the
// socket from the pool bookkeeping and closes it. Runs at most once per
// socket; park has already disowned the socket on the success path.
func (p *pendingRequest) release(conn net.Conn) {
	p.park(conn, false)
}

// settle moves the request into a terminal state. It reports false when
// another terminal transition already won, which is the exactly-once
// guard for the completion callback.
func (p *pendingRequest) settle(terminal int32) bool {
	for {
		s := p.state.Load()
		if s >= stateComplete {
			return false
		}
		if p.state.CompareAndSwap(s, terminal) {
			return true
		}
	}
}

// advance performs a non-terminal transition, failing when the request
// was aborted in the meantime.
func (p *pendingRequest) advance(from, to int32) bool {
	return p.state.CompareAndSwap(from, to)
}

func (p *pendingRequest) fail(err error, statusCode int, headers map[string]string) {
	if IsUseOfClosedNetworkError(err) && p.state.Load() == stateAborted {
		// The abort path closed the socket under us and has already
		// delivered ErrRequestAborted.
		return
	}
	if !p.settle(stateFailed) {
		return
	}
	log.Debug().Str("req_id", p.id).Err(err).Int("status", statusCode).Msg("request failed")
	p.cb(err, "", statusCode, headers)
}

func (p *pendingRequest) complete(body string, statusCode int, headers map[string]string) bool {
	if !p.settle(stateComplete) {
		return false
	}
	p.cb(nil, body, statusCode, headers)
	return true
}

// requestURI joins the host base path with the request path, defaulting
// to "/", and appends the merged query string when present.
func (t *Transport) requestURI(req Request) string {
	uri := t.host.Path + req.Path
	if uri == "" {
		uri = "/"
	}
	if query := t.host.QueryWith(req.Query); len(query) > 0 {
		uri += "?" + query.Encode()
	}
	return uri
}

// writeRequest frames and sends one HTTP/1.1 request. Content-Length is
// always emitted explicitly, as the byte length of the body or 0.
func writeRequest(w io.Writer, method, requestURI, hostAddr string, headers map[string]string, body string, closeConn bool) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, requestURI)
	fmt.Fprintf(&b, "Host: %s\r\n", hostAddr)

	keys := make([]string, 0, len(headers))
	for k := range headers {
		switch strings.ToLower(k) {
		case "host", "content-length", "connection":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}

	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	if closeConn {
		b.WriteString("Connection: close\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)

	_, err := w.Write(b.Bytes())
	return err
}

// decodeBody drains the response stream, passing it through the matching
// decompressor when the transport encoding is gzip or deflate. Unknown
// and absent encodings pass through unchanged.
func decodeBody(body io.Reader, encoding string) (string, error) {
	var reader io.Reader = body
	switch strings.ToLower(encoding) {
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return "", err
		}
		defer zr.Close()
		reader = zr
	case "deflate":
		// The backends this transport talks to emit zlib-wrapped
		// deflate streams.
		zr, err := zlib.NewReader(body)
		if err != nil {
			return "", err
		}
		defer zr.Close()
		reader = zr
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// flattenHeader lowers header names into a plain map for the callback.
func flattenHeader(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k, vs := range h {
		flat[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return flat
}
