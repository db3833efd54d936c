package websocket

import (
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/loadbalancer"
	"github.com/relaymesh/gateway/internal/logging"
)

// Bridge tunnels WebSocket upgrades: it dials the selected upstream,
// relays the upgrade response, then splices the byte streams in both
// directions. Bytes within each direction keep arrival order.
type Bridge struct {
	readBufferSize  int
	writeBufferSize int
	dialTimeout     time.Duration
	pingInterval    time.Duration
	idleTimeout     time.Duration

	mu    sync.Mutex
	conns map[*ConnStats]struct{}
}

// ConnStats tracks one bridged connection.
type ConnStats struct {
	ClientAddr   string
	UpstreamID   string
	StartedAt    time.Time
	BytesIn      atomic.Int64
	BytesOut     atomic.Int64
	Messages     atomic.Int64
	LastActivity atomic.Int64 // unix nanos
}

// NewBridge creates a WebSocket bridge.
func NewBridge(cfg config.WebSocketConfig) *Bridge {
	b := &Bridge{
		readBufferSize:  cfg.ReadBufferSize,
		writeBufferSize: cfg.WriteBufferSize,
		dialTimeout:     cfg.DialTimeout,
		pingInterval:    cfg.PingInterval,
		idleTimeout:     cfg.IdleTimeout,
		conns:           make(map[*ConnStats]struct{}),
	}
	if b.readBufferSize <= 0 {
		b.readBufferSize = 4096
	}
	if b.writeBufferSize <= 0 {
		b.writeBufferSize = 4096
	}
	if b.dialTimeout <= 0 {
		b.dialTimeout = 10 * time.Second
	}
	if b.pingInterval <= 0 {
		b.pingInterval = 30 * time.Second
	}
	if b.idleTimeout <= 0 {
		b.idleTimeout = 60 * time.Second
	}
	return b
}

// IsUpgradeRequest checks if the request is a WebSocket upgrade request
func IsUpgradeRequest(r *http.Request) bool {
	connection := strings.ToLower(r.Header.Get("Connection"))
	upgrade := strings.ToLower(r.Header.Get("Upgrade"))

	return strings.Contains(connection, "upgrade") && upgrade == "websocket"
}

// pingFrame is a masked, payloadless WebSocket ping (client-to-server
// frames must be masked per RFC 6455).
var pingFrame = []byte{0x89, 0x80, 0x00, 0x00, 0x00, 0x00}

// Serve upgrades and tunnels the connection to an upstream.
func (b *Bridge) Serve(w http.ResponseWriter, r *http.Request, upstream *loadbalancer.Upstream) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "WebSocket upgrade not supported", http.StatusInternalServerError)
		return
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "Failed to hijack connection", http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	backendConn, err := net.DialTimeout("tcp", upstream.Address(), b.dialTimeout)
	if err != nil {
		logging.Warn("websocket dial failed",
			zap.String("upstream", upstream.ID), zap.Error(err))
		clientBuf.WriteString("HTTP/1.1 502 Bad Gateway\r\n\r\n")
		clientBuf.Flush()
		return
	}
	defer backendConn.Close()

	// Forward the original upgrade request.
	reqPath := r.URL.Path
	if r.URL.RawQuery != "" {
		reqPath += "?" + r.URL.RawQuery
	}
	backendConn.Write([]byte(r.Method + " " + reqPath + " HTTP/1.1\r\n"))
	backendConn.Write([]byte("Host: " + upstream.Host + "\r\n"))
	for key, values := range r.Header {
		if key == "Host" {
			continue
		}
		for _, v := range values {
			backendConn.Write([]byte(key + ": " + v + "\r\n"))
		}
	}
	backendConn.Write([]byte("\r\n"))

	// Relay the upstream's upgrade response (101 Switching Protocols).
	buf := make([]byte, b.readBufferSize)
	n, err := backendConn.Read(buf)
	if err != nil {
		logging.Warn("websocket upgrade read failed",
			zap.String("upstream", upstream.ID), zap.Error(err))
		clientBuf.WriteString("HTTP/1.1 502 Bad Gateway\r\n\r\n")
		clientBuf.Flush()
		return
	}
	if _, err := clientConn.Write(buf[:n]); err != nil {
		return
	}

	stats := &ConnStats{
		ClientAddr: clientConn.RemoteAddr().String(),
		UpstreamID: upstream.ID,
		StartedAt:  time.Now(),
	}
	stats.LastActivity.Store(time.Now().UnixNano())
	b.track(stats)
	defer b.untrack(stats)

	done := make(chan struct{})
	errCh := make(chan error, 2)

	// Heartbeat: ping the upstream on the configured interval; a write
	// error tears the tunnel down.
	go func() {
		ticker := time.NewTicker(b.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backendConn.SetWriteDeadline(time.Now().Add(b.pingInterval))
				if _, err := backendConn.Write(pingFrame); err != nil {
					errCh <- err
					return
				}
				backendConn.SetWriteDeadline(time.Time{})
			}
		}
	}()

	go func() {
		errCh <- b.splice(backendConn, clientConn, &stats.BytesOut, stats)
	}()
	go func() {
		errCh <- b.splice(clientConn, backendConn, &stats.BytesIn, stats)
	}()

	// Either direction ending, or a heartbeat failure, closes the tunnel.
	<-errCh
	close(done)

	clientConn.SetDeadline(time.Now().Add(time.Second))
	backendConn.SetDeadline(time.Now().Add(time.Second))
}

// splice copies one direction, counting bytes and reads (Messages counts
// read chunks; WebSocket frames are not parsed).
func (b *Bridge) splice(dst, src net.Conn, counter *atomic.Int64, stats *ConnStats) error {
	buf := make([]byte, b.writeBufferSize)
	for {
		if b.idleTimeout > 0 {
			src.SetReadDeadline(time.Now().Add(b.idleTimeout))
		}
		n, err := src.Read(buf)
		if n > 0 {
			counter.Add(int64(n))
			stats.Messages.Add(1)
			stats.LastActivity.Store(time.Now().UnixNano())
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (b *Bridge) track(s *ConnStats) {
	b.mu.Lock()
	b.conns[s] = struct{}{}
	b.mu.Unlock()
}

func (b *Bridge) untrack(s *ConnStats) {
	b.mu.Lock()
	delete(b.conns, s)
	b.mu.Unlock()
}

// Snapshot is the JSON view of one live bridged connection.
type Snapshot struct {
	ClientAddr   string    `json:"client_addr"`
	UpstreamID   string    `json:"upstream_id"`
	StartedAt    time.Time `json:"started_at"`
	BytesIn      int64     `json:"bytes_in"`
	BytesOut     int64     `json:"bytes_out"`
	Messages     int64     `json:"messages"`
	LastActivity time.Time `json:"last_activity"`
}

// Connections returns snapshots of all live bridged connections.
func (b *Bridge) Connections() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Snapshot, 0, len(b.conns))
	for s := range b.conns {
		out = append(out, Snapshot{
			ClientAddr:   s.ClientAddr,
			UpstreamID:   s.UpstreamID,
			StartedAt:    s.StartedAt,
			BytesIn:      s.BytesIn.Load(),
			BytesOut:     s.BytesOut.Load(),
			Messages:     s.Messages.Load(),
			LastActivity: time.Unix(0, s.LastActivity.Load()),
		})
	}
	return out
}
