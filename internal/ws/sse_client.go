package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// SSEClient streams batch events as Server-Sent Events.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  chan struct{}
	once    sync.Once
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger, closed: make(chan struct{})}
}

// Send emits a data frame.
func (c *SSEClient) Send(payload []byte) error {
	return c.write(fmt.Sprintf("event: batch\ndata: %s\n\n", payload))
}

// Heartbeat emits a comment frame to keep proxies from closing the stream.
func (c *SSEClient) Heartbeat() error {
	return c.write(": ping\n\n")
}

func (c *SSEClient) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return io.EOF
	default:
	}
	if _, err := io.WriteString(c.writer, frame); err != nil {
		c.log.Warn("sse write failed", "error", err)
		c.once.Do(func() { close(c.closed) })
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.once.Do(func() { close(c.closed) })
}

// Done is closed once the stream stops accepting writes.
func (c *SSEClient) Done() <-chan struct{} {
	return c.closed
}
