package report

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/scheduler"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names emitted by SocketIOSink.
const (
	EventRound    = "round"
	EventFinished = "finished"
)

const defaultConnectTimeout = 15 * time.Second

// SocketIOOptions configure Dial.
type SocketIOOptions struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// ConnectTimeout bounds the wait for the connect event. Zero uses 15s.
	ConnectTimeout time.Duration
}

// SocketIOSink streams progress events to a socket.io server over a
// websocket transport.
type SocketIOSink struct {
	io *socket.Socket
}

var _ Sink = (*SocketIOSink)(nil)

// Dial connects to the server and waits for the connect event.
func Dial(ctx context.Context, o SocketIOOptions) (*SocketIOSink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", o.URL)

	parsedURL, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("report URL %q needs a scheme and a host", o.URL)
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		opts.SetPath(parsedURL.Path)
	}
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))
	opts.SetReconnection(false)

	namespace := o.Namespace
	if namespace == "" {
		namespace = "/"
	}
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Report sink connected.", "sid", io.Id())
		select {
		case connectChan <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &SocketIOSink{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", timeout)
	}
}

func (s *SocketIOSink) Round(ctx context.Context, stats scheduler.RoundStats) {
	s.emit(ctx, EventRound, stats)
}

func (s *SocketIOSink) Finished(ctx context.Context, summary Summary) {
	s.emit(ctx, EventFinished, summary)
}

// Close disconnects from the server.
func (s *SocketIOSink) Close() error {
	s.io.Disconnect()
	return nil
}

func (s *SocketIOSink) emit(ctx context.Context, event string, v any) {
	logger := ctxlog.FromContext(ctx)
	if !s.io.Connected() {
		logger.Warn("Report sink is not connected, dropping event.", "event", event)
		return
	}
	data, err := toEventData(v)
	if err != nil {
		logger.Warn("Failed to encode report event.", "event", event, "error", err)
		return
	}
	if err := s.io.Emit(event, data); err != nil {
		logger.Warn("Failed to emit report event.", "event", event, "error", err)
	}
}

// toEventData turns v into the plain map form the socket.io encoder sends
// as JSON.
func toEventData(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
