package messaging

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"eisenbahn/internal/logging"
)

// subscriberHighWaterMark bounds the per-subscriber outgoing buffer. Past
// this many unsent frames, new frames are dropped for that subscriber
// rather than blocking the forwarder — "best-effort fan-out with no
// persistence" (§4.8).
const subscriberHighWaterMark = 1024

// Broker is the event-bus (PUB/SUB) straight forwarder: every frame
// received on the frontend is relayed to every connection on the backend
// (§4.8).
type Broker struct {
	Frontend Transport
	Backend  Transport
	logger   *slog.Logger

	mu          sync.Mutex
	subscribers map[*subscriberConn]struct{}
}

type subscriberConn struct {
	conn net.Conn
	out  chan frame
}

type frame struct {
	topic    string
	envelope []byte
}

// NewBroker builds a broker bound to the given frontend/backend endpoints.
func NewBroker(frontend, backend Transport, logger *slog.Logger) *Broker {
	return &Broker{
		Frontend:    frontend,
		Backend:     backend,
		logger:      logging.Default(logger).With("component", "messaging.broker"),
		subscribers: make(map[*subscriberConn]struct{}),
	}
}

// Run binds both endpoints and forwards frames until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	frontendListener, err := b.Frontend.Listen()
	if err != nil {
		return err
	}
	defer frontendListener.Close()

	backendListener, err := b.Backend.Listen()
	if err != nil {
		return err
	}
	defer backendListener.Close()

	b.logger.Info("broker listening", "frontend", b.Frontend.String(), "backend", b.Backend.String())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.acceptFrontend(ctx, frontendListener)
	}()
	go func() {
		defer wg.Done()
		b.acceptBackend(ctx, backendListener)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (b *Broker) acceptFrontend(ctx context.Context, l net.Listener) {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("frontend accept error", "error", err)
			continue
		}
		go b.handlePublisher(ctx, conn)
	}
}

func (b *Broker) handlePublisher(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		topic, envelope, err := ReadFrame(conn)
		if err != nil {
			return
		}
		b.fanOut(topic, envelope)
	}
}

func (b *Broker) fanOut(topic string, envelope []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.out <- frame{topic: topic, envelope: envelope}:
		default:
			b.logger.Warn("dropping frame for slow subscriber", "topic", topic)
		}
	}
}

func (b *Broker) acceptBackend(ctx context.Context, l net.Listener) {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("backend accept error", "error", err)
			continue
		}
		sub := &subscriberConn{conn: conn, out: make(chan frame, subscriberHighWaterMark)}
		b.mu.Lock()
		b.subscribers[sub] = struct{}{}
		b.mu.Unlock()
		go b.serveSubscriber(ctx, sub)
	}
}

func (b *Broker) serveSubscriber(ctx context.Context, sub *subscriberConn) {
	defer func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
		sub.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-sub.out:
			if err := WriteFrame(sub.conn, f.topic, f.envelope); err != nil {
				return
			}
		}
	}
}
