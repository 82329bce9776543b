package messaging

import (
	"context"
	"net"
	"sync"
	"time"
)

// Publisher connects to a broker frontend and sends [topic, envelope]
// frames.
type Publisher struct {
	mu   sync.Mutex
	conn net.Conn
}

// ConnectPublisher dials the broker's frontend endpoint.
func ConnectPublisher(ctx context.Context, frontend Transport) (*Publisher, error) {
	conn, err := frontend.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn}, nil
}

// Publish sends an envelope under its topic.
func (p *Publisher) Publish(env Envelope) error {
	body, err := env.bytes()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return WriteFrame(p.conn, env.Topic, body)
}

// Close releases the underlying connection.
func (p *Publisher) Close() error { return p.conn.Close() }

// Subscriber connects to a broker backend and filters frames by
// topic-prefix subscriptions (§4.8).
type Subscriber struct {
	conn   net.Conn
	mu     sync.Mutex
	prefixes []string
}

// ConnectSubscriber dials the broker's backend endpoint.
func ConnectSubscriber(ctx context.Context, backend Transport) (*Subscriber, error) {
	conn, err := backend.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn}, nil
}

// Subscribe adds a topic-prefix filter. An empty prefix matches all topics.
func (s *Subscriber) Subscribe(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes = append(s.prefixes, prefix)
}

// Recv blocks for the next frame matching one of this subscriber's
// prefixes, decoding it into an Envelope.
func (s *Subscriber) Recv() (Envelope, error) {
	for {
		topic, body, err := ReadFrame(s.conn)
		if err != nil {
			return Envelope{}, err
		}
		if !s.matches(topic) {
			continue
		}
		var env Envelope
		if err := envelopeFromBytes(body, &env); err != nil {
			return Envelope{}, err
		}
		return env, nil
	}
}

func (s *Subscriber) matches(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if p == "" || (len(topic) >= len(p) && topic[:len(p)] == p) {
			return true
		}
	}
	return false
}

// Close releases the underlying connection.
func (s *Subscriber) Close() error { return s.conn.Close() }

// dialTimeout bounds the connection attempt DialWithTimeout makes (§5
// deadline policy). ConnectPublisher and ConnectSubscriber use the
// caller's ctx instead.
const dialTimeout = 5 * time.Second

// DialWithTimeout connects with a bounded deadline.
func (t Transport) DialWithTimeout() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	return t.Dial(ctx)
}
