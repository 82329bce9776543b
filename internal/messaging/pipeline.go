package messaging

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"eisenbahn/internal/logging"
)

// pipelineHighWaterMark bounds the PUSH socket's outgoing queue. Past this
// depth, Send blocks — the pipeline's backpressure contract (§4.8: "send
// blocks when the queue is full").
const pipelineHighWaterMark = 256

// Pusher is the PUSH half of a pipeline: a bounded queue distributed
// round-robin to whichever PULL workers are connected.
type Pusher struct {
	logger *slog.Logger
	queue  chan frame
	mu     sync.Mutex
	pullers []net.Conn
	next    int
}

// NewPusher builds a pusher bound to the given transport, accepting PULL
// worker connections until ctx is cancelled.
func NewPusher(ctx context.Context, bind Transport, logger *slog.Logger) (*Pusher, error) {
	l, err := bind.Listen()
	if err != nil {
		return nil, err
	}
	p := &Pusher{
		logger: logging.Default(logger).With("component", "messaging.pusher"),
		queue:  make(chan frame, pipelineHighWaterMark),
	}
	go p.acceptPullers(ctx, l)
	go p.distribute(ctx)
	return p, nil
}

func (p *Pusher) acceptPullers(ctx context.Context, l net.Listener) {
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
			p.logger.Warn("pull worker accept error", "error", err)
			continue
		}
		p.mu.Lock()
		p.pullers = append(p.pullers, conn)
		p.mu.Unlock()
		p.logger.Info("pull worker connected", "remote", conn.RemoteAddr())
	}
}

// distribute hands each queued frame to the next connected PULL worker in
// round-robin order, giving at-least-once delivery under normal operation.
func (p *Pusher) distribute(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.queue:
			p.sendToNextWorker(f)
		}
	}
}

func (p *Pusher) sendToNextWorker(f frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pullers) == 0 {
		p.logger.Warn("dropping frame: no pull workers connected", "topic", f.topic)
		return
	}
	for attempt := 0; attempt < len(p.pullers); attempt++ {
		idx := p.next % len(p.pullers)
		p.next++
		conn := p.pullers[idx]
		if err := WriteFrame(conn, f.topic, f.envelope); err == nil {
			return
		}
		p.removeLocked(idx)
		if len(p.pullers) == 0 {
			p.logger.Warn("dropping frame: all pull workers failed", "topic", f.topic)
			return
		}
	}
}

func (p *Pusher) removeLocked(idx int) {
	p.pullers[idx].Close()
	p.pullers = append(p.pullers[:idx], p.pullers[idx+1:]...)
}

// Send enqueues an envelope, blocking if the queue is at its high-water
// mark (backpressure).
func (p *Pusher) Send(env Envelope) error {
	body, err := env.bytes()
	if err != nil {
		return err
	}
	p.queue <- frame{topic: env.Topic, envelope: body}
	return nil
}

// Puller is the PULL half of a pipeline, consuming frames pushed by a
// Pusher at a bound PULL worker address.
type Puller struct {
	conn net.Conn
}

// ConnectPuller dials a running Pusher's bind address.
func ConnectPuller(ctx context.Context, pusher Transport) (*Puller, error) {
	conn, err := pusher.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &Puller{conn: conn}, nil
}

// Recv blocks for the next pushed envelope.
func (p *Puller) Recv() (Envelope, error) {
	_, body, err := ReadFrame(p.conn)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := envelopeFromBytes(body, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Close releases the underlying connection.
func (p *Puller) Close() error { return p.conn.Close() }

// Batcher accumulates envelopes and flushes them through a sink either
// when a size threshold is reached or a flush timeout elapses —
// guaranteeing no in-flight message is buffered past that timeout (§4.8).
type Batcher struct {
	maxSize  int
	flushGap time.Duration
	sink     func([]Envelope) error

	mu      sync.Mutex
	pending []Envelope
	timer   *time.Timer
}

// NewBatcher builds a batcher that flushes to sink either at maxSize
// buffered envelopes or after flushGap since the first buffered one.
func NewBatcher(maxSize int, flushGap time.Duration, sink func([]Envelope) error) *Batcher {
	return &Batcher{maxSize: maxSize, flushGap: flushGap, sink: sink}
}

// Add buffers an envelope, flushing immediately if maxSize is reached.
func (b *Batcher) Add(env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, env)
	if len(b.pending) == 1 {
		b.timer = time.AfterFunc(b.flushGap, b.flushOnTimeout)
	}
	if len(b.pending) >= b.maxSize {
		return b.flushLocked()
	}
	return nil
}

func (b *Batcher) flushOnTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.flushLocked()
}

func (b *Batcher) flushLocked() error {
	if len(b.pending) == 0 {
		return nil
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = nil
	return b.sink(batch)
}

// Flush forces any buffered envelopes out immediately.
func (b *Batcher) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}
