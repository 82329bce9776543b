package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/twmb/franz-go/pkg/kgo"

	"eisenbahn/internal/document"
	"eisenbahn/internal/logging"
)

// QueueListener runs a long-lived listener loop against a message-queue
// source, feeding every received message to sink as a document, until ctx
// is cancelled (§4.10: "a long-running listener loop for queue and push
// sources").
func QueueListener(ctx context.Context, cfg SourceConfig, sink Sink, logger *slog.Logger) error {
	logger = logging.Default(logger).With("component", "ingestion.queue", "backend", cfg.QueueBackend, "topic", cfg.Topic)
	switch cfg.QueueBackend {
	case QueueBackendKafka:
		return runKafkaListener(ctx, cfg, sink, logger)
	case QueueBackendMQTT:
		return runMQTTListener(ctx, cfg, sink, logger)
	default:
		return fmt.Errorf("ingestion: unknown queue backend %q", cfg.QueueBackend)
	}
}

func runKafkaListener(ctx context.Context, cfg SourceConfig, sink Sink, logger *slog.Logger) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup("eisenbahn-ingestion"),
	)
	if err != nil {
		return fmt.Errorf("ingestion: kafka client: %w", err)
	}
	defer client.Close()

	logger.Info("kafka listener started", "brokers", cfg.Brokers)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logger.Warn("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			doc := document.New(eventTypeOf(cfg), time.Now(), document.Fields{
				"key":       document.NewText(string(rec.Key)),
				"value":     document.NewText(string(rec.Value)),
				"partition": document.NewInt(int64(rec.Partition)),
				"offset":    document.NewInt(rec.Offset),
			})
			if _, err := sink.Put(doc); err != nil {
				logger.Warn("failed to sink kafka record", "error", err)
			}
		})
	}
}

func runMQTTListener(ctx context.Context, cfg SourceConfig, sink Sink, logger *slog.Logger) error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("ingestion: mqtt source requires at least one broker")
	}
	conn, err := net.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("ingestion: mqtt dial: %w", err)
	}
	defer conn.Close()

	received := make(chan *paho.Publish, 64)
	client := paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(p paho.PublishReceived) (bool, error) {
				select {
				case received <- p.Packet:
				default:
					logger.Warn("dropping mqtt message: sink channel full")
				}
				return true, nil
			},
		},
	})

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	_, err = client.Connect(connCtx, &paho.Connect{KeepAlive: 30, CleanStart: true})
	cancel()
	if err != nil {
		return fmt.Errorf("ingestion: mqtt connect: %w", err)
	}

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: cfg.Topic, QoS: 1}},
	}); err != nil {
		return fmt.Errorf("ingestion: mqtt subscribe: %w", err)
	}

	logger.Info("mqtt listener started", "broker", cfg.Brokers[0])
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-received:
			doc := document.New(eventTypeOf(cfg), time.Now(), document.Fields{
				"topic":   document.NewText(msg.Topic),
				"payload": document.NewText(string(msg.Payload)),
			})
			if _, err := sink.Put(doc); err != nil {
				logger.Warn("failed to sink mqtt message", "error", err)
			}
		}
	}
}
