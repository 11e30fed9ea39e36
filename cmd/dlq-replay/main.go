// Command dlq-replay возвращает сообщения из Dead Letter Queue обратно в рабочие топики.
//
// В DLQ попадают два вида сообщений:
//   - исходные сообщения корзин, которые consumer не смог обработать
//     (топик-источник лежит в заголовке x-original-topic);
//   - события резервирования, которые outbox worker не смог опубликовать.
//
// По умолчанию команда работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/figures/internal/codec"
	"github.com/vladislavdragonenkov/figures/internal/domain"
	"github.com/vladislavdragonenkov/figures/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// errSkip помечает сообщение, которое нельзя вернуть в работу.
var errSkip = errors.New("not replayable")

type config struct {
	brokers     []string
	sourceTopic string
	cartTopic   string
	eventsTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type replayMessage struct {
	topic string
	key   []byte
	value []byte
	kind  string
}

// outboxDLQPayload описывает полезную нагрузку, которую outbox worker кладёт в DLQ.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type dlqEnvelope struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// replayPublisher реализуется *kafka.Producer.
type replayPublisher interface {
	PublishRaw(topic string, key []byte, value []byte, headers map[string]string) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config, logger *log.Entry) (offsetClient, partitionConsumerSource, replayPublisher, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.cartTopic, "cart-topic", kafka.TopicCartRequests, "fallback topic for cart messages without x-original-topic")
	flag.StringVar(&cfg.eventsTopic, "events-topic", kafka.TopicReservationEvents, "target topic for reservation events")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		return config{}, fmt.Errorf("source-topic is required")
	}
	if strings.TrimSpace(cfg.cartTopic) == "" {
		return config{}, fmt.Errorf("cart-topic is required")
	}
	if strings.TrimSpace(cfg.eventsTopic) == "" {
		return config{}, fmt.Errorf("events-topic is required")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithField("component", "dlq-replay")
	logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"cart_topic":   cfg.cartTopic,
		"events_topic": cfg.eventsTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, logger, client, consumer, producer)
}

func runReplay(ctx context.Context, cfg config, logger *log.Entry, client offsetClient, consumer partitionConsumerSource, producer replayPublisher) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		logger.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total partitionStats
	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}

		stats, err := processPartition(ctx, logger, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		if err != nil {
			return err
		}
		total.add(stats)
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"carts":     total.carts,
		"events":    total.events,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	carts     int
	events    int
	skipped   int
}

func (s *partitionStats) add(other partitionStats) {
	s.processed += other.processed
	s.carts += other.carts
	s.events += other.events
	s.skipped += other.skipped
}

func (s *partitionStats) replayed() int { return s.carts + s.events }

func processPartition(
	ctx context.Context,
	logger *log.Entry,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayPublisher,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			entry := logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			replay, err := extractReplayMessage(msg, cfg)
			if err != nil {
				stats.skipped++
				entry.WithError(err).Warn("skip dlq message")
				continue
			}

			if cfg.execute {
				if err := producer.PublishRaw(replay.topic, replay.key, replay.value, nil); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
			} else {
				entry.WithFields(log.Fields{
					"kind":         replay.kind,
					"target_topic": replay.topic,
					"key":          string(replay.key),
				}).Info("dlq replay candidate")
			}
			if replay.kind == kindCart {
				stats.carts++
			} else {
				stats.events++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

const (
	kindCart  = "cart"
	kindEvent = "event"
)

// extractReplayMessage определяет вид DLQ-сообщения и восстанавливает
// сообщение для повторной отправки. Корзины, которые по-прежнему не
// декодируются, не возвращаются: consumer отправит их в DLQ снова.
func extractReplayMessage(msg *sarama.ConsumerMessage, cfg config) (replayMessage, error) {
	headers := messageHeaders(msg)
	if originalTopic, ok := headers[kafka.HeaderOriginalTopic]; ok {
		if kind := headers[kafka.HeaderErrorKind]; kind == "malformed_input" || kind == "validation" {
			return replayMessage{}, fmt.Errorf("%w: cart failed with %s", errSkip, kind)
		}
		if _, err := codec.DecodeCart(msg.Value); err != nil {
			return replayMessage{}, fmt.Errorf("%w: cart does not decode: %v", errSkip, err)
		}
		topic := strings.TrimSpace(originalTopic)
		if topic == "" {
			topic = cfg.cartTopic
		}
		return replayMessage{topic: topic, key: msg.Key, value: msg.Value, kind: kindCart}, nil
	}

	var envelope dlqEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, fmt.Errorf("%w: unknown dlq message format", errSkip)
	}

	var payload outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return replayMessage{}, fmt.Errorf("%w: decode outbox dlq payload: %v", errSkip, err)
	}
	if len(payload.Payload) == 0 {
		return replayMessage{}, fmt.Errorf("%w: outbox dlq payload has no event payload", errSkip)
	}

	event := domain.OutboxMessage{
		ID:            firstNonEmpty(payload.OutboxID, envelope.ID),
		AggregateType: payload.AggregateType,
		AggregateID:   firstNonEmpty(payload.AggregateID, envelope.AggregateID),
		EventType:     payload.EventType,
		Payload:       payload.Payload,
	}
	encoded, err := kafka.EncodeOutboxEnvelope(event, time.Now().UTC())
	if err != nil {
		return replayMessage{}, err
	}

	return replayMessage{
		topic: cfg.eventsTopic,
		key:   []byte(firstNonEmpty(event.AggregateID, event.ID)),
		value: encoded,
		kind:  kindEvent,
	}, nil
}

func messageHeaders(msg *sarama.ConsumerMessage) map[string]string {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		if h != nil {
			headers[string(h.Key)] = string(h.Value)
		}
	}
	return headers
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
