package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/figures/internal/messaging/kafka"
)

const replayableCart = `{"positions":[{"type":"Circle","figure":"{\"Radius\":10}","count":10}]}`

func testConfig() config {
	return config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		cartTopic:   kafka.TopicCartRequests,
		eventsTopic: kafka.TopicReservationEvents,
		limit:       10,
		idleTimeout: 20 * time.Millisecond,
	}
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "dlq-replay-test")
}

func cartDLQMessage(offset int64, value string, errorKind string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Offset: offset,
		Key:    []byte("cart-1"),
		Value:  []byte(value),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(kafka.TopicCartRequests)},
			{Key: []byte(kafka.HeaderErrorKind), Value: []byte(errorKind)},
		},
	}
}

func outboxDLQMessage(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "reservation",
		"aggregate_id":   "cart-7",
		"event_type":     "ReservationCommitted",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "reservation",
			"aggregate_id":   "cart-7",
			"event_type":     "ReservationCommitted",
			"payload":        map[string]any{"total": "3478.52"},
			"publish_error":  "timeout",
		},
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Offset: offset, Value: raw}
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	assert.Empty(t, parseBrokers(""))
}

func TestExtractReplayMessage_Cart(t *testing.T) {
	got, err := extractReplayMessage(cartDLQMessage(0, replayableCart, "store"), testConfig())
	require.NoError(t, err)

	assert.Equal(t, kindCart, got.kind)
	assert.Equal(t, kafka.TopicCartRequests, got.topic)
	assert.Equal(t, "cart-1", string(got.key))
	assert.Equal(t, replayableCart, string(got.value))
}

func TestExtractReplayMessage_CartWithoutTopicUsesFallback(t *testing.T) {
	msg := cartDLQMessage(0, replayableCart, "persistence")
	msg.Headers[0].Value = nil
	cfg := testConfig()
	cfg.cartTopic = "figures.cart.replay"

	got, err := extractReplayMessage(msg, cfg)
	require.NoError(t, err)
	assert.Equal(t, "figures.cart.replay", got.topic)
}

func TestExtractReplayMessage_SkipsPermanentCartFailures(t *testing.T) {
	cases := []struct {
		name  string
		value string
		kind  string
	}{
		{name: "malformed kind", value: replayableCart, kind: "malformed_input"},
		{name: "validation kind", value: replayableCart, kind: "validation"},
		{name: "does not decode", value: `{"positions":[{"type":"Circle"}]}`, kind: "store"},
		{name: "empty cart", value: `{"positions":[]}`, kind: "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := extractReplayMessage(cartDLQMessage(0, tc.value, tc.kind), testConfig())
			require.ErrorIs(t, err, errSkip)
		})
	}
}

func TestExtractReplayMessage_OutboxEvent(t *testing.T) {
	got, err := extractReplayMessage(outboxDLQMessage(t, 0), testConfig())
	require.NoError(t, err)

	assert.Equal(t, kindEvent, got.kind)
	assert.Equal(t, kafka.TopicReservationEvents, got.topic)
	assert.Equal(t, "cart-7", string(got.key))

	var envelope struct {
		ID          string          `json:"id"`
		AggregateID string          `json:"aggregate_id"`
		EventType   string          `json:"event_type"`
		Payload     json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(got.value, &envelope))
	assert.Equal(t, "outbox-1", envelope.ID)
	assert.Equal(t, "ReservationCommitted", envelope.EventType)
	assert.JSONEq(t, `{"total":"3478.52"}`, string(envelope.Payload))
}

func TestExtractReplayMessage_SkipsUnknownFormats(t *testing.T) {
	cases := map[string]string{
		"not json":          `not-json`,
		"no payload":        `{"foo":"bar"}`,
		"payload not obj":   `{"id":"x","payload":"not-an-object"}`,
		"no nested payload": `{"id":"x","payload":{"outbox_id":"x","event_type":"ReservationAborted"}}`,
	}

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, testConfig())
			require.ErrorIs(t, err, errSkip)
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "x", firstNonEmpty("", "  ", "x", "y"))
	assert.Equal(t, "", firstNonEmpty("", " "))
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=figures.dlq",
		"-events-topic=figures.reservation.replay",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		require.NoError(t, err)
		assert.Len(t, cfg.brokers, 2)
		assert.Equal(t, kafka.TopicCartRequests, cfg.cartTopic)
		assert.Equal(t, "figures.reservation.replay", cfg.eventsTopic)
		assert.Equal(t, 10, cfg.limit)
		assert.True(t, cfg.execute)
		assert.True(t, cfg.fromNewest)
		assert.Equal(t, 3*time.Second, cfg.idleTimeout)
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	cases := []struct {
		args []string
		want string
	}{
		{args: []string{"-brokers="}, want: "kafka brokers are required"},
		{args: []string{"-brokers=broker:9092", "-source-topic="}, want: "source-topic is required"},
		{args: []string{"-brokers=broker:9092", "-cart-topic="}, want: "cart-topic is required"},
		{args: []string{"-brokers=broker:9092", "-events-topic="}, want: "events-topic is required"},
		{args: []string{"-brokers=broker:9092", "-limit=0"}, want: "limit must be > 0"},
		{args: []string{"-brokers=broker:9092", "-idle-timeout=0s"}, want: "idle-timeout must be > 0"},
	}

	for _, tc := range cases {
		withFlagArgs(t, tc.args, func() {
			_, err := readConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestReadConfig_BrokersFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "env-broker:9092")
	withFlagArgs(t, nil, func() {
		cfg, err := readConfig()
		require.NoError(t, err)
		assert.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
	})
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				cartDLQMessage(0, replayableCart, "store"),
				cartDLQMessage(1, `{"positions":[]}`, "validation"),
				outboxDLQMessage(t, 2),
			}),
		},
	}

	stats, err := processPartition(context.Background(), quietLogger(), consumer, client, nil, testConfig(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, partitionStats{processed: 3, carts: 1, events: 1, skipped: 1}, stats)
	require.Len(t, consumer.calls, 1)
	assert.Equal(t, int64(0), consumer.calls[0].offset)
}

func TestProcessPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				cartDLQMessage(0, replayableCart, "store"),
				outboxDLQMessage(t, 1),
			}),
		},
	}
	producer := &stubReplayPublisher{}
	cfg := testConfig()
	cfg.execute = true

	stats, err := processPartition(context.Background(), quietLogger(), consumer, client, producer, cfg, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.replayed())
	require.Len(t, producer.sent, 2)
	assert.Equal(t, kafka.TopicCartRequests, producer.sent[0].topic)
	assert.Equal(t, replayableCart, string(producer.sent[0].value))
	assert.Equal(t, kafka.TopicReservationEvents, producer.sent[1].topic)
	assert.Equal(t, "cart-7", string(producer.sent[1].key))
}

func TestProcessPartition_FromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 2, newest: 10}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)},
	}
	cfg := testConfig()
	cfg.fromNewest = true

	_, err := processPartition(context.Background(), quietLogger(), consumer, client, nil, cfg, 0, 3)
	require.NoError(t, err)
	require.Len(t, consumer.calls, 1)
	assert.Equal(t, int64(7), consumer.calls[0].offset)

	consumer.calls = nil
	consumer.consumers[0] = closedPartitionConsumer(nil)
	_, err = processPartition(context.Background(), quietLogger(), consumer, client, nil, cfg, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(2), consumer.calls[0].offset)
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := testConfig()
	cfg.execute = true
	logger := quietLogger()

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	_, err := processPartition(context.Background(), logger, &stubPartitionConsumerSource{}, clientOffsetErr, &stubReplayPublisher{}, cfg, 0, 1)
	require.Error(t, err)

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	_, err = processPartition(context.Background(), logger, consumerErr, client, &stubReplayPublisher{}, cfg, 0, 1)
	require.Error(t, err)

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	_, err = processPartition(context.Background(), logger, consumer, client, &stubReplayPublisher{}, cfg, 0, 1)
	require.Error(t, err)

	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{cartDLQMessage(0, replayableCart, "store")}),
	}}
	producer := &stubReplayPublisher{sendErr: errors.New("send fail")}
	_, err = processPartition(context.Background(), logger, consumer, client, producer, cfg, 0, 1)
	require.ErrorContains(t, err, "publish replay message")
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	cfg := testConfig()
	cfg.idleTimeout = 10 * time.Millisecond

	idle := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idle}}
	stats, err := processPartition(context.Background(), quietLogger(), consumer, client, nil, cfg, 0, 1)
	require.NoError(t, err)
	assert.Zero(t, stats.processed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.idleTimeout = time.Minute
	canceled := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceled}}
	_, err = processPartition(ctx, quietLogger(), consumer, client, nil, cfg, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunReplay(t *testing.T) {
	cfg := testConfig()
	cfg.limit = 1
	logger := quietLogger()

	require.Error(t, runReplay(context.Background(), cfg, logger, nil, nil, nil))

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{cartDLQMessage(0, replayableCart, "store")}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{cartDLQMessage(0, replayableCart, "store")}),
		},
	}

	require.NoError(t, runReplay(context.Background(), cfg, logger, client, consumer, nil))
	require.Len(t, consumer.calls, 1, "limit=1 stops after the first partition")
	assert.Equal(t, int32(0), consumer.calls[0].partition)

	executeCfg := cfg
	executeCfg.execute = true
	require.Error(t, runReplay(context.Background(), executeCfg, logger, client, consumer, nil))

	require.NoError(t, runReplay(context.Background(), cfg, logger, &stubOffsetClient{}, consumer, nil))

	failing := &stubOffsetClient{partitionsErr: errors.New("metadata")}
	require.Error(t, runReplay(context.Background(), cfg, logger, failing, consumer, nil))
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	t.Cleanup(func() { newReplayDependencies = oldDeps })

	cfg := testConfig()
	cfg.limit = 1
	cfg.execute = true

	newReplayDependencies = func(config, *log.Entry) (offsetClient, partitionConsumerSource, replayPublisher, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	require.ErrorContains(t, run(context.Background(), cfg), "deps failed")

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{cartDLQMessage(0, replayableCart, "store")}),
		},
	}
	producer := &stubReplayPublisher{}
	newReplayDependencies = func(config, *log.Entry) (offsetClient, partitionConsumerSource, replayPublisher, error) {
		return client, consumer, producer, nil
	}

	require.NoError(t, run(context.Background(), cfg))
	assert.Len(t, producer.sent, 1)
	assert.True(t, client.closed)
	assert.True(t, consumer.closed)
	assert.True(t, producer.closed)
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.NotZero(t, exitErr.ExitCode())
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-replay"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error                             { return nil }

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	return &stubPartitionConsumer{messages: msgCh, errors: make(chan *sarama.ConsumerError)}
}

type sentMessage struct {
	topic string
	key   []byte
	value []byte
}

type stubReplayPublisher struct {
	sendErr error
	sent    []sentMessage
	closed  bool
}

func (s *stubReplayPublisher) PublishRaw(topic string, key []byte, value []byte, _ map[string]string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentMessage{topic: topic, key: key, value: value})
	return nil
}

func (s *stubReplayPublisher) Close() error {
	s.closed = true
	return nil
}

var _ replayPublisher = (*kafka.Producer)(nil)
