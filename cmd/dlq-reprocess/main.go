// dlq-reprocess возвращает события заказов и расчётов из Dead Letter Queue
// в их исходные потоки. По умолчанию работает в dry-run: показывает, что
// было бы переиграно, ничего не публикуя.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// replayConfig описывает параметры одного прогона переигрывания DLQ.
type replayConfig struct {
	brokers []string
	// sourceTopic — откуда читать dead letters.
	sourceTopic string
	// targetTopic перенаправляет все события в один topic. Пустое значение
	// включает маршрутизацию по типу события: settlement.* возвращается в
	// поток расчётов, остальное — в поток заказов.
	targetTopic string
	// eventTypeFilter ограничивает переигрывание одним типом события.
	// Значение с точкой на конце ("settlement.") матчит весь поток.
	eventTypeFilter string
	limit           int
	execute         bool
	fromNewest      bool
	idleTimeout     time.Duration
}

// replayCandidate — восстановленное событие, готовое к публикации.
type replayCandidate struct {
	eventType string
	topic     string
	key       string
	value     []byte
}

// consumerDeadLetter — формат, который пишет kafka consumer при исчерпании
// retry входящей команды.
type consumerDeadLetter struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// outboxDeadLetter — конверт DLQ-сообщения от outbox worker: снаружи
// обычный outbox-конверт, внутри payload с исходным событием и ошибкой
// доставки.
type outboxDeadLetter struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type outboxDeadLetterPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// replayEnvelope — конверт, в котором событие возвращается в исходный
// поток; совпадает по форме с конвертом outbox publisher.
type replayEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
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

// replayPublisher — то, что нужно от producer при переигрывании.
// *kafka.Producer подходит как есть.
type replayPublisher interface {
	PublishRaw(topic, key string, value []byte, headers []sarama.RecordHeader) error
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

// Producer создаётся только в execute-режиме, dry-run обходится без него.
var newReplayDependencies = func(cfg replayConfig) (offsetClient, partitionConsumerSource, replayPublisher, error) {
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

	producer, err := kafka.NewProducer(cfg.brokers)
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

	cfg, err := loadReplayConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := replay(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func loadReplayConfig() (replayConfig, error) {
	var (
		brokersRaw string
		cfg        replayConfig
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: JEOGIYO_KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.targetTopic, "target-topic", "", "target topic for replay; empty routes by event type")
	flag.StringVar(&cfg.eventTypeFilter, "event-type", "", `replay only this event type; trailing dot matches a stream ("settlement.")`)
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("JEOGIYO_KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.eventTypeFilter = strings.TrimSpace(cfg.eventTypeFilter)

	if len(cfg.brokers) == 0 {
		return replayConfig{}, fmt.Errorf("kafka brokers are required (-brokers or JEOGIYO_KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		return replayConfig{}, fmt.Errorf("source-topic is required")
	}
	if cfg.limit <= 0 {
		return replayConfig{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return replayConfig{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

// matchesEventType сравнивает тип события с фильтром. Пустой фильтр матчит
// всё; фильтр с точкой на конце матчит поток ("settlement." покрывает
// settlement.failed и settlement.succeeded).
func matchesEventType(eventType, filter string) bool {
	if filter == "" {
		return true
	}
	if strings.HasSuffix(filter, ".") {
		return strings.HasPrefix(eventType, filter)
	}
	return eventType == filter
}

func replay(ctx context.Context, cfg replayConfig) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"event_type":   cfg.eventTypeFilter,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("запускаем переигрывание DLQ")

	client, consumer, producer, err := newReplayDependencies(cfg)
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

	r := &reprocessor{cfg: cfg, client: client, consumers: consumer, producer: producer}
	return r.run(ctx)
}

// replayStats — итоги прогона по всем партициям.
type replayStats struct {
	scanned     int
	replayed    int
	skipped     int
	filtered    int
	byEventType map[string]int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
	s.filtered += other.filtered
	for eventType, count := range other.byEventType {
		s.countEvent(eventType, count)
	}
}

func (s *replayStats) countEvent(eventType string, count int) {
	if eventType == "" {
		eventType = "raw"
	}
	if s.byEventType == nil {
		s.byEventType = make(map[string]int)
	}
	s.byEventType[eventType] += count
}

// reprocessor читает DLQ партиция за партицией и возвращает события в их
// потоки.
type reprocessor struct {
	cfg       replayConfig
	client    offsetClient
	consumers partitionConsumerSource
	producer  replayPublisher
}

func (r *reprocessor) run(ctx context.Context) error {
	if r.client == nil || r.consumers == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if r.cfg.execute && r.producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total replayStats
	for _, partition := range partitions {
		if total.scanned >= r.cfg.limit {
			break
		}

		stats, err := r.scanPartition(ctx, partition, r.cfg.limit-total.scanned)
		if err != nil {
			return err
		}
		total.add(stats)
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}

	log.WithFields(log.Fields{
		"mode":          mode,
		"scanned":       total.scanned,
		"replayed":      total.replayed,
		"skipped":       total.skipped,
		"filtered":      total.filtered,
		"by_event_type": total.byEventType,
		"event_type":    r.cfg.eventTypeFilter,
	}).Info("переигрывание DLQ завершено")

	return nil
}

// scanPartition читает одну партицию DLQ до endOffset, лимита или
// idle-таймаута.
func (r *reprocessor) scanPartition(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats
	if budget <= 0 {
		return stats, nil
	}

	oldest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if r.cfg.fromNewest {
		startOffset = newest - int64(budget)
		if startOffset < oldest {
			startOffset = oldest
		}
	}

	pc, err := r.consumers.ConsumePartition(r.cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	endOffset := newest
	idleTimer := time.NewTimer(r.cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.scanned < budget {
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

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(r.cfg.idleTimeout)

			if msg.Offset >= endOffset {
				return stats, nil
			}

			stats.scanned++
			if err := r.handleDeadLetter(msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= endOffset {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

// handleDeadLetter решает судьбу одного DLQ-сообщения: replay, фильтр или
// skip.
func (r *reprocessor) handleDeadLetter(msg *sarama.ConsumerMessage, stats *replayStats) error {
	candidate, ok, err := restoreCandidate(msg, r.cfg.targetTopic)
	if err != nil {
		stats.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("пропускаем неподдерживаемое DLQ-сообщение")
		return nil
	}
	if !ok {
		stats.skipped++
		return nil
	}
	if !matchesEventType(candidate.eventType, r.cfg.eventTypeFilter) {
		stats.filtered++
		return nil
	}

	stats.countEvent(candidate.eventType, 1)

	if !r.cfg.execute {
		log.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"event_type":   candidate.eventType,
			"target_topic": candidate.topic,
			"key":          candidate.key,
		}).Info("кандидат на переигрывание")
		stats.replayed++
		return nil
	}

	headers := []sarama.RecordHeader{{
		Key:   []byte(kafka.HeaderOriginalTopic),
		Value: []byte(r.cfg.sourceTopic),
	}}
	if err := r.producer.PublishRaw(candidate.topic, candidate.key, candidate.value, headers); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	stats.replayed++
	return nil
}

// restoreCandidate восстанавливает исходное событие из DLQ-записи.
// Поддерживаются два формата: запись consumer-а (original_topic/
// original_value, без типа события) и запись outbox worker-а, которая
// возвращается в поток, выбранный по типу события.
func restoreCandidate(msg *sarama.ConsumerMessage, targetTopic string) (replayCandidate, bool, error) {
	var record consumerDeadLetter
	if err := json.Unmarshal(msg.Value, &record); err == nil && record.OriginalValue != "" {
		topic := strings.TrimSpace(record.OriginalTopic)
		if topic == "" {
			topic = targetTopic
		}
		if topic == "" {
			return replayCandidate{}, false, fmt.Errorf("consumer dead letter has no original topic and no target-topic is set")
		}
		return replayCandidate{
			topic: topic,
			key:   record.OriginalKey,
			value: []byte(record.OriginalValue),
		}, true, nil
	}

	var envelope outboxDeadLetter
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return replayCandidate{}, false, nil
	}
	if len(envelope.Payload) == 0 {
		return replayCandidate{}, false, nil
	}

	var payload outboxDeadLetterPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return replayCandidate{}, false, fmt.Errorf("decode outbox dead letter payload: %w", err)
	}
	if len(payload.Payload) == 0 {
		return replayCandidate{}, false, fmt.Errorf("outbox dead letter does not contain original event payload")
	}

	restored := replayEnvelope{
		ID:            firstNonEmpty(payload.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(payload.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(payload.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(payload.EventType, envelope.EventType),
		Payload:       payload.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(restored)
	if err != nil {
		return replayCandidate{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	topic := targetTopic
	if topic == "" {
		topic = kafka.TopicForEvent(restored.EventType)
	}
	key := restored.AggregateID
	if key == "" {
		key = restored.ID
	}

	return replayCandidate{
		eventType: restored.EventType,
		topic:     topic,
		key:       key,
		value:     encoded,
	}, true, nil
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
