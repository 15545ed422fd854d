package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultMaxPollRecords = 500
	defaultFetchMaxWait   = 500 * time.Millisecond
)

// KafkaSource reads JSON feed records from a topic as a member of a consumer
// group. Offsets are committed only through Commit.
type KafkaSource struct {
	client         *kgo.Client
	maxPollRecords int
	logger         *slog.Logger
}

// NewKafkaSource joins group on topic through brokers.
func NewKafkaSource(brokers []string, topic, group string) (*KafkaSource, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka source: no brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(defaultFetchMaxWait),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka source: new client: %w", err)
	}
	return &KafkaSource{
		client:         client,
		maxPollRecords: defaultMaxPollRecords,
		logger:         slog.Default().With("component", "feed_kafka", "topic", topic, "group", group),
	}, nil
}

// Fetch returns the records polled so far. Undecodable messages are logged
// and dropped; they are committed with the rest of the batch.
func (s *KafkaSource) Fetch(ctx context.Context) ([]Record, error) {
	fetches := s.client.PollRecords(ctx, s.maxPollRecords)
	if fetches.IsClientClosed() {
		return nil, errors.New("kafka source: client closed")
	}
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
			return nil, fe.Err
		}
		s.logger.Warn("fetch error", "partition", fe.Partition, "error", fe.Err)
	}

	var out []Record
	fetches.EachRecord(func(r *kgo.Record) {
		rec, err := DecodeRecord(r.Value)
		if err != nil {
			s.logger.Warn("dropping undecodable feed message",
				"partition", r.Partition,
				"offset", r.Offset,
				"error", err,
			)
			return
		}
		out = append(out, rec)
	})
	return out, nil
}

func (s *KafkaSource) Commit(ctx context.Context) error {
	return s.client.CommitUncommittedOffsets(ctx)
}

// Close leaves the group and releases the client.
func (s *KafkaSource) Close() {
	s.client.Close()
}
