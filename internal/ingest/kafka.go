package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
)

// ErrEmptyMessage is returned for zero-length payloads.
var ErrEmptyMessage = errors.New("empty activity message")

// maxRecordBackoff caps the delay between attempts to store one message.
const maxRecordBackoff = 30 * time.Second

// ActivityRecorder persists activity events; ActivityService satisfies it.
type ActivityRecorder interface {
	Record(ctx context.Context, ev services.ActivityEvent) (*models.ActivityRecord, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer mirrors CRM activity published on a Kafka topic into the activity store.
type Consumer struct {
	reader   messageReader
	recorder ActivityRecorder
	backoff  time.Duration
	log      *logrus.Entry
	wg       sync.WaitGroup
}

// NewKafkaConsumer returns nil when the subscription is not configured.
func NewKafkaConsumer(cfg config.KafkaConfig, recorder ActivityRecorder) *Consumer {
	if !cfg.Enabled() {
		logger.Component("ingest").Info("kafka ingest disabled")
		return nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, recorder).withFields(logrus.Fields{
		"brokers":  cfg.Brokers,
		"topic":    cfg.Topic,
		"group_id": cfg.GroupID,
	})
}

func newConsumer(reader messageReader, recorder ActivityRecorder) *Consumer {
	return &Consumer{
		reader:   reader,
		recorder: recorder,
		backoff:  time.Second,
		log:      logger.Component("ingest"),
	}
}

func (c *Consumer) withFields(f logrus.Fields) *Consumer {
	c.log = c.log.WithFields(f)
	return c
}

// Start consumes until ctx is cancelled. Call Wait to block until the reader is closed.
func (c *Consumer) Start(ctx context.Context) {
	c.log.Info("kafka ingest enabled")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.reader.Close()
		c.consume(ctx)
	}()
}

// Wait blocks until the consumer goroutine has exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) consume(ctx context.Context) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Warn("kafka read error")
			if !backoffSleep(ctx, c.backoff) {
				return
			}
			continue
		}
		if !c.handle(ctx, m) {
			// Left uncommitted; the group redelivers it after a restart.
			return
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.WithError(err).Warn("kafka commit failed")
		}
	}
}

// handle records one message and reports whether it may be committed.
// Malformed or invalid messages are logged and committed so they do not
// block the partition. Storage failures are retried with backoff until the
// write succeeds or ctx is done, in which case handle returns false.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	ev, err := DecodeActivity(m.Value)
	if err != nil {
		c.log.WithError(err).WithField("offset", m.Offset).Warn("dropping undecodable activity message")
		return true
	}
	log := c.log.WithFields(logrus.Fields{
		"offset":      m.Offset,
		"client_id":   ev.ClientID,
		"action_type": ev.ActionType,
	})
	delay := c.backoff
	for {
		_, err := c.recorder.Record(ctx, ev)
		if err == nil {
			return true
		}
		if errors.Is(err, services.ErrMissingClientID) || errors.Is(err, services.ErrMissingActionType) {
			log.WithError(err).Warn("dropping invalid activity message")
			return true
		}
		log.WithError(err).WithField("retry_in", delay.String()).Warn("failed to record activity from kafka, retrying")
		if !backoffSleep(ctx, delay) {
			return false
		}
		if delay *= 2; delay > maxRecordBackoff {
			delay = maxRecordBackoff
		}
	}
}

// DecodeActivity parses a JSON activity event. Field names are matched the
// way encoding/json does; action types are lower-cased.
func DecodeActivity(data []byte) (services.ActivityEvent, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return services.ActivityEvent{}, ErrEmptyMessage
	}
	var ev services.ActivityEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return services.ActivityEvent{}, fmt.Errorf("decode activity: %w", err)
	}
	ev.ClientID = strings.TrimSpace(ev.ClientID)
	ev.ActorID = strings.TrimSpace(ev.ActorID)
	ev.ActionType = strings.ToLower(strings.TrimSpace(ev.ActionType))
	if ev.ClientID == "" {
		return services.ActivityEvent{}, services.ErrMissingClientID
	}
	if ev.ActionType == "" {
		return services.ActivityEvent{}, services.ErrMissingActionType
	}
	return ev, nil
}

func backoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
