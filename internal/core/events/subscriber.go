package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/Nzyazin/walletledger/internal/core/logger"
	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/usecase"
	"github.com/Nzyazin/walletledger/pkg/config"
)

type OwnerCreatedHandler interface {
	OwnerCreated(ctx context.Context, owner models.Owner) (*models.Wallet, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber turns owner.created events into default wallets. Messages that
// exhaust their retries go to the dead-letter topic before being committed.
type Subscriber struct {
	reader  messageReader
	handler OwnerCreatedHandler
	dlq     usecase.Publisher
	retry   config.RetryConfig
	log     logger.Logger
}

func NewSubscriber(brokers []string, groupID string, handler OwnerCreatedHandler, dlq usecase.Publisher, retry config.RetryConfig, log logger.Logger) *Subscriber {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    models.OwnerCreatedTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newSubscriber(reader, handler, dlq, retry, log)
}

func newSubscriber(reader messageReader, handler OwnerCreatedHandler, dlq usecase.Publisher, retry config.RetryConfig, log logger.Logger) *Subscriber {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 5
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 10 * time.Second
	}
	return &Subscriber{reader: reader, handler: handler, dlq: dlq, retry: retry, log: log}
}

// Run consumes until ctx is cancelled. A message is committed once handled,
// dropped as malformed or dead-lettered. Anything else stops the consumer
// with the offset uncommitted so the message is redelivered.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("Kafka fetch failed", logger.ErrorField("error", err))
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := s.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("Message left uncommitted",
				logger.StringField("topic", msg.Topic),
				logger.Int64Field("offset", msg.Offset),
				logger.ErrorField("error", err))
			return err
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("Kafka commit failed",
				logger.StringField("topic", msg.Topic),
				logger.Int64Field("offset", msg.Offset),
				logger.ErrorField("error", err))
		}
	}
}

func (s *Subscriber) Close() error {
	return s.reader.Close()
}

func (s *Subscriber) process(ctx context.Context, msg kafka.Message) error {
	var err error
	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		err = s.handle(ctx, msg)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			s.log.Warn("Dropping malformed message",
				logger.StringField("topic", msg.Topic),
				logger.Int64Field("offset", msg.Offset),
				logger.ErrorField("error", err))
			return nil
		}
		if attempt == s.retry.MaxAttempts-1 {
			break
		}

		delay := backoff(s.retry, attempt)
		s.log.Warn("Handler error, retrying",
			logger.IntField("attempt", attempt+1),
			logger.AnyField("delay", delay),
			logger.ErrorField("error", err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.log.Error("Message failed after retries",
		logger.StringField("topic", msg.Topic),
		logger.StringField("key", string(msg.Key)),
		logger.IntField("attempts", s.retry.MaxAttempts),
		logger.ErrorField("error", err))
	return s.deadLetter(ctx, msg, err)
}

func (s *Subscriber) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	if s.dlq == nil {
		return fmt.Errorf("no dead-letter topic configured: %w", cause)
	}
	letter := models.DeadLetterMessage{
		OriginalTopic: msg.Topic,
		Key:           string(msg.Key),
		Value:         string(msg.Value),
		Error:         cause.Error(),
		Timestamp:     time.Now().UTC(),
		Attempts:      s.retry.MaxAttempts,
	}
	if err := s.dlq.Publish(ctx, models.OwnerCreatedDLQTopic, string(msg.Key), letter); err != nil {
		return fmt.Errorf("dead-letter message: %w", err)
	}
	s.log.Warn("Message sent to dead-letter topic",
		logger.StringField("topic", msg.Topic),
		logger.StringField("key", string(msg.Key)))
	return nil
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (s *Subscriber) handle(ctx context.Context, msg kafka.Message) error {
	var event models.OwnerCreatedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return permanentError{fmt.Errorf("decode owner event: %w", err)}
	}
	if event.OwnerType == "" || event.OwnerID == "" {
		return permanentError{errors.New("owner event without owner identity")}
	}

	owner := models.OwnerRef{Type: event.OwnerType, ID: event.OwnerID}
	wallet, err := s.handler.OwnerCreated(ctx, owner)
	if errors.Is(err, usecase.ErrDuplicateWalletType) {
		// redelivery of an owner already provisioned
		return nil
	}
	if err != nil {
		return err
	}

	s.log.Info("Default wallet provisioned",
		logger.StringField("owner_type", owner.Type),
		logger.StringField("owner_id", owner.ID),
		logger.StringField("wallet_id", wallet.ID.String()))
	return nil
}
