package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Nzyazin/walletledger/internal/core/logger"
	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/usecase"
	"github.com/Nzyazin/walletledger/pkg/config"
)

var fastRetry = config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *writerMock) Close() error { return m.Called().Error(0) }

type dlqMock struct {
	mock.Mock
}

func (m *dlqMock) Publish(ctx context.Context, topic, key string, message interface{}) error {
	args := m.Called(ctx, topic, key, message)
	return args.Error(0)
}

type handlerMock struct {
	mock.Mock
}

func (m *handlerMock) OwnerCreated(ctx context.Context, owner models.Owner) (*models.Wallet, error) {
	args := m.Called(ctx, owner)
	w, _ := args.Get(0).(*models.Wallet)
	return w, args.Error(1)
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	w := &writerMock{}
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("leader not available")).Once()
	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		var ev models.BalanceRefreshedEvent
		return len(msgs) == 1 && string(msgs[0].Key) == "wallet-1" &&
			json.Unmarshal(msgs[0].Value, &ev) == nil && ev.Balance == 42
	})).Return(nil).Once()

	p := newPublisher(map[string]messageWriter{models.BalanceRefreshedTopic: w}, fastRetry, logger.NewNop())
	err := p.Publish(context.Background(), models.BalanceRefreshedTopic, "wallet-1", models.BalanceRefreshedEvent{Balance: 42})
	require.NoError(t, err)
	w.AssertExpectations(t)
}

func TestPublishGivesUp(t *testing.T) {
	w := &writerMock{}
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("down"))

	p := newPublisher(map[string]messageWriter{models.WalletCreatedTopic: w}, fastRetry, logger.NewNop())
	err := p.Publish(context.Background(), models.WalletCreatedTopic, "k", models.WalletCreatedEvent{})
	require.Error(t, err)
	w.AssertNumberOfCalls(t, "WriteMessages", 3)
}

func TestPublishUnknownTopic(t *testing.T) {
	p := newPublisher(map[string]messageWriter{}, fastRetry, logger.NewNop())
	assert.Error(t, p.Publish(context.Background(), "nope", "k", struct{}{}))
}

func TestBackoffIsCapped(t *testing.T) {
	retry := config.RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, backoff(retry, 0))
	assert.Equal(t, 400*time.Millisecond, backoff(retry, 2))
	assert.Equal(t, time.Second, backoff(retry, 10))
}

func ownerMessage(t *testing.T, ev models.OwnerCreatedEvent) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Topic: models.OwnerCreatedTopic, Value: raw}
}

func TestHandleOwnerCreated(t *testing.T) {
	h := &handlerMock{}
	owner := models.OwnerRef{Type: "user", ID: "5"}
	h.On("OwnerCreated", mock.Anything, owner).Return(models.NewWallet(owner, models.DefaultWallet, 2, 0), nil).Once()

	s := newSubscriber(nil, h, nil, fastRetry, logger.NewNop())
	require.NoError(t, s.handle(context.Background(), ownerMessage(t, models.OwnerCreatedEvent{OwnerType: "user", OwnerID: "5"})))
	h.AssertExpectations(t)
}

func TestHandleRedeliveryIsIdempotent(t *testing.T) {
	h := &handlerMock{}
	h.On("OwnerCreated", mock.Anything, mock.Anything).Return(nil, usecase.DuplicateWalletType(models.DefaultWallet))

	s := newSubscriber(nil, h, nil, fastRetry, logger.NewNop())
	assert.NoError(t, s.handle(context.Background(), ownerMessage(t, models.OwnerCreatedEvent{OwnerType: "user", OwnerID: "5"})))
}

func TestHandleMalformedIsPermanent(t *testing.T) {
	s := newSubscriber(nil, &handlerMock{}, nil, fastRetry, logger.NewNop())

	err := s.handle(context.Background(), kafka.Message{Value: []byte("{")})
	var perm permanentError
	assert.ErrorAs(t, err, &perm)

	err = s.handle(context.Background(), ownerMessage(t, models.OwnerCreatedEvent{OwnerType: "user"}))
	assert.ErrorAs(t, err, &perm)
}

func TestProcessRetriesTransientErrors(t *testing.T) {
	h := &handlerMock{}
	owner := models.OwnerRef{Type: "user", ID: "5"}
	h.On("OwnerCreated", mock.Anything, owner).Return(nil, errors.New("db down")).Twice()
	h.On("OwnerCreated", mock.Anything, owner).Return(models.NewWallet(owner, models.DefaultWallet, 2, 0), nil).Once()

	s := newSubscriber(nil, h, nil, fastRetry, logger.NewNop())
	require.NoError(t, s.process(context.Background(), ownerMessage(t, models.OwnerCreatedEvent{OwnerType: "user", OwnerID: "5"})))
	h.AssertNumberOfCalls(t, "OwnerCreated", 3)
}

type readerStub struct {
	msgs      []kafka.Message
	committed []kafka.Message
}

func (r *readerStub) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *readerStub) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *readerStub) Close() error { return nil }

func TestRunCommitsHandledMessages(t *testing.T) {
	h := &handlerMock{}
	h.On("OwnerCreated", mock.Anything, mock.Anything).Return(models.NewWallet(models.OwnerRef{Type: "user", ID: "1"}, models.DefaultWallet, 2, 0), nil)

	reader := &readerStub{msgs: []kafka.Message{
		ownerMessage(t, models.OwnerCreatedEvent{OwnerType: "user", OwnerID: "1"}),
		{Value: []byte("garbage")},
	}}
	s := newSubscriber(reader, h, nil, fastRetry, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Len(t, reader.committed, 2)
	h.AssertNumberOfCalls(t, "OwnerCreated", 1)
}

func failingOwnerMessage(t *testing.T) (*handlerMock, kafka.Message) {
	t.Helper()
	h := &handlerMock{}
	h.On("OwnerCreated", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	msg := ownerMessage(t, models.OwnerCreatedEvent{OwnerType: "user", OwnerID: "9"})
	msg.Topic = models.OwnerCreatedTopic
	msg.Key = []byte("user:9")
	return h, msg
}

func TestRunDeadLettersExhaustedMessages(t *testing.T) {
	h, msg := failingOwnerMessage(t)
	dlq := &dlqMock{}
	dlq.On("Publish", mock.Anything, models.OwnerCreatedDLQTopic, "user:9", mock.MatchedBy(func(m models.DeadLetterMessage) bool {
		return m.OriginalTopic == models.OwnerCreatedTopic && m.Value == string(msg.Value) &&
			m.Attempts == fastRetry.MaxAttempts && m.Error == "db down"
	})).Return(nil).Once()

	reader := &readerStub{msgs: []kafka.Message{msg}}
	s := newSubscriber(reader, h, dlq, fastRetry, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	dlq.AssertExpectations(t)
	h.AssertNumberOfCalls(t, "OwnerCreated", fastRetry.MaxAttempts)
	assert.Len(t, reader.committed, 1)
}

func TestRunKeepsOffsetWhenDeadLetterFails(t *testing.T) {
	h, msg := failingOwnerMessage(t)
	dlq := &dlqMock{}
	dlq.On("Publish", mock.Anything, models.OwnerCreatedDLQTopic, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	reader := &readerStub{msgs: []kafka.Message{msg}}
	s := newSubscriber(reader, h, dlq, fastRetry, logger.NewNop())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Empty(t, reader.committed)
}

func TestRunKeepsOffsetWithoutDeadLetterTopic(t *testing.T) {
	h, msg := failingOwnerMessage(t)
	reader := &readerStub{msgs: []kafka.Message{msg}}
	s := newSubscriber(reader, h, nil, fastRetry, logger.NewNop())

	require.Error(t, s.Run(context.Background()))
	assert.Empty(t, reader.committed)
}

func TestRunKeepsOffsetWhenCancelledDuringBackoff(t *testing.T) {
	h, msg := failingOwnerMessage(t)
	slow := config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	reader := &readerStub{msgs: []kafka.Message{msg}}
	dlq := &dlqMock{}
	s := newSubscriber(reader, h, dlq, slow, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Empty(t, reader.committed)
	dlq.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
