package events

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockRecordWriter struct {
	mock.Mock
}

func (m *MockRecordWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockRecordWriter) Close() error {
	return m.Called().Error(0)
}

func TestKafkaPublisher_PublishKeysRecords(t *testing.T) {
	writer := new(MockRecordWriter)
	writer.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 &&
			string(msgs[0].Key) == "conv-1" &&
			string(msgs[0].Value) == `{"ok":true}`
	})).Return(nil).Once()
	writer.On("Close").Return(nil).Once()

	p := NewKafkaPublisherWithWriter(writer)
	assert.NoError(t, p.Publish(context.Background(), "conv-1", []byte(`{"ok":true}`)))
	assert.NoError(t, p.Close())

	writer.AssertExpectations(t)
}
