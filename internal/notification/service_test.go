package notification

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

func TestMutationFailedRecordsOneNotice(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := broker.Subscribe(ctx, messaging.ChannelNotifications)
	require.NoError(t, err)

	svc := NewService(broker, logger.Nop())
	svc.MutationFailed(ctx, "update-invoice", apperrors.Validation("paid invoices cannot be edited"))

	notices := svc.Recent(10)
	require.Len(t, notices, 1)
	assert.Equal(t, LevelError, notices[0].Level)
	assert.Equal(t, "update-invoice", notices[0].Mutation)
	assert.Equal(t, "paid invoices cannot be edited", notices[0].Message)
	assert.Equal(t, int(apperrors.ErrValidation), notices[0].Code)

	select {
	case raw := <-msgs:
		var msg struct {
			Type    string `json:"type"`
			Payload Notice `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "notice", msg.Type)
		assert.Equal(t, notices[0].ID, msg.Payload.ID)
	case <-time.After(time.Second):
		t.Fatal("notice was not published")
	}
}

func TestTransientFailureGetsGenericMessage(t *testing.T) {
	svc := NewService(nil, logger.Nop())
	svc.MutationFailed(context.Background(), "update-patient", errors.New("dial tcp: connection refused"))

	notices := svc.Recent(0)
	require.Len(t, notices, 1)
	assert.Equal(t, "could not save your changes, please try again", notices[0].Message)
}

func TestFailureAlertIsMailed(t *testing.T) {
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, "ops@clinic.test", "[clinic] record-payment failed", mock.Anything).Return(nil).Once()

	svc := NewService(nil, logger.Nop(), WithEmail(mailer, "ops@clinic.test"))
	svc.MutationFailed(context.Background(), "record-payment", apperrors.Unavailable(errors.New("timeout")))
	svc.Wait()

	mailer.AssertExpectations(t)
}

func TestPaymentReceipt(t *testing.T) {
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, "ada@example.com", "Payment receipt INV-000007",
		mock.MatchedBy(func(body string) bool { return strings.Contains(body, "Balance: 0.00") })).Return(nil).Once()

	svc := NewService(nil, logger.Nop(), WithEmail(mailer, ""))
	addr := "ada@example.com"
	svc.PaymentRecorded(context.Background(), model.PaymentResult{
		Payment: model.Payment{Amount: 150, Method: model.PaymentCard},
		Invoice: model.Invoice{InvoiceNumber: "INV-000007", Status: model.InvoiceStatusPaid, Total: 150, AmountPaid: 150},
	}, &addr)
	svc.Wait()

	mailer.AssertExpectations(t)
	notices := svc.Recent(1)
	require.Len(t, notices, 1)
	assert.Equal(t, LevelInfo, notices[0].Level)
}

func TestHistoryIsBounded(t *testing.T) {
	svc := NewService(nil, logger.Nop())
	for i := 0; i < historySize+10; i++ {
		svc.MutationFailed(context.Background(), "m", errors.New("x"))
	}
	assert.Len(t, svc.Recent(0), historySize)
	assert.Len(t, svc.Recent(5), 5)
}
