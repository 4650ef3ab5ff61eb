// Package notification turns failed mutations and recorded payments into
// user-facing notices: a log line, a message on the notifications channel, a
// short in-memory history for the API and, when configured, an email.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/email"
	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

const (
	LevelError = "error"
	LevelInfo  = "info"

	historySize = 100
	sendTimeout = 30 * time.Second
)

type Notice struct {
	ID       uuid.UUID `json:"id"`
	Level    string    `json:"level"`
	Mutation string    `json:"mutation,omitempty"`
	Message  string    `json:"message"`
	Code     int       `json:"code,omitempty"`
	At       time.Time `json:"at"`
}

type Service struct {
	broker  messaging.Broker
	mailer  email.Service
	alertTo string
	log     *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	history []Notice
	wg      sync.WaitGroup
}

type Option func(*Service)

// WithEmail mails every failure notice to alertTo.
func WithEmail(mailer email.Service, alertTo string) Option {
	return func(s *Service) {
		s.mailer = mailer
		s.alertTo = alertTo
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(broker messaging.Broker, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		broker: broker,
		log:    log.Component("notification"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MutationFailed records exactly one notice for the failed mutation.
func (s *Service) MutationFailed(ctx context.Context, mutation string, err error) {
	n := Notice{
		ID:       uuid.New(),
		Level:    LevelError,
		Mutation: mutation,
		Message:  userMessage(err),
		Code:     int(apperrors.CodeOf(err)),
		At:       s.now(),
	}
	s.log.Warn("mutation failed", "mutation", mutation, "error", err.Error())
	s.emit(ctx, n)

	if s.mailer != nil && s.alertTo != "" {
		s.mail(s.alertTo, fmt.Sprintf("[clinic] %s failed", mutation),
			fmt.Sprintf("%s\n\nmutation: %s\nat: %s\nerror: %v", n.Message, mutation, n.At.Format(time.RFC3339), err))
	}
}

// PaymentRecorded announces a payment and mails a receipt when an address
// is known.
func (s *Service) PaymentRecorded(ctx context.Context, result model.PaymentResult, patientEmail *string) {
	inv := result.Invoice
	n := Notice{
		ID:      uuid.New(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("payment of %.2f recorded for %s (%s)", result.Payment.Amount, inv.InvoiceNumber, inv.Status),
		At:      s.now(),
	}
	s.emit(ctx, n)

	if s.mailer != nil && patientEmail != nil && *patientEmail != "" {
		s.mail(*patientEmail, "Payment receipt "+inv.InvoiceNumber, receiptBody(result))
	}
}

// Recent returns up to limit notices, newest first.
func (s *Service) Recent(limit int) []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]Notice, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// Wait blocks until queued emails have been handed to the relay.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) emit(ctx context.Context, n Notice) {
	s.mu.Lock()
	s.history = append(s.history, n)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.mu.Unlock()

	if s.broker == nil {
		return
	}
	msg := messaging.Message{Type: "notice", Payload: n}
	if err := s.broker.Publish(context.WithoutCancel(ctx), messaging.ChannelNotifications, msg); err != nil {
		s.log.Error(err, "failed to publish notice", "notice_id", n.ID.String())
	}
}

func (s *Service) mail(to, subject, body string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.mailer.Send(ctx, to, subject, body); err != nil {
			s.log.Error(err, "failed to send email", "to", to)
		}
	}()
}

func userMessage(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrValidation, apperrors.ErrInvalidTransition, apperrors.ErrConflict, apperrors.ErrNotFound:
		return err.Error()
	case apperrors.ErrUnauthorized:
		return "your session has expired, please sign in again"
	case apperrors.ErrUnavailable:
		return "the clinic database is unreachable, your changes were not saved"
	}
	return "could not save your changes, please try again"
}

func receiptBody(r model.PaymentResult) string {
	inv := r.Invoice
	return fmt.Sprintf(
		"Invoice: %s\nAmount paid: %.2f\nMethod: %s\nTotal: %.2f\nBalance: %.2f\nStatus: %s\nDate: %s\n",
		inv.InvoiceNumber, r.Payment.Amount, r.Payment.Method, inv.Total, inv.Balance(), inv.Status,
		r.Payment.PaidAt.Format("2006-01-02 15:04"),
	)
}
