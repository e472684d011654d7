package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nobat/nobat/internal/platform/notification"
	"github.com/nobat/nobat/internal/platform/otp"
)

var errVerificationDisabled = errors.New("verification codes are not configured")

// VerificationTicket tells the patient how long the code just sent is good
// for. The reservation id is the only handle needed to verify it.
type VerificationTicket struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// StartVerification sends a fresh code to the phone of a pending
// reservation, replacing any earlier one. Wrong guesses against earlier
// codes keep counting.
func (s *Service) StartVerification(ctx context.Context, id uuid.UUID) (*VerificationTicket, error) {
	res, err := s.store.Reservations.GetByID(ctx, id)
	if err != nil {
		return nil, systemFailure("start verification", err)
	}
	if res.Status != StatusPendingPayment {
		return nil, fmt.Errorf("%w: reservation is %s", ErrInvalidTransition, res.Status)
	}
	if s.codes == nil || s.notifier == nil {
		return nil, &SystemError{Op: "start verification", Err: errVerificationDisabled}
	}

	code, err := s.codes.Issue(ctx, id.String())
	if errors.Is(err, otp.ErrTooManyAttempts) {
		s.releaseUnverified(ctx, id)
		return nil, ErrTooManyAttempts
	}
	if err != nil {
		return nil, systemFailure("start verification", err)
	}
	data := s.messageData(ctx, res)
	data["code"] = code
	data["ttl"] = s.codes.TTL().String()
	if err := s.notifier.Send(ctx, notification.TemplateVerificationCode, res.Phone, data); err != nil {
		s.logger.Error().Err(err).Str("reservation_id", id.String()).Msg("send verification code")
		return nil, systemFailure("start verification", err)
	}

	return &VerificationTicket{ReservationID: id, ExpiresAt: s.now().Add(s.codes.TTL())}, nil
}

// Verify checks code against the outstanding challenge. Running out of
// attempts releases the reservation so the slot frees up.
func (s *Service) Verify(ctx context.Context, id uuid.UUID, code string) (*Reservation, error) {
	res, err := s.store.Reservations.GetByID(ctx, id)
	if err != nil {
		return nil, systemFailure("verify", err)
	}
	if res.VerifiedAt != nil {
		return res, nil
	}
	if res.Status != StatusPendingPayment {
		return nil, fmt.Errorf("%w: reservation is %s", ErrInvalidTransition, res.Status)
	}

	if s.codes == nil {
		return nil, &SystemError{Op: "verify", Err: errVerificationDisabled}
	}
	switch err := s.codes.Verify(ctx, id.String(), code); {
	case err == nil:
	case errors.Is(err, otp.ErrMismatch):
		return nil, ErrCodeMismatch
	case errors.Is(err, otp.ErrExpired):
		return nil, ErrCodeExpired
	case errors.Is(err, otp.ErrTooManyAttempts):
		s.releaseUnverified(ctx, id)
		return nil, ErrTooManyAttempts
	default:
		return nil, systemFailure("verify", err)
	}

	now := s.now()
	if err := s.store.Reservations.MarkVerified(ctx, id, now); err != nil {
		return nil, systemFailure("verify", err)
	}
	res.VerifiedAt = &now
	s.logger.Info().Str("reservation_id", id.String()).Msg("reservation verified")
	return res, nil
}

func (s *Service) releaseUnverified(ctx context.Context, id uuid.UUID) {
	if _, err := s.Release(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("reservation_id", id.String()).Msg("release after failed verification")
	}
}
