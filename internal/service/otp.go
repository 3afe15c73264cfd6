package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/restrona-pos/api/internal/database"
	"github.com/sirupsen/logrus"
)

const otpDigits = 6

// MaxOTPAttempts is how many times a code may be checked before it is
// locked until a new one is sent.
const MaxOTPAttempts = 5

var (
	ErrOTPPhone    = fmt.Errorf("%w: phone number is required", ErrValidation)
	ErrOTPNotFound = fmt.Errorf("%w: no verification code requested for this phone", ErrValidation)
	ErrOTPExpired  = fmt.Errorf("%w: verification code expired", ErrValidation)
	ErrOTPUsed     = fmt.Errorf("%w: verification code already used", ErrValidation)
	ErrOTPInvalid  = fmt.Errorf("%w: invalid verification code", ErrValidation)
	ErrOTPLocked   = fmt.Errorf("%w: too many attempts, request a new verification code", ErrValidation)
)

// OTPStore defines the DB methods needed for phone verification.
type OTPStore interface {
	UpsertOtp(ctx context.Context, arg database.UpsertOtpParams) (database.OtpVerification, error)
	ClaimOtpAttempt(ctx context.Context, phone string) (database.OtpVerification, error)
	MarkOtpUsed(ctx context.Context, arg database.MarkOtpUsedParams) (int64, error)
	DeleteOtp(ctx context.Context, phone string) error
	DeleteExpiredOtps(ctx context.Context, before time.Time) (int64, error)
}

// Sender delivers a code to a phone.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of sending an SMS.
type LogSender struct {
	Logger *logrus.Logger
}

func (s LogSender) Send(ctx context.Context, phone, code string) error {
	s.Logger.WithFields(logrus.Fields{"phone": phone, "code": code}).Info("otp issued")
	return nil
}

// OTPService issues and checks one-time phone verification codes.
type OTPService struct {
	store  OTPStore
	sender Sender
	ttl    time.Duration
	logger *logrus.Logger
	now    func() time.Time
	code   func() (string, error)
}

func NewOTPService(store OTPStore, sender Sender, ttl time.Duration, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:  store,
		sender: sender,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		code:   randomCode,
	}
}

func randomCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// Send issues a fresh code for phone, replacing any previous one. It
// returns the expiry of the new code.
func (s *OTPService) Send(ctx context.Context, phone string) (time.Time, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return time.Time{}, ErrOTPPhone
	}
	code, err := s.code()
	if err != nil {
		return time.Time{}, fmt.Errorf("generate otp: %w", err)
	}

	rec, err := s.store.UpsertOtp(ctx, database.UpsertOtpParams{
		Phone:     phone,
		Code:      code,
		ExpiresAt: s.now().Add(s.ttl),
	})
	if err != nil {
		return time.Time{}, persistenceError("store otp", err)
	}
	if err := s.sender.Send(ctx, phone, code); err != nil {
		return time.Time{}, fmt.Errorf("send otp: %w", err)
	}
	return rec.ExpiresAt, nil
}

// Verify consumes the code for phone. An expired code is removed. Every
// call counts as an attempt; after MaxOTPAttempts the code stops matching
// until Send replaces it.
func (s *OTPService) Verify(ctx context.Context, phone, code string) error {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" {
		return ErrOTPPhone
	}

	rec, err := s.store.ClaimOtpAttempt(ctx, phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOTPNotFound
		}
		return persistenceError("claim otp attempt", err)
	}
	if !s.now().Before(rec.ExpiresAt) {
		if err := s.store.DeleteOtp(ctx, phone); err != nil {
			s.logger.WithError(err).WithField("phone", phone).Warn("delete expired otp")
		}
		return ErrOTPExpired
	}
	if rec.IsUsed {
		return ErrOTPUsed
	}
	if rec.Attempts > MaxOTPAttempts {
		return ErrOTPLocked
	}
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		if rec.Attempts == MaxOTPAttempts {
			s.logger.WithField("phone", phone).Warn("otp locked after failed attempts")
			return ErrOTPLocked
		}
		return ErrOTPInvalid
	}

	n, err := s.store.MarkOtpUsed(ctx, database.MarkOtpUsedParams{Phone: phone, Code: code})
	if err != nil {
		return persistenceError("mark otp used", err)
	}
	if n == 0 {
		return ErrOTPUsed
	}
	return nil
}

// CleanupExpired deletes every code past its expiry.
func (s *OTPService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredOtps(ctx, s.now())
	if err != nil {
		return 0, persistenceError("delete expired otps", err)
	}
	if n > 0 {
		s.logger.WithField("deleted", n).Info("expired otps removed")
	}
	return n, nil
}

// RunJanitor calls CleanupExpired every interval until ctx is done.
func (s *OTPService) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				s.logger.WithError(err).Error("otp cleanup")
			}
		}
	}
}
