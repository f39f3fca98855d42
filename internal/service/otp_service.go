package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/model"
	"otp-service/internal/repository"
	"otp-service/internal/util"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrOTPNotFound       = errors.New("otp not found")
	ErrOTPExpired        = errors.New("otp has expired")
	ErrAttemptsExhausted = errors.New("maximum attempts exceeded")
	ErrOTPMismatch       = errors.New("invalid otp")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// OTPService owns the passcode lifecycle: generation with expiry, verification
// with a bounded retry budget, and terminal-state deletion. The backing store
// is injected once at process start.
type OTPService struct {
	store  repository.OTPStore
	logger *zap.Logger
}

func NewOTPService(store repository.OTPStore, logger *zap.Logger) *OTPService {
	return &OTPService{
		store:  store,
		logger: logger,
	}
}

// GenerateRequest carries the channels to issue codes for. At least one of
// the two must be supplied; both produce independent records.
type GenerateRequest struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type GeneratedEmailOTP struct {
	OTP   string `json:"otp"`
	Email string `json:"email"`
}

type GeneratedPhoneOTP struct {
	OTP         string `json:"otp"`
	PhoneNumber string `json:"phoneNumber"`
}

// GenerateResult maps channel name to the issued code and identifier. On a
// store failure mid-request it still carries the channels that persisted, so
// partial success is observable.
type GenerateResult struct {
	Email *GeneratedEmailOTP `json:"email,omitempty"`
	Phone *GeneratedPhoneOTP `json:"phone,omitempty"`
}

type VerifyRequest struct {
	OTP         string `json:"otp"`
	Type        string `json:"type"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// VerifyResult confirms a successful verification.
type VerifyResult struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// Generate issues a fresh code per supplied channel and persists each record,
// overwriting any outstanding one for the same identifier. Email is processed
// first; a store failure aborts the remaining channel without rolling back
// what already persisted.
func (s *OTPService) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	email := util.NormalizeIdentifier(req.Email)
	phone := util.NormalizeIdentifier(req.PhoneNumber)

	if email == "" && phone == "" {
		return nil, fmt.Errorf("%w: email or phone number is required", ErrInvalidInput)
	}
	if util.ContainsSuspicious(email) || util.ContainsSuspicious(phone) {
		return nil, fmt.Errorf("%w: identifier contains disallowed characters", ErrInvalidInput)
	}

	result := &GenerateResult{}

	if email != "" {
		code, err := s.issue(ctx, email, model.ChannelEmail)
		if err != nil {
			return result, err
		}
		result.Email = &GeneratedEmailOTP{OTP: code, Email: email}
	}

	if phone != "" {
		code, err := s.issue(ctx, phone, model.ChannelPhone)
		if err != nil {
			return result, err
		}
		result.Phone = &GeneratedPhoneOTP{OTP: code, PhoneNumber: phone}
	}

	return result, nil
}

// issue draws a code and writes the record with a zeroed attempt counter.
// No read-before-write: regenerating intentionally invalidates any
// outstanding code for the identifier.
func (s *OTPService) issue(ctx context.Context, identifier string, channel model.Channel) (string, error) {
	// A CSPRNG fault is not a store outage; the raw error propagates and the
	// handler's default branch maps it to a generic internal error.
	code, err := generateCode()
	if err != nil {
		s.logger.Error("Failed to draw OTP code", zap.Error(err))
		return "", err
	}

	now := time.Now().Unix()
	rec := &model.OTPRecord{
		Identifier: identifier,
		Channel:    channel,
		Code:       code,
		IssuedAt:   now,
		ExpiresAt:  now + model.TTLSeconds,
		Attempts:   0,
	}

	if err := s.store.Put(ctx, rec); err != nil {
		s.logger.Error("Failed to persist OTP record",
			zap.String("channel", string(channel)),
			zap.Error(err))
		return "", ErrStoreUnavailable
	}

	s.logger.Info("OTP generated",
		zap.String("channel", string(channel)),
		zap.Int64("expires_at", rec.ExpiresAt))

	return code, nil
}

// Verify resolves the pending record for (type, identifier) and applies the
// expiry/attempt/match policy.
//
// Ceiling policy: the attempt ceiling is enforced on the increment that
// reaches it. The third cumulative mismatch deletes the record and reports
// ErrAttemptsExhausted on that same call, so a later verify reports
// ErrOTPNotFound. The read-time exhaustion check stays as a guard for records
// pushed past the ceiling by concurrent increments.
func (s *OTPService) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
	identifier, err := s.resolveIdentifier(req)
	if err != nil {
		return nil, err
	}

	rec, err := s.lookup(ctx, model.Channel(req.Type), identifier)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()

	if rec.Expired(now) {
		if err := s.remove(ctx, rec.Identifier); err != nil {
			return nil, err
		}
		s.logger.Info("Expired OTP removed at verification",
			zap.String("channel", string(rec.Channel)))
		return nil, ErrOTPExpired
	}

	if rec.Exhausted() {
		if err := s.remove(ctx, rec.Identifier); err != nil {
			return nil, err
		}
		return nil, ErrAttemptsExhausted
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(req.OTP)) != 1 {
		attempts, err := s.store.IncrementAttempts(ctx, rec.Identifier)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Deleted out from under us by a concurrent terminal outcome.
				return nil, ErrOTPNotFound
			}
			s.logger.Error("Failed to record failed attempt", zap.Error(err))
			return nil, ErrStoreUnavailable
		}

		if attempts >= model.MaxAttempts {
			if err := s.remove(ctx, rec.Identifier); err != nil {
				return nil, err
			}
			s.logger.Info("OTP retry budget spent",
				zap.String("channel", string(rec.Channel)))
			return nil, ErrAttemptsExhausted
		}

		return nil, ErrOTPMismatch
	}

	if err := s.remove(ctx, rec.Identifier); err != nil {
		return nil, err
	}

	s.logger.Info("OTP verified",
		zap.String("channel", string(rec.Channel)))

	return &VerifyResult{
		Type:       req.Type,
		Identifier: identifier,
	}, nil
}

// resolveIdentifier validates the request shape: code, type, and the
// identifier matching the type must all be present.
func (s *OTPService) resolveIdentifier(req *VerifyRequest) (string, error) {
	if req.OTP == "" || req.Type == "" {
		return "", fmt.Errorf("%w: otp and type are required", ErrInvalidInput)
	}

	channel := model.Channel(req.Type)
	if !channel.Valid() {
		return "", fmt.Errorf("%w: type must be email or phone", ErrInvalidInput)
	}

	var identifier string
	switch channel {
	case model.ChannelEmail:
		identifier = util.NormalizeIdentifier(req.Email)
	case model.ChannelPhone:
		identifier = util.NormalizeIdentifier(req.PhoneNumber)
	}
	if identifier == "" {
		return "", fmt.Errorf("%w: identifier matching type is required", ErrInvalidInput)
	}
	if util.ContainsSuspicious(identifier) {
		return "", fmt.Errorf("%w: identifier contains disallowed characters", ErrInvalidInput)
	}

	return identifier, nil
}

// lookup resolves a record by primary key for email and through the phone
// index for phone.
func (s *OTPService) lookup(ctx context.Context, channel model.Channel, identifier string) (*model.OTPRecord, error) {
	var rec *model.OTPRecord
	var err error

	if channel == model.ChannelPhone {
		rec, err = s.store.GetByPhone(ctx, identifier)
	} else {
		rec, err = s.store.GetByIdentifier(ctx, identifier)
	}

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOTPNotFound
		}
		s.logger.Error("Failed to resolve OTP record", zap.Error(err))
		return nil, ErrStoreUnavailable
	}

	return rec, nil
}

func (s *OTPService) remove(ctx context.Context, identifier string) error {
	if err := s.store.Delete(ctx, identifier); err != nil {
		s.logger.Error("Failed to delete OTP record", zap.Error(err))
		return ErrStoreUnavailable
	}
	return nil
}

// HealthCheck reports the backing store's health.
func (s *OTPService) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

// generateCode draws uniformly from [CodeMin, CodeMax] with a
// cryptographically secure source. The range excludes leading zeros, so no
// padding is needed.
func generateCode() (string, error) {
	span := big.NewInt(int64(model.CodeMax - model.CodeMin + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("failed to draw random code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+int64(model.CodeMin), 10), nil
}
