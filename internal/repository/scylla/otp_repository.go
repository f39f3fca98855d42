package scylla

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"otp-service/internal/model"
	"otp-service/internal/repository"
	"otp-service/internal/util"
)

// casRetries bounds the compare-and-set loop on the attempt counter. Contention
// beyond this means the record is being hammered concurrently; the caller
// surfaces a store error rather than spinning.
const casRetries = 5

// Statement text for the hot path. Queries are built per call from these: a
// gocql.Query is not safe for concurrent use, while server-side prepares are
// cached by statement string, so per-call construction keeps the prepared
// execution path.
const (
	stmtPutOTP = `
		INSERT INTO otp_codes (identifier, channel, code, issued_at, expires_at, attempts, phone_number)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmtGetByIdentifier = `
		SELECT identifier, channel, code, issued_at, expires_at, attempts
		FROM otp_codes WHERE identifier = ?`

	stmtGetByPhone = `
		SELECT identifier, channel, code, issued_at, expires_at, attempts
		FROM otp_codes WHERE phone_number = ? LIMIT 1`

	stmtDeleteOTP = `
		DELETE FROM otp_codes WHERE identifier = ?`

	stmtGetAttempts = `
		SELECT attempts FROM otp_codes WHERE identifier = ?`

	stmtIncrementAttempts = `
		UPDATE otp_codes SET attempts = ? WHERE identifier = ? IF attempts = ?`

	stmtScanExpired = `
		SELECT identifier FROM otp_codes
		WHERE expires_at < ? ALLOW FILTERING`
)

// OTPRepository implements repository.OTPStore on a ScyllaDB table with a
// secondary index on the phone attribute.
type OTPRepository struct {
	client *ScyllaClient
}

func NewOTPRepository(client *ScyllaClient, logger *zap.Logger) *OTPRepository {
	// Using global util logger instead of individual logger
	return &OTPRepository{
		client: client,
	}
}

// Put writes the record, unconditionally overwriting any prior record under
// the same identifier. The phone_number column is populated only for phone
// records so the index holds nothing for email identifiers.
func (r *OTPRepository) Put(ctx context.Context, rec *model.OTPRecord) error {
	query := r.client.Session.Query(stmtPutOTP,
		rec.Identifier, string(rec.Channel), rec.Code,
		rec.IssuedAt, rec.ExpiresAt, rec.Attempts, rec.PhoneNumber()).
		WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to put OTP record",
			zap.String("channel", string(rec.Channel)),
			zap.Error(err))
		return fmt.Errorf("failed to put OTP record: %w", err)
	}

	util.Debug("OTP record stored",
		zap.String("channel", string(rec.Channel)),
		zap.Int64("expires_at", rec.ExpiresAt))

	return nil
}

func (r *OTPRepository) GetByIdentifier(ctx context.Context, identifier string) (*model.OTPRecord, error) {
	query := r.client.Session.Query(stmtGetByIdentifier, identifier).WithContext(ctx)
	return r.scanRecord(query)
}

// GetByPhone resolves through the secondary index. The index is expected to
// hold at most one live record per phone number because generation overwrites;
// LIMIT 1 takes the first match without checking for collisions.
func (r *OTPRepository) GetByPhone(ctx context.Context, phoneNumber string) (*model.OTPRecord, error) {
	query := r.client.Session.Query(stmtGetByPhone, phoneNumber).WithContext(ctx)
	return r.scanRecord(query)
}

func (r *OTPRepository) scanRecord(query *gocql.Query) (*model.OTPRecord, error) {
	rec := &model.OTPRecord{}
	var channel string

	err := r.client.ScanWithRetry(query,
		&rec.Identifier, &channel, &rec.Code,
		&rec.IssuedAt, &rec.ExpiresAt, &rec.Attempts)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to read OTP record", zap.Error(err))
		return nil, fmt.Errorf("failed to read OTP record: %w", err)
	}

	rec.Channel = model.Channel(channel)
	return rec, nil
}

// IncrementAttempts bumps the attempt counter with a lightweight transaction
// so concurrent mismatches are never lost, and returns the post-increment
// count. On CAS conflict the returned current value seeds the retry.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, identifier string) (int, error) {
	var attempts int
	err := r.client.ScanWithRetry(
		r.client.Session.Query(stmtGetAttempts, identifier).WithContext(ctx), &attempts)
	if err != nil {
		if err == gocql.ErrNotFound {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("failed to read attempt count: %w", err)
	}

	for i := 0; i < casRetries; i++ {
		next := attempts + 1
		applied, err := r.client.Session.Query(stmtIncrementAttempts,
			next, identifier, attempts).WithContext(ctx).ScanCAS(&attempts)
		if err != nil {
			if err == gocql.ErrNotFound {
				return 0, repository.ErrNotFound
			}
			util.Error("Failed to increment OTP attempts", zap.Error(err))
			return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
		}
		if applied {
			util.Debug("OTP attempts incremented", zap.Int("attempts", next))
			return next, nil
		}
	}

	return 0, fmt.Errorf("attempt increment contended beyond %d retries", casRetries)
}

// Delete removes the record. Deleting a missing record is a no-op, which keeps
// the verifier/reaper race harmless.
func (r *OTPRepository) Delete(ctx context.Context, identifier string) error {
	query := r.client.Session.Query(stmtDeleteOTP, identifier).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to delete OTP record", zap.Error(err))
		return fmt.Errorf("failed to delete OTP record: %w", err)
	}

	return nil
}

// ScanExpired returns the identifiers of every record whose expiry has passed.
// Full-table filtering scan; the reaper runs it off the request path.
func (r *OTPRepository) ScanExpired(ctx context.Context, now int64) ([]string, error) {
	iter := r.client.Session.Query(stmtScanExpired, now).WithContext(ctx).Iter()

	var identifier string
	var expired []string
	for iter.Scan(&identifier) {
		expired = append(expired, identifier)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to scan for expired OTP records", zap.Error(err))
		return nil, fmt.Errorf("failed to scan expired OTP records: %w", err)
	}

	return expired, nil
}

func (r *OTPRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
