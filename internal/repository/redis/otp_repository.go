package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"otp-service/internal/client"
	"otp-service/internal/model"
	"otp-service/internal/repository"
	"otp-service/internal/util"
)

const (
	recPrefix   = "rec:"
	phonePrefix = "phone:"
)

// OTPRepository implements repository.OTPStore on Redis. One hash per record
// under <prefix>rec:<identifier>; the secondary index is a plain key
// <prefix>phone:<number> holding the identifier. Records carry no Redis TTL:
// expiry is enforced by the verifier and the reaper so lifecycle semantics
// stay identical across store backends.
type OTPRepository struct {
	client *client.RedisClient
	prefix string
}

func NewOTPRepository(rc *client.RedisClient, keyPrefix string, logger *zap.Logger) *OTPRepository {
	return &OTPRepository{
		client: rc,
		prefix: keyPrefix,
	}
}

func (r *OTPRepository) recKey(identifier string) string {
	return r.prefix + recPrefix + identifier
}

func (r *OTPRepository) phoneKey(phoneNumber string) string {
	return r.prefix + phonePrefix + phoneNumber
}

func (r *OTPRepository) Put(ctx context.Context, rec *model.OTPRecord) error {
	pipe := r.client.TxPipeline()

	key := r.recKey(rec.Identifier)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"identifier": rec.Identifier,
		"channel":    string(rec.Channel),
		"code":       rec.Code,
		"issued_at":  rec.IssuedAt,
		"expires_at": rec.ExpiresAt,
		"attempts":   rec.Attempts,
	})
	if phone := rec.PhoneNumber(); phone != "" {
		pipe.Set(ctx, r.phoneKey(phone), rec.Identifier, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to put OTP record in redis",
			zap.String("channel", string(rec.Channel)),
			zap.Error(err))
		return fmt.Errorf("failed to put OTP record: %w", err)
	}

	return nil
}

func (r *OTPRepository) GetByIdentifier(ctx context.Context, identifier string) (*model.OTPRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.recKey(identifier))
	if err != nil {
		util.Error("Failed to read OTP record from redis", zap.Error(err))
		return nil, fmt.Errorf("failed to read OTP record: %w", err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return parseRecord(fields)
}

// GetByPhone resolves the phone index key to an identifier and then does a
// point read. A stale index entry whose record is gone reports not-found and
// is cleaned up best-effort.
func (r *OTPRepository) GetByPhone(ctx context.Context, phoneNumber string) (*model.OTPRecord, error) {
	identifier, err := r.client.Client.Get(ctx, r.phoneKey(phoneNumber)).Result()
	if err != nil {
		if client.IsNil(err) {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to read phone index from redis", zap.Error(err))
		return nil, fmt.Errorf("failed to read phone index: %w", err)
	}

	rec, err := r.GetByIdentifier(ctx, identifier)
	if err == repository.ErrNotFound {
		_ = r.client.Del(ctx, r.phoneKey(phoneNumber))
	}
	return rec, err
}

// IncrementAttempts relies on HINCRBY being atomic. The existence check means
// a concurrent delete can still materialize a ghost hash holding only the
// attempts field; such a hash has no expires_at, parses as expired, and is
// removed by the next reaper sweep.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, identifier string) (int, error) {
	key := r.recKey(identifier)

	exists, err := r.client.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to check OTP record: %w", err)
	}
	if !exists {
		return 0, repository.ErrNotFound
	}

	n, err := r.client.HIncrBy(ctx, key, "attempts", 1)
	if err != nil {
		util.Error("Failed to increment OTP attempts in redis", zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}

	return int(n), nil
}

func (r *OTPRepository) Delete(ctx context.Context, identifier string) error {
	// The phone index key equals the identifier for phone records; deleting it
	// unconditionally is a no-op for email identifiers.
	if err := r.client.Del(ctx, r.recKey(identifier), r.phoneKey(identifier)); err != nil {
		util.Error("Failed to delete OTP record from redis", zap.Error(err))
		return fmt.Errorf("failed to delete OTP record: %w", err)
	}
	return nil
}

func (r *OTPRepository) ScanExpired(ctx context.Context, now int64) ([]string, error) {
	var expired []string
	match := r.prefix + recPrefix + "*"
	cursor := uint64(0)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 100)
		if err != nil {
			util.Error("Failed to scan OTP keys in redis", zap.Error(err))
			return nil, fmt.Errorf("failed to scan OTP records: %w", err)
		}

		for _, key := range keys {
			expiresAt, err := r.client.Client.HGet(ctx, key, "expires_at").Result()
			if err != nil {
				if client.IsNil(err) {
					// No expiry field: a ghost hash left by an increment that
					// raced a delete. Sweep it.
					expired = append(expired, strings.TrimPrefix(key, r.prefix+recPrefix))
					continue
				}
				util.Error("Failed to read expiry during scan", zap.Error(err))
				return nil, fmt.Errorf("failed to scan OTP records: %w", err)
			}
			ts, err := strconv.ParseInt(expiresAt, 10, 64)
			if err != nil || ts < now {
				expired = append(expired, strings.TrimPrefix(key, r.prefix+recPrefix))
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return expired, nil
}

func (r *OTPRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func parseRecord(fields map[string]string) (*model.OTPRecord, error) {
	issuedAt, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid issued_at in stored record: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at in stored record: %w", err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("invalid attempts in stored record: %w", err)
	}

	return &model.OTPRecord{
		Identifier: fields["identifier"],
		Channel:    model.Channel(fields["channel"]),
		Code:       fields["code"],
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
		Attempts:   attempts,
	}, nil
}
