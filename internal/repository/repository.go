package repository

import (
	"context"
	"errors"

	"otp-service/internal/model"
)

// ErrNotFound is returned by every backend when no record exists for the
// requested key. Callers distinguish it from transport failures with errors.Is.
var ErrNotFound = errors.New("otp record not found")

// OTPStore is the abstract keyed store the OTP lifecycle runs against.
// Implementations back it with ScyllaDB, DynamoDB, or Redis; all three provide
// the same semantics:
//
//   - Put overwrites any existing record under the same identifier.
//   - GetByPhone resolves through the secondary index on the phone attribute
//     and returns the first match only.
//   - IncrementAttempts is atomic per record and returns the post-increment
//     count, so concurrent mismatches are never lost.
//   - Delete is idempotent; deleting a missing record is not an error.
//   - ScanExpired returns the identifiers of every record whose expiry has
//     passed at the given time.
type OTPStore interface {
	Put(ctx context.Context, rec *model.OTPRecord) error
	GetByIdentifier(ctx context.Context, identifier string) (*model.OTPRecord, error)
	GetByPhone(ctx context.Context, phoneNumber string) (*model.OTPRecord, error)
	IncrementAttempts(ctx context.Context, identifier string) (int, error)
	Delete(ctx context.Context, identifier string) error
	ScanExpired(ctx context.Context, now int64) ([]string, error)
	HealthCheck(ctx context.Context) error
}
