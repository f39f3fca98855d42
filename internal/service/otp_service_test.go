package service_test

import (
	"context"
	crand "crypto/rand"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/model"
	"otp-service/internal/repository"
	"otp-service/internal/service"
)

// ── Stub store ────────────────────────────────────────────────────────────

type stubStore struct {
	mu   sync.Mutex
	recs map[string]*model.OTPRecord

	failPutFor    string
	failGet       bool
	failIncrement bool
	failDelete    map[string]bool
	failScan      bool
}

func newStubStore() *stubStore {
	return &stubStore{
		recs:       make(map[string]*model.OTPRecord),
		failDelete: make(map[string]bool),
	}
}

var errStub = errors.New("stub store failure")

func (s *stubStore) Put(_ context.Context, rec *model.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPutFor != "" && s.failPutFor == rec.Identifier {
		return errStub
	}
	cp := *rec
	s.recs[rec.Identifier] = &cp
	return nil
}

func (s *stubStore) GetByIdentifier(_ context.Context, identifier string) (*model.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errStub
	}
	rec, ok := s.recs[identifier]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *stubStore) GetByPhone(_ context.Context, phoneNumber string) (*model.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errStub
	}
	for _, rec := range s.recs {
		if rec.Channel == model.ChannelPhone && rec.Identifier == phoneNumber {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubStore) IncrementAttempts(_ context.Context, identifier string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIncrement {
		return 0, errStub
	}
	rec, ok := s.recs[identifier]
	if !ok {
		return 0, repository.ErrNotFound
	}
	rec.Attempts++
	return rec.Attempts, nil
}

func (s *stubStore) Delete(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete[identifier] {
		return errStub
	}
	delete(s.recs, identifier)
	return nil
}

func (s *stubStore) ScanExpired(_ context.Context, now int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failScan {
		return nil, errStub
	}
	var out []string
	for id, rec := range s.recs {
		if rec.ExpiresAt < now {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *stubStore) HealthCheck(context.Context) error { return nil }

func (s *stubStore) get(identifier string) *model.OTPRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[identifier]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (s *stubStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func (s *stubStore) seed(rec *model.OTPRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs[rec.Identifier] = &cp
}

func newService(store repository.OTPStore) *service.OTPService {
	return service.NewOTPService(store, zap.NewNop())
}

// ── Generator ─────────────────────────────────────────────────────────────

func TestGenerateRequiresAtLeastOneChannel(t *testing.T) {
	svc := newService(newStubStore())

	_, err := svc.Generate(context.Background(), &service.GenerateRequest{})
	if !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGenerateEmailRecord(t *testing.T) {
	store := newStubStore()
	svc := newService(store)

	before := time.Now().Unix()
	result, err := svc.Generate(context.Background(), &service.GenerateRequest{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Email == nil || result.Phone != nil {
		t.Fatalf("expected email-only result, got %+v", result)
	}
	if result.Email.Email != "a@x.com" {
		t.Errorf("identifier = %q, want a@x.com", result.Email.Email)
	}

	code, err := strconv.Atoi(result.Email.OTP)
	if err != nil {
		t.Fatalf("code %q is not numeric", result.Email.OTP)
	}
	if code < model.CodeMin || code > model.CodeMax {
		t.Errorf("code %d outside [%d, %d]", code, model.CodeMin, model.CodeMax)
	}

	rec := store.get("a@x.com")
	if rec == nil {
		t.Fatal("record not persisted")
	}
	if rec.Channel != model.ChannelEmail {
		t.Errorf("channel = %q, want email", rec.Channel)
	}
	if rec.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", rec.Attempts)
	}
	if rec.ExpiresAt-rec.IssuedAt != model.TTLSeconds {
		t.Errorf("ttl = %d, want %d", rec.ExpiresAt-rec.IssuedAt, model.TTLSeconds)
	}
	if rec.IssuedAt < before {
		t.Errorf("issued_at %d before test start %d", rec.IssuedAt, before)
	}
}

func TestGenerateBothChannelsAreIndependent(t *testing.T) {
	store := newStubStore()
	svc := newService(store)

	result, err := svc.Generate(context.Background(), &service.GenerateRequest{
		Email:       "a@x.com",
		PhoneNumber: "+15550001111",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Email == nil || result.Phone == nil {
		t.Fatalf("expected both channels, got %+v", result)
	}
	if store.count() != 2 {
		t.Fatalf("record count = %d, want 2", store.count())
	}

	rec, err := store.GetByPhone(context.Background(), "+15550001111")
	if err != nil {
		t.Fatalf("phone index lookup failed: %v", err)
	}
	if rec.Code != result.Phone.OTP {
		t.Errorf("indexed record code = %q, want %q", rec.Code, result.Phone.OTP)
	}
}

func TestGenerateOverwritesExistingRecord(t *testing.T) {
	store := newStubStore()
	svc := newService(store)
	ctx := context.Background()

	first, err := svc.Generate(ctx, &service.GenerateRequest{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}

	// Burn an attempt so overwrite-not-merge is observable.
	if _, err := store.IncrementAttempts(ctx, "a@x.com"); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	second, err := svc.Generate(ctx, &service.GenerateRequest{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}

	if store.count() != 1 {
		t.Fatalf("record count = %d, want 1", store.count())
	}
	rec := store.get("a@x.com")
	if rec.Code != second.Email.OTP {
		t.Errorf("live code = %q, want second generation %q", rec.Code, second.Email.OTP)
	}
	if rec.Attempts != 0 {
		t.Errorf("attempts = %d after overwrite, want 0", rec.Attempts)
	}
	// Codes are drawn independently; equal codes are possible but the first
	// one must no longer verify if they differ.
	if first.Email.OTP != second.Email.OTP {
		_, err := svc.Verify(ctx, &service.VerifyRequest{
			OTP: first.Email.OTP, Type: "email", Email: "a@x.com",
		})
		if !errors.Is(err, service.ErrOTPMismatch) {
			t.Errorf("stale code verification = %v, want ErrOTPMismatch", err)
		}
	}
}

func TestGenerateAcceptsMarkupLikeWords(t *testing.T) {
	store := newStubStore()
	svc := newService(store)

	// Addresses containing words like "descriptor" are legitimate; only markup
	// characters are rejected.
	if _, err := svc.Generate(context.Background(), &service.GenerateRequest{
		Email: "descriptor@x.com",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := svc.Generate(context.Background(), &service.GenerateRequest{
		Email: "<script>@x.com",
	})
	if !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("markup identifier accepted: %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy source failed")
}

func TestGenerateRandFailureIsNotAStoreError(t *testing.T) {
	store := newStubStore()
	svc := newService(store)

	orig := crand.Reader
	crand.Reader = failingReader{}
	defer func() { crand.Reader = orig }()

	_, err := svc.Generate(context.Background(), &service.GenerateRequest{Email: "a@x.com"})
	if err == nil {
		t.Fatal("expected an error when the entropy source fails")
	}
	if errors.Is(err, service.ErrStoreUnavailable) {
		t.Error("CSPRNG fault reported as a store outage")
	}
	if store.count() != 0 {
		t.Error("record persisted without a code")
	}
}

func TestGeneratePartialFailureSurvivesFirstChannel(t *testing.T) {
	store := newStubStore()
	store.failPutFor = "+15550001111"
	svc := newService(store)

	result, err := svc.Generate(context.Background(), &service.GenerateRequest{
		Email:       "a@x.com",
		PhoneNumber: "+15550001111",
	})
	if !errors.Is(err, service.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if result == nil || result.Email == nil {
		t.Fatal("email channel result lost on phone failure")
	}
	if result.Phone != nil {
		t.Error("phone channel reported despite write failure")
	}
	if store.get("a@x.com") == nil {
		t.Error("email record rolled back; channels must be independent")
	}
}

// ── Verifier ──────────────────────────────────────────────────────────────

func generateFor(t *testing.T, svc *service.OTPService, email string) string {
	t.Helper()
	result, err := svc.Generate(context.Background(), &service.GenerateRequest{Email: email})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return result.Email.OTP
}

func TestVerifyValidation(t *testing.T) {
	svc := newService(newStubStore())
	ctx := context.Background()

	cases := []struct {
		name string
		req  service.VerifyRequest
	}{
		{"missing otp", service.VerifyRequest{Type: "email", Email: "a@x.com"}},
		{"missing type", service.VerifyRequest{OTP: "123456", Email: "a@x.com"}},
		{"unknown type", service.VerifyRequest{OTP: "123456", Type: "carrier-pigeon", Email: "a@x.com"}},
		{"identifier mismatch", service.VerifyRequest{OTP: "123456", Type: "email", PhoneNumber: "+15550001111"}},
		{"phone without number", service.VerifyRequest{OTP: "123456", Type: "phone", Email: "a@x.com"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Verify(ctx, &tc.req); !errors.Is(err, service.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestVerifyNotFound(t *testing.T) {
	svc := newService(newStubStore())

	_, err := svc.Verify(context.Background(), &service.VerifyRequest{
		OTP: "123456", Type: "email", Email: "nobody@x.com",
	})
	if !errors.Is(err, service.ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound, got %v", err)
	}
}

func TestVerifySuccessConsumesRecord(t *testing.T) {
	store := newStubStore()
	svc := newService(store)
	ctx := context.Background()

	code := generateFor(t, svc, "a@x.com")

	result, err := svc.Verify(ctx, &service.VerifyRequest{
		OTP: code, Type: "email", Email: "a@x.com",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Type != "email" || result.Identifier != "a@x.com" {
		t.Errorf("result = %+v", result)
	}
	if store.get("a@x.com") != nil {
		t.Fatal("record still exists after successful verification")
	}

	// Exactly-once consumption: the same code cannot verify twice.
	_, err = svc.Verify(ctx, &service.VerifyRequest{
		OTP: code, Type: "email", Email: "a@x.com",
	})
	if !errors.Is(err, service.ErrOTPNotFound) {
		t.Fatalf("second verification = %v, want ErrOTPNotFound", err)
	}
}

func TestVerifyPhoneResolvesThroughIndex(t *testing.T) {
	store := newStubStore()
	svc := newService(store)
	ctx := context.Background()

	result, err := svc.Generate(ctx, &service.GenerateRequest{PhoneNumber: "+15550001111"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	got, err := svc.Verify(ctx, &service.VerifyRequest{
		OTP: result.Phone.OTP, Type: "phone", PhoneNumber: "+15550001111",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Identifier != "+15550001111" {
		t.Errorf("identifier = %q", got.Identifier)
	}
}

// The attempt ceiling is enforced on the increment that reaches it: the third
// cumulative mismatch deletes the record and reports exhaustion on that same
// call, so the fourth call reports not-found.
func TestVerifyMismatchPolicy(t *testing.T) {
	store := newStubStore()
	svc := newService(store)
	ctx := context.Background()

	code := generateFor(t, svc, "a@x.com")
	wrong := "000000"
	if wrong == code {
		wrong = "999999"
	}
	req := &service.VerifyRequest{OTP: wrong, Type: "email", Email: "a@x.com"}

	for i := 1; i <= 2; i++ {
		_, err := svc.Verify(ctx, req)
		if !errors.Is(err, service.ErrOTPMismatch) {
			t.Fatalf("mismatch %d = %v, want ErrOTPMismatch", i, err)
		}
		if got := store.get("a@x.com").Attempts; got != i {
			t.Fatalf("attempts after mismatch %d = %d", i, got)
		}
	}

	_, err := svc.Verify(ctx, req)
	if !errors.Is(err, service.ErrAttemptsExhausted) {
		t.Fatalf("third mismatch = %v, want ErrAttemptsExhausted", err)
	}
	if store.get("a@x.com") != nil {
		t.Fatal("record survives after retry budget spent")
	}

	_, err = svc.Verify(ctx, req)
	if !errors.Is(err, service.ErrOTPNotFound) {
		t.Fatalf("fourth call = %v, want ErrOTPNotFound", err)
	}
}

// A record already at the ceiling on read (raced past it by concurrent
// increments) is destroyed without comparing.
func TestVerifyExhaustedOnReadIsTerminal(t *testing.T) {
	store := newStubStore()
	svc := newService(store)
	now := time.Now().Unix()

	store.seed(&model.OTPRecord{
		Identifier: "a@x.com",
		Channel:    model.ChannelEmail,
		Code:       "123456",
		IssuedAt:   now,
		ExpiresAt:  now + model.TTLSeconds,
		Attempts:   model.MaxAttempts,
	})

	_, err := svc.Verify(context.Background(), &service.VerifyRequest{
		OTP: "123456", Type: "email", Email: "a@x.com",
	})
	if !errors.Is(err, service.ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if store.get("a@x.com") != nil {
		t.Fatal("exhausted record not deleted")
	}
}

func TestVerifyExpiredDeletesRegardlessOfAttempts(t *testing.T) {
	store := newStubStore()
	svc := newService(store)
	now := time.Now().Unix()

	store.seed(&model.OTPRecord{
		Identifier: "a@x.com",
		Channel:    model.ChannelEmail,
		Code:       "123456",
		IssuedAt:   now - model.TTLSeconds - 60,
		ExpiresAt:  now - 60,
		Attempts:   0,
	})

	// Even the correct code cannot verify after expiry.
	_, err := svc.Verify(context.Background(), &service.VerifyRequest{
		OTP: "123456", Type: "email", Email: "a@x.com",
	})
	if !errors.Is(err, service.ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
	if store.get("a@x.com") != nil {
		t.Fatal("expired record not deleted")
	}
}

func TestVerifyStoreFailureIsInternal(t *testing.T) {
	store := newStubStore()
	store.failGet = true
	svc := newService(store)

	_, err := svc.Verify(context.Background(), &service.VerifyRequest{
		OTP: "123456", Type: "email", Email: "a@x.com",
	})
	if !errors.Is(err, service.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestVerifyMismatchIncrementFailure(t *testing.T) {
	store := newStubStore()
	svc := newService(store)
	ctx := context.Background()

	code := generateFor(t, svc, "a@x.com")
	store.failIncrement = true

	wrong := "000000"
	if wrong == code {
		wrong = "999999"
	}
	_, err := svc.Verify(ctx, &service.VerifyRequest{
		OTP: wrong, Type: "email", Email: "a@x.com",
	})
	if !errors.Is(err, service.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
