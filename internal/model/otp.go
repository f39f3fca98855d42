package model

// Channel identifies which verification flow owns an OTP record.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// Valid reports whether the channel is one of the supported flows.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPhone
}

// OTP lifecycle constants. These are fixed properties of the code space and
// validity window, not deployment configuration.
const (
	CodeMin = 100000
	CodeMax = 999999

	// TTLSeconds is the validity window from issuance, in epoch seconds.
	TTLSeconds int64 = 900

	// MaxAttempts is the failed-comparison ceiling before a record is destroyed.
	MaxAttempts = 3
)

// OTPRecord is one pending passcode. At most one live record exists per
// identifier; generation overwrites outright. The identifier is the email
// address for email records and the phone number itself for phone records,
// so the table keeps a single primary key while phone lookups go through a
// secondary index on the phone attribute.
type OTPRecord struct {
	Identifier string  `json:"identifier" db:"identifier"`
	Channel    Channel `json:"channel" db:"channel"`
	Code       string  `json:"code" db:"code"`
	IssuedAt   int64   `json:"issued_at" db:"issued_at"`
	ExpiresAt  int64   `json:"expires_at" db:"expires_at"`
	Attempts   int     `json:"attempts" db:"attempts"`
}

// PhoneNumber returns the indexed phone attribute: the identifier for phone
// records, empty for email records.
func (r *OTPRecord) PhoneNumber() string {
	if r.Channel == ChannelPhone {
		return r.Identifier
	}
	return ""
}

// Expired reports whether the validity window has passed at the given time.
func (r *OTPRecord) Expired(now int64) bool {
	return now > r.ExpiresAt
}

// Exhausted reports whether the retry budget is already spent.
func (r *OTPRecord) Exhausted() bool {
	return r.Attempts >= MaxAttempts
}
