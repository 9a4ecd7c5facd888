package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/selfvisor/internal/errors"
)

// CurrentSchemaVersion is the record layout written by this package.
// Files without a schema_version predate versioning and are read as version 1.
const CurrentSchemaVersion = 1

// LoginStatus is the terminal handshake status a worker may record before exiting.
type LoginStatus string

const (
	// StatusNone means the worker did not record a status.
	StatusNone LoginStatus = ""
	// StatusCodeSent means the platform sent a fresh code; the stored one is unusable.
	StatusCodeSent LoginStatus = "code_sent"
	// StatusCodeInvalid means the submitted code was wrong.
	StatusCodeInvalid LoginStatus = "code_invalid"
	// StatusCodeExpired means the submitted code expired before use.
	StatusCodeExpired LoginStatus = "code_expired"
	// StatusPasswordNeeded means the account requires its second-factor password.
	StatusPasswordNeeded LoginStatus = "password_needed"
	// StatusAuthorized means the worker completed the login.
	StatusAuthorized LoginStatus = "authorized"
)

// Valid reports whether s is a known status.
func (s LoginStatus) Valid() bool {
	switch s {
	case StatusNone, StatusCodeSent, StatusCodeInvalid, StatusCodeExpired, StatusPasswordNeeded, StatusAuthorized:
		return true
	}
	return false
}

// Record is the credential file shared with a user's worker.
type Record struct {
	APIID         int64       `json:"api_id" yaml:"api_id"`
	APIHash       string      `json:"api_hash" yaml:"api_hash"`
	SessionName   string      `json:"session_name" yaml:"session_name"`
	OwnerID       int64       `json:"owner_id" yaml:"owner_id"`
	Phone         string      `json:"phone" yaml:"phone"`
	Code          *string     `json:"code" yaml:"code"`
	PhoneCodeHash *string     `json:"phone_code_hash" yaml:"phone_code_hash"`
	NeedsPassword bool        `json:"needs_password" yaml:"needs_password"`
	Password      *string     `json:"password" yaml:"password"`
	LoginStatus   LoginStatus `json:"login_status,omitempty" yaml:"login_status,omitempty"`
	SchemaVersion int         `json:"schema_version" yaml:"schema_version"`
}

// SessionLabel returns the worker session name for a user.
func SessionLabel(userID int64) string {
	return fmt.Sprintf("selfbot_%d", userID)
}

// NewRecord builds the initial record for a user who completed the contact step.
func NewRecord(userID, apiID int64, apiHash, phone string) *Record {
	return &Record{
		APIID:         apiID,
		APIHash:       apiHash,
		SessionName:   SessionLabel(userID),
		OwnerID:       userID,
		Phone:         phone,
		SchemaVersion: CurrentSchemaVersion,
	}
}

// HasCode reports whether a non-empty code is stored.
func (r *Record) HasCode() bool {
	return r.Code != nil && *r.Code != ""
}

// HasPhoneCodeHash reports whether the worker stored a code correlation token.
func (r *Record) HasPhoneCodeHash() bool {
	return r.PhoneCodeHash != nil && *r.PhoneCodeHash != ""
}

// HasPassword reports whether a non-empty password is stored.
func (r *Record) HasPassword() bool {
	return r.Password != nil && *r.Password != ""
}

// WantsPassword reports whether the worker asked for a password that has not
// been supplied yet.
func (r *Record) WantsPassword() bool {
	if r.HasPassword() {
		return false
	}
	return r.NeedsPassword || r.LoginStatus == StatusPasswordNeeded
}

// SetCode stores a one-time code, replacing any earlier one.
func (r *Record) SetCode(code string) {
	r.Code = &code
}

// SetPassword stores the second-factor password, replacing any earlier one.
func (r *Record) SetPassword(password string) {
	r.Password = &password
}

// ResetHandshake clears everything the previous login attempt left behind so
// the next worker run starts by requesting a fresh code.
func (r *Record) ResetHandshake() {
	r.Code = nil
	r.PhoneCodeHash = nil
	r.NeedsPassword = false
	r.Password = nil
	r.LoginStatus = StatusNone
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Code = cloneString(r.Code)
	c.PhoneCodeHash = cloneString(r.PhoneCodeHash)
	c.Password = cloneString(r.Password)
	return &c
}

// Redacted returns a copy safe for display: secrets are masked but their
// presence stays visible.
func (r *Record) Redacted() *Record {
	c := r.Clone()
	c.APIHash = mask(c.APIHash)
	if c.Code != nil {
		c.Code = maskPtr(*c.Code)
	}
	if c.PhoneCodeHash != nil {
		c.PhoneCodeHash = maskPtr(*c.PhoneCodeHash)
	}
	if c.Password != nil {
		c.Password = maskPtr(*c.Password)
	}
	return c
}

// Validate checks the record against the user id it is stored under.
func (r *Record) Validate(userID int64) error {
	if r.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("%w: unsupported schema_version %d", errors.ErrSchema, r.SchemaVersion)
	}
	if r.OwnerID != userID {
		return fmt.Errorf("%w: owner_id %d does not match user %d", errors.ErrSchema, r.OwnerID, userID)
	}
	if r.APIID <= 0 {
		return fmt.Errorf("%w: api_id must be positive", errors.ErrSchema)
	}
	if strings.TrimSpace(r.APIHash) == "" {
		return fmt.Errorf("%w: api_hash is empty", errors.ErrSchema)
	}
	if !r.LoginStatus.Valid() {
		return fmt.Errorf("%w: unknown login_status %q", errors.ErrSchema, r.LoginStatus)
	}
	return nil
}

// Decode parses and validates a credential file stored under userID.
// Unknown fields and newer schema versions are rejected with ErrSchema.
func Decode(data []byte, userID int64) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrSchema, err)
	}

	migrate(&r, userID)

	if err := r.Validate(userID); err != nil {
		return nil, err
	}
	return &r, nil
}

// Encode renders the record in the on-disk format: two-space indented JSON
// with a trailing newline.
func Encode(r *Record) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal credential record: %w", err)
	}
	return append(data, '\n'), nil
}

// migrate upgrades legacy files in place. Version 0 files were written
// without schema_version and sometimes without session_name.
func migrate(r *Record, userID int64) {
	if r.SchemaVersion != 0 {
		return
	}
	r.SchemaVersion = CurrentSchemaVersion
	if r.SessionName == "" {
		r.SessionName = SessionLabel(userID)
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func maskPtr(s string) *string {
	m := mask(s)
	return &m
}
