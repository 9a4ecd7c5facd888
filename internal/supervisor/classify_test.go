package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Iron-Ham/selfvisor/internal/credential"
)

func TestClassify(t *testing.T) {
	withCode := func(r *credential.Record) {
		r.SetCode("12345")
		hash := "hash"
		r.PhoneCodeHash = &hash
	}

	tests := []struct {
		name   string
		mutate func(*credential.Record)
		want   ExitClass
	}{
		{
			name:   "fresh record awaits code",
			mutate: func(*credential.Record) {},
			want:   ExitAwaitingCode,
		},
		{
			name: "code without hash awaits code",
			mutate: func(r *credential.Record) {
				r.SetCode("12345")
			},
			want: ExitAwaitingCode,
		},
		{
			name: "hash without code awaits code",
			mutate: func(r *credential.Record) {
				hash := "hash"
				r.PhoneCodeHash = &hash
			},
			want: ExitAwaitingCode,
		},
		{
			name:   "code and hash without status is unclassified",
			mutate: withCode,
			want:   ExitUnclassified,
		},
		{
			name: "authorized status wins over missing code",
			mutate: func(r *credential.Record) {
				r.LoginStatus = credential.StatusAuthorized
			},
			want: ExitAuthorized,
		},
		{
			name: "invalid code",
			mutate: func(r *credential.Record) {
				withCode(r)
				r.LoginStatus = credential.StatusCodeInvalid
			},
			want: ExitCodeRejected,
		},
		{
			name: "expired code",
			mutate: func(r *credential.Record) {
				withCode(r)
				r.LoginStatus = credential.StatusCodeExpired
			},
			want: ExitCodeRejected,
		},
		{
			name: "code sent",
			mutate: func(r *credential.Record) {
				withCode(r)
				r.LoginStatus = credential.StatusCodeSent
			},
			want: ExitAwaitingCode,
		},
		{
			name: "password status without password",
			mutate: func(r *credential.Record) {
				withCode(r)
				r.LoginStatus = credential.StatusPasswordNeeded
			},
			want: ExitPasswordRequired,
		},
		{
			name: "password status after a rejected password",
			mutate: func(r *credential.Record) {
				withCode(r)
				r.NeedsPassword = true
				r.SetPassword("wrong")
				r.LoginStatus = credential.StatusPasswordNeeded
			},
			want: ExitPasswordRequired,
		},
		{
			name: "needs password flag without password",
			mutate: func(r *credential.Record) {
				withCode(r)
				r.NeedsPassword = true
			},
			want: ExitPasswordRequired,
		},
		{
			name: "needs password flag with password",
			mutate: func(r *credential.Record) {
				withCode(r)
				r.NeedsPassword = true
				r.SetPassword("hunter2")
			},
			want: ExitUnclassified,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := credential.NewRecord(42, 1, "hash", "+1555")
			tc.mutate(rec)
			assert.Equal(t, tc.want, Classify(rec))
		})
	}
}
