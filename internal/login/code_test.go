package login

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/selfvisor/internal/errors"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "12345", want: "12345"},
		{name: "dotted", input: "1.2.3.4.5", want: "12345"},
		{name: "dashed", input: "12-345", want: "12345"},
		{name: "spaced", input: " 1 2 3\t4 5\n", want: "12345"},
		{name: "mixed separators", input: "1.2-3 4.5", want: "12345"},
		{name: "letters", input: "abcde", wantErr: true},
		{name: "too short", input: "1234", wantErr: true},
		{name: "too long", input: "123456", wantErr: true},
		{name: "digit with letter", input: "1234a", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "separators only", input: ". - .", wantErr: true},
		{name: "non-ascii digits", input: "١٢٣٤٥", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeCode(tc.input, DefaultCodeLength)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeCode_Length(t *testing.T) {
	got, err := NormalizeCode("1.2.3.4.5.6", 6)
	require.NoError(t, err)
	assert.Equal(t, "123456", got)

	_, err = NormalizeCode("12345", 6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 6 digits")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting_contact", AwaitingContact.String())
	assert.Equal(t, "awaiting_code", AwaitingCode.String())
	assert.Equal(t, "awaiting_password", AwaitingPassword.String())
	assert.Equal(t, "unknown", State(99).String())
}
