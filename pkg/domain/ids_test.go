package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycflow/pkg/domain-errors"
)

func TestParseIDs(t *testing.T) {
	valid := "550e8400-e29b-41d4-a716-446655440000"
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"canonical", valid, true},
		{"upper case", strings.ToUpper(valid), true},
		{"empty", "", false},
		{"blank", "   ", false},
		{"nil uuid", uuid.Nil.String(), false},
		{"garbage", "not-a-uuid", false},
		{"sql in path", "'; DROP TABLE kyc_sessions;--", false},
		{"embedded nul", "550e8400\x00-e29b-41d4-a716-446655440000", false},
		{"oversized", strings.Repeat("f", 512), false},
	}

	parsers := map[string]func(string) (string, error){
		"user": func(s string) (string, error) {
			id, err := ParseUserID(s)
			return id.String(), err
		},
		"session": func(s string) (string, error) {
			id, err := ParseSessionID(s)
			return id.String(), err
		},
	}

	for kind, parse := range parsers {
		for _, tt := range tests {
			t.Run(kind+"/"+tt.name, func(t *testing.T) {
				got, err := parse(tt.input)
				if !tt.ok {
					require.Error(t, err)
					assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
					return
				}
				require.NoError(t, err)
				assert.Equal(t, valid, got, "ids print in canonical form")
			})
		}
	}
}

func TestIDsInJSON(t *testing.T) {
	type record struct {
		User    UserID    `json:"user_id"`
		Session SessionID `json:"session_id"`
	}
	in := record{User: UserID(uuid.New()), Session: NewSessionID()}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"`+in.User.String()+`","session_id":"`+in.Session.String()+`"}`, string(raw))

	var out record
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"user_id":"nope"}`), &out))
	assert.True(t, UserID{}.IsNil())
	assert.False(t, out.Session.IsNil())
}

// FuzzParseSessionID checks parsing never panics and that accepted ids are
// non-nil and stable under reprinting.
func FuzzParseSessionID(f *testing.F) {
	for _, seed := range []string{"", "550e8400-e29b-41d4-a716-446655440000", uuid.Nil.String(), "{550e8400-e29b-41d4-a716-446655440000}"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseSessionID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Fatal("nil session id accepted")
		}
		again, err := ParseSessionID(id.String())
		if err != nil || again != id {
			t.Fatalf("reparse of %q changed the id: %v", id, err)
		}
	})
}
