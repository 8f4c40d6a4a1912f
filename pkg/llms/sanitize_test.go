package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMessages(t *testing.T) {
	tests := []struct {
		name    string
		in      []Message
		want    []Message
		wantErr bool
	}{
		{
			name: "unknown role coerced to user",
			in:   []Message{{Role: "tool", Content: "result"}},
			want: []Message{{Role: "user", Content: "result"}},
		},
		{
			name: "empty non-system dropped",
			in: []Message{
				{Role: "assistant", Content: "   "},
				{Role: "user", Content: "hi"},
			},
			want: []Message{{Role: "user", Content: "hi"}},
		},
		{
			name: "empty system kept",
			in: []Message{
				{Role: "system", Content: ""},
				{Role: "user", Content: "hi"},
			},
			want: []Message{{Role: "system", Content: ""}, {Role: "user", Content: "hi"}},
		},
		{
			name:    "no user message rejected",
			in:      []Message{{Role: "system", Content: "be nice"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeMessages(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParams_Clamp(t *testing.T) {
	p := Params{Temperature: 5, TopP: 1.7, MaxTokens: 100000}.Clamp()
	assert.Equal(t, 2.0, p.Temperature)
	assert.Equal(t, 1.0, p.TopP)
	assert.Equal(t, 32768, p.MaxTokens)

	p = Params{Temperature: -1, TopP: -0.2, MaxTokens: -5}.Clamp()
	assert.Equal(t, 0.0, p.Temperature)
	assert.Equal(t, 0.0, p.TopP)
	assert.Equal(t, 1, p.MaxTokens)

	// Zero max_tokens means backend default, left alone.
	p = Params{}.Clamp()
	assert.Equal(t, 0, p.MaxTokens)
}
