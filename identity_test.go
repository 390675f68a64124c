package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Order struct{}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name     string
		id       Identity
		expected string
		err      error
	}{
		{name: "plain name", id: Name("greet"), expected: "greet"},
		{name: "empty name", id: Name(""), err: ErrInvalidIdentity},
		{name: "key with id", id: Key{Type: "Order", ID: "42"}, expected: "Order:42"},
		{name: "key without id", id: Key{Type: "Order"}, expected: "Order"},
		{name: "key without type", id: Key{ID: "42"}, err: ErrInvalidIdentity},
		{name: "typed key", id: For[Order]("7"), expected: "Order:7"},
		{name: "unnamed type", id: For[[]int]("7"), err: ErrInvalidIdentity},
		{name: "nil identity", id: nil, err: ErrInvalidIdentity},
		{name: "nil channel", id: (*Channel)(nil), err: ErrInvalidIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveName(tt.id)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "Order:1", For[Order]("1").String())
	assert.Equal(t, "", Key{}.String())
}
