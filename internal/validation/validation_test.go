package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

type sample struct {
	Name  string `json:"username" validate:"required,min=3"`
	Email string `json:"email" validate:"omitempty,email"`
	Kind  string `json:"kind" validate:"omitempty,oneof=a b"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct("op", sample{Name: "alice"}))

	err := Struct("register", sample{Name: "al"})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, "username must be at least 3 characters", domain.MessageOf(err))

	err = Struct("register", sample{Name: "alice", Email: "nope"})
	assert.Equal(t, "email must be a valid email address", domain.MessageOf(err))

	err = Struct("register", sample{Name: "alice", Kind: "c"})
	assert.Equal(t, "kind must be one of: a, b", domain.MessageOf(err))
}
