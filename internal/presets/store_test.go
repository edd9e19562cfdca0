package presets

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCreateGetUpdateDelete(t *testing.T) {
	s := NewStore(NewInMemoryKV())
	ctx := context.Background()

	created, err := s.Create(ctx, Preset{Name: "conservative", Filters: json.RawMessage(`{"delta":{"min":0.15,"max":0.3}}`)})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "conservative", got.Name)

	updated, err := s.Update(ctx, created.ID, Preset{Name: "conservative-v2", Filters: created.Filters})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "conservative-v2", updated.Name)

	require.NoError(t, s.Delete(ctx, created.ID))
	_, err = s.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListReturnsAll(t *testing.T) {
	s := NewStore(NewInMemoryKV())
	ctx := context.Background()
	_, _ = s.Create(ctx, Preset{Name: "a"})
	_, _ = s.Create(ctx, Preset{Name: "b"})

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateUnknownIDFails(t *testing.T) {
	s := NewStore(NewInMemoryKV())
	_, err := s.Update(context.Background(), "missing", Preset{Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaticBearerAuth(t *testing.T) {
	a := NewStaticBearerAuth("good-token")
	assert.True(t, a.Authenticate(context.Background(), "good-token"))
	assert.False(t, a.Authenticate(context.Background(), "bad-token"))
}
