package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmspellbook/spellbook/pkg/catalogue"
	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "actors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCatalogueRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	c := catalogue.New(nil)
	require.NoError(t, c.Grant("give_velocity",
		[]catalogue.Restriction{catalogue.Between(0, 1)},
		[]catalogue.Restriction{catalogue.AnyValue()},
		[]catalogue.Restriction{catalogue.ExactValue(0), catalogue.ExactValue(2)}))
	require.NoError(t, c.Grant("perish"))
	require.NoError(t, s.SaveCatalogue(ctx, "mage-1", c))

	got, err := s.LoadCatalogue(ctx, "mage-1", nil)
	require.NoError(t, err)
	assert.Equal(t, c.Operations(), got.Operations())

	e, ok := got.Lookup("give_velocity")
	require.True(t, ok)
	assert.Equal(t, "0..1", catalogue.FormatSet(e.Params[0]))
	assert.Equal(t, "0|2", catalogue.FormatSet(e.Params[2]))

	// saving again replaces
	c.Revoke("perish")
	require.NoError(t, s.SaveCatalogue(ctx, "mage-1", c))
	got, err = s.LoadCatalogue(ctx, "mage-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestLoadCatalogueErrors(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, err := s.LoadCatalogue(ctx, "nobody", nil)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, s.SaveCatalogue(ctx, "mage-1", catalogue.New(nil)))
	specs := opcode.DefaultSpecs()
	specs[0].Cost = 99
	_, err = s.LoadCatalogue(ctx, "mage-1", opcode.MustTable(specs))
	assert.True(t, types.IsKind(err, types.ErrDecode), "got %v", err)
}

func TestApplyDeltasUpserts(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.ApplyDeltas(ctx, "mage-1", efficiency.Deltas{"anchor": 0.25, "perish": 0.5}))
	require.NoError(t, s.ApplyDeltas(ctx, "mage-1", efficiency.Deltas{"anchor": 0.25}))
	require.NoError(t, s.ApplyDeltas(ctx, "mage-2", efficiency.Deltas{"anchor": 1}))
	require.NoError(t, s.ApplyDeltas(ctx, "mage-2", nil))

	t1, err := s.Efficiency(ctx, "mage-1")
	require.NoError(t, err)
	assert.Equal(t, efficiency.Table{"anchor": 1.5, "perish": 1.5}, t1)

	t2, err := s.Efficiency(ctx, "mage-2")
	require.NoError(t, err)
	assert.Equal(t, 2.0, t2.Level("anchor"))
	assert.Equal(t, efficiency.DefaultLevel, t2.Level("perish"))

	// same result as applying in memory
	mem := efficiency.Table{}
	mem.Apply(efficiency.Deltas{"anchor": 0.25, "perish": 0.5})
	mem.Apply(efficiency.Deltas{"anchor": 0.25})
	assert.Equal(t, mem, t1)
}

func TestSetLevelAndForget(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.SetLevel(ctx, "b", "take_form", 3))
	require.NoError(t, s.SetLevel(ctx, "b", "take_form", 4))
	require.NoError(t, s.SaveCatalogue(ctx, "a", catalogue.New(nil)))

	actors, err := s.Actors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, actors)

	tb, err := s.Efficiency(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, efficiency.Table{"take_form": 4}, tb)

	require.NoError(t, s.Forget(ctx, "b"))
	actors, err = s.Actors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, actors)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "actors.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.ApplyDeltas(ctx, "mage", efficiency.Deltas{"anchor": 1}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	tb, err := s.Efficiency(ctx, "mage")
	require.NoError(t, err)
	assert.Equal(t, 2.0, tb["anchor"])

	_, err = Open("")
	assert.Error(t, err)
}

func TestContextCancelled(t *testing.T) {
	s := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.ApplyDeltas(ctx, "mage", efficiency.Deltas{"anchor": 1}))
}
