package identifier

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
)

func TestAssignAndResolve(t *testing.T) {
	x := New()

	id, err := x.Assign("note")
	require.NoError(t, err)
	assert.True(t, x.Exists(id))

	loc, err := x.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, models.Location{Type: "note", Seq: 1}, loc)
}

func TestResolveUnknown(t *testing.T) {
	x := New()
	_, err := x.Resolve(models.MustParseRecordID("3b241101-e2bb-4255-8caf-4136c566a962"))
	require.ErrorIs(t, err, constants.ErrNotFound)
}

func TestAssignRetriesOnDuplicate(t *testing.T) {
	x := New()
	taken := models.MustParseRecordID("3b241101-e2bb-4255-8caf-4136c566a962")
	fresh := models.MustParseRecordID("9f1c2d8a-5a4b-4c3d-8e2f-1a2b3c4d5e6f")
	require.NoError(t, x.Register(taken, "note"))

	calls := 0
	x.generate = func() (models.RecordID, error) {
		calls++
		if calls < 3 {
			return taken, nil
		}
		return fresh, nil
	}

	id, err := x.Assign("note")
	require.NoError(t, err)
	assert.Equal(t, fresh, id)
	assert.Equal(t, 3, calls)
}

func TestAssignGivesUpAfterRepeatedDuplicates(t *testing.T) {
	x := New()
	taken := models.MustParseRecordID("3b241101-e2bb-4255-8caf-4136c566a962")
	require.NoError(t, x.Register(taken, "note"))
	x.generate = func() (models.RecordID, error) { return taken, nil }

	_, err := x.Assign("note")
	require.ErrorIs(t, err, constants.ErrConflict)
	assert.Equal(t, 1, x.Len())
}

func TestRegister(t *testing.T) {
	x := New()
	id := models.MustParseRecordID("3b241101-e2bb-4255-8caf-4136c566a962")

	require.NoError(t, x.Register(id, "note"))
	require.NoError(t, x.Register(id, "note"))
	require.ErrorIs(t, x.Register(id, "page"), constants.ErrConflict)
	require.ErrorIs(t, x.Register(models.RecordID{}, "note"), constants.ErrInvariantViolation)
	assert.Equal(t, 1, x.Len())
}

func TestAdoptAndForget(t *testing.T) {
	x := New()
	id := models.MustParseRecordID("3b241101-e2bb-4255-8caf-4136c566a962")

	added, err := x.Adopt(id, "note")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = x.Adopt(id, "note")
	require.NoError(t, err)
	assert.False(t, added)

	x.Forget(id)
	assert.False(t, x.Exists(id))
	assert.Equal(t, 0, x.Len())
	_, err = x.Resolve(id)
	require.ErrorIs(t, err, constants.ErrNotFound)

	x.Forget(id)
	added, err = x.Adopt(id, "page")
	require.NoError(t, err)
	assert.True(t, added, "a forgotten id can be taken with another type")
}

func TestConcurrentAssignNeverCollides(t *testing.T) {
	x := New()

	const n = 200
	ids := make([]models.RecordID, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := x.Assign("note")
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	seen := make(map[models.RecordID]struct{}, n)
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, x.Len())
}
