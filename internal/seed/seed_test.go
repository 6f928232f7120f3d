package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsim/regsim/internal/hospital"
)

func TestInitializeSystem(t *testing.T) {
	repo := hospital.NewMemoryRepository()
	ctx := context.Background()

	result, err := InitializeSystem(ctx, repo)
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, 3, result.Facilities)
	assert.Equal(t, 3, result.Departments)
	assert.Equal(t, 4, result.Rooms)
	assert.Equal(t, 6, result.Beds)
	assert.Equal(t, 5, result.SystemDefaults)

	// The pediatrics department deliberately has no visitationHours so the
	// bubble-up path is exercised out of the box.
	dept, err := repo.GetDepartment(ctx, "DEP-3W-PED")
	require.NoError(t, err)
	_, present := dept.Settings["visitationHours"]
	assert.False(t, present)

	entry, err := repo.LatestAuditByAction(ctx, hospital.ActionSystemInitialized)
	require.NoError(t, err)
	assert.Equal(t, "SYSTEM", entry.UserID)
}

func TestInitializeSystemIsIdempotent(t *testing.T) {
	repo := hospital.NewMemoryRepository()
	ctx := context.Background()

	_, err := InitializeSystem(ctx, repo)
	require.NoError(t, err)

	second, err := InitializeSystem(ctx, repo)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, 0, second.Facilities)
}
