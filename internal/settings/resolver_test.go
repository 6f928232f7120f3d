package settings

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsim/regsim/internal/hospital"
)

func str(s string) *string { return &s }

// newHierarchyFixture builds a three-tier facility chain with a department at
// the bottom and one system default:
//
//	FAC-NORTH (visitationHours 24/7)
//	  SA-CHILDREN (visitationHours 8a - 8p)
//	    RL-MAIN-PAV (visitationHours 9a - 9p, defaultPrinter PAV-01)
//	      DEP-3W-PED (no visitationHours)
func newHierarchyFixture(t *testing.T) hospital.Repository {
	t.Helper()
	repo := hospital.NewMemoryRepository()
	ctx := context.Background()

	facilities := []hospital.Facility{
		{EafID: "FAC-NORTH", Name: "Health System North", Kind: hospital.KindFacility,
			Settings: hospital.Settings{"visitationHours": "24/7"}},
		{EafID: "SA-CHILDREN", Name: "Cook Children's", ParentID: str("FAC-NORTH"), Kind: hospital.KindServiceArea,
			Settings: hospital.Settings{"visitationHours": "8a - 8p"}},
		{EafID: "RL-MAIN-PAV", Name: "Main Campus Pavilion", ParentID: str("SA-CHILDREN"), Kind: hospital.KindRevenueLocation,
			Settings: hospital.Settings{"visitationHours": "9a - 9p", "defaultPrinter": "PAV-01"}},
	}
	for i := range facilities {
		require.NoError(t, repo.CreateFacility(ctx, &facilities[i]))
	}

	require.NoError(t, repo.CreateDepartment(ctx, &hospital.Department{
		DepID:      "DEP-3W-PED",
		Name:       "3 West Pediatrics",
		FacilityID: str("RL-MAIN-PAV"),
		Settings:   hospital.Settings{"badgeAccess": "Peds Nurse"},
	}))

	require.NoError(t, repo.UpsertSystemDefault(ctx, &hospital.SystemDefault{
		Key: "pediatricAgeThreshold", Value: 18, Description: "Age threshold for pediatric constraints",
	}))

	return repo
}

func TestResolveBubblesUpToNearestAncestor(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())

	res, err := r.Resolve(context.Background(), "DEP-3W-PED", "visitationHours")
	require.NoError(t, err)

	assert.Equal(t, "9a - 9p", res.Value)
	assert.Equal(t, "FACILITY_REVENUELOCATION", res.Source)
	assert.Equal(t, "RL-MAIN-PAV", res.LevelID)
	assert.Equal(t, "Main Campus Pavilion", res.LevelName)
	assert.False(t, res.ExplicitlyBlanked)
}

func TestResolveDepartmentOverrideWins(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())

	res, err := r.Resolve(context.Background(), "DEP-3W-PED", "badgeAccess")
	require.NoError(t, err)

	assert.Equal(t, "Peds Nurse", res.Value)
	assert.Equal(t, SourceDepartment, res.Source)
	assert.Equal(t, "DEP-3W-PED", res.LevelID)
}

func TestResolveExplicitNullFallsThrough(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, r.SetDepartmentSetting(ctx, "DEP-3W-PED", "visitationHours", nil, "tester"))

	res, err := r.Resolve(ctx, "DEP-3W-PED", "visitationHours")
	require.NoError(t, err)

	assert.Equal(t, "9a - 9p", res.Value)
	assert.Equal(t, "FACILITY_REVENUELOCATION", res.Source)
	assert.True(t, res.ExplicitlyBlanked)
}

func TestResolveFacilityTierBlankIsSignalled(t *testing.T) {
	repo := hospital.NewMemoryRepository()
	ctx := context.Background()

	// Revenue location holds an explicit null; the service area above wins.
	require.NoError(t, repo.CreateFacility(ctx, &hospital.Facility{
		EafID: "SA-1", Name: "Service Area", Kind: hospital.KindServiceArea,
		Settings: hospital.Settings{"visitationHours": "8a - 8p"},
	}))
	require.NoError(t, repo.CreateFacility(ctx, &hospital.Facility{
		EafID: "RL-1", Name: "Revenue Location", ParentID: str("SA-1"),
		Kind:     hospital.KindRevenueLocation,
		Settings: hospital.Settings{"visitationHours": nil},
	}))
	require.NoError(t, repo.CreateDepartment(ctx, &hospital.Department{
		DepID: "DEP-1", Name: "Dept", FacilityID: str("RL-1"),
	}))
	r := NewResolver(repo, zerolog.Nop())

	res, err := r.Resolve(ctx, "DEP-1", "visitationHours")
	require.NoError(t, err)

	assert.Equal(t, "8a - 8p", res.Value)
	assert.Equal(t, "FACILITY_SERVICEAREA", res.Source)
	assert.True(t, res.ExplicitlyBlanked)
}

func TestResolveSystemDefault(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())

	res, err := r.Resolve(context.Background(), "DEP-3W-PED", "pediatricAgeThreshold")
	require.NoError(t, err)

	assert.Equal(t, 18, res.Value)
	assert.Equal(t, SourceSystemDefault, res.Source)
	assert.Equal(t, "Age threshold for pediatric constraints", res.Description)
}

func TestResolveNotConfigured(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())

	res, err := r.Resolve(context.Background(), "DEP-3W-PED", "doesNotExist")
	require.NoError(t, err)

	assert.Equal(t, SourceNotConfigured, res.Source)
	assert.Nil(t, res.Value)
	assert.NotEmpty(t, res.Message)
}

func TestResolveUnknownDepartmentIsData(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())

	res, err := r.Resolve(context.Background(), "DEP-NOPE", "visitationHours")
	require.NoError(t, err)

	assert.Equal(t, SourceNotFound, res.Source)
}

func TestResolveDanglingFacilityReference(t *testing.T) {
	repo := hospital.NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateDepartment(ctx, &hospital.Department{
		DepID:      "DEP-ORPHAN",
		Name:       "Orphan",
		FacilityID: str("EAF-GONE"),
	}))
	require.NoError(t, repo.UpsertSystemDefault(ctx, &hospital.SystemDefault{
		Key: "visitationHours", Value: "24/7",
	}))
	r := NewResolver(repo, zerolog.Nop())

	res, err := r.Resolve(ctx, "DEP-ORPHAN", "visitationHours")
	require.NoError(t, err)

	assert.Equal(t, SourceSystemDefault, res.Source)
	assert.Equal(t, "24/7", res.Value)
}

func TestDepartmentSettingsBatch(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())

	out, err := r.DepartmentSettings(context.Background(), "DEP-3W-PED")
	require.NoError(t, err)

	assert.Equal(t, "DEP-3W-PED", out.Department.DepID)
	require.Contains(t, out.Settings, "badgeAccess")
	require.Contains(t, out.Settings, "pediatricAgeThreshold")
	assert.Equal(t, SourceDepartment, out.Settings["badgeAccess"].Source)
	assert.Equal(t, SourceSystemDefault, out.Settings["pediatricAgeThreshold"].Source)
}

func TestDepartmentSettingsUnknownDepartment(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())

	_, err := r.DepartmentSettings(context.Background(), "DEP-NOPE")
	assert.ErrorIs(t, err, hospital.ErrDepartmentNotFound)
}

func TestHierarchyListsFullChain(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())

	levels, err := r.Hierarchy(context.Background(), "DEP-3W-PED")
	require.NoError(t, err)

	// Department, three facility tiers, then system defaults.
	require.Len(t, levels, 5)
	assert.Equal(t, "Department", levels[0].Level)
	assert.Equal(t, "RevenueLocation", levels[1].Level)
	assert.Equal(t, "ServiceArea", levels[2].Level)
	assert.Equal(t, "Facility", levels[3].Level)
	assert.Equal(t, "System Defaults", levels[4].Level)
	assert.Contains(t, levels[4].Settings, "pediatricAgeThreshold")
}

func TestSetDepartmentSettingWritesAndAudits(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, r.SetDepartmentSetting(ctx, "DEP-3W-PED", "visitationHours", "10a - 6p", "nurse-1"))

	res, err := r.Resolve(ctx, "DEP-3W-PED", "visitationHours")
	require.NoError(t, err)
	assert.Equal(t, "10a - 6p", res.Value)
	assert.Equal(t, SourceDepartment, res.Source)

	entries, err := repo.ListAuditsByAction(ctx, hospital.ActionSettingUpdate, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "nurse-1", entries[0].UserID)
	assert.Equal(t, "DEP-3W-PED", entries[0].RecordID)
	assert.Equal(t, "visitationHours", entries[0].Changes["settingKey"])
}

func TestSetFacilitySettingChangesBubbleUp(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, r.SetFacilitySetting(ctx, "SA-CHILDREN", "defaultPrinter", "SA-PRINT-9", ""))

	// RL-MAIN-PAV still shadows the service area for this key.
	res, err := r.Resolve(ctx, "DEP-3W-PED", "defaultPrinter")
	require.NoError(t, err)
	assert.Equal(t, "PAV-01", res.Value)

	// Blank the revenue location tier and the service area value surfaces.
	require.NoError(t, r.SetFacilitySetting(ctx, "RL-MAIN-PAV", "defaultPrinter", nil, ""))
	res, err = r.Resolve(ctx, "DEP-3W-PED", "defaultPrinter")
	require.NoError(t, err)
	assert.Equal(t, "SA-PRINT-9", res.Value)
	assert.Equal(t, "FACILITY_SERVICEAREA", res.Source)
	assert.True(t, res.ExplicitlyBlanked)
}

func TestSetSettingUnknownTargets(t *testing.T) {
	repo := newHierarchyFixture(t)
	r := NewResolver(repo, zerolog.Nop())
	ctx := context.Background()

	assert.ErrorIs(t, r.SetDepartmentSetting(ctx, "DEP-NOPE", "k", "v", ""), hospital.ErrDepartmentNotFound)
	assert.ErrorIs(t, r.SetFacilitySetting(ctx, "EAF-NOPE", "k", "v", ""), hospital.ErrFacilityNotFound)
}

func TestFacilitySource(t *testing.T) {
	assert.Equal(t, "FACILITY_FACILITY", FacilitySource(hospital.KindFacility))
	assert.Equal(t, "FACILITY_SERVICEAREA", FacilitySource(hospital.KindServiceArea))
	assert.Equal(t, "FACILITY_REVENUELOCATION", FacilitySource(hospital.KindRevenueLocation))
}
