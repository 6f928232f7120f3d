// Package seed creates the static records the simulator needs: the facility
// chain, departments, rooms, beds and system defaults.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medsim/regsim/internal/hospital"
)

type Result struct {
	Facilities     int  `json:"facilities"`
	Departments    int  `json:"departments"`
	Rooms          int  `json:"rooms"`
	Beds           int  `json:"beds"`
	SystemDefaults int  `json:"systemDefaults"`
	Skipped        bool `json:"skipped"`
}

// InitializeSystem seeds the static data set. Idempotent: a no-op when any
// facility already exists.
func InitializeSystem(ctx context.Context, repo hospital.Repository) (*Result, error) {
	initialized, err := repo.HasFacilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("check initialization: %w", err)
	}
	if initialized {
		return &Result{Skipped: true}, nil
	}

	result := &Result{}
	str := func(s string) *string { return &s }

	// Facility chain: Facility -> ServiceArea -> RevenueLocation.
	facilities := []hospital.Facility{
		{
			EafID: "FAC-NORTH",
			Name:  "Health System North",
			Kind:  hospital.KindFacility,
			Settings: hospital.Settings{
				"visitationHours": "24/7",
				"defaultPrinter":  "FAC-DEFAULT",
				"badgeAccess":     "System Staff",
			},
		},
		{
			EafID:    "SA-CHILDREN",
			Name:     "Cook Children's",
			ParentID: str("FAC-NORTH"),
			Kind:     hospital.KindServiceArea,
			Settings: hospital.Settings{
				"visitationHours": "8a - 8p",
				"defaultPrinter":  "SA-DEFAULT-01",
				"badgeAccess":     "Service Area Staff",
			},
		},
		{
			EafID:    "RL-MAIN-PAV",
			Name:     "Main Campus Pavilion",
			ParentID: str("SA-CHILDREN"),
			Kind:     hospital.KindRevenueLocation,
			Settings: hospital.Settings{
				"visitationHours": "9a - 9p",
				"defaultPrinter":  "PAV-CH-01",
				"badgeAccess":     "Campus Staff",
			},
		},
	}
	for i := range facilities {
		if err := repo.CreateFacility(ctx, &facilities[i]); err != nil {
			return nil, fmt.Errorf("create facility %s: %w", facilities[i].EafID, err)
		}
		result.Facilities++
	}

	departments := []hospital.Department{
		{
			// No visitationHours here: 3W-PED exercises the bubble-up.
			DepID:      "DEP-3W-PED",
			Name:       "3 West Pediatrics",
			FacilityID: str("RL-MAIN-PAV"),
			Settings: hospital.Settings{
				"badgeAccess": "Peds Nurse",
			},
		},
		{
			DepID:      "DEP-ICU",
			Name:       "Intensive Care Unit",
			FacilityID: str("RL-MAIN-PAV"),
			Settings: hospital.Settings{
				"visitationHours": "12p - 8p",
				"badgeAccess":     "ICU Staff",
			},
		},
		{
			DepID:      "DEP-ED",
			Name:       "Emergency Department",
			FacilityID: str("RL-MAIN-PAV"),
			Settings: hospital.Settings{
				"visitationHours": "24/7",
				"badgeAccess":     "ED Staff",
			},
		},
	}
	for i := range departments {
		if err := repo.CreateDepartment(ctx, &departments[i]); err != nil {
			return nil, fmt.Errorf("create department %s: %w", departments[i].DepID, err)
		}
		result.Departments++
	}

	rooms := []hospital.Room{
		{
			RomID:             "ROM-3001",
			Name:              "3 West - Room 301 (Pediatrics A)",
			DepartmentID:      str("DEP-3W-PED"),
			GenderRestriction: hospital.GenderFemale,
			PrivacyLevel:      "Semi-Private",
		},
		{
			RomID:             "ROM-3002",
			Name:              "3 West - Room 302 (Pediatrics B)",
			DepartmentID:      str("DEP-3W-PED"),
			GenderRestriction: hospital.GenderNone,
			PrivacyLevel:      "Semi-Private",
		},
		{
			RomID:             "ROM-3003",
			Name:              "3 West - Room 303 (Pediatrics C)",
			DepartmentID:      str("DEP-3W-PED"),
			GenderRestriction: hospital.GenderMale,
			PrivacyLevel:      "Private",
		},
		{
			RomID:             "ROM-ICU-101",
			Name:              "ICU Room 101",
			DepartmentID:      str("DEP-ICU"),
			GenderRestriction: hospital.GenderNone,
			PrivacyLevel:      "Private",
		},
	}
	for i := range rooms {
		if err := repo.CreateRoom(ctx, &rooms[i]); err != nil {
			return nil, fmt.Errorf("create room %s: %w", rooms[i].RomID, err)
		}
		result.Rooms++
	}

	beds := []hospital.Bed{
		{BedID: "BED-3001A", RoomID: "ROM-3001", Name: "Bed A", Status: hospital.BedAvailable, GenderRestriction: hospital.GenderFemale},
		{BedID: "BED-3001B", RoomID: "ROM-3001", Name: "Bed B", Status: hospital.BedOccupied, GenderRestriction: hospital.GenderFemale, OccupiedBy: str("TEMPLATE_CHILD_001")},
		{BedID: "BED-3002A", RoomID: "ROM-3002", Name: "Bed A", Status: hospital.BedAvailable, GenderRestriction: hospital.GenderNone},
		{BedID: "BED-3002B", RoomID: "ROM-3002", Name: "Bed B", Status: hospital.BedHousekeeping, GenderRestriction: hospital.GenderNone},
		{BedID: "BED-3003A", RoomID: "ROM-3003", Name: "Bed A", Status: hospital.BedAvailable, GenderRestriction: hospital.GenderMale},
		{BedID: "BED-ICU-101A", RoomID: "ROM-ICU-101", Name: "Bed A", Status: hospital.BedAvailable, GenderRestriction: hospital.GenderNone},
	}
	for i := range beds {
		if err := repo.CreateBed(ctx, &beds[i]); err != nil {
			return nil, fmt.Errorf("create bed %s: %w", beds[i].BedID, err)
		}
		result.Beds++
	}

	defaults := []hospital.SystemDefault{
		{Key: "visitationHours", Value: "24/7", Description: "Default visitation hours", Category: "General"},
		{Key: "defaultPrinter", Value: "SYS-FALLBACK", Description: "System fallback printer", Category: "General"},
		{Key: "badgeAccess", Value: "Any", Description: "Default badge access requirement", Category: "Security"},
		{Key: "pediatricAgeThreshold", Value: 18, Description: "Age threshold for pediatric constraints", Category: "Validation"},
		{Key: "mitosisSchedule", Value: "0 0 * * *", Description: "Nightly mitosis schedule", Category: "General"},
	}
	for i := range defaults {
		if err := repo.UpsertSystemDefault(ctx, &defaults[i]); err != nil {
			return nil, fmt.Errorf("create system default %s: %w", defaults[i].Key, err)
		}
		result.SystemDefaults++
	}

	entry := hospital.AuditEntry{
		ID:         uuid.NewString(),
		UserID:     "SYSTEM",
		Action:     hospital.ActionSystemInitialized,
		RecordType: "SYSTEM",
		RecordID:   "INIT",
		Changes: map[string]any{
			"facilities":     result.Facilities,
			"departments":    result.Departments,
			"rooms":          result.Rooms,
			"beds":           result.Beds,
			"systemDefaults": result.SystemDefaults,
		},
		Timestamp: time.Now(),
	}
	if err := repo.InsertAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	return result, nil
}
