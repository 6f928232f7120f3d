package hospital

import (
	"context"
	"errors"
	"time"
)

var (
	ErrFacilityNotFound      = errors.New("facility not found")
	ErrDepartmentNotFound    = errors.New("department not found")
	ErrRoomNotFound          = errors.New("room not found")
	ErrBedNotFound           = errors.New("bed not found")
	ErrPatientNotFound       = errors.New("patient not found")
	ErrGuarantorNotFound     = errors.New("guarantor not found")
	ErrSystemDefaultNotFound = errors.New("system default not found")
	ErrAuditNotFound         = errors.New("audit entry not found")

	// ErrBedNotAvailable is returned when the check-and-set on bed status
	// loses to a concurrent assignment.
	ErrBedNotAvailable = errors.New("bed is not available")
)

// Repository contains all storage interactions needed by the engines.
// All lookups are keyed by external IDs (depId, eafId, romId, bedId, eptId,
// earId).
type Repository interface {
	// Facility structure
	GetFacility(ctx context.Context, eafID string) (*Facility, error)
	CreateFacility(ctx context.Context, f *Facility) error
	UpdateFacilitySettings(ctx context.Context, eafID string, settings Settings) error
	GetDepartment(ctx context.Context, depID string) (*Department, error)
	CreateDepartment(ctx context.Context, d *Department) error
	UpdateDepartmentSettings(ctx context.Context, depID string, settings Settings) error
	HasFacilities(ctx context.Context) (bool, error)

	// System defaults (LSD)
	GetSystemDefault(ctx context.Context, key string) (*SystemDefault, error)
	ListSystemDefaults(ctx context.Context) ([]SystemDefault, error)
	UpsertSystemDefault(ctx context.Context, sd *SystemDefault) error

	// Rooms and beds
	GetRoom(ctx context.Context, romID string) (*Room, error)
	CreateRoom(ctx context.Context, r *Room) error
	GetBed(ctx context.Context, bedID string) (*Bed, error)
	CreateBed(ctx context.Context, b *Bed) error
	ListBedsByRoom(ctx context.Context, romID string) ([]Bed, error)
	ListAvailableBeds(ctx context.Context) ([]Bed, error)

	// AssignBed atomically moves an Available bed to Occupied and updates the
	// patient's denormalized bed/room links. Fails with ErrBedNotAvailable if
	// the bed was taken in the meantime.
	AssignBed(ctx context.Context, bedID, eptID string, at time.Time) (*Bed, error)

	// ReleaseBed atomically moves a bed to Housekeeping, clears the occupant
	// and, when the occupying patient record still exists, clears its bed and
	// room links. The returned bed carries PreviousPatient.
	ReleaseBed(ctx context.Context, bedID string, at time.Time) (*Bed, error)

	// Patients and guarantors
	GetPatient(ctx context.Context, eptID string) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) error
	UpdatePatientDateOfBirth(ctx context.Context, eptID string, dob time.Time) error
	ListTemplatePatients(ctx context.Context) ([]Patient, error)
	DeleteNonTemplatePatients(ctx context.Context) (int, error)
	TemplateExistsForGuarantor(ctx context.Context, earID string) (bool, error)
	GetGuarantor(ctx context.Context, earID string) (*Guarantor, error)
	CreateGuarantor(ctx context.Context, g *Guarantor) error
	ListGuarantors(ctx context.Context) ([]Guarantor, error)
	DeleteGuarantor(ctx context.Context, earID string) error

	// Hospital accounts (HSP)
	CreateHospitalAccount(ctx context.Context, a *HospitalAccount) error
	DeleteAllHospitalAccounts(ctx context.Context) (int, error)

	// Persisted validation verdicts
	InsertValidation(ctx context.Context, v ValidationRecord) error
	DeleteValidationsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Audit log, append-only
	InsertAudit(ctx context.Context, e AuditEntry) error
	LatestAuditByAction(ctx context.Context, action string) (*AuditEntry, error)
	ListAuditsByAction(ctx context.Context, action string, limit int) ([]AuditEntry, error)
}
