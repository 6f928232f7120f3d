package hospital

import (
	"time"
)

type FacilityKind string

const (
	KindFacility        FacilityKind = "Facility"
	KindServiceArea     FacilityKind = "ServiceArea"
	KindRevenueLocation FacilityKind = "RevenueLocation"
)

type BedStatus string

const (
	BedAvailable    BedStatus = "Available"
	BedOccupied     BedStatus = "Occupied"
	BedHousekeeping BedStatus = "Housekeeping"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderNone   Gender = "None"
)

type Severity string

const (
	SeverityNone     Severity = "None"
	SeverityHardStop Severity = "HardStop"
	SeveritySoftStop Severity = "SoftStop"
	SeverityWarning  Severity = "Warning"
)

// Settings maps distinguish a key that is present with a nil value
// ("explicitly blanked") from a key that is absent.
type Settings map[string]any

// Facility (EAF). Forms a tree via ParentID; the root has none.
type Facility struct {
	EafID     string
	Name      string
	ParentID  *string
	Kind      FacilityKind
	Settings  Settings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Department (DEP) is always the starting point of settings resolution.
type Department struct {
	DepID      string
	Name       string
	FacilityID *string
	Settings   Settings
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SystemDefault (LSD) is the global fallback tier, one entry per key.
type SystemDefault struct {
	Key         string
	Value       any
	Description string
	Category    string
}

// Room (ROM).
type Room struct {
	RomID             string
	Name              string
	DepartmentID      *string
	GenderRestriction Gender
	PrivacyLevel      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Bed (BED). OccupiedBy holds the occupant's eptId while status is Occupied;
// PreviousPatient survives a release for audit purposes.
type Bed struct {
	BedID             string
	RoomID            string
	Name              string
	Status            BedStatus
	GenderRestriction Gender
	OccupiedBy        *string
	OccupiedAt        *time.Time
	ReleasedAt        *time.Time
	PreviousPatient   *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Patient (EPT). IsTemplate marks a Golden Record preserved across mitosis;
// RelativeAge drives the nightly date slide (values < 1 are sub-year ages).
type Patient struct {
	EptID         string
	MRN           string
	FirstName     string
	LastName      string
	DateOfBirth   time.Time
	Sex           Gender
	GuarantorID   *string
	IsTemplate    bool
	RelativeAge   *float64
	Address       *string
	CurrentBedID  *string
	CurrentRoomID *string
	PreviousBedID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Guarantor (EAR).
type Guarantor struct {
	EarID     string
	Name      string
	Address   *string
	City      *string
	State     *string
	Zip       *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HospitalAccount (HSP). Always dynamic; purged wholesale by mitosis.
type HospitalAccount struct {
	HspID         string
	PatientEptID  string
	AccountType   string
	AdmitDate     *time.Time
	DischargeDate *time.Time
	CreatedAt     time.Time
}

// ValidationRecord is a persisted validation verdict, kept for 24h.
type ValidationRecord struct {
	ID         int64
	RecordType string
	RecordID   string
	Severity   Severity
	Code       string
	Message    string
	Timestamp  time.Time
}

// AuditEntry is append-only.
type AuditEntry struct {
	ID         string
	UserID     string
	Action     string
	RecordType string
	RecordID   string
	Changes    map[string]any
	Timestamp  time.Time
}

// Audit actions.
const (
	ActionBedAssignment        = "BED_ASSIGNMENT"
	ActionBedRelease           = "BED_RELEASE"
	ActionSettingUpdate        = "SETTING_UPDATE"
	ActionMitosisReset         = "MITOSIS_RESET"
	ActionMitosisManualTrigger = "MITOSIS_MANUAL_TRIGGER"
	ActionTemplatesInitialized = "TEMPLATES_INITIALIZED"
	ActionSystemInitialized    = "SYSTEM_INITIALIZED"
)
