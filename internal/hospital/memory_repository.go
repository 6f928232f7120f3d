package hospital

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a mutex-guarded map store. It backs the "memory"
// storage driver for demo installs and the engine tests. Reads and writes
// copy entities so callers never share memory with the store.
type MemoryRepository struct {
	mu sync.RWMutex

	facilities  map[string]*Facility
	departments map[string]*Department
	defaults    map[string]*SystemDefault
	rooms       map[string]*Room
	beds        map[string]*Bed
	patients    map[string]*Patient
	guarantors  map[string]*Guarantor
	accounts    map[string]*HospitalAccount
	validations []ValidationRecord
	audits      []AuditEntry

	validationSeq int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		facilities:  make(map[string]*Facility),
		departments: make(map[string]*Department),
		defaults:    make(map[string]*SystemDefault),
		rooms:       make(map[string]*Room),
		beds:        make(map[string]*Bed),
		patients:    make(map[string]*Patient),
		guarantors:  make(map[string]*Guarantor),
		accounts:    make(map[string]*HospitalAccount),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func cloneSettings(s Settings) Settings {
	if s == nil {
		return nil
	}
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func cloneChanges(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func strPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func timePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func floatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFacility(f *Facility) *Facility {
	c := *f
	c.ParentID = strPtr(f.ParentID)
	c.Settings = cloneSettings(f.Settings)
	return &c
}

func cloneDepartment(d *Department) *Department {
	c := *d
	c.FacilityID = strPtr(d.FacilityID)
	c.Settings = cloneSettings(d.Settings)
	return &c
}

func cloneRoom(r *Room) *Room {
	c := *r
	c.DepartmentID = strPtr(r.DepartmentID)
	return &c
}

func cloneBed(b *Bed) *Bed {
	c := *b
	c.OccupiedBy = strPtr(b.OccupiedBy)
	c.OccupiedAt = timePtr(b.OccupiedAt)
	c.ReleasedAt = timePtr(b.ReleasedAt)
	c.PreviousPatient = strPtr(b.PreviousPatient)
	return &c
}

func clonePatient(p *Patient) *Patient {
	c := *p
	c.GuarantorID = strPtr(p.GuarantorID)
	c.RelativeAge = floatPtr(p.RelativeAge)
	c.Address = strPtr(p.Address)
	c.CurrentBedID = strPtr(p.CurrentBedID)
	c.CurrentRoomID = strPtr(p.CurrentRoomID)
	c.PreviousBedID = strPtr(p.PreviousBedID)
	return &c
}

func cloneGuarantor(g *Guarantor) *Guarantor {
	c := *g
	c.Address = strPtr(g.Address)
	c.City = strPtr(g.City)
	c.State = strPtr(g.State)
	c.Zip = strPtr(g.Zip)
	return &c
}

// Facility structure

func (m *MemoryRepository) GetFacility(_ context.Context, eafID string) (*Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facilities[eafID]
	if !ok {
		return nil, ErrFacilityNotFound
	}
	return cloneFacility(f), nil
}

func (m *MemoryRepository) CreateFacility(_ context.Context, f *Facility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facilities[f.EafID] = cloneFacility(f)
	return nil
}

func (m *MemoryRepository) UpdateFacilitySettings(_ context.Context, eafID string, settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facilities[eafID]
	if !ok {
		return ErrFacilityNotFound
	}
	f.Settings = cloneSettings(settings)
	f.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) GetDepartment(_ context.Context, depID string) (*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.departments[depID]
	if !ok {
		return nil, ErrDepartmentNotFound
	}
	return cloneDepartment(d), nil
}

func (m *MemoryRepository) CreateDepartment(_ context.Context, d *Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.departments[d.DepID] = cloneDepartment(d)
	return nil
}

func (m *MemoryRepository) UpdateDepartmentSettings(_ context.Context, depID string, settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.departments[depID]
	if !ok {
		return ErrDepartmentNotFound
	}
	d.Settings = cloneSettings(settings)
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) HasFacilities(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.facilities) > 0, nil
}

// System defaults

func (m *MemoryRepository) GetSystemDefault(_ context.Context, key string) (*SystemDefault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sd, ok := m.defaults[key]
	if !ok {
		return nil, ErrSystemDefaultNotFound
	}
	c := *sd
	return &c, nil
}

func (m *MemoryRepository) ListSystemDefaults(_ context.Context) ([]SystemDefault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SystemDefault, 0, len(m.defaults))
	for _, sd := range m.defaults {
		out = append(out, *sd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryRepository) UpsertSystemDefault(_ context.Context, sd *SystemDefault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *sd
	m.defaults[sd.Key] = &c
	return nil
}

// Rooms and beds

func (m *MemoryRepository) GetRoom(_ context.Context, romID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[romID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return cloneRoom(r), nil
}

func (m *MemoryRepository) CreateRoom(_ context.Context, r *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.RomID] = cloneRoom(r)
	return nil
}

func (m *MemoryRepository) GetBed(_ context.Context, bedID string) (*Bed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.beds[bedID]
	if !ok {
		return nil, ErrBedNotFound
	}
	return cloneBed(b), nil
}

func (m *MemoryRepository) CreateBed(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beds[b.BedID] = cloneBed(b)
	return nil
}

func (m *MemoryRepository) ListBedsByRoom(_ context.Context, romID string) ([]Bed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Bed
	for _, b := range m.beds {
		if b.RoomID == romID {
			out = append(out, *cloneBed(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BedID < out[j].BedID })
	return out, nil
}

func (m *MemoryRepository) ListAvailableBeds(_ context.Context) ([]Bed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Bed
	for _, b := range m.beds {
		if b.Status == BedAvailable {
			out = append(out, *cloneBed(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BedID < out[j].BedID })
	return out, nil
}

func (m *MemoryRepository) AssignBed(_ context.Context, bedID, eptID string, at time.Time) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.beds[bedID]
	if !ok {
		return nil, ErrBedNotFound
	}
	p, ok := m.patients[eptID]
	if !ok {
		return nil, ErrPatientNotFound
	}
	if b.Status != BedAvailable {
		return nil, ErrBedNotAvailable
	}

	occupant := eptID
	b.Status = BedOccupied
	b.OccupiedBy = &occupant
	b.OccupiedAt = &at
	b.UpdatedAt = at

	bedRef := b.BedID
	roomRef := b.RoomID
	p.CurrentBedID = &bedRef
	p.CurrentRoomID = &roomRef
	p.UpdatedAt = at

	return cloneBed(b), nil
}

func (m *MemoryRepository) ReleaseBed(_ context.Context, bedID string, at time.Time) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.beds[bedID]
	if !ok {
		return nil, ErrBedNotFound
	}

	previous := b.OccupiedBy
	b.Status = BedHousekeeping
	b.OccupiedBy = nil
	b.ReleasedAt = &at
	b.PreviousPatient = previous
	b.UpdatedAt = at

	if previous != nil {
		if p, ok := m.patients[*previous]; ok {
			bedRef := b.BedID
			p.CurrentBedID = nil
			p.CurrentRoomID = nil
			p.PreviousBedID = &bedRef
			p.UpdatedAt = at
		}
	}

	return cloneBed(b), nil
}

// Patients and guarantors

func (m *MemoryRepository) GetPatient(_ context.Context, eptID string) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[eptID]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return clonePatient(p), nil
}

func (m *MemoryRepository) CreatePatient(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.EptID] = clonePatient(p)
	return nil
}

func (m *MemoryRepository) UpdatePatientDateOfBirth(_ context.Context, eptID string, dob time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[eptID]
	if !ok {
		return ErrPatientNotFound
	}
	p.DateOfBirth = dob
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) ListTemplatePatients(_ context.Context) ([]Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Patient
	for _, p := range m.patients {
		if p.IsTemplate {
			out = append(out, *clonePatient(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EptID < out[j].EptID })
	return out, nil
}

func (m *MemoryRepository) DeleteNonTemplatePatients(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, p := range m.patients {
		if !p.IsTemplate {
			delete(m.patients, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryRepository) TemplateExistsForGuarantor(_ context.Context, earID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.patients {
		if p.IsTemplate && p.GuarantorID != nil && *p.GuarantorID == earID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) GetGuarantor(_ context.Context, earID string) (*Guarantor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guarantors[earID]
	if !ok {
		return nil, ErrGuarantorNotFound
	}
	return cloneGuarantor(g), nil
}

func (m *MemoryRepository) CreateGuarantor(_ context.Context, g *Guarantor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guarantors[g.EarID] = cloneGuarantor(g)
	return nil
}

func (m *MemoryRepository) ListGuarantors(_ context.Context) ([]Guarantor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Guarantor, 0, len(m.guarantors))
	for _, g := range m.guarantors {
		out = append(out, *cloneGuarantor(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarID < out[j].EarID })
	return out, nil
}

func (m *MemoryRepository) DeleteGuarantor(_ context.Context, earID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.guarantors[earID]; !ok {
		return ErrGuarantorNotFound
	}
	delete(m.guarantors, earID)
	return nil
}

// Hospital accounts

func (m *MemoryRepository) CreateHospitalAccount(_ context.Context, a *HospitalAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	c.AdmitDate = timePtr(a.AdmitDate)
	c.DischargeDate = timePtr(a.DischargeDate)
	m.accounts[a.HspID] = &c
	return nil
}

func (m *MemoryRepository) DeleteAllHospitalAccounts(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := len(m.accounts)
	m.accounts = make(map[string]*HospitalAccount)
	return deleted, nil
}

// Validations

func (m *MemoryRepository) InsertValidation(_ context.Context, v ValidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validationSeq++
	v.ID = m.validationSeq
	m.validations = append(m.validations, v)
	return nil
}

func (m *MemoryRepository) DeleteValidationsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.validations[:0]
	deleted := 0
	for _, v := range m.validations {
		if v.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, v)
	}
	m.validations = kept
	return deleted, nil
}

// Audit log

func (m *MemoryRepository) InsertAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Changes = cloneChanges(e.Changes)
	m.audits = append(m.audits, e)
	return nil
}

func (m *MemoryRepository) LatestAuditByAction(_ context.Context, action string) (*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.audits) - 1; i >= 0; i-- {
		if m.audits[i].Action == action {
			e := m.audits[i]
			e.Changes = cloneChanges(e.Changes)
			return &e, nil
		}
	}
	return nil, ErrAuditNotFound
}

func (m *MemoryRepository) ListAuditsByAction(_ context.Context, action string, limit int) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuditEntry
	for i := len(m.audits) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.audits[i].Action == action {
			e := m.audits[i]
			e.Changes = cloneChanges(e.Changes)
			out = append(out, e)
		}
	}
	return out, nil
}

// AuditCount reports the total number of audit entries. Test helper.
func (m *MemoryRepository) AuditCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.audits)
}
