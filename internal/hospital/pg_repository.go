package hospital

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

// Helpers

func marshalSettings(s Settings) ([]byte, error) {
	if s == nil {
		s = Settings{}
	}
	return json.Marshal(s)
}

func unmarshalSettings(raw []byte) (Settings, error) {
	s := Settings{}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func scanFacility(row pgx.Row) (*Facility, error) {
	var f Facility
	var raw []byte

	err := row.Scan(
		&f.EafID,
		&f.Name,
		&f.ParentID,
		&f.Kind,
		&raw,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFacilityNotFound
		}
		return nil, err
	}

	f.Settings, err = unmarshalSettings(raw)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanDepartment(row pgx.Row) (*Department, error) {
	var d Department
	var raw []byte

	err := row.Scan(
		&d.DepID,
		&d.Name,
		&d.FacilityID,
		&raw,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDepartmentNotFound
		}
		return nil, err
	}

	d.Settings, err = unmarshalSettings(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room

	err := row.Scan(
		&r.RomID,
		&r.Name,
		&r.DepartmentID,
		&r.GenderRestriction,
		&r.PrivacyLevel,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed

	err := row.Scan(
		&b.BedID,
		&b.RoomID,
		&b.Name,
		&b.Status,
		&b.GenderRestriction,
		&b.OccupiedBy,
		&b.OccupiedAt,
		&b.ReleasedAt,
		&b.PreviousPatient,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBedNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.EptID,
		&p.MRN,
		&p.FirstName,
		&p.LastName,
		&p.DateOfBirth,
		&p.Sex,
		&p.GuarantorID,
		&p.IsTemplate,
		&p.RelativeAge,
		&p.Address,
		&p.CurrentBedID,
		&p.CurrentRoomID,
		&p.PreviousBedID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanGuarantor(row pgx.Row) (*Guarantor, error) {
	var g Guarantor

	err := row.Scan(
		&g.EarID,
		&g.Name,
		&g.Address,
		&g.City,
		&g.State,
		&g.Zip,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGuarantorNotFound
		}
		return nil, err
	}
	return &g, nil
}

func scanAudit(row pgx.Row) (*AuditEntry, error) {
	var e AuditEntry
	var raw []byte

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Action,
		&e.RecordType,
		&e.RecordID,
		&raw,
		&e.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuditNotFound
		}
		return nil, err
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Changes); err != nil {
			return nil, fmt.Errorf("decode audit changes: %w", err)
		}
	}
	return &e, nil
}

// Facility structure

const facilityColumns = "eaf_id, name, parent_id, kind, settings, created_at, updated_at"

func (r *PgRepository) GetFacility(ctx context.Context, eafID string) (*Facility, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+facilityColumns+`
		FROM facilities
		WHERE eaf_id = $1
	`, eafID)
	return scanFacility(row)
}

func (r *PgRepository) CreateFacility(ctx context.Context, f *Facility) error {
	raw, err := marshalSettings(f.Settings)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO facilities (eaf_id, name, parent_id, kind, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`, f.EafID, f.Name, f.ParentID, f.Kind, raw)
	return err
}

func (r *PgRepository) UpdateFacilitySettings(ctx context.Context, eafID string, settings Settings) error {
	raw, err := marshalSettings(settings)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE facilities SET settings = $2, updated_at = now() WHERE eaf_id = $1
	`, eafID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFacilityNotFound
	}
	return nil
}

const departmentColumns = "dep_id, name, facility_id, settings, created_at, updated_at"

func (r *PgRepository) GetDepartment(ctx context.Context, depID string) (*Department, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+departmentColumns+`
		FROM departments
		WHERE dep_id = $1
	`, depID)
	return scanDepartment(row)
}

func (r *PgRepository) CreateDepartment(ctx context.Context, d *Department) error {
	raw, err := marshalSettings(d.Settings)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO departments (dep_id, name, facility_id, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, d.DepID, d.Name, d.FacilityID, raw)
	return err
}

func (r *PgRepository) UpdateDepartmentSettings(ctx context.Context, depID string, settings Settings) error {
	raw, err := marshalSettings(settings)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE departments SET settings = $2, updated_at = now() WHERE dep_id = $1
	`, depID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDepartmentNotFound
	}
	return nil
}

func (r *PgRepository) HasFacilities(ctx context.Context) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM facilities)`).Scan(&exists)
	return exists, err
}

// System defaults

func (r *PgRepository) GetSystemDefault(ctx context.Context, key string) (*SystemDefault, error) {
	var sd SystemDefault
	var raw []byte

	err := r.pool.QueryRow(ctx, `
		SELECT key, value, description, category
		FROM system_defaults
		WHERE key = $1
	`, key).Scan(&sd.Key, &raw, &sd.Description, &sd.Category)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSystemDefaultNotFound
		}
		return nil, err
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sd.Value); err != nil {
			return nil, fmt.Errorf("decode system default value: %w", err)
		}
	}
	return &sd, nil
}

func (r *PgRepository) ListSystemDefaults(ctx context.Context) ([]SystemDefault, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT key, value, description, category
		FROM system_defaults
		ORDER BY key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SystemDefault
	for rows.Next() {
		var sd SystemDefault
		var raw []byte
		if err := rows.Scan(&sd.Key, &raw, &sd.Description, &sd.Category); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &sd.Value); err != nil {
				return nil, fmt.Errorf("decode system default value: %w", err)
			}
		}
		result = append(result, sd)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpsertSystemDefault(ctx context.Context, sd *SystemDefault) error {
	raw, err := json.Marshal(sd.Value)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO system_defaults (key, value, description, category)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = $2, description = $3, category = $4
	`, sd.Key, raw, sd.Description, sd.Category)
	return err
}

// Rooms and beds

const roomColumns = "rom_id, name, department_id, gender_restriction, privacy_level, created_at, updated_at"

func (r *PgRepository) GetRoom(ctx context.Context, romID string) (*Room, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE rom_id = $1
	`, romID)
	return scanRoom(row)
}

func (r *PgRepository) CreateRoom(ctx context.Context, rm *Room) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (rom_id, name, department_id, gender_restriction, privacy_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`, rm.RomID, rm.Name, rm.DepartmentID, rm.GenderRestriction, rm.PrivacyLevel)
	return err
}

const bedColumns = "bed_id, room_id, name, status, gender_restriction, occupied_by, occupied_at, released_at, previous_patient, created_at, updated_at"

func (r *PgRepository) GetBed(ctx context.Context, bedID string) (*Bed, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bedColumns+`
		FROM beds
		WHERE bed_id = $1
	`, bedID)
	return scanBed(row)
}

func (r *PgRepository) CreateBed(ctx context.Context, b *Bed) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO beds (bed_id, room_id, name, status, gender_restriction, occupied_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
	`, b.BedID, b.RoomID, b.Name, b.Status, b.GenderRestriction, b.OccupiedBy)
	return err
}

func (r *PgRepository) ListBedsByRoom(ctx context.Context, romID string) ([]Bed, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bedColumns+`
		FROM beds
		WHERE room_id = $1
		ORDER BY bed_id
	`, romID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBeds(rows)
}

func (r *PgRepository) ListAvailableBeds(ctx context.Context) ([]Bed, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bedColumns+`
		FROM beds
		WHERE status = 'Available'
		ORDER BY bed_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBeds(rows)
}

func collectBeds(rows pgx.Rows) ([]Bed, error) {
	var result []Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (r *PgRepository) AssignBed(ctx context.Context, bedID, eptID string, at time.Time) (*Bed, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	bed, err := scanBed(tx.QueryRow(ctx, `
		SELECT `+bedColumns+`
		FROM beds
		WHERE bed_id = $1
		FOR UPDATE
	`, bedID))
	if err != nil {
		return nil, err
	}
	if bed.Status != BedAvailable {
		return nil, ErrBedNotAvailable
	}

	bed, err = scanBed(tx.QueryRow(ctx, `
		UPDATE beds
		SET status = 'Occupied',
		    occupied_by = $2,
		    occupied_at = $3,
		    updated_at = $3
		WHERE bed_id = $1
		RETURNING `+bedColumns+`
	`, bedID, eptID, at))
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE patients
		SET current_bed_id = $2,
		    current_room_id = $3,
		    updated_at = $4
		WHERE ept_id = $1
	`, eptID, bed.BedID, bed.RoomID, at)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrPatientNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return bed, nil
}

func (r *PgRepository) ReleaseBed(ctx context.Context, bedID string, at time.Time) (*Bed, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	bed, err := scanBed(tx.QueryRow(ctx, `
		SELECT `+bedColumns+`
		FROM beds
		WHERE bed_id = $1
		FOR UPDATE
	`, bedID))
	if err != nil {
		return nil, err
	}

	previous := bed.OccupiedBy

	bed, err = scanBed(tx.QueryRow(ctx, `
		UPDATE beds
		SET status = 'Housekeeping',
		    occupied_by = NULL,
		    released_at = $2,
		    previous_patient = $3,
		    updated_at = $2
		WHERE bed_id = $1
		RETURNING `+bedColumns+`
	`, bedID, at, previous))
	if err != nil {
		return nil, err
	}

	// Bed may have been occupied by data no longer present; a zero-row
	// patient update is fine.
	if previous != nil {
		_, err = tx.Exec(ctx, `
			UPDATE patients
			SET current_bed_id = NULL,
			    current_room_id = NULL,
			    previous_bed_id = $2,
			    updated_at = $3
			WHERE ept_id = $1
		`, *previous, bed.BedID, at)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return bed, nil
}

// Patients and guarantors

const patientColumns = "ept_id, mrn, first_name, last_name, date_of_birth, sex, guarantor_id, is_template, relative_age, address, current_bed_id, current_room_id, previous_bed_id, created_at, updated_at"

func (r *PgRepository) GetPatient(ctx context.Context, eptID string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE ept_id = $1
	`, eptID)
	return scanPatient(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patients (ept_id, mrn, first_name, last_name, date_of_birth, sex, guarantor_id, is_template, relative_age, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`, p.EptID, p.MRN, p.FirstName, p.LastName, p.DateOfBirth, p.Sex, p.GuarantorID, p.IsTemplate, p.RelativeAge, p.Address)
	return err
}

func (r *PgRepository) UpdatePatientDateOfBirth(ctx context.Context, eptID string, dob time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patients SET date_of_birth = $2, updated_at = now() WHERE ept_id = $1
	`, eptID, dob)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PgRepository) ListTemplatePatients(ctx context.Context) ([]Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE is_template
		ORDER BY ept_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeleteNonTemplatePatients(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM patients WHERE NOT is_template`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) TemplateExistsForGuarantor(ctx context.Context, earID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM patients WHERE is_template AND guarantor_id = $1
		)
	`, earID).Scan(&exists)
	return exists, err
}

const guarantorColumns = "ear_id, name, address, city, state, zip, created_at, updated_at"

func (r *PgRepository) GetGuarantor(ctx context.Context, earID string) (*Guarantor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+guarantorColumns+`
		FROM guarantors
		WHERE ear_id = $1
	`, earID)
	return scanGuarantor(row)
}

func (r *PgRepository) CreateGuarantor(ctx context.Context, g *Guarantor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO guarantors (ear_id, name, address, city, state, zip, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
	`, g.EarID, g.Name, g.Address, g.City, g.State, g.Zip)
	return err
}

func (r *PgRepository) ListGuarantors(ctx context.Context) ([]Guarantor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+guarantorColumns+`
		FROM guarantors
		ORDER BY ear_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Guarantor
	for rows.Next() {
		g, err := scanGuarantor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *g)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeleteGuarantor(ctx context.Context, earID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM guarantors WHERE ear_id = $1`, earID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGuarantorNotFound
	}
	return nil
}

// Hospital accounts

func (r *PgRepository) CreateHospitalAccount(ctx context.Context, a *HospitalAccount) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO hospital_accounts (hsp_id, patient_ept_id, account_type, admit_date, discharge_date, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, a.HspID, a.PatientEptID, a.AccountType, a.AdmitDate, a.DischargeDate)
	return err
}

func (r *PgRepository) DeleteAllHospitalAccounts(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM hospital_accounts`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Validations

func (r *PgRepository) InsertValidation(ctx context.Context, v ValidationRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO validations (record_type, record_id, severity, code, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.RecordType, v.RecordID, v.Severity, v.Code, v.Message, v.Timestamp)
	return err
}

func (r *PgRepository) DeleteValidationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM validations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Audit log

const auditColumns = "id, user_id, action, record_type, record_id, changes, created_at"

func (r *PgRepository) InsertAudit(ctx context.Context, e AuditEntry) error {
	raw, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("encode audit changes: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, user_id, action, record_type, record_id, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.UserID, e.Action, e.RecordType, e.RecordID, raw, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *PgRepository) LatestAuditByAction(ctx context.Context, action string) (*AuditEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE action = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, action)
	return scanAudit(row)
}

func (r *PgRepository) ListAuditsByAction(ctx context.Context, action string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE action = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, action, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}
