// Package beds implements the bed assignment validator and the
// Available -> Occupied -> Housekeeping state transitions.
package beds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsim/regsim/internal/hospital"
	"github.com/medsim/regsim/internal/metrics"
	redisclient "github.com/medsim/regsim/internal/redis"
)

// Verdict codes, stable across the API.
const (
	CodeBedNotFound        = "BED_NOT_FOUND"
	CodePatientNotFound    = "PATIENT_NOT_FOUND"
	CodeBedNotAvailable    = "BED_NOT_AVAILABLE"
	CodeRoomNotFound       = "ROOM_NOT_FOUND"
	CodeBedGenderMismatch  = "BED_GENDER_MISMATCH"
	CodeRoomGenderMismatch = "ROOM_GENDER_MISMATCH"
	CodeAssignmentValid    = "BED_ASSIGNMENT_VALID"
)

// Verdict is a validation outcome returned as data, never as an error.
type Verdict struct {
	IsValid  bool              `json:"isValid"`
	Severity hospital.Severity `json:"severity"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Details  map[string]any    `json:"details,omitempty"`
}

// InvalidAssignmentError carries the failing verdict out of a write path.
type InvalidAssignmentError struct {
	Verdict Verdict
}

func (e *InvalidAssignmentError) Error() string {
	return e.Verdict.Message
}

type AssignResult struct {
	Success   bool   `json:"success"`
	BedID     string `json:"bedId"`
	PatientID string `json:"patientId"`
	Message   string `json:"message"`
}

type ReleaseResult struct {
	Success bool   `json:"success"`
	BedID   string `json:"bedId"`
	Message string `json:"message"`
}

type BedWithRoom struct {
	Bed  hospital.Bed  `json:"bed"`
	Room hospital.Room `json:"room"`
}

type PatientInfo struct {
	EptID string          `json:"eptId"`
	Name  string          `json:"name"`
	Sex   hospital.Gender `json:"sex"`
}

type AvailableBeds struct {
	Patient        PatientInfo   `json:"patient"`
	AvailableBeds  []BedWithRoom `json:"availableBeds"`
	TotalAvailable int           `json:"totalAvailable"`
}

type OccupantInfo struct {
	EptID string          `json:"eptId"`
	Name  string          `json:"name"`
	Sex   hospital.Gender `json:"sex"`
	MRN   string          `json:"mrn"`
}

type BedBoardEntry struct {
	Bed     hospital.Bed  `json:"bed"`
	Patient *OccupantInfo `json:"patient,omitempty"`
}

type RoomBedStatus struct {
	Room    hospital.Room   `json:"room"`
	Beds    []BedBoardEntry `json:"beds"`
	Summary BedSummary      `json:"summary"`
}

type BedSummary struct {
	Total        int `json:"total"`
	Available    int `json:"available"`
	Occupied     int `json:"occupied"`
	Housekeeping int `json:"housekeeping"`
}

type Service struct {
	repo   hospital.Repository
	locker redisclient.Locker
	log    zerolog.Logger
}

func NewService(repo hospital.Repository, locker redisclient.Locker, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log.With().Str("component", "beds").Logger(),
	}
}

// Validate runs the assignment rules in strict order, first failure wins.
func (s *Service) Validate(ctx context.Context, bedID, eptID string) (Verdict, error) {
	bed, err := s.repo.GetBed(ctx, bedID)
	if err != nil {
		if errors.Is(err, hospital.ErrBedNotFound) {
			return hardStop(CodeBedNotFound, "Bed not found."), nil
		}
		return Verdict{}, fmt.Errorf("load bed: %w", err)
	}

	patient, err := s.repo.GetPatient(ctx, eptID)
	if err != nil {
		if errors.Is(err, hospital.ErrPatientNotFound) {
			return hardStop(CodePatientNotFound, "Patient not found."), nil
		}
		return Verdict{}, fmt.Errorf("load patient: %w", err)
	}

	if bed.Status != hospital.BedAvailable {
		return hardStop(CodeBedNotAvailable,
			fmt.Sprintf("Bed is %s, not available for assignment.", bed.Status)), nil
	}

	room, err := s.repo.GetRoom(ctx, bed.RoomID)
	if err != nil {
		if errors.Is(err, hospital.ErrRoomNotFound) {
			return hardStop(CodeRoomNotFound, "Room not found for this bed."), nil
		}
		return Verdict{}, fmt.Errorf("load room: %w", err)
	}

	if bed.GenderRestriction != "" && bed.GenderRestriction != hospital.GenderNone &&
		bed.GenderRestriction != patient.Sex {
		v := hardStop(CodeBedGenderMismatch,
			fmt.Sprintf("Cannot assign %s patient to %s-only bed.", patient.Sex, bed.GenderRestriction))
		v.Details = map[string]any{
			"bedName":              bed.Name,
			"bedGenderRestriction": bed.GenderRestriction,
			"patientSex":           patient.Sex,
			"patientName":          patient.FullName(),
		}
		return v, nil
	}

	if room.GenderRestriction != "" && room.GenderRestriction != hospital.GenderNone &&
		room.GenderRestriction != patient.Sex {
		v := hardStop(CodeRoomGenderMismatch,
			fmt.Sprintf("Cannot assign %s patient to %s-only room.", patient.Sex, room.GenderRestriction))
		v.Details = map[string]any{
			"roomName":              room.Name,
			"roomGenderRestriction": room.GenderRestriction,
			"patientSex":            patient.Sex,
			"patientName":           patient.FullName(),
		}
		return v, nil
	}

	return Verdict{
		IsValid:  true,
		Severity: hospital.SeverityNone,
		Code:     CodeAssignmentValid,
		Message:  "Bed assignment validation passed.",
		Details: map[string]any{
			"bedName":     bed.Name,
			"roomName":    room.Name,
			"patientName": patient.FullName(),
		},
	}, nil
}

func hardStop(code, message string) Verdict {
	return Verdict{
		IsValid:  false,
		Severity: hospital.SeverityHardStop,
		Code:     code,
		Message:  message,
	}
}

// Assign re-validates under a per-bed lock and applies the transition as a
// single unit: bed to Occupied, patient bed/room links set, audit appended.
func (s *Service) Assign(ctx context.Context, bedID, eptID, actor string) (*AssignResult, error) {
	var result *AssignResult

	err := s.locker.WithBedLock(ctx, bedID, func(lockCtx context.Context) error {
		verdict, err := s.Validate(lockCtx, bedID, eptID)
		if err != nil {
			return err
		}
		if !verdict.IsValid {
			metrics.BedAssignments.WithLabelValues(verdict.Code).Inc()
			return &InvalidAssignmentError{Verdict: verdict}
		}

		now := time.Now()
		bed, err := s.repo.AssignBed(lockCtx, bedID, eptID, now)
		if err != nil {
			return fmt.Errorf("assign bed: %w", err)
		}

		patient, err := s.repo.GetPatient(lockCtx, eptID)
		if err != nil {
			return fmt.Errorf("load patient after assign: %w", err)
		}

		s.audit(lockCtx, actor, hospital.ActionBedAssignment, bed.BedID, map[string]any{
			"patientId":   patient.EptID,
			"patientName": patient.FullName(),
			"bedId":       bed.BedID,
			"bedName":     bed.Name,
		})
		metrics.BedAssignments.WithLabelValues(CodeAssignmentValid).Inc()

		result = &AssignResult{
			Success:   true,
			BedID:     bed.BedID,
			PatientID: patient.EptID,
			Message:   fmt.Sprintf("Patient %s assigned to bed %s", patient.FullName(), bed.Name),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release moves a bed to Housekeeping and clears occupancy on both sides.
// Succeeds even when the occupying patient record is gone.
func (s *Service) Release(ctx context.Context, bedID, actor string) (*ReleaseResult, error) {
	var result *ReleaseResult

	err := s.locker.WithBedLock(ctx, bedID, func(lockCtx context.Context) error {
		bed, err := s.repo.ReleaseBed(lockCtx, bedID, time.Now())
		if err != nil {
			return err
		}

		changes := map[string]any{
			"bedId":   bed.BedID,
			"bedName": bed.Name,
		}
		if bed.PreviousPatient != nil {
			changes["previousPatientId"] = *bed.PreviousPatient
		}
		s.audit(lockCtx, actor, hospital.ActionBedRelease, bed.BedID, changes)

		result = &ReleaseResult{
			Success: true,
			BedID:   bed.BedID,
			Message: fmt.Sprintf("Bed %s released and marked for housekeeping", bed.Name),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AvailableBedsForPatient filters Available beds by gender compatibility at
// both bed and room level, optionally scoped to a department.
func (s *Service) AvailableBedsForPatient(ctx context.Context, eptID string, depID *string) (*AvailableBeds, error) {
	patient, err := s.repo.GetPatient(ctx, eptID)
	if err != nil {
		return nil, err
	}

	allBeds, err := s.repo.ListAvailableBeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available beds: %w", err)
	}

	compatible := []BedWithRoom{}
	for _, bed := range allBeds {
		room, err := s.repo.GetRoom(ctx, bed.RoomID)
		if err != nil {
			if errors.Is(err, hospital.ErrRoomNotFound) {
				continue
			}
			return nil, fmt.Errorf("load room %s: %w", bed.RoomID, err)
		}

		if depID != nil && (room.DepartmentID == nil || *room.DepartmentID != *depID) {
			continue
		}
		if bed.GenderRestriction != "" && bed.GenderRestriction != hospital.GenderNone &&
			bed.GenderRestriction != patient.Sex {
			continue
		}
		if room.GenderRestriction != "" && room.GenderRestriction != hospital.GenderNone &&
			room.GenderRestriction != patient.Sex {
			continue
		}

		compatible = append(compatible, BedWithRoom{Bed: bed, Room: *room})
	}

	return &AvailableBeds{
		Patient: PatientInfo{
			EptID: patient.EptID,
			Name:  patient.FullName(),
			Sex:   patient.Sex,
		},
		AvailableBeds:  compatible,
		TotalAvailable: len(compatible),
	}, nil
}

// RoomBedStatus returns the bed board for a room.
func (s *Service) RoomBedStatus(ctx context.Context, romID string) (*RoomBedStatus, error) {
	room, err := s.repo.GetRoom(ctx, romID)
	if err != nil {
		return nil, err
	}

	roomBeds, err := s.repo.ListBedsByRoom(ctx, romID)
	if err != nil {
		return nil, fmt.Errorf("list beds for room: %w", err)
	}

	status := &RoomBedStatus{Room: *room, Beds: make([]BedBoardEntry, 0, len(roomBeds))}
	for _, bed := range roomBeds {
		entry := BedBoardEntry{Bed: bed}

		if bed.Status == hospital.BedOccupied && bed.OccupiedBy != nil {
			if patient, err := s.repo.GetPatient(ctx, *bed.OccupiedBy); err == nil {
				entry.Patient = &OccupantInfo{
					EptID: patient.EptID,
					Name:  patient.FullName(),
					Sex:   patient.Sex,
					MRN:   patient.MRN,
				}
			}
		}

		status.Beds = append(status.Beds, entry)
		status.Summary.Total++
		switch bed.Status {
		case hospital.BedAvailable:
			status.Summary.Available++
		case hospital.BedOccupied:
			status.Summary.Occupied++
		case hospital.BedHousekeeping:
			status.Summary.Housekeeping++
		}
	}

	return status, nil
}

func (s *Service) audit(ctx context.Context, actor, action, bedID string, changes map[string]any) {
	if actor == "" {
		actor = "SYSTEM"
	}
	entry := hospital.AuditEntry{
		ID:         uuid.NewString(),
		UserID:     actor,
		Action:     action,
		RecordType: "BED",
		RecordID:   bedID,
		Changes:    changes,
		Timestamp:  time.Now(),
	}
	if err := s.repo.InsertAudit(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("action", action).Str("bed_id", bedID).
			Msg("failed to insert audit entry")
	}
}
