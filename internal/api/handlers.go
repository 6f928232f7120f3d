package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/medsim/regsim/internal/beds"
	"github.com/medsim/regsim/internal/hospital"
	"github.com/medsim/regsim/internal/mitosis"
	redisclient "github.com/medsim/regsim/internal/redis"
	"github.com/medsim/regsim/internal/registration"
	"github.com/medsim/regsim/internal/settings"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// Settings

func resolveSettingHandler(resolver *settings.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depID := chi.URLParam(r, "depId")
		key := chi.URLParam(r, "key")

		res, err := resolver.Resolve(r.Context(), depID, key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		status := http.StatusOK
		if res.Source == settings.SourceNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, res)
	}
}

func departmentSettingsHandler(resolver *settings.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depID := chi.URLParam(r, "depId")

		res, err := resolver.DepartmentSettings(r.Context(), depID)
		if err != nil {
			if errors.Is(err, hospital.ErrDepartmentNotFound) {
				writeError(w, http.StatusNotFound, "department_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func facilityHierarchyHandler(resolver *settings.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depID := chi.URLParam(r, "depId")

		levels, err := resolver.Hierarchy(r.Context(), depID)
		if err != nil {
			if errors.Is(err, hospital.ErrDepartmentNotFound) {
				writeError(w, http.StatusNotFound, "department_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, levels)
	}
}

func setDepartmentSettingHandler(resolver *settings.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depID := chi.URLParam(r, "depId")
		key := chi.URLParam(r, "key")

		req, value, ok := decodeSetSetting(w, r)
		if !ok {
			return
		}

		err := resolver.SetDepartmentSetting(r.Context(), depID, key, value, req.ActorID)
		if err != nil {
			if errors.Is(err, hospital.ErrDepartmentNotFound) {
				writeError(w, http.StatusNotFound, "department_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SetSettingResponse{
			Success:    true,
			Identifier: depID,
			SettingKey: key,
			Value:      value,
		})
	}
}

func setFacilitySettingHandler(resolver *settings.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eafID := chi.URLParam(r, "eafId")
		key := chi.URLParam(r, "key")

		req, value, ok := decodeSetSetting(w, r)
		if !ok {
			return
		}

		err := resolver.SetFacilitySetting(r.Context(), eafID, key, value, req.ActorID)
		if err != nil {
			if errors.Is(err, hospital.ErrFacilityNotFound) {
				writeError(w, http.StatusNotFound, "facility_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SetSettingResponse{
			Success:    true,
			Identifier: eafID,
			SettingKey: key,
			Value:      value,
		})
	}
}

func decodeSetSetting(w http.ResponseWriter, r *http.Request) (SetSettingRequest, any, bool) {
	var req SetSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return req, nil, false
	}

	// A null or absent value field both write an explicit blank; the
	// distinction that matters downstream is presence of the key itself.
	var value any
	if len(req.RawValue) > 0 {
		if err := json.Unmarshal(req.RawValue, &value); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_value", "value must be valid JSON")
			return req, nil, false
		}
	}
	return req, value, true
}

// Beds

func validateBedAssignmentHandler(svc *beds.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bedID := chi.URLParam(r, "bedId")
		patientID := r.URL.Query().Get("patient_id")
		if patientID == "" {
			writeError(w, http.StatusBadRequest, "missing_patient_id", "patient_id query parameter is required")
			return
		}

		verdict, err := svc.Validate(r.Context(), bedID, patientID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, verdict)
	}
}

func assignBedHandler(svc *beds.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bedID := chi.URLParam(r, "bedId")

		var req AssignBedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.PatientID == "" {
			writeError(w, http.StatusBadRequest, "missing_patient_id", "patient_id is required")
			return
		}

		result, err := svc.Assign(r.Context(), bedID, req.PatientID, req.ActorID)
		if err != nil {
			handleAssignError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleAssignError(w http.ResponseWriter, err error) {
	var invalid *beds.InvalidAssignmentError
	switch {
	case errors.As(err, &invalid):
		status := http.StatusConflict
		switch invalid.Verdict.Code {
		case beds.CodeBedNotFound, beds.CodePatientNotFound, beds.CodeRoomNotFound:
			status = http.StatusNotFound
		}
		writeJSON(w, status, invalid.Verdict)
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "bed_being_assigned", "bed is currently being assigned, please retry shortly")
	case errors.Is(err, hospital.ErrBedNotAvailable):
		writeError(w, http.StatusConflict, "bed_not_available", err.Error())
	case errors.Is(err, hospital.ErrBedNotFound):
		writeError(w, http.StatusNotFound, "bed_not_found", err.Error())
	case errors.Is(err, hospital.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func releaseBedHandler(svc *beds.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bedID := chi.URLParam(r, "bedId")

		var req ReleaseBedRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		result, err := svc.Release(r.Context(), bedID, req.ActorID)
		if err != nil {
			switch {
			case errors.Is(err, hospital.ErrBedNotFound):
				writeError(w, http.StatusNotFound, "bed_not_found", err.Error())
			case errors.Is(err, redisclient.ErrLockNotAcquired):
				writeError(w, http.StatusConflict, "bed_being_assigned", "bed is currently being assigned, please retry shortly")
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func availableBedsHandler(svc *beds.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID := chi.URLParam(r, "eptId")

		var depID *string
		if d := r.URL.Query().Get("department_id"); d != "" {
			depID = &d
		}

		result, err := svc.AvailableBedsForPatient(r.Context(), patientID, depID)
		if err != nil {
			if errors.Is(err, hospital.ErrPatientNotFound) {
				writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func roomBedStatusHandler(svc *beds.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		romID := chi.URLParam(r, "romId")

		result, err := svc.RoomBedStatus(r.Context(), romID)
		if err != nil {
			if errors.Is(err, hospital.ErrRoomNotFound) {
				writeError(w, http.StatusNotFound, "room_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// Registration

func validateRegistrationHandler(v *registration.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID := chi.URLParam(r, "eptId")

		report, err := v.ValidateRegistration(r.Context(), patientID)
		if err != nil {
			if errors.Is(err, hospital.ErrPatientNotFound) {
				writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// Mitosis

func runMitosisHandler(engine *mitosis.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RunMitosisRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		var (
			result *mitosis.Result
			err    error
		)
		if req.ActorID != "" {
			result, err = engine.TriggerManually(r.Context(), req.ActorID)
		} else {
			result, err = engine.Run(r.Context())
		}
		if err != nil {
			if errors.Is(err, redisclient.ErrLockNotAcquired) {
				writeError(w, http.StatusConflict, "mitosis_in_progress", "a mitosis run is already in progress")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func shouldRunMitosisHandler(engine *mitosis.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := engine.ShouldRun(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func mitosisStatsHandler(engine *mitosis.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if l := r.URL.Query().Get("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil && n > 0 {
				limit = n
			}
		}

		stats, err := engine.Stats(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func initializeTemplatesHandler(engine *mitosis.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := engine.InitializeTemplates(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
