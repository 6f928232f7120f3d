// Package settings implements the Rule of Specificity: the most specific
// configured level wins, bubbling up department -> facility chain -> system
// defaults.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsim/regsim/internal/hospital"
)

const (
	SourceDepartment    = "DEPARTMENT"
	SourceSystemDefault = "SYSTEM_DEFAULT"
	SourceNotConfigured = "NOT_CONFIGURED"
	SourceNotFound      = "NOT_FOUND"
)

// FacilitySource renders the tier name for a facility kind, e.g.
// FACILITY_REVENUELOCATION.
func FacilitySource(kind hospital.FacilityKind) string {
	return "FACILITY_" + strings.ToUpper(string(kind))
}

// maxFacilityDepth bounds the parent-pointer ascent. The hierarchy is acyclic
// by convention only, so a runaway chain stops here instead of looping.
const maxFacilityDepth = 32

// Resolution is the outcome of a single bubble-up lookup.
// ExplicitlyBlanked reports that some tier more specific than the winning one
// held an explicit null; resolution falls through such a tier, but the signal
// is preserved so callers can surface the override.
type Resolution struct {
	Key               string `json:"key"`
	Value             any    `json:"value"`
	Source            string `json:"source"`
	LevelName         string `json:"levelName,omitempty"`
	LevelID           string `json:"levelId,omitempty"`
	Description       string `json:"description,omitempty"`
	ExplicitlyBlanked bool   `json:"explicitlyBlanked,omitempty"`
	Message           string `json:"message,omitempty"`
}

// HierarchyLevel is one rung of the department-to-system-defaults chain.
type HierarchyLevel struct {
	Level      string            `json:"level"`
	Name       string            `json:"name,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	Settings   hospital.Settings `json:"settings"`
	ParentID   *string           `json:"parentId,omitempty"`
}

// DepartmentInfo identifies the department a batch resolution ran for.
type DepartmentInfo struct {
	DepID string `json:"depId"`
	Name  string `json:"name"`
}

// DepartmentSettings is the batch resolution result.
type DepartmentSettings struct {
	Department DepartmentInfo        `json:"department"`
	Settings   map[string]Resolution `json:"settings"`
}

type Resolver struct {
	repo hospital.Repository
	log  zerolog.Logger
}

func NewResolver(repo hospital.Repository, log zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, log: log.With().Str("component", "settings").Logger()}
}

// Resolve walks department -> facility chain (nearest ancestor first) ->
// system defaults and returns the first configured value. A missing
// department is reported as data with source NOT_FOUND, not as an error.
func (r *Resolver) Resolve(ctx context.Context, depID, key string) (Resolution, error) {
	dept, err := r.repo.GetDepartment(ctx, depID)
	if err != nil {
		if errors.Is(err, hospital.ErrDepartmentNotFound) {
			return Resolution{
				Key:     key,
				Source:  SourceNotFound,
				Message: "Department not found",
			}, nil
		}
		return Resolution{}, fmt.Errorf("load department: %w", err)
	}

	blanked := false
	if v, present := dept.Settings[key]; present {
		if v != nil {
			return Resolution{
				Key:       key,
				Value:     v,
				Source:    SourceDepartment,
				LevelName: dept.Name,
				LevelID:   dept.DepID,
			}, nil
		}
		blanked = true
	}

	if dept.FacilityID != nil {
		res, facBlanked, err := r.bubbleUp(ctx, *dept.FacilityID, key)
		if err != nil {
			return Resolution{}, err
		}
		if res != nil {
			res.ExplicitlyBlanked = blanked || facBlanked
			return *res, nil
		}
		blanked = blanked || facBlanked
	}

	sd, err := r.repo.GetSystemDefault(ctx, key)
	if err == nil {
		return Resolution{
			Key:               key,
			Value:             sd.Value,
			Source:            SourceSystemDefault,
			Description:       sd.Description,
			ExplicitlyBlanked: blanked,
		}, nil
	}
	if !errors.Is(err, hospital.ErrSystemDefaultNotFound) {
		return Resolution{}, fmt.Errorf("load system default: %w", err)
	}

	return Resolution{
		Key:               key,
		Source:            SourceNotConfigured,
		ExplicitlyBlanked: blanked,
		Message:           fmt.Sprintf("Setting %q not found in hierarchy", key),
	}, nil
}

// bubbleUp ascends the facility chain looking for key. Returns the winning
// resolution (nil if no tier holds a value) and whether any visited tier held
// an explicit null. A dangling parent reference ends the ascent; references
// are soft by design.
func (r *Resolver) bubbleUp(ctx context.Context, eafID, key string) (*Resolution, bool, error) {
	blanked := false
	current := eafID

	for depth := 0; depth < maxFacilityDepth; depth++ {
		fac, err := r.repo.GetFacility(ctx, current)
		if err != nil {
			if errors.Is(err, hospital.ErrFacilityNotFound) {
				return nil, blanked, nil
			}
			return nil, false, fmt.Errorf("load facility %s: %w", current, err)
		}

		if v, present := fac.Settings[key]; present {
			if v != nil {
				return &Resolution{
					Key:       key,
					Value:     v,
					Source:    FacilitySource(fac.Kind),
					LevelName: fac.Name,
					LevelID:   fac.EafID,
				}, blanked, nil
			}
			blanked = true
		}

		if fac.ParentID == nil {
			return nil, blanked, nil
		}
		current = *fac.ParentID
	}

	r.log.Warn().Str("eaf_id", eafID).Str("key", key).
		Msg("facility hierarchy depth cap reached, possible cycle")
	return nil, blanked, nil
}

// DepartmentSettings resolves every key known at the department or system
// default tier.
func (r *Resolver) DepartmentSettings(ctx context.Context, depID string) (*DepartmentSettings, error) {
	dept, err := r.repo.GetDepartment(ctx, depID)
	if err != nil {
		return nil, err
	}

	defaults, err := r.repo.ListSystemDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list system defaults: %w", err)
	}

	keys := make(map[string]struct{}, len(dept.Settings)+len(defaults))
	for k := range dept.Settings {
		keys[k] = struct{}{}
	}
	for _, sd := range defaults {
		keys[sd.Key] = struct{}{}
	}

	resolved := make(map[string]Resolution, len(keys))
	for k := range keys {
		res, err := r.Resolve(ctx, depID, k)
		if err != nil {
			return nil, err
		}
		resolved[k] = res
	}

	return &DepartmentSettings{
		Department: DepartmentInfo{DepID: dept.DepID, Name: dept.Name},
		Settings:   resolved,
	}, nil
}

// Hierarchy lists the chain from the department up to system defaults with
// each tier's raw settings.
func (r *Resolver) Hierarchy(ctx context.Context, depID string) ([]HierarchyLevel, error) {
	dept, err := r.repo.GetDepartment(ctx, depID)
	if err != nil {
		return nil, err
	}

	levels := []HierarchyLevel{{
		Level:      "Department",
		Name:       dept.Name,
		Identifier: dept.DepID,
		Settings:   dept.Settings,
	}}

	if dept.FacilityID != nil {
		current := *dept.FacilityID
		for depth := 0; depth < maxFacilityDepth; depth++ {
			fac, err := r.repo.GetFacility(ctx, current)
			if err != nil {
				if errors.Is(err, hospital.ErrFacilityNotFound) {
					break
				}
				return nil, fmt.Errorf("load facility %s: %w", current, err)
			}

			levels = append(levels, HierarchyLevel{
				Level:      string(fac.Kind),
				Name:       fac.Name,
				Identifier: fac.EafID,
				Settings:   fac.Settings,
				ParentID:   fac.ParentID,
			})

			if fac.ParentID == nil {
				break
			}
			current = *fac.ParentID
		}
	}

	defaults, err := r.repo.ListSystemDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list system defaults: %w", err)
	}
	defaultSettings := make(hospital.Settings, len(defaults))
	for _, sd := range defaults {
		defaultSettings[sd.Key] = sd.Value
	}
	levels = append(levels, HierarchyLevel{
		Level:    "System Defaults",
		Settings: defaultSettings,
	})

	return levels, nil
}

// SetDepartmentSetting writes a department-tier override. A nil value is a
// legal write and means "explicitly blanked".
func (r *Resolver) SetDepartmentSetting(ctx context.Context, depID, key string, value any, actor string) error {
	dept, err := r.repo.GetDepartment(ctx, depID)
	if err != nil {
		return err
	}

	updated := make(hospital.Settings, len(dept.Settings)+1)
	for k, v := range dept.Settings {
		updated[k] = v
	}
	oldValue := dept.Settings[key]
	updated[key] = value

	if err := r.repo.UpdateDepartmentSettings(ctx, depID, updated); err != nil {
		return err
	}

	r.audit(ctx, actor, "DEP", dept.DepID, key, oldValue, value)
	return nil
}

// SetFacilitySetting writes a facility-tier override.
func (r *Resolver) SetFacilitySetting(ctx context.Context, eafID, key string, value any, actor string) error {
	fac, err := r.repo.GetFacility(ctx, eafID)
	if err != nil {
		return err
	}

	updated := make(hospital.Settings, len(fac.Settings)+1)
	for k, v := range fac.Settings {
		updated[k] = v
	}
	oldValue := fac.Settings[key]
	updated[key] = value

	if err := r.repo.UpdateFacilitySettings(ctx, eafID, updated); err != nil {
		return err
	}

	r.audit(ctx, actor, "EAF", fac.EafID, key, oldValue, value)
	return nil
}

func (r *Resolver) audit(ctx context.Context, actor, recordType, recordID, key string, oldValue, newValue any) {
	if actor == "" {
		actor = "SYSTEM"
	}
	entry := hospital.AuditEntry{
		ID:         uuid.NewString(),
		UserID:     actor,
		Action:     hospital.ActionSettingUpdate,
		RecordType: recordType,
		RecordID:   recordID,
		Changes: map[string]any{
			"settingKey": key,
			"oldValue":   oldValue,
			"newValue":   newValue,
		},
		Timestamp: time.Now(),
	}
	if err := r.repo.InsertAudit(ctx, entry); err != nil {
		r.log.Error().Err(err).Str("record_id", recordID).Msg("failed to insert audit entry")
	}
}
