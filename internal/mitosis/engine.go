// Package mitosis implements the nightly data-lifecycle reset: dynamic
// records are purged, template "Golden Records" survive and are date-slid so
// their relative age stays constant across runs.
package mitosis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsim/regsim/internal/hospital"
	"github.com/medsim/regsim/internal/metrics"
	redisclient "github.com/medsim/regsim/internal/redis"
)

type Result struct {
	PatientsDeleted         int       `json:"patientsDeleted"`
	GuarantorsDeleted       int       `json:"guarantorsDeleted"`
	HospitalAccountsDeleted int       `json:"hospitalAccountsDeleted"`
	TemplatesUpdated        int       `json:"templatesUpdated"`
	Timestamp               time.Time `json:"timestamp"`
}

type ShouldRunResult struct {
	ShouldRun bool       `json:"shouldRun"`
	Reason    string     `json:"reason"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
}

type RunSummary struct {
	Timestamp   time.Time      `json:"timestamp"`
	Results     map[string]any `json:"results"`
	TriggeredBy string         `json:"triggeredBy"`
}

type InitTemplatesResult struct {
	Message           string `json:"message,omitempty"`
	ExistingCount     int    `json:"existingCount,omitempty"`
	TemplatesCreated  int    `json:"templatesCreated"`
	GuarantorsCreated int    `json:"guarantorsCreated"`
}

type Engine struct {
	repo      hospital.Repository
	locker    redisclient.Locker
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewEngine(repo hospital.Repository, locker redisclient.Locker, retention time.Duration, log zerolog.Logger) *Engine {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Engine{
		repo:      repo,
		locker:    locker,
		retention: retention,
		log:       log.With().Str("component", "mitosis").Logger(),
		now:       time.Now,
	}
}

// WithClock overrides the engine's notion of "now". Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run executes the reset as a single exclusive batch under the global
// mitosis lock.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	var result *Result

	err := e.locker.WithMitosisLock(ctx, func(lockCtx context.Context) error {
		r, err := e.run(lockCtx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context) (*Result, error) {
	result := &Result{Timestamp: e.now()}

	// Phase 1: purge non-template patients.
	deleted, err := e.repo.DeleteNonTemplatePatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("purge patients: %w", err)
	}
	result.PatientsDeleted = deleted

	// Phase 2: purge guarantors no template patient still references.
	guarantors, err := e.repo.ListGuarantors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list guarantors: %w", err)
	}
	for _, g := range guarantors {
		linked, err := e.repo.TemplateExistsForGuarantor(ctx, g.EarID)
		if err != nil {
			return nil, fmt.Errorf("check guarantor linkage: %w", err)
		}
		if linked {
			continue
		}
		if err := e.repo.DeleteGuarantor(ctx, g.EarID); err != nil {
			if errors.Is(err, hospital.ErrGuarantorNotFound) {
				continue
			}
			return nil, fmt.Errorf("delete guarantor %s: %w", g.EarID, err)
		}
		result.GuarantorsDeleted++
	}

	// Phase 3: hospital accounts are always dynamic.
	deleted, err = e.repo.DeleteAllHospitalAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("purge hospital accounts: %w", err)
	}
	result.HospitalAccountsDeleted = deleted

	// Phase 4: stale validation records.
	if _, err := e.repo.DeleteValidationsBefore(ctx, e.now().Add(-e.retention)); err != nil {
		return nil, fmt.Errorf("purge validations: %w", err)
	}

	// Phase 5: date-slide templates.
	templates, err := e.repo.ListTemplatePatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	for _, t := range templates {
		if t.RelativeAge == nil {
			continue
		}
		dob := SlideDateOfBirth(*t.RelativeAge, e.now())
		if err := e.repo.UpdatePatientDateOfBirth(ctx, t.EptID, dob); err != nil {
			return nil, fmt.Errorf("date-slide template %s: %w", t.EptID, err)
		}
		result.TemplatesUpdated++
	}

	e.audit(ctx, "SYSTEM", hospital.ActionMitosisReset, map[string]any{
		"patientsDeleted":         result.PatientsDeleted,
		"guarantorsDeleted":       result.GuarantorsDeleted,
		"hospitalAccountsDeleted": result.HospitalAccountsDeleted,
		"templatesUpdated":        result.TemplatesUpdated,
		"timestamp":               result.Timestamp,
	})

	metrics.MitosisRuns.Inc()
	metrics.MitosisPurged.WithLabelValues("patient").Add(float64(result.PatientsDeleted))
	metrics.MitosisPurged.WithLabelValues("guarantor").Add(float64(result.GuarantorsDeleted))
	metrics.MitosisPurged.WithLabelValues("hospital_account").Add(float64(result.HospitalAccountsDeleted))

	e.log.Info().
		Int("patients_deleted", result.PatientsDeleted).
		Int("guarantors_deleted", result.GuarantorsDeleted).
		Int("hospital_accounts_deleted", result.HospitalAccountsDeleted).
		Int("templates_updated", result.TemplatesUpdated).
		Msg("mitosis run complete")

	return result, nil
}

// SlideDateOfBirth recomputes a date of birth anchored to now. A relative age
// below 1 is a sub-year age (0.008 is roughly 3 days); otherwise whole years
// are subtracted.
func SlideDateOfBirth(relativeAge float64, now time.Time) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if relativeAge < 1 {
		days := int(math.Round(relativeAge * 365))
		return today.AddDate(0, 0, -days)
	}
	return today.AddDate(-int(math.Floor(relativeAge)), 0, 0)
}

// TriggerManually attributes the trigger to an actor, then runs.
func (e *Engine) TriggerManually(ctx context.Context, actor string) (*Result, error) {
	if actor == "" {
		actor = "SYSTEM"
	}
	e.audit(ctx, actor, hospital.ActionMitosisManualTrigger, map[string]any{
		"triggeredBy": actor,
	})
	return e.Run(ctx)
}

// ShouldRun reports whether a reset is due: no prior run, or the last run is
// older than the retention window.
func (e *Engine) ShouldRun(ctx context.Context) (*ShouldRunResult, error) {
	last, err := e.repo.LatestAuditByAction(ctx, hospital.ActionMitosisReset)
	if err != nil {
		if errors.Is(err, hospital.ErrAuditNotFound) {
			return &ShouldRunResult{
				ShouldRun: true,
				Reason:    "No previous mitosis run found",
			}, nil
		}
		return nil, fmt.Errorf("load last mitosis run: %w", err)
	}

	cutoff := e.now().Add(-e.retention)
	if last.Timestamp.Before(cutoff) {
		return &ShouldRunResult{
			ShouldRun: true,
			Reason:    fmt.Sprintf("Last run was more than %s ago", e.retention),
			LastRun:   &last.Timestamp,
		}, nil
	}
	return &ShouldRunResult{
		ShouldRun: false,
		Reason:    "Mitosis ran recently",
		LastRun:   &last.Timestamp,
	}, nil
}

// Stats lists past run summaries, newest first.
func (e *Engine) Stats(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	entries, err := e.repo.ListAuditsByAction(ctx, hospital.ActionMitosisReset, limit)
	if err != nil {
		return nil, fmt.Errorf("list mitosis runs: %w", err)
	}

	summaries := make([]RunSummary, 0, len(entries))
	for _, entry := range entries {
		summaries = append(summaries, RunSummary{
			Timestamp:   entry.Timestamp,
			Results:     entry.Changes,
			TriggeredBy: entry.UserID,
		})
	}
	return summaries, nil
}

// InitializeTemplates seeds the fixed Golden Record set. Idempotent: a no-op
// when any template patient already exists.
func (e *Engine) InitializeTemplates(ctx context.Context) (*InitTemplatesResult, error) {
	existing, err := e.repo.ListTemplatePatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if len(existing) > 0 {
		return &InitTemplatesResult{
			Message:       "Templates already initialized",
			ExistingCount: len(existing),
		}, nil
	}

	now := e.now()
	result := &InitTemplatesResult{}

	for _, g := range templateGuarantors() {
		g := g
		if err := e.repo.CreateGuarantor(ctx, &g); err != nil {
			return nil, fmt.Errorf("create template guarantor %s: %w", g.EarID, err)
		}
		result.GuarantorsCreated++
	}

	for _, p := range templatePatients(now) {
		p := p
		if err := e.repo.CreatePatient(ctx, &p); err != nil {
			return nil, fmt.Errorf("create template patient %s: %w", p.EptID, err)
		}
		result.TemplatesCreated++
	}

	e.audit(ctx, "SYSTEM", hospital.ActionTemplatesInitialized, map[string]any{
		"templatesCreated":  result.TemplatesCreated,
		"guarantorsCreated": result.GuarantorsCreated,
	})

	return result, nil
}

func templatePatients(now time.Time) []hospital.Patient {
	str := func(s string) *string { return &s }
	f := func(v float64) *float64 { return &v }

	return []hospital.Patient{
		{
			EptID:       "TEMPLATE_INFANT_001",
			MRN:         "T000001",
			FirstName:   "Baby",
			LastName:    "Doe",
			DateOfBirth: SlideDateOfBirth(0.008, now),
			Sex:         hospital.GenderMale,
			GuarantorID: str("TEMPLATE_GUARANTOR_001"),
			IsTemplate:  true,
			RelativeAge: f(0.008),
		},
		{
			EptID:       "TEMPLATE_CHILD_001",
			MRN:         "T000002",
			FirstName:   "Johnny",
			LastName:    "Smith",
			DateOfBirth: SlideDateOfBirth(10, now),
			Sex:         hospital.GenderMale,
			GuarantorID: str("TEMPLATE_GUARANTOR_002"),
			IsTemplate:  true,
			RelativeAge: f(10),
		},
		{
			// Adult self-guarantor: legal above the pediatric threshold.
			EptID:       "TEMPLATE_ADULT_001",
			MRN:         "T000003",
			FirstName:   "Jane",
			LastName:    "Johnson",
			DateOfBirth: SlideDateOfBirth(35, now),
			Sex:         hospital.GenderFemale,
			GuarantorID: str("TEMPLATE_ADULT_001"),
			IsTemplate:  true,
			RelativeAge: f(35),
		},
	}
}

func templateGuarantors() []hospital.Guarantor {
	str := func(s string) *string { return &s }

	return []hospital.Guarantor{
		{
			EarID:   "TEMPLATE_GUARANTOR_001",
			Name:    "John Doe Sr.",
			Address: str("123 Main St"),
			City:    str("Springfield"),
			State:   str("IL"),
			Zip:     str("62701"),
		},
		{
			EarID:   "TEMPLATE_GUARANTOR_002",
			Name:    "Mary Smith",
			Address: str("456 Oak Ave"),
			City:    str("Springfield"),
			State:   str("IL"),
			Zip:     str("62702"),
		},
	}
}

func (e *Engine) audit(ctx context.Context, actor, action string, changes map[string]any) {
	entry := hospital.AuditEntry{
		ID:         uuid.NewString(),
		UserID:     actor,
		Action:     action,
		RecordType: "SYSTEM",
		RecordID:   "MITOSIS",
		Changes:    changes,
		Timestamp:  e.now(),
	}
	if action == hospital.ActionTemplatesInitialized {
		entry.RecordID = "TEMPLATES"
	}
	if err := e.repo.InsertAudit(ctx, entry); err != nil {
		e.log.Error().Err(err).Str("action", action).Msg("failed to insert audit entry")
	}
}
