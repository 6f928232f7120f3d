// Package registration evaluates guarantor-linkage and pediatric-guarantor
// rules for a patient record. Unlike bed validation this pipeline
// accumulates every failure instead of stopping at the first.
package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsim/regsim/internal/hospital"
	"github.com/medsim/regsim/internal/metrics"
)

const (
	CodeGuarantorMissing  = "EPT_GUARANTOR_MISSING"
	CodeGuarantorInvalid  = "EPT_GUARANTOR_INVALID"
	CodePediatricRequired = "PEDIATRIC_GUARANTOR_REQUIRED"
	CodePediatricSelf     = "PEDIATRIC_SELF_GUARANTOR"
	CodeAddressMismatch   = "ADDRESS_MISMATCH"
)

// pediatricAgeThreshold: patients younger than this cannot be their own
// financial guarantor.
const pediatricAgeThreshold = 18

type Check struct {
	IsValid  bool              `json:"isValid"`
	Severity hospital.Severity `json:"severity"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
}

type Summary struct {
	HardStops int `json:"hardStops"`
	SoftStops int `json:"softStops"`
	Warnings  int `json:"warnings"`
}

// Report lists only failing checks; passing and skipped checks are omitted.
type Report struct {
	IsValid               bool    `json:"isValid"`
	CanProceedWithWarning bool    `json:"canProceedWithWarning"`
	Validations           []Check `json:"validations"`
	Summary               Summary `json:"summary"`
}

type Validator struct {
	repo hospital.Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewValidator(repo hospital.Repository, log zerolog.Logger) *Validator {
	return &Validator{
		repo: repo,
		log:  log.With().Str("component", "registration").Logger(),
		now:  time.Now,
	}
}

// WithClock overrides the validator's notion of "now". Used by tests to pin
// age calculations.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// AgeAt computes age in whole years: the year difference, decremented by one
// if the (month, day) of now precedes the (month, day) of birth, never
// negative.
func AgeAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age
}

// ValidateRegistration runs all checks and persists every failure as a
// validation record.
func (v *Validator) ValidateRegistration(ctx context.Context, eptID string) (*Report, error) {
	patient, err := v.repo.GetPatient(ctx, eptID)
	if err != nil {
		return nil, err
	}

	var guarantor *hospital.Guarantor
	if patient.GuarantorID != nil {
		guarantor, err = v.repo.GetGuarantor(ctx, *patient.GuarantorID)
		if err != nil && !errors.Is(err, hospital.ErrGuarantorNotFound) {
			return nil, fmt.Errorf("load guarantor: %w", err)
		}
	}

	var failures []Check

	if c := v.checkGuarantorLinkage(patient, guarantor); c != nil {
		failures = append(failures, *c)
	}
	if c := v.checkPediatricGuarantor(patient); c != nil {
		failures = append(failures, *c)
	}
	if c := v.checkAddressMismatch(patient, guarantor); c != nil {
		failures = append(failures, *c)
	}

	report := &Report{Validations: failures}
	for _, c := range failures {
		switch c.Severity {
		case hospital.SeverityHardStop:
			report.Summary.HardStops++
		case hospital.SeveritySoftStop:
			report.Summary.SoftStops++
		case hospital.SeverityWarning:
			report.Summary.Warnings++
		}
		metrics.ValidationFailures.WithLabelValues(string(c.Severity)).Inc()
		v.record(ctx, eptID, c)
	}
	report.IsValid = report.Summary.HardStops == 0
	report.CanProceedWithWarning = report.IsValid && report.Summary.SoftStops > 0

	return report, nil
}

// checkGuarantorLinkage: every EPT record must be linked to an existing EAR
// record.
func (v *Validator) checkGuarantorLinkage(patient *hospital.Patient, guarantor *hospital.Guarantor) *Check {
	if patient.GuarantorID == nil {
		return &Check{
			Severity: hospital.SeverityHardStop,
			Code:     CodeGuarantorMissing,
			Message:  "Patient record must be linked to a guarantor (EAR).",
		}
	}
	if guarantor == nil {
		return &Check{
			Severity: hospital.SeverityHardStop,
			Code:     CodeGuarantorInvalid,
			Message:  "Linked guarantor (EAR) record does not exist.",
		}
	}
	return nil
}

// checkPediatricGuarantor: patients under 18 must have a guarantor and it
// cannot be themselves.
func (v *Validator) checkPediatricGuarantor(patient *hospital.Patient) *Check {
	age := AgeAt(patient.DateOfBirth, v.now())
	if age >= pediatricAgeThreshold {
		return nil
	}

	if patient.GuarantorID == nil {
		return &Check{
			Severity: hospital.SeverityHardStop,
			Code:     CodePediatricRequired,
			Message:  "Pediatric patients (age < 18) must have a separate guarantor.",
		}
	}
	if *patient.GuarantorID == patient.EptID {
		return &Check{
			Severity: hospital.SeverityHardStop,
			Code:     CodePediatricSelf,
			Message:  fmt.Sprintf("Pediatric patients cannot be their own guarantor. Age: %d", age),
		}
	}
	return nil
}

// checkAddressMismatch: evaluated only when a guarantor is linked and both
// addresses are present; otherwise skipped, not reported.
func (v *Validator) checkAddressMismatch(patient *hospital.Patient, guarantor *hospital.Guarantor) *Check {
	if guarantor == nil || patient.Address == nil || guarantor.Address == nil {
		return nil
	}
	if *patient.Address != *guarantor.Address {
		return &Check{
			Severity: hospital.SeveritySoftStop,
			Code:     CodeAddressMismatch,
			Message:  "Compliance Warning: Patient address differs from Guarantor address.",
		}
	}
	return nil
}

func (v *Validator) record(ctx context.Context, eptID string, c Check) {
	rec := hospital.ValidationRecord{
		RecordType: "EPT",
		RecordID:   eptID,
		Severity:   c.Severity,
		Code:       c.Code,
		Message:    c.Message,
		Timestamp:  v.now(),
	}
	if err := v.repo.InsertValidation(ctx, rec); err != nil {
		v.log.Error().Err(err).Str("ept_id", eptID).Str("code", c.Code).
			Msg("failed to persist validation record")
	}
}
