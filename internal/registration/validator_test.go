package registration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsim/regsim/internal/hospital"
)

var testNow = time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

func str(s string) *string { return &s }

func newValidator(t *testing.T) (*hospital.MemoryRepository, *Validator) {
	t.Helper()
	repo := hospital.NewMemoryRepository()
	v := NewValidator(repo, zerolog.Nop()).WithClock(func() time.Time { return testNow })
	return repo, v
}

func addGuarantor(t *testing.T, repo hospital.Repository, earID, address string) {
	t.Helper()
	require.NoError(t, repo.CreateGuarantor(context.Background(), &hospital.Guarantor{
		EarID:   earID,
		Name:    "Guarantor " + earID,
		Address: str(address),
	}))
}

func codes(report *Report) []string {
	out := make([]string, 0, len(report.Validations))
	for _, c := range report.Validations {
		out = append(out, c.Code)
	}
	return out
}

func TestAgeAt(t *testing.T) {
	dob := time.Date(2008, time.August, 1, 0, 0, 0, 0, time.UTC)

	// Birthday not yet reached this year.
	assert.Equal(t, 17, AgeAt(dob, testNow))
	// On the birthday itself.
	assert.Equal(t, 18, AgeAt(dob, time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)))
	// Same month, day before the birthday.
	assert.Equal(t, 17, AgeAt(time.Date(2008, time.June, 20, 0, 0, 0, 0, time.UTC), testNow))
	// Future birth dates clamp to zero.
	assert.Equal(t, 0, AgeAt(testNow.AddDate(1, 0, 0), testNow))
}

func TestValidAdultRegistration(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	addGuarantor(t, repo, "EAR-1", "123 Main St")
	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-1",
		FirstName:   "Ada",
		LastName:    "Gray",
		DateOfBirth: testNow.AddDate(-30, 0, 0),
		Sex:         hospital.GenderFemale,
		GuarantorID: str("EAR-1"),
		Address:     str("123 Main St"),
	}))

	report, err := v.ValidateRegistration(ctx, "EPT-1")
	require.NoError(t, err)

	assert.True(t, report.IsValid)
	assert.False(t, report.CanProceedWithWarning)
	assert.Empty(t, report.Validations)
	assert.Equal(t, Summary{}, report.Summary)
}

func TestMissingGuarantorIsHardStop(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-1",
		DateOfBirth: testNow.AddDate(-40, 0, 0),
		Sex:         hospital.GenderMale,
	}))

	report, err := v.ValidateRegistration(ctx, "EPT-1")
	require.NoError(t, err)

	assert.False(t, report.IsValid)
	assert.Equal(t, []string{CodeGuarantorMissing}, codes(report))
	assert.Equal(t, 1, report.Summary.HardStops)
}

func TestDanglingGuarantorReference(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-1",
		DateOfBirth: testNow.AddDate(-40, 0, 0),
		GuarantorID: str("EAR-GONE"),
	}))

	report, err := v.ValidateRegistration(ctx, "EPT-1")
	require.NoError(t, err)

	assert.False(t, report.IsValid)
	assert.Equal(t, []string{CodeGuarantorInvalid}, codes(report))
}

func TestPediatricWithoutGuarantorAccumulatesBothFailures(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-KID",
		DateOfBirth: testNow.AddDate(-10, 0, 0),
	}))

	report, err := v.ValidateRegistration(ctx, "EPT-KID")
	require.NoError(t, err)

	assert.False(t, report.IsValid)
	assert.ElementsMatch(t, []string{CodeGuarantorMissing, CodePediatricRequired}, codes(report))
	assert.Equal(t, 2, report.Summary.HardStops)
}

func TestPediatricSelfGuarantor(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	// A guarantor record sharing the patient's ID keeps the linkage check
	// green and isolates the self-guarantor rule.
	addGuarantor(t, repo, "EPT-KID", "9 Elm St")
	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-KID",
		DateOfBirth: testNow.AddDate(-10, 0, 0),
		GuarantorID: str("EPT-KID"),
	}))

	report, err := v.ValidateRegistration(ctx, "EPT-KID")
	require.NoError(t, err)

	assert.False(t, report.IsValid)
	assert.Equal(t, []string{CodePediatricSelf}, codes(report))
	assert.Equal(t, "Pediatric patients cannot be their own guarantor. Age: 10", report.Validations[0].Message)
}

func TestAdultSelfGuarantorIsLegal(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	addGuarantor(t, repo, "EPT-1", "9 Elm St")
	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-1",
		DateOfBirth: testNow.AddDate(-35, 0, 0),
		GuarantorID: str("EPT-1"),
		Address:     str("9 Elm St"),
	}))

	report, err := v.ValidateRegistration(ctx, "EPT-1")
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Empty(t, report.Validations)
}

func TestExactThresholdAgeIsNotPediatric(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	addGuarantor(t, repo, "EPT-18", "1 Oak Ave")
	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-18",
		DateOfBirth: testNow.AddDate(-18, 0, 0),
		GuarantorID: str("EPT-18"),
	}))

	report, err := v.ValidateRegistration(ctx, "EPT-18")
	require.NoError(t, err)
	assert.True(t, report.IsValid)
}

func TestAddressMismatchIsSoftStop(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	addGuarantor(t, repo, "EAR-1", "123 Main St")
	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-1",
		DateOfBirth: testNow.AddDate(-30, 0, 0),
		GuarantorID: str("EAR-1"),
		Address:     str("456 Oak Ave"),
	}))

	report, err := v.ValidateRegistration(ctx, "EPT-1")
	require.NoError(t, err)

	assert.True(t, report.IsValid)
	assert.True(t, report.CanProceedWithWarning)
	assert.Equal(t, []string{CodeAddressMismatch}, codes(report))
	assert.Equal(t, 1, report.Summary.SoftStops)
	assert.Equal(t, hospital.SeveritySoftStop, report.Validations[0].Severity)
}

func TestAddressCheckSkippedWhenEitherSideMissing(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	addGuarantor(t, repo, "EAR-1", "123 Main St")
	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-1",
		DateOfBirth: testNow.AddDate(-30, 0, 0),
		GuarantorID: str("EAR-1"),
	}))

	report, err := v.ValidateRegistration(ctx, "EPT-1")
	require.NoError(t, err)
	assert.Empty(t, report.Validations)
}

func TestUnknownPatientIsError(t *testing.T) {
	_, v := newValidator(t)

	_, err := v.ValidateRegistration(context.Background(), "EPT-NOPE")
	assert.ErrorIs(t, err, hospital.ErrPatientNotFound)
}

func TestFailuresArePersisted(t *testing.T) {
	repo, v := newValidator(t)
	ctx := context.Background()

	require.NoError(t, repo.CreatePatient(ctx, &hospital.Patient{
		EptID:       "EPT-KID",
		DateOfBirth: testNow.AddDate(-10, 0, 0),
	}))

	_, err := v.ValidateRegistration(ctx, "EPT-KID")
	require.NoError(t, err)

	// Both hard stops were written with the validator's clock.
	deleted, err := repo.DeleteValidationsBefore(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}
