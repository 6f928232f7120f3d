package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/medsim/regsim/internal/config"
	"github.com/medsim/regsim/internal/db"
	"github.com/medsim/regsim/internal/hospital"
	"github.com/medsim/regsim/internal/mitosis"
	redisclient "github.com/medsim/regsim/internal/redis"
	"github.com/medsim/regsim/internal/seed"
)

func main() {
	patientCount := flag.Int("patients", 20, "number of fake non-template patients to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var repo hospital.Repository
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		repo = hospital.NewPgRepository(pool)
	case config.DriverMemory:
		// The memory driver holds data only for the life of this process, so
		// seeding it standalone proves nothing. Refuse instead of pretending.
		logger.Fatal().Msg("seeding requires the postgres driver")
	}

	staticResult, err := seed.InitializeSystem(ctx, repo)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to seed static data")
	}
	if staticResult.Skipped {
		logger.Info().Msg("static data already present, skipping")
	} else {
		logger.Info().
			Int("facilities", staticResult.Facilities).
			Int("departments", staticResult.Departments).
			Int("rooms", staticResult.Rooms).
			Int("beds", staticResult.Beds).
			Int("system_defaults", staticResult.SystemDefaults).
			Msg("static data seeded")
	}

	engine := mitosis.NewEngine(repo, redisclient.NewLocalLocker(), cfg.MitosisRetention, logger)
	tmplResult, err := engine.InitializeTemplates(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize templates")
	}
	logger.Info().
		Int("templates_created", tmplResult.TemplatesCreated).
		Int("guarantors_created", tmplResult.GuarantorsCreated).
		Msg("templates initialized")

	created, err := seedFakePatients(ctx, repo, *patientCount)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to seed fake patients")
	}
	logger.Info().Int("patients", created).Msg("fake patients seeded")
}

// seedFakePatients generates throwaway registration traffic: adult patients
// with their own guarantors, pediatric patients linked to an adult guarantor,
// plus a few deliberately broken records that trip the validators.
func seedFakePatients(ctx context.Context, repo hospital.Repository, count int) (int, error) {
	faker := gofakeit.New(0)
	created := 0

	for i := 0; i < count; i++ {
		eptID := fmt.Sprintf("EPT-%06d", i+1)
		earID := fmt.Sprintf("EAR-%06d", i+1)
		address := faker.Street()

		sex := hospital.GenderFemale
		if faker.Bool() {
			sex = hospital.GenderMale
		}

		pediatric := i%4 == 0
		var dob time.Time
		if pediatric {
			dob = time.Now().AddDate(-faker.Number(1, 17), 0, 0)
		} else {
			dob = time.Now().AddDate(-faker.Number(18, 90), 0, 0)
		}

		patient := hospital.Patient{
			EptID:       eptID,
			MRN:         fmt.Sprintf("M%06d", i+1),
			FirstName:   faker.FirstName(),
			LastName:    faker.LastName(),
			DateOfBirth: dob,
			Sex:         sex,
			Address:     &address,
		}

		switch {
		case i%7 == 0:
			// No guarantor at all; trips the linkage hard stop.
		case pediatric && i%8 == 0:
			// Pediatric self-guarantor, an illegal configuration.
			self := eptID
			patient.GuarantorID = &self
		default:
			guarantorAddr := address
			if i%5 == 0 {
				// Mismatched address, trips the compliance soft stop.
				guarantorAddr = faker.Street()
			}
			city := faker.City()
			state := faker.StateAbr()
			zip := faker.Zip()
			guarantor := hospital.Guarantor{
				EarID:   earID,
				Name:    faker.Name(),
				Address: &guarantorAddr,
				City:    &city,
				State:   &state,
				Zip:     &zip,
			}
			if err := repo.CreateGuarantor(ctx, &guarantor); err != nil {
				return created, fmt.Errorf("create guarantor %s: %w", earID, err)
			}
			patient.GuarantorID = &guarantor.EarID
		}

		if err := repo.CreatePatient(ctx, &patient); err != nil {
			return created, fmt.Errorf("create patient %s: %w", eptID, err)
		}
		created++

		if i%3 == 0 {
			admit := time.Now().Add(-time.Duration(faker.Number(1, 72)) * time.Hour)
			account := hospital.HospitalAccount{
				HspID:        fmt.Sprintf("HSP-%06d", i+1),
				PatientEptID: eptID,
				AccountType:  "Inpatient",
				AdmitDate:    &admit,
			}
			if err := repo.CreateHospitalAccount(ctx, &account); err != nil {
				return created, fmt.Errorf("create hospital account for %s: %w", eptID, err)
			}
		}
	}

	return created, nil
}
