package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsim/regsim/internal/beds"
	"github.com/medsim/regsim/internal/hospital"
	"github.com/medsim/regsim/internal/mitosis"
	redisclient "github.com/medsim/regsim/internal/redis"
	"github.com/medsim/regsim/internal/registration"
	"github.com/medsim/regsim/internal/seed"
	"github.com/medsim/regsim/internal/settings"
)

// newTestServer wires the full HTTP surface over the memory driver, seeded
// with the static data set and template patients.
func newTestServer(t *testing.T) (*httptest.Server, hospital.Repository) {
	t.Helper()
	repo := hospital.NewMemoryRepository()
	locker := redisclient.NewLocalLocker()
	logger := zerolog.Nop()
	ctx := context.Background()

	_, err := seed.InitializeSystem(ctx, repo)
	require.NoError(t, err)

	engine := mitosis.NewEngine(repo, locker, 24*time.Hour, logger)
	_, err = engine.InitializeTemplates(ctx)
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Resolver:     settings.NewResolver(repo, logger),
		Beds:         beds.NewService(repo, locker, logger),
		Registration: registration.NewValidator(repo, logger),
		Mitosis:      engine,
		Env:          "test",
		Version:      "test",
		Logger:       logger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, repo
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestResolveSettingEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var res settings.Resolution
	code := getJSON(t, srv.URL+"/api/v1/departments/DEP-3W-PED/settings/visitationHours", &res)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "9a - 9p", res.Value)
	assert.Equal(t, "FACILITY_REVENUELOCATION", res.Source)
}

func TestResolveSettingUnknownDepartment(t *testing.T) {
	srv, _ := newTestServer(t)

	var res settings.Resolution
	code := getJSON(t, srv.URL+"/api/v1/departments/DEP-NOPE/settings/visitationHours", &res)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, settings.SourceNotFound, res.Source)
}

func TestSetDepartmentSettingWithExplicitNull(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut,
		srv.URL+"/api/v1/departments/DEP-ICU/settings/visitationHours",
		bytes.NewReader([]byte(`{"value": null, "actor_id": "admin"}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The blanked department tier now falls through to the facility chain.
	var res settings.Resolution
	code := getJSON(t, srv.URL+"/api/v1/departments/DEP-ICU/settings/visitationHours", &res)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "9a - 9p", res.Value)
	assert.True(t, res.ExplicitlyBlanked)
}

func TestHierarchyEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var levels []settings.HierarchyLevel
	code := getJSON(t, srv.URL+"/api/v1/departments/DEP-3W-PED/hierarchy", &levels)

	assert.Equal(t, http.StatusOK, code)
	require.Len(t, levels, 5)
	assert.Equal(t, "Department", levels[0].Level)
	assert.Equal(t, "System Defaults", levels[4].Level)
}

func TestAssignBedConflictOnGenderMismatch(t *testing.T) {
	srv, _ := newTestServer(t)

	// TEMPLATE_ADULT_001 is Female; BED-3003A is Male-only.
	var verdict beds.Verdict
	code := postJSON(t, srv.URL+"/api/v1/beds/BED-3003A/assign",
		AssignBedRequest{PatientID: "TEMPLATE_ADULT_001"}, &verdict)

	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, beds.CodeBedGenderMismatch, verdict.Code)
}

func TestAssignAndReleaseBed(t *testing.T) {
	srv, repo := newTestServer(t)

	var assign beds.AssignResult
	code := postJSON(t, srv.URL+"/api/v1/beds/BED-3001A/assign",
		AssignBedRequest{PatientID: "TEMPLATE_ADULT_001", ActorID: "nurse-1"}, &assign)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, assign.Success)

	var release beds.ReleaseResult
	code = postJSON(t, srv.URL+"/api/v1/beds/BED-3001A/release",
		ReleaseBedRequest{ActorID: "nurse-1"}, &release)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, release.Success)

	bed, err := repo.GetBed(context.Background(), "BED-3001A")
	require.NoError(t, err)
	assert.Equal(t, hospital.BedHousekeeping, bed.Status)
}

func TestAssignUnknownPatientIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	var verdict beds.Verdict
	code := postJSON(t, srv.URL+"/api/v1/beds/BED-3002A/assign",
		AssignBedRequest{PatientID: "EPT-NOPE"}, &verdict)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, beds.CodePatientNotFound, verdict.Code)
}

func TestValidateBedEndpointRequiresPatientID(t *testing.T) {
	srv, _ := newTestServer(t)

	var errResp ErrorResponse
	code := getJSON(t, srv.URL+"/api/v1/beds/BED-3002A/validate", &errResp)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "missing_patient_id", errResp.Error)
}

func TestRegistrationEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var report registration.Report
	code := getJSON(t, srv.URL+"/api/v1/patients/TEMPLATE_CHILD_001/registration", &report)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, report.IsValid)
}

func TestRegistrationUnknownPatient(t *testing.T) {
	srv, _ := newTestServer(t)

	var errResp ErrorResponse
	code := getJSON(t, srv.URL+"/api/v1/patients/EPT-NOPE/registration", &errResp)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "patient_not_found", errResp.Error)
}

func TestRoomBedBoardEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var board beds.RoomBedStatus
	code := getJSON(t, srv.URL+"/api/v1/rooms/ROM-3001/beds", &board)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, board.Summary.Total)
	assert.Equal(t, 1, board.Summary.Occupied)
}

func TestMitosisEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var due mitosis.ShouldRunResult
	code := getJSON(t, srv.URL+"/api/v1/mitosis/should-run", &due)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, due.ShouldRun)

	var result mitosis.Result
	code = postJSON(t, srv.URL+"/api/v1/mitosis/run", RunMitosisRequest{ActorID: "admin"}, &result)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, result.TemplatesUpdated)

	code = getJSON(t, srv.URL+"/api/v1/mitosis/should-run", &due)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, due.ShouldRun)

	var stats []mitosis.RunSummary
	code = getJSON(t, srv.URL+"/api/v1/mitosis/stats", &stats)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, stats, 1)
	assert.Equal(t, "SYSTEM", stats[0].TriggeredBy)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var live healthStatus
	code := getJSON(t, srv.URL+"/health/live", &live)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", live.Status)

	var ready healthStatus
	code = getJSON(t, srv.URL+"/health/ready", &ready)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "skipped", ready.Checks["postgres"])
	assert.Equal(t, "skipped", ready.Checks["redis"])
}
