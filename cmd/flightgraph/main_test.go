package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/aescanero/flightgraph/pkg/steps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubmission(id string) *domain.FlightSubmission {
	return &domain.FlightSubmission{
		FlightID: id,
		Airframe: "C172",
		Strings: []*domain.StringSeries{
			{Name: steps.ColLocalDate, Values: []string{"2020-06-14", "2020-06-14"}},
			{Name: steps.ColLocalTime, Values: []string{"08:00:00", "08:00:01"}},
			{Name: steps.ColUTCOffset, Values: []string{"-04:00", "-04:00"}},
		},
		Doubles: []*domain.DoubleSeries{
			{Name: steps.ColFuelLeft, Values: []float64{10, 11}},
			{Name: steps.ColFuelRight, Values: []float64{20, 21}},
			{Name: steps.ColAltMSL, Values: []float64{1000, 1010}},
			{Name: steps.ColLatitude, Values: []float64{43.119, 43.12}},
			{Name: steps.ColLongitude, Values: []float64{-77.672, -77.673}},
		},
	}
}

func writeFile(t *testing.T, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	// flag values outlive a single Execute
	runFlags = struct {
		file       string
		catalog    string
		sequential bool
		workers    int
		refDriver  string
		refDSN     string
	}{}
	planFlags.file, planFlags.catalog, planFlags.refDriver, planFlags.refDSN = "", "", "", ""
	planFlags.asJSON = false
	referenceFlags.file, referenceFlags.driver, referenceFlags.dsn = "", "", ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRun_SingleFlight(t *testing.T) {
	path := writeFile(t, "flight.json", testSubmission("f1"))

	out, err := execute(t, "run", "-f", path, "--sequential")
	require.NoError(t, err)

	var report domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "f1", report.FlightID)
	// two samples are fewer than the altitude lag
	assert.Equal(t, domain.RunStatusWarning, report.Status)
	assert.Contains(t, report.Columns, steps.ColTotalFuel)
	assert.Contains(t, report.Columns, steps.ColUTCDateTime)
	assert.NotContains(t, report.Columns, steps.ColNearestAirport)
}

func TestRun_MissingRequiredColumns(t *testing.T) {
	sub := testSubmission("f1")
	sub.Strings = nil
	path := writeFile(t, "flight.json", sub)

	out, err := execute(t, "run", "-f", path)
	assert.ErrorContains(t, err, "flight f1 failed")

	var report domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, domain.RunStatusError, report.Status)
}

func TestRun_Batch(t *testing.T) {
	path := writeFile(t, "flights.json", map[string]any{
		"flights": []*domain.FlightSubmission{testSubmission("f1"), testSubmission("f2")},
	})

	out, err := execute(t, "run", "-f", path, "--workers", "2")
	require.NoError(t, err)

	var summary struct {
		Valid   int `json:"valid"`
		Warning int `json:"warning"`
		Error   int `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.Warning)
	assert.Zero(t, summary.Error)
}

func TestRun_WithReferenceDatabase(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "reference.db")
	airports := writeFile(t, "airports.json", []map[string]any{
		{"iata_code": "ROC", "name": "Greater Rochester International", "latitude": 43.1189, "longitude": -77.6724},
		{"iata_code": "BUF", "name": "Buffalo Niagara International", "latitude": 42.9405, "longitude": -78.7322},
	})

	out, err := execute(t, "reference", "load", "-f", airports, "--driver", "sqlite3", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 2 airports")

	path := writeFile(t, "flight.json", testSubmission("f1"))
	out, err = execute(t, "run", "-f", path, "--reference-driver", "sqlite3", "--reference-dsn", dsn)
	require.NoError(t, err)

	var report domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Contains(t, report.Columns, steps.ColNearestAirport)
	assert.Contains(t, report.Columns, steps.ColAirportDistance)
}

func TestPlan(t *testing.T) {
	path := writeFile(t, "flight.json", testSubmission("f1"))

	out, err := execute(t, "plan", "-f", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Flight: f1")
	assert.Contains(t, out, steps.UTCTimeStep)
	assert.Contains(t, out, steps.TotalFuelStep)
	// no reference database was given
	assert.Contains(t, out, "no reference database is configured")
}

func TestReadSubmissions_Stdin(t *testing.T) {
	data, err := json.Marshal(testSubmission("f1"))
	require.NoError(t, err)

	subs, err := readSubmissions("-", bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "f1", subs[0].FlightID)

	_, err = readSubmissions("-", bytes.NewBufferString(`{"flight_id": "x", "bogus": 1}`))
	assert.Error(t, err)
}
