// Package reference provides the SQL reference data steps consult while
// processing a flight, such as the airport table.
//
// Supported drivers are sqlite3, mysql and postgres. Access from steps goes
// through a Session, which serialises use of the shared handle.
package reference

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned for drivers outside the supported set
var ErrUnsupportedDriver = errors.New("unsupported reference database driver")

// Airport is a row of the airports table
type Airport struct {
	Code      string  `db:"iata_code" json:"iata_code"`
	Name      string  `db:"name" json:"name"`
	Latitude  float64 `db:"latitude" json:"latitude"`
	Longitude float64 `db:"longitude" json:"longitude"`
}

const airportsSchema = `
CREATE TABLE IF NOT EXISTS airports (
	iata_code VARCHAR(8) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL
)`

// Open connects to the reference database and creates the schema
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference database: %w", err)
	}
	if driver == DriverSQLite {
		// in-memory databases are per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to reference database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the reference tables if they do not exist
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, airportsSchema); err != nil {
		return fmt.Errorf("failed to create airports table: %w", err)
	}
	return nil
}

// InsertAirports adds airports in a single transaction
func InsertAirports(ctx context.Context, db *sqlx.DB, airports ...Airport) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO airports (iata_code, name, latitude, longitude)
		VALUES (:iata_code, :name, :latitude, :longitude)`
	for _, a := range airports {
		if _, err := tx.NamedExecContext(ctx, query, a); err != nil {
			return fmt.Errorf("failed to insert airport %s: %w", a.Code, err)
		}
	}
	return tx.Commit()
}

// feetPerDegreeLatitude is the approximate length of one degree of latitude
const feetPerDegreeLatitude = 364000.0

const earthRadiusFt = 20902231.0

// NearestAirport returns the closest airport within maxDistanceFt of the
// given position, and its distance in feet. It returns sql.ErrNoRows when no
// airport is in range.
func NearestAirport(ctx context.Context, db *sqlx.DB, lat, lon, maxDistanceFt float64) (*Airport, float64, error) {
	latDelta := maxDistanceFt / feetPerDegreeLatitude
	lonDelta := 180.0
	if c := math.Cos(lat * math.Pi / 180); c > 1e-6 {
		lonDelta = math.Min(180, latDelta/c)
	}

	query := db.Rebind(`SELECT iata_code, name, latitude, longitude FROM airports
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`)

	var candidates []Airport
	if err := db.SelectContext(ctx, &candidates, query,
		lat-latDelta, lat+latDelta, lon-lonDelta, lon+lonDelta); err != nil {
		return nil, 0, fmt.Errorf("failed to query airports: %w", err)
	}

	var nearest *Airport
	best := math.Inf(1)
	for i := range candidates {
		d := Distance(lat, lon, candidates[i].Latitude, candidates[i].Longitude)
		if d <= maxDistanceFt && d < best {
			best = d
			nearest = &candidates[i]
		}
	}
	if nearest == nil {
		return nil, 0, sql.ErrNoRows
	}
	return nearest, best, nil
}

// Distance is the great circle distance in feet between two positions
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusFt * math.Asin(math.Min(1, math.Sqrt(a)))
}
