package steps

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"github.com/aescanero/flightgraph/pkg/adapters/reference"
	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DefaultAirportRadiusFt bounds the nearest airport search
const DefaultAirportRadiusFt = 5 * 6076.12

// AirportProximity finds the nearest airport to every position fix
type AirportProximity struct {
	Base
	RadiusFt float64
}

// NewAirportProximity creates the airport proximity step
func NewAirportProximity() domain.Step {
	return &AirportProximity{
		Base: Base{
			StepName: AirportProximityStep,
			Doubles:  []string{ColLatitude, ColLongitude},
			Outputs:  []string{ColNearestAirport, ColAirportDistance},
		},
		RadiusFt: DefaultAirportRadiusFt,
	}
}

// Applicable also requires a reference database session
func (s *AirportProximity) Applicable(env *domain.Env) bool {
	return env.Session != nil && s.Base.Applicable(env)
}

func (s *AirportProximity) ExplainApplicability(env *domain.Env) string {
	problems := s.problems(env)
	if env.Session == nil {
		problems = append(problems, "no reference database is configured")
	}
	return explain(s.StepName, problems)
}

type fix struct {
	lat, lon float64
}

// cachedAirport is a lookup result; airport is nil when nothing is in range
type cachedAirport struct {
	airport *reference.Airport
}

func (s *AirportProximity) Compute(ctx context.Context, env *domain.Env) error {
	if env.Session == nil {
		return domain.Fatal(domain.ErrNoSession)
	}

	lat, _ := env.Flight.Double(ColLatitude)
	lon, _ := env.Flight.Double(ColLongitude)
	if lat.Len() != lon.Len() {
		return domain.Fatalf("position columns differ in length: %d latitudes, %d longitudes", lat.Len(), lon.Len())
	}

	n := lat.Len()
	codes := make([]string, n)
	distances := make([]float64, n)
	// fixes are rounded to about 0.6 nm so consecutive samples share lookups
	cache := make(map[fix]cachedAirport)

	err := env.Session.Do(ctx, func(ctx context.Context, db *sqlx.DB) error {
		for i := 0; i < n; i++ {
			la, lo := lat.Values[i], lon.Values[i]
			if math.IsNaN(la) || math.IsNaN(lo) {
				distances[i] = math.NaN()
				continue
			}

			key := fix{lat: math.Round(la*100) / 100, lon: math.Round(lo*100) / 100}
			hit, ok := cache[key]
			if !ok {
				airport, _, err := reference.NearestAirport(ctx, db, key.lat, key.lon, s.RadiusFt)
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return err
				}
				hit = cachedAirport{airport: airport}
				cache[key] = hit
			}

			if hit.airport == nil {
				distances[i] = math.NaN()
				continue
			}
			codes[i] = hit.airport.Code
			distances[i] = reference.Distance(la, lo, hit.airport.Latitude, hit.airport.Longitude)
		}
		return nil
	})
	if err != nil {
		return domain.Fatal(err)
	}

	env.Flight.SetString(&domain.StringSeries{Name: ColNearestAirport, Unit: "IATA code", Values: codes})
	env.Flight.SetDouble(&domain.DoubleSeries{Name: ColAirportDistance, Unit: "ft", Values: distances})

	env.Logger.Debug("computed airport proximity",
		zap.Int("rows", n),
		zap.Int("lookups", len(cache)))
	return nil
}
