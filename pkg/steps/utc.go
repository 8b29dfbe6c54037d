package steps

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
	"go.uber.org/zap"
)

// dateTimeLayout is used both for parsing local time and formatting UTC
const dateTimeLayout = "2006-01-02 15:04:05"

// UTCTime converts the recorder's local date, time and UTC offset columns to
// UTC timestamps and sets the flight start and end time.
type UTCTime struct {
	Base
}

// NewUTCTime creates the UTC time step
func NewUTCTime() domain.Step {
	return &UTCTime{Base: Base{
		StepName: UTCTimeStep,
		Strings:  []string{ColLocalDate, ColLocalTime, ColUTCOffset},
		Outputs:  []string{ColUTCDateTime, ColUnixTime},
	}}
}

func (s *UTCTime) Compute(ctx context.Context, env *domain.Env) error {
	dates, _ := env.Flight.String(ColLocalDate)
	times, _ := env.Flight.String(ColLocalTime)
	offsets, _ := env.Flight.String(ColUTCOffset)

	n := dates.Len()
	if times.Len() != n || offsets.Len() != n {
		return domain.Fatalf("local time columns differ in length: %d dates, %d times, %d offsets",
			n, times.Len(), offsets.Len())
	}

	utc := make([]string, n)
	unix := make([]float64, n)
	var first, last *time.Time
	invalid := 0

	for i := 0; i < n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return domain.Fatal(err)
			}
		}

		t, err := toUTC(dates.Values[i], times.Values[i], offsets.Values[i])
		if err != nil {
			invalid++
			unix[i] = math.NaN()
			continue
		}
		utc[i] = t.Format(dateTimeLayout)
		unix[i] = float64(t.Unix())
		if first == nil {
			first = &t
		}
		last = &t
	}

	if first == nil {
		return domain.Fatalf("none of the %d rows has a valid local date and time", n)
	}

	env.Flight.SetString(&domain.StringSeries{Name: ColUTCDateTime, Unit: "yyyy-mm-dd hh:mm:ss", Values: utc})
	env.Flight.SetDouble(&domain.DoubleSeries{Name: ColUnixTime, Unit: "seconds", Values: unix})
	env.Flight.UpdateMeta(func(m *domain.FlightMeta) {
		m.StartTime = first
		m.EndTime = last
	})

	env.Logger.Debug("converted local time to UTC",
		zap.Int("rows", n),
		zap.Int("invalid", invalid),
		zap.Time("start", *first),
		zap.Time("end", *last))

	if invalid > 0 {
		return domain.Recoverablef("%d of %d rows had an invalid local date or time", invalid, n)
	}
	return nil
}

func toUTC(date, clock, offset string) (time.Time, error) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, fmt.Errorf("empty date or time")
	}
	local, err := time.Parse(dateTimeLayout, date+" "+clock)
	if err != nil {
		return time.Time{}, err
	}
	off, err := parseOffset(offset)
	if err != nil {
		return time.Time{}, err
	}
	return local.Add(-off), nil
}

// parseOffset accepts offsets like "-05:00", "+5:30", "-4" and "+0000"
func parseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty UTC offset")
	}

	sign := time.Duration(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	var hh, mm string
	switch {
	case strings.Contains(s, ":"):
		hh, mm, _ = strings.Cut(s, ":")
		if mm == "" {
			return 0, fmt.Errorf("invalid UTC offset %q", s)
		}
	case len(s) == 4:
		hh, mm = s[:2], s[2:]
	default:
		hh = s
	}

	if !unsigned(hh) || (mm != "" && !unsigned(mm)) {
		return 0, fmt.Errorf("invalid UTC offset %q", s)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil || hours > 14 {
		return 0, fmt.Errorf("invalid UTC offset %q", s)
	}
	minutes := 0
	if mm != "" {
		minutes, err = strconv.Atoi(mm)
		if err != nil || minutes >= 60 {
			return 0, fmt.Errorf("invalid UTC offset %q", s)
		}
	}

	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute), nil
}

// unsigned reports whether s is a non-empty run of ASCII digits
func unsigned(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
