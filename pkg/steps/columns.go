package steps

// Column names used by the built-in steps. Names follow the Garmin G1000
// export headers.
const (
	ColLocalDate       = "Lcl Date"
	ColLocalTime       = "Lcl Time"
	ColUTCOffset       = "UTCOfst"
	ColUTCDateTime     = "UTC Date Time"
	ColUnixTime        = "Unix Time Seconds"
	ColFuelLeft        = "FQtyL"
	ColFuelRight       = "FQtyR"
	ColTotalFuel       = "Total Fuel"
	ColAltMSL          = "AltMSL"
	ColAltMSLLagDiff   = "AltMSL Lag Diff"
	ColLatitude        = "Latitude"
	ColLongitude       = "Longitude"
	ColNearestAirport  = "NearestAirport"
	ColAirportDistance = "AirportDistance"
)

// Built-in step names
const (
	UTCTimeStep          = "UTCTime"
	TotalFuelStep        = "TotalFuel"
	LaggedAltMSLStep     = "LaggedAltMSL"
	AirportProximityStep = "AirportProximity"
)
