package core

import (
	"fmt"
	"sort"
)

// DefaultWindow is the number of most recent months a derived series covers.
const DefaultWindow = 12

// SeriesPoint is one month of a derived consumption series: the raw
// counter values of that month plus the change against the immediately
// preceding month inside the window.
type SeriesPoint struct {
	Month     string
	Label     string // "Mar 24"
	LabelLong string // "March 2024"

	GasKWh     float64
	WaterM3    float64
	SolarKWh   float64
	PulseCount int64
	Tariff1KWh float64
	Tariff2KWh float64

	GasDelta     float64
	WaterDelta   float64
	SolarDelta   float64
	PulseDelta   int64
	Tariff1Delta float64
	Tariff2Delta float64

	GasDetail     string
	WaterDetail   string
	SolarDetail   string
	PulseDetail   string
	Tariff1Detail string
	Tariff2Detail string
}

// DeriveSeries turns readings (as listed by the store, newest first) into
// a chart-ready series, newest first. Deltas are computed oldest to newest
// against the previous month retained in the window; the earliest retained
// month has no predecessor and all its deltas are zero. A month dropped by
// the window cap never acts as a predecessor. window <= 0 disables the cap.
func DeriveSeries(readings []Reading, window int) []SeriesPoint {
	if len(readings) == 0 {
		return nil
	}

	asc := make([]Reading, len(readings))
	copy(asc, readings)
	sort.Slice(asc, func(i, j int) bool { return asc[i].Month < asc[j].Month })

	if window > 0 && len(asc) > window {
		asc = asc[len(asc)-window:]
	}

	points := make([]SeriesPoint, len(asc))
	for i, r := range asc {
		var prev Reading
		if i > 0 {
			prev = asc[i-1]
		}

		p := SeriesPoint{
			Month:      r.Month,
			GasKWh:     r.GasKWh,
			WaterM3:    r.WaterM3,
			SolarKWh:   r.SolarKWh,
			PulseCount: r.PulseCount,
			Tariff1KWh: r.Tariff1KWh,
			Tariff2KWh: r.Tariff2KWh,
		}
		if i > 0 {
			p.GasDelta = r.GasKWh - prev.GasKWh
			p.WaterDelta = r.WaterM3 - prev.WaterM3
			p.SolarDelta = r.SolarKWh - prev.SolarKWh
			p.PulseDelta = r.PulseCount - prev.PulseCount
			p.Tariff1Delta = r.Tariff1KWh - prev.Tariff1KWh
			p.Tariff2Delta = r.Tariff2KWh - prev.Tariff2KWh
		}

		if t, err := MonthTime(r.Month); err == nil {
			p.Label = t.Format("Jan 06")
			p.LabelLong = t.Format("January 2006")
		} else {
			p.Label = r.Month
			p.LabelLong = r.Month
		}

		p.GasDetail = metricDetail(prev.GasKWh, r.GasKWh, p.GasDelta, "kWh")
		p.WaterDetail = metricDetail(prev.WaterM3, r.WaterM3, p.WaterDelta, "m³")
		p.SolarDetail = metricDetail(prev.SolarKWh, r.SolarKWh, p.SolarDelta, "kWh")
		p.PulseDetail = pulseDetail(prev.PulseCount, r.PulseCount, p.PulseDelta)
		p.Tariff1Detail = metricDetail(prev.Tariff1KWh, r.Tariff1KWh, p.Tariff1Delta, "kWh")
		p.Tariff2Detail = metricDetail(prev.Tariff2KWh, r.Tariff2KWh, p.Tariff2Delta, "kWh")

		points[i] = p
	}

	// Newest first for presentation; deltas stay as computed above.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}

	return points
}

func metricDetail(prev, current, delta float64, unit string) string {
	return fmt.Sprintf("previous: %.2f %s | current: %.2f %s | delta: %.2f %s",
		prev, unit, current, unit, delta, unit)
}

func pulseDetail(prev, current, delta int64) string {
	return fmt.Sprintf("previous: %d | current: %d | delta: %d", prev, current, delta)
}
