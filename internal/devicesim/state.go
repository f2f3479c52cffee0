package devicesim

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	TankMaximumLiters = 197.0
	PressureADCMax    = 4096
	MaxFrequencyHz    = 200

	overflowMarginLiters = 0.8
)

var ErrInvalidLimits = errors.New("invalid values")

type TankStatus string

const (
	TankLow    TankStatus = "low"
	TankNormal TankStatus = "normal"
	TankFull   TankStatus = "full"
)

// Status is the frame pushed on the status endpoint.
type Status struct {
	Timestamp          int64      `json:"timestamp"`
	AirTemperature     float64    `json:"air_temperature"`
	AirPressure        float64    `json:"air_pressure"`
	AirHumidity        float64    `json:"air_humidity"`
	TankLiters         float64    `json:"tank_liters"`
	TankPercentage     float64    `json:"tank_percentage"`
	TankStatus         TankStatus `json:"tank_status"`
	TankOverflow       bool       `json:"tank_overflow"`
	TankPressureADC    int        `json:"tank_pressure_adc"`
	PressurePercentage float64    `json:"pressure_percentage"`
	CounterRawCount    int        `json:"counter_raw_count"`
	CounterFrequency   int        `json:"counter_frequency"`
}

// Raw is the frame pushed on the raw endpoint.
type Raw struct {
	Timestamp        int64 `json:"timestamp"`
	TankPressureADC  int   `json:"tank_pressure_adc"`
	CounterRawCount  int   `json:"counter_raw_count"`
	CounterFrequency int   `json:"counter_frequency"`
}

type Limits struct {
	LitersLow    float64
	LitersHigh   float64
	PressureLow  int
	PressureHigh int
	FreqHigh     int
}

func DefaultLimits() Limits {
	return Limits{LitersLow: 20, LitersHigh: 180, PressureLow: 400, PressureHigh: 3600, FreqHigh: 150}
}

func (l Limits) ConfigDocument() map[string]any {
	return map[string]any{
		"tank": map[string]any{
			"liters": map[string]any{
				"low_threshold":  l.LitersLow,
				"high_threshold": l.LitersHigh,
			},
			"adc_pressure": map[string]any{
				"low_threshold":  l.PressureLow,
				"high_threshold": l.PressureHigh,
			},
			"frequency": map[string]any{
				"high_threshold": l.FreqHigh,
			},
		},
		"http": map[string]any{"status_url": "/status"},
		"mqtt": map[string]any{"topic": ""},
	}
}

func validateTank(low, high float64) error {
	if low < 0 || high > TankMaximumLiters || low > high {
		return fmt.Errorf("%w. low_thr can not be less than 0, high_thr can not be more than %4.1f, low_thr can not be more than high_thr", ErrInvalidLimits, TankMaximumLiters)
	}
	return nil
}

func validatePressure(low, high int) error {
	if low < 0 || high > PressureADCMax || low > high {
		return fmt.Errorf("%w. low_thr can not be less than 0, high_thr can not be more than %d, low_thr can not be more than high_thr", ErrInvalidLimits, PressureADCMax)
	}
	return nil
}

func validateFrequency(thr int) error {
	if thr < 0 || thr > MaxFrequencyHz {
		return fmt.Errorf("%w. Expected freq_thr in [0..%d]", ErrInvalidLimits, MaxFrequencyHz)
	}
	return nil
}

// sample derives a status frame at t from a slow fill/drain cycle.
func sample(t time.Time, limits Limits, pulses int, counting bool) Status {
	phase := float64(t.Unix()%600) / 600 * 2 * math.Pi
	liters := round1(TankMaximumLiters/2 + TankMaximumLiters/2*0.95*math.Sin(phase))
	percentage := round1(liters / TankMaximumLiters * 100)

	adc := limits.PressureLow + int(float64(limits.PressureHigh-limits.PressureLow)*percentage/100)
	pressurePct := 0.0
	if span := limits.PressureHigh - limits.PressureLow; span > 0 {
		pressurePct = round1(float64(adc-limits.PressureLow) / float64(span) * 100)
	}

	status := TankNormal
	switch {
	case liters <= limits.LitersLow:
		status = TankLow
	case liters >= limits.LitersHigh:
		status = TankFull
	}

	freq := 0
	if counting {
		freq = 40 + int(20*math.Cos(phase))
	}
	return Status{
		Timestamp:          t.Unix(),
		AirTemperature:     round2(21.5 + 2*math.Sin(phase/3)),
		AirPressure:        round1(1013.2 + 4*math.Cos(phase/5)),
		AirHumidity:        round1(45 + 10*math.Sin(phase/2)),
		TankLiters:         liters,
		TankPercentage:     percentage,
		TankStatus:         status,
		TankOverflow:       liters >= TankMaximumLiters-overflowMarginLiters,
		TankPressureADC:    adc,
		PressurePercentage: pressurePct,
		CounterRawCount:    pulses,
		CounterFrequency:   freq,
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
