// Package risk turns a weather observation into an explainable black-ice risk
// assessment. Factor evaluation and aggregation are pure; the only time input is
// the clock used to stamp EvaluatedAt.
package risk

import (
	"fmt"
	"math"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
)

// FactorKind names one of the six weather dimensions that feed the score.
type FactorKind string

const (
	FactorTemperature    FactorKind = "temperature"
	FactorDewPointSpread FactorKind = "dewPointSpread"
	FactorHumidity       FactorKind = "humidity"
	FactorWind           FactorKind = "wind"
	FactorPrecipitation  FactorKind = "precipitation"
	FactorCloudCover     FactorKind = "cloudCover"
)

// FactorKinds lists every kind in evaluation order.
var FactorKinds = []FactorKind{
	FactorTemperature,
	FactorDewPointSpread,
	FactorHumidity,
	FactorWind,
	FactorPrecipitation,
	FactorCloudCover,
}

// Weight returns the fixed weight for kind. Weights sum to 1.0.
func Weight(kind FactorKind) float64 {
	switch kind {
	case FactorTemperature:
		return 0.30
	case FactorDewPointSpread:
		return 0.25
	case FactorHumidity:
		return 0.15
	case FactorPrecipitation:
		return 0.15
	case FactorWind:
		return 0.10
	case FactorCloudCover:
		return 0.05
	default:
		return 0
	}
}

// Factor is one weighted contribution to an assessment.
type Factor struct {
	Name        FactorKind `json:"name"`
	RawScore    float64    `json:"rawScore"`
	Weight      float64    `json:"weight"`
	Description string     `json:"description"`
	// Substituted is set when the input was missing or out of range and a
	// neutral score was used instead.
	Substituted bool `json:"substituted,omitempty"`
}

// SubstitutedScore is the neutral score used for missing or out-of-range inputs.
const SubstitutedScore = 25.0

// Plausible input ranges; values outside are treated as missing.
const (
	minTemperature = -80.0
	maxTemperature = 60.0
	maxWindSpeed   = 120.0
	maxPrecip      = 500.0
)

// EvaluateFactors scores every factor for obs. It never fails: unusable inputs
// degrade to SubstitutedScore and are flagged on the returned factor.
func EvaluateFactors(obs models.WeatherObservation) []Factor {
	temp, tempOK := reading(obs.Temperature, minTemperature, maxTemperature)
	fp := freezePotential(temp, tempOK)

	return []Factor{
		temperatureFactor(temp, tempOK),
		dewPointSpreadFactor(temp, tempOK, obs.DewPoint, fp),
		humidityFactor(obs.Humidity, fp),
		windFactor(obs.WindSpeed, temp, tempOK, fp),
		precipitationFactor(obs.Precipitation, temp, tempOK, fp),
		cloudCoverFactor(obs.CloudCover, fp),
	}
}

func reading(p *float64, min, max float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	v := *p
	if math.IsNaN(v) || math.IsInf(v, 0) || v < min || v > max {
		return 0, false
	}
	return v, true
}

// freezePotential scales frost-related factors: 1 at or below 0 °C, falling
// linearly to 0 at 6 °C, 0.5 when temperature is unknown.
func freezePotential(temp float64, ok bool) float64 {
	switch {
	case !ok:
		return 0.5
	case temp <= 0:
		return 1
	case temp >= 6:
		return 0
	default:
		return (6 - temp) / 6
	}
}

// substituted scores an unusable input. Frost-related kinds scale the neutral
// score by freeze potential, so the description reports the score actually used.
func substituted(kind FactorKind, fp float64, what string) Factor {
	score := clampScore(SubstitutedScore * fp)
	desc := fmt.Sprintf("%s missing or out of range; neutral score %.0f substituted", what, score)
	if fp < 1 {
		desc = fmt.Sprintf("%s missing or out of range; neutral score %.0f scaled by freeze potential to %.1f",
			what, SubstitutedScore, score)
	}
	return Factor{
		Name:        kind,
		RawScore:    score,
		Weight:      Weight(kind),
		Description: desc,
		Substituted: true,
	}
}

func temperatureFactor(temp float64, ok bool) Factor {
	if !ok {
		return substituted(FactorTemperature, 1, "temperature")
	}
	var score float64
	var desc string
	switch {
	case temp >= 6:
		score = 0
		desc = fmt.Sprintf("%.1f °C is well above freezing", temp)
	case temp > 0:
		score = 100 * (6 - temp) / 6
		desc = fmt.Sprintf("%.1f °C is just above freezing; road surface can still drop below 0 °C", temp)
	case temp >= -3:
		score = 100
		desc = fmt.Sprintf("%.1f °C is in the sub-freezing band where melt and refreeze glaze forms", temp)
	case temp >= -15:
		score = 100 - (-3-temp)*5
		desc = fmt.Sprintf("%.1f °C is below freezing; less liquid water available to glaze", temp)
	case temp >= -30:
		score = 40 - (-15-temp)*2
		desc = fmt.Sprintf("%.1f °C is very cold; air is too dry for much glaze", temp)
	default:
		score = 10
		desc = fmt.Sprintf("%.1f °C is extreme cold; little liquid water present", temp)
	}
	return Factor{Name: FactorTemperature, RawScore: clampScore(score), Weight: Weight(FactorTemperature), Description: desc}
}

func dewPointSpreadFactor(temp float64, tempOK bool, dewPoint *float64, fp float64) Factor {
	dp, dpOK := reading(dewPoint, minTemperature, maxTemperature)
	if !tempOK || !dpOK {
		return substituted(FactorDewPointSpread, fp, "dew point spread")
	}
	spread := temp - dp
	if spread < 0 {
		spread = 0
	}
	score := 0.0
	if spread < 5 {
		score = 100 * (1 - spread/5)
	}
	desc := fmt.Sprintf("dew point spread %.1f °C", spread)
	switch {
	case spread < 1:
		desc += "; air is near saturation, condensation and frost likely"
	case spread < 5:
		desc += "; moisture close to condensing"
	default:
		desc += "; air too dry for condensation"
	}
	return Factor{Name: FactorDewPointSpread, RawScore: clampScore(score * fp), Weight: Weight(FactorDewPointSpread), Description: desc}
}

func humidityFactor(humidity *float64, fp float64) Factor {
	h, ok := reading(humidity, 0, 100)
	if !ok {
		return substituted(FactorHumidity, fp, "humidity")
	}
	var score float64
	var desc string
	if h <= 80 {
		score = h * 0.25
		desc = fmt.Sprintf("relative humidity %.0f%% is below the frost-risk range", h)
	} else {
		score = 20 + (h-80)*4
		desc = fmt.Sprintf("relative humidity %.0f%% favors condensation and frost", h)
	}
	return Factor{Name: FactorHumidity, RawScore: clampScore(score * fp), Weight: Weight(FactorHumidity), Description: desc}
}

// windScore is non-monotonic with a local minimum at 5 m/s. Still air favors
// radiative frost; moderate wind mixes the boundary layer; strong wind at
// sub-freezing temperatures drives wind-chill refreeze of wet surfaces.
func windScore(w float64, freezing bool) float64 {
	switch {
	case w < 2:
		return 100 - w*10
	case w < 5:
		return 80 - (w-2)*20
	case !freezing:
		if w >= 8 {
			return 10
		}
		return 20 - (w-5)*10/3
	default:
		return math.Min(60, 20+(w-5)*4)
	}
}

func windFactor(windSpeed *float64, temp float64, tempOK bool, fp float64) Factor {
	w, ok := reading(windSpeed, 0, maxWindSpeed)
	if !ok {
		return substituted(FactorWind, fp, "wind speed")
	}
	freezing := tempOK && temp <= 0
	var desc string
	switch {
	case w < 2:
		desc = fmt.Sprintf("wind %.1f m/s; still air lets the road surface cool", w)
	case w < 5:
		desc = fmt.Sprintf("wind %.1f m/s; light mixing", w)
	case freezing:
		desc = fmt.Sprintf("wind %.1f m/s at sub-freezing temperature; wind chill refreezes wet surfaces", w)
	default:
		desc = fmt.Sprintf("wind %.1f m/s; mixing prevents surface cooling", w)
	}
	return Factor{Name: FactorWind, RawScore: clampScore(windScore(w, freezing) * fp), Weight: Weight(FactorWind), Description: desc}
}

func precipitationFactor(precip *float64, temp float64, tempOK bool, fp float64) Factor {
	p, ok := reading(precip, 0, maxPrecip)
	if !ok {
		return substituted(FactorPrecipitation, fp, "precipitation")
	}
	if p == 0 {
		return Factor{Name: FactorPrecipitation, RawScore: 0, Weight: Weight(FactorPrecipitation), Description: "no precipitation"}
	}
	var score float64
	var desc string
	switch {
	case !tempOK:
		score = 50
		desc = fmt.Sprintf("precipitation %.1f mm/h with unknown temperature", p)
	case temp >= -5 && temp <= 2:
		score = math.Min(100, 70+p*10)
		desc = fmt.Sprintf("precipitation %.1f mm/h near freezing; freezing rain or sleet likely", p)
	case temp < -5:
		score = 35
		desc = fmt.Sprintf("precipitation %.1f mm/h well below freezing; falls as dry snow", p)
	default:
		score = 10
		desc = fmt.Sprintf("precipitation %.1f mm/h above freezing; wet roads may refreeze later", p)
	}
	return Factor{Name: FactorPrecipitation, RawScore: clampScore(score), Weight: Weight(FactorPrecipitation), Description: desc}
}

// cloudCoverFactor approximates night-time radiative cooling from cloud cover
// alone; solar elevation is not modelled.
func cloudCoverFactor(cloudCover *float64, fp float64) Factor {
	c, ok := reading(cloudCover, 0, 100)
	if !ok {
		return substituted(FactorCloudCover, fp, "cloud cover")
	}
	var score float64
	var desc string
	if c < 30 {
		score = 60 + (30-c)*4/3
		desc = fmt.Sprintf("cloud cover %.0f%%; clear skies allow radiative cooling of the road", c)
	} else {
		score = 60 * (100 - c) / 70
		desc = fmt.Sprintf("cloud cover %.0f%% limits radiative cooling", c)
	}
	return Factor{Name: FactorCloudCover, RawScore: clampScore(score * fp), Weight: Weight(FactorCloudCover), Description: desc}
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
