package billing

import "math"

// Cost computation for the three provider billing models.
//
// Rules:
// - Pure functions only; no storage or provider SDK calls.
// - All rates round UP to the provider's billing unit, never down.
// - Amounts are float64 USD to match provider price sheets (per-1M-token and
//   per-minute list prices), not ledger minor units.

// Cost is the normalized result shape shared by every billing model.
type Cost struct {
	Provider        string             `json:"provider"`
	DurationSeconds int                `json:"duration_seconds"`
	TotalUSD        float64            `json:"total_usd"`
	Breakdown       map[string]float64 `json:"breakdown,omitempty"`
}

// TokenRates is the per-model price card for the token-metered (realtime)
// path. Rates are USD per one million tokens.
type TokenRates struct {
	TextInput   float64
	TextOutput  float64
	TextCached  float64
	AudioInput  float64
	AudioOutput float64
	AudioCached float64
}

// TokenUsage is the billable token breakdown of one call.
//
// When every detailed text/audio field is zero but the totals are not, the
// provider omitted the breakdown and EstimateSplit applies.
type TokenUsage struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CachedTokens int

	InputTextTokens   int
	InputAudioTokens  int
	OutputTextTokens  int
	OutputAudioTokens int
	CachedTextTokens  int
	CachedAudioTokens int
}

// EstimateSplit is the fixed text/audio split assumed when a provider reports
// only token totals. Voice calls are audio-dominated.
const (
	estimateAudioShare = 0.8
	estimateTextShare  = 1 - estimateAudioShare
)

func (u TokenUsage) hasDetail() bool {
	return u.InputTextTokens != 0 || u.InputAudioTokens != 0 ||
		u.OutputTextTokens != 0 || u.OutputAudioTokens != 0 ||
		u.CachedTextTokens != 0 || u.CachedAudioTokens != 0
}

// TokenCost prices a token-metered call. Uncached input bills at the full
// input rate, cached input at the reduced cached rate.
func TokenCost(provider string, rates TokenRates, u TokenUsage, durationSeconds int) Cost {
	var inText, inAudio, outText, outAudio, cText, cAudio float64
	if u.hasDetail() {
		inText = float64(u.InputTextTokens)
		inAudio = float64(u.InputAudioTokens)
		outText = float64(u.OutputTextTokens)
		outAudio = float64(u.OutputAudioTokens)
		cText = float64(u.CachedTextTokens)
		cAudio = float64(u.CachedAudioTokens)
	} else {
		inText = float64(u.InputTokens) * estimateTextShare
		inAudio = float64(u.InputTokens) * estimateAudioShare
		outText = float64(u.OutputTokens) * estimateTextShare
		outAudio = float64(u.OutputTokens) * estimateAudioShare
		cText = float64(u.CachedTokens) * estimateTextShare
		cAudio = float64(u.CachedTokens) * estimateAudioShare
	}

	// Cached tokens are a subset of input tokens; bill the uncached remainder
	// at full rate and the cached portion at the cached rate.
	uncachedText := inText - cText
	if uncachedText < 0 {
		uncachedText = 0
	}
	uncachedAudio := inAudio - cAudio
	if uncachedAudio < 0 {
		uncachedAudio = 0
	}

	const m = 1_000_000
	breakdown := map[string]float64{
		"input_text_usd":   uncachedText / m * rates.TextInput,
		"input_audio_usd":  uncachedAudio / m * rates.AudioInput,
		"cached_text_usd":  cText / m * rates.TextCached,
		"cached_audio_usd": cAudio / m * rates.AudioCached,
		"output_text_usd":  outText / m * rates.TextOutput,
		"output_audio_usd": outAudio / m * rates.AudioOutput,
	}
	var total float64
	for _, v := range breakdown {
		total += v
	}
	return Cost{
		Provider:        provider,
		DurationSeconds: durationSeconds,
		TotalUSD:        total,
		Breakdown:       breakdown,
	}
}

// TimeCost prices a time-metered call: ceil(duration/unit) billing units at
// unitRateUSD each. billingUnitSeconds is 60 for per-minute providers and 6
// for deciminute providers.
func TimeCost(provider string, durationSeconds, billingUnitSeconds int, unitRateUSD float64) Cost {
	if billingUnitSeconds <= 0 {
		billingUnitSeconds = 60
	}
	units := billedUnits(durationSeconds, billingUnitSeconds)
	return Cost{
		Provider:        provider,
		DurationSeconds: durationSeconds,
		TotalUSD:        float64(units) * unitRateUSD,
		Breakdown: map[string]float64{
			"billed_seconds": float64(units * billingUnitSeconds),
			"billed_units":   float64(units),
			"unit_rate_usd":  unitRateUSD,
		},
	}
}

// PipelineCost prices the STT->LLM->TTS path at a flat per-minute rate,
// rounded up to whole minutes.
func PipelineCost(provider string, durationSeconds int, perMinuteUSD float64) Cost {
	minutes := billedUnits(durationSeconds, 60)
	return Cost{
		Provider:        provider,
		DurationSeconds: durationSeconds,
		TotalUSD:        float64(minutes) * perMinuteUSD,
		Breakdown: map[string]float64{
			"billed_minutes": float64(minutes),
			"per_minute_usd": perMinuteUSD,
		},
	}
}

// billedUnits rounds duration up to whole billing units. Zero duration bills
// zero units (never-connected calls must not be charged).
func billedUnits(durationSeconds, unitSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	return int(math.Ceil(float64(durationSeconds) / float64(unitSeconds)))
}
