package strategy

import (
	"sort"

	apperrors "qcat-backtest/internal/errors"
)

// Kind identifies one of the built-in strategy variants
type Kind string

const (
	KindMACross            Kind = "ma_cross"
	KindRSIThreshold       Kind = "rsi_threshold"
	KindMACDCross          Kind = "macd_cross"
	KindBollingerBreakout  Kind = "bollinger_breakout"
	KindStochastic         Kind = "stochastic"
	KindChannelIndex       Kind = "channel_index"
	KindDirectionalTrend   Kind = "directional_trend"
	KindVolatilityStop     Kind = "volatility_stop"
	KindVolumeConfirmation Kind = "volume_confirmation"
	KindCloudTrend         Kind = "cloud_trend"
	KindParabolicReversal  Kind = "parabolic_reversal"
)

// Kinds returns every supported variant in a stable order
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(variants))
	for k := range variants {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseKind resolves a strategy id
func ParseKind(id string) (Kind, error) {
	k := Kind(id)
	if _, ok := variants[k]; !ok {
		return "", apperrors.NewAppErrorWithDetails(apperrors.ErrCodeStrategyNotFound,
			"unknown strategy", id, nil)
	}
	return k, nil
}

func (k Kind) String() string {
	return string(k)
}

// State represents the position state seen by a strategy
type State string

const (
	StateFlat  State = "FLAT"
	StateLong  State = "LONG"
	StateShort State = "SHORT"
)

// Signal is the per-bar decision of a strategy
type Signal string

const (
	SignalHold       Signal = "HOLD"
	SignalEnterLong  Signal = "ENTER_LONG"
	SignalEnterShort Signal = "ENTER_SHORT"
	SignalExit       Signal = "EXIT"
)

// IsEntry reports whether the signal opens a position
func (s Signal) IsEntry() bool {
	return s == SignalEnterLong || s == SignalEnterShort
}
