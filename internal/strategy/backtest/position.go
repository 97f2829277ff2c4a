package backtest

import (
	"math"
	"time"

	"github.com/google/uuid"

	"qcat-backtest/internal/strategy"
)

// PositionManager runs the position lifecycle of one asset sleeve.
// At most one position is open at a time.
type PositionManager struct {
	symbol   string
	capital  float64
	cash     float64
	holding  int
	costs    CostModel
	position *Position
	realized float64
	trades   []Trade
}

// NewPositionManager creates a manager with the given sleeve capital.
// holding == 0 means positions close only on EXIT signals.
func NewPositionManager(symbol string, capital float64, holding int, costs CostModel) *PositionManager {
	return &PositionManager{
		symbol:  symbol,
		capital: capital,
		cash:    capital,
		holding: holding,
		costs:   costs,
	}
}

// State returns the strategy-facing position state
func (m *PositionManager) State() strategy.State {
	switch {
	case m.position == nil:
		return strategy.StateFlat
	case m.position.Direction == DirectionShort:
		return strategy.StateShort
	default:
		return strategy.StateLong
	}
}

// Position returns the open position, nil when flat
func (m *PositionManager) Position() *Position {
	return m.position
}

// Advance applies one bar. With a fixed holding period an open position
// closes exactly holding bars after entry and every signal in between is
// ignored; with holding == 0 it closes on EXIT. Nothing opens in a bar that
// closed a position.
func (m *PositionManager) Advance(bar int, sig strategy.Signal, price float64, t time.Time, volume float64) *Trade {
	if m.position != nil {
		// 持仓中：平仓优先于开仓
		if m.holding > 0 {
			m.position.Remaining--
			if m.position.Remaining <= 0 {
				return m.close(bar, price, t, volume, ExitHoldingPeriod)
			}
			return nil
		}
		if sig == strategy.SignalExit {
			return m.close(bar, price, t, volume, ExitSignal)
		}
		return nil
	}

	switch sig {
	case strategy.SignalEnterLong:
		m.open(bar, DirectionLong, price, t, volume)
	case strategy.SignalEnterShort:
		m.open(bar, DirectionShort, price, t, volume)
	}
	return nil
}

// ForceClose closes any open position at the given price
func (m *PositionManager) ForceClose(bar int, price float64, t time.Time, volume float64) *Trade {
	if m.position == nil {
		return nil
	}
	return m.close(bar, price, t, volume, ExitEndOfData)
}

// open commits the whole sleeve equity, sized so that notional plus
// full-participation costs fit in cash
func (m *PositionManager) open(bar int, dir Direction, price float64, t time.Time, volume float64) {
	if price <= 0 || m.cash <= 0 {
		return
	}
	budget := m.cash - m.costs.FixedFee
	if budget <= 0 {
		return
	}
	qty := budget / (price * (1 + m.costs.rate()))
	if qty <= 0 || math.IsInf(qty, 0) || math.IsNaN(qty) {
		return
	}

	cost := m.costs.Cost(price, qty, volume)
	m.cash -= dir.sign()*qty*price + cost
	m.position = &Position{
		ID:         uuid.NewString(),
		Symbol:     m.symbol,
		Direction:  dir,
		EntryBar:   bar,
		EntryTime:  t,
		EntryPrice: price,
		Quantity:   qty,
		Remaining:  m.holding,
		EntryCost:  cost,
	}
}

func (m *PositionManager) close(bar int, price float64, t time.Time, volume float64, reason ExitReason) *Trade {
	p := m.position
	exitCost := m.costs.Cost(price, p.Quantity, volume)
	m.cash += p.Direction.sign()*p.Quantity*price - exitCost

	gross := p.Direction.sign() * p.Quantity * (price - p.EntryPrice)
	costs := p.EntryCost + exitCost
	net := gross - costs
	m.realized += net

	trade := Trade{
		ID:          p.ID,
		Symbol:      m.symbol,
		Direction:   p.Direction,
		EntryBar:    p.EntryBar,
		ExitBar:     bar,
		EntryTime:   p.EntryTime,
		ExitTime:    t,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   price,
		Quantity:    p.Quantity,
		GrossPnL:    gross,
		Costs:       costs,
		NetPnL:      net,
		HoldingBars: bar - p.EntryBar,
		ExitReason:  reason,
	}
	if notional := p.Quantity * p.EntryPrice; notional > 0 {
		trade.Return = net / notional
	}

	m.trades = append(m.trades, trade)
	m.position = nil
	return &trade
}

// Cash returns the sleeve cash balance
func (m *PositionManager) Cash() float64 {
	return m.cash
}

// MarketValue returns the signed value of the open position
func (m *PositionManager) MarketValue(price float64) float64 {
	if m.position == nil {
		return 0
	}
	return m.position.Direction.sign() * m.position.Quantity * price
}

// Equity returns cash plus the marked position value
func (m *PositionManager) Equity(price float64) float64 {
	return m.cash + m.MarketValue(price)
}

// RealizedPnL returns the net PnL of closed trades
func (m *PositionManager) RealizedPnL() float64 {
	return m.realized
}

// UnrealizedPnL returns the mark-to-market PnL of the open position, net of its entry cost
func (m *PositionManager) UnrealizedPnL(price float64) float64 {
	if m.position == nil {
		return 0
	}
	p := m.position
	return p.Direction.sign()*p.Quantity*(price-p.EntryPrice) - p.EntryCost
}

// Trades returns the closed trades
func (m *PositionManager) Trades() []Trade {
	return m.trades
}

// Snapshot reports the sleeve state at price
func (m *PositionManager) Snapshot(price float64) AssetSnapshot {
	s := AssetSnapshot{
		Symbol:        m.symbol,
		Capital:       m.capital,
		Cash:          m.cash,
		MarketValue:   m.MarketValue(price),
		RealizedPnL:   m.realized,
		UnrealizedPnL: m.UnrealizedPnL(price),
		TradeCount:    len(m.trades),
	}
	if m.capital > 0 {
		s.Return = m.Equity(price)/m.capital - 1
	}
	return s
}
