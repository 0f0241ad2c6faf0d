package positions

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/signal"
)

func zeroFees() config.FeesConfig { return config.FeesConfig{} }

func realFees() config.FeesConfig {
	return config.FeesConfig{
		TakerFeeBps:       2.5,
		SlippageBaseBps:   2,
		SlippageBpsPer10k: 2,
		SlippageMaxBps:    20,
	}
}

func newTestManager(fees config.FeesConfig, aggressive bool) *Manager {
	return NewManager(config.EngineConfig{InitialBalance: 10000}, fees, aggressive, zerolog.Nop())
}

func openLong(t *testing.T, m *Manager, sizeUSD, leverage float64) *Position {
	t.Helper()
	pos, err := m.Open(OpenParams{
		Asset:         "BTC",
		Direction:     signal.DirectionLong,
		EntryPrice:    100,
		SizeUSD:       sizeUSD,
		Leverage:      leverage,
		StopLossPrice: 98,
		TakeProfits:   []float64{104, 106},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return pos
}

func approx(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func TestSlippageScalesWithNotional(t *testing.T) {
	m := newTestManager(realFees(), false)
	tests := []struct {
		sizeUSD float64
		want    float64
	}{
		{5000, 2},
		{25000, 6},
		{200000, 20}, // capped
	}
	for _, tt := range tests {
		if got := m.Slippage(tt.sizeUSD); got != tt.want {
			t.Errorf("slippage(%.0f) = %.1f bps, want %.1f", tt.sizeUSD, got, tt.want)
		}
	}
}

func TestOpenAppliesSlippageAgainstTrader(t *testing.T) {
	m := newTestManager(realFees(), false)
	long := openLong(t, m, 5000, 5)
	if !approx(long.EntryPrice, 100.02, 1e-9) {
		t.Errorf("long fill = %.4f, want 100.02 (2 bps above mark)", long.EntryPrice)
	}

	short, err := m.Open(OpenParams{
		Asset: "ETH", Direction: signal.DirectionShort,
		EntryPrice: 100, SizeUSD: 5000, Leverage: 5, StopLossPrice: 102,
	})
	if err != nil {
		t.Fatalf("open short: %v", err)
	}
	if !approx(short.EntryPrice, 99.98, 1e-9) {
		t.Errorf("short fill = %.4f, want 99.98 (2 bps below mark)", short.EntryPrice)
	}
}

func TestOpenValidation(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	if _, err := m.Open(OpenParams{Asset: "BTC", Direction: signal.DirectionLong, EntryPrice: 0, SizeUSD: 100, Leverage: 2}); err == nil {
		t.Error("zero entry price accepted")
	}
	if _, err := m.Open(OpenParams{Asset: "BTC", Direction: signal.DirectionLong, EntryPrice: 100, SizeUSD: 100, Leverage: 0}); err == nil {
		t.Error("zero leverage accepted")
	}
	if _, err := m.Open(OpenParams{Asset: "BTC", Direction: signal.DirectionNeutral, EntryPrice: 100, SizeUSD: 100, Leverage: 2}); err == nil {
		t.Error("neutral direction accepted")
	}
	// Margin 20000 against a 10000 balance.
	if _, err := m.Open(OpenParams{Asset: "BTC", Direction: signal.DirectionLong, EntryPrice: 100, SizeUSD: 40000, Leverage: 2}); err == nil {
		t.Error("margin above balance accepted")
	}
}

func TestOpenCommitsMargin(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	pos := openLong(t, m, 1000, 5)

	if pos.MarginUSD != 200 {
		t.Errorf("margin = %.2f, want 200", pos.MarginUSD)
	}
	p := m.GetPortfolio()
	if p.Balance != 9800 {
		t.Errorf("balance = %.2f, want 9800 after committing margin", p.Balance)
	}
	if m.CurrentExposure() != 200 {
		t.Errorf("exposure = %.2f, want 200", m.CurrentExposure())
	}
	if !m.HasOpenPosition("BTC") {
		t.Error("open position not visible")
	}
}

func TestLiquidationPriceFixedAtOpen(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	pos := openLong(t, m, 1000, 5)

	// 90% of the 20% margin distance below entry.
	if !approx(pos.LiquidationPrice, 82, 1e-9) {
		t.Errorf("liquidation = %.4f, want 82", pos.LiquidationPrice)
	}
	// A 5x position liquidates well below its 2% stop.
	if pos.LiquidationPrice >= pos.StopLossPrice {
		t.Errorf("liquidation %.2f not below stop %.2f", pos.LiquidationPrice, pos.StopLossPrice)
	}

	m.UpdateMark("BTC", 90, nil)
	got, _ := m.GetPosition(pos.ID)
	if got.LiquidationPrice != pos.LiquidationPrice {
		t.Errorf("liquidation moved to %.4f after mark update", got.LiquidationPrice)
	}
}

func TestCloseSettlesMarginAndPnl(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	pos := openLong(t, m, 1000, 5)

	closed, err := m.Close(pos.ID, 110, CloseTakeProfit)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !approx(closed.RealizedPnl, 100, 1e-9) {
		t.Errorf("realized = %.4f, want 100 (10%% on 1000 notional)", closed.RealizedPnl)
	}
	if !approx(closed.RealizedPnlPct, 50, 1e-9) {
		t.Errorf("realized pct = %.2f, want 50%% on margin", closed.RealizedPnlPct)
	}

	p := m.GetPortfolio()
	if !approx(p.Balance, 10100, 1e-9) {
		t.Errorf("balance = %.2f, want 10100", p.Balance)
	}
	if p.WinCount != 1 || p.LossCount != 0 {
		t.Errorf("win/loss = %d/%d, want 1/0", p.WinCount, p.LossCount)
	}
	if m.HasOpenPosition("BTC") {
		t.Error("position still open after close")
	}
	if _, err := m.Close(pos.ID, 110, CloseManual); err != ErrPositionNotFound {
		t.Errorf("double close error = %v, want ErrPositionNotFound", err)
	}
}

func TestCloseChargesFeesAndExitSlippage(t *testing.T) {
	m := newTestManager(realFees(), false)
	pos := openLong(t, m, 1000, 5)

	closed, err := m.Close(pos.ID, 110, CloseTakeProfit)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	// Entry filled at 100.02, exit at 109.978, round-trip fee 0.5.
	gross := 1000 * (109.978 - 100.02) / 100.02
	if !approx(closed.RealizedPnl, gross-0.5, 1e-6) {
		t.Errorf("realized = %.4f, want %.4f", closed.RealizedPnl, gross-0.5)
	}
	if !approx(closed.FeesUSD, 0.5, 1e-9) {
		t.Errorf("fees = %.4f, want 0.5", closed.FeesUSD)
	}
}

func TestUpdateMarkTracksUnrealized(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	pos := openLong(t, m, 1000, 5)

	m.UpdateMark("BTC", 102, nil)
	got, _ := m.GetPosition(pos.ID)
	if !approx(got.UnrealizedPnl, 20, 1e-9) {
		t.Errorf("unrealized = %.4f, want 20", got.UnrealizedPnl)
	}
	if !approx(got.UnrealizedPnlPct, 10, 1e-9) {
		t.Errorf("unrealized pct = %.4f, want 10 (2%% x 5x)", got.UnrealizedPnlPct)
	}

	m.UpdateMark("BTC", 99, nil)
	got, _ = m.GetPosition(pos.ID)
	if !approx(got.MaxUnrealizedProfit, 20, 1e-9) {
		t.Errorf("max profit = %.4f, want 20 retained", got.MaxUnrealizedProfit)
	}
	if !approx(got.MaxUnrealizedLoss, -10, 1e-9) {
		t.Errorf("max loss = %.4f, want -10", got.MaxUnrealizedLoss)
	}

	p := m.GetPortfolio()
	if !approx(p.TotalValue, 9790, 1e-9) {
		t.Errorf("total value = %.2f, want 9790 (9800 balance - 10 unrealized)", p.TotalValue)
	}
}

func TestTrailingStopActivationAndRatchet(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	pos := openLong(t, m, 1000, 5) // stop 98, R = 2

	// Below 1.5R the trail stays off.
	m.UpdateMark("BTC", 102.9, nil)
	got, _ := m.GetPosition(pos.ID)
	if got.TrailingStopActivated {
		t.Fatal("trail activated below 1.5R")
	}

	// 3 points = 1.5R: activates at breakeven + 0.5R.
	m.UpdateMark("BTC", 103, nil)
	got, _ = m.GetPosition(pos.ID)
	if !got.TrailingStopActivated {
		t.Fatal("trail not activated at 1.5R")
	}
	if !approx(got.TrailingStopPrice, 101, 1e-9) {
		t.Errorf("initial trail = %.4f, want 101", got.TrailingStopPrice)
	}

	// Trail distance is 3% of mark; at 110 the trail ratchets to 106.7.
	m.UpdateMark("BTC", 110, nil)
	got, _ = m.GetPosition(pos.ID)
	if !approx(got.TrailingStopPrice, 106.7, 1e-9) {
		t.Errorf("trail = %.4f, want 106.7", got.TrailingStopPrice)
	}

	// Pullbacks never move the trail back down.
	m.UpdateMark("BTC", 107, nil)
	got, _ = m.GetPosition(pos.ID)
	if !approx(got.TrailingStopPrice, 106.7, 1e-9) {
		t.Errorf("trail retreated to %.4f", got.TrailingStopPrice)
	}

	// Crossing the trail fires the trigger.
	m.UpdateMark("BTC", 106, nil)
	triggered := m.CheckTriggers(time.Now())
	if len(triggered) != 1 || triggered[0].Trigger != TriggerTrailingStop {
		t.Fatalf("triggered = %+v, want one trailing_stop", triggered)
	}
}

func TestStopLossTriggerOnlyWhileTrailInactive(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	openLong(t, m, 1000, 5)

	m.UpdateMark("BTC", 97.9, nil)
	triggered := m.CheckTriggers(time.Now())
	if len(triggered) != 1 || triggered[0].Trigger != TriggerStopLoss {
		t.Fatalf("triggered = %+v, want one stop_loss", triggered)
	}
}

func TestLiquidationTrigger(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	openLong(t, m, 1000, 5)

	m.UpdateMark("BTC", 80, nil)
	triggered := m.CheckTriggers(time.Now())
	if len(triggered) != 1 || triggered[0].Trigger != TriggerLiquidation {
		t.Fatalf("triggered = %+v, want one liquidation", triggered)
	}
}

func TestMaxAgeBeatsOtherTriggers(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	openLong(t, m, 1000, 5)
	m.UpdateMark("BTC", 80, nil) // also past liquidation

	triggered := m.CheckTriggers(time.Now().Add(49 * time.Hour))
	if len(triggered) != 1 || triggered[0].Trigger != TriggerMaxAge {
		t.Fatalf("triggered = %+v, want one max_age", triggered)
	}
}

func TestDollarTakeProfitUnderAggressivePreset(t *testing.T) {
	m := newTestManager(zeroFees(), true)
	_, err := m.Open(OpenParams{
		Asset: "BTC", Direction: signal.DirectionLong,
		EntryPrice: 100, SizeUSD: 10000, Leverage: 5, StopLossPrice: 98,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// +2.2% on 10000 notional = 220 unrealized, above the 210 target.
	m.UpdateMark("BTC", 102.2, nil)
	triggered := m.CheckTriggers(time.Now())
	if len(triggered) != 1 || triggered[0].Trigger != TriggerTakeProfit {
		t.Fatalf("triggered = %+v, want one take_profit", triggered)
	}
}

func TestPartialTakeProfitLadder(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	pos := openLong(t, m, 1000, 5) // TPs at 104 and 106

	m.UpdateMark("BTC", 104, nil)
	triggered := m.CheckTriggers(time.Now())
	if len(triggered) != 1 || triggered[0].Trigger != TriggerPartialTP {
		t.Fatalf("triggered = %+v, want one partial_tp", triggered)
	}

	res, err := m.ExecutePartialTakeProfit(pos.ID, 104)
	if err != nil {
		t.Fatalf("partial tp: %v", err)
	}
	if res.Step != 1 || !res.MovedToBreakeven {
		t.Errorf("result = %+v, want step 1 with stop at breakeven", res)
	}
	if !approx(res.PartialPnl, 20, 1e-9) {
		t.Errorf("partial pnl = %.4f, want 20 (4%% on 500)", res.PartialPnl)
	}

	got, _ := m.GetPosition(pos.ID)
	if !approx(got.SizeUSD, 500, 1e-9) {
		t.Errorf("remaining size = %.2f, want half of original", got.SizeUSD)
	}
	if got.OriginalSizeUSD != 1000 {
		t.Errorf("original size = %.2f, want 1000", got.OriginalSizeUSD)
	}
	if !approx(got.StopLossPrice, got.EntryPrice, 1e-9) {
		t.Errorf("stop = %.4f, want breakeven %.4f", got.StopLossPrice, got.EntryPrice)
	}

	// TP1 must not re-fire; TP2 arms instead.
	m.UpdateMark("BTC", 104.5, nil)
	if triggered := m.CheckTriggers(time.Now()); len(triggered) != 0 {
		t.Fatalf("triggered between ladder steps: %+v", triggered)
	}
	m.UpdateMark("BTC", 106, nil)
	triggered = m.CheckTriggers(time.Now())
	if len(triggered) != 1 || triggered[0].Trigger != TriggerPartialTP {
		t.Fatalf("triggered = %+v, want partial_tp at TP2", triggered)
	}

	res, err = m.ExecutePartialTakeProfit(pos.ID, 106)
	if err != nil {
		t.Fatalf("partial tp 2: %v", err)
	}
	if res.Step != 2 || res.MovedToBreakeven {
		t.Errorf("result = %+v, want step 2 without breakeven move", res)
	}
	if !approx(res.RemainingSize, 335, 1e-9) {
		t.Errorf("remaining = %.2f, want 335 (67%% of 500)", res.RemainingSize)
	}

	if _, err := m.ExecutePartialTakeProfit(pos.ID, 108); err == nil {
		t.Error("third ladder step accepted")
	}
}

func TestStatePersistenceRoundTrip(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	pos := openLong(t, m, 1000, 5)
	m.UpdateMark("BTC", 102, nil)

	state := m.StateForPersistence()

	restored := newTestManager(zeroFees(), false)
	restored.RestoreState(state)

	got, ok := restored.GetPosition(pos.ID)
	if !ok {
		t.Fatal("restored manager lost the position")
	}
	if got.EntryPrice != pos.EntryPrice || got.MarginUSD != 200 {
		t.Errorf("restored position = %+v", got)
	}
	if restored.GetPortfolio().Balance != 9800 {
		t.Errorf("restored balance = %.2f, want 9800", restored.GetPortfolio().Balance)
	}
}

func TestRestoreStateRecomputesDerivedFields(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	m.RestoreState(State{
		Portfolio: Portfolio{Balance: 9800, InitialBalance: 10000, TotalValue: 9800},
		Positions: []Position{{
			ID: "p1", Asset: "BTC", Direction: signal.DirectionLong, Status: StatusOpen,
			EntryPrice: 100, SizeUSD: 1000, Leverage: 5, StopLossPrice: 98,
		}},
	})

	got, ok := m.GetPosition("p1")
	if !ok {
		t.Fatal("restored position missing")
	}
	if got.MarginUSD != 200 {
		t.Errorf("margin = %.2f, want recomputed 200", got.MarginUSD)
	}
	if got.InitialStopDistance != 2 {
		t.Errorf("stop distance = %.2f, want recomputed 2", got.InitialStopDistance)
	}
}

func TestRestoreStateDropsClosedPositions(t *testing.T) {
	m := newTestManager(zeroFees(), false)
	m.RestoreState(State{
		Portfolio: newPortfolio(10000),
		Positions: []Position{{ID: "p1", Asset: "BTC", Status: StatusClosed}},
	})
	if len(m.OpenPositions()) != 0 {
		t.Error("closed position restored as open")
	}
}

func TestComputeStopLossPct(t *testing.T) {
	tests := []struct {
		atrPct float64
		want   float64
	}{
		{0, 2.0},   // unknown ATR falls back to default
		{1.0, 1.5}, // 1.5x ATR
		{0.4, 1.0}, // floor
		{4.0, 4.0}, // cap
	}
	for _, tt := range tests {
		if got := ComputeStopLossPct(tt.atrPct, 2.0); got != tt.want {
			t.Errorf("ComputeStopLossPct(%.1f) = %.2f, want %.2f", tt.atrPct, got, tt.want)
		}
	}
}

func TestComputeTakeProfits(t *testing.T) {
	long := ComputeTakeProfits(signal.DirectionLong, 100, 98, []float64{2, 3})
	if len(long) != 2 || long[0] != 104 || long[1] != 106 {
		t.Errorf("long ladder = %v, want [104 106]", long)
	}
	short := ComputeTakeProfits(signal.DirectionShort, 100, 102, []float64{2, 3})
	if len(short) != 2 || short[0] != 96 || short[1] != 94 {
		t.Errorf("short ladder = %v, want [96 94]", short)
	}
}
