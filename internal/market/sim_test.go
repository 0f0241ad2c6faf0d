package market

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestSimProviderSnapshot(t *testing.T) {
	p := NewSimProvider([]string{"BTC", "ETH"}, 42, zerolog.Nop())

	snap, err := p.Snapshot(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Asset != "BTC" {
		t.Errorf("asset = %s, want BTC", snap.Asset)
	}
	if snap.Price <= 0 {
		t.Errorf("price = %.2f, want positive", snap.Price)
	}
	if snap.VolumeRatio <= 0 {
		t.Errorf("volume ratio = %.2f, want positive", snap.VolumeRatio)
	}
	if snap.BookImbalance == nil || *snap.BookImbalance < -1 || *snap.BookImbalance > 1 {
		t.Errorf("book imbalance = %v, want within [-1, 1]", snap.BookImbalance)
	}
	if snap.DVOL == nil || *snap.DVOL <= 0 {
		t.Errorf("dvol = %v, want positive", snap.DVOL)
	}
	if snap.FearGreed == nil || *snap.FearGreed < 0 || *snap.FearGreed > 100 {
		t.Errorf("fear/greed = %v, want within [0, 100]", snap.FearGreed)
	}
	if rsi := snap.RSI(); rsi < 0 || rsi > 100 {
		t.Errorf("rsi = %.2f, out of range", rsi)
	}
}

func TestSimProviderUnknownAsset(t *testing.T) {
	p := NewSimProvider([]string{"BTC"}, 42, zerolog.Nop())
	if _, err := p.Snapshot(context.Background(), "DOGE"); err == nil {
		t.Error("unknown asset accepted")
	}
}

func TestSimProviderRespectsContext(t *testing.T) {
	p := NewSimProvider([]string{"BTC"}, 42, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Snapshot(ctx, "BTC"); err == nil {
		t.Error("cancelled context not honored")
	}
}

func TestSimProviderMarkPriceTracksSnapshot(t *testing.T) {
	p := NewSimProvider([]string{"BTC"}, 42, zerolog.Nop())
	price, err := p.MarkPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("mark price: %v", err)
	}
	// The walk starts at 65000 and a single step cannot move far.
	if price < 30000 || price > 130000 {
		t.Errorf("mark price = %.2f, implausible for the BTC walk", price)
	}
}
