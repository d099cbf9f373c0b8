package main

import (
	"reflect"
	"testing"

	"github.com/vertexquant/tradeengine/pkg/types"
)

func TestParseSymbolsSplitsAndTrims(t *testing.T) {
	got := parseSymbols("BTC-USD, ETH-USD ,SOL-USD")
	want := []types.Symbol{"BTC-USD", "ETH-USD", "SOL-USD"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseSymbols = %v, want %v", got, want)
	}
}

func TestParseSymbolsFallsBackWhenEmpty(t *testing.T) {
	got := parseSymbols("  ,  ")
	want := []types.Symbol{"BTC-USD"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseSymbols = %v, want %v", got, want)
	}
}

func TestSymbolNames(t *testing.T) {
	got := symbolNames([]types.Symbol{"BTC-USD", "ETH-USD"})
	want := []string{"BTC-USD", "ETH-USD"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("symbolNames = %v, want %v", got, want)
	}
}

func TestAdminRoutesCoverAllFourSubcommands(t *testing.T) {
	want := []string{"reconcile-now", "emergency-sync", "pause", "resume"}
	for _, name := range want {
		if _, ok := adminRoutes[name]; !ok {
			t.Fatalf("adminRoutes missing subcommand %q", name)
		}
	}
	if len(adminRoutes) != len(want) {
		t.Fatalf("adminRoutes has %d entries, want %d", len(adminRoutes), len(want))
	}
}
