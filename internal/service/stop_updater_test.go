package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

func TestCancelRecreateUpdater_KeepsTakeProfit(t *testing.T) {
	v := newFakeVenue()
	v.open("BTCUSDT", domain.SideLong, "100", "95", "130")
	current, _ := v.pair("BTCUSDT")

	u := NewCancelRecreateUpdater(v, discardLogger())
	pair, err := u.UpdateStop(context.Background(), "BTCUSDT", domain.SideLong, current, d("101.5"))
	if err != nil {
		t.Fatalf("UpdateStop() error = %v", err)
	}
	if pair.StopOrderID == current.StopOrderID {
		t.Error("stop order id not replaced")
	}

	got, _ := v.pair("BTCUSDT")
	if !got.StopTriggerPrice.Equal(d("101.5")) || !got.TPTriggerPrice.Equal(d("130")) {
		t.Errorf("venue pair = stop %s tp %s, want 101.5/130", got.StopTriggerPrice, got.TPTriggerPrice)
	}
	if len(v.cancelled) != 1 || v.cancelled[0][0] != current.StopOrderID || v.cancelled[0][1] != current.TPOrderID {
		t.Errorf("cancelled = %v", v.cancelled)
	}
}

func TestCancelRecreateUpdater_CancelFailureLeavesOrders(t *testing.T) {
	v := newFakeVenue()
	v.open("BTCUSDT", domain.SideLong, "100", "95", "130")
	current, _ := v.pair("BTCUSDT")
	v.cancelErr = domain.ErrRateLimited

	u := NewCancelRecreateUpdater(v, discardLogger())
	_, err := u.UpdateStop(context.Background(), "BTCUSDT", domain.SideLong, current, d("101"))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("UpdateStop() error = %v, want ErrRateLimited", err)
	}
	if v.createCount() != 0 {
		t.Error("created orders after a failed cancel")
	}
	if _, ok := v.pair("BTCUSDT"); !ok {
		t.Error("existing pair lost")
	}
}

func TestCancelRecreateUpdater_CreateFailure(t *testing.T) {
	v := newFakeVenue()
	v.open("BTCUSDT", domain.SideShort, "100", "105", "80")
	current, _ := v.pair("BTCUSDT")
	v.createErr = domain.ErrVenueUnavailable

	u := NewCancelRecreateUpdater(v, discardLogger())
	_, err := u.UpdateStop(context.Background(), "BTCUSDT", domain.SideShort, current, d("99"))
	if !errors.Is(err, domain.ErrVenueUnavailable) {
		t.Fatalf("UpdateStop() error = %v, want ErrVenueUnavailable", err)
	}
}
