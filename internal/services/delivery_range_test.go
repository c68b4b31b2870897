package services

import (
	"context"
	"errors"
	"testing"

	"github.com/skydish/api/internal/platform/geo"
)

type stubRouteLookup struct {
	points     map[string]geo.Point
	distance   int
	routeErr   error
	geocodes   []string
	routeCalls int
}

func (s *stubRouteLookup) Geocode(_ context.Context, address string) (geo.Point, error) {
	s.geocodes = append(s.geocodes, address)
	point, ok := s.points[address]
	if !ok {
		return geo.Point{}, geo.ErrLookupFailed
	}
	return point, nil
}

func (s *stubRouteLookup) DrivingDistance(context.Context, geo.Point, geo.Point) (int, error) {
	s.routeCalls++
	if s.routeErr != nil {
		return 0, s.routeErr
	}
	return s.distance, nil
}

func newRangeLookup(distance int) *stubRouteLookup {
	return &stubRouteLookup{
		points: map[string]geo.Point{
			"北京市海淀区中关村大街27号": {Lat: 39.98, Lng: 116.31},
			"北京市海淀区中关村大街1号":  {Lat: 39.96, Lng: 116.31},
		},
		distance: distance,
	}
}

func TestDeliveryRangeCheckerWithinRange(t *testing.T) {
	lookup := newRangeLookup(4999)
	checker, err := NewDeliveryRangeChecker(DeliveryRangeConfig{Lookup: lookup, ShopAddress: "北京市海淀区中关村大街27号"})
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}

	if err := checker.CheckRange(context.Background(), " 北京市海淀区中关村大街1号 "); err != nil {
		t.Fatalf("expected in range, got %v", err)
	}
	if len(lookup.geocodes) != 2 || lookup.routeCalls != 1 {
		t.Fatalf("expected two geocodes and one route, got %d/%d", len(lookup.geocodes), lookup.routeCalls)
	}
}

func TestDeliveryRangeCheckerBoundary(t *testing.T) {
	for distance, wantErr := range map[int]error{5000: nil, 5001: ErrOrderOutOfRange} {
		lookup := newRangeLookup(distance)
		checker, err := NewDeliveryRangeChecker(DeliveryRangeConfig{Lookup: lookup, ShopAddress: "北京市海淀区中关村大街27号", MaxMeters: 5000})
		if err != nil {
			t.Fatalf("new checker: %v", err)
		}
		err = checker.CheckRange(context.Background(), "北京市海淀区中关村大街1号")
		if !errors.Is(err, wantErr) {
			t.Fatalf("distance %d: expected %v, got %v", distance, wantErr, err)
		}
	}
}

func TestDeliveryRangeCheckerResolutionFailures(t *testing.T) {
	lookup := newRangeLookup(100)
	checker, err := NewDeliveryRangeChecker(DeliveryRangeConfig{Lookup: lookup, ShopAddress: "北京市海淀区中关村大街27号"})
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}

	if err := checker.CheckRange(context.Background(), "somewhere unknown"); !errors.Is(err, ErrOrderAddressResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
	if err := checker.CheckRange(context.Background(), "   "); !errors.Is(err, ErrOrderAddressResolution) {
		t.Fatalf("expected resolution error for empty address, got %v", err)
	}

	lookup.routeErr = geo.ErrNoRoute
	if err := checker.CheckRange(context.Background(), "北京市海淀区中关村大街1号"); !errors.Is(err, ErrOrderAddressResolution) {
		t.Fatalf("expected resolution error for missing route, got %v", err)
	}
}

func TestDeliveryRangeCheckerUsesGeocoderOverride(t *testing.T) {
	lookup := newRangeLookup(100)
	cache := newRangeLookup(100)
	checker, err := NewDeliveryRangeChecker(DeliveryRangeConfig{Lookup: lookup, Geocoder: cache, ShopAddress: "北京市海淀区中关村大街27号"})
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}
	if err := checker.CheckRange(context.Background(), "北京市海淀区中关村大街1号"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(lookup.geocodes) != 0 || len(cache.geocodes) != 2 || lookup.routeCalls != 1 {
		t.Fatalf("expected geocodes through override, got lookup=%d cache=%d", len(lookup.geocodes), len(cache.geocodes))
	}
}

func TestNewDeliveryRangeCheckerRequiresShop(t *testing.T) {
	if _, err := NewDeliveryRangeChecker(DeliveryRangeConfig{Lookup: newRangeLookup(0)}); err == nil {
		t.Fatal("expected error without shop address")
	}
}
