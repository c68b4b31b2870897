package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skydish/api/internal/platform/geo"
	"github.com/skydish/api/internal/platform/textutil"
)

const (
	defaultMaxDeliveryMeters = 5000
	defaultRangeCheckTimeout = 5 * time.Second
)

// DeliveryRangeChecker decides whether a delivery address is reachable from the shop.
type DeliveryRangeChecker interface {
	CheckRange(ctx context.Context, address string) error
}

// RouteLookup is the geocoding and routing surface used by the range check.
type RouteLookup interface {
	Geocode(ctx context.Context, address string) (geo.Point, error)
	DrivingDistance(ctx context.Context, origin, destination geo.Point) (int, error)
}

// DeliveryRangeConfig configures the route-distance check.
type DeliveryRangeConfig struct {
	Lookup      RouteLookup
	Geocoder    geo.Geocoder
	ShopAddress string
	MaxMeters   int
	Timeout     time.Duration
}

type routeRangeChecker struct {
	lookup    RouteLookup
	geocoder  geo.Geocoder
	shop      string
	maxMeters int
	timeout   time.Duration
}

// NewDeliveryRangeChecker returns a checker doing two geocodes and one route lookup per call.
// Geocoder, when set, replaces Lookup for geocoding (typically a cache decorator).
func NewDeliveryRangeChecker(cfg DeliveryRangeConfig) (DeliveryRangeChecker, error) {
	if cfg.Lookup == nil {
		return nil, errors.New("delivery range: lookup is required")
	}
	shop := textutil.NormalizeAddress(cfg.ShopAddress)
	if shop == "" {
		return nil, errors.New("delivery range: shop address is required")
	}
	maxMeters := cfg.MaxMeters
	if maxMeters <= 0 {
		maxMeters = defaultMaxDeliveryMeters
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRangeCheckTimeout
	}
	geocoder := cfg.Geocoder
	if geocoder == nil {
		geocoder = cfg.Lookup
	}
	return &routeRangeChecker{
		lookup:    cfg.Lookup,
		geocoder:  geocoder,
		shop:      shop,
		maxMeters: maxMeters,
		timeout:   timeout,
	}, nil
}

func (c *routeRangeChecker) CheckRange(ctx context.Context, address string) error {
	address = textutil.NormalizeAddress(address)
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("%w: delivery address is empty", ErrOrderAddressResolution)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	shopAt, err := c.geocoder.Geocode(ctx, c.shop)
	if err != nil {
		return fmt.Errorf("%w: shop address: %v", ErrOrderAddressResolution, err)
	}
	destination, err := c.geocoder.Geocode(ctx, address)
	if err != nil {
		return fmt.Errorf("%w: delivery address: %v", ErrOrderAddressResolution, err)
	}
	distance, err := c.lookup.DrivingDistance(ctx, shopAt, destination)
	if err != nil {
		return fmt.Errorf("%w: route: %v", ErrOrderAddressResolution, err)
	}
	if distance > c.maxMeters {
		return fmt.Errorf("%w: %d m exceeds %d m", ErrOrderOutOfRange, distance, c.maxMeters)
	}
	return nil
}
