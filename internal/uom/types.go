// Package uom implements the Unified Order Manager: a registry of venues
// with priorities, a pluggable allocation policy distributing one logical
// order across active venues, and fan-out to each venue's OMS.
package uom

import (
	"errors"

	"execplane/internal/oms"
	"execplane/internal/venue"
)

var (
	NoActiveVenue    = errors.New("uom: no active venue registered")
	InvalidAllocation = errors.New("uom: invalid allocation configuration")
)

// Strategy names the allocation policy.
type Strategy string

const (
	StrategyPriority    Strategy = "PRIORITY"
	StrategyRoundRobin  Strategy = "ROUND_ROBIN"
	StrategySplitEqual  Strategy = "SPLIT_EQUAL"
	StrategyWeighted    Strategy = "WEIGHTED"
	StrategyCustom      Strategy = "CUSTOM"
)

// AllocationConfig mirrors the data model's AllocationConfig.
type AllocationConfig struct {
	Strategy     Strategy
	Weights      map[string]float64
	CustomRatios map[string]float64
}

// VenueRegistration is one registered venue: its gateway, its OMS, active
// flag, and priority (lower wins).
type VenueRegistration struct {
	ID      string
	Gateway venue.Gateway
	OMS     *oms.Manager
	Active  bool
	Priority int
}

// sumTolerance is the epsilon for the allocation sum-preservation
// invariant: |sum(allocations) - A| <= sumTolerance(A).
func sumTolerance(amount float64) float64 {
	tol := 1e-5 * amount
	if tol < 0 {
		tol = -tol
	}
	return tol
}
