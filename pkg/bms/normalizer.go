// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"fmt"
	"math"
)

// Derived selects the fields a normalizer may compute from other fields
type Derived uint16

const (
	DeriveCellCount Derived = 1 << iota
	DeriveVoltage
	DeriveDeltaVoltage
	DeriveCycleCharge
	DeriveCycleCapacity
	DerivePower
	DeriveCharging
	DeriveRuntime
	DeriveTemperature

	DeriveAll = DeriveCellCount | DeriveVoltage | DeriveDeltaVoltage | DeriveCycleCharge |
		DeriveCycleCapacity | DerivePower | DeriveCharging | DeriveRuntime | DeriveTemperature
)

// mandatoryFields must be present for a sample to be returned
var mandatoryFields = []string{"voltage", "current", "battery_level"}

// Normalizer folds partial field sets of one refresh cycle into a Sample.
// Conflicting fields resolve to the value of the later Add call; the
// dispatcher adds results in the cycle's query order.
type Normalizer struct {
	derive Derived
	sample *Sample
	parts  int
}

// NewNormalizer creates a normalizer that may compute the given fields
func NewNormalizer(derive Derived) *Normalizer {
	return &Normalizer{derive: derive, sample: &Sample{}}
}

// Add merges one decoded field set
func (n *Normalizer) Add(part *Sample) {
	if part == nil {
		return
	}
	n.sample.Merge(part)
	n.parts++
}

// Parts returns the number of field sets added
func (n *Normalizer) Parts() int {
	return n.parts
}

// Finish derives missing fields, evaluates the problem flag and checks the
// schema invariants. The returned Sample is a fresh copy; further Add calls
// do not affect it.
func (n *Normalizer) Finish() (*Sample, error) {
	s := n.sample.Clone()
	n.deriveFields(s)

	if s.CellCount != nil && len(s.CellVoltages) > 0 && len(s.CellVoltages) != *s.CellCount {
		return nil, &ValidationError{
			Type:    AnomalyCellCount,
			Message: fmt.Sprintf("cell count %d does not match %d cell voltages", *s.CellCount, len(s.CellVoltages)),
			Details: map[string]interface{}{"cell_count": *s.CellCount, "cell_voltages": len(s.CellVoltages)},
		}
	}

	s.Problem = Ptr(hasProblem(s))

	var missing []string
	for _, name := range mandatoryFields {
		if !s.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &PartialResultError{Missing: missing}
	}
	return s, nil
}

// Raw returns the merged fields exactly as decoded: nothing is derived, the
// problem flag is left to the device and no field is mandatory
func (n *Normalizer) Raw() *Sample {
	return n.sample.Clone()
}

func (n *Normalizer) can(d Derived) bool {
	return n.derive&d != 0
}

// deriveFields computes absent fields from present ones; vendor values are
// never overwritten
func (n *Normalizer) deriveFields(s *Sample) {
	cells := s.CellVoltages

	if n.can(DeriveCellCount) && s.CellCount == nil && len(cells) > 0 {
		s.CellCount = Ptr(len(cells))
	}
	if n.can(DeriveVoltage) && s.Voltage == nil && len(cells) > 0 {
		var sum float64
		for _, v := range cells {
			sum += v
		}
		s.Voltage = Ptr(round3(sum))
	}
	if n.can(DeriveDeltaVoltage) && s.DeltaVoltage == nil && len(cells) > 0 {
		lo, hi := cells[0], cells[0]
		for _, v := range cells[1:] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		s.DeltaVoltage = Ptr(round3(hi - lo))
	}
	if n.can(DeriveCycleCharge) && s.CycleCharge == nil && s.DesignCapacity != nil && s.BatteryLevel != nil {
		s.CycleCharge = Ptr(*s.DesignCapacity * *s.BatteryLevel / 100)
	}
	if n.can(DeriveCycleCapacity) && s.CycleCapacity == nil && s.Voltage != nil && s.CycleCharge != nil {
		s.CycleCapacity = Ptr(*s.Voltage * *s.CycleCharge)
	}
	if n.can(DerivePower) && s.Power == nil && s.Voltage != nil && s.Current != nil {
		s.Power = Ptr(round3(*s.Voltage * *s.Current))
	}
	if n.can(DeriveCharging) && s.Charging == nil && s.Current != nil {
		s.Charging = Ptr(*s.Current > 0)
	}
	// Runtime to empty is only defined while discharging
	if n.can(DeriveRuntime) && s.Runtime == nil && s.Current != nil && s.CycleCharge != nil && *s.Current < 0 {
		s.Runtime = Ptr(int(*s.CycleCharge / math.Abs(*s.Current) * hoursToSeconds))
	}
	if n.can(DeriveTemperature) && s.Temperature == nil && len(s.TempValues) > 0 {
		var sum float64
		for _, t := range s.TempValues {
			sum += t
		}
		s.Temperature = Ptr(round3(sum / float64(len(s.TempValues))))
	}
}

// hasProblem applies the plausibility checks to present fields
func hasProblem(s *Sample) bool {
	if s.Problem != nil && *s.Problem {
		return true
	}
	if s.ProblemCode != nil && *s.ProblemCode != 0 {
		return true
	}
	if s.Voltage != nil && *s.Voltage <= 0 {
		return true
	}
	for _, v := range s.CellVoltages {
		if v <= 0 || v > MaxCellVoltage {
			return true
		}
	}
	if s.DeltaVoltage != nil && *s.DeltaVoltage > MaxCellVoltage {
		return true
	}
	if s.CycleCharge != nil && *s.CycleCharge <= 0 {
		return true
	}
	return s.BatteryLevel != nil && *s.BatteryLevel > 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
