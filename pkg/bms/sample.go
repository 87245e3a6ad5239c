// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

// Sample is the canonical, vendor-independent snapshot of a battery. A nil
// field is absent: the device did not report it and it could not be derived.
// Zero is a valid reading and never stands in for a missing value. An empty
// vector is absent, the same as nil, so it survives encoding unchanged.
//
// Decoders return partial Samples; the Normalizer merges them into the
// Sample handed to the caller.
type Sample struct {
	Voltage        *float64 `json:"voltage,omitempty"`         // V
	Current        *float64 `json:"current,omitempty"`         // A, positive while charging
	BatteryLevel   *float64 `json:"battery_level,omitempty"`   // state of charge, %
	BatteryHealth  *float64 `json:"battery_health,omitempty"`  // state of health, %
	CycleCharge    *float64 `json:"cycle_charge,omitempty"`    // remaining capacity, Ah
	DesignCapacity *float64 `json:"design_capacity,omitempty"` // Ah
	CycleCapacity  *float64 `json:"cycle_capacity,omitempty"`  // Wh
	Cycles         *int     `json:"cycles,omitempty"`
	Runtime        *int     `json:"runtime,omitempty"` // seconds to empty
	Power          *float64 `json:"power,omitempty"`   // W
	Temperature    *float64 `json:"temperature,omitempty"`
	DeltaVoltage   *float64 `json:"delta_voltage,omitempty"`
	BalanceCurrent *float64 `json:"balance_current,omitempty"`

	Problem      *bool   `json:"problem,omitempty"`
	ProblemCode  *uint64 `json:"problem_code,omitempty"`
	Balancer     *bool   `json:"balancer,omitempty"`
	Charging     *bool   `json:"battery_charging,omitempty"`
	ChargeFET    *bool   `json:"chrg_mosfet,omitempty"`
	DischargeFET *bool   `json:"dischrg_mosfet,omitempty"`

	CellCount    *int      `json:"cell_count,omitempty"`
	TempSensors  *int      `json:"temp_sensors,omitempty"`
	CellVoltages []float64 `json:"cell_voltages,omitempty"`
	TempValues   []float64 `json:"temp_values,omitempty"`
}

// Ptr returns a pointer to v, for populating Sample fields
func Ptr[T any](v T) *T {
	return &v
}

// field binds a canonical name to its Sample accessors
type field struct {
	name  string
	get   func(*Sample) interface{} // nil when absent
	merge func(dst, src *Sample)
}

func scalar[T any](name string, at func(*Sample) **T) field {
	return field{
		name: name,
		get: func(s *Sample) interface{} {
			if p := *at(s); p != nil {
				return *p
			}
			return nil
		},
		merge: func(dst, src *Sample) {
			if p := *at(src); p != nil {
				*at(dst) = Ptr(*p)
			}
		},
	}
}

func vector(name string, at func(*Sample) *[]float64) field {
	return field{
		name: name,
		get: func(s *Sample) interface{} {
			if v := *at(s); len(v) > 0 {
				return cloneFloats(v)
			}
			return nil
		},
		merge: func(dst, src *Sample) {
			if v := *at(src); len(v) > 0 {
				*at(dst) = cloneFloats(v)
			}
		},
	}
}

func cloneFloats(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

var fields = []field{
	scalar("voltage", func(s *Sample) **float64 { return &s.Voltage }),
	scalar("current", func(s *Sample) **float64 { return &s.Current }),
	scalar("battery_level", func(s *Sample) **float64 { return &s.BatteryLevel }),
	scalar("battery_health", func(s *Sample) **float64 { return &s.BatteryHealth }),
	scalar("cycle_charge", func(s *Sample) **float64 { return &s.CycleCharge }),
	scalar("design_capacity", func(s *Sample) **float64 { return &s.DesignCapacity }),
	scalar("cycle_capacity", func(s *Sample) **float64 { return &s.CycleCapacity }),
	scalar("cycles", func(s *Sample) **int { return &s.Cycles }),
	scalar("runtime", func(s *Sample) **int { return &s.Runtime }),
	scalar("power", func(s *Sample) **float64 { return &s.Power }),
	scalar("temperature", func(s *Sample) **float64 { return &s.Temperature }),
	scalar("delta_voltage", func(s *Sample) **float64 { return &s.DeltaVoltage }),
	scalar("balance_current", func(s *Sample) **float64 { return &s.BalanceCurrent }),
	scalar("problem", func(s *Sample) **bool { return &s.Problem }),
	scalar("problem_code", func(s *Sample) **uint64 { return &s.ProblemCode }),
	scalar("balancer", func(s *Sample) **bool { return &s.Balancer }),
	scalar("battery_charging", func(s *Sample) **bool { return &s.Charging }),
	scalar("chrg_mosfet", func(s *Sample) **bool { return &s.ChargeFET }),
	scalar("dischrg_mosfet", func(s *Sample) **bool { return &s.DischargeFET }),
	scalar("cell_count", func(s *Sample) **int { return &s.CellCount }),
	scalar("temp_sensors", func(s *Sample) **int { return &s.TempSensors }),
	vector("cell_voltages", func(s *Sample) *[]float64 { return &s.CellVoltages }),
	vector("temp_values", func(s *Sample) *[]float64 { return &s.TempValues }),
}

// FieldNames returns every canonical field name in schema order
func FieldNames() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// Merge copies every field present in src into s, replacing existing values
func (s *Sample) Merge(src *Sample) {
	if src == nil {
		return
	}
	for _, f := range fields {
		f.merge(s, src)
	}
}

// Clone returns a deep copy
func (s *Sample) Clone() *Sample {
	out := &Sample{}
	out.Merge(s)
	return out
}

// Get returns the value of a named field, or nil if absent or unknown
func (s *Sample) Get(name string) interface{} {
	for _, f := range fields {
		if f.name == name {
			return f.get(s)
		}
	}
	return nil
}

// Has reports whether the named field is present
func (s *Sample) Has(name string) bool {
	return s.Get(name) != nil
}

// Map returns the present fields keyed by canonical name
func (s *Sample) Map() map[string]interface{} {
	m := make(map[string]interface{})
	for _, f := range fields {
		if v := f.get(s); v != nil {
			m[f.name] = v
		}
	}
	return m
}

// Empty reports whether no field is present
func (s *Sample) Empty() bool {
	for _, f := range fields {
		if f.get(s) != nil {
			return false
		}
	}
	return true
}
