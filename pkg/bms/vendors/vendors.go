// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vendors assembles the registry of every supported BMS family
package vendors

import (
	"github.com/Thermoquad/bmsstat/pkg/bms"
	"github.com/Thermoquad/bmsstat/pkg/bms/eg4"
	"github.com/Thermoquad/bmsstat/pkg/bms/humsienk"
	"github.com/Thermoquad/bmsstat/pkg/bms/jbd"
)

// Default returns a registry holding every shipped vendor
func Default() *bms.Registry {
	r := bms.NewRegistry()
	r.MustRegister(jbd.Vendor())
	r.MustRegister(humsienk.Vendor())
	r.MustRegister(eg4.Vendor())
	return r
}
