// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package catalog

// Record is one source in the catalog. ID is immutable; SourceIndex is the
// record's dense position, reassigned only at ingest. The scheduling flags
// belong to the coordinator: IsActive while owned by a checked-out region,
// IsValid only while no open region could touch the record.
type Record struct {
	ID          int32
	SourceIndex int32
	IsActive    bool
	IsValid     bool
	NIter       int32
	NPatch      int32

	// ROI is the radius of influence in arcsec, frozen at ingest.
	ROI float64

	// Position in degrees and the shape parameters.
	RA, Dec float64
	Q, PA   float64
	Sersic  float64
	Rhalf   float64

	// Flux holds one value per schema band, in schema order.
	Flux []float64
}

// Clone returns a deep copy. Flux is the only reference field.
func (r Record) Clone() Record {
	c := r
	c.Flux = append([]float64(nil), r.Flux...)
	return c
}

// Param returns the named parameter value under the given schema.
func (r *Record) Param(s Schema, name string) (float64, bool) {
	switch name {
	case "ra":
		return r.RA, true
	case "dec":
		return r.Dec, true
	case "q":
		return r.Q, true
	case "pa":
		return r.PA, true
	case "sersic":
		return r.Sersic, true
	case "rhalf":
		return r.Rhalf, true
	}
	if i, ok := s.BandIndex(name); ok && i < len(r.Flux) {
		return r.Flux[i], true
	}
	return 0, false
}

// SetParam writes the named parameter value under the given schema.
func (r *Record) SetParam(s Schema, name string, v float64) bool {
	switch name {
	case "ra":
		r.RA = v
	case "dec":
		r.Dec = v
	case "q":
		r.Q = v
	case "pa":
		r.PA = v
	case "sersic":
		r.Sersic = v
	case "rhalf":
		r.Rhalf = v
	default:
		if i, ok := s.BandIndex(name); ok && i < len(r.Flux) {
			r.Flux[i] = v
			return true
		}
		return false
	}
	return true
}

// ParamVector flattens the record's parameters in schema order.
func (r *Record) ParamVector(s Schema) []float64 {
	out := make([]float64, 0, s.NParams())
	out = append(out, r.Flux...)
	out = append(out, r.RA, r.Dec, r.Q, r.PA, r.Sersic, r.Rhalf)
	return out
}
