// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package loadscene

import (
	"math"
	"math/rand"

	log "github.com/golang/glog"

	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
)

// FieldConfig describes the synthetic field the load generator fits. Sources
// are laid down in clusters so that checkouts actually contend: isolated
// sources never conflict and would make the run trivially parallel.
type FieldConfig struct {
	// RA and Dec are the field center in degrees.
	RA  float64
	Dec float64

	// NClusters cluster centers are scattered uniformly over the field,
	// NPerCluster sources around each center.
	NClusters   int
	NPerCluster int

	// FieldRadius is the half-width of the square field in arcsec.
	FieldRadius float64

	// ClusterSigma is the scatter of members about their cluster center
	// in arcsec. Comparable to the patch radius it forces overlap.
	ClusterSigma float64

	// Bands lists the flux columns to generate.
	Bands []string

	// Seed drives source positions and any default variates.
	Seed int64

	// Per-parameter distributions. A zero Name picks a default tuned to
	// sit inside the standard fitting bounds.
	Flux   VariateConfig
	Rhalf  VariateConfig
	Sersic VariateConfig
	Q      VariateConfig
	PA     VariateConfig
}

// DefaultFieldConfig generates a compact deep field with enough crowding
// that roughly half the checkouts conflict at 8 workers.
var DefaultFieldConfig = FieldConfig{
	RA:           150.1,
	Dec:          2.2,
	NClusters:    12,
	NPerCluster:  8,
	FieldRadius:  40.0,
	ClusterSigma: 1.5,
	Bands:        []string{"f200w"},
	Seed:         42,
}

// fieldVariates is the parsed set of per-parameter distributions.
type fieldVariates struct {
	flux   Variate
	rhalf  Variate
	sersic Variate
	q      Variate
	pa     Variate
}

// orDefault substitutes a default distribution when the config left the
// variate unnamed. Derived seeds keep runs reproducible per parameter.
func orDefault(vc VariateConfig, seed int64, name string, params string) VariateConfig {
	if vc.Name != "" {
		return vc
	}
	return VariateConfig{Name: name, Seed: seed, Parameters: []byte(params)}
}

func (fc *FieldConfig) variates() fieldVariates {
	return fieldVariates{
		flux:   orDefault(fc.Flux, fc.Seed+1, "Pareto", `{"Xm": 5.0, "Alpha": 1.5}`).Parse(),
		rhalf:  orDefault(fc.Rhalf, fc.Seed+2, "Uniform", `{"Lower": 0.05, "Upper": 0.25}`).Parse(),
		sersic: orDefault(fc.Sersic, fc.Seed+3, "Uniform", `{"Lower": 1.2, "Upper": 4.5}`).Parse(),
		q:      orDefault(fc.Q, fc.Seed+4, "Uniform", `{"Lower": 0.45, "Upper": 0.95}`).Parse(),
		pa:     orDefault(fc.PA, fc.Seed+5, "Uniform", `{"Lower": -1.5, "Upper": 1.5}`).Parse(),
	}
}

func (fc *FieldConfig) check() error {
	if fc.NClusters < 1 || fc.NPerCluster < 1 {
		log.Errorf("field needs at least one cluster and one source per cluster")
		return core.ErrBadConfig.Error()
	}
	if fc.FieldRadius <= 0 {
		log.Errorf("field radius must be positive, got %f", fc.FieldRadius)
		return core.ErrBadConfig.Error()
	}
	if fc.ClusterSigma < 0 {
		log.Errorf("cluster sigma cannot be negative, got %f", fc.ClusterSigma)
		return core.ErrBadConfig.Error()
	}
	if math.Abs(fc.Dec) >= 89.0 {
		log.Errorf("field center dec=%f too close to the pole for the flat-sky layout", fc.Dec)
		return core.ErrBadConfig.Error()
	}
	if len(fc.Bands) == 0 {
		log.Errorf("field needs at least one band")
		return core.ErrBadConfig.Error()
	}
	return nil
}

// BuildField lays down the synthetic source table. The returned table has
// every column Ingest requires plus one flux column per band.
func BuildField(fc FieldConfig) (*catalog.Table, error) {
	if err := fc.check(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(fc.Seed))
	vs := fc.variates()

	n := fc.NClusters * fc.NPerCluster
	tbl := catalog.NewTable(n)

	ra := make([]float64, n)
	dec := make([]float64, n)
	srcIdx := make([]float64, n)
	q := make([]float64, n)
	pa := make([]float64, n)
	sersic := make([]float64, n)
	rhalf := make([]float64, n)
	fluxes := make(map[string][]float64, len(fc.Bands))
	for _, b := range fc.Bands {
		fluxes[b] = make([]float64, n)
	}

	// Flat-sky offsets: dx is an on-sky arcsec offset, so the RA step is
	// stretched by 1/cos(dec).
	cosd := math.Cos(fc.Dec * math.Pi / 180.0)

	row := 0
	for c := 0; c < fc.NClusters; c++ {
		cx := (2*rng.Float64() - 1) * fc.FieldRadius
		cy := (2*rng.Float64() - 1) * fc.FieldRadius
		for m := 0; m < fc.NPerCluster; m++ {
			dx := cx + rng.NormFloat64()*fc.ClusterSigma
			dy := cy + rng.NormFloat64()*fc.ClusterSigma
			ra[row] = fc.RA + dx/3600.0/cosd
			dec[row] = fc.Dec + dy/3600.0
			srcIdx[row] = float64(row)
			q[row] = vs.q.Sample()
			pa[row] = vs.pa.Sample()
			sersic[row] = vs.sersic.Sample()
			rhalf[row] = vs.rhalf.Sample()
			for _, b := range fc.Bands {
				fluxes[b][row] = vs.flux.Sample()
			}
			row++
		}
	}

	tbl.Set("ra", ra)
	tbl.Set("dec", dec)
	tbl.Set("source_index", srcIdx)
	tbl.Set("q", q)
	tbl.Set("pa", pa)
	tbl.Set("sersic", sersic)
	tbl.Set("rhalf", rhalf)
	for _, b := range fc.Bands {
		tbl.Set(b, fluxes[b])
	}
	tbl.SetConst("is_active", 0)
	tbl.SetConst("is_valid", 1)
	tbl.SetConst("n_iter", 0)
	tbl.SetConst("n_patch", 0)

	return tbl, nil
}
