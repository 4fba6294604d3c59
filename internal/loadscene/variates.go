// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package loadscene

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"

	log "github.com/golang/glog"
)

// VariateConfig includes a Variate name, a seed, and additional parameters
// encoded in a raw JSON object.
type VariateConfig struct {
	Name       string          // Name of the variate.
	Seed       int64           // Seed for pseudo-random number generators, if any.
	Parameters json.RawMessage // Parameters in raw encoded JSON object.
}

// Parse parses the encoded variate.
func (vc *VariateConfig) Parse() Variate {
	var v Variate
	switch vc.Name {
	case "Constant":
		var p float64
		json.Unmarshal(vc.Parameters, &p)
		v = NewConstant(p)

	case "Uniform":
		var p UniformParameters
		json.Unmarshal(vc.Parameters, &p)
		v = NewUniform(vc.Seed, p.Lower, p.Upper)

	case "Normal":
		var p NormalParameters
		json.Unmarshal(vc.Parameters, &p)
		v = NewNormal(vc.Seed, p.Mean, p.Stddev)

	case "Pareto":
		var p ParetoParameters
		json.Unmarshal(vc.Parameters, &p)
		v = NewPareto(vc.Seed, p.Xm, p.Alpha)

	default:
		log.Fatalf("unknown variate name: %s", vc.Name)
	}
	return v
}

// Variate represents a random variable following a certain distribution and
// is used to populate the parameters of synthetic sources.
type Variate interface {
	// Sample gets a sample of the random distribution.
	Sample() float64
}

//====== Constant distribution ======//

// Constant always returns a constant value.
type Constant struct {
	v float64
}

// NewConstant returns a new constant distribution.
func NewConstant(v float64) *Constant {
	return &Constant{v: v}
}

// Sample implements Variate.
func (c *Constant) Sample() float64 {
	return c.v
}

//====== Uniform distribution ======//

// UniformParameters defines parameters for Uniform.
type UniformParameters struct {
	Lower, Upper float64
}

// Uniform generates uniform samples in [lb, ub). Source shape parameters
// are continuous, so bounds are float64 here.
type Uniform struct {
	r  *rand.Rand
	l  sync.Mutex
	lb float64
	ub float64
}

// NewUniform returns a new uniform variate. 'lb' must be smaller than 'ub'.
func NewUniform(seed int64, lb, ub float64) *Uniform {
	if lb >= ub {
		panic("lower bound should be smaller than upper bound")
	}
	return &Uniform{
		r:  rand.New(rand.NewSource(seed)),
		lb: lb,
		ub: ub,
	}
}

// Sample implements Variate.
func (u *Uniform) Sample() float64 {
	u.l.Lock()
	defer u.l.Unlock()
	return u.lb + u.r.Float64()*(u.ub-u.lb)
}

//====== Normal distribution ======//

// NormalParameters defines parameters for Normal.
type NormalParameters struct {
	Mean, Stddev float64
}

// Normal generates samples from the normal distribution N(mean, stddev^2).
type Normal struct {
	r      *rand.Rand
	l      sync.Mutex
	mean   float64 // Mean.
	stddev float64 // Standard deviation.
}

// NewNormal returns a new Normal variate. 'stddev' must be positive.
func NewNormal(seed int64, mean, stddev float64) *Normal {
	if stddev <= 0 {
		panic("standard deviation must be positive")
	}
	return &Normal{
		r:      rand.New(rand.NewSource(seed)),
		mean:   mean,
		stddev: stddev,
	}
}

// Sample implements Variate.
func (n *Normal) Sample() float64 {
	n.l.Lock()
	defer n.l.Unlock()
	return n.r.NormFloat64()*n.stddev + n.mean
}

//====== Pareto distribution ======//

// ParetoParameters defines parameters for Pareto.
type ParetoParameters struct {
	Xm, Alpha float64
}

// Pareto implements a sampling algorithm for Pareto distribution using
// inverse transform sampling. Flux distributions in deep fields are
// power-law with a long bright tail, which is exactly what Pareto models.
type Pareto struct {
	r     *rand.Rand
	l     sync.Mutex
	xm    float64 // Scale parameter.
	alpha float64 // Tail index.
}

// NewPareto returns a new Pareto variate. 'xm' and 'alpha' must be positive.
func NewPareto(seed int64, xm, alpha float64) *Pareto {
	if xm <= 0 {
		panic("scale parameter cannot be non-positive")
	}
	if alpha <= 0 {
		panic("tail index cannot be non-positive")
	}
	return &Pareto{
		r:     rand.New(rand.NewSource(seed)),
		xm:    xm,
		alpha: alpha,
	}
}

// Sample implements Variate.
func (p *Pareto) Sample() float64 {
	p.l.Lock()
	defer p.l.Unlock()
	return p.xm / math.Pow(1.0-p.r.Float64(), 1.0/p.alpha)
}
