// Package cmd provides CLI commands for the switchback application.
// This file implements scenario loading for the run command.
package cmd

import (
	"fmt"
	"os"

	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/hybrid"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/adalundhe/switchback/core/linear"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Scenario Types
// =============================================================================

// Scenario describes a mode-switching chain: a prior on the first state,
// per-step motion hypotheses selected by a discrete mode, and unary
// measurements on later states.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps int    `yaml:"steps"`

	Prior        NoisyValue    `yaml:"prior"`
	Motion       Motion        `yaml:"motion"`
	Measurements []Measurement `yaml:"measurements"`

	// ModePrior weights the first mode variable; empty means uniform.
	ModePrior []float64 `yaml:"mode_prior"`

	// ModeTransition weights consecutive mode pairs, listed with the
	// earlier mode varying fastest; empty means uniform.
	ModeTransition []float64 `yaml:"mode_transition"`
}

// NoisyValue is a scalar observation with its standard deviation.
type NoisyValue struct {
	Value float64 `yaml:"value"`
	Sigma float64 `yaml:"sigma"`
}

// Motion holds one offset hypothesis per mode. Mode j asserts
// x[k+1] - x[k] = Offsets[j] with the shared Sigma.
type Motion struct {
	Sigma   float64   `yaml:"sigma"`
	Offsets []float64 `yaml:"offsets"`
}

// Measurement is a unary observation of the state at Step.
type Measurement struct {
	Step  int     `yaml:"step"`
	Value float64 `yaml:"value"`
	Sigma float64 `yaml:"sigma"`
}

// =============================================================================
// Loading and Validation
// =============================================================================

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the scenario for internal consistency.
func (s *Scenario) Validate() error {
	if s.Steps < 2 {
		return fmt.Errorf("scenario needs at least 2 steps, got %d", s.Steps)
	}
	if s.Prior.Sigma <= 0 {
		return fmt.Errorf("prior sigma must be positive, got %g", s.Prior.Sigma)
	}
	if s.Motion.Sigma <= 0 {
		return fmt.Errorf("motion sigma must be positive, got %g", s.Motion.Sigma)
	}
	if len(s.Motion.Offsets) < 2 {
		return fmt.Errorf("motion needs at least 2 offsets, got %d", len(s.Motion.Offsets))
	}
	card := len(s.Motion.Offsets)
	if len(s.ModePrior) != 0 && len(s.ModePrior) != card {
		return fmt.Errorf("mode_prior has %d entries for %d modes", len(s.ModePrior), card)
	}
	if len(s.ModeTransition) != 0 && len(s.ModeTransition) != card*card {
		return fmt.Errorf("mode_transition has %d entries, want %d", len(s.ModeTransition), card*card)
	}
	for i, m := range s.Measurements {
		if m.Step < 1 || m.Step > s.Steps {
			return fmt.Errorf("measurement %d targets step %d, chain has %d", i, m.Step, s.Steps)
		}
		if m.Sigma <= 0 {
			return fmt.Errorf("measurement %d sigma must be positive, got %g", i, m.Sigma)
		}
	}
	return nil
}

// =============================================================================
// Graph Construction
// =============================================================================

// StateKey names the continuous state at step i.
func (s *Scenario) StateKey(i int) keys.Key {
	return keys.Symbol('x', uint64(i))
}

// ModeKey names the discrete mode governing the step i to i+1 transition.
func (s *Scenario) ModeKey(i int) keys.Key {
	return keys.Symbol('m', uint64(i))
}

func (s *Scenario) modeKeyOf(i int) keys.DiscreteKey {
	dk, _ := keys.NewDiscreteKey(s.ModeKey(i), len(s.Motion.Offsets))
	return dk
}

// Build assembles the factors for incremental smoothing, one batch per
// time step. Batch 0 holds the prior and step-1 measurements; batch k
// adds state k+1 with its motion mixture, mode factor, and measurements.
func (s *Scenario) Build() ([][]*hybrid.Factor, error) {
	byStep := make(map[int][]Measurement)
	for _, m := range s.Measurements {
		byStep[m.Step] = append(byStep[m.Step], m)
	}

	batches := make([][]*hybrid.Factor, 0, s.Steps)

	first := []*hybrid.Factor{hybrid.NewContinuousFactor(linear.NewUnary(
		s.StateKey(1), 1/s.Prior.Sigma, s.Prior.Value/s.Prior.Sigma))}
	first = append(first, s.measurementFactors(byStep[1])...)
	batches = append(batches, first)

	for k := 2; k <= s.Steps; k++ {
		motion, err := s.motionFactor(k - 1)
		if err != nil {
			return nil, err
		}
		batch := []*hybrid.Factor{motion}

		modal, err := s.modeFactor(k - 1)
		if err != nil {
			return nil, err
		}
		batch = append(batch, modal)
		batch = append(batch, s.measurementFactors(byStep[k])...)
		batches = append(batches, batch)
	}
	return batches, nil
}

// motionFactor builds the mixture between states k and k+1 whose branch j
// asserts offset j.
func (s *Scenario) motionFactor(k int) (*hybrid.Factor, error) {
	sigma := s.Motion.Sigma
	components := make([]*linear.JacobianFactor, len(s.Motion.Offsets))
	for j, offset := range s.Motion.Offsets {
		components[j] = linear.NewBinary(
			s.StateKey(k), -1/sigma,
			s.StateKey(k+1), 1/sigma,
			offset/sigma)
	}
	mixture, err := hybrid.NewMixtureFactor(
		[]keys.Key{s.StateKey(k), s.StateKey(k + 1)},
		[]keys.DiscreteKey{s.modeKeyOf(k)},
		components)
	if err != nil {
		return nil, fmt.Errorf("motion factor at step %d: %w", k, err)
	}
	return hybrid.NewMixtureHybridFactor(mixture), nil
}

// modeFactor builds the prior on the first mode or the transition table
// between modes k-1 and k.
func (s *Scenario) modeFactor(k int) (*hybrid.Factor, error) {
	card := len(s.Motion.Offsets)
	if k == 1 {
		values := s.ModePrior
		if len(values) == 0 {
			values = uniformTable(card)
		}
		table, err := discrete.NewTableFactor([]keys.DiscreteKey{s.modeKeyOf(1)}, values)
		if err != nil {
			return nil, fmt.Errorf("mode prior: %w", err)
		}
		return hybrid.NewDiscreteFactor(table), nil
	}
	values := s.ModeTransition
	if len(values) == 0 {
		values = uniformTable(card * card)
	}
	table, err := discrete.NewTableFactor(
		[]keys.DiscreteKey{s.modeKeyOf(k - 1), s.modeKeyOf(k)}, values)
	if err != nil {
		return nil, fmt.Errorf("mode transition at step %d: %w", k, err)
	}
	return hybrid.NewDiscreteFactor(table), nil
}

func (s *Scenario) measurementFactors(measurements []Measurement) []*hybrid.Factor {
	factors := make([]*hybrid.Factor, 0, len(measurements))
	for _, m := range measurements {
		factors = append(factors, hybrid.NewContinuousFactor(linear.NewUnary(
			s.StateKey(m.Step), 1/m.Sigma, m.Value/m.Sigma)))
	}
	return factors
}

func uniformTable(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = 1
	}
	return values
}
