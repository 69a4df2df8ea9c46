// Package cmd provides CLI commands for the switchback application.
// This file implements the run command for scenario inference.
package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/adalundhe/switchback/core/decisiontree"
	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/hybrid"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command Flags
// =============================================================================

var (
	runScenarioPath string
	runPrune        int
	runMaxProduct   bool
	runJSON         bool
)

// =============================================================================
// Run Command
// =============================================================================

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run incremental inference over a scenario",
	Long: `Run incremental inference over a mode-switching scenario.

The scenario file describes a chain of continuous states linked by
per-mode motion hypotheses. Each time step is folded into the smoother
incrementally; the command prints the posterior over the switching
modes and the continuous solution under the best mode sequence.

Examples:
  switchback run --scenario chain.yaml
  switchback run --scenario chain.yaml --prune 8
  switchback run --scenario chain.yaml --max-product --json`,
	RunE: runScenario,
}

func init() {
	runCmd.Flags().StringVarP(&runScenarioPath, "scenario", "s", "", "path to the YAML scenario file")
	runCmd.MarkFlagRequired("scenario")
	runCmd.Flags().IntVar(&runPrune, "prune", 0, "keep at most N mode assignments after each step (0 disables)")
	runCmd.Flags().BoolVar(&runMaxProduct, "max-product", false, "eliminate modes with the max-product policy")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(runCmd)
}

// =============================================================================
// Run Implementation
// =============================================================================

func runScenario(cmd *cobra.Command, args []string) error {
	scenario, err := LoadScenario(runScenarioPath)
	if err != nil {
		return err
	}
	batches, err := scenario.Build()
	if err != nil {
		return err
	}

	config := hybrid.DefaultSmootherConfig()
	if runMaxProduct {
		config.Policy = hybrid.MaxProduct
	}
	smoother := hybrid.NewSmoother(config)

	for i, batch := range batches {
		if err := smoother.Update(batch...); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if runPrune > 0 && i >= 1 {
			if err := smoother.Prune(scenario.ModeKey(i), runPrune); err != nil {
				return fmt.Errorf("prune after step %d: %w", i+1, err)
			}
		}
	}

	modes, solution, err := smoother.Optimize()
	if err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	posterior, err := smoother.ModePosterior()
	if err != nil {
		return fmt.Errorf("mode posterior: %w", err)
	}

	if runJSON {
		return printRunJSON(cmd, scenario, modes, solution, posterior)
	}
	printRunText(cmd, scenario, modes, solution, posterior)
	return nil
}

func printRunText(cmd *cobra.Command, s *Scenario, modes keys.Assignment, solution map[keys.Key][]float64, posterior *discrete.TableFactor) {
	out := cmd.OutOrStdout()
	if s.Name != "" {
		fmt.Fprintf(out, "Scenario: %s\n", s.Name)
	}

	fmt.Fprintln(out, "Most probable modes:")
	for k := 1; k < s.Steps; k++ {
		key := s.ModeKey(k)
		fmt.Fprintf(out, "  %s = %d\n", key, modes[key])
	}

	fmt.Fprintln(out, "Continuous solution:")
	for k := 1; k <= s.Steps; k++ {
		key := s.StateKey(k)
		if v, ok := solution[key]; ok && len(v) > 0 {
			fmt.Fprintf(out, "  %s = %.6f\n", key, v[0])
		}
	}

	fmt.Fprintln(out, "Mode posterior:")
	for _, entry := range posteriorEntries(posterior) {
		fmt.Fprintf(out, "  %s: %.6f\n", entry.label, entry.probability)
	}
}

type runResult struct {
	Scenario  string              `json:"scenario,omitempty"`
	Modes     map[string]int      `json:"modes"`
	Solution  map[string]float64  `json:"solution"`
	Posterior []posteriorEntryOut `json:"posterior"`
}

type posteriorEntryOut struct {
	Modes       map[string]int `json:"modes"`
	Probability float64        `json:"probability"`
}

func printRunJSON(cmd *cobra.Command, s *Scenario, modes keys.Assignment, solution map[keys.Key][]float64, posterior *discrete.TableFactor) error {
	result := runResult{
		Scenario: s.Name,
		Modes:    make(map[string]int, len(modes)),
		Solution: make(map[string]float64, len(solution)),
	}
	for key, value := range modes {
		result.Modes[key.String()] = value
	}
	for key, values := range solution {
		if len(values) > 0 {
			result.Solution[key.String()] = values[0]
		}
	}
	for _, a := range decisiontree.Assignments(posterior.Keys()) {
		named := make(map[string]int, len(a))
		for key, value := range a {
			named[key.String()] = value
		}
		result.Posterior = append(result.Posterior, posteriorEntryOut{
			Modes:       named,
			Probability: posterior.Evaluate(a),
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

type posteriorEntry struct {
	label       string
	probability float64
}

// posteriorEntries flattens the posterior into labeled rows, highest
// probability first.
func posteriorEntries(posterior *discrete.TableFactor) []posteriorEntry {
	dkeys := posterior.Keys()
	assignments := decisiontree.Assignments(dkeys)
	entries := make([]posteriorEntry, 0, len(assignments))
	for _, a := range assignments {
		label := ""
		for i, dk := range dkeys {
			if i > 0 {
				label += " "
			}
			label += fmt.Sprintf("%s=%d", dk.Key, a[dk.Key])
		}
		entries = append(entries, posteriorEntry{label: label, probability: posterior.Evaluate(a)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].probability > entries[j].probability
	})
	return entries
}
