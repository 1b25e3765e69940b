package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/tmarlowe/hazloss/internal/assessment"
	"github.com/tmarlowe/hazloss/internal/config"
	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/output"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stdout, "hazloss %s (commit %s, built %s)\n", version, commit, date)
			if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
				fmt.Fprintln(os.Stdout, bi.String())
			}
		},
	}
}

var rootCmd = &cobra.Command{
	Use:   "hazloss",
	Short: "Probabilistic natural-hazard performance assessment",
	Long:  "Monte Carlo simulation of demands, component damage, and repair consequences for a single asset.",
}

var runCmd = &cobra.Command{
	Use:   "run [config-file]",
	Short: "Run a full assessment",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configFile := args[0]

		f, opts, err := config.Load(configFile)
		if err != nil {
			log.Fatal(err)
		}
		if cmd.Flags().Changed("seed") {
			seed, _ := cmd.Flags().GetInt64("seed")
			opts.SetSeed(seed)
		}
		if cmd.Flags().Changed("size") {
			f.Demand.SampleSize, _ = cmd.Flags().GetInt("size")
		}

		var rawDemand *domain.DemandSample
		if f.Demand.SampleFile != "" {
			// Sample paths are relative to the config file.
			path := f.Demand.SampleFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(filepath.Dir(configFile), path)
			}
			rawDemand, err = output.ReadDemandSampleFile(path, opts.Units)
			if err != nil {
				log.Fatal(err)
			}
		}

		a := assessment.New(opts, os.Stderr)
		agg, err := a.Run(f, rawDemand)
		if err != nil {
			log.Fatal(err)
		}

		outputDir, _ := cmd.Flags().GetString("output-dir")
		if outputDir != "" {
			if err := saveSamples(outputDir, a, agg); err != nil {
				log.Fatal(err)
			}
			fmt.Printf("Samples written to %s\n", outputDir)
		}

		if agg != nil {
			if err := output.WriteSummary(os.Stdout, agg.Cost, agg.TimeParallel, agg.TimeSequential); err != nil {
				log.Fatal(err)
			}
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate an analysis definition",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configFile := args[0]

		f, _, err := config.Load(configFile)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := f.BuildComponents(); err != nil {
			log.Fatal(err)
		}
		if _, err := f.BuildDamageParams(); err != nil {
			log.Fatal(err)
		}
		if len(f.LossModel.Map) > 0 {
			if _, _, err := f.BuildLossModel(); err != nil {
				log.Fatal(err)
			}
		}
		if _, err := assessment.NewDamageProcess(f.DamageProcess); err != nil {
			log.Fatal(err)
		}

		fmt.Printf("Configuration file %s is valid\n", configFile)
	},
}

func saveSamples(dir string, a *assessment.Assessment, agg *assessment.AggregateResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	write := func(name string, fn func(f *os.File) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		defer f.Close()
		return fn(f)
	}

	if s := a.Demand.Sample(); s != nil {
		if err := write("demand_sample.csv", func(f *os.File) error {
			return output.WriteDemandSample(f, s, nil, a.Opts.Units)
		}); err != nil {
			return err
		}
	}
	if s := a.Damage.Sample(); s != nil {
		if err := write("damage_sample.csv", func(f *os.File) error {
			return output.WriteDamageSample(f, s)
		}); err != nil {
			return err
		}
	}
	if s := a.Repair.Sample(); s != nil {
		if err := write("loss_sample.csv", func(f *os.File) error {
			return output.WriteDVSample(f, s)
		}); err != nil {
			return err
		}
	}
	if agg != nil {
		if err := write("aggregate.csv", func(f *os.File) error {
			return output.WriteAggregate(f, agg.Cost, agg.TimeParallel, agg.TimeSequential)
		}); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	runCmd.Flags().Int64("seed", 0, "Override the analysis seed")
	runCmd.Flags().Int("size", 0, "Override the sample size")
	runCmd.Flags().StringP("output-dir", "o", "", "Directory to write sample CSVs to")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
