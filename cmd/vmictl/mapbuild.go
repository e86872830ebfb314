package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/chrschn/insightgo/vmi"
	"github.com/chrschn/insightgo/vmi/rangemap"
	"github.com/spf13/cobra"
)

var (
	mapCutoff     float64
	mapWorkers    int
	mapKernelOnly bool
	mapDiagnose   bool
	mapRulesFile  string
	mapSlabFile   string
	mapOut        string
)

func init() {
	mapCmd := &cobra.Command{
		Use:   "map",
		Short: "Build and inspect the live object graph",
	}
	buildCmd := newMapBuildCmd()
	buildCmd.Flags().Float64Var(&mapCutoff, "cutoff", 0.05, "Minimum probability a node must clear to be accepted")
	buildCmd.Flags().IntVar(&mapWorkers, "workers", 4, "Number of worker goroutines")
	buildCmd.Flags().BoolVar(&mapKernelOnly, "kernel-only", false, "Reject user-space addresses during traversal")
	buildCmd.Flags().BoolVar(&mapDiagnose, "diagnose", false, "Log every dropped node")
	buildCmd.Flags().StringVar(&mapRulesFile, "rules", "", "Rule catalogue XML to check and apply")
	buildCmd.Flags().StringVar(&mapSlabFile, "slab", "", "Slab cache listing to resolve against")
	buildCmd.Flags().StringVar(&mapOut, "out", "", "Write the built virtual map as JSON to this path instead of stdout summary")
	mapCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(mapCmd)
}

func newMapBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <dump> <symbols> <specs>",
		Short: "Walk the object graph outward from every global variable",
		Long: `The build command opens a dump, resolves its type graph, and runs the
map builder's worker pool starting from every named global variable,
scoring each discovered candidate and deduplicating by structural hash.

Example:
  vmictl map build vmcore.img symbols.bin memspecs.txt --cutoff 0.1
  vmictl map build vmcore.img symbols.bin memspecs.txt --rules mm.xml --out map.json`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMapBuild(cmd, args)
		},
	}
}

func runMapBuild(cmd *cobra.Command, args []string) error {
	dumpPath, symbolPath, specPath := args[0], args[1], args[2]

	e, err := openEngine(dumpPath, symbolPath, specPath, vmi.EngineOptions{
		Cutoff:             mapCutoff,
		Workers:            mapWorkers,
		KernelOnly:         mapKernelOnly,
		CollectDiagnostics: mapDiagnose,
	})
	if err != nil {
		return err
	}
	defer e.Close()

	if mapRulesFile != "" {
		f, err := os.Open(mapRulesFile)
		if err != nil {
			return err
		}
		warnings, err := func() ([]string, error) {
			defer f.Close()
			return e.LoadRules(f, mapRulesFile)
		}()
		if err != nil {
			return err
		}
		for _, w := range warnings {
			printVerbose("rule warning: %s\n", w)
		}
	}
	if mapSlabFile != "" {
		f, err := os.Open(mapSlabFile)
		if err != nil {
			return err
		}
		err = func() error {
			defer f.Close()
			return e.LoadSlabCatalog(f)
		}()
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		if _, ok := <-sig; ok {
			printInfo("interrupted, finishing in-flight nodes...\n")
			cancel()
		}
	}()

	printVerbose("building map with %d workers, cutoff %.3f\n", mapWorkers, mapCutoff)
	m, err := e.BuildMap(ctx, e.Roots())
	// A cancelled build still returns its partial map, flagged incomplete.
	if err != nil && ctx.Err() == nil {
		return err
	}

	if mapOut != "" {
		return writeMapJSON(mapOut, m.Virtual)
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"processed":       m.Processed,
			"virtual_nodes":   m.Virtual.Len(),
			"physical_ranges": m.Physical.Len(),
			"max_object_size": m.MaxObjectSize,
			"incomplete":      m.Virtual.Incomplete(),
		})
	}

	printInfo("Processed:       %d\n", m.Processed)
	printInfo("Virtual nodes:   %d\n", m.Virtual.Len())
	printInfo("Physical ranges: %d\n", m.Physical.Len())
	printInfo("Max object size: %d\n", m.MaxObjectSize)
	if m.Virtual.Incomplete() {
		printInfo("Map is INCOMPLETE (build was cancelled)\n")
	}
	return nil
}

// writeMapJSON dumps every live node of m as JSON, the format diff reads
// back with loadMapJSON.
func writeMapJSON(path string, m *rangemap.Map) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return encodeNodesJSON(f, m.All())
}
