package main

import (
	"os"
	"path/filepath"

	"github.com/chrschn/insightgo/internal/rulexml"
	"github.com/chrschn/insightgo/vmi"
	"github.com/chrschn/insightgo/vmi/ruleexport"
	"github.com/spf13/cobra"
)

func init() {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Check and export rule catalogues",
	}
	rulesCmd.AddCommand(newRulesCheckCmd())
	rulesCmd.AddCommand(newRulesExportCmd())
	rulesCmd.AddCommand(newRulesDeriveCmd())
	rootCmd.AddCommand(rulesCmd)
}

func newRulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <dump> <symbols> <specs> <rulefile>",
		Short: "Load a rule catalogue and check it against a dump's memory specification",
		Long: `The check command decodes a rule catalogue's XML, verifies its OS filter
against the dump's kernel version, and resolves every rule's expression
action against the dump's type graph, printing any non-fatal warning
(e.g. a rule referencing a type the graph never resolved).

Example:
  vmictl rules check vmcore.img symbols.bin memspecs.txt mm.xml`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesCheck(args)
		},
	}
}

func runRulesCheck(args []string) error {
	dumpPath, symbolPath, specPath, rulePath := args[0], args[1], args[2], args[3]

	e, err := openEngine(dumpPath, symbolPath, specPath, vmi.EngineOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	f, err := os.Open(rulePath)
	if err != nil {
		return err
	}
	defer f.Close()

	warnings, err := e.LoadRules(f, rulePath)
	if err != nil {
		return err
	}

	printInfo("Rules loaded: %d\n", len(e.Rules.Stats()))
	if len(warnings) == 0 {
		printInfo("No warnings.\n")
		return nil
	}
	printInfo("Warnings (%d):\n", len(warnings))
	for _, w := range warnings {
		printInfo("  - %s\n", w)
	}
	return nil
}

func newRulesExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <rulefile>",
		Short: "Decode a rule catalogue and re-emit it as XML",
		Long: `The export command round-trips a rule catalogue through
internal/rulexml's decoder and vmi/ruleexport's encoder, useful for
normalising a hand-edited catalogue or verifying the encoder stays
faithful to what it decoded.

Example:
  vmictl rules export mm.xml --out mm.normalized.xml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesExport(args, outPath)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "Write to this path instead of stdout")
	return cmd
}

func runRulesExport(args []string, outPath string) error {
	rulePath := args[0]
	f, err := os.Open(rulePath)
	if err != nil {
		return err
	}
	cat, err := func() (*rulexml.Catalogue, error) {
		defer f.Close()
		return rulexml.Decode(f, rulePath)
	}()
	if err != nil {
		return err
	}

	out := os.Stdout
	if outPath != "" {
		out, err = os.Create(outPath)
		if err != nil {
			return err
		}
		defer out.Close()
	}
	return ruleexport.Encode(out, cat.Rules, cat.OsFilter)
}

func newRulesDeriveCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "derive <dump> <symbols> <specs>",
		Short: "Derive a rule catalogue from the type graph's own alternative referent types",
		Long: `The derive command implements §4.7's derived XML-rule-emission mode: it
walks every global variable and struct type in the loaded type graph,
collects each alternative-reference-type expression found on that symbol,
and emits one rule file per symbol under --outdir (default: one combined
document on stdout).

Example:
  vmictl rules derive vmcore.img symbols.bin memspecs.txt --outdir rules/`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesDerive(args, outDir)
		},
	}
	cmd.Flags().StringVar(&outDir, "outdir", "", "Write one rule file per symbol into this directory instead of stdout")
	return cmd
}

func runRulesDerive(args []string, outDir string) error {
	dumpPath, symbolPath, specPath := args[0], args[1], args[2]

	e, err := openEngine(dumpPath, symbolPath, specPath, vmi.EngineOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	files := ruleexport.DeriveFiles(e.Graph)
	if outDir == "" {
		return ruleexport.Encode(os.Stdout, ruleexport.Derive(e.Graph), nil)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, f := range files {
		path := filepath.Join(outDir, f.Symbol+".xml")
		out, err := os.Create(path)
		if err != nil {
			return err
		}
		err = ruleexport.Encode(out, f.Rules, nil)
		out.Close()
		if err != nil {
			return err
		}
	}
	printInfo("Derived %d rule file(s) into %s\n", len(files), outDir)
	return nil
}
