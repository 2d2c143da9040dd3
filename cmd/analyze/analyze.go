// The analyze command replays a recorded file series, reassembling spectra and reporting
// missing PFB bins and error codes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ucb-seti/beespec"
	"github.com/ucb-seti/beespec/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "analyze [flags] <prefix>",
	Short: "Analyze recorded BEE2 spectrometer files",
	Long: `analyze reads <prefix>_1.dat, <prefix>_2.dat, ... up to the first missing number,
reassembles the recorded packets into spectra and sends them to the selected outputs.

With --errors every missing PFB bin and reported error code is listed, followed by a final
report. With --text each file is also dumped as text into <prefix>_<n>.txt.`,
	Args: cobra.MaximumNArgs(1),
	Run:  run,
}

func init() {
	d := beespec.DefaultAnalyzerConfig()
	f := rootCmd.Flags()
	f.String("prefix", d.Prefix, "prefix of the file series (or give it as the argument)")
	f.BoolP("errors", "e", d.ErrorChecking, "report missing PFB bins and error codes")
	f.BoolP("text", "t", d.TextDump, "dump each file as text into <prefix>_<n>.txt")
	f.Bool("file-swap", d.FileSwap, "the files hold byte-swapped words")
	f.Int("min-bins", d.MinBins, "discard spectra with fewer filled PFB bins")
	f.String("pfb-mask", d.PFBMask, "file of 4096 0/1 values selecting the PFB bins kept (empty keeps all)")
	f.String("axis", d.Axis, `plot axis: "frequency", "bin" or "raw"`)
	f.Float64("center-mhz", d.CenterMHz, "center frequency of the frequency axis")
	f.BoolP("verbose", "v", false, "log the resolved configuration")
	cli.AddSinkFlags(f)
	rootCmd.AddCommand(cli.VersionCmd("analyze"))
}

func run(cmd *cobra.Command, args []string) {
	cli.Start("analyze", cmd.Flags())
	if len(args) > 0 {
		viper.Set("prefix", args[0])
	}
	cfg := beespec.DefaultAnalyzerConfig()
	cli.Decode(&cfg)
	var sinkOpts cli.SinkOptions
	cli.Decode(&sinkOpts)

	var mask *beespec.PFBMask
	if cfg.PFBMask != "" {
		var err error
		if mask, err = beespec.LoadPFBMask(cfg.PFBMask); err != nil {
			cli.ExitWithError("reading PFB mask", err)
		}
	}
	an, err := beespec.NewAnalyzer(cfg, mask)
	if err != nil {
		cli.ExitWithError("invalid configuration", err)
	}
	sinks, err := sinkOpts.Build()
	if err != nil {
		cli.ExitWithError("starting spectrum output", err)
	}
	for _, s := range sinks {
		an.AddSink(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	an.SetCommands(beespec.SignalCommands(ctx, cancel))
	if err := an.Run(ctx); err != nil {
		cli.ExitWithError("analyzing "+cfg.Prefix, err)
	}
	reports := an.Reports()
	damaged := 0
	for _, r := range reports {
		if r.Err != nil {
			damaged++
		}
	}
	if damaged > 0 {
		fmt.Printf("%d of %d files could not be read to the end\n", damaged, len(reports))
		beespec.ProblemLogger.Printf("%s: %d damaged files", cfg.Prefix, damaged)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
