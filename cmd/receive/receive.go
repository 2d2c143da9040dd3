// The receive command records the UDP packet stream of the BEE2 spectrometer into a
// numbered series of files and hands completed spectra to plots and publishers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/ucb-seti/beespec"
	"github.com/ucb-seti/beespec/bee2"
	"github.com/ucb-seti/beespec/internal/catalog"
	"github.com/ucb-seti/beespec/internal/cli"
	"github.com/ucb-seti/beespec/internal/metrics"
	"github.com/ucb-seti/beespec/packets"
)

var rootCmd = &cobra.Command{
	Use:   "receive",
	Short: "Record and display the BEE2 spectrometer packet stream",
	Long: `receive listens for the UDP packets of the BEE2 spectrometer, one per PFB bin,
reassembles them into spectra and reports missing bins and error codes.

With --write the packets are saved as framed records in <prefix>_1.dat, <prefix>_2.dat, ...
and the run settings in <prefix>.cfg. Before listening, the hit threshold and event limit
are loaded into the BEE2 over its serial console.

Send SIGUSR1 to pause or resume the display and SIGUSR2 to show or hide hits.`,
	Args: cobra.NoArgs,
	Run:  run,
}

func init() {
	d := beespec.DefaultRecorderConfig()
	f := rootCmd.Flags()
	f.String("listen-ip", d.ListenIP, `address to listen on ("ANY" for all interfaces)`)
	f.IntP("port", "p", d.Port, "UDP port to listen on")
	f.String("prefix", d.Prefix, "output file prefix (default: the unix time at startup)")
	f.BoolP("append-timestamp", "t", d.AppendTimestamp, "append the unix time to the prefix")
	f.BoolP("write", "w", d.Write, "write packets to files")
	f.String("quota-policy", d.QuotaPolicy, `start a new file after a number of "spectra" or "packets"`)
	f.IntP("spectra-per-file", "s", d.SpectraPerFile, "spectra per output file")
	f.Int("packets-per-file", d.PacketsPerFile, "packets per output file")
	f.IntP("files-to-write", "f", d.FilesToWrite, "stop after this many files")
	f.Bool("wire-swap", d.WireSwap, "byte-swap the words of received packets")
	f.Bool("file-swap", d.FileSwap, "byte-swap the words written to files")
	f.String("pfb-mask", d.PFBMask, "file of 4096 0/1 values selecting the PFB bins kept")
	f.Int("min-bins", d.MinBins, "discard spectra with fewer filled PFB bins")
	f.String("serial-port", d.SerialPort, "BEE2 serial console (empty skips the handshake)")
	f.Int("baud", bee2.DefaultBaudRate, "BEE2 serial console baud rate")
	f.Float64("threshold", d.Threshold, "hit threshold scaler, 0 to 255")
	f.Int("event-limit", d.EventLimit, "hits reported per PFB bin, 1 to 256")
	f.String("axis", d.Axis, `plot axis: "frequency", "bin" or "raw"`)
	f.Float64("center-mhz", d.CenterMHz, "center frequency of the frequency axis")
	f.Bool("catalog", false, "record the run in the ClickHouse catalog")
	f.String("metrics-addr", "", "serve Prometheus metrics at this address, e.g. :9100")
	f.BoolP("verbose", "v", false, "log the resolved configuration")
	cli.AddSinkFlags(f)
	rootCmd.AddCommand(cli.VersionCmd("receive"))
	rootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping-catalog",
	Short: "Check that the ClickHouse run catalog is reachable",
	Long: `ping-catalog connects to the run catalog named by BEESPEC_DB_ADDR (default
localhost:9000) and prints the server version.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		return catalog.PingServer(ctx)
	},
	SilenceUsage: true,
}

// configureBoard runs the BEE2 handshake. Failures are warnings: the board keeps its
// previous settings and recording goes on.
func configureBoard(cfg beespec.RecorderConfig, baud int) string {
	if cfg.SerialPort == "" {
		return ""
	}
	port, err := bee2.Open(cfg.SerialPort, baud)
	if err != nil {
		fmt.Printf("Warning: Unable to open port %s. Threshold scaler and event limit not set.\n", cfg.SerialPort)
		beespec.ProblemLogger.Printf("BEE2 handshake skipped: %v", err)
		return ""
	}
	defer port.Close()
	settings := bee2.Settings{
		Threshold:     cfg.Threshold,
		EventLimit:    cfg.EventLimit,
		ReadBoardInfo: cfg.Write,
	}
	info, err := bee2.NewConsole(port).Configure(settings)
	if err != nil {
		fmt.Println("Warning: Problems communicating with BEE2. Threshold scaler and event limit not set.")
		beespec.ProblemLogger.Printf("BEE2 handshake failed: %v", err)
		return ""
	}
	beespec.UpdateLogger.Printf("BEE2 threshold scaler %d, event limit %d", settings.Scaler(), settings.EventLimit)
	return info
}

func run(cmd *cobra.Command, args []string) {
	cli.Start("receive", cmd.Flags())
	cfg := beespec.DefaultRecorderConfig()
	cli.Decode(&cfg)
	var sinkOpts cli.SinkOptions
	cli.Decode(&sinkOpts)
	if err := cfg.Validate(); err != nil {
		cli.ExitWithError("invalid configuration", err)
	}

	mask, err := beespec.LoadPFBMask(cfg.PFBMask)
	if err != nil {
		cli.ExitWithError("reading PFB mask", err)
	}
	baud, _ := cmd.Flags().GetInt("baud")
	boardInfo := configureBoard(cfg, baud)

	start := time.Now()
	prefix := cfg.ResolvePrefix(start)
	runID := catalog.NewID()
	if cfg.Write {
		if err := beespec.WriteRunRecord(prefix+".cfg", cfg.RunRecord(runID, boardInfo, mask)); err != nil {
			cli.ExitWithError("writing run record", err)
		}
		fmt.Printf("Writing files %s_1.dat ... (%d %s per file, at most %d files)\n",
			prefix, cfg.SegmenterConfig(prefix).Quota, cfg.QuotaPolicy, cfg.FilesToWrite)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	commands := beespec.SignalCommands(ctx, cancel)

	rec, err := beespec.NewRecorder(cfg, prefix, mask)
	if err != nil {
		cli.ExitWithError("starting recorder", err)
	}
	rec.SetCommands(commands)
	sinks, err := sinkOpts.Build()
	if err != nil {
		cli.ExitWithError("starting spectrum output", err)
	}
	for _, s := range sinks {
		rec.AddSink(s)
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		m := metrics.New()
		rec.AddSink(m)
		rec.OnFileClosed(m.FileClosed)
		srv := metrics.NewServer(addr, "")
		if err := srv.Start(m); err != nil {
			cli.ExitWithError("starting metrics server", err)
		}
		defer srv.Stop(context.Background())
	}

	abort := make(chan struct{})
	db := catalog.Disconnected()
	if on, _ := cmd.Flags().GetBool("catalog"); on {
		db = catalog.Start(ctx, &catalog.ActivityMessage{
			ID:        catalog.NewID(),
			Program:   "receive",
			Hostname:  beespec.Build.Host,
			Version:   beespec.Build.Version,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
			Start:     beespec.StartTime,
		}, abort)
	}
	runMsg := &catalog.RunMessage{
		ID:          runID,
		Prefix:      prefix,
		ListenAddr:  cfg.ListenAddr(),
		QuotaPolicy: cfg.QuotaPolicy,
		Quota:       cfg.SegmenterConfig(prefix).Quota,
		MaxFiles:    cfg.FilesToWrite,
		Threshold:   cfg.Threshold,
		EventLimit:  cfg.EventLimit,
		MaskedBins:  packets.NumPFBBins - mask.Count(),
		BoardInfo:   boardInfo,
		Start:       start,
	}
	db.RecordRun(runMsg)
	rec.OnFileClosed(func(fs beespec.FileSummary) { db.RecordFile(runID, fs) })

	src, err := beespec.NewUDPSource(cfg.ListenAddr())
	if err != nil {
		cli.ExitWithError("opening UDP socket", err)
	}
	fmt.Printf("Listening on %s\n", src.Addr())
	runErr := rec.Run(ctx, src)
	src.Close()

	db.FinishRun(runMsg)
	close(abort)
	db.Wait()
	if runErr != nil {
		var se *beespec.SocketError
		if errors.As(runErr, &se) {
			cli.ExitWithError(fmt.Sprintf("receiving on %s", se.Addr), runErr)
		}
		cli.ExitWithError("recording", runErr)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
