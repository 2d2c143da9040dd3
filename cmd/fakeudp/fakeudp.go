// The fakeudp command sends a synthetic BEE2 packet stream, for testing receive without
// the hardware.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ucb-seti/beespec"
	"github.com/ucb-seti/beespec/internal/cli"
)

// senderConfig is filled by viper.
type senderConfig struct {
	Count      int           `mapstructure:"count"`
	Interval   time.Duration `mapstructure:"interval"`
	Seed       uint64        `mapstructure:"seed"`
	RandomHits bool          `mapstructure:"random_hits"`
	LossRate   float64       `mapstructure:"loss_rate"`
	PIDFile    string        `mapstructure:"pid_file"`
}

var rootCmd = &cobra.Command{
	Use:   "fakeudp [flags] <server>[:port]",
	Short: "Send synthetic BEE2 spectrometer packets",
	Long: `fakeudp sends one UDP packet per PFB bin, cycling through all 4096 bins, with a
mean power that wanders between 200 and 999 and either 16 fixed hits per packet or a
random number of hits. The default port is 2010.`,
	Args: cobra.ExactArgs(1),
	Run:  run,
}

func init() {
	f := rootCmd.Flags()
	f.IntP("count", "n", 0, "packets to generate (0 sends until interrupted)")
	f.Duration("interval", 20*time.Microsecond, "pause between packets")
	f.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	f.Bool("random-hits", false, "draw hit counts and powers at random instead of 16 fixed hits")
	f.Float64("loss-rate", 0, "fraction of packets not sent, to exercise gap detection")
	f.StringP("pid-file", "p", "", "write the process id to this file")
	f.BoolP("verbose", "v", false, "log the resolved configuration")
	rootCmd.AddCommand(cli.VersionCmd("fakeudp"))
}

// serverAddr adds the default port to a bare host.
func serverAddr(arg string) string {
	if _, _, err := net.SplitHostPort(arg); err == nil {
		return arg
	}
	return net.JoinHostPort(arg, strconv.Itoa(beespec.DefaultRecorderConfig().Port))
}

func run(cmd *cobra.Command, args []string) {
	cli.Start("fakeudp", cmd.Flags())
	var cfg senderConfig
	cli.Decode(&cfg)
	if cfg.LossRate < 0 || cfg.LossRate >= 1 {
		cli.ExitWithError(fmt.Sprintf("loss rate %g must be in [0, 1)", cfg.LossRate), nil)
	}
	if cfg.PIDFile != "" {
		if err := os.WriteFile(cfg.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			cli.ExitWithError("writing pid file", err)
		}
	}

	server := serverAddr(args[0])
	conn, err := net.Dial("udp", server)
	if err != nil {
		cli.ExitWithError("cannot open socket", &beespec.SocketError{Addr: server, Err: err})
	}
	defer conn.Close()
	fmt.Printf("fakeudp: sending data to %s\n", conn.RemoteAddr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g := beespec.NewGenerator(beespec.GeneratorConfig{
		Seed:       cfg.Seed,
		RandomHits: cfg.RandomHits,
		LossRate:   cfg.LossRate,
	})
	sent, err := g.Send(ctx, conn, cfg.Count, cfg.Interval)
	fmt.Printf("Last packet number %d (%d skipped)\n", sent, g.Dropped())
	if err != nil {
		cli.ExitWithError("cannot send data", err)
	}
	if viper.GetBool("verbose") {
		beespec.UpdateLogger.Printf("Sent %d packets to %s", sent, server)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
