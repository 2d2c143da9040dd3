// The udpdump command prints the headers of the first few BEE2 packets arriving on a port.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ucb-seti/beespec"
	"github.com/ucb-seti/beespec/packets"
)

const defaultHost = "localhost"

var (
	npack    int
	port     int
	wireSwap bool
)

var rootCmd = &cobra.Command{
	Use:   "udpdump [flags] [host][:port]",
	Short: "Dump the first N BEE2 packet headers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := defaultHost
		if len(args) > 0 {
			var err error
			if host, err = splitHost(args[0], cmd.Flags().Changed("port")); err != nil {
				return err
			}
		}
		endpoint := fmt.Sprintf("%s:%4.4d", host, port)
		return probe(cmd.Context(), npack, endpoint)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultPort := beespec.DefaultRecorderConfig().Port
	rootCmd.Flags().IntVarP(&npack, "count", "n", 10, "Number of packets to dump")
	rootCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "Port to monitor")
	rootCmd.Flags().BoolVar(&wireSwap, "wire-swap", false, "byte-swap the packet words")
}

// splitHost separates an attached :port from host and updates the port value.
func splitHost(arg string, portFlagSet bool) (string, error) {
	pieces := strings.Split(arg, ":")
	if len(pieces) == 1 {
		return arg, nil
	}
	if len(pieces) > 2 {
		return "", fmt.Errorf("cannot parse host '%s' with %d colon separators", arg, len(pieces)-1)
	}
	attachedport, err := strconv.Atoi(pieces[1])
	if err != nil {
		return "", fmt.Errorf("cannot convert port '%s' to integer", pieces[1])
	}
	if portFlagSet && port != attachedport {
		return "", fmt.Errorf("cannot use -p argument and a conflicting host:port pair")
	}
	port = attachedport
	if len(pieces[0]) == 0 {
		return defaultHost, nil
	}
	return pieces[0], nil
}

func probe(ctx context.Context, npack int, endpoint string) error {
	fmt.Printf("Probing %s for the first %d packets received...\n", endpoint, npack)
	src, err := beespec.NewUDPSource(endpoint)
	if err != nil {
		return err
	}
	defer src.Close()

	order := packets.Normalizer{Swap: wireSwap}
	for range npack {
		raw, err := src.Next(ctx)
		if err != nil {
			return err
		}
		pack, err := packets.Decode(raw.Data, order)
		if err != nil {
			fmt.Printf("%s  %v\n", raw.Time.Format("15:04:05.000000"), err)
			continue
		}
		fmt.Printf("%s  %s, logical bin %d\n", raw.Time.Format("15:04:05.000000"), pack, pack.LogicalBin())
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}
