// Command boltping dials a seed URL, verifies connectivity, and (for a
// routed scheme) prints the discovered routing table -- a small diagnostic
// tool in the same spirit as nabbar-golib's cmd/ probes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	bolt "github.com/cypherbolt/bolt-go"
	"github.com/cypherbolt/bolt-go/addr"
	"github.com/cypherbolt/bolt-go/config"
)

func main() {
	var (
		username string
		password string
		timeout  time.Duration
	)

	root := &cobra.Command{
		Use:   "boltping <url>",
		Short: "Dial a Bolt server or cluster seed and report routing/connectivity status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			opts := []config.Option{config.WithConnectionTimeout(timeout)}
			if username != "" {
				opts = append(opts, config.WithBasicAuth(username, password))
			}

			driver, err := bolt.NewDriver(target, opts...)
			if err != nil {
				return err
			}
			defer driver.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := driver.VerifyConnectivity(ctx); err != nil {
				return fmt.Errorf("connectivity check failed: %w", err)
			}
			fmt.Println("connectivity: ok")

			if tbl := driver.RoutingTable(); tbl != nil {
				fmt.Println("routers:", addrList(tbl.Routers))
				fmt.Println("readers:", addrList(tbl.Readers))
				fmt.Println("writers:", addrList(tbl.Writers))
			}
			return nil
		},
	}

	root.Flags().StringVar(&username, "username", "", "basic auth principal")
	root.Flags().StringVar(&password, "password", "", "basic auth credentials")
	root.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connect/verify timeout")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addrList(addrs []addr.ServerAddress) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a.String()
	}
	return out
}
