package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexuschat/nexus-server/internal/client"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:           "nexus-client",
		Short:         "NEXUS terminal chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Dial(addr)
			if err != nil {
				return err
			}
			return c.Run()
		},
	}

	root.Flags().StringVar(&addr, "addr", "127.0.0.1:9999", "server address (host:port)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
