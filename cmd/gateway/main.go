package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/sefaria-gateway/config"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/server"
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Dual-endpoint MCP gateway over the Sefaria corpus and the open web",
	}
	root.AddCommand(serveCMD())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			g, err := server.New(cfg)
			if err != nil {
				return err
			}
			return g.Run()
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config.yaml)")
	return serve
}
