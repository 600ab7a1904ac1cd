package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

//go:generate swag init -g main.go -d ./,../../internal/handler,../../internal/service,../../internal/model,../../pkg/response -o ../../api/swagger

// @title           POS Back Office API
// @version         1.0
// @description     Products, orders, cash sessions, customer ledger and credit notes.
// @host            localhost:8080
// @BasePath        /
var rootCmd = &cobra.Command{
	Use:   "backoffice",
	Short: "POS back office API server and maintenance commands",
	// serve is the default when no subcommand is given
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
