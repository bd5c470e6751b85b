package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nzbengine",
	Short: "nzbengine is a concurrent Usenet download engine",
	Long:  "A concurrent NNTP download engine: NZB parsing, multi-provider fallback, yEnc decoding, PAR2 repair, and archive extraction.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	rootCmd.AddCommand(downloadCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
