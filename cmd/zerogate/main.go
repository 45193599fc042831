package main

import (
	"fmt"
	"os"

	"github.com/Tight5/Zero-Gate-sub000/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "zerogate"}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
