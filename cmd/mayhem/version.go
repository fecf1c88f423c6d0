package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/micromayhem/mayhem/internal/config"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version)
				return
			}

			fmt.Printf(banner, version)
			fmt.Println()
			fmt.Printf("  Version:     %s\n", version)
			fmt.Printf("  Commit:      %s\n", commit)
			fmt.Printf("  Built:       %s\n", date)
			fmt.Printf("  Protocol ID: %d\n", config.DefaultProtocolID)
			fmt.Printf("  Go version:  %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Println()
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")

	return cmd
}
