package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "voice-loop",
		Short: "Listen for spoken questions and answer them out loud",
		// usage is noise for runtime failures such as a missing device
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newListenCmd(),
		newAskCmd(),
		newTeachCmd(),
		newAnswersCmd(),
		newConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
