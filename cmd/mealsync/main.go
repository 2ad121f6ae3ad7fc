package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "mealsync",
		Short:   "mealsync — offline-first sync gateway for MealMate",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newQueueCmd(),
		newStreakCmd(),
		newCacheCmd(),
		newJournalCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
