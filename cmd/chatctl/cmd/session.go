package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(onlineCmd)
	rootCmd.AddCommand(offlineCmd)
}

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "Announce this identity to the directory and mark it online",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, _, me, err := openSession(ctx, false, true)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s (%s) is online\n", me.DisplayName, me.ID)
	},
}

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Mark this identity offline",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		// The open itself writes online=false, so the record never blips
		// online first.
		_, _, me, err := openSession(ctx, false, false)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s is offline\n", me.ID)
	},
}
