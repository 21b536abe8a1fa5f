package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(peersCmd)
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List everyone in the directory with their presence",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		client, _, me, err := openSession(ctx, false, true)
		if err != nil {
			log.Fatal(err)
		}

		users, err := client.ListUsers(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for _, user := range users {
			if user.ID == me.ID {
				continue
			}
			status := "offline, last seen " + user.LastSeen.Local().Format("2006-01-02 15:04")
			if user.Online {
				status = "online"
			}
			fmt.Printf("%-20s %-24s %s\n", user.DisplayName, user.ID, status)
		}
	},
}
