package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var signoutFull bool

func init() {
	signoutCmd.Flags().BoolVar(&signoutFull, "full", false, "also delete the directory record and wipe local identity storage")
	rootCmd.AddCommand(signoutCmd)
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "End the session; with --full, forget this identity entirely",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		client, resolver, me, err := openSession(ctx, signoutFull, false)
		if err != nil {
			log.Fatal(err)
		}

		if err := resolver.EndSession(ctx, me.ID); err != nil && !signoutFull {
			log.Printf("offline publish failed: %v", err)
		}
		if signoutFull {
			// The record itself is destroyed; the offline publish above is
			// moot but harmless if the delete fails midway.
			if err := client.DeleteUser(ctx, me.ID); err != nil {
				log.Fatalf("directory delete failed: %v", err)
			}
		}

		if signoutFull {
			fmt.Printf("signed out; %s is gone and the next session gets a new identity\n", me.ID)
			return
		}
		fmt.Printf("signed out; %s will be restored next session\n", me.ID)
	},
}
