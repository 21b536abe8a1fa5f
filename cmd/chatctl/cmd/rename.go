package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/monitor111/pwa-chat/internal/identity"
)

func init() {
	rootCmd.AddCommand(renameCmd)
}

var renameCmd = &cobra.Command{
	Use:   "rename <name>",
	Short: "Choose the display name shown to peers",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, resolver, _, err := openSession(ctx, false, true)
		if err != nil {
			log.Fatal(err)
		}

		me, err := resolver.SetDisplayName(ctx, args[0])
		if errors.Is(err, identity.ErrInvalidName) {
			log.Fatal("name must not be empty")
		}
		var writeErr *identity.DirectoryWriteError
		if errors.As(err, &writeErr) {
			log.Fatalf("name saved locally but the directory write failed: %v", writeErr)
		}
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("you are now %s (%s)\n", me.DisplayName, me.ID)
	},
}
