package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
)

var sendImageURL string

func init() {
	sendCmd.Flags().StringVar(&sendImageURL, "image", "", "URL of an already-hosted image to attach")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <peer-id> [text...]",
	Short: "Send a message to a peer",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		client, _, me, err := openSession(ctx, false, true)
		if err != nil {
			log.Fatal(err)
		}

		peer := args[0]
		text := strings.Join(args[1:], " ")
		if strings.TrimSpace(text) == "" && sendImageURL == "" {
			log.Fatal("nothing to send: provide text or --image")
		}

		msg, err := client.SendMessage(ctx, me.ID, peer, text, sendImageURL)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("sent %s at %s\n", msg.ID, msg.CreatedAt.Local().Format("15:04:05"))
	},
}
