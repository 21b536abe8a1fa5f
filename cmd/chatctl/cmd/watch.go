package cmd

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/monitor111/pwa-chat/internal/directory"
	"github.com/monitor111/pwa-chat/internal/model"
)

var watchPeer string

func init() {
	watchCmd.Flags().StringVar(&watchPeer, "peer", "", "also print recent history with this peer first")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream presence changes and incoming messages",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, resolver, me, err := openSession(ctx, false, true)
		if err != nil {
			log.Fatal(err)
		}
		defer func() {
			endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := resolver.EndSession(endCtx, me.ID); err != nil {
				log.Printf("offline publish failed: %v", err)
			}
		}()

		if watchPeer != "" {
			history, err := client.ListMessages(ctx, me.ID, watchPeer, time.Time{}, 0)
			if err != nil {
				log.Fatal(err)
			}
			for _, msg := range history {
				printMessage(me.ID, msg)
			}
		}

		events, err := client.Subscribe(ctx)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("watching as %s (%s), ctrl-c to stop\n", me.DisplayName, me.ID)

		for event := range events {
			switch event.Type {
			case directory.EventPresence:
				if event.Presence == nil || event.Presence.ID == me.ID {
					continue
				}
				state := "went offline"
				if event.Presence.Online {
					state = "came online"
				}
				fmt.Printf("* %s (%s) %s\n", event.Presence.DisplayName, event.Presence.ID, state)
			case directory.EventMessage:
				if event.Message == nil || event.Message.To != me.ID {
					continue
				}
				printMessage(me.ID, *event.Message)
			}
		}
	},
}

func printMessage(myID string, msg model.Message) {
	who := msg.From
	if msg.From == myID {
		who = "you"
	}
	line := msg.Text
	if msg.ImageURL != "" {
		if line != "" {
			line += " "
		}
		line += "[image] " + msg.ImageURL
	}
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04:05"), who, line)
}
