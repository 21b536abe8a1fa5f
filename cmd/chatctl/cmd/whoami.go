package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity resolved from local storage (no network)",
	Run: func(cmd *cobra.Command, args []string) {
		resolver, err := newResolver(nil, false)
		if err != nil {
			log.Fatal(err)
		}
		me, err := resolver.Resolve()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("id:     %s\n", me.ID)
		fmt.Printf("name:   %s\n", me.DisplayName)
		fmt.Printf("origin: %s\n", me.Origin)
	},
}
