package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/monitor111/pwa-chat/internal/clients"
	"github.com/monitor111/pwa-chat/internal/identity"
	"github.com/monitor111/pwa-chat/internal/model"
)

const appName = "chatctl"

var (
	serverURL string
	stateDir  string
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Anonymous chat client for the pwa-chat directory",
	Long: `chatctl resolves a stable anonymous identity for this machine,
keeps it registered in the presence directory, and sends and receives
1:1 messages.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8084", "directory server base URL")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "override identity storage location (default: OS cache/config dirs)")
}

func newTiers() ([]identity.Tier, error) {
	if stateDir != "" {
		return []identity.Tier{
			identity.NewFileTier(filepath.Join(stateDir, "state.json")),
			identity.NewCookieTier(filepath.Join(stateDir, "cookie.json")),
		}, nil
	}
	return identity.DefaultTiers(appName)
}

func newResolver(dir identity.Directory, wipeOnSignOut bool) (*identity.Resolver, error) {
	tiers, err := newTiers()
	if err != nil {
		return nil, err
	}
	return identity.NewResolver(dir, identity.Options{
		Tiers:         tiers,
		WipeOnSignOut: wipeOnSignOut,
	}), nil
}

// openSession resolves the local identity and announces it to the directory,
// which returns the device token the client keeps for later writes. online
// controls whether the open marks the record online; commands that end the
// session pass false so the record never blips online on the way out.
func openSession(ctx context.Context, wipeOnSignOut, online bool) (*clients.DirectoryClient, *identity.Resolver, model.Identity, error) {
	client := clients.NewDirectoryClient(serverURL)
	resolver, err := newResolver(client, wipeOnSignOut)
	if err != nil {
		return nil, nil, model.Identity{}, err
	}

	me, err := resolver.Resolve()
	if err != nil {
		return nil, nil, model.Identity{}, err
	}

	if _, err := client.OpenSession(ctx, me.ID, chosenName(me), online); err != nil {
		return nil, nil, model.Identity{}, err
	}
	return client, resolver, me, nil
}

// chosenName returns the display name only when the user explicitly picked
// one; the placeholder stays a client-side default and the server derives its
// own when the record is new. The resolver tracks the choice, so a user who
// picks a name equal to the placeholder string still keeps it.
func chosenName(me model.Identity) string {
	if !me.NameChosen {
		return ""
	}
	return me.DisplayName
}
