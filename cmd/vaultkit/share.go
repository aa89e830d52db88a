package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultkit/vaultkit/stepup"
)

var shareTTL time.Duration

func init() {
	shareIssueCmd.Flags().DurationVar(&shareTTL, "ttl", 10*time.Minute, "share token validity")

	shareCmd.AddCommand(shareIssueCmd)
	shareCmd.AddCommand(shareReceiveCmd)
}

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Share a secret through a single-use token",
}

var shareIssueCmd = &cobra.Command{
	Use:   "issue <item-id>",
	Short: "Re-seal an item under a passphrase and mint a share token",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := newApp()
		if err != nil {
			printError("Failed to initialize", err)
			return
		}
		ctx := context.Background()

		ticket, err := elevate(ctx, app, stepup.PurposeRevealSecret)
		if err != nil {
			printError("Verification failed", err)
			return
		}

		passphrase := prompt("Share passphrase (agree it with the recipient out of band)")

		s, cleanup := startSpinner("Issuing share token...")
		defer cleanup()

		grant, err := app.vault.Share(ctx, ticket, args[0], passphrase, shareTTL)
		if err != nil {
			s.FinalMSG = failureMsg("Failed to share item: " + err.Error())
			return
		}
		s.FinalMSG = successMsg("Token: "+color.YellowString(grant.Token)) +
			"\n" + color.CyanString("→") + " Expires " + grant.ExpiresAt.Format(time.RFC3339)
	},
}

var shareReceiveCmd = &cobra.Command{
	Use:   "receive <token>",
	Short: "Consume a share token and decrypt its payload",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := newApp()
		if err != nil {
			printError("Failed to initialize", err)
			return
		}

		passphrase := prompt("Share passphrase")

		value, err := app.vault.Receive(context.Background(), args[0], passphrase)
		if err != nil {
			printError("Failed to receive share", err)
			return
		}
		fmt.Println(string(value))
	},
}
