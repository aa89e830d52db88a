package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultkit/vaultkit/envelope"
	"github.com/vaultkit/vaultkit/gateway"
	"github.com/vaultkit/vaultkit/stepup"
	"github.com/vaultkit/vaultkit/vault"
)

var itemType string

func init() {
	itemAddCmd.Flags().StringVarP(&itemType, "type", "t", "memo", "item type (account, card, id, license, memo, other)")

	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemListCmd)
	itemCmd.AddCommand(itemRevealCmd)
	itemCmd.AddCommand(itemRemoveCmd)
}

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage vault items",
}

var itemAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Seal a new secret into the vault",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := newApp()
		if err != nil {
			printError("Failed to initialize", err)
			return
		}

		value := prompt("Secret value")
		pin := prompt("PIN")

		s, cleanup := startSpinner("Sealing and uploading...")
		defer cleanup()

		id, err := app.vault.Create(context.Background(), pin, vault.Secret{
			Type:  gateway.ItemType(itemType),
			Title: args[0],
			Value: []byte(value),
		})
		if err != nil {
			s.FinalMSG = failureMsg("Failed to store item: " + err.Error())
			return
		}
		s.FinalMSG = successMsg("Stored as " + id)
	},
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored items",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := newApp()
		if err != nil {
			printError("Failed to initialize", err)
			return
		}

		page, err := app.vault.List(context.Background(), 1, 50)
		if err != nil {
			printError("Failed to list items", err)
			return
		}
		if len(page.Items) == 0 {
			fmt.Println("No items.")
			return
		}
		for _, item := range page.Items {
			fmt.Printf("%s  %-8s  %s  %s\n",
				color.CyanString(item.ID), item.Type, item.Title, color.HiBlackString(item.Masked))
		}
	},
}

var itemRevealCmd = &cobra.Command{
	Use:   "reveal <id>",
	Short: "Decrypt and print one item (requires step-up verification)",
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

		secret, err := app.vault.Reveal(ctx, ticket, args[0])
		if err != nil {
			printError("Failed to reveal item", err)
			return
		}
		defer envelope.ZeroBytes(secret.Value)

		fmt.Println(color.CyanString(secret.Title) + " (" + string(secret.Type) + ")")
		fmt.Println(string(secret.Value))
	},
}

var itemRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete an item from the vault",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := newApp()
		if err != nil {
			printError("Failed to initialize", err)
			return
		}
		if err := app.vault.Remove(context.Background(), args[0]); err != nil {
			printError("Failed to remove item", err)
			return
		}
		fmt.Println(successMsg("Removed."))
	},
}
