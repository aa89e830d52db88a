package main

import (
	"context"
	"encoding/json"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultkit/vaultkit/envelope"
	"github.com/vaultkit/vaultkit/pinpolicy"
	"github.com/vaultkit/vaultkit/securestore"
	"github.com/vaultkit/vaultkit/stepup"
)

var changePinCmd = &cobra.Command{
	Use:   "change-pin",
	Short: "Re-wrap the device master key under a new PIN",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := newApp()
		if err != nil {
			printError("Failed to initialize", err)
			return
		}
		ctx := context.Background()

		ticket, err := elevate(ctx, app, stepup.PurposeChangePin)
		if err != nil {
			printError("Verification failed", err)
			return
		}

		oldPin, err := ticket.Consume(stepup.PurposeChangePin)
		if err != nil {
			printError("Elevation ticket unusable", err)
			return
		}

		birth := prompt("Birth date (YYYYMMDD, optional)")
		newPin := prompt("New 6-digit PIN")
		if v := pinpolicy.Validate(newPin, birth); v != nil {
			color.Red("✗ %s", v.Message)
			return
		}
		if confirm := prompt("Confirm new PIN"); confirm != newPin {
			color.Red("✗ PINs do not match")
			return
		}

		s, cleanup := startSpinner("Re-wrapping master key...")
		defer cleanup()

		bundles := stepup.StoreBundleSource{Store: app.store}
		bundle, err := bundles.CurrentBundle()
		if err != nil {
			printError("Failed to load bundle", err)
			return
		}

		masterKey, err := envelope.Unwrap(oldPin, bundle)
		if err != nil {
			printError("Failed to unwrap master key", err)
			return
		}
		defer envelope.ZeroBytes(masterKey)

		rewrapped, err := envelope.Wrap(newPin, masterKey)
		if err != nil {
			printError("Failed to wrap master key", err)
			return
		}

		raw, err := json.Marshal(rewrapped)
		if err != nil {
			printError("Failed to encode bundle", err)
			return
		}
		if err := app.store.Set(securestore.KeyEnvelope, raw); err != nil {
			printError("Failed to persist bundle", err)
			return
		}

		s.FinalMSG = successMsg("PIN changed. The master key is unchanged; existing items stay readable.")
	},
}
