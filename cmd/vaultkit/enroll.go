package main

import (
	"encoding/json"
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultkit/vaultkit/envelope"
	"github.com/vaultkit/vaultkit/pinpolicy"
	"github.com/vaultkit/vaultkit/securestore"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Set up the vault PIN on this device",
	Long: `Generates the device master key and wraps it under a key derived
from your PIN. The PIN never leaves the device; only the wrapped bundle is
stored.`,
	Run: func(cmd *cobra.Command, args []string) {
		app, err := newApp()
		if err != nil {
			printError("Failed to initialize", err)
			return
		}

		if _, err := app.store.Get(securestore.KeyEnvelope); err == nil {
			printError("Already enrolled", errAlreadyEnrolled)
			return
		}

		birth := prompt("Birth date (YYYYMMDD, optional)")
		pin := prompt("Choose a 6-digit PIN")
		if v := pinpolicy.Validate(pin, birth); v != nil {
			color.Red("✗ %s", v.Message)
			return
		}
		if confirm := prompt("Confirm PIN"); confirm != pin {
			color.Red("✗ PINs do not match")
			return
		}

		s, cleanup := startSpinner("Enrolling...")
		defer cleanup()

		masterKey, err := envelope.GenerateMasterKey()
		if err != nil {
			printError("Failed to generate master key", err)
			return
		}
		defer envelope.ZeroBytes(masterKey)

		bundle, err := envelope.Wrap(pin, masterKey)
		if err != nil {
			printError("Failed to wrap master key", err)
			return
		}

		raw, err := json.Marshal(bundle)
		if err != nil {
			printError("Failed to encode bundle", err)
			return
		}
		if err := app.store.Set(securestore.KeyEnvelope, raw); err != nil {
			printError("Failed to persist bundle", err)
			return
		}

		s.FinalMSG = successMsg("Enrolled. Your PIN now protects this device's vault key.")
	},
}

var errAlreadyEnrolled = errors.New("an envelope bundle already exists; use change-pin instead")
