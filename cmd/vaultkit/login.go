package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultkit/vaultkit/gateway"
	"github.com/vaultkit/vaultkit/session"
	"github.com/vaultkit/vaultkit/stepup"
)

// elevate runs the interactive factor sequence for purpose and returns the
// elevation ticket.
func elevate(ctx context.Context, app *app, purpose stepup.Purpose) (*stepup.Ticket, error) {
	attempt, err := app.coord.Begin(purpose)
	if err != nil {
		return nil, err
	}

	channel := gateway.ChannelEmail
	identifier := prompt("Email address")
	if identifier == "" {
		attempt.Cancel()
		return nil, errors.New("no identity given")
	}
	if err := attempt.SubmitIdentity(ctx, channel, identifier); err != nil {
		return nil, err
	}

	for {
		code := prompt("One-time code")
		err := attempt.SubmitCode(ctx, code)
		if err == nil {
			break
		}
		if errors.Is(err, stepup.ErrOtpInvalid) || errors.Is(err, stepup.ErrOtpExpired) {
			color.Yellow("Code rejected (%v), try again", err)
			if attempt.ResendOffered() {
				if answer := prompt("Resend code? (y/N)"); answer == "y" {
					if err := attempt.ResendCode(ctx); err != nil {
						color.Yellow("Resend failed: %v", err)
					}
				}
			}
			continue
		}
		attempt.Cancel()
		return nil, err
	}

	for {
		pin := prompt("PIN")
		err := attempt.SubmitPinOrBiometric(ctx, pin)
		if err == nil {
			break
		}
		if errors.Is(err, stepup.ErrPinInvalid) {
			color.Yellow("Wrong PIN, try again")
			continue
		}
		attempt.Cancel()
		return nil, err
	}

	for attempt.State() == stepup.StateKnowledgeDirected {
		candidates := attempt.Candidates()
		for _, c := range candidates {
			fmt.Println(color.CyanString("→ ") + c.Label)
			answer := prompt("Answer")
			err := attempt.SubmitKnowledgeAnswer(ctx, c.Key, answer)
			if err == nil || !errors.Is(err, stepup.ErrKnowledgeRejected) {
				break
			}
			color.Yellow("Answer rejected, try again")
		}
		if attempt.State() == stepup.StateFailed {
			return nil, fmt.Errorf("verification failed: %s", attempt.Failure())
		}
	}

	ticket := attempt.Ticket()
	if ticket == nil {
		return nil, fmt.Errorf("elevation did not complete: %s", attempt.State())
	}
	return ticket, nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and start a session on this device",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := newApp()
		if err != nil {
			printError("Failed to initialize", err)
			return
		}
		ctx := context.Background()

		ticket, err := elevate(ctx, app, stepup.PurposeLogin)
		if err != nil {
			printError("Login verification failed", err)
			return
		}

		pin, err := ticket.Consume(stepup.PurposeLogin)
		if err != nil {
			printError("Elevation ticket unusable", err)
			return
		}

		s, cleanup := startSpinner("Signing in...")
		defer cleanup()

		if err := app.session.Issue(ctx, session.Credentials{Pin: pin}); err != nil {
			s.FinalMSG = failureMsg("Sign-in failed: " + err.Error())
			return
		}
		s.FinalMSG = successMsg("Signed in.")
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear local tokens",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := newApp()
		if err != nil {
			printError("Failed to initialize", err)
			return
		}
		if err := app.gw.Logout(context.Background()); err != nil {
			// Local state is cleared regardless.
			color.Yellow("Server logout failed: %v", err)
		}
		fmt.Println(successMsg("Signed out."))
	},
}
