package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

var stdin = bufio.NewReader(os.Stdin)

// prompt reads one line of input after printing a label.
func prompt(label string) string {
	fmt.Print(color.CyanString("? ") + label + ": ")
	line, err := stdin.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

// startSpinner shows a progress spinner unless verbose logging is on.
// Returns the spinner and a cleanup function to defer.
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	_ = s.Color("cyan")

	if !verbose {
		s.Start()
	}

	cleanup := func() {
		// Clear FinalMSG before Stop so the spinner doesn't print it on
		// its own line discipline, then print it normalized.
		msg := s.FinalMSG
		s.FinalMSG = ""
		if !verbose {
			s.Stop()
		}
		if msg != "" {
			if !strings.HasSuffix(msg, "\n") {
				msg += "\n"
			}
			fmt.Print(msg)
		}
	}
	return s, cleanup
}

func printError(message string, err error) {
	fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+message+": "+err.Error())
}

func successMsg(message string) string {
	return color.GreenString("✓") + " " + message
}

func failureMsg(message string) string {
	return color.RedString("✗") + " " + message
}
