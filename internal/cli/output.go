package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/picklr-io/microstrate/internal/engine"
	"github.com/picklr-io/microstrate/internal/ir"
)

var out io.Writer = os.Stdout

var (
	errorColor   = color.New(color.FgHiRed)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.Faint)
	successColor = color.New(color.FgGreen)
)

func printError(format string, args ...any) {
	errorColor.Fprintln(out, fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	warningColor.Fprintln(out, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	infoColor.Fprintln(out, fmt.Sprintf(format, args...))
}

func printSuccess(format string, args ...any) {
	successColor.Fprintln(out, fmt.Sprintf(format, args...))
}

// printNotFound warns about a declaration without a MicroStrate equivalent.
func printNotFound(key string) {
	printWarning("Warning: Could not find compatible resource in %s for resource '%s'.", engine.ProviderName, key)
}

// printPhase reports deployment progress.
func printPhase(ev engine.PhaseEvent) {
	switch ev.Status {
	case "started":
		printInfo("Deploying %s...", ev.Phase)
	case "completed":
		printInfo("Deployed %s (%s)", ev.Phase, ev.Duration.Round(time.Millisecond))
	case "failed":
		printError("Failed to deploy %s: %v", ev.Phase, ev.Error)
	}
}

// renderResult prints the status of every resource in a deployment result.
func renderResult(res *ir.DeploymentResult) {
	if res == nil {
		return
	}
	if res.Message != "" {
		printInfo("%s", res.Message)
	}

	keys := make([]string, 0, len(res.Resources))
	for k := range res.Resources {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		status := res.Resources[key]
		switch status.Status {
		case ir.StatusSuccess, ir.StatusAttached, ir.StatusDeleted:
			printSuccess("  %s: %s", key, status.Status)
		case ir.StatusFailed:
			printError("  %s: %s", key, status.Status)
			if status.Error != "" {
				printError("    %s", status.Error)
			}
		default:
			printWarning("  %s: %s", key, status.Status)
		}
	}
}

// hasFailures reports whether any resource in res failed.
func hasFailures(res *ir.DeploymentResult) bool {
	if res == nil {
		return true
	}
	for _, status := range res.Resources {
		if status.Status == ir.StatusFailed {
			return true
		}
	}
	return false
}
