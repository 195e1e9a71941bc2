package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/picklr-io/microstrate/internal/engine"
	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/template"
	"github.com/spf13/cobra"
)

var removeAutoApprove bool

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the deployed service stage",
	Long: `Removes every resource of the service stage from MicroStrate.

Resources with a retain deletion policy are kept by the control plane.`,
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeAutoApprove, "yes", "y", false, "Skip interactive approval before removing")
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	doc, err := template.Load(ctx, templateFile)
	if err != nil {
		return err
	}
	if doc.Template.Service == "" {
		return fmt.Errorf("template has no service name")
	}
	ref := ir.StackRef{Name: doc.Template.Service, Stage: engine.ResolveStage(stage, doc.Template)}

	if !removeAutoApprove {
		fmt.Fprintf(out, "Remove %s from stage %s? (y/n): ", ref.Name, ref.Stage)
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Remove cancelled.")
			return nil
		}
	}

	result, err := newEngine(doc, newClient()).Remove(ctx, ref)
	if err != nil {
		return reportDeployError(err)
	}
	renderResult(result)
	if hasFailures(result) {
		return fmt.Errorf("remove failed")
	}
	printSuccess("Removed %s from %s.", ref.Name, ref.Stage)
	return nil
}
