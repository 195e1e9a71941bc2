package cli

import (
	"fmt"

	"github.com/picklr-io/microstrate/internal/engine"
	"github.com/picklr-io/microstrate/internal/template"
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach [resource...]",
	Short: "Attach existing resources to the stack",
	Long: `Attaches resources that already exist in MicroStrate to the service stack
so later deployments manage them. Without arguments every resource declared
under resources is attached.`,
	RunE: runAttach,
}

func runAttach(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	doc, err := template.Load(ctx, templateFile)
	if err != nil {
		return err
	}
	client := newClient()
	plan, err := newEngine(doc, client).CreatePlan(ctx, doc.Template, engine.PlanOptions{Stage: stage, NotFound: printNotFound})
	if err != nil {
		return fmt.Errorf("failed to translate template: %w", err)
	}

	keys := args
	if len(keys) == 0 {
		declared := doc.Template.Resources
		for _, res := range plan.Resources {
			if declared == nil {
				break
			}
			if _, ok := declared.Resources[res.Key()]; ok {
				keys = append(keys, res.Key())
			}
		}
	}
	if len(keys) == 0 {
		printWarning("No resources to attach.")
		return nil
	}

	result, err := client.AttachResources(ctx, plan.Ref(), keys)
	if err != nil {
		return reportDeployError(err)
	}
	renderResult(result)
	if hasFailures(result) {
		return fmt.Errorf("attach failed")
	}
	printSuccess("Attached %d resources to %s.", len(keys), plan.Service)
	return nil
}
