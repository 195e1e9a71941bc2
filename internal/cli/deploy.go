package cli

import (
	"errors"
	"fmt"

	"github.com/picklr-io/microstrate/internal/deployapi"
	"github.com/picklr-io/microstrate/internal/engine"
	"github.com/picklr-io/microstrate/internal/template"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the service to MicroStrate",
	Long: `Translates the service template and deploys it in stages.

Resources and the function collection are deployed first, then functions,
their assets, gateway mappings and finally the mapping versions that make
the routes live.`,
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// 1. Load the template
	doc, err := template.Load(ctx, templateFile)
	if err != nil {
		return err
	}

	// 2. Build the plan
	eng := newEngine(doc, newClient())
	plan, err := eng.CreatePlan(ctx, doc.Template, engine.PlanOptions{Stage: stage, NotFound: printNotFound})
	if err != nil {
		return fmt.Errorf("failed to translate template: %w", err)
	}
	printInfo("Deploying %s to stage %s (%d resources, %d functions, %d mappings)",
		plan.Service, plan.Stage, len(plan.Resources), len(plan.Functions), len(plan.Mappings))

	// 3. Deploy in phases
	outcome, err := eng.DeployWithCallback(ctx, plan, printPhase)
	if err != nil {
		return reportDeployError(err)
	}

	// 4. Report
	renderResult(outcome.Result)
	if outcome.Halted || hasFailures(outcome.Result) {
		printError("Deployment of %s finished with failed resources.", plan.Service)
		return fmt.Errorf("deployment failed")
	}
	printSuccess("Deployment of %s to %s complete.", plan.Service, plan.Stage)
	return nil
}

// reportDeployError prints error-class lines for deployment failures the user can act on.
func reportDeployError(err error) error {
	var verr *engine.ValidationError
	var apiErr *deployapi.APIError
	switch {
	case errors.As(err, &verr):
		printError("Resource '%s' config contains errors:", verr.Key)
		for _, msg := range verr.Messages {
			printError("  %s", msg)
		}
	case errors.Is(err, engine.ErrMissingCollection):
		printError("Function collection resource is missing.")
	case errors.Is(err, engine.ErrMissingGateway):
		printError("Gateway resource is missing.")
	case errors.As(err, &apiErr):
		printError("MicroStrate API error (%d): %s", apiErr.StatusCode, apiErr.Message)
	default:
		printError("%v", err)
	}
	return err
}
