package cli

import (
	"fmt"

	"github.com/picklr-io/microstrate/internal/engine"
	"github.com/picklr-io/microstrate/internal/template"
	"github.com/spf13/cobra"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print the translated resources",
	Long: `Translates the service template and prints every resulting resource
without contacting MicroStrate. Exits non-zero when a resource does not validate.`,
	RunE: runTemplate,
}

func runTemplate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	doc, err := template.Load(ctx, templateFile)
	if err != nil {
		return err
	}
	eng := engine.NewEngine(newRegistry(doc), nil)
	plan, err := eng.CreatePlan(ctx, doc.Template, engine.PlanOptions{Stage: stage, NotFound: printNotFound})
	if err != nil {
		return fmt.Errorf("failed to translate template: %w", err)
	}

	for _, res := range plan.All() {
		fmt.Fprint(out, res.Template())
	}
	if err := plan.Validate(); err != nil {
		return reportDeployError(err)
	}
	return nil
}
