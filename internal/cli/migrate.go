package cli

import (
	"path/filepath"

	"github.com/picklr-io/microstrate/internal/artifact"
	"github.com/picklr-io/microstrate/internal/engine"
	"github.com/picklr-io/microstrate/internal/mapping"
	"github.com/picklr-io/microstrate/internal/template"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rewrite the template for MicroStrate",
	Long: `Rewrites the service template in place so functions and resources use
MicroStrate resource types. The original file is kept as
<file>-backup.<timestamp>.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	registry := mapping.NewRegistry(artifact.NewStore(filepath.Dir(templateFile)))
	res, err := template.Migrate(cmd.Context(), templateFile, registry, template.MigrateOptions{
		ProviderName: engine.ProviderName,
		NotFound:     printNotFound,
	})
	if err != nil {
		return err
	}

	printInfo("Backup written to %s", res.BackupPath)
	printSuccess("Migrated %d functions and %d resources in %s.", len(res.Functions), len(res.Resources), templateFile)
	return nil
}
