package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/picklr-io/microstrate/internal/config"
	"github.com/picklr-io/microstrate/internal/logging"
	"github.com/picklr-io/microstrate/internal/template"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	templateFile string
	stage        string
	noColor      bool

	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "microstrate",
	Short: "Deploy serverless templates to MicroStrate",
	Long: `MicroStrate translates serverless templates into MicroStrate resources
and deploys them through the MicroStrate control plane.

Functions, their packages and HTTP events become functions, assets,
gateway mappings and mapping versions. DynamoDB tables, S3 buckets and
Kinesis streams declared under resources are translated as well.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initSettings,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.microstrate/config.yaml)")
	flags.StringVarP(&templateFile, "file", "c", template.DefaultFile, "Service template (.yml, .yaml, .json or .pkl)")
	flags.StringVarP(&stage, "stage", "s", "", "Stage to deploy to (default is provider.stage, then dev)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("debug", false, "Log full API requests and responses")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(versionCmd)
}

func initSettings(cmd *cobra.Command, args []string) error {
	v := config.New()
	if err := v.BindPFlag(config.KeyLogLevel, cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	if err := v.BindPFlag(config.KeyDebug, cmd.Flags().Lookup("debug")); err != nil {
		return err
	}
	if err := config.ReadFile(v, cfgFile); err != nil {
		return err
	}

	s, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	settings = s

	logging.Init(s.LogLevel)
	if noColor {
		color.NoColor = true
	}
	return nil
}
