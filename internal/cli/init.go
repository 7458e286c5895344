package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Kylo111/make-it-heavy/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write an annotated default configuration file.

The file goes to the path given by --config, or to $HOME/.heavy/config.yaml.
An existing file is kept unless --force is set.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	path, err := loader.WriteDefault(initForce)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Configuration written to: %s\n", color.GreenString("✓"), path)
	fmt.Fprintln(out, "\nSet provider.api_key (or the provider's API key variable), then run:")
	fmt.Fprintln(out, `  heavy run "your question"`)
	return nil
}
