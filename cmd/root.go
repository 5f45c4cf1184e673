package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/foodnet-go/cmd/config"
	"github.com/tphakala/foodnet-go/cmd/dataset"
	"github.com/tphakala/foodnet-go/cmd/predict"
	"github.com/tphakala/foodnet-go/cmd/relay"
	"github.com/tphakala/foodnet-go/cmd/send"
	"github.com/tphakala/foodnet-go/cmd/serve"
	"github.com/tphakala/foodnet-go/internal/buildinfo"
	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// skipSetup marks commands that run without loading the configuration.
const skipSetup = "foodnet.skip-setup"

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "foodnet",
		Short:         "FoodNet food photo detection server",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, &configFile)

	subcommands := []*cobra.Command{
		serve.Command(build),
		relay.Command(),
		predict.Command(),
		send.Command(),
		dataset.Command(),
		config.Command(skipSetup),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if _, ok := cmd.Annotations[skipSetup]; ok {
			return nil
		}
		return initialize(cmd, configFile, &central)
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}

// initialize loads the settings, with flags of cmd taking precedence, and
// installs the central logger.
func initialize(cmd *cobra.Command, configFile string, central **logger.CentralLogger) error {
	settings, err := conf.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	*central = cl

	if settings.ConfigFile != "" {
		cl.Module("main").Debug("configuration loaded", logger.String("path", settings.ConfigFile))
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config file, default searches ./, ~/.config/foodnet and /etc/foodnet")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
}
