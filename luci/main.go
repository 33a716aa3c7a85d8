package main

import (
	"fmt"
	"os"

	"github.com/asnowfix/luci-config/hlog"
	"github.com/asnowfix/luci-config/internal/global"
	"github.com/asnowfix/luci-config/luci/ctl/entries"
	"github.com/asnowfix/luci-config/luci/ctl/switches"
	"github.com/asnowfix/luci-config/luci/ctl/ucicheck"
	"github.com/asnowfix/luci-config/luci/daemon"
	"github.com/asnowfix/luci-config/luci/options"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = &cobra.Command{
	Use:   "luci",
	Short: "OpenWrt LuCI configuration toggles as switches",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == daemon.RunCmd.Name() && cmd.Parent() == daemon.Cmd {
			hlog.InitForDaemon(options.Flags.Verbose, options.Flags.Debug)
		} else {
			hlog.InitWithDebug(options.Flags.Verbose, options.Flags.Debug)
		}
		log := hlog.Logger

		v := viper.New()
		if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
			return err
		}
		settings, err := options.LoadConfig(log, v)
		if err != nil {
			return err
		}
		options.ViperConfig = v
		options.Config = *settings

		ctx := logr.NewContext(cmd.Context(), log)
		ctx = options.CommandLineContext(ctx, getVersion())
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		global.Cancel(cmd.Context())
		return nil
	},
}

func init() {
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Verbose, "verbose", "v", false, "verbose output")
	Cmd.PersistentFlags().BoolVar(&options.Flags.Debug, "debug", false, "debug output")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Json, "json", "j", false, "output in JSON format")
	Cmd.PersistentFlags().StringVarP(&options.Flags.ConfigFile, "config", "c", "", "configuration `file` (default luci.yaml in the data dir)")
	Cmd.PersistentFlags().StringVarP(&options.Flags.DataDir, "data-dir", "d", options.DefaultDataDir(), "data `directory` holding luci.db and luci_config/*.uci")
	Cmd.PersistentFlags().DurationVarP(&options.Flags.Wait, "command-timeout", "C", options.COMMAND_DEFAULT_TIMEOUT, "timeout for commands (0 waits forever)")

	Cmd.AddCommand(daemon.Cmd)
	Cmd.AddCommand(entries.Cmd)
	Cmd.AddCommand(switches.Cmd)
	Cmd.AddCommand(ucicheck.Cmd)
}

func main() {
	cobra.EnableTraverseRunHooks = true
	err := Cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
