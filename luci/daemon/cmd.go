package daemon

import (
	"github.com/asnowfix/luci-config/internal/global"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "daemon",
	Short: "LuCI config daemon",
	Long:  "LuCI config daemon: polls the configured routers and publishes their switches over MQTT",
	Args:  cobra.NoArgs,
}

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if service.Interactive() {
			// --command-timeout bounds commands, not the daemon
			return NewDaemon(global.ProcessContext(cmd.Context())).Run()
		}
		s, _, err := load(global.ProcessContext(cmd.Context()))
		if err != nil {
			return err
		}
		return s.Run()
	},
}

func init() {
	Cmd.AddCommand(RunCmd)
}
