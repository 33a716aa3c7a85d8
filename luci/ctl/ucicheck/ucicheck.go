// Package ucicheck parses switch definition files and prints them.
package ucicheck

import (
	"errors"
	"path/filepath"

	"github.com/asnowfix/luci-config/internal/luci"
	"github.com/asnowfix/luci-config/luci/options"
	"github.com/asnowfix/luci-config/pkg/uci"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "uci",
	Short: "Work with switch definition files",
}

var checkCmd = &cobra.Command{
	Use:   "check [file...]",
	Short: "Parse .uci files (default the data dir ones) and print the definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logr.FromContextOrDiscard(cmd.Context())
		files := args
		if len(files) == 0 {
			var err error
			files, err = uci.Glob(filepath.Join(options.Config.DataDir, luci.Domain))
			if err != nil {
				return err
			}
		}

		reg := uci.NewRegistry()
		var errs []error
		for _, file := range files {
			def, err := uci.ParseFile(log, file)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !reg.Register(def) {
				log.Info("Switch already defined, keeping first", "name", def.Name, "file", file)
			}
		}

		out := make([]*uci.Definition, 0, reg.Len())
		for _, name := range reg.Names() {
			def, _ := reg.Get(name)
			out = append(out, def)
		}
		if err := options.PrintResult(out); err != nil {
			return err
		}
		return errors.Join(errs...)
	},
}

func init() {
	Cmd.AddCommand(checkCmd)
}
