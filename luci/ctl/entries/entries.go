// Package entries manages the configured routers from the command line.
package entries

import (
	"context"
	"fmt"
	"os"

	"github.com/asnowfix/luci-config/internal/entry"
	"github.com/asnowfix/luci-config/internal/luci"
	"github.com/asnowfix/luci-config/luci/options"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:     "entry",
	Aliases: []string{"entries"},
	Short:   "Manage configured routers",
}

var flags struct {
	id    string
	title string
	cfg   entry.Config
	check bool
}

func init() {
	for _, c := range []*cobra.Command{addCmd, updateCmd} {
		c.Flags().StringVar(&flags.cfg.Host, entry.ConfHost, "", "router host or host:port")
		c.Flags().StringVarP(&flags.cfg.Username, entry.ConfUsername, "u", "root", "LuCI user")
		c.Flags().StringVarP(&flags.cfg.Password, entry.ConfPassword, "p", "", "LuCI password")
		c.Flags().BoolVar(&flags.cfg.SSL, entry.ConfSSL, entry.DefaultSSL, "use https")
		c.Flags().BoolVar(&flags.cfg.VerifySSL, "verify-ssl", entry.DefaultVerifySSL, "verify the router certificate")
		c.Flags().IntVar(&flags.cfg.ScanInterval, "scan-interval", entry.DefaultScanInterval, "seconds between polls")
		c.Flags().StringVar(&flags.cfg.RuleIDs, "rule-ids", "", "comma-separated firewall section ids to expose (default all)")
		c.Flags().BoolVar(&flags.check, "check", true, "check the connection before saving")
	}
	addCmd.Flags().StringVar(&flags.id, "id", "", "entry id (default the host)")
	addCmd.Flags().StringVar(&flags.title, "title", "", "entry title (default the host)")

	Cmd.AddCommand(addCmd, updateCmd, showCmd, listCmd, deleteCmd)
}

// Open opens the entry storage of the data dir.
func Open(ctx context.Context) (*entry.Storage, error) {
	log := logr.FromContextOrDiscard(ctx)
	if err := os.MkdirAll(options.Config.DataDir, 0o755); err != nil {
		return nil, err
	}
	return entry.NewStorage(log, options.Config.DatabasePath())
}

func check(ctx context.Context, cfg entry.Config) error {
	if !flags.check {
		return nil
	}
	if err := luci.CheckConnection(ctx, logr.FromContextOrDiscard(ctx), cfg); err != nil {
		return fmt.Errorf("cannot connect: %w", err)
	}
	return nil
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a router",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := flags.cfg
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := check(ctx, cfg); err != nil {
			return err
		}

		storage, err := Open(ctx)
		if err != nil {
			return err
		}
		defer storage.Close()

		e := &entry.Entry{ID: flags.id, Title: flags.title, Data: cfg.Map()}
		if e.ID == "" {
			e.ID = entry.IDFor(cfg.Host)
		}
		if e.Title == "" {
			e.Title = cfg.Host
		}
		if err := storage.Create(ctx, e); err != nil {
			return err
		}
		return options.PrintResult(redacted(e))
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <entry_id>",
	Short: "Change the settings of a router; a running daemon reloads it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		storage, err := Open(ctx)
		if err != nil {
			return err
		}
		defer storage.Close()

		e, err := storage.Get(ctx, args[0])
		if err != nil {
			return err
		}

		changed := changedOptions(cmd, flags.cfg.Map())
		if len(changed) == 0 {
			return fmt.Errorf("nothing to update")
		}
		for k, v := range changed {
			e.Options[k] = v
		}
		cfg, err := entry.Decode(entry.Merge(e))
		if err != nil {
			return err
		}
		if err := check(ctx, cfg); err != nil {
			return err
		}
		if err := storage.Update(ctx, e); err != nil {
			return err
		}
		return options.PrintResult(redacted(e))
	},
}

// changedOptions keeps the values of the flags set on the command line.
func changedOptions(cmd *cobra.Command, all map[string]any) map[string]any {
	names := map[string]string{
		entry.ConfHost:     entry.ConfHost,
		entry.ConfUsername: entry.ConfUsername,
		entry.ConfPassword: entry.ConfPassword,
		entry.ConfSSL:      entry.ConfSSL,
		"verify-ssl":       entry.ConfVerifySSL,
		"scan-interval":    entry.ConfScanInterval,
		"rule-ids":         entry.ConfRuleIDs,
	}
	out := make(map[string]any)
	for flag, key := range names {
		if cmd.Flags().Changed(flag) {
			out[key] = all[key]
			if key == entry.ConfRuleIDs && all[key] == nil {
				out[key] = ""
			}
		}
	}
	return out
}

var showCmd = &cobra.Command{
	Use:   "show <entry_id>",
	Short: "Show a router",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		storage, err := Open(ctx)
		if err != nil {
			return err
		}
		defer storage.Close()

		e, err := storage.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return options.PrintResult(redacted(e))
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List routers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		storage, err := Open(ctx)
		if err != nil {
			return err
		}
		defer storage.Close()

		list, err := storage.List(ctx)
		if err != nil {
			return err
		}
		out := make([]*entry.Entry, 0, len(list))
		for _, e := range list {
			out = append(out, redacted(e))
		}
		return options.PrintResult(out)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <entry_id>",
	Short: "Delete a router",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		storage, err := Open(ctx)
		if err != nil {
			return err
		}
		defer storage.Close()
		return storage.Delete(ctx, args[0])
	},
}

func redacted(e *entry.Entry) *entry.Entry {
	out := *e
	out.Data = hidePassword(e.Data)
	out.Options = hidePassword(e.Options)
	return &out
}

func hidePassword(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == entry.ConfPassword {
			v = "********"
		}
		out[k] = v
	}
	return out
}
