// Package switches reads and drives the switches of the configured routers
// without a running daemon.
package switches

import (
	"context"
	"fmt"
	"sync"

	"github.com/asnowfix/luci-config/internal/luci"
	"github.com/asnowfix/luci-config/internal/platform"
	"github.com/asnowfix/luci-config/luci/ctl/entries"
	"github.com/asnowfix/luci-config/luci/options"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:     "switch",
	Aliases: []string{"sw", "switches"},
	Short:   "List and drive switches",
}

func init() {
	Cmd.AddCommand(listCmd, onCmd, offCmd)
}

// State is the printed view of a switch.
type State struct {
	UniqueID   string            `json:"unique_id" yaml:"unique_id"`
	Name       string            `json:"name" yaml:"name"`
	Icon       string            `json:"icon" yaml:"icon"`
	On         bool              `json:"on" yaml:"on"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// states keeps the last written state of each switch.
type states struct {
	mu  sync.Mutex
	out map[string]State
}

func (s *states) WriteState(ctx context.Context, e platform.Entity) error {
	sw, ok := e.(platform.Switch)
	if !ok {
		return fmt.Errorf("entity %s is not a switch", e.UniqueID())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out[e.UniqueID()] = State{
		UniqueID:   e.UniqueID(),
		Name:       e.Name(),
		Icon:       e.Icon(),
		On:         sw.IsOn(),
		Attributes: e.Attributes(),
	}
	return nil
}

func (s *states) get(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.out[id]
	return st, ok
}

// session sets up every stored entry in process and calls fn.
func session(ctx context.Context, fn func(p *platform.Platform, st *states) error) error {
	log := logr.FromContextOrDiscard(ctx)
	storage, err := entries.Open(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()

	st := &states{out: make(map[string]State)}
	p := platform.New(log, st, options.Config.Workers)
	defer p.Close()

	integration := luci.NewIntegration(log, p, storage, options.Config.DataDir).ReadOnly()
	defer integration.Close(ctx)
	if _, err := integration.SetupAll(ctx); err != nil {
		return err
	}
	return fn(p, st)
}

var listCmd = &cobra.Command{
	Use:   "list [entry_id]",
	Short: "List switches with their state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group := ""
		if len(args) == 1 {
			group = args[0]
		}
		return session(cmd.Context(), func(p *platform.Platform, st *states) error {
			out := make([]State, 0)
			for _, e := range p.Entities(group) {
				if s, ok := st.get(e.UniqueID()); ok {
					out = append(out, s)
				}
			}
			return options.PrintResult(out)
		})
	},
}

func command(on bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return session(ctx, func(p *platform.Platform, st *states) error {
			if err := p.Command(ctx, args[0], on); err != nil {
				return err
			}
			s, _ := st.get(args[0])
			return options.PrintResult(s)
		})
	}
}

var onCmd = &cobra.Command{
	Use:   "on <unique_id>",
	Short: "Turn a switch on",
	Args:  cobra.ExactArgs(1),
	RunE:  command(true),
}

var offCmd = &cobra.Command{
	Use:   "off <unique_id>",
	Short: "Turn a switch off (custom switches ignore it)",
	Args:  cobra.ExactArgs(1),
	RunE:  command(false),
}
