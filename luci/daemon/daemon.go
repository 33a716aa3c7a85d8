package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/asnowfix/luci-config/hlog"
	"github.com/asnowfix/luci-config/internal/bridge"
	"github.com/asnowfix/luci-config/internal/entry"
	"github.com/asnowfix/luci-config/internal/global"
	"github.com/asnowfix/luci-config/internal/luci"
	"github.com/asnowfix/luci-config/internal/mymqtt"
	"github.com/asnowfix/luci-config/internal/platform"
	"github.com/asnowfix/luci-config/luci/options"
	rpc "github.com/asnowfix/luci-config/pkg/luci"
	"github.com/asnowfix/luci-config/pkg/luci/ratelimit"
	"github.com/go-logr/logr"
	"github.com/kardianos/service"
	"golang.org/x/sync/errgroup"
)

type daemon struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDaemon(ctx context.Context) *daemon {
	ctx, cancel := context.WithCancel(ctx)
	return &daemon{ctx: ctx, cancel: cancel}
}

func (d *daemon) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	go func() {
		if err := d.Run(); err != nil {
			hlog.Logger.Error(err, "Daemon stopped")
		}
		global.Cancel(d.ctx)
	}()
	return nil
}

func (d *daemon) Stop(s service.Service) error {
	d.cancel()
	return nil
}

func (d *daemon) Run() error {
	log, err := logr.FromContext(d.ctx)
	if err != nil {
		return err
	}
	return Run(d.ctx, log, &options.Config)
}

// Run serves every stored entry until ctx is done.
func Run(ctx context.Context, log logr.Logger, s *options.Settings) error {
	log.Info("Starting LuCI config daemon", "version", global.Version(ctx), "data_dir", s.DataDir)

	if err := os.MkdirAll(filepath.Join(s.DataDir, luci.Domain), 0o755); err != nil {
		return err
	}
	storage, err := entry.NewStorage(log, s.DatabasePath())
	if err != nil {
		log.Error(err, "Failed to initialize entry storage")
		return err
	}
	defer storage.Close()

	if err := importEntries(ctx, log, storage, s.Entries); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	brokerAddr := s.Mqtt.Broker
	if brokerAddr == "" {
		log.Info("Starting embedded MQTT broker")
		if err := mymqtt.Broker(ctx, log, s.Mqtt.Embedded, options.ViperConfig); err != nil {
			return err
		}
		brokerAddr = localAddress(s.Mqtt.Embedded.Listen)
	}

	mc, err := mymqtt.NewClient(ctx, log, brokerAddr, s.Mqtt.Username, s.Mqtt.Password)
	if err != nil {
		return err
	}
	defer mc.Close()
	if err := mc.Connect(ctx); err != nil {
		return err
	}

	b, err := bridge.New(ctx, log, mc, bridge.Options{
		DiscoveryPrefix: s.Mqtt.DiscoveryPrefix,
		TopicPrefix:     s.Mqtt.TopicPrefix,
		Origin:          bridge.OriginInfo{Name: "luci-config", SoftwareVersion: global.Version(ctx)},
	})
	if err != nil {
		return err
	}
	defer b.Close()

	p := platform.New(log, b, s.Workers)
	defer p.Close()
	b.SetCommander(p)
	// connected first so that the bridge forgets its payloads before the
	// entities write their state
	p.Dispatcher().Connect(luci.SignalStateUpdated, b)

	integration := luci.NewIntegration(log, p, storage, s.DataDir, rpc.WithRateLimit(ratelimit.New(s.RateLimit)))

	n, err := integration.SetupAll(ctx)
	if err != nil {
		return err
	}
	log.Info("Running", "entries", n)

	g.Go(func() error {
		if s.SyncInterval <= 0 {
			return nil
		}
		ticker := time.NewTicker(s.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := integration.Sync(ctx); err != nil {
					hlog.ErrorIfNotCanceled(log, err, "Failed to sync entries")
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		integration.Close(context.Background())
		return nil
	})

	return g.Wait()
}

func localAddress(listen string) string {
	port := mymqtt.PrivatePort
	if _, p, err := net.SplitHostPort(listen); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// importEntries creates the entries listed in the configuration file that are
// not stored yet. Invalid or unreachable ones are logged and skipped.
func importEntries(ctx context.Context, log logr.Logger, storage *entry.Storage, imports []map[string]any) error {
	for _, data := range imports {
		cfg, err := entry.Decode(data)
		if err != nil {
			log.Error(err, "Error importing from configuration file", "host", data[entry.ConfHost])
			continue
		}
		id := entry.IDFor(cfg.Host)
		if _, err := storage.Get(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, entry.ErrNotFound) {
			return err
		}
		if err := luci.CheckConnection(ctx, log, cfg); err != nil {
			log.Error(err, "Error importing from configuration file: connection error", "host", cfg.Host)
			continue
		}
		e := &entry.Entry{ID: id, Title: cfg.Host, Data: cfg.Map()}
		if err := storage.Create(ctx, e); err != nil {
			return fmt.Errorf("import %s: %w", cfg.Host, err)
		}
	}
	return nil
}
