package options

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asnowfix/luci-config/internal/global"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

const COMMAND_DEFAULT_TIMEOUT time.Duration = 0 // No timeout by default (wait indefinitely)

const SYNC_DEFAULT_INTERVAL time.Duration = 1 * time.Minute

var Flags struct {
	Verbose    bool
	Debug      bool
	Json       bool
	ConfigFile string        // the value taken by --config / -c
	DataDir    string        // the value taken by --data-dir / -d
	Wait       time.Duration // the value taken by --command-timeout / -C
}

func CommandLineContext(ctx context.Context, version string) context.Context {
	var cancel context.CancelFunc

	ctx = context.WithValue(ctx, global.VersionKey, version)
	processCtx, processCancel := context.WithCancel(ctx)

	if Flags.Wait > 0 {
		ctx, cancel = context.WithTimeout(processCtx, Flags.Wait)
	} else {
		ctx, cancel = context.WithCancel(processCtx)
	}
	ctx = context.WithValue(ctx, global.CancelKey, cancel)
	ctx = context.WithValue(ctx, global.ProcessContextKey, processCtx)

	go func() {
		log := logr.FromContextOrDiscard(ctx)
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		select {
		case <-signals:
			log.Info("Received signal")
		case <-processCtx.Done():
		}
		cancel()
		processCancel()
	}()
	return ctx
}

func PrintResult(out any) error {
	if Flags.Json {
		s, err := json.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Println(string(s))
	} else {
		s, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Print(string(s))
	}
	return nil
}
