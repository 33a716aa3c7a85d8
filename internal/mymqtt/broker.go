package mymqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"
	mochiServer "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/spf13/viper"
)

type BrokerConfig struct {
	// Listen is the TCP address of the broker, e.g. ":1883".
	Listen string `mapstructure:"listen"`
	// Mdns publishes the broker as _mqtt._tcp on the local network.
	Mdns bool `mapstructure:"mdns"`
	// Instance is the mDNS instance name; defaults to the hostname.
	Instance string `mapstructure:"instance"`
}

// Broker starts an embedded MQTT broker accepting every client. It runs until
// ctx is done.
func Broker(ctx context.Context, log logr.Logger, cfg BrokerConfig, v *viper.Viper) error {
	log = log.WithName("MqttBroker")
	if cfg.Listen == "" {
		cfg.Listen = fmt.Sprintf(":%d", PrivatePort)
	}

	opts := loadBrokerOptions(log, v)
	opts.Logger = slog.New(logr.ToSlogHandler(log))
	opts.InlineClient = true
	server := mochiServer.New(opts)

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		log.Error(err, "Error adding MQTT auth hook")
		return err
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: cfg.Listen})
	if err := server.AddListener(tcp); err != nil {
		log.Error(err, "Error adding TCP listener", "address", cfg.Listen)
		return err
	}
	if err := server.Serve(); err != nil {
		log.Error(err, "Error starting MQTT server")
		return err
	}
	log.Info("Now listening for MQTT connections", "address", tcp.Address())

	var mdns *zeroconf.Server
	if cfg.Mdns {
		instance := cfg.Instance
		if instance == "" {
			host, err := os.Hostname()
			if err != nil {
				return err
			}
			instance = host
		}
		_, p, err := net.SplitHostPort(tcp.Address())
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(p)
		if err != nil {
			return err
		}
		mdns, err = zeroconf.Register(instance, ZeroconfService, "local.", port, []string{"luci_config"}, nil)
		if err != nil {
			log.Error(err, "Unable to register ZeroConf service")
			return err
		}
		log.Info("Published MQTT broker over mDNS", "instance", instance, "service", ZeroconfService, "port", port)
	}

	go func(log logr.Logger) {
		<-ctx.Done()
		log.Info("Shutting down MQTT broker")
		if mdns != nil {
			mdns.Shutdown()
		}
		server.Close()
	}(log.WithName("cleanup"))

	return nil
}

// loadBrokerOptions reads mochi options from the mqtt.broker.options key.
func loadBrokerOptions(log logr.Logger, v *viper.Viper) *mochiServer.Options {
	opts := &mochiServer.Options{
		Capabilities: mochiServer.NewDefaultServerCapabilities(),
	}
	if v != nil && v.IsSet("mqtt.broker.options") {
		if err := v.UnmarshalKey("mqtt.broker.options", opts); err != nil {
			log.Error(err, "Failed to unmarshal MQTT broker options, using defaults")
			return &mochiServer.Options{Capabilities: mochiServer.NewDefaultServerCapabilities()}
		}
	}
	return opts
}
