// Package mymqtt connects to an MQTT broker, or runs one in process.
package mymqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"
)

const (
	ZeroconfService = "_mqtt._tcp"
	PrivatePort     = 1883

	qosAtLeastOnce = 1
)

// Handler receives the messages of a subscription.
type Handler func(topic string, payload []byte)

type Client struct {
	Id        string
	mqtt      mqtt.Client
	brokerUrl *url.URL
	log       logr.Logger
}

// NewClient looks up the broker at where (host, host:port, or empty to browse
// mDNS for _mqtt._tcp) and prepares a client. It does not connect.
func NewClient(ctx context.Context, log logr.Logger, where, username, password string) (*Client, error) {
	log = log.WithName("mqtt.Client")
	clientId := fmt.Sprintf("%v%v", path.Base(os.Args[0]), os.Getpid())

	brokerUrl, err := lookupBroker(ctx, log, where)
	if err != nil {
		log.Error(err, "Could not find MQTT broker", "where", where)
		return nil, err
	}
	log.Info("Using MQTT broker", "url", brokerUrl, "client_id", clientId)

	opts := mqtt.NewClientOptions()
	opts.SetClientID(clientId)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetResumeSubs(true)
	opts.Servers = []*url.URL{brokerUrl}

	return &Client{
		Id:        clientId,
		mqtt:      mqtt.NewClient(opts),
		brokerUrl: brokerUrl,
		log:       log,
	}, nil
}

func (c *Client) BrokerUrl() *url.URL {
	return c.brokerUrl
}

func (c *Client) Connect(ctx context.Context) error {
	if c.mqtt.IsConnected() {
		return nil
	}
	if err := c.wait(ctx, c.mqtt.Connect()); err != nil {
		c.log.Error(err, "MQTT client failed to connect", "client_id", c.Id)
		return err
	}
	c.log.Info("MQTT client connected", "client_id", c.Id)
	return nil
}

func (c *Client) wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.log.V(1).Info("Publishing", "topic", topic, "payload", string(payload), "retained", retained)
	return c.wait(ctx, c.mqtt.Publish(topic, qosAtLeastOnce, retained, payload))
}

func (c *Client) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.log.Info("Subscribing", "topic", topic)
	return c.wait(ctx, c.mqtt.Subscribe(topic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		c.log.V(1).Info("Received", "topic", msg.Topic(), "payload", string(msg.Payload()))
		handler(msg.Topic(), msg.Payload())
	}))
}

func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.log.Info("Unsubscribing", "topic", topic)
	return c.wait(ctx, c.mqtt.Unsubscribe(topic))
}

func (c *Client) Close() {
	if c.mqtt.IsConnected() {
		c.mqtt.Disconnect(250 /* milliseconds */)
	}
}

func lookupBroker(ctx context.Context, log logr.Logger, where string) (*url.URL, error) {
	if where == "" {
		return lookupBrokerViaZeroConf(ctx, log)
	}

	host, port := where, PrivatePort
	if h, p, err := net.SplitHostPort(where); err == nil {
		host = h
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid MQTT port in %s: %w", where, err)
		}
	}
	u := &url.URL{Scheme: "tcp", Host: net.JoinHostPort(host, strconv.Itoa(port))}

	if ip := net.ParseIP(host); ip != nil {
		log.V(1).Info("Using IP", "where", host, "port", port)
		return u, nil
	}
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err == nil {
		log.V(1).Info("Using host", "where", host, "port", port)
		return u, nil
	}
	return lookupBrokerViaZeroConf(ctx, log)
}

func lookupBrokerViaZeroConf(ctx context.Context, log logr.Logger) (*url.URL, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		log.Error(err, "Failed to initialize zeroconf resolver")
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	brokers := make([]*url.URL, 0)
	go func() {
		for entry := range entries {
			if !strings.Contains(entry.Service, ZeroconfService) {
				continue
			}
			log.Info("Found MQTT broker", "addr", entry.AddrIPv4, "port", entry.Port)
			mu.Lock()
			for _, ip := range entry.AddrIPv4 {
				brokers = append(brokers, &url.URL{
					Scheme: "tcp",
					Host:   net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
				})
			}
			mu.Unlock()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := resolver.Browse(ctx, ZeroconfService, "local.", entries); err != nil {
		log.Error(err, "Failed to browse", "service", ZeroconfService)
		return nil, err
	}
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no MQTT broker found on %s", ZeroconfService)
	}
	return brokers[0], nil
}
