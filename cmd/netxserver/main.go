// Command netxserver runs a netx Server exposing a single "echo" method,
// useful for smoke-testing a deployment's framing, handshake, and session
// resume behavior end to end.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netx-rpc/netx"
)

const echoTag netx.Tag = 1

type echoController struct {
	packer netx.Packer
}

func (c *echoController) Register() (*netx.Registry, error) {
	reg := netx.NewRegistry()
	reg.Register(echoTag, netx.FuncValue, func(args *netx.Args) netx.Envelope {
		if err := netx.CheckArity(echoTag, args, 1); err != nil {
			return netx.Error(1, err.Error())
		}
		buf, err := args.Next()
		if err != nil {
			return netx.Error(1, err.Error())
		}
		var msg string
		if err := c.packer.Unpack(buf, &msg); err != nil {
			return netx.Error(1, err.Error())
		}
		out, err := c.packer.Pack(msg)
		if err != nil {
			return netx.Error(1, err.Error())
		}
		return netx.Success(out)
	})
	return reg, nil
}

func echoFactory(token *netx.Token) (netx.Controller, error) {
	return &echoController{packer: netx.NewGobPacker()}, nil
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "netxserver",
		Short: "Run a netx RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configFile)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (overrides defaults; set flags and NETX_ env vars take precedence)")
	root.Flags().String("addr", ":4500", "TCP address to listen on")
	root.Flags().String("service-name", "netxserver", "service_name required of connecting clients")
	root.Flags().String("verify-key", "", "verify_key required of connecting clients (empty disables the check)")
	root.Flags().Duration("request-timeout", netx.DefaultRequestOutTime, "per-call timeout before a pending reply fails")
	root.Flags().Duration("session-save-time", netx.DefaultSessionSaveTime, "grace window before a disconnected session is destroyed")
	root.Flags().String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	root.Flags().String("log-level", "info", "logrus level: debug, info, warn, error")

	_ = viper.BindPFlags(root.Flags())
	viper.SetEnvPrefix("NETX")
	viper.AutomaticEnv()

	return root
}

func runServer(configFile string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		log.SetLevel(lvl)
	}
	entry := logrus.NewEntry(log)

	var metrics *netx.Metrics
	if addr := viper.GetString("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		metrics = netx.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				entry.WithError(err).Error("metrics server stopped")
			}
		}()
		entry.WithField("addr", addr).Info("serving prometheus metrics")
	}

	opts := []netx.ServerOption{
		netx.WithServiceName(viper.GetString("service-name")),
		netx.WithVerifyKey(viper.GetString("verify-key")),
		netx.WithRequestOutTime(viper.GetDuration("request-timeout")),
		netx.WithSessionSaveTime(viper.GetDuration("session-save-time")),
		netx.WithLogger(entry),
	}
	if metrics != nil {
		opts = append(opts, netx.WithMetrics(metrics))
	}

	srv, err := netx.Listen(viper.GetString("addr"), echoFactory, opts...)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	entry.WithField("addr", srv.Addr().String()).Info("netxserver listening")

	return srv.Serve()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
