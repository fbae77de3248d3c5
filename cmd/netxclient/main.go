// Command netxclient dials a netx Server and issues a single call against
// its "echo" method, printing the round-tripped reply. It is the client
// half of the netxserver smoke-test pair.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netx-rpc/netx"
)

const echoTag netx.Tag = 1

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "netxclient",
		Short: "Dial a netx RPC server and issue one echo call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(configFile)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (overrides defaults; set flags and NETX_ env vars take precedence)")
	root.Flags().String("addr", "127.0.0.1:4500", "TCP address of the netx server")
	root.Flags().String("service-name", "netxserver", "service_name presented during the handshake")
	root.Flags().String("verify-key", "", "verify_key presented during the handshake")
	root.Flags().String("message", "hello", "string payload to echo")
	root.Flags().Duration("call-timeout", 5*time.Second, "deadline for the echo call")
	root.Flags().String("log-level", "info", "logrus level: debug, info, warn, error")

	_ = viper.BindPFlags(root.Flags())
	viper.SetEnvPrefix("NETX")
	viper.AutomaticEnv()

	return root
}

func runClient(configFile string) error {
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

	client, err := netx.Dial(viper.GetString("addr"), netx.NewRegistry(),
		netx.WithClientServiceName(viper.GetString("service-name")),
		netx.WithClientVerifyKey(viper.GetString("verify-key")),
		netx.WithClientLogger(entry),
	)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	packer := netx.NewGobPacker()
	arg, err := packer.Pack(viper.GetString("message"))
	if err != nil {
		return fmt.Errorf("pack message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("call-timeout"))
	defer cancel()

	env, err := client.Session().Call(ctx, netx.CallValue, echoTag, arg)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}

	buf, err := env.Arg(0)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	var reply string
	if err := packer.Unpack(buf, &reply); err != nil {
		return fmt.Errorf("unpack reply: %w", err)
	}

	fmt.Println(reply)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
