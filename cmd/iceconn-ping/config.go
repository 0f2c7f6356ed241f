// Package main implements iceconn-ping, a two-sided demo that drives a
// pair of iceconn.Connections over real UDP sockets so the connectivity-
// check state machine can be watched end to end.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gortc/iceconn"
)

// PingConfig is the full demo configuration, loaded by viper from
// iceconn-ping.yml (or whatever --config names) the same way
// internal/cli.parseOptions loads server.Options.
type PingConfig struct {
	// Listen is the local UDP address to bind, host:port.
	Listen string `mapstructure:"listen"`
	// Remote is the peer's UDP address to ping, host:port.
	Remote string `mapstructure:"remote"`
	// Controlling selects this side's ICE role.
	Controlling bool `mapstructure:"controlling"`
	// LocalUfrag/LocalPassword/RemoteUfrag/RemotePassword are the short-term
	// credentials both sides must agree on out of band (no SDP exchange in
	// this package).
	LocalUfrag     string `mapstructure:"local_ufrag"`
	LocalPassword  string `mapstructure:"local_password"`
	RemoteUfrag    string `mapstructure:"remote_ufrag"`
	RemotePassword string `mapstructure:"remote_password"`
	// PingInterval paces outbound connectivity checks, consumed by a
	// golang.org/x/time/rate.Limiter rather than a bare ticker.
	PingInterval string `mapstructure:"ping_interval"`

	FieldTrials iceconn.IceFieldTrials   `mapstructure:"field_trials"`
	Timeouts    iceconn.ConnectionTimeouts `mapstructure:"timeouts"`
}

const defaultConfigFileContent = `
version: "1"
listen: "0.0.0.0:4589"
remote: "127.0.0.1:4590"
controlling: true
local_ufrag: "localufrag"
local_password: "localpassword12"
remote_ufrag: "remoteufrag"
remote_password: "remotepassword1"
ping_interval: "1s"
field_trials:
  supports_renomination: false
  piggyback_acks: false
timeouts:
  receiving_timeout: 2.5s
  rto_floor: 500ms
  rto_max: 8s
  max_attempts: 7
`

// cfgFile is bound to the --config persistent flag, mirroring
// internal/cli's package-level cfgFile (the same TODO about global state
// applies here as there).
var cfgFile string

func initViper(v *viper.Viper) {
	v.SetDefault("version", "1")
	v.SetDefault("listen", "0.0.0.0:4589")
	v.SetDefault("controlling", true)
}

func initConfig(v *viper.Viper) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("iceconn-ping")
		v.SetConfigType("yaml")
	}
	cfgErr := v.ReadInConfig()
	if _, ok := cfgErr.(viper.ConfigFileNotFoundError); ok {
		cfgErr = v.ReadConfig(strings.NewReader(defaultConfigFileContent))
	}
	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, "failed to read config:", cfgErr)
		os.Exit(1)
	}
}

// decodeHook lets the config file write durations as "2.5s" into
// time.Duration fields, the same hook internal/cli relies on implicitly
// through mapstructure's StringToTimeDurationHookFunc default.
func decode(v *viper.Viper, out interface{}) error {
	return v.Unmarshal(out, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
}

func getLogger(v *viper.Viper) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !v.GetBool("development") {
		cfg = zap.NewProductionConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l
}
