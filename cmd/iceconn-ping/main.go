package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func getRoot(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:              "iceconn-ping",
		Short:            "drives a pair of ICE connectivity-check connections over UDP",
		PersistentPreRun: func(cmd *cobra.Command, args []string) { initConfig(v) },
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./iceconn-ping.yml)")
	cmd.AddCommand(getPingCmd(v))
	return cmd
}

func getPingCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "start the connectivity-check loop against the configured remote",
		Run: func(cmd *cobra.Command, args []string) {
			l := getLogger(v)
			defer func() { _ = l.Sync() }()

			stop := make(chan struct{})
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sig
				close(stop)
			}()

			if err := runPing(v, l, stop); err != nil {
				l.Fatal("ping failed", zap.Error(err))
			}
		},
	}
	cmd.Flags().StringP("listen", "l", "", "override listen address")
	cmd.Flags().StringP("remote", "r", "", "override remote address")
	mustBind(v.BindPFlag("listen", cmd.Flags().Lookup("listen")))
	mustBind(v.BindPFlag("remote", cmd.Flags().Lookup("remote")))
	return cmd
}

func mustBind(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to bind flag:", err)
		os.Exit(1)
	}
}

// Execute starts the root command, the package's sole exported entry
// point -- mirroring internal/cli.Execute's shape for gortcd's root
// command.
func Execute() {
	v := viper.GetViper()
	initViper(v)
	root := getRoot(v)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
