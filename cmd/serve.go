package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yousef-elgarch1/secureflow/pkg/logging"
	"github.com/yousef-elgarch1/secureflow/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the policy API, live events and metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := newApp()
		defer a.Close()

		var opts []server.Option
		orch, l, err := a.orchestrator(ctx)
		if err != nil {
			// the read side still works without model credentials
			logging.Warnf("runs disabled: %v", err)
			if l == nil {
				if l, err = a.openLedger(); err != nil {
					return err
				}
			}
		} else {
			opts = append(opts, server.WithRunner(orch))
		}
		return server.New(l, a.broker, a.metrics, opts...).Serve(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
