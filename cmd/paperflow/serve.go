package main

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/paperflow/pkg/server"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent HTTP API",
		Long: `Serve starts the HTTP API. Research linking runs are executed in the
request; trend analysis runs in the background and is polled through the
run endpoints. SIGINT or SIGTERM shuts the server down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeApp, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			s := c.settings.Server
			srv := server.New(server.Deps{
				Linking:     a.linking,
				Trends:      a.trends,
				Store:       a.store,
				Checkpoints: a.checkpoints,
			},
				server.WithLogger(c.logger),
				server.WithAllowedOrigins(s.AllowedOrigins...),
			)
			return srv.ListenAndServe(cmd.Context(), s.Addr, s.ShutdownTimeout)
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
