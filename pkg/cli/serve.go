package cli

import (
	"github.com/spf13/cobra"

	"github.com/open-sauced/pizza/crawler/pkg/database"
	"github.com/open-sauced/pizza/crawler/pkg/server"
)

func serveCmd(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve activity crawls over HTTP",
		Long: `Serve activity crawls over HTTP.

Routes:
  GET  /ping        liveness check, answers "pong"
  POST /activity    crawl, the JSON body selects author and sources

Feeds are stored in Postgres on request when CRAWLER_DATABASE_HOST is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("port") {
				port = a.env.ServerPort
			}

			var store server.FeedStore
			if opts, ok := a.env.Database(); ok {
				feedStore, err := database.NewFeedStore(cmd.Context(), opts)
				if err != nil {
					return err
				}
				defer feedStore.Close()
				store = feedStore
			}

			srv, err := server.NewCrawlerServer(a.env, store, a.logger)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context(), port)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "port to listen on (default: CRAWLER_SERVER_PORT)")

	return cmd
}
