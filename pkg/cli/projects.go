package cli

import (
	"github.com/spf13/cobra"

	"github.com/open-sauced/pizza/crawler/pkg/crawler"
	"github.com/open-sauced/pizza/crawler/pkg/output"
	"github.com/open-sauced/pizza/crawler/pkg/projects"
)

func projectsCmd(a *app) *cobra.Command {
	var (
		outputPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "projects PROJECTS_SPEC",
		Short: "Grab projects metadata from GitHub",
		Long: `Grab projects metadata from GitHub.

PROJECTS_SPEC is a JSON or YAML list whose entries are either a repository
name or an object with at least a "name" key. Object keys are passed through;
"description" and "url" default to the repository's own.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := projects.Load(args[0])
			if err != nil {
				return err
			}

			client, err := crawler.GitHubClient(cmd.Context(), &crawler.GitHubConfig{
				Token:  a.env.GitHubTokens(),
				APIURL: a.env.GitHubAPIURL,
			}, a.logger)
			if err != nil {
				return err
			}

			all, err := projects.NewEnricher(client, user, a.logger).EnrichAll(cmd.Context(), defs)
			if err != nil {
				return err
			}

			return output.Write(outputPath, all)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", output.Stdout, "write the metadata to this file instead of stdout")
	cmd.Flags().StringVar(&user, "user", "", "owner of the repositories (default: the token's owner)")

	return cmd
}
