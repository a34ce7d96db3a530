package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wingheights/wingsite/internal/cms"
	"github.com/wingheights/wingsite/internal/config"
	"github.com/wingheights/wingsite/internal/site"
)

// routesTimeout bounds the navigation fetch of the routes command.
const routesTimeout = 30 * time.Second

func newRoutesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the page paths published in the CMS navigation",
		Long: `routes fetches the navigation menu and prints every internal page path,
one per line, in menu order. Wrapper items are included since they render
as landing pages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, nil)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), routesTimeout)
			defer cancel()
			paths, err := listRoutes(ctx, cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range paths {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
}

// listRoutes returns the URL path of every navigable page.
func listRoutes(ctx context.Context, cfg *config.Config) ([]string, error) {
	client := cms.NewClient(cfg.CMS, nil, zap.NewNop())
	items, err := client.Navigation(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch navigation: %w", err)
	}

	tree := site.Normalize(items)
	var paths []string
	for _, segments := range tree.StaticPaths() {
		// External links are not pages.
		if strings.Contains(segments[len(segments)-1], "://") {
			continue
		}
		paths = append(paths, "/"+strings.Join(segments, "/"))
	}
	return paths, nil
}
