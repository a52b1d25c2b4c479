package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/doppelcheck/internal/backend"
)

// urlsCmd represents the urls command
var urlsCmd = &cobra.Command{
	Use:   "urls",
	Short: "Manage the custom source URLs saved on the server",
}

var urlsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "List the custom source URLs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.Timeout)
		defer cancel()

		urls, err := backend.NewClient(cfg, logger).GetURLs(ctx)
		if err != nil {
			return err
		}
		printURLs(urls)
		return nil
	},
}

var urlsSetCmd = &cobra.Command{
	Use:   "set [url...]",
	Short: "Replace the custom source URLs (no arguments clears them)",
	Example: `  doppelcheck urls set https://www.destatis.de https://www.bundestag.de
  doppelcheck urls set`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.Timeout)
		defer cancel()

		urls, err := backend.NewClient(cfg, logger).SetURLs(ctx, args)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Saved %d URL(s) at %s\n", len(urls), time.Now().Format(time.RFC3339))
		printURLs(urls)
		return nil
	},
}

func printURLs(urls []string) {
	if len(urls) == 0 {
		fmt.Println("(no custom source URLs)")
		return
	}
	for _, u := range urls {
		fmt.Println(u)
	}
}

func init() {
	rootCmd.AddCommand(urlsCmd)
	urlsCmd.AddCommand(urlsGetCmd)
	urlsCmd.AddCommand(urlsSetCmd)
}
