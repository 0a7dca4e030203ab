package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/FranksOps/aliscrape/internal/export"
	"github.com/FranksOps/aliscrape/internal/models"
	"github.com/FranksOps/aliscrape/internal/pipeline"
)

func newSearchCommand(a *app) *cobra.Command {
	var (
		rawURL string
		pages  int
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Crawl one listing and print its products",
		Example: `  aliscrape search --url "https://www.aliexpress.com/w/wholesale-desk-lamp.html" --pages 3
  aliscrape search --url "https://www.aliexpress.com/w/wholesale-usb-cable.html" --format csv --out cables.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			svc, err := pipeline.New(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Run(cmd.Context(), models.SearchRequest{URL: rawURL, MaxPages: pages})
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				file, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer file.Close()
				w = file
			}

			if err := export.Write(w, f, res); err != nil {
				return err
			}
			a.logger.Info("search complete", "products", res.TotalProducts, "format", f, "out", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&rawURL, "url", "", "listing URL to crawl")
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to crawl")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json, csv")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
