// Package export writes search results for the command line.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/FranksOps/aliscrape/internal/models"
)

// Format is an output encoding for search results.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// headers defines the CSV column order
var headers = []string{
	"id",
	"title",
	"url",
	"price",
	"currency",
	"image",
	"store",
	"sales",
}

// ParseFormat validates a format name; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("export: unknown format %q", s)
}

// Write encodes res to w in the given format.
func Write(w io.Writer, format Format, res *models.SearchResult) error {
	if res == nil {
		res = models.NewSearchResult(nil)
	}
	switch format {
	case FormatJSON, "":
		return WriteJSON(w, res)
	case FormatCSV:
		return WriteCSV(w, res.Products)
	}
	return fmt.Errorf("export: unknown format %q", format)
}

// WriteJSON writes the same document the HTTP API returns.
func WriteJSON(w io.Writer, res *models.SearchResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("export: encode json: %w", err)
	}
	return nil
}

// WriteCSV writes one row per product under a header row.
func WriteCSV(w io.Writer, products []models.Product) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	for _, p := range products {
		record := []string{
			p.ID,
			p.Title,
			p.URL,
			strconv.FormatFloat(p.Price, 'f', 2, 64),
			p.Currency,
			p.Image,
			p.Store,
			p.Sales,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}
