package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"kroger-cart/internal/cart"
	"kroger-cart/internal/config"
	"kroger-cart/internal/model"
)

func cmdAdd(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	modality := fs.String("modality", "pickup", "DELIVERY or PICKUP")
	zip := fs.String("zip", cfg.Zip, "store zip code")
	dryRun := fs.Bool("dry-run", false, "resolve items without adding them to the cart")
	file := fs.String("file", "", "read items from a JSON or CSV file instead of arguments (use - for stdin)")
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	storage := fs.String("token-storage", cfg.TokenStorage, "token storage backend: auto, file, or keyring")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.TokenStorage = *storage

	m, err := model.ParseModality(*modality)
	if err != nil {
		return err
	}

	var requests []model.GroceryRequest
	if *file != "" {
		requests, err = loadItemsFile(*file)
	} else {
		requests, err = parseItems(fs.Args())
	}
	if err != nil {
		return err
	}

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}

	report, err := svc.cart.Run(ctx, requests, cart.Options{
		Modality: m,
		Zip:      *zip,
		Chain:    cfg.Chain,
		DryRun:   *dryRun,
	})
	if err != nil {
		if errors.Is(err, model.ErrAuth) {
			return fmt.Errorf("%w\nrun \"krogercart auth\" to authorize", err)
		}
		return err
	}

	if *jsonOut {
		return printJSON(os.Stdout, report)
	}
	printReport(os.Stdout, report)
	return nil
}

// parseItems turns command line arguments into grocery requests. Each
// argument is a search term, optionally prefixed with a quantity as in
// "2*milk", or an exact product as "upc:0001111041700".
func parseItems(args []string) ([]model.GroceryRequest, error) {
	if len(args) == 0 {
		return nil, model.NewValidationError("items", "at least one item is required")
	}

	requests := make([]model.GroceryRequest, 0, len(args))
	for _, arg := range args {
		req := model.GroceryRequest{}

		if qty, rest, ok := strings.Cut(arg, "*"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(qty)); err == nil {
				if n <= 0 {
					return nil, model.NewValidationError("quantity", fmt.Sprintf("%q must be positive", arg))
				}
				req.Quantity = n
				arg = rest
			}
		}

		arg = strings.TrimSpace(arg)
		if upc, ok := strings.CutPrefix(arg, "upc:"); ok {
			req.UPC = strings.TrimSpace(upc)
		} else {
			req.Query = arg
		}

		if err := req.Validate(); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// loadItemsFile reads grocery requests from a file. Files ending in .csv
// are parsed as CSV, everything else as a JSON array. "-" reads JSON from
// stdin.
func loadItemsFile(path string) ([]model.GroceryRequest, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening items file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var requests []model.GroceryRequest
	var err error
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		requests, err = loadItemsCSV(r)
	} else {
		err = json.NewDecoder(r).Decode(&requests)
		if err != nil {
			err = model.NewValidationError("file", fmt.Sprintf("invalid items JSON: %v", err))
		}
	}
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, model.NewValidationError("file", "no items in file")
	}
	return requests, nil
}

// loadItemsCSV parses rows of "item,quantity". The item column uses the
// same syntax as command line arguments, so "upc:0001111041700" picks an
// exact product. The quantity column is optional and a header row with a
// non-numeric quantity is skipped.
func loadItemsCSV(r io.Reader) ([]model.GroceryRequest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var requests []model.GroceryRequest
	for line := 1; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, model.NewValidationError("file", fmt.Sprintf("invalid items CSV: %v", err))
		}

		item := strings.TrimSpace(record[0])
		if item == "" {
			continue
		}

		req := model.GroceryRequest{}
		if upc, ok := strings.CutPrefix(item, "upc:"); ok {
			req.UPC = strings.TrimSpace(upc)
		} else {
			req.Query = item
		}

		if len(record) > 1 {
			qty := strings.TrimSpace(record[1])
			if qty != "" {
				n, err := strconv.Atoi(qty)
				if err != nil {
					// Allow a single header row such as "item,quantity".
					if line == 1 {
						continue
					}
					return nil, model.NewValidationError("quantity", fmt.Sprintf("line %d: %q is not a number", line, qty))
				}
				req.Quantity = n
			}
		}

		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport renders the run outcome for a terminal.
func printReport(w io.Writer, report *model.CartReport) {
	if report.DryRun {
		fmt.Fprintln(w, "Dry run: nothing was added to the cart.")
	}

	for _, item := range report.Added {
		line := fmt.Sprintf("  + %d x %s", item.Quantity, item.Name)
		if item.PromoPrice != nil {
			line += fmt.Sprintf(" ($%.2f, sale)", *item.PromoPrice)
		} else if item.Price != nil {
			line += fmt.Sprintf(" ($%.2f)", *item.Price)
		}
		fmt.Fprintln(w, line)
	}
	for _, term := range report.NotFound {
		fmt.Fprintf(w, "  ? not found: %s\n", term)
	}

	fmt.Fprintf(w, "Added %d item(s), %d not found.\n", report.AddedCount, report.NotFoundCount)
	if report.AddedCount > 0 && !report.DryRun && report.CartURL != "" {
		fmt.Fprintf(w, "Review your cart: %s\n", report.CartURL)
	}
}
