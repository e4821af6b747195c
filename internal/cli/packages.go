package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"meteorite/internal/handlers"
	"meteorite/internal/pack"
	"meteorite/internal/paths"
	"meteorite/internal/tui"
	"meteorite/internal/warehouse"
)

func newPackagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Inspect and populate the package cache",
	}
	cmd.AddCommand(newPackagesListCmd())
	cmd.AddCommand(newPackagesFetchCmd())
	return cmd
}

func newPackagesListCmd() *cobra.Command {
	var (
		release     string
		packageSets []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cacheDir, err := paths.WarehouseDir()
			if err != nil {
				return err
			}
			ctx := pack.NewContext(cacheDir, packageSets, handlers.MustRegistry())

			if release != "" {
				if _, err := ctx.LoadCachedManifest(release); err != nil {
					return err
				}
			}

			names, err := ctx.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return json.NewEncoder(out).Encode(names)
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&release, "release", "", "Include packages pinned by a cached release manifest")
	cmd.Flags().StringSliceVar(&packageSets, "package-set", nil, "Additional local package set directories")
	return cmd
}

func newPackagesFetchCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "fetch <release>",
		Short: "Download a release manifest and its packages into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			release := args[0]
			base := warehouse.BaseURL(baseURL)

			cacheDir, err := paths.WarehouseDir()
			if err != nil {
				return err
			}
			ctx := pack.NewContext(cacheDir, nil, handlers.MustRegistry())

			out := cmd.OutOrStdout()
			switch tui.DetectMode(out, outputJSON) {
			case tui.ModeTUI:
				return fetchWithProgress(ctx, cacheDir, base, release, out)
			case tui.ModeJSON:
				m, err := ctx.PopulateCache(context.Background(), base, release, nil)
				if err != nil {
					return err
				}
				return json.NewEncoder(out).Encode(m)
			default:
				m, err := ctx.PopulateCache(context.Background(), base, release, printReporter{out: out})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Cached release %s (%d packages)\n", release, len(m.Packages))
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&baseURL, "warehouse", "", "Package origin base URL")
	return cmd
}

// fetchWithProgress runs the cache population under the progress table.
func fetchWithProgress(ctx *pack.Context, cacheDir, base, release string, out io.Writer) error {
	manifest, err := warehouse.FetchManifest(context.Background(), base, release)
	if err != nil {
		return err
	}

	model := tui.NewProgressModel("Fetching release "+release, []tui.Column{
		{Header: "PACKAGE", Width: 24},
		{Header: "VERSION", Width: 12},
		{Header: "STATUS", Width: 12},
	})

	names := make([]string, 0, len(manifest.Packages))
	for name := range manifest.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		status := "pending"
		if warehouse.PackagePresent(cacheDir, name, manifest.Packages[name]) {
			status = "cached"
		}
		model.AddRow(name, []string{name, manifest.Packages[name], status})
	}

	return tui.RunWithWork(out, model, func(send func(tea.Msg)) {
		if _, err := ctx.PopulateCache(context.Background(), base, release, tui.NewFetchReporter(send)); err != nil {
			send(tui.ErrorMsg{Err: err})
		}
	})
}

type printReporter struct {
	out io.Writer
}

func (r printReporter) Start(name, version string) {
	fmt.Fprintf(r.out, "downloading %s@%s\n", name, version)
}

func (r printReporter) Done(name string, err error) {
	if err != nil {
		fmt.Fprintf(r.out, "failed %s: %v\n", name, err)
	}
}
