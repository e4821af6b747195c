package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"meteorite/internal/bundle"
	"meteorite/internal/handlers"
	"meteorite/internal/logx"
	"meteorite/internal/pack"
	"meteorite/internal/paths"
	"meteorite/internal/project"
)

func newBundleCmd() *cobra.Command {
	var (
		output       string
		noMinify     bool
		modulesMode  string
		testPackages []string
		release      string
		runtimeDir   string
		packageSets  []string
	)

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Bundle the project into a runnable directory tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			pp, err := paths.Resolve(projectDir)
			if err != nil {
				return err
			}
			if !project.IsApp(pp.Root) {
				return fmt.Errorf("%s is not an application directory (missing .meteor/packages)", pp.Root)
			}
			if err := pp.EnsureLocalDirs(); err != nil {
				return err
			}

			logger, closer, err := logx.New(pp)
			if err != nil {
				return err
			}
			defer closer.Close()

			cacheDir, err := paths.WarehouseDir()
			if err != nil {
				return err
			}
			ctx := pack.NewContext(cacheDir, packageSets, handlers.MustRegistry())
			ctx.Logger = logger

			if output == "" {
				output = filepath.Join(pp.LocalDir, "build")
			}

			errs := bundle.Run(pp.Root, output, bundle.Options{
				NodeModulesMode: modulesMode,
				NoMinify:        noMinify,
				TestPackages:    testPackages,
				VersionOverride: release,
				RuntimeDir:      runtimeDir,
				Context:         ctx,
				Logger:          logger,
			})
			if len(errs) > 0 {
				for _, msg := range errs {
					fmt.Fprintln(os.Stderr, msg)
				}
				return fmt.Errorf("bundling failed with %d error(s)", len(errs))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Bundle written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (default .meteor/local/build)")
	cmd.Flags().BoolVar(&noMinify, "no-minify", false, "Skip minification of client assets")
	cmd.Flags().StringVar(&modulesMode, "node-modules", "copy", "Native module handling: skip, symlink or copy")
	cmd.Flags().StringSliceVar(&testPackages, "test-packages", nil, "Packages whose tests are included")
	cmd.Flags().StringVar(&release, "release", "", "Release version override")
	cmd.Flags().StringVar(&runtimeDir, "runtime", "", "Runtime server directory to embed")
	cmd.Flags().StringSliceVar(&packageSets, "package-set", nil, "Additional local package set directories")

	return cmd
}
