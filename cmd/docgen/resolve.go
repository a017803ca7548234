package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docgen-gateway/internal/artifact"
)

type resolveOutput struct {
	Artifact string   `json:"artifact,omitempty"`
	Match    string   `json:"match"`
	NewFiles []string `json:"new_files"`
	Missing  []string `json:"missing,omitempty"`
}

// newResolveCmd explains which file the resolver would pick. It is meant for
// debugging a worker's naming convention against a real output directory.
func newResolveCmd() *cobra.Command {
	var (
		dir       string
		before    []string
		after     []string
		prefix    string
		extension string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which output file would be chosen",
		Long: `Compares a "before" listing with an "after" listing of the output
directory and prints the artifact the resolver selects. When --after is
omitted the directory is listed now.

Candidates are ranked by modification time, so names passed to --after
must exist under --dir. Names that do not exist are skipped and reported
under "missing".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if dir == "" {
				dir = e.cfg.Paths.OutputDir
			}
			if !cmd.Flags().Changed("prefix") {
				prefix = e.cfg.Resolver.Prefix
			}
			if extension == "" {
				extension = e.cfg.Resolver.Extension
			}

			afterSnap := artifact.NewSnapshot(after...)
			var missing []string
			if cmd.Flags().Changed("after") {
				missing, err = missingFiles(dir, after)
				if err != nil {
					return err
				}
			} else {
				afterSnap, err = artifact.Take(dir)
				if err != nil {
					return fmt.Errorf("list %s: %w", dir, err)
				}
			}
			res, err := artifact.NewResolver(prefix, extension).Resolve(dir, artifact.NewSnapshot(before...), afterSnap)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}

			out := resolveOutput{Artifact: res.Name, Match: string(res.Match), NewFiles: res.NewFiles, Missing: missing}
			if out.NewFiles == nil {
				out.NewFiles = []string{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default paths.output_dir)")
	cmd.Flags().StringSliceVar(&before, "before", nil, "file names present before the worker ran")
	cmd.Flags().StringSliceVar(&after, "after", nil, "file names present after the worker ran")
	cmd.Flags().StringVar(&prefix, "prefix", "", "artifact name prefix (default resolver.prefix)")
	cmd.Flags().StringVar(&extension, "extension", "", "artifact extension (default resolver.extension)")
	return cmd
}

// missingFiles returns the names that are not present under dir.
func missingFiles(dir string, names []string) ([]string, error) {
	var missing []string
	for _, name := range names {
		_, err := os.Stat(filepath.Join(dir, name))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			missing = append(missing, name)
		case err != nil:
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
	}
	return missing, nil
}
