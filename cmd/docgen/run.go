package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docgen-gateway/internal/job"
	"github.com/JakeFAU/docgen-gateway/internal/server"
)

// errJobFailed makes the process exit non-zero after the result is printed.
var errJobFailed = errors.New("generation failed")

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Run one document through the worker",
		Long: `Stages the given file, runs the worker against it exactly as the
HTTP gateway would and prints the JSON result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				if cerr := app.Close(cmd.Context()); cerr != nil {
					e.logger.Warn("failed to close application", zap.Error(cerr))
				}
			}()

			// #nosec G304 -- the operator names the file on the command line.
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer func() { _ = f.Close() }()

			res, err := app.Service().Process(cmd.Context(), job.Upload{
				Filename: filepath.Base(args[0]),
				Content:  f,
			})
			if err != nil {
				return fmt.Errorf("process %s: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if !res.Success {
				return errJobFailed
			}
			return nil
		},
	}
}
