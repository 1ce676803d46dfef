package main

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"imgshift/internal/conversion"
	"imgshift/internal/fileutil"
	"imgshift/internal/pipeline"
	"imgshift/internal/render"
)

type convertOptions struct {
	target  string
	outDir  string
	extract bool
	quiet   bool
	json    bool
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert FILE...",
		Short: "Convert images or archives locally",
		Long: "Convert images or archives (zip, tar, tar.gz, tar.xz) to one target format.\n" +
			"Results are written as a zip archive, or as individual files with --extract.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := cliLogger(cfg)
			if err != nil {
				return err
			}
			svc, err := pipeline.Build(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Shutdown()
			return runConvert(cmd, svc, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.target, "to", "t", "", "Target format (jpeg, png, webp, gif, tiff, bmp)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", ".", "Output directory")
	cmd.Flags().BoolVarP(&opts.extract, "extract", "x", false, "Write converted files instead of a zip archive")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the summary as JSON")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runConvert(cmd *cobra.Command, svc *pipeline.Service, paths []string, opts convertOptions) error {
	runCtx := cmd.Context()
	sessionID := "cli-" + uuid.NewString()
	stderr := cmd.ErrOrStderr()

	uploads := make([]pipeline.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		uploads = append(uploads, pipeline.Upload{Name: filepath.Base(p), Data: data})
	}

	ingest, err := svc.Ingest(runCtx, sessionID, uploads)
	if err != nil {
		return err
	}
	if !opts.quiet && !opts.json {
		fmt.Fprintln(stderr, ingest.Batch.Info)
		if ingest.Skipped > 0 {
			fmt.Fprintf(stderr, "Skipped %s without a supported image format\n", render.Plural(ingest.Skipped, "archive entry"))
		}
	}
	if _, err := svc.SelectFormat(runCtx, sessionID, opts.target); err != nil {
		return err
	}

	sink, finish := progressSink(stderr, len(ingest.Batch.Items), opts.quiet || opts.json)
	result, err := svc.Convert(runCtx, sessionID, sink)
	finish()
	if err != nil && result.Summary.BatchID == "" {
		return err
	}

	view := result.View()
	if result.Download != nil {
		written, werr := saveDownload(svc, *result.Download, opts)
		svc.ReleaseDownload(result.Download.ID)
		if werr != nil {
			return werr
		}
		if !opts.json {
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", strings.Join(written, ", "))
		}
	}
	if opts.json {
		if jerr := writeJSON(cmd, view); jerr != nil {
			return jerr
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), summaryTable(result.Summary))
		for _, name := range view.FailedItems {
			fmt.Fprintf(cmd.OutOrStdout(), "failed: %s\n", name)
		}
	}
	if err != nil {
		return err
	}
	if result.Summary.Succeeded == 0 {
		return fmt.Errorf("no images were converted")
	}
	return nil
}

// progressSink draws a bar on terminals and periodic lines elsewhere.
func progressSink(w io.Writer, total int, quiet bool) (conversion.ProgressSink, func()) {
	if quiet {
		return nil, func() {}
	}
	if isTerminal(w) {
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("converting"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		return func(p conversion.Progress) { _ = bar.Set(p.Completed) }, func() { _ = bar.Finish() }
	}
	return func(p conversion.Progress) {
		if render.ShouldReport(p.Completed, p.Total) {
			fmt.Fprintln(w, render.ProgressLine(p))
		}
	}, func() {}
}

func saveDownload(svc *pipeline.Service, dl pipeline.DownloadView, opts convertOptions) ([]string, error) {
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, _, err := svc.OpenDownload(dl.ID)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !opts.extract {
		target := filepath.Join(opts.outDir, dl.Name)
		if _, err := fileutil.WriteAtomic(target, f, dl.Size, 0o644); err != nil {
			return nil, err
		}
		return []string{target}, nil
	}

	zr, err := zip.NewReader(f, dl.Size)
	if err != nil {
		return nil, fmt.Errorf("open result archive: %w", err)
	}
	written := make([]string, 0, len(zr.File))
	for _, entry := range zr.File {
		rc, err := entry.Open()
		if err != nil {
			return written, fmt.Errorf("open %s: %w", entry.Name, err)
		}
		target := filepath.Join(opts.outDir, filepath.Base(entry.Name))
		_, err = fileutil.WriteAtomic(target, rc, int64(entry.UncompressedSize64), 0o644)
		_ = rc.Close()
		if err != nil {
			return written, err
		}
		written = append(written, target)
	}
	return written, nil
}

func summaryTable(s conversion.Summary) string {
	rows := [][]string{
		{"Target", s.Target.String()},
		{"Images", fmt.Sprint(s.Total)},
		{"Converted", fmt.Sprint(s.Succeeded)},
		{"Failed", fmt.Sprint(s.Failed)},
		{"Cancelled", fmt.Sprint(s.Cancelled)},
		{"Input size", render.Size(s.BytesIn)},
		{"Output size", render.Size(s.BytesOut)},
		{"Saved", render.Size(s.BytesSaved()) + " (" + render.Percent(s.ReductionRatio) + ")"},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}
	return renderTable([]string{"Field", "Value"}, rows, 1)
}
