package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"imgshift/internal/archive"
	"imgshift/internal/imageformat"
	"imgshift/internal/preflight"
	"imgshift/internal/render"
)

// detectHeaderBytes covers every signature Detect and DetectKind inspect.
const detectHeaderBytes = 512

func newDetectCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "detect FILE...",
		Short:       "Identify image formats by content",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			type detection struct {
				Path   string `json:"path"`
				Kind   string `json:"kind"`
				Format string `json:"format,omitempty"`
				Size   int64  `json:"size"`
				Error  string `json:"error,omitempty"`
			}
			results := make([]detection, 0, len(args))
			for _, path := range args {
				d := detection{Path: path}
				head, size, err := readHead(path, detectHeaderBytes)
				d.Size = size
				switch {
				case err != nil:
					d.Error = err.Error()
				case archive.IsArchive(head):
					d.Kind = "archive"
					d.Format = string(archive.DetectKind(head))
				default:
					d.Kind = "image"
					format, derr := imageformat.Detect(head)
					if derr != nil {
						d.Kind = "unknown"
						d.Error = derr.Error()
					}
					d.Format = string(format)
				}
				results = append(results, d)
			}
			if asJSON {
				return writeJSON(cmd, results)
			}
			rows := make([][]string, 0, len(results))
			for _, d := range results {
				detail := d.Format
				if d.Error != "" {
					detail = d.Error
				}
				rows = append(rows, []string{d.Path, d.Kind, detail, render.Size(d.Size)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"File", "Kind", "Format", "Size"}, rows, 3))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func readHead(path string, n int) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, info.Size(), err
	}
	return buf[:read], info.Size(), nil
}

func newFormatsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "formats",
		Short:       "List supported target formats",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			all := imageformat.All()
			if asJSON {
				type format struct {
					Name      string `json:"name"`
					Extension string `json:"extension"`
					MIME      string `json:"mime"`
				}
				out := make([]format, 0, len(all))
				for _, f := range all {
					out = append(out, format{Name: f.String(), Extension: f.Extension(), MIME: f.MIME()})
				}
				return writeJSON(cmd, out)
			}
			rows := make([][]string, 0, len(all))
			for _, f := range all {
				rows = append(rows, []string{f.String(), f.Extension(), f.MIME(), imageformat.Selection(f)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Format", "Extension", "MIME", "Selection"}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run readiness checks against the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Name, yesNo(r.Passed), r.Detail})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n", ctx.configPath)
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "OK", "Detail"}, rows))
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}
