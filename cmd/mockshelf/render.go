package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mockshelf/mockshelf/internal/media"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var flags planFlags
	var outputDir, name string

	cmd := &cobra.Command{
		Use:   "render <design-url>",
		Short: "Render a walkthrough video and store it in the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if outputDir != "" {
				if err := media.ValidateOutputDir(outputDir); err != nil {
					return err
				}
			}
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			req.Name = name

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.BuildVideo(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderPlan(res.Plan))
			fmt.Fprintf(out, "rendered %d frame(s), %.2fs, strategy %s", res.FramesCount, res.TotalDuration, res.Strategy)
			if res.FellBack {
				fmt.Fprint(out, " (fell back to concat)")
			}
			fmt.Fprintf(out, "\nasset %s stored as %s\n", res.Asset.ID, res.Asset.URL)

			if outputDir == "" {
				return nil
			}
			src, err := a.assets.Path(res.Asset)
			if err != nil {
				return err
			}
			base := media.SanitizeName(res.Asset.Name, 120)
			if base == "" {
				base = "walkthrough"
			}
			dst := filepath.Join(outputDir, base+".mp4")
			if err := copyFile(src, dst); err != nil {
				return err
			}
			fmt.Fprintf(out, "copied to %s\n", dst)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Also copy the video into this directory")
	cmd.Flags().StringVar(&name, "name", "", "Asset name (defaults to the file name plus \"walkthrough\")")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy video: %w", err)
	}
	return out.Close()
}
