package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/pipeline"
)

// planFlags are shared by plan and render.
type planFlags struct {
	mode        string
	sequence    []string
	duration    float64
	transition  string
	description string
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "prototype", "Plan mode: prototype, sequence or ai")
	cmd.Flags().StringSliceVar(&f.sequence, "frames", nil, "Explicit frame ids in order (implies --mode sequence)")
	cmd.Flags().Float64Var(&f.duration, "duration", flow.DefaultDuration, "Seconds per frame")
	cmd.Flags().StringVar(&f.transition, "transition", "cut", "Transition: cut, fade, slow_fade or slide")
	cmd.Flags().StringVar(&f.description, "describe", "", "Flow description for ai mode")
}

func (f *planFlags) request(sourceURL string) (pipeline.VideoRequest, error) {
	mode, err := flow.ParseMode(f.mode)
	if err != nil {
		return pipeline.VideoRequest{}, err
	}
	if len(f.sequence) > 0 {
		mode = flow.ModeSequence
	}
	transition, err := flow.ParseTransition(f.transition)
	if err != nil {
		return pipeline.VideoRequest{}, err
	}
	var seq []flow.PlanFrame
	for _, id := range f.sequence {
		if id = strings.TrimSpace(id); id != "" {
			seq = append(seq, flow.PlanFrame{ID: id})
		}
	}
	return pipeline.VideoRequest{
		SourceURL:   sourceURL,
		Mode:        mode,
		Sequence:    seq,
		Settings:    flow.Settings{Duration: f.duration, Transition: transition},
		Description: f.description,
	}, nil
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "plan <design-url>",
		Short: "Show the frame order a render would use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			plan, err := a.pipeline.PreviewPlan(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPlan(plan))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func renderPlan(plan flow.Plan) string {
	rows := make([][]string, 0, plan.Len()+1)
	for i, f := range plan.Frames {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			f.ID,
			f.Name,
			strconv.FormatFloat(f.Duration, 'f', 2, 64),
			f.Transition.String(),
		})
	}
	rows = append(rows, []string{"", "", "total", strconv.FormatFloat(plan.TotalDuration, 'f', 2, 64), ""})
	return renderTable(
		[]string{"#", "Frame", "Name", "Seconds", "Transition"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
