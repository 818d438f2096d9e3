package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/api"
	"reelsmith/internal/config"
	"reelsmith/internal/deps"
	"reelsmith/internal/logging"
)

const doctorTimeout = 30 * time.Second

// doctorCheck is one line of the doctor report.
type doctorCheck struct {
	Section  string `json:"section"`
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check tools, the job store and every stage's dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
			defer cancel()

			checks := binaryChecks(runCtx, cfg)
			checks = append(checks, ctx.storeChecks(runCtx, cfg)...)

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, checks); err != nil {
					return err
				}
			} else {
				printDoctor(cmd.OutOrStdout(), checks, shouldColorize(cmd.OutOrStdout()))
			}
			if failed := countFailures(checks); failed > 0 {
				return fmt.Errorf("%d required check(s) failed", failed)
			}
			return nil
		},
	}
}

func binaryChecks(ctx context.Context, cfg *config.Config) []doctorCheck {
	var out []doctorCheck
	for _, s := range deps.CheckBinaries(deps.Requirements(cfg)) {
		out = append(out, doctorCheck{Section: "Tools", Name: s.Name, OK: s.Available, Optional: s.Optional, Detail: firstNonEmpty(s.Detail, s.Path, s.Command)})
	}
	probe := deps.ResolveFFprobe(cfg.Media.FFmpegBinary, cfg.Media.FFprobeBinary)
	out = append(out, doctorCheck{Section: "Tools", Name: "FFprobe pairing", OK: probe.Available, Optional: true, Detail: firstNonEmpty(probe.Detail, probe.Command)})
	filter := deps.CheckSubtitleFilter(ctx, cfg.Media.FFmpegBinary)
	out = append(out, doctorCheck{Section: "Tools", Name: filter.Name, OK: filter.Available, Detail: filter.Detail})
	return out
}

// storeChecks pings Redis and, when reachable, wires the pipeline to report
// each stage's health.
func (c *commandContext) storeChecks(ctx context.Context, cfg *config.Config) []doctorCheck {
	client, err := c.redisClient(ctx)
	if err != nil {
		return []doctorCheck{{Section: "Job store", Name: "Redis", Detail: err.Error()}}
	}
	defer client.Close()
	out := []doctorCheck{{Section: "Job store", Name: "Redis", OK: true, Detail: cfg.Redis.Addr}}

	store := c.jobStore(client)
	p, err := buildPipeline(ctx, cfg, client, store, logging.NewNop())
	if err != nil {
		return append(out, doctorCheck{Section: "Stages", Name: "pipeline", Detail: err.Error()})
	}
	defer p.Close()
	out = append(out, doctorCheck{Section: "Job store", Name: "Ledger", OK: true, Detail: p.ledger.Path()})

	status := p.newManager(logging.NewNop()).Status(ctx)
	for _, h := range api.StageHealthSlice(status.StageHealth) {
		out = append(out, doctorCheck{Section: "Stages", Name: h.Name, OK: h.Ready, Detail: h.Detail})
	}
	return out
}

func printDoctor(out io.Writer, checks []doctorCheck, colorize bool) {
	section := ""
	for _, check := range checks {
		if check.Section != section {
			if section != "" {
				fmt.Fprintln(out)
			}
			section = check.Section
			for _, line := range renderSectionHeader(section, colorize) {
				fmt.Fprintln(out, line)
			}
		}
		kind := statusOK
		if !check.OK {
			kind = statusError
			if check.Optional {
				kind = statusWarn
			}
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
}

func countFailures(checks []doctorCheck) int {
	n := 0
	for _, c := range checks {
		if !c.OK && !c.Optional {
			n++
		}
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
