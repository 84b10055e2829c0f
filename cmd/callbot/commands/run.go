package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/hospital-callbot/internal/scenario"
	"github.com/chadiek/hospital-callbot/internal/usecase"
)

var runCmd = &cobra.Command{
	Use:   "run [scenario-id...]",
	Short: "Serve, then dial the target number once per scenario",
	Long: `Starts the webhook server, then calls TARGET_PHONE_NUMBER once for each
named scenario (all of them when none are named). When every call has
finished the bug report is recomputed and written as bug_report.md.`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().String("to", "", "number to dial (default TARGET_PHONE_NUMBER)")
	runCmd.Flags().Int("parallel", 1, "concurrent calls")
	runCmd.Flags().Duration("pause", 5*time.Second, "pause between dials")
	runCmd.Flags().Duration("call-timeout", 11*time.Minute, "give up on a call after this long")
}

func runBatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if to, _ := cmd.Flags().GetString("to"); to != "" {
		a.cfg.Twilio.TargetNumber = to
	}
	if err := errors.Join(a.cfg.ValidateForCalls(), a.cfg.ValidateForDialing()); err != nil {
		return err
	}
	scenarios, err := pick(a.catalog, args)
	if err != nil {
		return err
	}
	parallel, _ := cmd.Flags().GetInt("parallel")
	pause, _ := cmd.Flags().GetDuration("pause")
	timeout, _ := cmd.Flags().GetDuration("call-timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	calls := a.calls()
	srv := a.startServer(ctx, calls)
	defer srv.shutdown()

	dialer := usecase.NewTwilioDialer(a.cfg.Twilio.AccountSID, a.cfg.Twilio.AuthToken, a.cfg.Twilio.FromNumber, a.log)
	batch := usecase.NewBatch(calls, dialer, a.registry, a.store, usecase.BatchConfig{
		To:          a.cfg.Twilio.TargetNumber,
		BaseURL:     a.cfg.BaseURL,
		Parallel:    parallel,
		Pause:       pause,
		CallTimeout: timeout,
		Logger:      a.log,
	})
	res, err := batch.Run(ctx, scenarios)

	w := cmd.OutOrStdout()
	for i, out := range res.Outcomes {
		if out.CallID == "" {
			continue
		}
		fmt.Fprintf(w, "%-28s %-10s %-16s goal=%-5v issues=%d\n",
			scenarios[i].ID, out.Summary.Status, out.Summary.EndReason, out.Summary.GoalReached, len(out.Issues))
	}
	fmt.Fprintf(w, "\n%d issues across %d calls, report: %s\n", res.Report.Total, res.Report.Calls, usecase.BugReportMD)
	return err
}

// pick resolves scenario ids, patient names or 1-based indices against the
// catalog. No arguments means every scenario.
func pick(c *scenario.Catalog, ids []string) ([]scenario.Scenario, error) {
	if len(ids) == 0 {
		return c.All(), nil
	}
	out := make([]scenario.Scenario, 0, len(ids))
	for _, id := range ids {
		sc, ok := c.Get(id)
		if n, err := strconv.Atoi(id); !ok && err == nil {
			sc, ok = c.At(n - 1)
		}
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", id)
		}
		out = append(out, sc)
	}
	return out, nil
}
