package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/clustertls/internal/config"
	"github.com/coral-mesh/clustertls/internal/errors"
	"github.com/coral-mesh/clustertls/internal/layout"
	"github.com/coral-mesh/clustertls/internal/privilege"
	"github.com/coral-mesh/clustertls/internal/provision"
)

func runProvision(cmd *cobra.Command, nodes []string, client bool) error {
	// Reported before any config or filesystem access.
	if err := config.ValidateTargets(nodes, client); err != nil {
		return errors.Usagef("%v", err)
	}

	s, err := newSession(cmd, askRoot|askStore)
	if err != nil {
		return err
	}
	rootExisted := layout.Exists(s.layout.Root)

	summary, err := s.orchestrator().Run(cmd.Context(), s.options(nodes, client))
	if err != nil {
		return err
	}
	if err := privilege.HandBack(s.handBackPlan(nodes, client, rootExisted), s.logger); err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

// handBackPlan lists what a run owns: its artifacts, plus the working root
// itself when the run created it. Other content of the root is not touched.
func (s *session) handBackPlan(nodes []string, client, rootExisted bool) privilege.Plan {
	plan := privilege.Plan{
		Trees: s.layout.Artifacts(nodes, client, s.mode == provision.Shared),
	}
	if !rootExisted {
		plan.Entries = append(plan.Entries, s.layout.Root)
	}
	return plan
}

func printSummary(w io.Writer, summary *provision.Summary) {
	list := func(items []string) string {
		if len(items) == 0 {
			return "none"
		}
		return strings.Join(items, ", ")
	}
	_, _ = fmt.Fprintf(w, "Run %s (%s)\n", summary.RunID, summary.Mode)
	_, _ = fmt.Fprintf(w, "  Provisioned:        %s\n", list(summary.Provisioned))
	_, _ = fmt.Fprintf(w, "  Already complete:   %s\n", list(summary.Skipped))
	_, _ = fmt.Fprintf(w, "  Truststore entries: %s\n", list(summary.Anchored))
}
