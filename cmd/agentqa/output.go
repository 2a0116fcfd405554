package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/benchmark"
)

var (
	headerColor  = color.New(color.Bold)
	goodColor    = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	badColor     = color.New(color.FgRed)
	subtleColor  = color.New(color.Faint)
	runningColor = color.New(color.FgCyan)
)

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// scoreColor colors a 0-100 score: green from 80, yellow from 60.
func scoreColor(score float64) *color.Color {
	switch {
	case score >= 80:
		return goodColor
	case score >= 60:
		return warnColor
	default:
		return badColor
	}
}

func formatScore(score float64) string {
	return scoreColor(score).Sprintf("%.1f", score)
}

func stateColor(s benchmark.State) *color.Color {
	switch s {
	case benchmark.StateCompleted:
		return goodColor
	case benchmark.StateFailed:
		return badColor
	case benchmark.StateRunning:
		return runningColor
	default:
		return subtleColor
	}
}

func printResponse(w io.Writer, resp *agentqa.AgentResponse) {
	headerColor.Fprintf(w, "%s (%s, %s)\n", resp.AgentType, resp.Mode, resp.Model)
	fmt.Fprintln(w, resp.ResponseText)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "confidence: %s", formatScore(resp.Confidence))
	if resp.RequiresHumanVerification {
		badColor.Fprint(w, "  needs human verification")
	}
	fmt.Fprintln(w)
	if len(resp.Sources) > 0 {
		fmt.Fprintf(w, "sources:    %s\n", strings.Join(resp.Sources, ", "))
	}
	usage := resp.PerformanceMetrics.TokenUsage
	subtleColor.Fprintf(w, "%dms, %d in / %d out tokens\n",
		resp.PerformanceMetrics.ResponseTimeMs, usage.InputTokens, usage.OutputTokens)
}

func printProgressLine(w io.Writer, p benchmark.Progress) {
	fmt.Fprintf(w, "%s %s %d/%d (%.0f%%)",
		p.RunID[:min(8, len(p.RunID))], stateColor(p.State).Sprint(p.State), p.Completed, p.Total, p.Percent)
	if p.Failed > 0 {
		badColor.Fprintf(w, " %d failed", p.Failed)
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, p benchmark.Progress) {
	headerColor.Fprintf(w, "\nRun %s: %s\n", p.RunID, stateColor(p.State).Sprint(p.State))
	if p.Cancelled {
		warnColor.Fprintln(w, "cancelled before all questions ran")
	}
	if p.Error != "" {
		badColor.Fprintln(w, p.Error)
	}
	for _, warning := range p.Warnings {
		warnColor.Fprintf(w, "warning: %s\n", warning)
	}
	if p.Summary == nil {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tOK\tGRADE\tCONFIDENCE\tMEAN MS\tP95 MS\tTOKENS IN/OUT\tCOST")
	for _, m := range p.Summary.Models {
		fmt.Fprintf(tw, "%s\t%d/%d\t%.1f\t%.1f\t%.0f\t%.0f\t%d/%d\t$%.4f\n",
			m.Model, m.Successful, m.Total, m.MeanGrade, m.MeanConfidence,
			m.MeanLatencyMs, m.P95LatencyMs, m.InputTokens, m.OutputTokens, m.TotalCost)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "overall grade %s, total cost $%.4f\n", formatScore(p.Summary.MeanGrade), p.Summary.TotalCost)
}

func printVerification(w io.Writer, v *agentqa.VerificationResult) {
	if v.ConsensusReached {
		goodColor.Fprintln(w, "consensus reached")
	} else {
		badColor.Fprintln(w, "no consensus")
	}
	fmt.Fprintf(w, "%s checked by %s: final confidence %s (verifier %.0f)\n",
		v.PrimaryAgent, v.VerifyingAgent, formatScore(v.FinalConfidence), v.VerifierConfidence)
	for _, d := range v.Discrepancies {
		fmt.Fprintf(w, "  - %s\n", d)
	}
	fmt.Fprintf(w, "recommendation: %s\n", v.Recommendation)
}

func printCoverage(w io.Writer, c *agentqa.CoverageAnalysis) {
	headerColor.Fprintf(w, "%s coverage %s (confidence %.0f, %s)\n",
		c.AgentType, formatScore(c.Coverage), c.Confidence, c.Source)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range slices.Sorted(maps.Keys(c.FunctionalityMap)) {
		fmt.Fprintf(tw, "  %s\t%s\n", name, formatScore(c.FunctionalityMap[name]))
	}
	_ = tw.Flush()
	printList(w, "gaps", c.Gaps)
	printList(w, "strengths", c.Strengths)
	printList(w, "recommendations", c.Recommendations)
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

func printModes(w io.Writer, agentType string, modes []agentqa.ModeConfig) {
	headerColor.Fprintln(w, agentType)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  MODE\tMODEL\tTEMP\tMAX TOKENS\tRETRIEVAL\tKB\tACTIVE")
	for _, m := range modes {
		active := goodColor.Sprint("yes")
		if !m.Active {
			active = subtleColor.Sprint("no")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%.2f\t%d\t%t\t%t\t%s\n",
			m.Mode, m.ModelID, m.Temperature, m.MaxTokens, m.RetrievalEnabled, m.KnowledgeBaseEnabled, active)
	}
	_ = tw.Flush()
}
