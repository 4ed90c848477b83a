package rollout

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"k8s.io/apimachinery/pkg/util/duration"

	"github.com/raycarroll/shipctl/pkg/models"
)

const nodeNameWidth = 20

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// Tick is what the supervisor observed in one poll iteration.
type Tick struct {
	Number   int
	Target   models.DeploymentTarget
	Elapsed  time.Duration
	Snapshot models.RolloutSnapshot
	Err      error // snapshot query failure, the tick carries no data
}

// Renderer shows live rollout status to the operator.
type Renderer interface {
	Render(tick Tick)
}

// StatusRenderer prints one status block per tick.
type StatusRenderer struct {
	out io.Writer
}

// NewStatusRenderer creates a renderer writing to out.
func NewStatusRenderer(out io.Writer) *StatusRenderer {
	return &StatusRenderer{out: out}
}

// Render implements Renderer.
func (r *StatusRenderer) Render(tick Tick) {
	elapsed := tick.Elapsed.Round(time.Second)
	if tick.Err != nil {
		fmt.Fprintf(r.out, "%s %s %s\n", faint(fmt.Sprintf("[%5s]", elapsed)), bold(tick.Target.String()), yellow("no data this tick: "+tick.Err.Error()))
		return
	}

	snap := tick.Snapshot
	summary := fmt.Sprintf("%d/%d ready", snap.ReadyCount, snap.TotalCount)
	if snap.Converged() {
		summary = green(summary)
	} else {
		summary = yellow(summary)
	}
	fmt.Fprintf(r.out, "%s %s %s\n", faint(fmt.Sprintf("[%5s]", elapsed)), bold(tick.Target.String()), summary)

	if snap.TotalCount == 0 {
		fmt.Fprintf(r.out, "  %s\n", faint("waiting for pods..."))
		return
	}
	for _, o := range snap.Observations {
		fmt.Fprintln(r.out, "  "+FormatObservation(o))
	}
}

// FormatObservation renders one pod status line.
func FormatObservation(o models.PodObservation) string {
	status := string(o.Phase)
	if o.Reason != "" && !o.Ready() {
		status = o.Reason
	}

	restarts := fmt.Sprintf("restarts %d", o.RestartCount)
	if o.RestartCount > 0 {
		restarts = red(restarts)
	}

	age := "-"
	if o.Age > 0 {
		age = duration.HumanDuration(o.Age)
	}

	return fmt.Sprintf("%s %-40s %d/%d  %-18s %s  node %-*s  age %s",
		phaseIcon(o),
		o.Name,
		o.ReadyContainers, o.TotalContainers,
		status,
		restarts,
		nodeNameWidth, truncate(o.NodeName, nodeNameWidth),
		age,
	)
}

func phaseIcon(o models.PodObservation) string {
	switch {
	case o.Ready():
		return green("✓")
	case o.Phase == models.PhaseFailed:
		return red("✗")
	case o.Phase == models.PhaseRunning:
		return yellow("◐")
	case o.Phase == models.PhaseSucceeded:
		return faint("✓")
	case o.Phase == models.PhaseUnknown:
		return yellow("?")
	default:
		return yellow("○")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
