package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"

	"stackctl/internal/errdefs"
	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"
	"stackctl/internal/runlog"
	"stackctl/internal/shutdown"
	"stackctl/pkg/logging"
)

// clipboardWrite is mocked in tests.
var clipboardWrite = clipboard.WriteAll

// StartOptions are the flags of the start command.
type StartOptions struct {
	ForceInit bool
	NoLogs    bool
	CopyURL   bool
}

// Start brings the stack up and streams its logs unless NoLogs is set.
func (a *Application) Start(ctx context.Context, opts StartOptions) error {
	svc, err := InitializeServices(a.config, runlog.Startup)
	if err != nil {
		return err
	}
	defer svc.Close()

	release := svc.Coordinator.Install()
	defer release()

	svc.Reporter.Banner("Starting " + a.config.Stack.Project)
	res, err := svc.Orchestrator.Start(ctx, orchestrator.StartOptions{ForceInit: opts.ForceInit, NoLogs: opts.NoLogs})
	if err != nil {
		printFailure(a.config.Out, err)
		return err
	}

	if len(res.PublicURLs) > 0 {
		svc.Reporter.Println("Public URLs:")
		for _, u := range res.PublicURLs {
			svc.Reporter.Println("  %s", u)
		}
		if opts.CopyURL {
			copyURL(svc.Reporter, res.PublicURLs[0])
		}
	}

	if res.Interrupted {
		svc.Reporter.Println("")
		svc.Reporter.Println("Stopped following logs. Services keep running; logs are in %s", svc.Orchestrator.LogDir())
		svc.Reporter.Println("Run 'stackctl stop' to shut the deployment down.")
	} else if opts.NoLogs {
		svc.Reporter.Println("Logs are in %s; follow them with 'stackctl logs'.", svc.Orchestrator.LogDir())
	}
	return nil
}

// Stop tears the deployment down.
func (a *Application) Stop(ctx context.Context, volumes bool) error {
	svc, err := InitializeServices(a.config, runlog.Shutdown)
	if err != nil {
		return err
	}
	defer svc.Close()

	svc.Reporter.Banner("Stopping " + a.config.Stack.Project)
	report, err := svc.Orchestrator.Stop(ctx, orchestrator.StopOptions{Volumes: volumes})
	return reportTeardown(svc.Reporter, report, err)
}

// reportTeardown prints the outcome of a stop. Ports left bound by other
// programs are a warning; the deployment itself is gone.
func reportTeardown(r *reporting.ConsoleReporter, report shutdown.TeardownReport, err error) error {
	if report.Forced {
		r.Println("Graceful stop left ports bound; processes and containers were force-removed.")
	}
	var incomplete *errdefs.TeardownIncomplete
	if errors.As(err, &incomplete) {
		r.Println("Check what holds the ports with 'lsof -i :%d'.", incomplete.Ports[0])
		return nil
	}
	return err
}

// Status prints the containers, tracked processes and public hostnames.
func (a *Application) Status(ctx context.Context) error {
	svc, err := InitializeServices(a.config, "")
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Orchestrator.Status(ctx)
	if err != nil {
		return err
	}
	renderStatus(a.config.Out, a.config.Stack.Project, st)
	return nil
}

// Logs re-attaches the log view of a running deployment.
func (a *Application) Logs(ctx context.Context, tail int) error {
	svc, err := InitializeServices(a.config, "")
	if err != nil {
		return err
	}
	defer svc.Close()

	release := svc.Coordinator.Install()
	defer release()

	if err := svc.Orchestrator.Logs(ctx, tail); err != nil {
		return err
	}
	svc.Reporter.Println("")
	svc.Reporter.Println("Stopped following logs; they remain in %s", svc.Orchestrator.LogDir())
	return nil
}

// Capture is the body of the detached log follower.
func (a *Application) Capture(ctx context.Context, path string) error {
	svc, err := InitializeServices(a.config, "")
	if err != nil {
		return err
	}
	defer svc.Close()
	return svc.Orchestrator.Capture(ctx, path)
}

func copyURL(r *reporting.ConsoleReporter, url string) {
	if err := clipboardWrite(url); err != nil {
		logging.Warn("CLI", "Could not copy URL to clipboard: %v", err)
		r.Report(reporting.Update{Subject: "clipboard", State: reporting.StateWarning, Message: "copy failed", Err: err})
		return
	}
	r.Report(reporting.Update{Subject: "clipboard", State: reporting.StateReady, Message: "copied " + url})
}

// printFailure shows the failing phase, the cause and any service log tail.
func printFailure(w io.Writer, err error) {
	phase, cause := "startup", err
	var pe *errdefs.PhaseError
	if errors.As(err, &pe) {
		phase, cause = string(pe.Phase), pe.Err
	}
	fmt.Fprintf(w, "\nStartup failed during %s: %v\n", phase, cause)

	var timeout *errdefs.ReadinessTimeout
	if errors.As(err, &timeout) && timeout.LogTail != "" {
		fmt.Fprintf(w, "\nRecent output of %s:\n", timeout.Service)
		for _, line := range strings.Split(timeout.LogTail, "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if errdefs.RequiresRollback(err) {
		fmt.Fprintln(w, "\nStarted services and processes were rolled back.")
	}
}

func renderStatus(w io.Writer, project string, st orchestrator.Status) {
	services := reporting.Table{
		Title:   "Services of " + project,
		Headers: []string{"SERVICE", "STATE", "STATUS", "PORTS", "CONTAINER"},
	}
	for _, s := range st.Services {
		services.Rows = append(services.Rows, []string{s.Service, s.State, s.Status, strings.Join(s.Ports, ", "), s.ContainerID})
	}
	if len(services.Rows) == 0 {
		services.Rows = append(services.Rows, []string{"-", "not running"})
	}
	services.Render(w)
	fmt.Fprintln(w)

	procs := reporting.Table{Title: "Background processes", Headers: []string{"LABEL", "PID", "ALIVE"}}
	sort.Slice(st.Processes, func(i, j int) bool { return st.Processes[i].Label < st.Processes[j].Label })
	for _, p := range st.Processes {
		alive := "no"
		if p.Alive {
			alive = "yes"
		}
		procs.Rows = append(procs.Rows, []string{p.Label, strconv.Itoa(p.PID), alive})
	}
	if len(procs.Rows) == 0 {
		procs.Rows = append(procs.Rows, []string{"-", "-", "no"})
	}
	procs.Render(w)

	if len(st.Hostnames) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Public hostnames: "+strings.Join(st.Hostnames, ", "))
	}
	fmt.Fprintln(w, "Logs: "+st.LogDir)
}
