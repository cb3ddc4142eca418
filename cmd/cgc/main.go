package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams/sinkgroup"
	"github.com/ohowland/cgc_nodal/internal/pkg/export"
	"github.com/ohowland/cgc_nodal/internal/pkg/logging"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"github.com/ohowland/cgc_nodal/internal/pkg/scenario"
	"go.uber.org/zap"
)

const (
	exitOK         = 0
	exitUsage      = 1
	exitNotOptimal = 2
)

const usageText = `usage: cgc <command> [flags]

commands:
  solve     solve a scenario and print its nodal prices
  validate  check a scenario without solving it
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return exitUsage
	}
	switch args[0] {
	case "solve":
		return solveCmd(args[1:], stdout, stderr)
	case "validate":
		return validateCmd(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usageText)
		return exitUsage
	}
}

// scenarioFlag falls back to the first positional argument.
func scenarioFlag(fs *flag.FlagSet, path string) string {
	if path == "" && fs.NArg() > 0 {
		return fs.Arg(0)
	}
	return path
}

func validateCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("scenario", "", "scenario file (.yaml, .yml or .json)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	*path = scenarioFlag(fs, *path)
	if *path == "" {
		fmt.Fprintln(stderr, "validate: -scenario is required")
		return exitUsage
	}

	n, err := buildNetwork(*path, nil)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	defer n.Close()
	if err := n.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	fmt.Fprintf(stdout, "%s: ok (%d buses, %d lines, %d timesteps)\n",
		n.Name(), len(n.Buses()), len(n.Lines()), len(n.Timesteps()))
	return exitOK
}

func solveCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("solve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("scenario", "", "scenario file (.yaml, .yml or .json)")
	jsonOut := fs.String("json", "", "write the full result document to this file")
	csvOut := fs.String("csv", "", "write the long-format result ledger to this file")
	configPath := fs.String("config", "", "JSON config file")
	debug := fs.Bool("debug", false, "development logging")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	*path = scenarioFlag(fs, *path)
	if *path == "" {
		fmt.Fprintln(stderr, "solve: -scenario is required")
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	logger, err := logging.New(*debug || cfg.Debug)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	defer logger.Sync()

	logger.Info("[Main] Building Network", zap.String("scenario", *path))
	solver := lp.NewSimplex(
		lp.WithTolerance(cfg.Solver.Tolerance),
		lp.WithTimeout(cfg.Solver.Timeout.Duration),
		lp.WithLogger(logger),
	)
	n, err := buildNetwork(*path, []network.Option{network.WithSolver(solver), network.WithLogger(logger)})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	defer n.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := msg.NewPublisher(uuid.New())
	defer hub.Close()
	logger.Info("[Main] Starting Sinks")
	sinks, err := sinkgroup.Start(ctx, *cfg, hub, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	logger.Info("[Main] Solving")
	status, err := n.Solve(ctx)
	if err != nil {
		sinks.Stop()
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	result := n.Result()
	hub.Forward(msg.New(n.PID(), msg.Result, result))
	sinks.Stop()

	if err := writeFile(*jsonOut, result, export.WriteJSON); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if err := writeFile(*csvOut, result, export.WriteCSV); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	printResult(stdout, result)
	if status != lp.Optimal {
		return exitNotOptimal
	}
	return exitOK
}

func buildNetwork(path string, opts []network.Option) (*network.Network, error) {
	s, err := scenario.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return scenario.Build(s, opts...)
}

func writeFile(path string, r *network.SolveResult, write func(io.Writer, *network.SolveResult) error) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printResult writes the status line and, when optimal, one row of nodal
// prices per bus.
func printResult(w io.Writer, r *network.SolveResult) {
	fmt.Fprintf(w, "network %s: %s", r.Network, r.Status)
	if r.Optimal() {
		fmt.Fprintf(w, ", objective %s", strconv.FormatFloat(r.Objective, 'f', 4, 64))
	} else if r.Message != "" {
		fmt.Fprintf(w, " (%s)", r.Message)
	}
	fmt.Fprintln(w)
	if !r.Optimal() {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "bus\t")
	for _, ts := range r.Timesteps {
		fmt.Fprintf(tw, "%s\t", ts)
	}
	fmt.Fprintln(tw)

	buses := make([]string, 0, len(r.Buses))
	for name := range r.Buses {
		buses = append(buses, name)
	}
	sort.Strings(buses)
	for _, name := range buses {
		fmt.Fprintf(tw, "%s\t", name)
		for _, p := range r.Buses[name].NodalPrices {
			fmt.Fprintf(tw, "%s\t", strconv.FormatFloat(p, 'f', 4, 64))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}
