// invokesim drives the invocation runtime against synthetic flaky tools.
//
// It wires the full stack (registry, breaker, runner, fallback chain,
// emitter, metrics, store) around tools that fail at a configurable rate,
// then reports what the resilience machinery did about it.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/relaykit/invoke-go/invoke"
	"github.com/relaykit/invoke-go/invoke/emit"
	"github.com/relaykit/invoke-go/invoke/store"
	"github.com/relaykit/invoke-go/invoke/tool"
)

var version = "0.2.0"

var rootCmd = &cobra.Command{
	Use:   "invokesim",
	Short: "Failure-injection harness for the invoke runtime",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of simulated invocations and report the outcome",
	RunE:  runSimulation,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the invokesim version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("invokesim %s\n", version)
	},
}

var (
	flagCalls       int
	flagFailureRate float64
	flagLatency     time.Duration
	flagTimeout     time.Duration
	flagRetries     int
	flagInterval    time.Duration
	flagThreshold   int
	flagReset       time.Duration
	flagFallback    bool
	flagJSON        bool
	flagSeed        int64
	flagMetricsAddr string
)

func init() {
	runCmd.Flags().IntVar(&flagCalls, "calls", 20, "number of invocations to run")
	runCmd.Flags().Float64Var(&flagFailureRate, "failure-rate", 0.3, "probability in [0,1] that an attempt fails")
	runCmd.Flags().DurationVar(&flagLatency, "latency", 50*time.Millisecond, "simulated per-attempt latency")
	runCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "per-call deadline override (0 keeps the descriptor's)")
	runCmd.Flags().IntVar(&flagRetries, "retries", 2, "retry budget per invocation")
	runCmd.Flags().DurationVar(&flagInterval, "interval", 0, "pause between invocations")
	runCmd.Flags().IntVar(&flagThreshold, "threshold", 3, "breaker failure threshold")
	runCmd.Flags().DurationVar(&flagReset, "reset", 5*time.Second, "breaker reset timeout")
	runCmd.Flags().BoolVar(&flagFallback, "fallback", true, "give the primary tool a fallback")
	runCmd.Flags().BoolVar(&flagJSON, "json", false, "emit events as JSON lines")
	runCmd.Flags().Int64Var(&flagSeed, "seed", 0, "random seed (0 seeds from the clock)")
	runCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9190)")

	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSimulation(cmd *cobra.Command, args []string) error {
	if flagFailureRate < 0 || flagFailureRate > 1 {
		return fmt.Errorf("failure-rate %v outside [0,1]", flagFailureRate)
	}
	seed := flagSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var emitter emit.Emitter = emit.NewLogEmitter(os.Stderr, flagJSON)

	promReg := prometheus.NewRegistry()
	metrics := invoke.NewPrometheusMetrics(promReg)

	breakerCfg := invoke.BreakerConfig{
		FailureThreshold: flagThreshold,
		ResetTimeout:     flagReset,
		OnStateChange: func(target string, from, to invoke.BreakerState) {
			metrics.IncrementBreakerTransitions(target, to)
			emitter.Emit(emit.Event{
				CorrelationID: "invokesim",
				Target:        target,
				Msg:           "breaker_state",
				Meta:          map[string]interface{}{"from": from.String(), "to": to.String()},
			})
		},
	}
	breaker := invoke.NewCircuitBreaker(breakerCfg)

	rng := rand.New(rand.NewSource(seed))
	var rngMu sync.Mutex

	reg := tool.NewRegistry()
	fallbackName := ""
	if flagFallback {
		fallbackName = "backup.api"
		// The backup misbehaves half as often as the primary.
		if err := reg.Register(flakyTool("backup.api", flagFailureRate/2, flagLatency, rng, &rngMu, "")); err != nil {
			return err
		}
	}
	if err := reg.Register(flakyTool("primary.api", flagFailureRate, flagLatency, rng, &rngMu, fallbackName)); err != nil {
		return err
	}

	st := store.NewMemStore()
	defer st.Close()

	runner, err := invoke.NewRunner(breaker,
		invoke.WithRegistry(reg),
		invoke.WithEmitter(emitter),
		invoke.WithMetrics(metrics),
		invoke.WithStore(st),
		invoke.WithBackoff([]time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 700 * time.Millisecond}),
	)
	if err != nil {
		return err
	}

	if flagMetricsAddr != "" {
		go serveMetrics(flagMetricsAddr, promReg)
		fmt.Printf("metrics: http://%s/metrics\n", flagMetricsAddr)
	}

	fmt.Printf("invokesim %s: %d calls, failure rate %.0f%%, seed %d\n\n",
		version, flagCalls, flagFailureRate*100, seed)

	callOpts := []invoke.CallOption{invoke.WithCallRetries(flagRetries)}
	if flagTimeout > 0 {
		callOpts = append(callOpts, invoke.WithCallTimeout(flagTimeout))
	}

	var (
		successes int
		rescued   int
		retries   int
		byKind    = map[tool.ErrorKind]int{}
	)
	start := time.Now()
	for i := 0; i < flagCalls; i++ {
		if ctx.Err() != nil {
			fmt.Println("\ninterrupted")
			break
		}
		outcome := runner.RunByNameWithFallbacks(ctx, "primary.api",
			map[string]interface{}{"call": i}, invoke.NewExecutionContext(), callOpts...)

		retries += outcome.Retries
		if outcome.Success {
			successes++
			if outcome.FallbackUsed {
				rescued++
			}
		} else {
			byKind[outcome.ErrorKind]++
		}

		if flagInterval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(flagInterval):
			}
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("\n=== results (%v) ===\n", elapsed.Round(time.Millisecond))
	fmt.Printf("successes:        %d\n", successes)
	fmt.Printf("  via fallback:   %d\n", rescued)
	fmt.Printf("failures:         %d\n", flagCalls-successes)
	for kind, n := range byKind {
		fmt.Printf("  %-15s %d\n", string(kind)+":", n)
	}
	fmt.Printf("retries taken:    %d\n", retries)
	fmt.Printf("records stored:   %d\n", st.Len())

	fmt.Println("\n=== breaker snapshot ===")
	printSnapshot(breaker)
	return nil
}

// flakyTool builds a tool that fails at the given rate with a mix of error
// kinds.
func flakyTool(name string, rate float64, latency time.Duration, rng *rand.Rand, mu *sync.Mutex, fallback string) tool.Tool {
	opts := []tool.DescriptorOption{
		tool.WithDescription("simulated flaky endpoint"),
	}
	if fallback != "" {
		opts = append(opts, tool.WithFallback(fallback))
	}
	desc := tool.NewDescriptor(name, opts...)

	return tool.New(desc, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		if latency > 0 {
			timer := time.NewTimer(latency)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		mu.Lock()
		roll := rng.Float64()
		kindRoll := rng.Float64()
		mu.Unlock()

		if roll < rate {
			switch {
			case kindRoll < 0.70:
				return nil, tool.Errorf(tool.KindNetwork, "simulated connection reset")
			case kindRoll < 0.85:
				return nil, tool.Errorf(tool.KindAuth, "simulated credential rejection")
			default:
				return nil, tool.Errorf(tool.KindParse, "simulated malformed payload")
			}
		}
		return map[string]interface{}{"ok": true, "tool": name}, nil
	})
}

func printSnapshot(breaker *invoke.CircuitBreaker) {
	snaps := breaker.Snapshot()
	if len(snaps) == 0 {
		fmt.Println("(no targets seen)")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATE\tFAILURES\tSUCCESSES\tOPENED")
	for _, snap := range snaps {
		opened := "-"
		if !snap.OpenedAt.IsZero() {
			opened = snap.OpenedAt.Format(time.TimeOnly)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", snap.Target, snap.StateName, snap.Failures, snap.Successes, opened)
	}
	w.Flush()
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
	}
}
