package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/nodeforge/pkg/audit"
	"github.com/cuemby/nodeforge/pkg/consumer"
	"github.com/cuemby/nodeforge/pkg/engine"
	"github.com/cuemby/nodeforge/pkg/hostapi"
	"github.com/cuemby/nodeforge/pkg/limiter"
	"github.com/cuemby/nodeforge/pkg/log"
	"github.com/cuemby/nodeforge/pkg/nodes"
	"github.com/cuemby/nodeforge/pkg/policy"
	"github.com/cuemby/nodeforge/pkg/queue"
	"github.com/cuemby/nodeforge/pkg/registry"
	"github.com/cuemby/nodeforge/pkg/sandbox"
	"github.com/cuemby/nodeforge/pkg/sandbox/inprocess"
	"github.com/cuemby/nodeforge/pkg/sandbox/microvm"
	"github.com/cuemby/nodeforge/pkg/sandbox/process"
	"github.com/cuemby/nodeforge/pkg/sandbox/wasm"
	"github.com/cuemby/nodeforge/pkg/telemetry"
	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "noderunner",
	Short:   "Node Runner - sandboxed workflow-step execution worker",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("noderunner version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node runner: consume execution requests until stopped",
	RunE:  runRunner,
}

func init() {
	runCmd.Flags().Int("runner-concurrency", envInt("RUNNER_CONCURRENCY", 10), "Maximum concurrent executions")
	runCmd.Flags().String("isolation-default", envString("ISOLATION_DEFAULT", string(types.IsolationInProcess)), "Default isolation level when a request does not specify one")
	runCmd.Flags().String("allowed-egress", envString("ALLOWED_EGRESS", ""), "Comma-separated domain suffix allow-list applied when a request carries no network policy of its own")
	runCmd.Flags().String("policy-file", envString("NETWORK_POLICY_FILE", ""), "Path to a YAML NetworkPolicyDoc used as the runner-wide default network policy")
	runCmd.Flags().Bool("enable-microvm", envBool("ENABLE_MICROVM", false), "Enable the micro-VM isolation backend")
	runCmd.Flags().Int("sandbox-uid", envInt("SANDBOX_UID", 0), "UID the process/micro-VM backends run node code as")
	runCmd.Flags().Int("sandbox-gid", envInt("SANDBOX_GID", 0), "GID the process/micro-VM backends run node code as")
	runCmd.Flags().Int("max-retries", envInt("MAX_RETRIES", 3), "Maximum delivery attempts before a retryable failure is dead-lettered")
	runCmd.Flags().Int("drain-deadline-ms", envInt("DRAIN_DEADLINE_MS", 30_000), "How long to wait for in-flight executions to finish on shutdown")
	runCmd.Flags().String("queue-url", envString("QUEUE_URL", ""), "Broker URL for the execution request queue (unset uses the in-memory queue)")
	runCmd.Flags().String("data-dir", envString("DATA_DIR", "./noderunner-data"), "Data directory for the embedded containerd instance")
	runCmd.Flags().Bool("external-containerd", envBool("EXTERNAL_CONTAINERD", false), "Use an external containerd daemon instead of the embedded one")
	runCmd.Flags().String("metrics-addr", envString("METRICS_ADDR", "127.0.0.1:9090"), "Address the Prometheus /metrics, /healthz, /readyz, /livez endpoints listen on")
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(name string, def bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func runRunner(cmd *cobra.Command, args []string) error {
	concurrency, _ := cmd.Flags().GetInt("runner-concurrency")
	isolationDefault, _ := cmd.Flags().GetString("isolation-default")
	allowedEgress, _ := cmd.Flags().GetString("allowed-egress")
	policyFile, _ := cmd.Flags().GetString("policy-file")
	enableMicroVM, _ := cmd.Flags().GetBool("enable-microvm")
	sandboxUID, _ := cmd.Flags().GetInt("sandbox-uid")
	sandboxGID, _ := cmd.Flags().GetInt("sandbox-gid")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")
	drainDeadlineMS, _ := cmd.Flags().GetInt("drain-deadline-ms")
	queueURL, _ := cmd.Flags().GetString("queue-url")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	useExternal, _ := cmd.Flags().GetBool("external-containerd")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	fmt.Println("Starting Node Runner...")
	fmt.Printf("  Runner concurrency: %d\n", concurrency)
	fmt.Printf("  Default isolation: %s\n", isolationDefault)
	fmt.Printf("  Micro-VM enabled: %v\n", enableMicroVM)
	fmt.Printf("  Sandbox UID/GID: %d/%d\n", sandboxUID, sandboxGID)
	fmt.Println()

	sink := telemetry.NewSink()
	health := telemetry.NewHealthChecker("sandbox", "queue")

	reg := registry.New()
	nodes.Register(reg)

	lim := limiter.New(limiter.DefaultConfig())

	auditor := audit.New(audit.DefaultConfig())
	auditor.OnViolation = sink.OnAuditViolation

	defaultPolicyDoc := types.NetworkPolicyDoc{}
	if policyFile != "" {
		doc, err := policy.LoadDocFromFile(policyFile)
		if err != nil {
			return fmt.Errorf("load network policy file: %w", err)
		}
		defaultPolicyDoc = doc
		fmt.Printf("Loaded default network policy from %s\n", policyFile)
	}
	if allowedEgress != "" {
		for _, d := range strings.Split(allowedEgress, ",") {
			if d = strings.TrimSpace(d); d != "" {
				defaultPolicyDoc.AllowedDomains = append(defaultPolicyDoc.AllowedDomains, d)
			}
		}
	}

	newHost := func(req types.ExecutionRequest) hostapiHost {
		var pol *policy.Policy
		if req.SecurityContext != nil && req.SecurityContext.NetworkPolicy != nil {
			pol = policy.Compile(*req.SecurityContext.NetworkPolicy)
		} else {
			pol = policy.Compile(defaultPolicyDoc)
		}
		return hostapi.New(req.ExecutionID, req.TenantID, pol, auditor, nil)
	}

	backends := sandbox.Set{Backends: map[types.IsolationLevel]sandbox.Backend{}}
	backends.Backends[types.IsolationInProcess] = inprocess.New(func(req types.ExecutionRequest) inprocess.Host { return newHost(req) })
	backends.Backends[types.IsolationWasm] = wasm.New(func(req types.ExecutionRequest) wasm.Host { return newHost(req) })

	ctx := context.Background()
	daemon, err := process.Bootstrap(ctx, dataDir, useExternal)
	if err != nil {
		health.SetComponent("sandbox", false, err.Error())
		fmt.Printf("warning: containerd unavailable, process/micro-VM isolation disabled: %v\n", err)
	} else {
		defer daemon.Stop()
		socketPath := daemon.SocketPath()
		if runtime.GOOS == "darwin" {
			fmt.Printf("Lima VM started with containerd (socket: %s)\n", socketPath)
		} else {
			fmt.Printf("Containerd started (socket: %s)\n", socketPath)
		}

		procBackend, err := process.New(socketPath)
		if err != nil {
			health.SetComponent("sandbox", false, err.Error())
			fmt.Printf("warning: process isolation backend unavailable: %v\n", err)
		} else {
			backends.Backends[types.IsolationProcess] = procBackend
			health.SetComponent("sandbox", true, "")
		}

		if enableMicroVM && microvm.Available() {
			backends.Backends[types.IsolationMicroVM] = microvm.New(microvm.DefaultConfig())
			backends.MicroVMEnabled = true
		}
	}

	eng := engine.New(reg, lim, backends, sink, engine.Defaults{
		IsolationLevel: types.IsolationLevel(isolationDefault),
		SandboxUID:     sandboxUID,
		SandboxGID:     sandboxGID,
	})

	var q queue.Queue
	if queueURL == "" {
		fmt.Println("QUEUE_URL not set; using the in-memory queue (no cross-process delivery)")
		q = queue.NewInMemory()
	} else {
		// No AMQP/Kafka/NATS client is wired into this build; queueURL is
		// accepted so a future broker adapter satisfying queue.Queue can be
		// selected here without changing pkg/consumer.
		fmt.Printf("warning: queue_url=%s set but no broker adapter is wired; falling back to the in-memory queue\n", queueURL)
		q = queue.NewInMemory()
	}
	health.SetComponent("queue", true, "")

	cons := consumer.New(q, eng, consumer.Config{
		Concurrency:  concurrency,
		MaxRetries:   maxRetries,
		DrainTimeout: time.Duration(drainDeadlineMS) * time.Millisecond,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", sink.Handler())
	mux.HandleFunc("/healthz", health.HealthHandler())
	mux.HandleFunc("/readyz", health.ReadyHandler())
	mux.HandleFunc("/livez", health.LivenessHandler())
	httpSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("telemetry server error: %v\n", err)
		}
	}()
	fmt.Printf("Telemetry listening on http://%s (/metrics, /healthz, /readyz, /livez)\n", metricsAddr)

	go activeSessionsLoop(eng, sink)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	go func() {
		if err := cons.Run(consumerCtx); err != nil {
			fmt.Printf("consumer stopped: %v\n", err)
		}
	}()

	fmt.Println()
	fmt.Println("Node Runner is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	cancelConsumer()
	cons.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	fmt.Println("Shutdown complete")
	return nil
}

// activeSessionsLoop refreshes the active-session gauge every second until
// the process exits; there is no stop channel because it shares the
// process's lifetime exactly, like a background heartbeat loop.
func activeSessionsLoop(eng *engine.Engine, sink *telemetry.Sink) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		sink.SetActiveSessions(len(eng.ActiveSessions()))
	}
}

// hostapiHost is the narrow interface both inprocess.Host and wasm.Host
// reduce to (registry.HostAPI); naming it here lets newHost build one
// *hostapi.PolicyHost and hand it to either backend's factory.
type hostapiHost = registry.HostAPI
