//go:build profiling

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/felixge/fgprof"
	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/conncall"
	"github.com/meigma/conncall/internal/script"
)

type profileKind string

const (
	profileCPU   profileKind = "cpu"
	profileFG    profileKind = "fgprof"
	profileTrace profileKind = "trace"
	profileNone  profileKind = "none"
)

func main() {
	var (
		conns        = flag.Int("connections", 2000, "connections per iteration")
		workers      = flag.Int("workers", runtime.GOMAXPROCS(0), "delivery lanes")
		send         = flag.Int64("send", 64<<10, "bytes sent per connection")
		receive      = flag.Int64("receive", 256<<10, "bytes received per connection")
		chunk        = flag.Int("chunk", 4096, "read size used by the scripted driver")
		handlerDelay = flag.Duration("handler-delay", 0, "time spent in each progress handler")
		cancelRatio  = flag.Float64("cancel-ratio", 0, "fraction of connections cancelled mid-flight")
		profile      = flag.String("profile", "cpu", "profile type: cpu, fgprof, trace, none")
		outDir       = flag.String("out", "profiles", "output directory for profiles")
		label        = flag.String("label", "", "label suffix for profile files")
		repeat       = flag.Int("repeat", 1, "number of iterations")
		logLevel     = flag.String("log-level", "", "log level: debug, info, warn, error")
		timeout      = flag.Duration("timeout", 15*time.Minute, "overall timeout")
		pyroAddr     = flag.String("pyroscope", "", "Pyroscope server URL (enables streaming, disables local profiles)")
	)
	flag.Parse()

	runID := time.Now().UTC().Format("20060102T150405Z")
	labelValue := *label
	if labelValue == "" {
		labelValue = runID
	}
	labelValue = sanitizeLabel(labelValue)

	kind := profileKind(strings.ToLower(*profile))
	if !isValidProfile(kind) {
		log.Fatalf("invalid profile %q (expected cpu, fgprof, trace, none)", *profile)
	}

	// When Pyroscope is enabled, stream profiles instead of writing locally
	var pyroProfiler *pyroscope.Profiler
	if *pyroAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "conncall-profile",
			ServerAddress:   *pyroAddr,
			// Grafana Cloud requires BasicAuth (AuthToken is deprecated)
			BasicAuthUser:     os.Getenv("PYROSCOPE_BASIC_AUTH_USER"),
			BasicAuthPassword: os.Getenv("PYROSCOPE_BASIC_AUTH_PASSWORD"),
			UploadRate:        5 * time.Second,
			Logger:            pyroscope.StandardLogger,
			Tags: map[string]string{
				"workers": fmt.Sprint(*workers),
				"git_sha": os.Getenv("GITHUB_SHA"),
				"run_id":  runID,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("start pyroscope: %v", err)
		}
		pyroProfiler = profiler
		log.Printf("streaming profiles to %s", *pyroAddr)
	}

	opts := []conncall.ClientOption{
		conncall.WithDeliveryWorkers(*workers),
		conncall.WithTimeout(0),
	}
	if *logLevel != "" {
		level, err := parseLogLevel(*logLevel)
		if err != nil {
			log.Fatalf("invalid log level: %v", err)
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		opts = append(opts, conncall.WithLogger(logger))
	}
	reg := prometheus.NewRegistry()
	opts = append(opts, conncall.WithMetrics(reg))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	workload := &script.Script{
		Name:   "profile",
		Method: "POST",
		URL:    "https://baas.example.com/blob/kid_profile/payload",
		Chunk:  *chunk,
		Steps: []script.Step{
			{Send: *send},
			{Receive: *receive},
			{Complete: &script.Completion{Status: 201}},
		},
	}
	if err := workload.Validate(); err != nil {
		log.Fatalf("workload: %v", err)
	}

	var stopProfile func() error
	if pyroProfiler == nil {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			log.Fatalf("create profile dir: %v", err)
		}
		var err error
		stopProfile, err = startProfile(kind, *outDir, labelValue)
		if err != nil {
			log.Fatalf("start profile: %v", err)
		}
	}

	for i := 0; i < *repeat; i++ {
		client, err := conncall.NewClient(opts...)
		if err != nil {
			log.Fatalf("create client: %v", err)
		}
		start := time.Now()
		res, err := runIteration(ctx, client, workload, *conns, *handlerDelay, *cancelRatio)
		if err != nil {
			log.Fatalf("iteration %d: %v", i+1, err)
		}
		if err := client.Close(); err != nil {
			log.Fatalf("close client: %v", err)
		}
		log.Printf("iteration %d: %d completed, %d failed, %d progress notifications in %s",
			i+1, res.completed, res.failed, res.progress, time.Since(start))
	}

	// Stop profiling - either Pyroscope or local
	if pyroProfiler != nil {
		if err := pyroProfiler.Stop(); err != nil {
			log.Fatalf("stop pyroscope: %v", err)
		}
		log.Printf("pyroscope profiling stopped")
	} else {
		if stopErr := stopProfile(); stopErr != nil {
			log.Fatalf("stop profile: %v", stopErr)
		}
		if err := writeHeapProfile(*outDir, labelValue); err != nil {
			log.Fatalf("write heap profile: %v", err)
		}
		if err := writeAllocsProfile(*outDir, labelValue); err != nil {
			log.Fatalf("write allocs profile: %v", err)
		}
	}
}

type iterationResult struct {
	completed int64
	failed    int64
	progress  int64
}

// runIteration starts n connections at once and waits for all of them.
func runIteration(ctx context.Context, client *conncall.Client, workload *script.Script, n int, handlerDelay time.Duration, cancelRatio float64) (iterationResult, error) {
	var completed, failed, progress atomic.Int64
	handlers := conncall.Handlers{
		Progress: func(*conncall.Connection) {
			progress.Add(1)
			if handlerDelay > 0 {
				time.Sleep(handlerDelay)
			}
		},
		Completion: func(*conncall.Response) { completed.Add(1) },
		Failure:    func(error) { failed.Add(1) },
	}

	started := make([]*conncall.Connection, 0, n)
	for range n {
		conn, err := client.Start(ctx, workload.Request(), workload.Driver(), handlers)
		if err != nil {
			return iterationResult{}, err
		}
		started = append(started, conn)
		if rand.Float64() < cancelRatio {
			go conn.Cancel()
		}
	}
	for _, conn := range started {
		select {
		case <-conn.Done():
		case <-ctx.Done():
			return iterationResult{}, ctx.Err()
		}
	}

	if completed.Load()+failed.Load() != int64(n) {
		return iterationResult{}, errors.New("terminal notification count mismatch")
	}
	return iterationResult{completed: completed.Load(), failed: failed.Load(), progress: progress.Load()}, nil
}

func isValidProfile(kind profileKind) bool {
	switch kind {
	case profileCPU, profileFG, profileTrace, profileNone:
		return true
	default:
		return false
	}
}

func startProfile(kind profileKind, outDir, label string) (func() error, error) {
	switch kind {
	case profileCPU:
		f, err := os.Create(filepath.Join(outDir, "cpu_"+label+".pprof"))
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		return func() error {
			pprof.StopCPUProfile()
			return f.Close()
		}, nil
	case profileFG:
		f, err := os.Create(filepath.Join(outDir, "fgprof_"+label+".pprof"))
		if err != nil {
			return nil, err
		}
		stop := fgprof.Start(f, fgprof.FormatPprof)
		return func() error {
			return errors.Join(stop(), f.Close())
		}, nil
	case profileTrace:
		f, err := os.Create(filepath.Join(outDir, "trace_"+label+".out"))
		if err != nil {
			return nil, err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		return func() error {
			trace.Stop()
			return f.Close()
		}, nil
	case profileNone:
		return func() error { return nil }, nil
	default:
		return nil, fmt.Errorf("unknown profile type: %s", kind)
	}
}

func writeHeapProfile(outDir, label string) error {
	f, err := os.Create(filepath.Join(outDir, "heap_"+label+".pprof"))
	if err != nil {
		return err
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

func writeAllocsProfile(outDir, label string) error {
	f, err := os.Create(filepath.Join(outDir, "allocs_"+label+".pprof"))
	if err != nil {
		return err
	}
	defer f.Close()
	return pprof.Lookup("allocs").WriteTo(f, 0)
}

func sanitizeLabel(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, value)
}

func parseLogLevel(value string) (slog.Leveler, error) {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, fmt.Errorf("unknown level %q", value)
	}
}
