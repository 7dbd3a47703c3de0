// Package profilers installs profiling flags on the programs that link it:
//
//   - -prof=<port>: serves net/http/pprof on localhost:<port>, and keeps the program alive at the end
//     until interrupted, so the profiles can be read.
//   - -cpu_profile=<file>: writes a CPU profile of the whole run.
//   - -mem_profile=<file>: writes a heap profile at the end of the run.
//
// Typically used to profile graph compilation and inference of the detector.
package profilers

import (
	"context"
	"flag"
	"fmt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
)

var (
	flagProfiler   = flag.Int("prof", -1, "If set, serves the profiler at the given port.")
	flagCPUProfile = flag.String("cpu_profile", "", "write cpu profile to `file`")
	flagMemProfile = flag.String("mem_profile", "", "write heap profile to `file` at the end of the program")

	profilerAddr string
	cpuFile      *os.File

	// globalCtx is set on the call to Setup.
	globalCtx context.Context
)

// Setup starts the HTTP (-prof) and CPU (-cpu_profile) profilers, if they were configured.
// It should be followed by a deferred call to OnQuit.
func Setup(ctx context.Context) error {
	globalCtx = ctx
	if *flagProfiler >= 0 {
		setupHTTPProfiler()
	}
	if *flagCPUProfile != "" {
		if err := startCPUProfile(*flagCPUProfile); err != nil {
			return err
		}
	}
	return nil
}

// OnQuit stops the CPU profile and writes the heap profile, if configured. If the HTTP profiler is
// running, it blocks until the context given to Setup is cancelled.
func OnQuit() {
	if cpuFile != nil {
		pprof.StopCPUProfile()
		if err := cpuFile.Close(); err != nil {
			klog.Errorf("Failed to close CPU profile %q: %v", *flagCPUProfile, err)
		}
		cpuFile = nil
	}
	if *flagMemProfile != "" {
		if err := writeHeapProfile(*flagMemProfile); err != nil {
			klog.Errorf("%+v", err)
		}
	}
	if *flagProfiler >= 0 {
		httpProfilerOnQuit()
	}
}

func startCPUProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create CPU profile")
	}
	if err = pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "could not start CPU profile")
	}
	cpuFile = f
	return nil
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create heap profile")
	}
	runtime.GC()
	if err = pprof.WriteHeapProfile(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "could not write heap profile to %q", path)
	}
	return errors.Wrapf(f.Close(), "closing heap profile %q", path)
}

func setupHTTPProfiler() {
	profilerAddr = fmt.Sprintf("localhost:%d", *flagProfiler)
	klog.Infof("Starting profiler on %s/debug/pprof", profilerAddr)
	klog.Infof("- You can access it with: $ go tool pprof %s/debug/pprof/heap", profilerAddr)
	go func() {
		klog.Fatal(http.ListenAndServe(profilerAddr, nil))
	}()
}

// httpProfilerOnQuit keeps the program alive, with the profiler open, until interrupted.
func httpProfilerOnQuit() {
	// Don't freeze on panic.
	if err := recover(); err != nil {
		panic(err)
	}
	if globalCtx == nil || globalCtx.Err() != nil {
		return
	}
	fmt.Printf("- Program finished: kept alive with profiler opened at %s/debug/pprof\n", profilerAddr)
	fmt.Printf("- Interrupt (Ctrl+C) to exit\n")
	<-globalCtx.Done()
}
