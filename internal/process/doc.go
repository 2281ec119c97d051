// Package process supervises the local backend a desktop shell depends on.
//
// The package is layered:
//
// Launcher spawns the backend from an immutable LaunchSpec:
//   - Executable resolved against an install anchor, never the current directory
//   - Own process group so termination reaches grandchildren
//   - Output streaming with pluggable log parsing
//
// AwaitReady and the health monitor decide when the backend can serve:
//   - TCP connect or HTTP GET probes, bounded per attempt
//   - Early child exit reported as soon as it happens
//   - Degraded and hung detection after readiness
//
// OnChildExit and RestartBudget bound automatic relaunches with exponential
// backoff, a rolling failure window and a stability reset.
//
// Supervisor ties these together on a single loop goroutine:
//
//	spec, err := process.NewLaunchSpec(process.DefaultLaunchConfig())
//	if err != nil {
//	    return err
//	}
//	sup := process.New(spec, &process.Options{
//	    OnStateChange: func(old, new process.State, err error) {
//	        log.Printf("backend: %s -> %s", old, new)
//	    },
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Shutdown(context.Background())
package process
