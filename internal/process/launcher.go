package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// OutputHandler receives output lines from the backend.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// Launcher starts backend processes. The zero value logs to slog.Default.
type Launcher struct {
	Logger       *slog.Logger
	OutputLogger *slog.Logger // logger for backend output (nil = Logger)
	LogParser    LogParser    // nil = every line at info
	Output       OutputHandler
}

// ResolveExecutable returns the absolute path of the backend executable.
// Paths containing a separator are taken relative to the LaunchSpec anchor;
// bare names are looked up on PATH.
func (s LaunchSpec) ResolveExecutable() (string, error) {
	exe := s.executable
	var path string
	switch {
	case filepath.IsAbs(exe):
		path = filepath.Clean(exe)
	case strings.ContainsRune(exe, '/') || strings.ContainsRune(exe, filepath.Separator):
		path = filepath.Join(s.anchor, exe)
	default:
		found, err := exec.LookPath(exe)
		if err != nil {
			return "", newError(ErrCodeExecutableNotFound,
				fmt.Sprintf("backend executable %q not found on PATH; reinstall or fix the configured backend path", exe), err)
		}
		path = found
	}

	fi, err := os.Stat(path)
	if err != nil {
		return "", newError(ErrCodeExecutableNotFound,
			fmt.Sprintf("backend executable %s does not exist; reinstall or fix the configured backend path", path), err)
	}
	if fi.IsDir() {
		return "", newError(ErrCodeExecutableNotFound,
			fmt.Sprintf("backend executable %s is a directory", path), nil)
	}
	if runtime.GOOS != "windows" && fi.Mode().Perm()&0o111 == 0 {
		return "", newError(ErrCodeExecutableNotFound,
			fmt.Sprintf("backend executable %s is not executable; fix its permissions", path), fs.ErrPermission)
	}
	return path, nil
}

// Launch starts the backend described by spec. It returns as soon as the
// process exists and does not wait for readiness.
func (l *Launcher) Launch(spec LaunchSpec) (*Child, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path, err := spec.ResolveExecutable()
	if err != nil {
		logger.Error("Backend executable not found", "executable", spec.executable, "anchor", spec.anchor, "error", err)
		return nil, err
	}

	workDir := spec.ResolveWorkDir()
	if fi, statErr := os.Stat(workDir); statErr != nil || !fi.IsDir() {
		logger.Error("Backend working directory missing", "workdir", workDir)
		return nil, newError(ErrCodeSpawnFailed,
			fmt.Sprintf("working directory %s is not a directory", workDir), statErr)
	}

	cmd := exec.Command(path, spec.args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), spec.env...)
	setProcessGroup(cmd)

	// exec copies output into the pipes until every writer, grandchildren
	// included, has closed its end or outputDrainDelay passes after exit
	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = outputDrainDelay

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		logger.Error("Failed to start backend", "path", path, "error", err)
		return nil, newError(ErrCodeSpawnFailed,
			fmt.Sprintf("failed to start %s; check permissions and resource limits", path), err)
	}

	c := &Child{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		writers:   []io.Closer{stdoutW, stderrW},
	}
	logger.Info("Backend started", "pid", c.pid, "path", path, "args", spec.args, "workdir", workDir)

	outputLogger := l.OutputLogger
	if outputLogger == nil {
		outputLogger = logger
	}
	outputLogger = outputLogger.With("pid", c.pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		l.streamOutput(outputLogger, logger, stdout, "stdout")
	}()
	go func() {
		defer readers.Done()
		l.streamOutput(outputLogger, logger, stderr, "stderr")
	}()

	go c.wait(&readers)

	return c, nil
}

// streamOutput forwards backend output to the output logger and handler.
func (l *Launcher) streamOutput(logger, errLogger *slog.Logger, reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := scanner.Text()

		if l.Output != nil {
			l.Output.HandleLine(source, line)
		}

		level, msg := "info", line
		if l.LogParser != nil {
			level, msg = l.LogParser(line)
		}

		switch level {
		case "critical", "fatal", "error":
			logger.Error(msg, "source", source)
		case "warning", "warn":
			logger.Warn(msg, "source", source)
		case "debug", "trace":
			logger.Debug(msg, "source", source)
		default:
			logger.Info(msg, "source", source)
		}
	}

	if err := scanner.Err(); err != nil {
		errLogger.Warn("Error reading backend output", "source", source, "error", err)
		// Keep draining so the copy into the pipe never blocks
		_, _ = io.Copy(io.Discard, reader)
	}
}

// ParseLogLevel extracts the level from Python logging output of the form
// "INFO:     message" or "ERROR:module:message".
func ParseLogLevel(line string) (level, msg string) {
	i := strings.IndexByte(line, ':')
	if i <= 0 || i > len("CRITICAL") {
		return "info", line
	}
	switch prefix := line[:i]; prefix {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
		return strings.ToLower(prefix), strings.TrimLeft(line[i+1:], " ")
	}
	return "info", line
}

// outputDrainDelay bounds how long output is read after the child exits
// while something else still holds its stdout or stderr.
const outputDrainDelay = time.Second

// Child is the supervisor's handle on a running backend process.
type Child struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	exit      ExitInfo // written before done is closed
	writers   []io.Closer
	requested atomic.Bool
	hung      atomic.Bool
}

// PID returns the OS process identifier.
func (c *Child) PID() int { return c.pid }

// StartedAt returns the launch time.
func (c *Child) StartedAt() time.Time { return c.startedAt }

// Done is closed once the process has exited and been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports whether the process has exited.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Exit returns the exit information once Done is closed.
func (c *Child) Exit() (ExitInfo, bool) {
	select {
	case <-c.done:
		return c.exit, true
	default:
		return ExitInfo{}, false
	}
}

// wait blocks in the OS wait call, so exit is noticed without polling.
// cmd.Wait returns once the output has been copied into the pipes; closing
// them then lets the readers finish every buffered line.
func (c *Child) wait(readers *sync.WaitGroup) {
	err := c.cmd.Wait()
	for _, w := range c.writers {
		_ = w.Close()
	}
	readers.Wait()

	info := ExitInfo{
		PID:       c.pid,
		Code:      exitCodeFromError(err),
		Requested: c.requested.Load(),
		Hung:      c.hung.Load(),
		Uptime:    time.Since(c.startedAt),
	}
	if ps := c.cmd.ProcessState; ps != nil {
		info.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			info.Signal = ws.Signal().String()
			info.Code = 128 + int(ws.Signal())
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		info.Err = err
	}
	c.exit = info
	close(c.done)
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
