package extractor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// maxKeep bounds the output retained per stream per attempt
const maxKeep = 8192

// RunResult is the outcome of one process run
type RunResult struct {
	ExitCode int
	Output   string
}

// Runner runs an external binary, feeding every output line to onLine.
// A non-zero exit is reported through RunResult, not as an error.
type Runner interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) (RunResult, error)
}

type execRunner struct{}

// NewExecRunner returns a Runner backed by os/exec
func NewExecRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, binary string, args []string, onLine func(string)) (RunResult, error) {
	cmd := exec.CommandContext(ctx, binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{ExitCode: -1}, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return RunResult{ExitCode: -1}, fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return RunResult{ExitCode: -1}, fmt.Errorf("start %s: %w", binary, err)
	}

	var outBuf, errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(r io.Reader, b *strings.Builder) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			appendLimited(b, line)
			mu.Unlock()
			if onLine != nil {
				onLine(line)
			}
		}
	}

	wg.Add(2)
	go read(stdoutPipe, &outBuf)
	go read(stderrPipe, &errBuf)
	wg.Wait()

	waitErr := cmd.Wait()

	mu.Lock()
	output := strings.TrimSpace(outBuf.String())
	if s := strings.TrimSpace(errBuf.String()); s != "" {
		if output != "" {
			output += "\n"
		}
		output += s
	}
	mu.Unlock()

	result := RunResult{Output: output}
	if waitErr == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	result.ExitCode = -1
	return result, fmt.Errorf("%s failed: %w", binary, waitErr)
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(b *strings.Builder, line string) {
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}
