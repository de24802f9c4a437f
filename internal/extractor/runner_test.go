package extractor

import (
	"bufio"
	"context"
	"os/exec"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func TestSplitByNewlineOrCR(t *testing.T) {
	input := "[download]  10.0%\r[download]  20.0%\rdone\nlast"

	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(splitByNewlineOrCR)

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}

	want := []string{"[download]  10.0%", "[download]  20.0%", "done", "last"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestAppendLimited(t *testing.T) {
	var b strings.Builder
	line := strings.Repeat("x", 1000)
	for i := 0; i < 20; i++ {
		appendLimited(&b, line)
	}
	if b.Len() != maxKeep {
		t.Errorf("kept %d bytes, want %d", b.Len(), maxKeep)
	}
}

func TestExecRunner(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	var mu sync.Mutex
	var lines []string
	onLine := func(l string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, l)
	}

	res, err := NewExecRunner().Run(context.Background(), sh,
		[]string{"-c", `printf 'one\rtwo\n'; echo oops >&2; exit 3`}, onLine)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Output, "two") || !strings.Contains(res.Output, "oops") {
		t.Errorf("Output = %q", res.Output)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 3 {
		t.Errorf("lines = %q", lines)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	res, err := NewExecRunner().Run(context.Background(), "/nonexistent/yt-dlp", nil, nil)
	if err == nil {
		t.Fatal("expected error for a missing binary")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
}
