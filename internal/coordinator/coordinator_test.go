package coordinator

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
)

// TestHelperProcess isn't a real test; it's the sibling worker body used
// in place of a real cratenlp binary. It inspects its own --process flag
// and exits with a code chosen by the FAKE_SHARD_EXIT_<i> env var, so a
// test can script which shard fails and how.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	shard := "?"
	for i, arg := range os.Args {
		if arg == "--process" && i+1 < len(os.Args) {
			shard = os.Args[i+1]
		}
	}
	if code := os.Getenv("FAKE_SHARD_EXIT_" + shard); code != "" {
		switch code {
		case "0":
			os.Exit(0)
		case "1":
			os.Exit(1)
		case "2":
			os.Exit(2)
		case "3":
			os.Exit(3)
		}
	}
	os.Exit(0)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newHelperCoordinator(t *testing.T, nprocesses int) *Coordinator {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	cfg := Config{
		BinaryPath: os.Args[0],
		BaseArgs:   []string{"-test.run=TestHelperProcess", "--"},
		NProcesses: nprocesses,
	}
	return New(cfg, testLogger())
}

func TestRunLaunchesOneWorkerPerShard(t *testing.T) {
	c := newHelperCoordinator(t, 3)

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(summary.Workers) != 3 {
		t.Fatalf("expected 3 workers, got %d", len(summary.Workers))
	}
	for i, w := range summary.Workers {
		if w.ShardIndex != i || w.State != "completed" || w.ExitCode != 0 {
			t.Fatalf("unexpected worker status: %+v", w)
		}
	}
	if summary.ExitCode != 0 {
		t.Fatalf("expected aggregate exit code 0, got %d", summary.ExitCode)
	}
}

func TestRunAggregatesWorstExitCode(t *testing.T) {
	c := newHelperCoordinator(t, 3)
	t.Setenv("FAKE_SHARD_EXIT_1", "2")
	t.Setenv("FAKE_SHARD_EXIT_2", "3")

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.ExitCode != 3 {
		t.Fatalf("expected aggregate exit code 3 (worst of 0,2,3), got %d", summary.ExitCode)
	}
	if summary.Workers[2].State != "failed" {
		t.Fatalf("expected shard 2 to be recorded failed, got %+v", summary.Workers[2])
	}
}

func TestRunRejectsZeroShardCount(t *testing.T) {
	c := newHelperCoordinator(t, 0)

	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected an error for nprocesses < 1")
	}
}

func TestStatusReflectsShardIndexOrdering(t *testing.T) {
	c := newHelperCoordinator(t, 2)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	status := c.Status()
	if len(status) != 2 || status[0].ShardIndex != 0 || status[1].ShardIndex != 1 {
		t.Fatalf("unexpected status ordering: %+v", status)
	}
}

// TestRunLeavesNoGoroutinesBehind checks that Run's per-worker output
// readers and wait goroutines all exit once every sibling process has
// been reaped, not just the ones on the happy path.
func TestRunLeavesNoGoroutinesBehind(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newHelperCoordinator(t, 3)
	t.Setenv("FAKE_SHARD_EXIT_1", "2")
	t.Setenv("FAKE_SHARD_EXIT_2", "3")

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}
