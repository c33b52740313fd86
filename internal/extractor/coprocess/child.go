package coprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	apperrors "cratenlp/pkg/errors"

	"github.com/sirupsen/logrus"
)

// child owns one long-lived external process: its stdin pipe for writing
// record text, and a line reader over its stdout for reading results.
// Grounded on the teacher's contextReader (pkg/docker/context_reader.go)
// for the context-before-blocking-read discipline, generalised from a
// Docker log stream to a coprocess's stdout pipe.
type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

func startChild(ctx context.Context, cfg Config, logger *logrus.Logger) (*child, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperrors.TransientError("coprocess", "startChild", apperrors.CodeTransientPipe, err.Error()).Wrap(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.TransientError("coprocess", "startChild", apperrors.CodeTransientPipe, err.Error()).Wrap(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.TransientError("coprocess", "startChild", apperrors.CodeTransientPipe,
			fmt.Sprintf("starting %s: %v", cfg.Command, err)).Wrap(err)
	}

	logger.WithFields(logrus.Fields{"command": cfg.Command, "args": cfg.Args}).Info("coprocess child started")

	return &child{cmd: cmd, stdin: stdin, reader: bufio.NewReader(stdout)}, nil
}

// send writes one record's text followed by the input terminator line.
func (c *child) send(text, inputTerminator string) error {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := io.WriteString(c.stdin, text); err != nil {
		return apperrors.TransientError("coprocess", "send", apperrors.CodeTransientPipe, err.Error()).Wrap(err)
	}
	if _, err := io.WriteString(c.stdin, inputTerminator+"\n"); err != nil {
		return apperrors.TransientError("coprocess", "send", apperrors.CodeTransientPipe, err.Error()).Wrap(err)
	}
	return nil
}

// readUntilTerminator reads lines from the child's stdout until a line
// exactly matching outputTerminator is seen, returning every line before
// it. Reaching EOF without the terminator is a protocol violation: the
// caller must treat the child as CRASHED.
func (c *child) readUntilTerminator(outputTerminator string) ([]string, error) {
	var lines []string
	for {
		line, err := c.reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == outputTerminator {
			return lines, nil
		}
		if trimmed != "" || line != "" {
			lines = append(lines, trimmed)
		}
		if err != nil {
			if err == io.EOF {
				return nil, apperrors.RecordError("coprocess", "readUntilTerminator",
					apperrors.CodeRecordCoprocessCrash, "child closed stdout before output terminator").Wrap(err)
			}
			return nil, apperrors.TransientError("coprocess", "readUntilTerminator",
				apperrors.CodeTransientPipe, err.Error()).Wrap(err)
		}
	}
}

func (c *child) stop() error {
	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	return <-done
}

func (c *child) kill() {
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
}
