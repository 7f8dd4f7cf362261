package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
)

// pollInterval is how often the tail loop looks for new session output.
const pollInterval = 200 * time.Millisecond

// livenessInterval is how often the tail loop re-checks that the session
// still exists.
const livenessInterval = 5 * time.Second

// StreamOutput tees a session's pane output into a capture file via the
// multiplexer and tails it onto the publisher under the session name.
// The stream stops when the context is cancelled or the session dies.
func (s *Supervisor) StreamOutput(ctx context.Context, name string) error {
	if s.publisher == nil {
		return nil
	}

	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NotFound("session", name)
	}

	if err := os.MkdirAll(s.captureDir, 0o755); err != nil {
		return apperrors.InternalError("failed to create capture directory", err)
	}
	capturePath := filepath.Join(s.captureDir, name+".out")
	file, err := os.OpenFile(capturePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return apperrors.InternalError("failed to create capture file", err)
	}
	file.Close()

	pipeCmd := fmt.Sprintf("cat >> '%s'", capturePath)
	if err := s.mux.PipePane(ctx, name, pipeCmd); err != nil {
		return apperrors.InternalError("failed to pipe session output", err).WithDetails(tmuxDetails(err))
	}

	go s.tailCapture(ctx, name, capturePath)

	s.logger.Info("session output stream started",
		zap.String("session", name),
		zap.String("capture", capturePath))
	return nil
}

// tailCapture follows the capture file, publishing complete lines under
// the session name.
func (s *Supervisor) tailCapture(ctx context.Context, name, capturePath string) {
	file, err := os.Open(capturePath)
	if err != nil {
		s.logger.Warn("capture file unreadable",
			zap.String("session", name),
			zap.Error(err))
		return
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var partial []byte
	lastLiveness := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}

		for {
			chunk, err := reader.ReadBytes('\n')
			if len(chunk) > 0 {
				partial = append(partial, chunk...)
			}
			if err != nil {
				if err != io.EOF {
					s.logger.Warn("capture read error",
						zap.String("session", name),
						zap.Error(err))
					return
				}
				break
			}
			line := partial[:len(partial)-1] // strip newline
			s.publisher.Publish(name, string(line))
			partial = partial[:0]
		}

		if time.Since(lastLiveness) >= livenessInterval {
			lastLiveness = time.Now()
			alive, err := s.mux.HasSession(ctx, name)
			if err != nil || !alive {
				if len(partial) > 0 {
					s.publisher.Publish(name, string(partial))
				}
				s.logger.Info("session output stream stopped",
					zap.String("session", name))
				return
			}
		}
	}
}
