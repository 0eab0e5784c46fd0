package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/memtensor/pastebridge/pkg/config"
	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
)

// Locator looks up the editor instance. It returns an error while the
// editor is not available yet.
type Locator func(ctx context.Context) (interfaces.Editor, error)

var errNotLocated = errors.New("editor not located")

// Attacher waits for an editor to become usable. The host announces
// readiness through NotifyReady; without it, the locator is polled a bounded
// number of times.
type Attacher struct {
	locator     Locator
	maxAttempts uint64
	interval    time.Duration
	logger      interfaces.Logger

	once  sync.Once
	ready chan interfaces.Editor
}

// NewAttacher creates an attacher. locator may be nil when the host always notifies.
func NewAttacher(cfg *config.EditorConfig, locator Locator, logger interfaces.Logger) *Attacher {
	if cfg == nil {
		cfg = config.NewEditorConfig()
	}
	maxAttempts := cfg.ReadyMaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return &Attacher{
		locator:     locator,
		maxAttempts: maxAttempts,
		interval:    cfg.ReadyInterval,
		logger:      logger.WithFields(map[string]interface{}{"component": "editor-attacher"}),
		ready:       make(chan interfaces.Editor, 1),
	}
}

// NotifyReady hands over a ready editor. Only the first call counts.
func (a *Attacher) NotifyReady(ed interfaces.Editor) {
	a.once.Do(func() { a.ready <- ed })
}

// Attach returns the ready editor after focusing it and enabling editing.
// It fails with EDITOR_NOT_READY once the polling budget is spent.
func (a *Attacher) Attach(ctx context.Context) (interfaces.Editor, error) {
	var (
		ed       interfaces.Editor
		attempts int
		lastErr  error
	)

	operation := func() error {
		attempts++
		select {
		case ed = <-a.ready:
			return nil
		default:
		}
		if a.locator == nil {
			lastErr = errNotLocated
			return lastErr
		}
		found, err := a.locator(ctx)
		if err == nil && found == nil {
			err = errNotLocated
		}
		if err != nil {
			lastErr = err
			return err
		}
		ed = found
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.interval), a.maxAttempts-1),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		a.logger.Debug("Editor not ready yet", map[string]interface{}{
			"attempt": attempts,
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		})
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			lastErr = ctxErr
		}
		a.logger.Warn("Editor did not become ready", map[string]interface{}{"attempts": attempts})
		return nil, pberrors.NewEditorNotReadyError(attempts, lastErr)
	}

	if err := ed.Focus(); err != nil {
		return nil, pberrors.NewInternalErrorWithCause("failed to focus editor", err)
	}
	if err := ed.EnableEditing(); err != nil {
		return nil, pberrors.NewInternalErrorWithCause("failed to enable editing", err)
	}
	a.logger.Info("Editor attached", map[string]interface{}{"attempts": attempts})
	return ed, nil
}
