package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/digimarket/marketcore/pkg/logger"
	"gorm.io/gorm"
)

// ErrNoTransaction is returned when a hook is registered on a handle that is not inside WithTx.
var ErrNoTransaction = errors.New("db: not inside a transaction")

// CommitHook runs after the owning transaction commits.
type CommitHook func(ctx context.Context)

type hooksKey struct{}

type commitHooks struct {
	mu    sync.Mutex
	hooks []CommitHook
}

func withHooks(ctx context.Context, hooks *commitHooks) context.Context {
	return context.WithValue(ctx, hooksKey{}, hooks)
}

func hooksFrom(tx *gorm.DB) *commitHooks {
	if tx == nil || tx.Statement == nil || tx.Statement.Context == nil {
		return nil
	}
	hooks, _ := tx.Statement.Context.Value(hooksKey{}).(*commitHooks)
	return hooks
}

func (h *commitHooks) add(hook CommitHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

func (h *commitHooks) run(ctx context.Context, logg *logger.Logger) {
	h.mu.Lock()
	pending := h.hooks
	h.hooks = nil
	h.mu.Unlock()

	for i, hook := range pending {
		runHook(ctx, logg, i, hook)
	}
}

func runHook(ctx context.Context, logg *logger.Logger, index int, hook CommitHook) {
	defer func() {
		if r := recover(); r != nil && logg != nil {
			hookCtx := logg.WithField(ctx, "hook_index", index)
			logg.Error(hookCtx, "after-commit hook panicked", fmt.Errorf("panic: %v", r))
		}
	}()
	hook(ctx)
}

// AfterCommit schedules hook to run once the transaction owning tx commits.
func AfterCommit(tx *gorm.DB, hook CommitHook) error {
	if hook == nil {
		return nil
	}
	hooks := hooksFrom(tx)
	if hooks == nil {
		return ErrNoTransaction
	}
	hooks.add(hook)
	return nil
}

// InTransaction reports whether tx belongs to an open unit of work.
func InTransaction(tx *gorm.DB) bool {
	if hooksFrom(tx) != nil {
		return true
	}
	if tx == nil || tx.Statement == nil {
		return false
	}
	_, ok := tx.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}
