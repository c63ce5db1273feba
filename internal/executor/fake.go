// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package executor

import (
	"context"
	"sync"
)

// Fake is a scripted Executor for tests. It records every command.
type Fake struct {
	// Handler produces the result for a command. A nil Handler returns an
	// empty successful Result.
	Handler func(ctx context.Context, cmd Command) (Result, error)

	mu    sync.Mutex
	calls []Command
}

// Run implements Executor.
func (f *Fake) Run(ctx context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	handler := f.Handler
	f.mu.Unlock()

	if handler == nil {
		return Result{}, nil
	}
	return handler(ctx, cmd)
}

// Calls returns a copy of every recorded command.
func (f *Fake) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

// CallsWithArg returns recorded commands whose first argument is sub
// (for example "run", "rm", "logs" for the container CLI).
func (f *Fake) CallsWithArg(sub string) []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Command
	for _, c := range f.calls {
		if len(c.Args) > 0 && c.Args[0] == sub {
			out = append(out, c)
		}
	}
	return out
}
