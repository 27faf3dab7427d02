// Package logs merges several live log sources into one stream.
//
// Following is fully independent of the producers: stopping a stream only
// closes the readers, the processes and containers behind them keep running.
package logs

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mattn/go-runewidth"
	"golang.org/x/sync/errgroup"

	"stackctl/pkg/logging"
)

// Handle controls a running stream.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Stop cancels following and waits until every source has returned.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed when all sources have returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the stream ends and returns the first source error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Stream follows every source concurrently and writes their lines to out in
// arrival order, each prefixed with its source name.
func Stream(ctx context.Context, sources []Source, out io.Writer) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	width := 0
	for _, s := range sources {
		if w := runewidth.StringWidth(s.Name()); w > width {
			width = w
		}
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, src := range sources {
		prefix := runewidth.FillRight(src.Name(), width) + " | "
		g.Go(func() error {
			err := src.Follow(ctx, func(line string) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, "%s%s\n", prefix, line)
			})
			if err != nil {
				logging.Warn("LogAggregator", "Stopped following %s: %v", src.Name(), err)
				return fmt.Errorf("%s: %w", src.Name(), err)
			}
			return nil
		})
	}

	go func() {
		h.err = g.Wait()
		cancel()
		close(h.done)
	}()
	return h
}
