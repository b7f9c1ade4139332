package main

import (
	"context"
	"fmt"
	"io"

	"github.com/haricheung/delphibot/internal/types"
)

// failureWatch collects MsgFailure events for the end-of-run report. The
// display clips them to one line; the report keeps the full text.
type failureWatch struct {
	cancel context.CancelFunc
	done   chan struct{}
	items  []string
}

func watchFailures(parent context.Context, ch <-chan types.Message) *failureWatch {
	ctx, cancel := context.WithCancel(parent)
	w := &failureWatch{cancel: cancel, done: make(chan struct{})}
	go w.run(ctx, ch)
	return w
}

func (w *failureWatch) run(ctx context.Context, ch <-chan types.Message) {
	defer close(w.done)
	for {
		select {
		case msg := <-ch:
			w.add(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-ch:
					w.add(msg)
				default:
					return
				}
			}
		}
	}
}

func (w *failureWatch) add(msg types.Message) {
	switch ev := msg.Payload.(type) {
	case types.TextEvent:
		w.items = append(w.items, fmt.Sprintf("%s: %s", ev.Label, ev.Text))
	default:
		w.items = append(w.items, fmt.Sprintf("%v", ev))
	}
}

// Stop ends the watch and returns every failure published before the call.
//
// Expectations:
//   - Returns failures in publish order as "label: text"
//   - Includes failures still buffered when Stop is called
//   - Is safe to call more than once
func (w *failureWatch) Stop() []string {
	w.cancel()
	<-w.done
	return w.items
}

func printFailures(out io.Writer, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "⚠️  %d failure(s) during the study:\n", len(items))
	for _, s := range items {
		fmt.Fprintf(out, "   - %s\n", s)
	}
}
