package notify

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/listpull-cli/internal/batch"
	"github.com/sells-group/listpull-cli/internal/model"
)

// Multi fans one notification out to several channels (webhook + Notion
// mirror). Channels run concurrently and all of them run to completion; a
// flaky mirror cannot suppress the reviewer message.
type Multi []batch.Notifier

func (m Multi) BatchPending(ctx context.Context, b *model.WeeklyBatch) error {
	var g errgroup.Group
	for _, n := range m {
		g.Go(func() error { return n.BatchPending(ctx, b) })
	}
	return eris.Wrap(g.Wait(), "notify: fan out pending")
}

func (m Multi) BatchResolved(ctx context.Context, b *model.WeeklyBatch, outcome string) error {
	var g errgroup.Group
	for _, n := range m {
		g.Go(func() error { return n.BatchResolved(ctx, b, outcome) })
	}
	return eris.Wrap(g.Wait(), "notify: fan out resolved")
}
