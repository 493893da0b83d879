package recalc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/retry"
	"github.com/5ou1e/CryptoStorage-sub000/internal/stats"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// fetched is a wallet with its aggregates, owned by one compute worker.
type fetched struct {
	wallet *domain.Wallet
	tokens []*domain.WalletToken
}

// computed is a wallet ready to be written.
type computed struct {
	wallet    *domain.Wallet
	stats     *domain.WalletStats
	isBot     bool
	isScammer bool
}

type counters struct {
	written  atomic.Int64
	tokens   atomic.Int64
	bots     atomic.Int64
	scammers atomic.Int64
}

// process runs wallets through fetch -> compute -> write. Each stage closes its
// output once every worker has drained its input, so a closed channel is the
// end-of-stream signal. The write stage flushes its partial batch before returning.
func (r *Recalculator) process(ctx context.Context, wallets []*domain.Wallet, j job) (*Result, error) {
	start := time.Now()
	res := &Result{Scope: j.scope}
	if len(wallets) == 0 {
		res.Elapsed = time.Since(start)
		r.finish(res)
		return res, nil
	}

	var c counters
	g, ctx := errgroup.WithContext(ctx)

	batches := make(chan []*domain.Wallet)
	fetchedCh := make(chan fetched, r.opts.QueueSize)
	computedCh := make(chan computed, r.opts.QueueSize)

	g.Go(func() error {
		defer close(batches)
		for i := 0; i < len(wallets); i += r.opts.FetchBatch {
			end := min(i+r.opts.FetchBatch, len(wallets))
			select {
			case batches <- wallets[i:end]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var fetchWG sync.WaitGroup
	for range r.opts.FetchParallel {
		fetchWG.Add(1)
		g.Go(func() error {
			defer fetchWG.Done()
			for batch := range batches {
				if err := r.fetch(ctx, batch, j, fetchedCh, &c); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		fetchWG.Wait()
		close(fetchedCh)
		return nil
	})

	var computeWG sync.WaitGroup
	for range r.opts.ComputeWorkers {
		computeWG.Add(1)
		g.Go(func() error {
			defer computeWG.Done()
			return r.compute(ctx, fetchedCh, computedCh, j)
		})
	}
	g.Go(func() error {
		computeWG.Wait()
		close(computedCh)
		return nil
	})

	g.Go(func() error {
		return r.writeAll(ctx, computedCh, j, &c)
	})

	err := g.Wait()
	res.Wallets = int(c.written.Load())
	res.Tokens = c.tokens.Load()
	res.Bots = c.bots.Load()
	res.Scammers = c.scammers.Load()
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("recompute %s: %w", j.scope, err)
	}
	r.finish(res)
	return res, nil
}

// fetch loads the aggregates of one batch of wallets and hands each wallet downstream.
func (r *Recalculator) fetch(ctx context.Context, batch []*domain.Wallet, j job, out chan<- fetched, c *counters) error {
	start := time.Now()
	ids := make([]int64, len(batch))
	for i, w := range batch {
		ids[i] = w.ID
	}
	tokens, err := r.stores.WalletTokens.GetByWalletIDs(ctx, ids, j.tokens)
	if err != nil {
		return fmt.Errorf("fetch wallet tokens: %w", err)
	}
	byWallet := make(map[int64][]*domain.WalletToken, len(batch))
	for _, wt := range tokens {
		byWallet[wt.WalletID] = append(byWallet[wt.WalletID], wt)
	}
	c.tokens.Add(int64(len(tokens)))
	observability.RecordRecalcStage("fetch", time.Since(start).Seconds())
	r.logger.Debug().
		Int("wallets", len(batch)).
		Int("tokens", len(tokens)).
		Dur("took", time.Since(start)).
		Msg("wallet tokens fetched")

	for _, w := range batch {
		select {
		case out <- fetched{wallet: w, tokens: byWallet[w.ID]}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Recalculator) compute(ctx context.Context, in <-chan fetched, out chan<- computed, j job) error {
	for f := range in {
		start := time.Now()
		ws := stats.Compute(f.wallet.ID, f.tokens, r.now())
		item := computed{wallet: f.wallet, stats: ws}
		if j.updateFlags {
			item.isBot, item.isScammer = stats.Classify(ws)
		}
		observability.RecordRecalcStage("compute", time.Since(start).Seconds())

		select {
		case out <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// writeAll batches computed wallets and writes up to WriteParallel batches at once.
func (r *Recalculator) writeAll(ctx context.Context, in <-chan computed, j job, c *counters) error {
	wg, wctx := errgroup.WithContext(ctx)
	wg.SetLimit(r.opts.WriteParallel)

	batch := make([]computed, 0, r.opts.WriteBatch)
	dispatch := func() {
		b := batch
		batch = make([]computed, 0, r.opts.WriteBatch)
		wg.Go(func() error { return r.write(wctx, b, j, c) })
	}

	for item := range in {
		if wctx.Err() != nil {
			break
		}
		batch = append(batch, item)
		if len(batch) >= r.opts.WriteBatch {
			dispatch()
		}
	}
	if len(batch) > 0 && wctx.Err() == nil {
		dispatch()
	}
	return wg.Wait()
}

// write replaces statistic rows and, for the main scope, wallet flags, in one
// transaction.
// Rows are written in address order so concurrent batches lock in the same order.
func (r *Recalculator) write(ctx context.Context, batch []computed, j job, c *counters) error {
	start := time.Now()
	sort.Slice(batch, func(a, b int) bool { return batch[a].wallet.Address < batch[b].wallet.Address })

	rows := make([]*domain.WalletPeriodStatistic, 0, len(batch)*len(domain.Periods))
	for _, item := range batch {
		rows = append(rows, item.stats.All()...)
	}
	var flags []*domain.WalletFlags
	if j.updateFlags {
		checked := r.now()
		flags = make([]*domain.WalletFlags, len(batch))
		for i, item := range batch {
			flags[i] = &domain.WalletFlags{
				WalletID:       item.wallet.ID,
				Address:        item.wallet.Address,
				IsBot:          item.isBot,
				IsScammer:      item.isScammer,
				LastStatsCheck: checked,
			}
		}
	}

	b := &storage.RecalcBatch{Scope: j.scope, Stats: rows, Flags: flags}
	err := retry.OnConflict(ctx, r.policy, "apply recalc batch", func(ctx context.Context) error {
		return r.stores.Recalc.ApplyRecalc(ctx, b)
	})
	if err != nil {
		return err
	}

	if j.updateFlags {
		for _, item := range batch {
			if item.isBot {
				c.bots.Add(1)
				observability.RecordWalletFlagged("bot")
			}
			if item.isScammer {
				c.scammers.Add(1)
				observability.RecordWalletFlagged("scammer")
			}
		}
	}

	c.written.Add(int64(len(batch)))
	observability.RecordRecalcStage("write", time.Since(start).Seconds())
	r.logger.Debug().
		Str("scope", string(j.scope)).
		Int("wallets", len(batch)).
		Dur("took", time.Since(start)).
		Msg("statistics written")
	return nil
}
