// Package chain watches new blocks for transactions sent to protected
// contracts and hands them to the analyzer.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/analyzer"
)

// Client is the JSON-RPC surface the watcher needs. *ethclient.Client
// satisfies it.
type Client interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// ContractSet supplies the addresses currently under protection.
type ContractSet interface {
	Watched() []common.Address
}

// Handler receives every transaction addressed to a watched contract. The
// receipt is nil when it could not be fetched.
type Handler func(ctx context.Context, tx analyzer.Transaction, receipt *analyzer.Receipt, cc analyzer.ContractContext)

// Config controls the watcher.
type Config struct {
	PollInterval time.Duration
	// Polling skips the head subscription entirely.
	Polling bool
	// BatchSize bounds how many blocks one catch-up pass processes.
	BatchSize int
	// StartBlock is the first block to process; 0 means the current head.
	StartBlock uint64
}

// Mode names how new heads are discovered.
type Mode string

const (
	ModeSubscribe Mode = "subscribe"
	ModePolling   Mode = "polling"
)

// Watcher follows the chain head. Head subscriptions are preferred; polling
// is used when subscriptions are unavailable (HTTP endpoints) or fail.
type Watcher struct {
	client    Client
	contracts ContractSet
	handle    Handler
	cfg       Config
	logger    zerolog.Logger

	mu        sync.Mutex
	lastBlock uint64
	mode      Mode
	processed uint64
}

// NewWatcher creates a watcher.
func NewWatcher(client Client, contracts ContractSet, handle Handler, cfg Config, logger zerolog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Watcher{
		client:    client,
		contracts: contracts,
		handle:    handle,
		cfg:       cfg,
		logger:    logger.With().Str("component", "chain_watcher").Logger(),
	}
}

// Status reports the watcher's progress.
type Status struct {
	Mode      Mode   `json:"mode"`
	LastBlock uint64 `json:"lastBlock"`
	Processed uint64 `json:"processedTransactions"`
}

// Status returns a snapshot of progress.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{Mode: w.mode, LastBlock: w.lastBlock, Processed: w.processed}
}

// Watch starts following the chain and returns a disposer that stops the
// watch and waits for it to exit.
func (w *Watcher) Watch(ctx context.Context) (func(), error) {
	start := w.cfg.StartBlock
	if start == 0 {
		head, err := w.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("reading chain head: %w", err)
		}
		start = head.Number.Uint64()
	}
	w.mu.Lock()
	if start > 0 {
		w.lastBlock = start - 1
	}
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx)
	}()

	w.logger.Info().Uint64("start_block", start).Msg("chain watcher started")
	return func() {
		cancel()
		<-done
	}, nil
}

func (w *Watcher) run(ctx context.Context) {
	if !w.cfg.Polling {
		if err := w.subscribe(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("head subscription unavailable, falling back to polling")
		}
	}
	if ctx.Err() == nil {
		w.poll(ctx)
	}
}

// subscribe follows new heads until ctx ends or the subscription fails.
func (w *Watcher) subscribe(ctx context.Context) error {
	headers := make(chan *types.Header, 16)
	sub, err := w.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	w.setMode(ModeSubscribe)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return fmt.Errorf("head subscription: %w", err)
		case h := <-headers:
			w.catchUp(ctx, h.Number.Uint64())
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	w.setMode(ModePolling)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) {
	head, err := w.client.HeaderByNumber(ctx, nil)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to read chain head")
		return
	}
	w.catchUp(ctx, head.Number.Uint64())
}

// catchUp processes blocks after lastBlock up to head, at most BatchSize per call.
func (w *Watcher) catchUp(ctx context.Context, head uint64) {
	w.mu.Lock()
	from := w.lastBlock + 1
	w.mu.Unlock()
	if head < from {
		return
	}
	end := head
	if end-from+1 > uint64(w.cfg.BatchSize) {
		end = from + uint64(w.cfg.BatchSize) - 1
	}
	for n := from; n <= end; n++ {
		if err := w.processBlock(ctx, n); err != nil {
			w.logger.Warn().Err(err).Uint64("block", n).Msg("failed to process block")
			return
		}
		w.mu.Lock()
		w.lastBlock = n
		w.mu.Unlock()
	}
}

// ProcessBlock runs one block through the handler. Exposed for replays.
func (w *Watcher) ProcessBlock(ctx context.Context, number uint64) error {
	return w.processBlock(ctx, number)
}

func (w *Watcher) processBlock(ctx context.Context, number uint64) error {
	watched := make(map[common.Address]struct{})
	for _, a := range w.contracts.Watched() {
		watched[a] = struct{}{}
	}
	if len(watched) == 0 {
		return nil
	}

	block, err := w.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return fmt.Errorf("fetching block %d: %w", number, err)
	}
	seenAt := time.Now()

	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil {
			continue
		}
		if _, ok := watched[*to]; !ok {
			continue
		}

		from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			w.logger.Debug().Err(err).Str("tx", tx.Hash().Hex()).Msg("cannot recover sender, skipping")
			continue
		}

		var receipt *analyzer.Receipt
		if r, err := w.client.TransactionReceipt(ctx, tx.Hash()); err == nil {
			receipt = analyzer.ReceiptFrom(r)
		} else {
			w.logger.Debug().Err(err).Str("tx", tx.Hash().Hex()).Msg("receipt unavailable, analyzing without it")
		}

		toAddr := *to
		w.handle(ctx, analyzer.Transaction{
			Hash:        tx.Hash(),
			From:        from,
			To:          &toAddr,
			Value:       tx.Value(),
			Data:        tx.Data(),
			BlockNumber: number,
			DetectedAt:  seenAt,
		}, receipt, analyzer.ContractContext{Address: toAddr})

		w.mu.Lock()
		w.processed++
		w.mu.Unlock()
	}
	return nil
}

func (w *Watcher) setMode(m Mode) {
	w.mu.Lock()
	w.mode = m
	w.mu.Unlock()
}
