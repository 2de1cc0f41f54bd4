// Package executor performs the single authorized on-chain action: pausing a
// protected contract.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

// Failure classes of a pause attempt.
var (
	// ErrAlreadyPaused means another party paused the contract first. The
	// outcome is still success.
	ErrAlreadyPaused = errors.New("contract already paused")
	// ErrNotAuthorized means the operator lacks the pauser role or ownership.
	ErrNotAuthorized = errors.New("operator not authorized to pause")
	// ErrTransactionFailed covers every other failure. It is not retried.
	ErrTransactionFailed = errors.New("pause transaction failed")
	// ErrPending means the transaction was sent but not confirmed in time.
	ErrPending = errors.New("pause transaction pending")
)

// PauseContract is the chain surface the executor needs.
type PauseContract interface {
	Paused(ctx context.Context, contract common.Address) (bool, error)
	SubmitPause(ctx context.Context, contract common.Address) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// StateSink receives authoritative paused-state reads.
type StateSink interface {
	RecordPauseState(ctx context.Context, contract common.Address, paused bool)
}

// Result describes the outcome of one ExecutePause call.
type Result struct {
	Contract      common.Address `json:"contract"`
	VulnRef       common.Hash    `json:"vulnRef"`
	Success       bool           `json:"success"`
	AlreadyPaused bool           `json:"alreadyPaused,omitempty"`
	DryRun        bool           `json:"dryRun,omitempty"`
	TxHash        common.Hash    `json:"txHash,omitempty"`
	Err           error          `json:"-"`
	Duration      time.Duration  `json:"duration"`
}

// HasTx reports whether a transaction was submitted.
func (r Result) HasTx() bool {
	return r.TxHash != (common.Hash{})
}

// ErrorClass returns the failure class name, or "" on a clean success.
func (r Result) ErrorClass() string {
	switch {
	case r.Err == nil:
		return ""
	case errors.Is(r.Err, ErrAlreadyPaused):
		return "ALREADY_PAUSED"
	case errors.Is(r.Err, ErrNotAuthorized):
		return "NOT_AUTHORIZED"
	case errors.Is(r.Err, ErrPending):
		return "PENDING"
	default:
		return "TRANSACTION_FAILED"
	}
}

type call struct {
	done   chan struct{}
	result Result
}

// Executor submits pause transactions. Concurrent calls for one contract share
// a single submission.
type Executor struct {
	chain          PauseContract
	sink           StateSink
	confirmTimeout time.Duration
	dryRun         bool
	logger         zerolog.Logger

	mu       sync.Mutex
	inflight map[common.Address]*call
}

// New creates an executor. sink may be nil.
func New(chain PauseContract, sink StateSink, confirmTimeout time.Duration, dryRun bool, logger zerolog.Logger) *Executor {
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &Executor{
		chain:          chain,
		sink:           sink,
		confirmTimeout: confirmTimeout,
		dryRun:         dryRun,
		logger:         logger.With().Str("component", "executor").Logger(),
		inflight:       make(map[common.Address]*call),
	}
}

// SetStateSink replaces the sink. Used when the sink is built after the executor.
func (e *Executor) SetStateSink(sink StateSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// DryRun reports whether pause transactions are suppressed.
func (e *Executor) DryRun() bool { return e.dryRun }

// ExecutePause pauses contract unless it is already paused. Repeated calls
// never send a second transaction for a paused contract.
func (e *Executor) ExecutePause(ctx context.Context, contract common.Address, vulnRef common.Hash) Result {
	e.mu.Lock()
	if c, ok := e.inflight[contract]; ok {
		e.mu.Unlock()
		select {
		case <-c.done:
			r := c.result
			r.VulnRef = vulnRef
			return r
		case <-ctx.Done():
			return Result{Contract: contract, VulnRef: vulnRef, Err: fmt.Errorf("%w: %v", ErrPending, ctx.Err())}
		}
	}
	c := &call{done: make(chan struct{})}
	e.inflight[contract] = c
	e.mu.Unlock()

	start := time.Now()
	c.result = e.execute(ctx, contract, vulnRef)
	c.result.Duration = time.Since(start)

	e.mu.Lock()
	delete(e.inflight, contract)
	e.mu.Unlock()
	close(c.done)

	e.log(c.result)
	return c.result
}

func (e *Executor) execute(ctx context.Context, contract common.Address, vulnRef common.Hash) Result {
	res := Result{Contract: contract, VulnRef: vulnRef}

	paused, err := e.chain.Paused(ctx, contract)
	if err != nil {
		res.Err = fmt.Errorf("%w: reading paused state: %v", ErrTransactionFailed, err)
		return res
	}
	if paused {
		e.record(ctx, contract, true)
		res.Success = true
		res.AlreadyPaused = true
		return res
	}

	if e.dryRun {
		res.Success = true
		res.DryRun = true
		return res
	}

	tx, err := e.chain.SubmitPause(ctx, contract)
	if err != nil {
		res.Err = Classify(err)
		if errors.Is(res.Err, ErrAlreadyPaused) {
			res.Success = true
			res.AlreadyPaused = true
			e.refresh(ctx, contract)
		}
		return res
	}
	res.TxHash = tx.Hash()

	waitCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	receipt, err := e.chain.WaitMined(waitCtx, tx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			res.Err = fmt.Errorf("%w: %s not confirmed within %s", ErrPending, res.TxHash.Hex(), e.confirmTimeout)
			return res
		}
		res.Err = fmt.Errorf("%w: waiting for receipt: %v", ErrTransactionFailed, err)
		return res
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		// A reverted pause whose contract is now paused lost a race.
		if now, err := e.chain.Paused(ctx, contract); err == nil && now {
			e.record(ctx, contract, true)
			res.Success = true
			res.AlreadyPaused = true
			res.Err = ErrAlreadyPaused
			return res
		}
		res.Err = fmt.Errorf("%w: %s reverted", ErrTransactionFailed, res.TxHash.Hex())
		return res
	}

	res.Success = true
	e.refresh(ctx, contract)
	return res
}

// refresh performs the authoritative read that is the only way paused state
// reaches the rest of the system.
func (e *Executor) refresh(ctx context.Context, contract common.Address) {
	paused, err := e.chain.Paused(ctx, contract)
	if err != nil {
		e.logger.Warn().Err(err).Str("contract", contract.Hex()).Msg("paused state refresh failed")
		return
	}
	e.record(ctx, contract, paused)
}

func (e *Executor) record(ctx context.Context, contract common.Address, paused bool) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink.RecordPauseState(ctx, contract, paused)
	}
}

func (e *Executor) log(r Result) {
	ev := e.logger.Info()
	if r.Err != nil && !r.Success {
		ev = e.logger.Error().Err(r.Err)
	}
	ev.Str("contract", r.Contract.Hex()).
		Str("vuln_ref", r.VulnRef.Hex()).
		Bool("success", r.Success).
		Bool("already_paused", r.AlreadyPaused).
		Bool("dry_run", r.DryRun).
		Str("tx", r.TxHash.Hex()).
		Dur("duration", r.Duration).
		Msg("pause executed")
}

// Classify maps a submission error onto the failure classes. Revert reasons
// from OpenZeppelin Pausable, AccessControl and Ownable are recognized.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrAlreadyPaused, ErrNotAuthorized, ErrTransactionFailed, ErrPending} {
		if errors.Is(err, known) {
			return err
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "pausable: paused"), strings.Contains(msg, "enforcedpause"):
		return fmt.Errorf("%w: %v", ErrAlreadyPaused, err)
	case strings.Contains(msg, "accesscontrol"),
		strings.Contains(msg, "ownable"),
		strings.Contains(msg, "missing role"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "caller is not"):
		return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
}
