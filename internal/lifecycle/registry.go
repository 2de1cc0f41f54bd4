// Package lifecycle tracks each protected contract from registration through
// scanning, permission grant, active protection and pause.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/core"
)

// State is a contract's position in the protection lifecycle.
type State string

const (
	StateUnregistered State = "UNREGISTERED"
	StateScanning     State = "SCANNING"
	StateRegistered   State = "REGISTERED"
	StateProtected    State = "PROTECTED"
	StatePaused       State = "PAUSED"
)

var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrNotFound          = errors.New("contract not registered")
)

// MonitoredContract is the registry's view of one contract.
type MonitoredContract struct {
	Address string `json:"address"`
	// IsPaused only ever reflects an on-chain paused() read.
	IsPaused       bool     `json:"isPaused"`
	TotalEvents    int      `json:"totalEvents"`
	LastActivity   int64    `json:"lastActivity"`
	RiskScore      *int     `json:"riskScore,omitempty"`
	State          State    `json:"state"`
	Owner          string   `json:"owner,omitempty"`
	ScanConfidence float64  `json:"scanConfidence"`
	Findings       []string `json:"findings,omitempty"`

	// resumeTo is the state restored when the owner unpauses.
	resumeTo State
}

// RoleChecker answers whether account may call pause() on contract.
// *executor.EthContract satisfies it.
type RoleChecker interface {
	HasPauseRight(ctx context.Context, contract, account common.Address) (bool, error)
}

// PauseReader performs the authoritative paused() read.
type PauseReader interface {
	Paused(ctx context.Context, contract common.Address) (bool, error)
}

// Registry owns the set of monitored contracts. All state lives under mu.
type Registry struct {
	scanner  Scanner
	roles    RoleChecker
	reader   PauseReader
	operator common.Address
	timeout  time.Duration
	logger   zerolog.Logger

	mu        sync.RWMutex
	contracts map[common.Address]*MonitoredContract

	wg sync.WaitGroup
}

// Options wires the registry's collaborators. Any of them may be nil.
type Options struct {
	Scanner Scanner
	Roles   RoleChecker
	Reader  PauseReader
	// Operator is the executor identity that must hold the pause role.
	Operator common.Address
	// Timeout bounds background work started from monitor messages.
	Timeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, logger zerolog.Logger) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Registry{
		scanner:   opts.Scanner,
		roles:     opts.Roles,
		reader:    opts.Reader,
		operator:  opts.Operator,
		timeout:   opts.Timeout,
		logger:    logger.With().Str("component", "lifecycle").Logger(),
		contracts: make(map[common.Address]*MonitoredContract),
	}
}

// Register takes a contract under protection. The scan never blocks
// progression: when it fails the contract is registered with reduced
// confidence. The contract ends Protected when the operator holds the pause
// role and Registered otherwise.
func (r *Registry) Register(ctx context.Context, addr common.Address, owner string) (MonitoredContract, error) {
	r.mu.Lock()
	if _, exists := r.contracts[addr]; exists {
		r.mu.Unlock()
		return MonitoredContract{}, fmt.Errorf("%w: %s already registered", ErrInvalidTransition, addr.Hex())
	}
	mc := &MonitoredContract{
		Address: core.NormalizeAddress(addr.Hex()),
		State:   StateScanning,
		Owner:   core.NormalizeAddress(owner),
	}
	r.contracts[addr] = mc
	r.mu.Unlock()

	log := r.logger.With().Str("contract", addr.Hex()).Logger()
	log.Info().Msg("scanning contract")
	report, scanErr := r.scan(ctx, addr)

	r.mu.Lock()
	mc, ok := r.contracts[addr]
	if !ok || mc.State != StateScanning {
		// Deregistered while the scan was running.
		r.mu.Unlock()
		return MonitoredContract{}, fmt.Errorf("%w: %s left scanning during registration", ErrInvalidTransition, addr.Hex())
	}
	if scanErr != nil {
		mc.ScanConfidence = ReducedScanConfidence
	} else {
		score := report.RiskScore
		mc.RiskScore = &score
		mc.ScanConfidence = report.Confidence
		mc.Findings = report.Findings
	}
	mc.State = StateRegistered
	r.mu.Unlock()

	if scanErr != nil {
		log.Warn().Err(scanErr).Float64("confidence", ReducedScanConfidence).Msg("scan unavailable, registering with reduced confidence")
	}

	granted, err := r.checkRole(ctx, addr)
	if err != nil {
		log.Warn().Err(err).Msg("pause role check failed, contract stays unpermissioned")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok = r.contracts[addr]
	if !ok {
		return MonitoredContract{}, fmt.Errorf("%w: %s deregistered during registration", ErrInvalidTransition, addr.Hex())
	}
	if granted && mc.State == StateRegistered {
		mc.State = StateProtected
	}
	log.Info().Str("state", string(mc.State)).Float64("scan_confidence", mc.ScanConfidence).Msg("contract registered")
	return *mc, nil
}

// ConfirmPermission re-checks the pause role. A granted role moves a
// Registered contract to Protected; a revoked one moves Protected back to
// Registered. Paused contracts keep their state; the answer decides where
// they resume.
func (r *Registry) ConfirmPermission(ctx context.Context, addr common.Address) (MonitoredContract, error) {
	r.mu.RLock()
	mc, ok := r.contracts[addr]
	var state State
	if ok {
		state = mc.State
	}
	r.mu.RUnlock()
	if !ok {
		return MonitoredContract{}, ErrNotFound
	}
	if state == StateScanning {
		return MonitoredContract{}, fmt.Errorf("%w: %s is still scanning", ErrInvalidTransition, addr.Hex())
	}

	granted, err := r.checkRole(ctx, addr)
	if err != nil {
		return MonitoredContract{}, fmt.Errorf("checking pause role: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok = r.contracts[addr]
	if !ok {
		return MonitoredContract{}, ErrNotFound
	}
	switch {
	case granted && mc.State == StateRegistered:
		mc.State = StateProtected
		r.logger.Info().Str("contract", addr.Hex()).Msg("pause role confirmed, contract protected")
	case !granted && mc.State == StateProtected:
		mc.State = StateRegistered
		r.logger.Warn().Str("contract", addr.Hex()).Msg("pause role missing, contract no longer protected")
	case mc.State == StatePaused && granted:
		mc.resumeTo = StateProtected
	case mc.State == StatePaused:
		mc.resumeTo = StateRegistered
	}
	return *mc, nil
}

// MarkPaused records a paused() read that returned true.
func (r *Registry) MarkPaused(addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok := r.contracts[addr]
	if !ok {
		return ErrNotFound
	}
	switch mc.State {
	case StatePaused:
		mc.IsPaused = true
		return nil
	case StateProtected, StateRegistered:
		mc.resumeTo = mc.State
		mc.State = StatePaused
		mc.IsPaused = true
		mc.LastActivity = time.Now().UnixMilli()
		r.logger.Warn().Str("contract", addr.Hex()).Msg("contract paused")
		return nil
	default:
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, mc.State)
	}
}

// ObserveUnpaused records an owner-side unpause seen on chain. The contract
// returns to the state it was paused from; only ConfirmPermission promotes a
// Registered contract. The system itself never unpauses.
func (r *Registry) ObserveUnpaused(addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok := r.contracts[addr]
	if !ok {
		return ErrNotFound
	}
	if mc.State != StatePaused {
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, mc.State)
	}
	mc.State = mc.resumeTo
	if mc.State == "" {
		mc.State = StateRegistered
	}
	mc.resumeTo = ""
	mc.IsPaused = false
	mc.LastActivity = time.Now().UnixMilli()
	r.logger.Info().Str("contract", addr.Hex()).Str("state", string(mc.State)).Msg("owner unpaused contract")
	return nil
}

// Deregister removes a contract.
func (r *Registry) Deregister(addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contracts[addr]; !ok {
		return ErrNotFound
	}
	delete(r.contracts, addr)
	r.logger.Info().Str("contract", addr.Hex()).Msg("contract deregistered")
	return nil
}

// RecordThreat counts an event against the contract and keeps the highest
// observed score.
func (r *Registry) RecordThreat(addr common.Address, score int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok := r.contracts[addr]
	if !ok {
		return
	}
	mc.TotalEvents++
	if ms := at.UnixMilli(); ms > mc.LastActivity {
		mc.LastActivity = ms
	}
	if mc.RiskScore == nil || score > *mc.RiskScore {
		s := score
		mc.RiskScore = &s
	}
}

// Get returns a copy of one contract.
func (r *Registry) Get(addr common.Address) (MonitoredContract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mc, ok := r.contracts[addr]
	if !ok {
		return MonitoredContract{}, false
	}
	return *mc, true
}

// Contracts returns all contracts ordered by address.
func (r *Registry) Contracts() []MonitoredContract {
	r.mu.RLock()
	out := make([]MonitoredContract, 0, len(r.contracts))
	for _, mc := range r.contracts {
		out = append(out, *mc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Watched implements chain.ContractSet: every contract past scanning.
func (r *Registry) Watched() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.contracts))
	for addr, mc := range r.contracts {
		if mc.State != StateScanning {
			out = append(out, addr)
		}
	}
	return out
}

// IsProtected reports whether the contract is eligible for automatic pause.
func (r *Registry) IsProtected(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mc, ok := r.contracts[addr]
	return ok && mc.State == StateProtected
}

// RecordPauseState implements executor.StateSink.
func (r *Registry) RecordPauseState(_ context.Context, contract common.Address, paused bool) {
	var err error
	if paused {
		err = r.MarkPaused(contract)
	} else if mc, ok := r.Get(contract); ok && mc.State == StatePaused {
		err = r.ObserveUnpaused(contract)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Warn().Err(err).Str("contract", contract.Hex()).Msg("ignoring pause state update")
	}
}

// Refresh reads paused() and records the answer.
func (r *Registry) Refresh(ctx context.Context, contract common.Address) error {
	if r.reader == nil {
		return errors.New("no pause reader configured")
	}
	paused, err := r.reader.Paused(ctx, contract)
	if err != nil {
		return fmt.Errorf("reading paused state: %w", err)
	}
	r.RecordPauseState(ctx, contract, paused)
	return nil
}

// SeedContracts implements stream.ContractSink. Contracts the monitor already
// tracks are added without a scan and have their role checked in the
// background.
func (r *Registry) SeedContracts(addrs []string) {
	for _, s := range addrs {
		if !common.IsHexAddress(s) {
			continue
		}
		addr := common.HexToAddress(s)
		r.mu.Lock()
		if _, exists := r.contracts[addr]; exists {
			r.mu.Unlock()
			continue
		}
		r.contracts[addr] = &MonitoredContract{
			Address:        core.NormalizeAddress(s),
			State:          StateRegistered,
			ScanConfidence: ReducedScanConfidence,
		}
		r.mu.Unlock()

		r.background(func(ctx context.Context) {
			if _, err := r.ConfirmPermission(ctx, addr); err != nil {
				r.logger.Debug().Err(err).Str("contract", addr.Hex()).Msg("role check for seeded contract failed")
			}
		})
	}
}

// AddContract implements stream.ContractSink.
func (r *Registry) AddContract(s string) {
	if !common.IsHexAddress(s) {
		return
	}
	addr := common.HexToAddress(s)
	r.background(func(ctx context.Context) {
		if _, err := r.Register(ctx, addr, ""); err != nil && !errors.Is(err, ErrInvalidTransition) {
			r.logger.Warn().Err(err).Str("contract", addr.Hex()).Msg("registration from monitor failed")
		}
	})
}

// RefreshPauseState implements stream.ContractSink.
func (r *Registry) RefreshPauseState(s string) {
	if !common.IsHexAddress(s) {
		return
	}
	addr := common.HexToAddress(s)
	r.background(func(ctx context.Context) {
		if err := r.Refresh(ctx, addr); err != nil {
			r.logger.Warn().Err(err).Str("contract", addr.Hex()).Msg("pause state refresh failed")
		}
	})
}

// Wait blocks until background work started by monitor messages finishes.
func (r *Registry) Wait() { r.wg.Wait() }

func (r *Registry) background(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (r *Registry) scan(ctx context.Context, addr common.Address) (ScanReport, error) {
	if r.scanner == nil {
		return ScanReport{}, errors.New("no scan service configured")
	}
	return r.scanner.Scan(ctx, addr)
}

func (r *Registry) checkRole(ctx context.Context, addr common.Address) (bool, error) {
	if r.roles == nil {
		return false, errors.New("no role checker configured")
	}
	return r.roles.HasPauseRight(ctx, addr, r.operator)
}
