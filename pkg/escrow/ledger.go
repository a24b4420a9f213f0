package escrow

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/logging"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

// Store persists ledger state. Commit must apply the snapshot, the payout id
// (when non-empty) and the events in one transaction; a failed commit must
// leave no trace.
type Store interface {
	Commit(snapshot *Escrow, payoutID string, events []Event) error
	Load() (escrows []*Escrow, payoutIDs map[string][]string, lastSeq uint64, err error)
	Close() error
}

// Ledger owns every escrow's funds, status and balances. All mutating
// operations on one escrow are serialized behind a per-escrow lock and are
// all-or-nothing: a validation failure mutates nothing. Getters may run
// concurrently with mutations. Escrows are independent; operations on
// different escrows proceed in parallel.
type Ledger struct {
	logger *logging.ColoredLogger
	vault  TokenVault
	store  Store // optional
	sink   Sink  // optional

	mu      sync.RWMutex
	escrows map[string]*entry

	seq atomic.Uint64
}

type entry struct {
	mu        sync.RWMutex
	escrow    *Escrow
	payoutIDs map[string]struct{}
}

// NewLedger creates a ledger over the given vault. store and sink may be nil.
func NewLedger(logger *logging.ColoredLogger, vault TokenVault, store Store, sink Sink) *Ledger {
	return &Ledger{
		logger:  logger,
		vault:   vault,
		store:   store,
		sink:    sink,
		escrows: make(map[string]*entry),
	}
}

// Restore loads persisted escrows back into memory. Call once before use.
func (l *Ledger) Restore() error {
	if l.store == nil {
		return nil
	}
	escrows, payoutIDs, lastSeq, err := l.store.Load()
	if err != nil {
		return errors.Wrap(err, "failed to restore ledger")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range escrows {
		ids := make(map[string]struct{})
		for _, id := range payoutIDs[e.ID] {
			ids[id] = struct{}{}
		}
		l.escrows[e.ID] = &entry{escrow: e, payoutIDs: ids}
	}
	l.seq.Store(lastSeq)

	l.logger.ComponentInfo(logging.ComponentEscrow, "ledger restored",
		zap.Int("escrows", len(escrows)),
		zap.Uint64("last_event_seq", lastSeq),
	)
	return nil
}

// Create registers a new escrow in the Launched state.
func (l *Ledger) Create(id string, tok, launcher, admin common.Address) (*Escrow, error) {
	if id == "" {
		return nil, errors.NewValidationError("empty escrow id")
	}
	if tok == (common.Address{}) {
		return nil, errors.NewValidationError("invalid token")
	}
	if launcher == (common.Address{}) {
		return nil, errors.NewValidationError("invalid launcher")
	}
	if admin == (common.Address{}) {
		return nil, errors.NewValidationError("invalid admin")
	}

	e := &Escrow{
		ID:       id,
		Token:    tok,
		Status:   Launched,
		Launcher: launcher,
		Admin:    admin,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.escrows[id]; exists {
		return nil, errors.NewValidationError("escrow already exists")
	}
	if l.store != nil {
		if err := l.store.Commit(e, "", nil); err != nil {
			return nil, errors.Wrap(err, "failed to persist escrow")
		}
	}
	l.escrows[id] = &entry{escrow: e, payoutIDs: make(map[string]struct{})}

	l.logger.ComponentInfo(logging.ComponentEscrow, "escrow launched",
		zap.String("escrow_id", id),
		zap.String("token", tok.Hex()),
		zap.String("launcher", launcher.Hex()),
	)
	return e.clone(), nil
}

func (l *Ledger) lookup(id string) (*entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ent, ok := l.escrows[id]
	if !ok {
		return nil, errors.NewNotFoundError("escrow", id)
	}
	return ent, nil
}

// event builds the next event in sequence for an escrow.
func (l *Ledger) event(escrowID string, name EventName, data map[string]interface{}) Event {
	return Event{
		Seq:      l.seq.Add(1),
		EscrowID: escrowID,
		Name:     name,
		At:       time.Now().UTC(),
		Data:     data,
	}
}

// commit persists the mutated snapshot and publishes its events.
// The caller holds the entry lock and has already validated everything.
func (l *Ledger) commit(ent *entry, next *Escrow, payoutID string, events []Event) error {
	if l.store != nil {
		if err := l.store.Commit(next, payoutID, events); err != nil {
			return errors.Wrap(err, "failed to persist escrow mutation")
		}
	}
	ent.escrow = next
	if payoutID != "" {
		ent.payoutIDs[payoutID] = struct{}{}
	}
	if l.sink != nil {
		for _, ev := range events {
			l.sink.Emit(ev)
		}
	}
	return nil
}

// Deposit moves value into custody and raises the accounting balance.
// Legal in any non-terminal state; deposits never change the status and,
// like raw token transfers, emit no event. Setup reports the balance via
// Fund.
func (l *Ledger) Deposit(id string, amount token.Amount) error {
	if amount.IsZero() {
		return errors.NewValidationError("zero deposit")
	}
	ent, err := l.lookup(id)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	e := ent.escrow
	if e.Status.Terminal() {
		return errors.NewInvalidStateError(e.Status.String())
	}

	next := e.clone()
	next.Balance = e.Balance.Add(amount)
	if err := l.commit(ent, next, "", nil); err != nil {
		return err
	}
	if err := l.vault.Credit(e.Token, e.ID, amount); err != nil {
		return errors.NewInternalError("vault credit failed", err)
	}

	l.logger.ComponentInfo(logging.ComponentEscrow, "escrow funded",
		zap.String("escrow_id", id),
		zap.String("amount", amount.String()),
		zap.String("balance", next.Balance.String()),
	)
	return nil
}

// Setup binds oracle roles, fee splits and the manifest pointer, moving the
// escrow from Launched to Pending. Launcher or admin only.
func (l *Ledger) Setup(id string, caller, reputationOracle, recordingOracle, exchangeOracle common.Address,
	reputationFee, recordingFee, exchangeFee uint8, manifestURL, manifestHash string) error {

	ent, err := l.lookup(id)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	e := ent.escrow
	if !e.isLauncherOrAdmin(caller) {
		return errors.NewAuthorizationError(caller.Hex())
	}
	if e.Status != Launched {
		return errors.NewInvalidStateError(e.Status.String())
	}
	if reputationOracle == (common.Address{}) {
		return errors.NewValidationError("invalid reputation oracle")
	}
	if recordingOracle == (common.Address{}) {
		return errors.NewValidationError("invalid recording oracle")
	}
	if exchangeOracle == (common.Address{}) {
		return errors.NewValidationError("invalid exchange oracle")
	}
	if int(reputationFee)+int(recordingFee)+int(exchangeFee) > MaxFeePercentage {
		return errors.NewValidationError("fee percentage out of bounds")
	}

	next := e.clone()
	next.ReputationOracle = reputationOracle
	next.RecordingOracle = recordingOracle
	next.ExchangeOracle = exchangeOracle
	next.ReputationFee = reputationFee
	next.RecordingFee = recordingFee
	next.ExchangeFee = exchangeFee
	next.ManifestURL = manifestURL
	next.ManifestHash = manifestHash
	next.Status = Pending

	events := []Event{
		l.event(id, EventPending, map[string]interface{}{
			"manifestUrl":      manifestURL,
			"manifestHash":     manifestHash,
			"reputationOracle": reputationOracle.Hex(),
			"recordingOracle":  recordingOracle.Hex(),
			"exchangeOracle":   exchangeOracle.Hex(),
		}),
		l.event(id, EventFund, map[string]interface{}{
			"amount": next.Balance.String(),
		}),
	}
	if err := l.commit(ent, next, "", events); err != nil {
		return err
	}

	l.logger.ComponentInfo(logging.ComponentEscrow, "escrow pending",
		zap.String("escrow_id", id),
		zap.String("balance", next.Balance.String()),
	)
	return nil
}

// StoreResults records an intermediate result pointer and declares the
// reservation backing it. Recording oracle or admin only; legal from
// Pending, Partial and ToCancel.
//
// A positive reserve replaces the currently declared reservation and
// requires a result pointer. A zero reserve is a reconcile-only call: the
// existing reservation stays untouched, which is what lets a pending
// cancellation refund the unreserved remainder while the recorded result
// set is still awaiting payout.
func (l *Ledger) StoreResults(id string, caller common.Address, url, hash string, reserve token.Amount) error {
	ent, err := l.lookup(id)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	e := ent.escrow
	if caller != e.RecordingOracle && caller != e.Admin {
		return errors.NewAuthorizationError(caller.Hex())
	}
	if e.Status != Pending && e.Status != Partial && e.Status != ToCancel {
		return errors.NewInvalidStateError(e.Status.String())
	}

	unreserved, err := e.Balance.Sub(e.ReservedFunds)
	if err != nil {
		return errors.NewInternalError("reserved funds exceed balance", err)
	}
	if reserve.Cmp(unreserved) > 0 {
		return errors.NewInsufficientFundsError("insufficient unreserved funds")
	}
	if !reserve.IsZero() {
		if url == "" {
			return errors.NewValidationError("empty url")
		}
		if hash == "" {
			return errors.NewValidationError("empty hash")
		}
	}

	next := e.clone()
	if !reserve.IsZero() {
		next.ReservedFunds = reserve
	}
	if url != "" || hash != "" {
		next.IntermediateResultsURL = url
		next.IntermediateResultsHash = hash
	}

	events := []Event{
		l.event(id, EventIntermediateStorage, map[string]interface{}{
			"url":  url,
			"hash": hash,
		}),
	}

	var refund token.Amount
	if next.Status == ToCancel {
		refund, err = next.Balance.Sub(next.ReservedFunds)
		if err != nil {
			return errors.NewInternalError("reserved funds exceed balance", err)
		}
		if !refund.IsZero() {
			next.Balance = next.ReservedFunds
			events = append(events, l.event(id, EventCancellationRefund, map[string]interface{}{
				"amount": refund.String(),
			}))
		}
		if next.Balance.IsZero() {
			next.Status = Cancelled
			events = append(events, l.event(id, EventCancelled, nil))
		}
	}

	if err := l.commit(ent, next, "", events); err != nil {
		return err
	}
	if !refund.IsZero() {
		if err := l.vault.Transfer(e.Token, e.ID, e.Launcher, refund); err != nil {
			return errors.NewInternalError("cancellation refund transfer failed", err)
		}
	}

	l.logger.ComponentInfo(logging.ComponentEscrow, "results stored",
		zap.String("escrow_id", id),
		zap.String("reserved", next.ReservedFunds.String()),
		zap.String("status", next.Status.String()),
	)
	return nil
}

// BulkPayOut transfers shares of the reserved funds to up to 100 workers.
// Reputation oracle or admin only. payoutID is the caller's idempotency
// key: a repeat is rejected with no side effects. Terminal resolution
// follows the reservation drain and the forceComplete override.
func (l *Ledger) BulkPayOut(id string, caller common.Address, recipients []common.Address,
	amounts []token.Amount, resultURL, resultHash, payoutID string, forceComplete bool) error {

	ent, err := l.lookup(id)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	e := ent.escrow
	if caller != e.ReputationOracle && caller != e.Admin {
		return errors.NewAuthorizationError(caller.Hex())
	}
	if e.ReservedFunds.IsZero() {
		return errors.NewInsufficientFundsError("not enough reserved funds")
	}
	if len(recipients) != len(amounts) {
		return errors.NewValidationError("length mismatch")
	}
	if len(recipients) == 0 {
		return errors.NewValidationError("empty payout")
	}
	if len(recipients) > BulkMaxRecipients {
		return errors.NewValidationError("too many recipients")
	}
	if payoutID == "" {
		return errors.NewValidationError("empty payout id")
	}
	if _, exists := ent.payoutIDs[payoutID]; exists {
		return errors.NewValidationError("payout id already exists")
	}

	total := token.Sum(amounts)
	if total.Cmp(e.ReservedFunds) > 0 {
		return errors.NewInsufficientFundsError("not enough reserved funds")
	}

	next := e.clone()
	next.ReservedFunds, err = e.ReservedFunds.Sub(total)
	if err != nil {
		return errors.NewInternalError("reservation underflow", err)
	}
	next.Balance, err = e.Balance.Sub(total)
	if err != nil {
		return errors.NewInternalError("balance underflow", err)
	}
	if resultURL != "" || resultHash != "" {
		next.FinalResultsURL = resultURL
		next.FinalResultsHash = resultHash
	}

	events := []Event{
		l.event(id, EventBulkTransfer, map[string]interface{}{
			"payoutId": payoutID,
			"count":    len(recipients),
			"total":    total.String(),
		}),
	}

	drained := next.ReservedFunds.IsZero()
	var remainder token.Amount

	if e.Status == ToCancel {
		if drained || forceComplete {
			remainder = next.Balance
			if !remainder.IsZero() {
				events = append(events, l.event(id, EventCancellationRefund, map[string]interface{}{
					"amount": remainder.String(),
				}))
			}
			next.Balance = token.Zero()
			next.ReservedFunds = token.Zero()
			next.Status = Cancelled
			events = append(events, l.event(id, EventCancelled, nil))
		}
	} else {
		if drained || forceComplete {
			remainder = next.Balance
			next.Balance = token.Zero()
			next.ReservedFunds = token.Zero()
			next.Status = Complete
			events = append(events, l.event(id, EventCompleted, nil))
		} else {
			next.Status = Partial
		}
	}

	if err := l.commit(ent, next, payoutID, events); err != nil {
		return err
	}

	// The journal is durable at this point; TokenVault forbids these
	// transfers from failing.
	for i, recipient := range recipients {
		if amounts[i].IsZero() {
			continue
		}
		if err := l.vault.Transfer(e.Token, e.ID, recipient, amounts[i]); err != nil {
			return errors.NewInternalError(
				fmt.Sprintf("payout transfer to %s failed", recipient.Hex()), err)
		}
	}
	if !remainder.IsZero() {
		if err := l.vault.Transfer(e.Token, e.ID, e.Launcher, remainder); err != nil {
			return errors.NewInternalError("remainder transfer failed", err)
		}
	}

	l.logger.ComponentInfo(logging.ComponentEscrow, "bulk payout applied",
		zap.String("escrow_id", id),
		zap.String("payout_id", payoutID),
		zap.Int("recipients", len(recipients)),
		zap.String("total", total.String()),
		zap.String("status", next.Status.String()),
	)
	return nil
}

// Cancel flags the escrow for cancellation. Launcher or admin only, from
// any non-terminal status. No funds move here: the next StoreResults or
// BulkPayOut reconciles the pending cancellation.
func (l *Ledger) Cancel(id string, caller common.Address) error {
	ent, err := l.lookup(id)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	e := ent.escrow
	if !e.isLauncherOrAdmin(caller) {
		return errors.NewAuthorizationError(caller.Hex())
	}
	if e.Status.Terminal() {
		return errors.NewInvalidStateError(e.Status.String())
	}

	next := e.clone()
	next.Status = ToCancel
	events := []Event{l.event(id, EventCancellationRequested, nil)}
	if err := l.commit(ent, next, "", events); err != nil {
		return err
	}

	l.logger.ComponentInfo(logging.ComponentEscrow, "cancellation requested",
		zap.String("escrow_id", id))
	return nil
}

// Complete force-settles all remaining balance to the launcher. Reputation
// oracle or admin only, from Paid, Partial or ToCancel.
func (l *Ledger) Complete(id string, caller common.Address) error {
	ent, err := l.lookup(id)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	e := ent.escrow
	if caller != e.ReputationOracle && caller != e.Admin {
		return errors.NewAuthorizationError(caller.Hex())
	}
	if e.Status != Paid && e.Status != Partial && e.Status != ToCancel {
		return errors.NewInvalidStateError(e.Status.String())
	}

	next := e.clone()
	remainder := next.Balance
	next.Balance = token.Zero()
	next.ReservedFunds = token.Zero()
	next.Status = Complete

	events := []Event{l.event(id, EventCompleted, nil)}
	if err := l.commit(ent, next, "", events); err != nil {
		return err
	}
	if !remainder.IsZero() {
		if err := l.vault.Transfer(e.Token, e.ID, e.Launcher, remainder); err != nil {
			return errors.NewInternalError("completion transfer failed", err)
		}
	}

	l.logger.ComponentInfo(logging.ComponentEscrow, "escrow completed",
		zap.String("escrow_id", id),
		zap.String("returned", remainder.String()),
	)
	return nil
}

// Withdraw recovers custody in excess of the accounting balance (accidental
// over-funding), or the full custody of a foreign token, to the launcher.
// Launcher or admin only.
func (l *Ledger) Withdraw(id string, caller, tok common.Address) (token.Amount, error) {
	ent, err := l.lookup(id)
	if err != nil {
		return token.Zero(), err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	e := ent.escrow
	if !e.isLauncherOrAdmin(caller) {
		return token.Zero(), errors.NewAuthorizationError(caller.Hex())
	}

	custody := l.vault.Balance(tok, e.ID)
	excess := custody
	if tok == e.Token {
		excess, err = custody.Sub(e.Balance)
		if err != nil {
			// Custody below the accounting balance means nothing to recover.
			excess = token.Zero()
		}
	}

	events := []Event{l.event(id, EventWithdraw, map[string]interface{}{
		"token":  tok.Hex(),
		"amount": excess.String(),
	})}
	if err := l.commit(ent, ent.escrow, "", events); err != nil {
		return token.Zero(), err
	}
	if !excess.IsZero() {
		if err := l.vault.Transfer(tok, e.ID, e.Launcher, excess); err != nil {
			return token.Zero(), errors.NewInternalError("withdraw transfer failed", err)
		}
	}

	l.logger.ComponentInfo(logging.ComponentEscrow, "excess withdrawn",
		zap.String("escrow_id", id),
		zap.String("token", tok.Hex()),
		zap.String("amount", excess.String()),
	)
	return excess, nil
}

// Get returns a copy of the escrow.
func (l *Ledger) Get(id string) (*Escrow, error) {
	ent, err := l.lookup(id)
	if err != nil {
		return nil, err
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	return ent.escrow.clone(), nil
}

// GetBalance returns the custody balance, which can exceed the accounting
// balance after a direct vault credit.
func (l *Ledger) GetBalance(id string) (token.Amount, error) {
	ent, err := l.lookup(id)
	if err != nil {
		return token.Zero(), err
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	return l.vault.Balance(ent.escrow.Token, id), nil
}

// RemainingFunds returns the accounting balance.
func (l *Ledger) RemainingFunds(id string) (token.Amount, error) {
	ent, err := l.lookup(id)
	if err != nil {
		return token.Zero(), err
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	return ent.escrow.Balance, nil
}

// ReservedFunds returns the earmarked portion of the balance.
func (l *Ledger) ReservedFunds(id string) (token.Amount, error) {
	ent, err := l.lookup(id)
	if err != nil {
		return token.Zero(), err
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	return ent.escrow.ReservedFunds, nil
}
