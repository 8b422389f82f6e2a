package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/mintmesh/wallet_layer/internal/chain"
	"github.com/mintmesh/wallet_layer/internal/events"
	"github.com/mintmesh/wallet_layer/internal/metrics"
	"github.com/mintmesh/wallet_layer/internal/retry"
	"github.com/mintmesh/wallet_layer/internal/wallet"
	"github.com/mintmesh/wallet_layer/pkg/logger"
)

// NetworkClient is the network surface the pipeline needs.
type NetworkClient interface {
	Balance(ctx context.Context, account string) (int64, error)
	LatestCheckpoint(ctx context.Context) (chain.Checkpoint, error)
	Height(ctx context.Context) (uint64, error)
	Submit(ctx context.Context, signedTx []byte) (string, error)
	TransactionStatus(ctx context.Context, txID string) (chain.TxStatus, error)
}

// SignerSource yields the active session's signer for a buyer account.
// Implemented by the session manager.
type SignerSource interface {
	// ActiveSigner fails with KindNoActiveSession when no connected
	// session exists for the account.
	ActiveSigner(account string) (wallet.Signer, error)
}

// RewardLedger issues purchase credits. Fire-and-forget collaborator.
type RewardLedger interface {
	AwardCredits(ctx context.Context, account string, amount int64, reason string) error
}

// OwnershipRecorder persists the asset's new owner. Fire-and-forget
// collaborator.
type OwnershipRecorder interface {
	RecordTransfer(ctx context.Context, assetID, newOwner, txRef string) error
}

// HistoryRecorder keeps the client-side settlement audit trail.
type HistoryRecorder interface {
	RecordSettlement(ctx context.Context, req PurchaseRequest, res Result) error
}

// Config wires a Pipeline.
type Config struct {
	Sessions  SignerSource
	Network   NetworkClient
	Rewards   RewardLedger      // optional
	Ownership OwnershipRecorder // optional
	History   HistoryRecorder   // optional
	Bus       *events.Bus       // optional
	Metrics   *metrics.Metrics  // optional
	Logger    logger.Logger

	Rates           Rates
	PlatformAccount string
	// NetworkReserve is the balance buffer kept for network fees, in minor
	// units.
	NetworkReserve int64
	// Decimals converts minor units to whole major units for reward math.
	Decimals int

	SigningTimeout      time.Duration // default 30s
	CheckpointRetry     retry.Policy  // default 3 attempts, 1s apart
	ConfirmPollInterval time.Duration // default 2s
	// SubmitLimiter bounds broadcast rate. Optional.
	SubmitLimiter *rate.Limiter
}

// Pipeline executes purchase settlements.
type Pipeline struct {
	cfg Config
	log logger.Logger
}

// NewPipeline validates the configuration and builds a pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session source required")
	}
	if cfg.Network == nil {
		return nil, fmt.Errorf("network client required")
	}
	if cfg.PlatformAccount == "" {
		return nil, fmt.Errorf("platform account required")
	}
	if err := cfg.Rates.Validate(); err != nil {
		return nil, fmt.Errorf("rates: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.SigningTimeout == 0 {
		cfg.SigningTimeout = 30 * time.Second
	}
	if cfg.CheckpointRetry.MaxAttempts == 0 {
		cfg.CheckpointRetry = retry.Fixed(3, time.Second)
	}
	if cfg.ConfirmPollInterval == 0 {
		cfg.ConfirmPollInterval = 2 * time.Second
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = DefaultDecimals
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger}, nil
}

// Settle runs the full settlement for one purchase and returns a terminal
// result. Failures are typed; the session is left usable for a fresh
// attempt.
func (p *Pipeline) Settle(ctx context.Context, req PurchaseRequest) Result {
	started := time.Now()
	res := p.settle(ctx, req)
	p.finish(ctx, req, res, time.Since(started))
	return res
}

func (p *Pipeline) settle(ctx context.Context, req PurchaseRequest) Result {
	if err := req.Validate(); err != nil {
		return newFailure(asKinded(err), Breakdown{})
	}

	signer, err := p.cfg.Sessions.ActiveSigner(req.BuyerAccount)
	if err != nil {
		return newFailure(asKinded(err), Breakdown{})
	}

	breakdown, err := ComputeBreakdown(req.Price, p.cfg.Rates, req.HasCreator())
	if err != nil {
		return newFailure(asKinded(err), Breakdown{})
	}

	// Balance gate: never construct a transaction the buyer cannot afford.
	needed := req.Price + p.cfg.NetworkReserve
	balance, err := p.cfg.Network.Balance(ctx, req.BuyerAccount)
	if err != nil {
		return newFailure(WrapError(KindNetworkUnavailable, "balance lookup failed", err), breakdown)
	}
	if balance < needed {
		e := NewError(KindInsufficientFunds,
			fmt.Sprintf("balance %d below required %d", balance, needed))
		e.Shortfall = needed - balance
		return newFailure(e, breakdown)
	}

	instructions := BuildInstructions(req, breakdown, p.cfg.PlatformAccount)

	checkpoint, err := p.fetchCheckpoint(ctx)
	if err != nil {
		return newFailure(asKinded(err), breakdown)
	}

	payload, err := encodePayload(instructions, checkpoint)
	if err != nil {
		return newFailure(WrapError(KindInvalidRequest, "encode transaction", err), breakdown)
	}

	txID, err := p.signAndBroadcast(ctx, signer, payload)
	if err != nil {
		return newFailure(asKinded(err), breakdown)
	}

	if err := p.awaitConfirmation(ctx, txID, checkpoint); err != nil {
		return newFailure(asKinded(err), breakdown)
	}

	res := newSuccess(txID, breakdown)
	p.postCommit(req, res)
	return res
}

// fetchCheckpoint acquires a recent checkpoint under the bounded retry
// policy.
func (p *Pipeline) fetchCheckpoint(ctx context.Context) (chain.Checkpoint, error) {
	var cp chain.Checkpoint
	err := p.cfg.CheckpointRetry.Do(ctx, func(ctx context.Context) error {
		var ferr error
		cp, ferr = p.cfg.Network.LatestCheckpoint(ctx)
		return ferr
	})
	if err != nil {
		return chain.Checkpoint{}, WrapError(KindNetworkUnavailable, "checkpoint acquisition failed", err)
	}
	return cp, nil
}

// txPayload is the unsigned transaction the provider signs.
type txPayload struct {
	Checkpoint   string                `json:"checkpoint"`
	Instructions []TransferInstruction `json:"instructions"`
}

func encodePayload(instructions []TransferInstruction, cp chain.Checkpoint) ([]byte, error) {
	return json.Marshal(txPayload{
		Checkpoint:   cp.Reference,
		Instructions: instructions,
	})
}

type signOutcome struct {
	signed []byte
	txID   string
	err    error
}

// signAndBroadcast requests a signature under the signing timeout and
// submits the result. Wallets with the one-call capability broadcast
// themselves. A late answer from a timed-out provider call is discarded.
func (p *Pipeline) signAndBroadcast(ctx context.Context, signer wallet.Signer, payload []byte) (string, error) {
	done := make(chan signOutcome, 1)

	switch s := signer.(type) {
	case wallet.TransactionSender:
		go func() {
			txID, err := s.SignAndSend(ctx, payload)
			done <- signOutcome{txID: txID, err: err}
		}()
	case wallet.TransactionSigner:
		go func() {
			signed, err := s.SignTransaction(ctx, payload)
			done <- signOutcome{signed: signed, err: err}
		}()
	default:
		return "", NewError(KindProviderNotInstalled, "session signer has no signing capability")
	}

	timer := time.NewTimer(p.cfg.SigningTimeout)
	defer timer.Stop()

	var out signOutcome
	select {
	case out = <-done:
	case <-timer.C:
		return "", NewError(KindSigningTimeout, "provider did not answer the signing request")
	case <-ctx.Done():
		return "", WrapError(KindSigningTimeout, "signing interrupted", ctx.Err())
	}

	if out.err != nil {
		var rejected *wallet.ErrUserRejected
		if errors.As(out.err, &rejected) {
			return "", WrapError(KindUserRejected, "user declined in wallet", out.err)
		}
		return "", WrapError(KindSubmissionRejected, "wallet signing failed", out.err)
	}

	// One-call wallets already broadcast.
	if out.txID != "" {
		return out.txID, nil
	}

	if p.cfg.SubmitLimiter != nil {
		if err := p.cfg.SubmitLimiter.Wait(ctx); err != nil {
			return "", WrapError(KindSubmissionRejected, "rate limit wait interrupted", err)
		}
	}

	txID, err := p.cfg.Network.Submit(ctx, out.signed)
	if err != nil {
		// Do not retry broadcast of an already-signed transaction: the
		// caller must rebuild and re-sign.
		return "", WrapError(KindSubmissionRejected, "network rejected transaction", err)
	}
	return txID, nil
}

// awaitConfirmation polls transaction status until confirmation, on-chain
// failure, or the checkpoint's validity horizon passes.
func (p *Pipeline) awaitConfirmation(ctx context.Context, txID string, cp chain.Checkpoint) error {
	ticker := time.NewTicker(p.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return WrapError(KindConfirmationTimeout, "confirmation wait interrupted", ctx.Err())
		case <-ticker.C:
		}

		status, err := p.cfg.Network.TransactionStatus(ctx, txID)
		if err != nil {
			// Transient status errors: keep polling until the horizon.
			p.log.Debug("transaction status check failed", "tx", txID, "error", err)
		} else {
			if status.Found && status.ExecError != "" {
				e := NewError(KindExecutionFailed, "transaction failed on-chain")
				e.Payload = status.ExecError
				return e
			}
			if status.Confirmed {
				return nil
			}
		}

		height, err := p.cfg.Network.Height(ctx)
		if err != nil {
			p.log.Debug("height check failed", "error", err)
			continue
		}
		if height > cp.ValidUntilHeight {
			return NewError(KindConfirmationTimeout,
				fmt.Sprintf("checkpoint expired at height %d before confirmation", cp.ValidUntilHeight))
		}
	}
}

// postCommit fires the best-effort side effects after an on-chain success.
// Their failure never downgrades the settlement outcome and they are not
// retried.
func (p *Pipeline) postCommit(req PurchaseRequest, res Result) {
	credits := req.Price / pow10(p.cfg.Decimals)

	if p.cfg.Rewards != nil && credits > 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := p.cfg.Rewards.AwardCredits(ctx, req.BuyerAccount, credits, "purchase"); err != nil {
				p.log.Warn("buyer reward credit failed", "account", req.BuyerAccount, "error", err)
			}
			if err := p.cfg.Rewards.AwardCredits(ctx, req.SellerAccount, credits, "sale"); err != nil {
				p.log.Warn("seller reward credit failed", "account", req.SellerAccount, "error", err)
			}
		}()
	}

	if p.cfg.Ownership != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := p.cfg.Ownership.RecordTransfer(ctx, req.AssetRef, req.BuyerAccount, res.Reference); err != nil {
				p.log.Warn("ownership record failed", "asset", req.AssetRef, "error", err)
			}
		}()
	}
}

// finish records metrics, history, logs, and events for a terminal result.
func (p *Pipeline) finish(ctx context.Context, req PurchaseRequest, res Result, took time.Duration) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveSettlement(string(res.Outcome), string(res.ErrorKind), took)
	}

	if p.cfg.History != nil {
		if err := p.cfg.History.RecordSettlement(ctx, req, res); err != nil {
			p.log.Warn("settlement history write failed", "settlement", res.ID, "error", err)
		}
	}

	if res.Outcome == OutcomeSuccess {
		p.log.Info("settlement confirmed",
			"settlement", res.ID, "tx", res.Reference, "asset", req.AssetRef, "price", req.Price)
		if p.cfg.Bus != nil {
			_ = p.cfg.Bus.Publish(ctx, events.TopicSettlementCompleted, "settlement", res)
		}
		return
	}

	p.log.Warn("settlement failed",
		"settlement", res.ID, "kind", res.ErrorKind, "asset", req.AssetRef, "error", res.Err)
}

// asKinded normalizes an error into *Error, defaulting unknown errors to
// an invalid request.
func asKinded(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(KindInvalidRequest, err.Error(), err)
}
