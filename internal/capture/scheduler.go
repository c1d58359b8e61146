// Package capture implements the tier-1/tier-2 batch capture scheduler
// (§4.6): periodically sweeping every configured network for sessions whose
// pending balance has crossed the capture threshold (tier 1) or whose
// authorization is nearing expiry (tier 2), and settling them on-chain in as
// few transactions as possible via Multicall3 aggregation. Tier 3, the
// inline synchronous capture triggered by a debit close to expiry, lives in
// internal/session (Engine.capturePending) since it has no batching to do.
package capture

import (
	"context"
	"fmt"
	"time"

	"facilitator/internal/atomicunits"
	"facilitator/internal/chainadapter"
	"facilitator/internal/config"
	"facilitator/internal/db"
	"facilitator/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// NetworkReport summarizes one network's outcome for a single tier sweep.
type NetworkReport struct {
	NetworkID  string         `json:"network_id"`
	Tier       db.CaptureTier `json:"tier"`
	Candidates int            `json:"candidates"`
	Captured   int            `json:"captured"`
	Failed     int            `json:"failed"`
}

// Report summarizes a full scheduler run across every configured network.
type Report struct {
	Networks []NetworkReport `json:"networks"`
}

// Scheduler runs the batch capture sweeps. It holds no state between runs;
// every Run call re-queries eligible sessions fresh.
type Scheduler struct {
	store    db.Database
	escrow   *chainadapter.EscrowClient
	wallet   chainadapter.OperatorWallet
	networks map[string]session.NetworkInfo
	cfg      *config.Config
}

// New constructs a Scheduler bound to store for the ledger, escrow/wallet
// for on-chain submission, networks for the engine's per-network chain
// parameters, and cfg for the tier thresholds and batch size.
func New(store db.Database, escrow *chainadapter.EscrowClient, wallet chainadapter.OperatorWallet, networks map[string]session.NetworkInfo, cfg *config.Config) *Scheduler {
	return &Scheduler{store: store, escrow: escrow, wallet: wallet, networks: networks, cfg: cfg}
}

// Run sweeps tier 1 then tier 2 across every configured network, returning a
// combined report. This is what both the manual /capture trigger and the
// background ticker in internal/server call.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	for _, n := range s.cfg.Networks {
		if !n.Active {
			continue
		}
		candidates, tx, err := s.store.Tier1Candidates(ctx, n.ID, s.cfg.Capture.Tier1Threshold, s.cfg.Capture.BatchSize)
		if err != nil {
			return report, fmt.Errorf("capture: tier1 candidates for %s: %w", n.ID, err)
		}
		nr, err := s.runBatch(ctx, n.ID, db.CaptureTierOne, candidates, tx)
		if err != nil {
			return report, err
		}
		report.Networks = append(report.Networks, nr)
	}

	tier2Before := time.Now().UTC().Add(s.cfg.Capture.Tier2Window)
	for _, n := range s.cfg.Networks {
		if !n.Active {
			continue
		}
		candidates, tx, err := s.store.Tier2Candidates(ctx, n.ID, tier2Before, s.cfg.Capture.BatchSize)
		if err != nil {
			return report, fmt.Errorf("capture: tier2 candidates for %s: %w", n.ID, err)
		}
		nr, err := s.runBatch(ctx, n.ID, db.CaptureTierTwo, candidates, tx)
		if err != nil {
			return report, err
		}
		report.Networks = append(report.Networks, nr)
	}

	return report, nil
}

// batchItem pairs a candidate session with the capture log claiming its
// pending usage, and the amount that claim covers.
type batchItem struct {
	session    *db.Session
	captureLog *db.CaptureLog
	amount     atomicunits.Amount
}

// runBatch claims every candidate's pending usage under the row-lock
// transaction handed back by Tier1Candidates/Tier2Candidates, commits to
// release the locks once every claim is recorded, then submits the batch
// on-chain as a single Multicall3 aggregation (or sequential calls for a
// network with no Multicall3 deployment configured).
func (s *Scheduler) runBatch(ctx context.Context, networkID string, tier db.CaptureTier, candidates []*db.Session, tx pgx.Tx) (NetworkReport, error) {
	nr := NetworkReport{NetworkID: networkID, Tier: tier, Candidates: len(candidates)}
	if len(candidates) == 0 {
		return nr, tx.Commit(ctx)
	}

	items := make([]batchItem, 0, len(candidates))
	for _, c := range candidates {
		pending, err := s.store.ListPendingUsageLogs(ctx, c.ID)
		if err != nil {
			tx.Rollback(ctx) //nolint:errcheck
			return nr, fmt.Errorf("capture: failed to list pending usage for %s: %w", c.SessionID, err)
		}
		if len(pending) == 0 {
			continue
		}
		total := atomicunits.Zero
		ids := make([]uuid.UUID, 0, len(pending))
		for _, l := range pending {
			total = atomicunits.Add(total, l.Amount)
			ids = append(ids, l.ID)
		}
		captureLog, err := s.store.CreateCaptureLog(ctx, tx, networkID, tier, ids)
		if err != nil {
			tx.Rollback(ctx) //nolint:errcheck
			return nr, fmt.Errorf("capture: failed to claim usage for %s: %w", c.SessionID, err)
		}
		items = append(items, batchItem{session: c, captureLog: captureLog, amount: total})
	}

	if err := tx.Commit(ctx); err != nil {
		return nr, fmt.Errorf("capture: failed to commit batch claim: %w", err)
	}
	if len(items) == 0 {
		return nr, nil
	}

	network, ok := s.networks[networkID]
	if !ok {
		reason := fmt.Sprintf("capture: network %s is not configured on the engine", networkID)
		for _, it := range items {
			s.store.FailCapture(ctx, it.captureLog.ID, reason) //nolint:errcheck
			nr.Failed++
		}
		return nr, nil
	}

	multicall3 := s.multicall3Address(networkID)
	if multicall3 == (common.Address{}) || len(items) == 1 {
		for _, it := range items {
			info := session.PaymentInfoFromSession(it.session)
			result := s.escrow.Capture(ctx, network.Network, info, it.amount.BigInt(), 0)
			if result.Err != nil || result.Reverted || !result.Success {
				reason := captureFailureReason(result)
				s.store.FailCapture(ctx, it.captureLog.ID, reason) //nolint:errcheck
				nr.Failed++
				continue
			}
			sessionCaptured := map[uuid.UUID]string{it.session.ID: it.amount.String()}
			if err := s.store.SyncCapture(ctx, it.captureLog.ID, result.TxHash.Hex(), sessionCaptured); err != nil {
				return nr, fmt.Errorf("capture: failed to sync confirmed capture: %w", err)
			}
			nr.Captured++
		}
		return nr, nil
	}

	calls := make([]chainadapter.MulticallCall, len(items))
	for i, it := range items {
		info := session.PaymentInfoFromSession(it.session)
		data, err := s.escrow.CaptureCallData(info, it.amount.BigInt(), 0)
		if err != nil {
			return nr, fmt.Errorf("capture: failed to pack capture calldata for %s: %w", it.session.SessionID, err)
		}
		calls[i] = chainadapter.MulticallCall{Target: network.EscrowAddress, AllowFailure: true, CallData: data}
	}

	result, perCall := s.wallet.SendMulticall(ctx, network.Network, calls)
	if result.Err != nil || result.Reverted || !result.Success {
		reason := captureFailureReason(result)
		for _, it := range items {
			s.store.FailCapture(ctx, it.captureLog.ID, reason) //nolint:errcheck
			nr.Failed++
		}
		return nr, nil
	}

	for i, it := range items {
		ok := i < len(perCall) && perCall[i].Success
		if !ok {
			s.store.FailCapture(ctx, it.captureLog.ID, "capture call reverted inside aggregated batch") //nolint:errcheck
			nr.Failed++
			continue
		}
		sessionCaptured := map[uuid.UUID]string{it.session.ID: it.amount.String()}
		if err := s.store.SyncCapture(ctx, it.captureLog.ID, result.TxHash.Hex(), sessionCaptured); err != nil {
			return nr, fmt.Errorf("capture: failed to sync confirmed capture: %w", err)
		}
		nr.Captured++
	}
	return nr, nil
}

func captureFailureReason(result chainadapter.TxResult) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	if result.Reverted {
		return "capture transaction reverted"
	}
	return "on-chain capture failed"
}

// multicall3Address returns the Multicall3 deployment address configured
// for networkID, or the zero address if the operator has not set one
// (signaling runBatch to fall back to sequential calls).
func (s *Scheduler) multicall3Address(networkID string) common.Address {
	for _, n := range s.cfg.Networks {
		if n.ID == networkID {
			if n.Multicall3Address == "" {
				return common.Address{}
			}
			return common.HexToAddress(n.Multicall3Address)
		}
	}
	return common.Address{}
}
