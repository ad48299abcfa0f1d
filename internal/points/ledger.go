package points

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/rickshaw-rides/internal/models"
	"github.com/example/rickshaw-rides/internal/observability"
	"github.com/example/rickshaw-rides/internal/payments"
	"github.com/example/rickshaw-rides/internal/storage"
)

// cashTagPrefix marks reward tags that pay out real money via the payout
// client instead of an in-kind reward.
const cashTagPrefix = "cash:"

// Ledger is the append-only points log plus the cached per-rickshaw balance.
// Both are updated together inside one store transaction, never
// independently. Payouts is optional; without it cash-tagged redemptions are
// treated like any other reward.
type Ledger struct {
	Store   storage.Store
	Payouts *payments.PayoutClient
	Log     *slog.Logger
}

// Credit appends a transaction and adjusts the cached balance by the signed
// amount. EARNED and ADJUSTED add, SPENT and EXPIRED subtract.
func (l *Ledger) Credit(ctx context.Context, rickshawID string, rideID *int64, amount int, kind models.TxKind, note string) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: amount must be >= 0", models.ErrValidation)
	}
	tx := models.PointsTx{
		RickshawID: rickshawID,
		RideID:     rideID,
		Kind:       kind,
		Note:       note,
		CreatedAt:  time.Now(),
	}
	switch kind {
	case models.TxEarned, models.TxAdjusted:
		tx.Earned = amount
	case models.TxSpent, models.TxExpired:
		tx.Spent = amount
	default:
		return 0, fmt.Errorf("%w: unknown transaction kind %q", models.ErrValidation, kind)
	}
	return l.Store.AppendPointsTx(ctx, tx)
}

// Redeem debits the balance and appends a SPENT transaction, returning the
// new balance. For cash-tagged rewards the payout is held first and captured
// only after the debit commits, so a lost race on the balance never pays out.
func (l *Ledger) Redeem(ctx context.Context, rickshawID string, amount int, rewardTag string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be > 0", models.ErrValidation)
	}

	var holdID string
	if l.Payouts != nil && strings.HasPrefix(rewardTag, cashTagPrefix) {
		id, err := l.Payouts.Hold(ctx, amount)
		if err != nil {
			return 0, fmt.Errorf("payout hold: %w", err)
		}
		holdID = id
	}

	balance, err := l.Store.RedeemPoints(ctx, rickshawID, amount, "redeemed: "+rewardTag, time.Now())
	if err != nil {
		if holdID != "" {
			if cerr := l.Payouts.Cancel(ctx, holdID); cerr != nil {
				l.Log.Error("payout hold cancel failed", "hold_id", holdID, "error", cerr)
			}
		}
		return balance, err
	}

	if holdID != "" {
		if err := l.Payouts.Capture(ctx, holdID); err != nil {
			// the points are spent; the stuck hold needs manual capture
			l.Log.Error("payout capture failed", "hold_id", holdID, "rickshaw_id", rickshawID, "error", err)
		}
	}

	observability.PointsRedeemed.Add(float64(amount))
	l.Log.Info("points redeemed", "rickshaw_id", rickshawID, "amount", amount, "reward", rewardTag, "balance", balance)
	return balance, nil
}

// AdjustAward is the administrative correction for a reviewed ride: the
// delta versus the recorded award is applied to the balance, the ride is
// forced to COMPLETED, and an ADJUSTED transaction carries the delta.
func (l *Ledger) AdjustAward(ctx context.Context, rideID int64, newPoints int, reason string) (int, error) {
	if newPoints < 0 {
		return 0, fmt.Errorf("%w: points must be >= 0", models.ErrValidation)
	}
	delta, err := l.Store.AdjustAward(ctx, rideID, newPoints, reason, time.Now())
	if err != nil {
		return 0, err
	}
	l.Log.Info("award adjusted", "ride_id", rideID, "new_points", newPoints, "delta", delta, "reason", reason)
	return delta, nil
}

// ExpireOlderThan drains EARNED transactions older than the threshold, one
// EXPIRED transaction per affected rickshaw. Returns the total expired and
// how many rickshaws were touched.
func (l *Ledger) ExpireOlderThan(ctx context.Context, age time.Duration) (int, int, error) {
	now := time.Now()
	total, affected, err := l.Store.ExpireEarnedBefore(ctx, now.Add(-age), now)
	if err != nil {
		return 0, 0, err
	}
	observability.PointsExpired.Add(float64(total))
	l.Log.Info("points expired", "total", total, "rickshaws", affected, "older_than", age.String())
	return total, affected, nil
}
