package institution

import (
	"context"

	"github.com/pelleum/account-connections/internal/storage"
)

// Reconcile implements spec.md §4.5's reconciliation algorithm: given the
// assets this connection currently tracks (tracked) and a fresh brokerage
// snapshot (snapshot), it deletes rows no longer present upstream, inserts
// rows newly present upstream, and refreshes quantity/average_buy_price for
// everything else — leaving the local asset table's symbol set exactly
// equal to the snapshot's (invariant 3).
func Reconcile(ctx context.Context, assets storage.AssetStore, userID int64, institutionID string, tracked []storage.Asset, snapshot []Holding) error {
	trackedBySymbol := make(map[string]storage.Asset, len(tracked))
	for _, t := range tracked {
		trackedBySymbol[t.AssetSymbol] = t
	}
	snapshotBySymbol := make(map[string]Holding, len(snapshot))
	for _, r := range snapshot {
		snapshotBySymbol[r.AssetSymbol] = r
	}

	for symbol, t := range trackedBySymbol {
		if _, stillHeld := snapshotBySymbol[symbol]; !stillHeld {
			if err := assets.Delete(ctx, storage.AssetDeleteFilter{AssetID: &t.AssetID}); err != nil {
				return err
			}
		}
	}

	inserted := make(map[string]bool)
	for symbol, r := range snapshotBySymbol {
		if _, alreadyTracked := trackedBySymbol[symbol]; alreadyTracked {
			continue
		}
		quantity := r.Quantity
		averageBuyPrice := r.AverageBuyPrice
		if _, err := assets.Upsert(ctx, storage.UpsertAsset{
			UserID:          userID,
			InstitutionID:   institutionID,
			AssetSymbol:     symbol,
			Name:            r.AssetName,
			Quantity:        quantity,
			AverageBuyPrice: &averageBuyPrice,
		}); err != nil {
			return err
		}
		inserted[symbol] = true
	}

	for symbol, r := range snapshotBySymbol {
		if inserted[symbol] {
			continue
		}
		quantity := r.Quantity
		averageBuyPrice := r.AverageBuyPrice
		isUpToDate := true
		if err := assets.Update(ctx, userID, symbol, institutionID, storage.UpdateAsset{
			Quantity:        &quantity,
			AverageBuyPrice: &averageBuyPrice,
			IsUpToDate:      &isUpToDate,
		}); err != nil {
			return err
		}
	}

	return nil
}
