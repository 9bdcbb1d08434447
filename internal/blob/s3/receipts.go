package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Receipts implements domain.ReceiptArchive as JSON objects at
// receipts/<market>.json. A market address can be reused after it closes,
// so a later settlement of the same address is written under
// receipts/<market>/<slot>.json as well.
type Receipts struct {
	w domain.BlobWriter
	r domain.BlobReader
}

var _ domain.ReceiptArchive = (*Receipts)(nil)

// NewReceipts creates an archive over w and r. r may be nil when the
// archive is write-only.
func NewReceipts(w domain.BlobWriter, r domain.BlobReader) *Receipts {
	return &Receipts{w: w, r: r}
}

// LatestPath is the object holding the most recent settlement of market.
func LatestPath(market common.Hash) string {
	return "receipts/" + market.Hex() + ".json"
}

// HistoryPath is the object holding the settlement of market at slot.
func HistoryPath(market common.Hash, slot uint64) string {
	return fmt.Sprintf("receipts/%s/%d.json", market.Hex(), slot)
}

// PutSettlement uploads s to both its history and latest paths.
func (a *Receipts) PutSettlement(ctx context.Context, s domain.Settlement) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("s3blob: marshal receipt: %w", err)
	}
	if err := a.w.Put(ctx, HistoryPath(s.Market, s.Slot), bytes.NewReader(body), "application/json"); err != nil {
		return err
	}
	return a.w.Put(ctx, LatestPath(s.Market), bytes.NewReader(body), "application/json")
}

// Settlement returns the latest archived settlement of market.
func (a *Receipts) Settlement(ctx context.Context, market common.Hash) (domain.Settlement, error) {
	if a.r == nil {
		return domain.Settlement{}, domain.ErrUnsupported
	}
	body, err := a.r.Get(ctx, LatestPath(market))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Settlement{}, domain.ErrNotFound
		}
		return domain.Settlement{}, err
	}
	defer body.Close()

	var s domain.Settlement
	if err := json.NewDecoder(body).Decode(&s); err != nil {
		return domain.Settlement{}, fmt.Errorf("s3blob: decode receipt %s: %w", market.Hex(), err)
	}
	return s, nil
}
