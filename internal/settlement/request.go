package settlement

import "fmt"

// PurchaseRequest is the immutable input to the settlement pipeline.
// Price is in minor units.
type PurchaseRequest struct {
	BuyerAccount   string `json:"buyer_account"`
	SellerAccount  string `json:"seller_account"`
	CreatorAccount string `json:"creator_account,omitempty"`
	AssetRef       string `json:"asset_ref"`
	Price          int64  `json:"price"`
}

// HasCreator reports whether a royalty leg applies.
func (r PurchaseRequest) HasCreator() bool {
	return r.CreatorAccount != ""
}

// Validate checks the request before pipeline entry.
func (r PurchaseRequest) Validate() error {
	if r.BuyerAccount == "" {
		return NewError(KindInvalidRequest, "buyer account required")
	}
	if r.SellerAccount == "" {
		return NewError(KindInvalidRequest, "seller account required")
	}
	if r.BuyerAccount == r.SellerAccount {
		return NewError(KindInvalidRequest, "buyer and seller must differ")
	}
	if r.AssetRef == "" {
		return NewError(KindInvalidRequest, "asset reference required")
	}
	if r.Price <= 0 {
		return NewError(KindInvalidRequest, fmt.Sprintf("price must be positive, got %d", r.Price))
	}
	return nil
}

// TransferInstruction is one leg of the settlement transaction.
type TransferInstruction struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

// BuildInstructions produces the ordered transfer legs for a purchase:
// buyer to seller, buyer to platform, buyer to creator when a royalty
// applies. The order is fixed for auditability.
func BuildInstructions(req PurchaseRequest, b Breakdown, platformAccount string) []TransferInstruction {
	out := []TransferInstruction{
		{From: req.BuyerAccount, To: req.SellerAccount, Amount: b.SellerAmount, Memo: "sale:" + req.AssetRef},
		{From: req.BuyerAccount, To: platformAccount, Amount: b.PlatformFee, Memo: "platform_fee"},
	}
	if b.CreatorRoyalty > 0 {
		out = append(out, TransferInstruction{
			From: req.BuyerAccount, To: req.CreatorAccount, Amount: b.CreatorRoyalty, Memo: "creator_royalty",
		})
	}
	return out
}
