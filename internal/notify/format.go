package notify

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// FormatEvent renders a market event as a chat title and body.
func FormatEvent(ev domain.Event) (title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "item: %s\n", ev.Key)

	switch ev.Kind {
	case domain.EventAuctionStarted:
		title = "Auction started"
		fmt.Fprintf(&b, "seller: %s\nstart price: %s\n", ev.Seller.Hex(), amount(ev.Amount))
		if ev.EndTime != nil {
			fmt.Fprintf(&b, "ends: %s\n", ev.EndTime.UTC().Format("2006-01-02 15:04:05 MST"))
		}
	case domain.EventNewBid:
		title = "New bid"
		if ev.Bidder != nil {
			fmt.Fprintf(&b, "bidder: %s\n", ev.Bidder.Hex())
		}
		fmt.Fprintf(&b, "amount: %s\n", amount(ev.Amount))
	case domain.EventAuctionEnded:
		title = "Auction ended"
		if ev.Winner == nil {
			title = "Auction ended without bids"
		} else {
			fmt.Fprintf(&b, "winner: %s\n", ev.Winner.Hex())
		}
		fmt.Fprintf(&b, "amount: %s\nfee: %s\nseller proceeds: %s\n", amount(ev.Amount), amount(ev.Fee), amount(ev.Proceeds))
	case domain.EventItemListed:
		title = "Item listed"
		fmt.Fprintf(&b, "seller: %s\nprice: %s\n", ev.Seller.Hex(), amount(ev.Amount))
	case domain.EventItemUnlisted:
		title = "Item unlisted"
		fmt.Fprintf(&b, "seller: %s\n", ev.Seller.Hex())
	case domain.EventItemSold:
		title = "Item sold"
		if ev.Winner != nil {
			fmt.Fprintf(&b, "buyer: %s\n", ev.Winner.Hex())
		}
		fmt.Fprintf(&b, "amount: %s\nfee: %s\n", amount(ev.Amount), amount(ev.Fee))
	case domain.EventFeeRateChanged:
		b.Reset()
		title = "Fee rate changed"
		if ev.FeeRate != nil {
			fmt.Fprintf(&b, "rate: %d%%\n", *ev.FeeRate)
		}
	default:
		title = string(ev.Kind)
	}
	fmt.Fprintf(&b, "seq: %d", ev.Seq)
	return title, b.String()
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
