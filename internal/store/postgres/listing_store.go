package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const listingColumns = `collection, token_id, seller, price::text, mode,
	auction_end_time, highest_bidder, highest_bid::text, created_at`

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a ListingStore backed by the given pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

func (s *ListingStore) GetListing(ctx context.Context, key domain.ListingKey) (domain.Listing, error) {
	return getListing(ctx, s.pool, key, false)
}

func (s *ListingStore) ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1=1`
	var args []any
	if f.Mode != "" {
		args = append(args, string(f.Mode))
		query += fmt.Sprintf(" AND mode = $%d", len(args))
	}
	if f.Seller != nil {
		args = append(args, f.Seller.Hex())
		query += fmt.Sprintf(" AND seller = $%d", len(args))
	}
	if f.Collection != nil {
		args = append(args, f.Collection.Hex())
		query += fmt.Sprintf(" AND collection = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, collection, token_id"
	query, args = appendPage(query, args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	return scanListings(rows)
}

func (s *ListingStore) ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE mode = 'auction' AND auction_end_time <= $1
		ORDER BY auction_end_time`
	query, args := appendPage(query, []any{now}, limit, 0)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired auctions: %w", err)
	}
	return scanListings(rows)
}

func getListing(ctx context.Context, q querier, key domain.ListingKey, forUpdate bool) (domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE collection = $1 AND token_id = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}
	l, err := scanListing(q.QueryRow(ctx, query, key.Collection.Hex(), key.TokenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", key, err)
	}
	return l, nil
}

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l                domain.Listing
		collection, mode string
		seller           string
		price, bid       string
		endTime          *time.Time
		bidder           *string
	)
	if err := row.Scan(&collection, &l.Key.TokenID, &seller, &price, &mode,
		&endTime, &bidder, &bid, &l.CreatedAt); err != nil {
		return domain.Listing{}, err
	}

	l.Key.Collection = common.HexToAddress(collection)
	l.Seller = common.HexToAddress(seller)
	l.Mode = domain.SaleMode(mode)
	if endTime != nil {
		l.AuctionEndTime = endTime.UTC()
	}
	if bidder != nil {
		b := common.HexToAddress(*bidder)
		l.HighestBidder = &b
	}
	l.CreatedAt = l.CreatedAt.UTC()

	var err error
	if l.Price, err = parseAmount(price); err != nil {
		return domain.Listing{}, err
	}
	if l.HighestBid, err = parseAmount(bid); err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

func scanListings(rows pgx.Rows) ([]domain.Listing, error) {
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: listing rows: %w", err)
	}
	return out, nil
}

var _ domain.ListingStore = (*ListingStore)(nil)
