package handler

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestAuctionDuration(t *testing.T) {
	d, err := auctionDuration(90)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = auctionDuration(maxDurationSeconds)
	require.NoError(t, err)
	assert.Positive(t, d)

	for _, seconds := range []int64{0, -1, maxDurationSeconds + 1, 18446744074, math.MaxInt64} {
		_, err := auctionDuration(seconds)
		assert.ErrorIs(t, err, domain.ErrInvalidDuration, "seconds=%d", seconds)
	}
}
