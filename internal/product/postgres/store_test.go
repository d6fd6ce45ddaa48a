package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/reviewpulse/reviewpulse/internal/product"
)

func TestUpsertWritesWholeRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	grade := "A"
	fake := 3.2

	p := &product.Product{
		ASIN:                 "B0TESTASIN",
		Country:              "us",
		Status:               "completed",
		Reviews:              []product.Review{{ID: "r1", Rating: 5}},
		ProductTitle:         "Widget",
		ProductImageURL:      "https://img.example/1.jpg",
		ProductDescription:   "A widget",
		TotalReviewsOnAmazon: 120,
		HaveProductData:      true,
		FakePercentage:       &fake,
		Grade:                &grade,
		AmazonRating:         4.6,
		AdjustedRating:       4.4,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	mock.ExpectExec("INSERT INTO products").
		WithArgs(
			p.ASIN,
			p.Country,
			p.Status,
			pgxmock.AnyArg(),
			p.ProductTitle,
			p.ProductImageURL,
			p.ProductDescription,
			p.TotalReviewsOnAmazon,
			p.HaveProductData,
			p.FakePercentage,
			p.Grade,
			p.AmazonRating,
			p.AdjustedRating,
			p.AnalyzedAt,
			p.CreatedAt,
			p.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT asin, country").
		WithArgs("B0MISSING", "us").
		WillReturnRows(pgxmock.NewRows([]string{
			"asin", "country", "status", "reviews", "product_title",
			"product_image_url", "product_description", "total_reviews_on_amazon",
			"have_product_data", "fake_percentage", "grade", "amazon_rating",
			"adjusted_rating", "analyzed_at", "created_at", "updated_at",
		}))

	_, err = store.Get(context.Background(), "B0MISSING", "us")
	require.ErrorIs(t, err, product.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
