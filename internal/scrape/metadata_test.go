package scrape

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewpulse/reviewpulse/internal/errs"
	"github.com/reviewpulse/reviewpulse/internal/product"
)

func TestScrapeMetadataFillsTitleAndImage(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{
		triggerJobID: "meta-1",
		progress:     []Progress{{Status: StatusRunning}, {Status: StatusReady}},
		data:         []RawRecord{{"page": "raw"}},
		payload: Payload{
			ProductName:     "Widget Deluxe",
			ProductImageURL: "https://img.example/widget.jpg",
			Description:     "A widget",
		},
	}
	o, _, products := newOrchestrator(t, scraper)
	o.metadataPollInterval = time.Millisecond

	require.NoError(t, o.ScrapeMetadata(context.Background(), "B0TESTASIN", "us"))

	rec, err := products.Get(context.Background(), "B0TESTASIN", "us")
	require.NoError(t, err)
	require.True(t, rec.HaveProductData)
	require.Equal(t, "Widget Deluxe", rec.ProductTitle)
	require.Equal(t, "A widget", rec.ProductDescription)
}

func TestScrapeMetadataPartialPayloadDegrades(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{
		triggerJobID: "meta-1",
		progress:     []Progress{{Status: StatusReady}},
		data:         []RawRecord{{"page": "raw"}},
		payload:      Payload{ProductName: "Widget Deluxe"},
	}
	o, _, products := newOrchestrator(t, scraper)
	o.metadataPollInterval = time.Millisecond

	err := o.ScrapeMetadata(context.Background(), "B0TESTASIN", "us")
	require.True(t, errs.IsDataIntegrity(err))

	// Nothing was written; the record stays incomplete for a later pass.
	_, err = products.Get(context.Background(), "B0TESTASIN", "us")
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestScrapeMetadataEmptyPayloadDegrades(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{
		triggerJobID: "meta-1",
		progress:     []Progress{{Status: StatusReady}},
		data:         nil,
	}
	o, _, _ := newOrchestrator(t, scraper)
	o.metadataPollInterval = time.Millisecond

	err := o.ScrapeMetadata(context.Background(), "B0TESTASIN", "us")
	require.True(t, errs.IsDataIntegrity(err))
}

func TestScrapeMetadataProviderFailureIsExternal(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{
		triggerJobID: "meta-1",
		progress:     []Progress{{Status: StatusFailed}},
	}
	o, _, _ := newOrchestrator(t, scraper)
	o.metadataPollInterval = time.Millisecond

	err := o.ScrapeMetadata(context.Background(), "B0TESTASIN", "us")
	require.True(t, errs.IsExternalService(err))
}
