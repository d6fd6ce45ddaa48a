package scrape

import (
	"fmt"
	"regexp"
	"strings"
)

// amazonDomains maps lowercase country codes to the marketplace domain the
// provider should scrape. Unlisted countries fall back to the US marketplace.
var amazonDomains = map[string]string{
	"us": "amazon.com",
	"uk": "amazon.co.uk",
	"gb": "amazon.co.uk",
	"de": "amazon.de",
	"fr": "amazon.fr",
	"it": "amazon.it",
	"es": "amazon.es",
	"ca": "amazon.ca",
	"mx": "amazon.com.mx",
	"br": "amazon.com.br",
	"jp": "amazon.co.jp",
	"cn": "amazon.cn",
	"in": "amazon.in",
	"au": "amazon.com.au",
	"nl": "amazon.nl",
	"se": "amazon.se",
	"pl": "amazon.pl",
	"tr": "amazon.com.tr",
	"ae": "amazon.ae",
	"sa": "amazon.sa",
	"sg": "amazon.sg",
	"eg": "amazon.eg",
	"be": "amazon.com.be",
}

// Domain returns the marketplace domain for a country code, falling back to
// the US domain for unknown codes.
func Domain(country string) string {
	if d, ok := amazonDomains[strings.ToLower(country)]; ok {
		return d
	}
	return amazonDomains["us"]
}

// ProductURL builds the canonical product page URL for an ASIN in a country.
func ProductURL(asin, country string) string {
	return fmt.Sprintf("https://www.%s/dp/%s", Domain(country), asin)
}

// ReviewsURL builds the review listing URL the provider scrapes.
func ReviewsURL(asin, country string) string {
	return fmt.Sprintf("https://www.%s/product-reviews/%s", Domain(country), asin)
}

var (
	asinPattern   = regexp.MustCompile(`/(?:dp|gp/product|product-reviews)/([A-Z0-9]{10})`)
	domainPattern = regexp.MustCompile(`amazon\.([a-z.]+)`)
)

// ParseProductURL extracts the ASIN and country code from a product page
// URL. Unrecognized marketplaces resolve to "us".
func ParseProductURL(rawURL string) (asin, country string, err error) {
	m := asinPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", "", fmt.Errorf("no ASIN in url %q", rawURL)
	}
	asin = m[1]
	country = "us"
	if dm := domainPattern.FindStringSubmatch(rawURL); dm != nil {
		if c, ok := tldToCountry[dm[1]]; ok {
			country = c
		}
	}
	return asin, country, nil
}

// tldToCountry inverts the marketplace table for URL parsing.
var tldToCountry = map[string]string{
	"com":    "us",
	"co.uk":  "uk",
	"de":     "de",
	"fr":     "fr",
	"it":     "it",
	"es":     "es",
	"ca":     "ca",
	"com.mx": "mx",
	"com.br": "br",
	"co.jp":  "jp",
	"cn":     "cn",
	"in":     "in",
	"com.au": "au",
	"nl":     "nl",
	"se":     "se",
	"pl":     "pl",
	"com.tr": "tr",
	"ae":     "ae",
	"sa":     "sa",
	"sg":     "sg",
	"eg":     "eg",
	"com.be": "be",
}
