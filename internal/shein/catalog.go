package shein

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/SinzaXh/Shein-suto-verse/internal/model"
)

// Facets applied when a monitor URL carries none of its own.
const defaultFacets = "genderfilter:Men:verticalsizegroupformat:S:verticalsizegroupformat:M:verticalsizegroupformat:L:verticalsizegroupformat:28:verticalsizegroupformat:30"

var productIDRe = regexp.MustCompile(`/p/(\d+)`)

// ExtractProductID pulls the base product code out of a product URL like
// /p/443336453_pink. Returns "" when the URL has no product path.
func ExtractProductID(productURL string) string {
	m := productIDRe.FindStringSubmatch(productURL)
	if m == nil {
		return ""
	}
	return m[1]
}

type categoryResponse struct {
	Products []struct {
		Code  string `json:"code"`
		Name  string `json:"name"`
		Price struct {
			Value float64 `json:"value"`
		} `json:"price"`
		ColorVariant struct {
			BrandName        string `json:"brandName"`
			OutfitPictureURL string `json:"outfitPictureURL"`
		} `json:"fnlColorVariantData"`
	} `json:"products"`
	Pagination struct {
		TotalNumberOfResults int `json:"totalNumberOfResults"`
		CurrentPage          int `json:"currentPage"`
		NumberOfPages        int `json:"numberOfPages"`
	} `json:"pagination"`
}

// DiscoverProducts fetches the product listing behind a monitor URL. The
// result is capped at the configured maximum and preserves upstream order.
func (c *Client) DiscoverProducts(ctx context.Context, monitorURL, cookies string) ([]model.Product, error) {
	apiURL, err := c.categoryAPIURL(monitorURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	var resp categoryResponse
	if err := c.getJSON(ctx, apiURL, monitorURL, cookies, &resp); err != nil {
		if IsAuthRejected(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	products := make([]model.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		if p.Code == "" {
			continue
		}
		name := strings.TrimSpace(p.ColorVariant.BrandName + " " + p.Name)
		products = append(products, model.Product{
			Code:     p.Code,
			Name:     name,
			Price:    p.Price.Value,
			ImageURL: p.ColorVariant.OutfitPictureURL,
			URL:      c.baseURL + "/p/" + p.Code,
		})
		if len(products) >= c.maxProducts {
			break
		}
	}

	c.log.Debug("discovery completed",
		"url", monitorURL,
		"products", len(products),
		"total_upstream", resp.Pagination.TotalNumberOfResults)
	return products, nil
}

// categoryAPIURL converts a storefront listing URL into its category API
// call, carrying over the listing's facet filters.
func (c *Client) categoryAPIURL(monitorURL string) (string, error) {
	parsed, err := url.Parse(monitorURL)
	if err != nil {
		return "", fmt.Errorf("parse monitor url: %w", err)
	}

	category := categoryCode(parsed.Path)
	if category == "" {
		return "", fmt.Errorf("no category code in %q", monitorURL)
	}

	facets := parsed.Query().Get("facets")
	if facets == "" {
		facets = defaultFacets
	}

	params := url.Values{}
	params.Set("fields", "SITE")
	params.Set("currentPage", "0")
	params.Set("pageSize", strconv.Itoa(c.maxProducts))
	params.Set("format", "json")
	params.Set("platform", "Desktop")
	params.Set("store", "shein")
	params.Set("customerType", "Existing")
	params.Set("advfilter", "true")
	params.Set("facets", facets)
	params.Set("query", ":relevance:"+facets)

	return c.baseURL + "/api/category/" + category + "?" + params.Encode(), nil
}

func categoryCode(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, part := range parts {
		if strings.Contains(strings.ToLower(part), "sverse") {
			return part
		}
	}
	if len(parts) >= 2 && parts[0] == "c" {
		return parts[1]
	}
	if len(parts) >= 1 && parts[len(parts)-1] != "" {
		return parts[len(parts)-1]
	}
	return ""
}

type productDetailResponse struct {
	VariantOptions []struct {
		Code  string `json:"code"`
		Stock struct {
			StockLevelStatus string `json:"stockLevelStatus"`
		} `json:"stock"`
	} `json:"variantOptions"`
}

// ResolveVariant returns the first in-stock size variant of a product.
// ErrNoVariantAvailable is the valid "everything sold out" outcome;
// transport and parse faults surface as ErrResolveFailed.
func (c *Client) ResolveVariant(ctx context.Context, productCode, cookies string) (string, error) {
	detailURL := c.baseURL + "/api/product/details?productCode=" + url.QueryEscape(productCode)
	referer := c.baseURL + "/p/" + productCode

	var resp productDetailResponse
	if err := c.getJSON(ctx, detailURL, referer, cookies, &resp); err != nil {
		if IsAuthRejected(err) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}

	for _, v := range resp.VariantOptions {
		if v.Code != "" && strings.EqualFold(v.Stock.StockLevelStatus, "inStock") {
			return v.Code, nil
		}
	}
	return "", ErrNoVariantAvailable
}
