package shein

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

type deliveryResponse struct {
	Servicability  *bool `json:"servicability"`
	Serviceable    *bool `json:"serviceable"`
	ProductDetails []struct {
		EddUpper string `json:"eddUpper"`
	} `json:"productDetails"`
}

type cartResponse struct {
	Success    bool   `json:"success"`
	CartID     string `json:"cartId"`
	StatusCode int    `json:"statusCode"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
}

// CheckAvailability reports whether a variant can be delivered to the
// pincode. It asks the delivery-estimate endpoint first and falls back to
// an add-to-cart probe (rolled back afterwards) when that is inconclusive.
// A negative upstream answer is a valid false result, not an error.
func (c *Client) CheckAvailability(ctx context.Context, variantCode, pincode, cookies string) (bool, error) {
	productCode := strings.SplitN(variantCode, "_", 2)[0]
	referer := c.baseURL + "/p/" + productCode

	eddURL := c.baseURL + "/api/edd/checkDeliveryDetails?" + url.Values{
		"productCode": {variantCode},
		"postalCode":  {pincode},
		"quantity":    {"1"},
		"IsExchange":  {"false"},
	}.Encode()

	var delivery deliveryResponse
	err := c.getJSON(ctx, eddURL, referer, cookies, &delivery)
	if err != nil {
		if IsAuthRejected(err) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", ErrAvailabilityCheckFailed, err)
	}

	switch {
	case delivery.Servicability != nil:
		c.logDelivery(variantCode, pincode, *delivery.Servicability)
		return *delivery.Servicability, nil
	case delivery.Serviceable != nil:
		c.logDelivery(variantCode, pincode, *delivery.Serviceable)
		return *delivery.Serviceable, nil
	}

	// Estimate endpoint was inconclusive; probe the cart instead.
	return c.checkViaCart(ctx, variantCode, referer, cookies)
}

func (c *Client) logDelivery(variantCode, pincode string, deliverable bool) {
	c.log.Debug("delivery check", "variant", variantCode, "pincode", pincode, "deliverable", deliverable)
}

// checkViaCart adds the variant to the cart and rolls the change back.
// Success means the variant is purchasable; an explicit out-of-stock
// answer means it is not.
func (c *Client) checkViaCart(ctx context.Context, variantCode, referer, cookies string) (bool, error) {
	addURL := c.baseURL + "/api/cart/add"
	payload := map[string]any{"productCode": variantCode, "quantity": 1}

	var resp cartResponse
	if err := c.postJSON(ctx, addURL, referer, cookies, payload, &resp); err != nil {
		if IsAuthRejected(err) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", ErrAvailabilityCheckFailed, err)
	}

	if resp.Success || resp.CartID != "" {
		c.rollbackCart(ctx, variantCode, referer, cookies)
		return true, nil
	}

	lower := strings.ToLower(resp.ErrorCode + " " + resp.Message)
	if strings.Contains(lower, "outofstock") || strings.Contains(lower, "sold out") {
		return false, nil
	}
	return false, fmt.Errorf("%w: inconclusive cart response (status %d)", ErrAvailabilityCheckFailed, resp.StatusCode)
}

func (c *Client) rollbackCart(ctx context.Context, variantCode, referer, cookies string) {
	removeURL := c.baseURL + "/api/cart/remove"
	payload := map[string]any{"productCode": variantCode}
	if err := c.postJSON(ctx, removeURL, referer, cookies, payload, nil); err != nil {
		// The probe entry will be superseded by the user's own cart
		// activity; failing to remove it is not worth failing the check.
		c.log.Warn("cart rollback failed", "variant", variantCode, "error", err)
	}
}
