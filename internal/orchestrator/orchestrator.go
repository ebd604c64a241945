// Package orchestrator runs the discovery -> dedup -> availability ->
// notify pipeline for one user at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SinzaXh/Shein-suto-verse/internal/model"
	"github.com/SinzaXh/Shein-suto-verse/internal/session"
	"github.com/SinzaXh/Shein-suto-verse/internal/shein"
	"github.com/SinzaXh/Shein-suto-verse/internal/storage"
)

// ErrNeedsRelogin aborts a user's cycle when their session has expired.
// The fleet-wide run continues with the next user.
var ErrNeedsRelogin = errors.New("user needs re-login")

// ApiClient is the slice of the upstream client the pipeline needs.
type ApiClient interface {
	DiscoverProducts(ctx context.Context, monitorURL, cookies string) ([]model.Product, error)
	ResolveVariant(ctx context.Context, productCode, cookies string) (string, error)
	CheckAvailability(ctx context.Context, variantCode, pincode, cookies string) (bool, error)
	Pause(ctx context.Context)
}

// Sessions resolves credentials and records upstream auth rejections.
type Sessions interface {
	Credentials(ctx context.Context, userID int64) (string, error)
	MarkExpired(ctx context.Context, userID int64) error
}

// Dispatcher delivers a notification to the user's out-of-band channel.
type Dispatcher interface {
	Deliver(ctx context.Context, n *model.Notification) error
}

// Summary reports what one user's cycle did.
type Summary struct {
	Discovered  int
	NewPairs    int
	Deliverable int
	Notified    int
	Purged      int64
}

// Orchestrator runs check cycles. Products and pincodes are processed
// strictly sequentially within a user; the randomized pause between
// product-level calls is part of the contract, not an optimization.
type Orchestrator struct {
	store      storage.Storage
	client     ApiClient
	sessions   Sessions
	dispatcher Dispatcher
	log        *slog.Logger
	retention  time.Duration
}

// New creates an Orchestrator with the given retention window for dedup
// entries.
func New(store storage.Storage, client ApiClient, sessions Sessions, dispatcher Dispatcher, retention time.Duration, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		client:     client,
		sessions:   sessions,
		dispatcher: dispatcher,
		log:        log,
		retention:  retention,
	}
}

// CheckUser runs the full pipeline for one user. Configuration is read
// once at the start of the cycle; mutations made by the user while the
// cycle runs take effect on the next one.
func (o *Orchestrator) CheckUser(ctx context.Context, userID int64) (Summary, error) {
	var sum Summary

	purged, err := o.store.PurgeExpired(ctx, userID, time.Now().Add(-o.retention))
	if err != nil {
		return sum, fmt.Errorf("purge expired: %w", err)
	}
	sum.Purged = purged

	urls, err := o.store.ListURLs(ctx, userID)
	if err != nil {
		return sum, fmt.Errorf("list urls: %w", err)
	}
	pincodes, err := o.store.ListPincodes(ctx, userID)
	if err != nil {
		return sum, fmt.Errorf("list pincodes: %w", err)
	}
	if len(urls) == 0 || len(pincodes) == 0 {
		o.log.Debug("nothing to check", "user_id", userID, "urls", len(urls), "pincodes", len(pincodes))
		return sum, nil
	}

	cookies, err := o.sessions.Credentials(ctx, userID)
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return sum, ErrNeedsRelogin
	case errors.Is(err, session.ErrNotAuthenticated):
		cookies = "" // anonymous checks still work with the base cookie set
	case err != nil:
		return sum, fmt.Errorf("load credentials: %w", err)
	}

	for _, monitorURL := range urls {
		if ctx.Err() != nil {
			break
		}
		if err := o.checkURL(ctx, userID, monitorURL, pincodes, cookies, &sum); err != nil {
			if errors.Is(err, ErrNeedsRelogin) {
				return sum, err
			}
			// Transient upstream trouble skips this URL, never the run.
			o.log.Error("url check failed", "user_id", userID, "url", monitorURL, "error", err)
		}
	}

	o.resendPending(ctx, userID, &sum)

	if err := o.store.UpdateLastCheck(ctx, userID, time.Now().UTC()); err != nil {
		o.log.Error("update last check", "user_id", userID, "error", err)
	}
	return sum, nil
}

func (o *Orchestrator) checkURL(ctx context.Context, userID int64, monitorURL string, pincodes []string, cookies string, sum *Summary) error {
	products, err := o.client.DiscoverProducts(ctx, monitorURL, cookies)
	if err != nil {
		if shein.IsAuthRejected(err) {
			return o.expire(ctx, userID)
		}
		return fmt.Errorf("discover: %w", err)
	}
	sum.Discovered += len(products)

	for _, product := range products {
		if ctx.Err() != nil {
			return nil
		}

		pending, err := o.pendingPincodes(ctx, userID, product.Code, pincodes)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			continue
		}
		sum.NewPairs += len(pending)

		o.client.Pause(ctx)
		if err := o.checkProduct(ctx, userID, product, pending, cookies, sum); err != nil {
			if errors.Is(err, ErrNeedsRelogin) {
				return err
			}
			o.log.Warn("product check failed", "user_id", userID, "product", product.Code, "error", err)
		}
	}
	return nil
}

// pendingPincodes filters out pairs that already have a live dedup entry.
func (o *Orchestrator) pendingPincodes(ctx context.Context, userID int64, productCode string, pincodes []string) ([]string, error) {
	var pending []string
	for _, pin := range pincodes {
		checked, err := o.store.AlreadyChecked(ctx, userID, productCode, pin)
		if err != nil {
			return nil, fmt.Errorf("dedup lookup: %w", err)
		}
		if !checked {
			pending = append(pending, pin)
		}
	}
	return pending, nil
}

func (o *Orchestrator) checkProduct(ctx context.Context, userID int64, product model.Product, pending []string, cookies string, sum *Summary) error {
	variant, err := o.client.ResolveVariant(ctx, product.Code, cookies)
	if errors.Is(err, shein.ErrNoVariantAvailable) {
		// Sold out entirely: settle every pending pair as unavailable.
		for _, pin := range pending {
			if err := o.store.MarkChecked(ctx, userID, product.Code, pin, false); err != nil {
				return fmt.Errorf("mark unavailable: %w", err)
			}
		}
		return nil
	}
	if err != nil {
		if shein.IsAuthRejected(err) {
			return o.expire(ctx, userID)
		}
		// Transport fault: leave the pairs unmarked so the next cycle
		// retries them.
		return fmt.Errorf("resolve variant: %w", err)
	}

	for _, pin := range pending {
		if ctx.Err() != nil {
			return nil
		}
		o.client.Pause(ctx)

		deliverable, err := o.client.CheckAvailability(ctx, variant, pin, cookies)
		if err != nil {
			if shein.IsAuthRejected(err) {
				return o.expire(ctx, userID)
			}
			o.log.Warn("availability check failed", "user_id", userID,
				"product", product.Code, "pincode", pin, "error", err)
			continue
		}

		if err := o.recordResult(ctx, userID, product, pin, deliverable, sum); err != nil {
			return err
		}
	}
	return nil
}

// recordResult marks the pair checked and, for a deliverable result,
// creates the notification in the same transaction before attempting
// dispatch. A failed dispatch leaves the record pending for resend.
func (o *Orchestrator) recordResult(ctx context.Context, userID int64, product model.Product, pincode string, deliverable bool, sum *Summary) error {
	res := model.SeenResult{
		UserID:      userID,
		ProductCode: product.Code,
		Pincode:     pincode,
		Deliverable: deliverable,
	}

	var n *model.Notification
	if deliverable {
		n = &model.Notification{
			ID:          uuid.NewString(),
			UserID:      userID,
			ProductURL:  product.URL,
			ProductName: product.Name,
			Pincode:     pincode,
		}
	}

	if err := o.store.SaveResult(ctx, res, n); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if n == nil {
		return nil
	}
	sum.Deliverable++

	if err := o.dispatcher.Deliver(ctx, n); err != nil {
		o.log.Warn("dispatch failed, keeping for resend", "user_id", userID, "notification", n.ID, "error", err)
		return nil
	}
	if err := o.store.MarkDelivered(ctx, n.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	sum.Notified++
	return nil
}

// ResendPending retries every undelivered notification for the user.
func (o *Orchestrator) ResendPending(ctx context.Context, userID int64) (int, error) {
	var sum Summary
	o.resendPending(ctx, userID, &sum)
	return sum.Notified, nil
}

func (o *Orchestrator) resendPending(ctx context.Context, userID int64, sum *Summary) {
	pending, err := o.store.ListPendingNotifications(ctx, userID)
	if err != nil {
		o.log.Error("list pending notifications", "user_id", userID, "error", err)
		return
	}
	for i := range pending {
		n := pending[i]
		if err := o.dispatcher.Deliver(ctx, &n); err != nil {
			o.log.Warn("resend failed", "user_id", userID, "notification", n.ID, "error", err)
			continue
		}
		if err := o.store.MarkDelivered(ctx, n.ID, time.Now().UTC()); err != nil {
			o.log.Error("mark delivered", "user_id", userID, "notification", n.ID, "error", err)
			continue
		}
		sum.Notified++
	}
}

func (o *Orchestrator) expire(ctx context.Context, userID int64) error {
	if err := o.sessions.MarkExpired(ctx, userID); err != nil {
		o.log.Error("mark session expired", "user_id", userID, "error", err)
	}
	return ErrNeedsRelogin
}
