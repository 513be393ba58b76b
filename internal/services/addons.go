package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// Webhook addon parameters.
const (
	WebhookParamURL           = "url"
	WebhookParamSecret        = "secret"
	WebhookParamAuthorization = "authorization"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body when the addon has a secret.
const SignatureHeader = "X-Flagpole-Signature"

const (
	webhookTimeout       = 10 * time.Second
	maxWebhookDeliveries = 16
	maxWebhookAttempts   = 3
	webhookRetryInterval = time.Second
	maxWebhookRetryDelay = 30 * time.Second
)

// AddonService manages addon configurations.
type AddonService struct {
	base
}

// List returns all addons.
func (s *AddonService) List(ctx context.Context) ([]model.Addon, error) {
	var ret []model.Addon
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.ListAddons(ctx)
		return
	})
	return ret, err
}

// Get returns one addon.
func (s *AddonService) Get(ctx context.Context, id int64) (model.Addon, error) {
	var ret model.Addon
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.GetAddon(ctx, id)
		return orNotFound(err, "addon", id)
	})
	return ret, err
}

// Create adds an addon.
func (s *AddonService) Create(ctx context.Context, a model.Addon, by string) (model.Addon, error) {
	if err := checkAddon(&a); err != nil {
		return model.Addon{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		a.CreatedAt = w.now
		id, err := w.InsertAddon(ctx, a)
		if err != nil {
			return err
		}
		a.ID = id
		return w.emit(model.Event{Type: model.EventAddonCreated, Data: model.RawJSON(redactAddon(a))})
	})
	return a, err
}

// Update replaces an addon's configuration.
func (s *AddonService) Update(ctx context.Context, a model.Addon, by string) (model.Addon, error) {
	if err := checkAddon(&a); err != nil {
		return model.Addon{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		old, err := w.GetAddon(ctx, a.ID)
		if err != nil {
			return orNotFound(err, "addon", a.ID)
		}
		a.CreatedAt = old.CreatedAt
		if err := w.UpdateAddon(ctx, a); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventAddonUpdated, Data: model.RawJSON(redactAddon(a)),
			PreData: model.RawJSON(redactAddon(old))})
	})
	return a, err
}

// Delete removes an addon.
func (s *AddonService) Delete(ctx context.Context, id int64, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		old, err := w.GetAddon(ctx, id)
		if err != nil {
			return orNotFound(err, "addon", id)
		}
		if err := w.DeleteAddon(ctx, id); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventAddonDeleted, PreData: model.RawJSON(redactAddon(old))})
	})
}

func checkAddon(a *model.Addon) error {
	if a.Parameters == nil {
		a.Parameters = map[string]string{}
	}
	if err := validation.Struct(*a); err != nil {
		return err
	}
	u, err := url.Parse(a.Parameters[WebhookParamURL])
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validation.NewError("parameters.url", "url must be an absolute http or https URL")
	}
	return nil
}

func redactAddon(a model.Addon) model.Addon {
	params := make(map[string]string, len(a.Parameters))
	for k, v := range a.Parameters {
		if k == WebhookParamSecret || k == WebhookParamAuthorization {
			v = "*****"
		}
		params[k] = v
	}
	a.Parameters = params
	return a
}

// WebhookDeliverer posts committed events to the enabled webhook addons that subscribe to them.
// Deliveries run in the background. A delivery that fails with a network error, a 429 or a 5xx
// status is retried with exponential backoff, up to maxWebhookAttempts attempts in all.
type WebhookDeliverer struct {
	store      store.Store
	client     *http.Client
	loggers    ldlog.Loggers
	retryDelay func(attempt int) time.Duration
	sem        chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup
	lock       sync.Mutex
	closed     bool
}

// NewWebhookDeliverer creates a WebhookDeliverer. Subscribe its HandleEvents method to an EventBus.
func NewWebhookDeliverer(st store.Store, client *http.Client, loggers ldlog.Loggers) *WebhookDeliverer {
	return &WebhookDeliverer{
		store:      st,
		client:     client,
		loggers:    loggers,
		retryDelay: webhookBackoff,
		sem:        make(chan struct{}, maxWebhookDeliveries),
		done:       make(chan struct{}),
	}
}

// webhookBackoff returns the delay before retry number attempt, starting at 1.
func webhookBackoff(attempt int) time.Duration {
	delay := webhookRetryInterval
	for i := 1; i < attempt && delay < maxWebhookRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxWebhookRetryDelay {
		delay = maxWebhookRetryDelay
	}
	return delay
}

// HandleEvents starts a delivery for every matching addon and event.
func (d *WebhookDeliverer) HandleEvents(ctx context.Context, events []model.Event) {
	var addons []model.Addon
	err := d.store.View(ctx, func(tx store.Tx) (err error) {
		addons, err = tx.ListAddons(ctx)
		return
	})
	if err != nil {
		d.loggers.Errorf("Unable to read addons for event delivery: %s", err)
		return
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return
	}
	for _, a := range addons {
		for _, e := range events {
			if addonMatches(a, e) {
				d.wg.Add(1)
				go d.deliver(a, e)
			}
		}
	}
}

func addonMatches(a model.Addon, e model.Event) bool {
	if !a.Enabled || a.Provider != model.AddonProviderWebhook {
		return false
	}
	subscribed := false
	for _, t := range a.Events {
		if t == e.Type {
			subscribed = true
			break
		}
	}
	return subscribed && matchesFilter(a.Projects, e.Project) && matchesFilter(a.Environments, e.Environment)
}

func matchesFilter(filter []string, value string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == "*" || f == value {
			return true
		}
	}
	return false
}

func (d *WebhookDeliverer) deliver(a model.Addon, e model.Event) {
	defer d.wg.Done()
	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	body, err := json.Marshal(e)
	if err != nil {
		d.loggers.Errorf("Unable to serialize event %d for addon %d: %s", e.ID, a.ID, err)
		return
	}
	for attempt := 1; ; attempt++ {
		retry, err := d.post(a, body)
		if err == nil {
			d.loggers.Debugf("Delivered %s event %d to addon %d", e.Type, e.ID, a.ID)
			return
		}
		d.loggers.Warnf("Webhook delivery of %s event %d to addon %d %s (attempt %d of %d)",
			e.Type, e.ID, a.ID, err, attempt, maxWebhookAttempts)
		if !retry || attempt >= maxWebhookAttempts {
			return
		}
		select {
		case <-d.done:
			return
		case <-time.After(d.retryDelay(attempt)):
		}
	}
}

// post makes one delivery attempt. It reports whether a failure is worth retrying.
func (d *WebhookDeliverer) post(a model.Addon, body []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Parameters[WebhookParamURL], bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("could not be built: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth := a.Parameters[WebhookParamAuthorization]; auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if secret := a.Parameters[WebhookParamSecret]; secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(secret, body))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retry, fmt.Errorf("got status %d", resp.StatusCode)
	}
	return false, nil
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Wait blocks until every delivery started so far has finished.
func (d *WebhookDeliverer) Wait() {
	d.wg.Wait()
}

// Close stops accepting new deliveries and waits for the running ones.
func (d *WebhookDeliverer) Close() error {
	d.lock.Lock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.lock.Unlock()
	d.wg.Wait()
	return nil
}
