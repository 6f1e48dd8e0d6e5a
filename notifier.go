package authflow

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

const redirectAction = "redirect"

type navigatorCell struct {
	nav Navigator
}

// crossTabNotifier lets one tab announce a terminal verification outcome and
// have every other tab navigate itself. Delivery is best-effort and
// fire-and-forget: no ordering, no acknowledgement, and when the broadcast
// primitive is unavailable the whole subsystem degrades to a logged no-op.
type crossTabNotifier struct {
	redis   *redis.Client
	topic   string
	enabled bool
	tabID   string

	// nav is re-read at every delivery so a host that swaps navigators
	// mid-flight always gets its current one invoked.
	nav atomic.Pointer[navigatorCell]

	// mu guards listening and sub so Listen and Close can overlap safely.
	mu        sync.Mutex
	listening bool
	sub       *redis.PubSub
	wg        sync.WaitGroup
	onReceive func(CrossTabMessage)
}

func newCrossTabNotifier(redisClient *redis.Client, cfg NotifierConfig, tabID string) *crossTabNotifier {
	return &crossTabNotifier{
		redis:   redisClient,
		topic:   cfg.Topic,
		enabled: cfg.Enabled,
		tabID:   tabID,
	}
}

// SetNavigator installs the navigation sink. Safe to call at any time,
// including while listening.
func (n *crossTabNotifier) SetNavigator(nav Navigator) {
	n.nav.Store(&navigatorCell{nav: nav})
}

// Listen subscribes this tab to the shared redirect topic. Calling it more
// than once is a no-op: a process-wide guard prevents duplicate handlers.
// Received redirect messages trigger navigation immediately, with no
// debounce and no dedupe; the last message processed wins.
func (n *crossTabNotifier) Listen(ctx context.Context) {
	if n == nil || !n.enabled || n.redis == nil {
		log.Print("authflow: cross-tab notifier unavailable, running single-tab")
		return
	}
	n.mu.Lock()
	if n.listening {
		n.mu.Unlock()
		return
	}
	n.listening = true
	sub := n.redis.Subscribe(ctx, n.topic)
	n.sub = sub
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		for msg := range sub.Channel() {
			n.deliver(msg.Payload)
		}
	}()
}

func (n *crossTabNotifier) deliver(payload string) {
	var msg CrossTabMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return
	}
	if msg.Action != redirectAction {
		return
	}
	// The originating tab already navigated itself.
	if msg.Origin != "" && msg.Origin == n.tabID {
		return
	}

	if n.onReceive != nil {
		n.onReceive(msg)
	}

	if cell := n.nav.Load(); cell != nil && cell.nav != nil {
		cell.nav.Navigate(msg.URL)
	}
}

// AnnounceRedirect publishes a redirect message for every other tab.
// Best-effort: a publish failure is logged, never returned, because the
// originating tab's own flow must not depend on siblings hearing about it.
func (n *crossTabNotifier) AnnounceRedirect(ctx context.Context, reason RedirectReason, url, message string) {
	if n == nil || !n.enabled || n.redis == nil {
		log.Print("authflow: cross-tab announce skipped, notifier unavailable")
		return
	}
	if url == "" {
		url = "/"
	}

	origin := tabIDFromContext(ctx)
	if origin == "" {
		origin = n.tabID
	}

	msg := CrossTabMessage{
		Action:  redirectAction,
		URL:     url,
		Reason:  reason,
		Message: message,
		Origin:  origin,
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if err := n.redis.Publish(ctx, n.topic, encoded).Err(); err != nil {
		log.Print("authflow: cross-tab announce failed")
	}
}

// Close tears down the subscription registered by Listen.
func (n *crossTabNotifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	n.wg.Wait()
}
