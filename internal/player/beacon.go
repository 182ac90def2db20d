package player

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playgate-tv/playgate/internal/log"
	"github.com/playgate-tv/playgate/internal/metrics"
)

// Notifier delivers tracking callbacks. Delivery is best-effort by
// contract: it never blocks playback and never surfaces failures.
type Notifier interface {
	// Fire dispatches one beacon per URL for the given event.
	Fire(event string, urls []string)
	// FireError dispatches error beacons, substituting the VAST
	// [ERRORCODE] macro with the given numeric code.
	FireError(urls []string, code int)
}

const beaconTimeout = 5 * time.Second

// HTTPNotifier fires beacons as fire-and-forget GET requests.
type HTTPNotifier struct {
	client *http.Client
	ctx    context.Context
	wg     sync.WaitGroup
}

// NewHTTPNotifier creates a Notifier whose in-flight beacons are
// abandoned when ctx is cancelled (player unmount, source switch).
func NewHTTPNotifier(ctx context.Context, client *http.Client) *HTTPNotifier {
	if client == nil {
		client = &http.Client{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &HTTPNotifier{client: client, ctx: ctx}
}

// Fire implements Notifier.
func (n *HTTPNotifier) Fire(event string, urls []string) {
	for _, u := range urls {
		n.dispatch(event, u)
	}
}

// FireError implements Notifier.
func (n *HTTPNotifier) FireError(urls []string, code int) {
	c := strconv.Itoa(code)
	for _, u := range urls {
		u = strings.ReplaceAll(u, "[ERRORCODE]", c)
		u = strings.ReplaceAll(u, "%5BERRORCODE%5D", c)
		n.dispatch("error", u)
	}
}

func (n *HTTPNotifier) dispatch(event, url string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(n.ctx, beaconTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			metrics.IncBeacon(event, false)
			return
		}
		resp, err := n.client.Do(req)
		if err != nil {
			// Swallowed: tracking is never user-visible.
			lg := log.WithComponent("beacon")
			lg.Debug().Err(err).Str("event", event).Str("url", url).
				Msg("beacon delivery failed")
			metrics.IncBeacon(event, false)
			return
		}
		_ = resp.Body.Close()
		metrics.IncBeacon(event, true)
	}()
}

// Flush waits for in-flight beacons; used on graceful shutdown and in
// tests.
func (n *HTTPNotifier) Flush() {
	n.wg.Wait()
}
