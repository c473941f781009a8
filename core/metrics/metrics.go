// Package metrics exposes the bot's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/wgbot/core/logger"
)

// Registry holds every collector registered by this package.
var Registry = prometheus.NewRegistry()

var (
	updates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgbot",
		Name:      "updates_handled_total",
		Help:      "Handled Telegram updates by handler and outcome.",
	}, []string{"handler", "outcome"})

	handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wgbot",
		Name:      "handler_duration_seconds",
		Help:      "Handler latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler"})

	dialogs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgbot",
		Name:      "dialogs_total",
		Help:      "Finished or abandoned dialogs by kind and outcome.",
	}, []string{"dialog", "outcome"})

	menuTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgbot",
		Name:      "menu_transitions_total",
		Help:      "Menu state transitions.",
	}, []string{"from", "to"})

	expiredCallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wgbot",
		Name:      "callbacks_expired_total",
		Help:      "Button presses whose token or state was no longer valid.",
	})

	sendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgbot",
		Name:      "telegram_send_failures_total",
		Help:      "Outbound Telegram calls that failed after retries, by error kind.",
	}, []string{"kind"})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgbot",
		Name:      "rate_limited_total",
		Help:      "Updates dropped by the per-user rate limiter.",
	}, []string{"update"})
)

func init() {
	Registry.MustRegister(
		updates,
		handlerDuration,
		dialogs,
		menuTransitions,
		expiredCallbacks,
		sendFailures,
		rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveHandler records one handled update.
func ObserveHandler(handler, outcome string, took time.Duration) {
	updates.WithLabelValues(handler, outcome).Inc()
	handlerDuration.WithLabelValues(handler).Observe(took.Seconds())
}

// DialogOutcome counts a dialog reaching a terminal state or being abandoned.
func DialogOutcome(dialog, outcome string) {
	dialogs.WithLabelValues(dialog, outcome).Inc()
}

// MenuTransition counts a menu state change.
func MenuTransition(from, to string) {
	menuTransitions.WithLabelValues(from, to).Inc()
}

// CallbackExpired counts a stale button press.
func CallbackExpired() {
	expiredCallbacks.Inc()
}

// SendFailed counts an outbound call given up on.
func SendFailed(kind string) {
	sendFailures.WithLabelValues(kind).Inc()
}

// RateLimited counts an update rejected by the rate limiter.
func RateLimited(update string) {
	rateLimited.WithLabelValues(update).Inc()
}

// Serve exposes /metrics on listen until ctx is cancelled. An empty listen is a no-op.
func Serve(ctx context.Context, listen string) error {
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "app", "metrics.listen", slog.String("listen", listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
