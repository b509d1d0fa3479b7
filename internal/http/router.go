package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopcart/cart-service/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterOptions struct {
	ServiceName string
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
}

func NewRouter(cartHandler *CartHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(ObservabilityMiddleware(opts.Logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(BearerTokenMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/cart", func(r chi.Router) {
		r.Use(UserIDMiddleware)
		r.Get("/", cartHandler.GetCart)
		r.Post("/add", cartHandler.AddProduct)
		r.Put("/update/{itemId}", cartHandler.UpdateQuantity)
		r.Delete("/remove/{itemId}", cartHandler.RemoveItem)
		r.Delete("/clear", cartHandler.ClearCart)
	})

	name := opts.ServiceName
	if name == "" {
		name = "cart-service"
	}
	return otelhttp.NewHandler(r, name)
}
