package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mweigel/dhtbot/query"
)

type indexHandler struct {
	facade query.Facade
}

func (h indexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.facade.Last()
	if !ok {
		fmt.Fprintln(w, "no data yet")
		return
	}
	fmt.Fprintln(w, rec)
}

// serveDebug runs the local status page and the Prometheus endpoint.
func serveDebug(port int, facade query.Facade) {
	mux := http.NewServeMux()
	mux.Handle("/", indexHandler{facade: facade})
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		log.Printf("Debug server failed: %v", err)
	}
}
