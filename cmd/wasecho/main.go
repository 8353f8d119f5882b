// Command wasecho is a WAS worker that echoes request bodies back to
// the peer. It exists to exercise a Session end to end: run it under a
// WAS-speaking web server and point a route at it.
package main

import (
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/linkdata/was"
)

var rootCmd = &cobra.Command{
	Use:   "wasecho",
	Short: "Echo worker speaking the Web Application Socket protocol",
	RunE:  runWorker,
}

var (
	flagControlFD int
	flagInputFD   int
	flagOutputFD  int
	flagDebug     bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&flagControlFD, "control-fd", was.DefaultControlFD, "control channel descriptor")
	flags.IntVar(&flagInputFD, "input-fd", was.DefaultInputFD, "request body descriptor")
	flags.IntVar(&flagOutputFD, "output-fd", was.DefaultOutputFD, "response body descriptor")
	flags.BoolVar(&flagDebug, "debug", false, "enable debug logging on stderr")
}

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wasecho_requests_total",
		Help: "Requests served, by method.",
	}, []string{"method"})
	echoedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wasecho_echoed_bytes_total",
		Help: "Request body bytes echoed back.",
	})
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !flagDebug {
		logger = logger.Level(zerolog.InfoLevel)
	}

	session, err := was.NewSession(flagControlFD, flagInputFD, flagOutputFD)
	if err != nil {
		return err
	}
	session.SetLogger(logger)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		requestsTotal.WithLabelValues(r.Method).Inc()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "wasecho ready\n")
	})
	router.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		requestsTotal.WithLabelValues(r.Method).Inc()
		if ct := r.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		if r.ContentLength >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(r.ContentLength, 10))
		}
		n, err := io.Copy(w, r.Body)
		if err != nil {
			logger.Warn().Err(err).Msg("echo copy")
		}
		echoedBytes.Add(float64(n))
	})
	router.Get("/metrics", promhttp.Handler().ServeHTTP)

	logger.Info().Int("control", flagControlFD).Msg("worker ready")
	return was.Serve(session, router)
}
