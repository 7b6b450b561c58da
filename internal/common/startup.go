package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/weaveworks/promrus"
)

// DefaultConfigName is the name of the config file looked up in the home directory when no file is given.
const DefaultConfigName = ".bulkload"

// ConfigureLogging sets up logrus for all commands. Log lines are counted per level in the default
// prometheus registry.
func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	hook, err := promrus.NewPrometheusHook()
	if err != nil {
		log.WithError(err).Warn("Log lines will not be counted")
		return
	}
	log.AddHook(hook)
}

// ReadConfigFile reads cfgFile into v, or $HOME/.bulkload.yaml if cfgFile is empty.
// A missing default config file is not an error.
func ReadConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return errors.Wrap(err, "finding home directory")
		}
		v.AddConfigPath(home)
		v.SetConfigName(DefaultConfigName)
	}

	err := v.ReadInConfig()
	if err == nil {
		log.Infof("Using config file %s", v.ConfigFileUsed())
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if cfgFile == "" && errors.As(err, &notFound) {
		return nil
	}
	return errors.Wrap(err, "reading config file")
}

// ServeMetrics serves the metrics of gatherer on /metrics. Port 0 disables serving.
// The returned function stops the server.
func ServeMetrics(port uint16, gatherer prometheus.Gatherer) (shutdown func()) {
	if port == 0 {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return ServeHttp(port, mux)
}

// AddLogFields attaches fields to every subsequent log line that does not set them itself.
func AddLogFields(fields log.Fields) {
	log.AddHook(&fieldsHook{fields: fields})
}

type fieldsHook struct {
	fields log.Fields
}

func (h *fieldsHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *fieldsHook) Fire(entry *log.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

func ServeHttp(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting http server listening on %d", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Errorf("Http server on port %d failed", port)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Infof("Stopping http server listening on %d", port)
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Http server did not shut down cleanly")
		}
	}
}
