package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/car-relay/internal/notify"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total relay events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total undecodable events received",
	})
	notificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_notifications_sent_total",
		Help: "Total notifications rendered, by event type",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, notificationsSent)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "relay-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "car-relay-notifier"
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() { _ = r.Close() }()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		eventsConsumed.Inc()

		var ev notify.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			eventsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}
		deliver(ev)
	}
}

// deliver renders the outbound notification. Delivery is a log line standing
// in for the mail/push provider integration.
func deliver(ev notify.Event) {
	subject := subjectFor(ev)
	if subject == "" {
		return
	}
	log.Printf("notification sent type=%s request_id=%s subject=%q data=%v", ev.Type, ev.RequestID, subject, ev.Data)
	notificationsSent.WithLabelValues(ev.Type).Inc()
}

func subjectFor(ev notify.Event) string {
	switch ev.Type {
	case notify.EventRequestCreated:
		return "Your relocation request is live"
	case notify.EventBidSubmitted:
		return "A driver placed an offer on your request"
	case notify.EventDriverSelected:
		return "You were selected for a relocation job"
	case notify.EventStatusChanged:
		return "Your request status changed to " + ev.Data["status"]
	case notify.EventDriverVerified:
		return "Your driver profile was verified"
	case notify.EventDriverRejected:
		return "Your driver profile needs attention"
	default:
		return ""
	}
}
