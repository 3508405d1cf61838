package client

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// clientMetrics are the counters of all clients connected to one server
type clientMetrics struct {
	sent      *metrics.Counter // requests put to the server queue
	replies   *metrics.Counter // replies returned to a caller
	mailman   *metrics.Counter // times a caller took the mailman role
	handoffs  *metrics.Counter // idle recipients woken to take over the mailman role
	delivered *metrics.Counter // replies handed to a waiting recipient
	filed     *metrics.Counter // replies filed into the mailbox
	lost      *metrics.Counter // receive failures on the inbound queue
	errors    *metrics.Counter // error replies taken from the error queue
}

func newClientMetrics(server string) *clientMetrics {
	counter := func(name string) *metrics.Counter {
		return metrics.GetOrCreateCounter(fmt.Sprintf(`syslink_rcm_%s_total{server=%q}`, name, server))
	}
	return &clientMetrics{
		sent:      counter("requests_sent"),
		replies:   counter("replies_received"),
		mailman:   counter("mailman_runs"),
		handoffs:  counter("mailman_handoffs"),
		delivered: counter("mail_delivered"),
		filed:     counter("mail_filed"),
		lost:      counter("lost_messages"),
		errors:    counter("error_replies"),
	}
}

// WriteMetrics writes the counters of all clients in Prometheus text format to w
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
