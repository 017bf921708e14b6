// Package metrics holds Prometheus instruments shared by the site manager
// and the credential service.  All collectors are registered with the
// global registry, so importing this package is enough to expose them on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SiteUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatekey_site_up",
			Help: "1 when the site database is connected, 0 otherwise.",
		}, []string{"site"})

	SiteConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekey_site_connect_attempts_total",
			Help: "Connection attempts per site, by outcome.",
		}, []string{"site", "outcome"})

	KeysIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekey_keys_issued_total",
			Help: "Cumulative number of keys written to personnel records.",
		})

	KeysRevokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekey_keys_revoked_total",
			Help: "Cumulative number of keys cleared, by reason.",
		}, []string{"reason"})

	IssueErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekey_issue_errors_total",
			Help: "Failed issue calls, by reason.",
		}, []string{"reason"})

	PendingRevocations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekey_pending_revocations",
			Help: "Number of armed revocation timers.",
		})
)

func init() {
	prometheus.MustRegister(
		SiteUp,
		SiteConnectAttemptsTotal,
		KeysIssuedTotal,
		KeysRevokedTotal,
		IssueErrorsTotal,
		PendingRevocations,
	)
}
