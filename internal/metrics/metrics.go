// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// auth.Recorderを満たし、認証サービスから利用される。
type Collector struct {
	signupTotal     prometheus.Counter
	signinSuccess   prometheus.Counter
	signinFail      prometheus.Counter
	rateLimited     prometheus.Counter
	sessionsIssued  prometheus.Counter
	sessionRenewals prometheus.Counter
	sessionsRevoked prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signupTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_signup_total",
			Help: "アカウント登録の合計数",
		}),
		signinSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_signin_success_total",
			Help: "サインイン成功の合計数",
		}),
		signinFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_signin_fail_total",
			Help: "サインイン失敗の合計数",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_rate_limited_total",
			Help: "レート制限による拒否の合計数",
		}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_sessions_issued_total",
			Help: "発行されたセッションの合計数",
		}),
		sessionRenewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_session_renewals_total",
			Help: "セッション有効期限の延長回数",
		}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_sessions_revoked_total",
			Help: "無効化されたセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdeck_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.signupTotal,
		c.signinSuccess,
		c.signinFail,
		c.rateLimited,
		c.sessionsIssued,
		c.sessionRenewals,
		c.sessionsRevoked,
		c.httpStatus,
	)

	return c
}

// RecordSignup はアカウント登録を記録する。
func (c *Collector) RecordSignup() {
	c.signupTotal.Inc()
}

// RecordSigninSuccess はサインイン成功を記録する。
func (c *Collector) RecordSigninSuccess() {
	c.signinSuccess.Inc()
}

// RecordSigninFailure はサインイン失敗を記録する。
func (c *Collector) RecordSigninFailure() {
	c.signinFail.Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordSessionRenewed はセッション延長を記録する。
func (c *Collector) RecordSessionRenewed() {
	c.sessionRenewals.Inc()
}

// RecordSessionRevoked はセッション無効化を記録する。
func (c *Collector) RecordSessionRevoked() {
	c.sessionsRevoked.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
