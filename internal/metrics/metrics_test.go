package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
)

func TestStatusBucket(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{422, "4xx"},
		{500, "5xx"},
		{502, "5xx"},
	}
	for _, tt := range cases {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMiddleware_CountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	counter, err := HTTPRequestsTotal.GetMetricWithLabelValues("GET", "/ping", "2xx")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	var before dto.Metric
	if err := counter.Write(&before); err != nil {
		t.Fatalf("read counter: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}

	var after dto.Metric
	if err := counter.Write(&after); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if after.GetCounter().GetValue() != before.GetCounter().GetValue()+1 {
		t.Errorf("counter = %v, want %v", after.GetCounter().GetValue(), before.GetCounter().GetValue()+1)
	}
}

func TestHandler_ExposesNamespace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", Handler())

	DebitsTotal.WithLabelValues("ok").Add(0)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pullpay_debits_total") {
		t.Error("scrape output missing pullpay_debits_total")
	}
}
