package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/test", 200, 100*time.Millisecond)
	RecordRequest("POST", "/test", 201, 50*time.Millisecond)
	RecordRequest("GET", "/test", 404, 10*time.Millisecond)
}

func TestRecordRuleExecution(t *testing.T) {
	RecordRuleExecution("shipment.status_changed", "completed")
	RecordRuleExecution("invoice.overdue_check", "failed")
}

func TestRecordAction(t *testing.T) {
	RecordAction("send_notification", "success")
	RecordAction("update_record", "failed")
}

func TestRecordDelivery(t *testing.T) {
	RecordDelivery("email", "sent")
	RecordDelivery("sms", "failed")
	RecordDeliveryAttempt("email")
}

func TestSetDeliveryQueueDepth(t *testing.T) {
	SetDeliveryQueueDepth(10)
	SetDeliveryQueueDepth(0)
}

func TestRecordScheduledRun(t *testing.T) {
	RecordScheduledRun("check_overdue_invoices", "success")
	RecordScheduledRun("backup_database", "failed")
}

func TestHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from metrics handler, got %d", rec.Code)
	}
}

func TestMiddleware(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected middleware to pass through status, got %d", rec.Code)
	}
}
