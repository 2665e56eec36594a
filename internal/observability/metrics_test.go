package observability

import (
	"testing"
	"time"

	"github.com/danmuck/ghostwire/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("ghost-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordQueueItem("server")
	RecordTaskExit(0, 40*time.Millisecond)
	RecordOutputBytes(7)

	before := testutil.ToFloat64(replies.WithLabelValues("MSGACCEPTED"))
	RecordReply("MSGACCEPTED")
	if got := testutil.ToFloat64(replies.WithLabelValues("MSGACCEPTED")); got != before+1 {
		t.Fatalf("reply counter got=%v want=%v", got, before+1)
	}

	SetLiveTasks(3)
	if got := testutil.ToFloat64(liveTasks); got != 3 {
		t.Fatalf("live tasks gauge got=%v", got)
	}

	lost := testutil.ToFloat64(repliesDropped.WithLabelValues("MSGTASK", "full"))
	RecordReplyDrop("MSGTASK", "full")
	if got := testutil.ToFloat64(repliesDropped.WithLabelValues("MSGTASK", "full")); got != lost+1 {
		t.Fatalf("reply drop counter got=%v want=%v", got, lost+1)
	}

	dropped := testutil.ToFloat64(queueDropped)
	RecordQueueDrop()
	if got := testutil.ToFloat64(queueDropped); got != dropped+1 {
		t.Fatalf("drop counter got=%v", got)
	}
}
