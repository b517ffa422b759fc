package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"
)

// jobScript serves a scripted sequence of job documents, repeating the last
// one once the script is exhausted.
type jobScript struct {
	mu    sync.Mutex
	jobs  []Job
	polls int
}

func (s *jobScript) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx := s.polls
	if idx >= len(s.jobs) {
		idx = len(s.jobs) - 1
	}
	s.polls++
	job := s.jobs[idx]
	s.mu.Unlock()

	if r.URL.Path != "/translate/jobs/"+job.ID {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (s *jobScript) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func processing(n int) Job {
	return Job{
		ID:        "job-1",
		Status:    StatusProcessing,
		Progress:  float64(n * 10),
		UpdatedAt: time.Date(2024, 1, 1, 0, 0, n, 0, time.UTC).Format(time.RFC3339),
		Meta:      &Meta{Translated: n, Total: 10},
	}
}

func completed() Job {
	return Job{
		ID:           "job-1",
		Status:       StatusCompleted,
		Progress:     100,
		UpdatedAt:    "2024-01-01T00:01:00Z",
		Translations: map[string]map[string]string{"a": {"es": "Hola"}},
		Meta:         &Meta{Cached: 4, Translated: 6, Total: 10},
	}
}

func TestPollBackoffGrowsAndCaps(t *testing.T) {
	script := &jobScript{}
	for i := 0; i < 7; i++ {
		script.jobs = append(script.jobs, processing(i))
	}
	script.jobs = append(script.jobs, completed())

	server := httptest.NewServer(script)
	defer server.Close()

	clock := newFakeClock()
	c := newTestClient(t, Options{
		BaseURL:          server.URL,
		PollInitialDelay: time.Second,
		PollMaxDelay:     10 * time.Second,
		ActivityTimeout:  time.Minute,
	}, clock)

	job, err := c.Poll(context.Background(), "job-1", nil)
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if job.Translations["a"]["es"] != "Hola" {
		t.Errorf("translations = %v", job.Translations)
	}

	want := []time.Duration{
		1 * time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062500 * time.Microsecond,
		7593750 * time.Microsecond,
		10 * time.Second,
	}
	if got := clock.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
	if script.Polls() != 8 {
		t.Errorf("polls = %d, want 8", script.Polls())
	}
}

func TestPollReportsProgressOnlyOnChange(t *testing.T) {
	script := &jobScript{jobs: []Job{processing(2), processing(2), processing(5), processing(5), completed()}}
	// Same counts, new updatedAt: alive but no progress change.
	script.jobs[1].UpdatedAt = "2024-01-01T00:00:03Z"

	server := httptest.NewServer(script)
	defer server.Close()

	c := newTestClient(t, Options{BaseURL: server.URL}, newFakeClock())

	var got []Progress
	if _, err := c.Poll(context.Background(), "job-1", func(p Progress) { got = append(got, p) }); err != nil {
		t.Fatalf("Poll() error: %v", err)
	}

	want := []Progress{
		{Processed: 2, Total: 10, Percent: 20},
		{Processed: 5, Total: 10, Percent: 50},
		{Processed: 10, Total: 10, Percent: 100},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("progress = %+v, want %+v", got, want)
	}
}

func TestPollIgnoresPercentOnlyChanges(t *testing.T) {
	script := &jobScript{jobs: []Job{processing(2), processing(2), completed()}}
	// Percentage moves but meta counts stay at 2/10.
	script.jobs[1].Progress = 35

	server := httptest.NewServer(script)
	defer server.Close()

	c := newTestClient(t, Options{BaseURL: server.URL}, newFakeClock())

	var got []Progress
	if _, err := c.Poll(context.Background(), "job-1", func(p Progress) { got = append(got, p) }); err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	want := []Progress{
		{Processed: 2, Total: 10, Percent: 20},
		{Processed: 10, Total: 10, Percent: 100},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("progress = %+v, want %+v", got, want)
	}
}

func TestSameProgress(t *testing.T) {
	tests := []struct {
		name string
		a, b Progress
		want bool
	}{
		{"percent only with counts", Progress{2, 10, 20}, Progress{2, 10, 35}, true},
		{"processed moved", Progress{2, 10, 20}, Progress{3, 10, 20}, false},
		{"total moved", Progress{2, 10, 20}, Progress{2, 12, 20}, false},
		{"percent without counts", Progress{0, 0, 20}, Progress{0, 0, 35}, false},
		{"same percent without counts", Progress{0, 0, 20}, Progress{0, 0, 20}, true},
	}
	for _, tt := range tests {
		if got := sameProgress(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: sameProgress() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPollActivityTimeout(t *testing.T) {
	// The job never changes: same updatedAt, same progress.
	script := &jobScript{jobs: []Job{processing(3)}}
	server := httptest.NewServer(script)
	defer server.Close()

	clock := newFakeClock()
	c := newTestClient(t, Options{
		BaseURL:          server.URL,
		PollInitialDelay: time.Second,
		PollMaxDelay:     10 * time.Second,
		ActivityTimeout:  5 * time.Second,
	}, clock)

	_, err := c.Poll(context.Background(), "job-1", nil)
	if KindOf(err) != KindTimeout {
		t.Fatalf("Poll() error = %v (kind %v), want timeout", err, KindOf(err))
	}
	// Polls at t=0, 1, 2.5, 4.75, 8.125; the last exceeds 5s of silence.
	if script.Polls() != 5 {
		t.Errorf("polls = %d, want 5", script.Polls())
	}
}

func TestPollSlowButAliveJobDoesNotTimeOut(t *testing.T) {
	script := &jobScript{}
	for i := 0; i < 10; i++ {
		job := processing(1)
		job.UpdatedAt = time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC).Format(time.RFC3339)
		script.jobs = append(script.jobs, job)
	}
	script.jobs = append(script.jobs, completed())

	server := httptest.NewServer(script)
	defer server.Close()

	clock := newFakeClock()
	c := newTestClient(t, Options{
		BaseURL:          server.URL,
		PollInitialDelay: time.Second,
		PollMaxDelay:     time.Second,
		ActivityTimeout:  2 * time.Second,
	}, clock)

	if _, err := c.Poll(context.Background(), "job-1", nil); err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	var total time.Duration
	for _, d := range clock.Sleeps() {
		total += d
	}
	if total <= 2*time.Second {
		t.Fatalf("test should run longer than the activity timeout, ran %v", total)
	}
}

func TestPollFailedJob(t *testing.T) {
	failed := Job{ID: "job-1", Status: StatusFailed, UpdatedAt: "x", ErrorMessage: "Insufficient credits"}
	server := httptest.NewServer(&jobScript{jobs: []Job{processing(1), failed}})
	defer server.Close()

	c := newTestClient(t, Options{BaseURL: server.URL}, newFakeClock())
	job, err := c.Poll(context.Background(), "job-1", nil)
	if KindOf(err) != KindInsufficientCredits {
		t.Fatalf("Poll() kind = %v, want insufficient credits", KindOf(err))
	}
	if job == nil || job.Status != StatusFailed {
		t.Errorf("failed job should be returned, got %#v", job)
	}
}

func TestPollToleratesTransientNetworkFailures(t *testing.T) {
	server := httptest.NewServer(&jobScript{jobs: []Job{completed()}})
	defer server.Close()

	ft := &flakyTransport{fail: 2, next: server.Client().Transport}
	c := newTestClient(t, Options{
		BaseURL:    server.URL,
		HTTPClient: &http.Client{Transport: ft},
		MaxRetries: 3,
	}, newFakeClock())

	if _, err := c.Poll(context.Background(), "job-1", nil); err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if ft.Calls() != 3 {
		t.Errorf("calls = %d, want 3", ft.Calls())
	}
}

func TestPollGivesUpAfterConsecutiveNetworkFailures(t *testing.T) {
	ft := &flakyTransport{fail: 100, next: http.DefaultTransport}
	c := newTestClient(t, Options{
		BaseURL:         "http://translatr.invalid",
		HTTPClient:      &http.Client{Transport: ft},
		MaxRetries:      3,
		ActivityTimeout: time.Hour,
	}, newFakeClock())

	_, err := c.Poll(context.Background(), "job-1", nil)
	if KindOf(err) != KindNetwork {
		t.Fatalf("Poll() kind = %v, want network", KindOf(err))
	}
	if ft.Calls() != 3 {
		t.Errorf("calls = %d, want 3", ft.Calls())
	}
}

func TestPollStopsOnHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Job not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, Options{BaseURL: server.URL}, newFakeClock())
	if _, err := c.Poll(context.Background(), "missing", nil); KindOf(err) != KindNotFound {
		t.Fatalf("Poll() kind = %v, want not found", KindOf(err))
	}
}

func TestPollStateIsLocal(t *testing.T) {
	start := time.Unix(0, 0)
	st := newPollState(start, time.Second)

	if _, changed := st.observe(&Job{Status: StatusPending, UpdatedAt: "t1"}, start.Add(time.Second)); !changed {
		t.Error("first observation should count as a change")
	}
	if st.idle(start.Add(3*time.Second), 2*time.Second) {
		t.Error("activity at t=1s should keep the job alive at t=3s")
	}
	if !st.idle(start.Add(4*time.Second), 2*time.Second) {
		t.Error("no activity since t=1s should be idle at t=4s")
	}

	st.advance(1.5, 2*time.Second)
	st.advance(1.5, 2*time.Second)
	if st.delay != 2*time.Second {
		t.Errorf("delay = %v, want capped 2s", st.delay)
	}
}
