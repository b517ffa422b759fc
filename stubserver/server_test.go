package stubserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bandapella/translatr-gradle-plugin/catalog"
	"github.com/bandapella/translatr-gradle-plugin/remote"
)

func newClient(t *testing.T, url, key string) *remote.Client {
	t.Helper()
	c, err := remote.NewClient(remote.Options{
		BaseURL:          url,
		APIKey:           key,
		MaxRetries:       1,
		PollInitialDelay: time.Millisecond,
		PollMaxDelay:     time.Millisecond,
		ActivityTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c
}

func TestRejectsWrongAPIKey(t *testing.T) {
	s := New(Options{APIKey: "secret", Languages: []string{"es"}})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	_, err := newClient(t, server.URL, "wrong").FetchCached(context.Background())
	if remote.KindOf(err) != remote.KindInvalidCredential {
		t.Fatalf("FetchCached() error = %v, want invalid credential", err)
	}
}

func TestSubmitPollAndCache(t *testing.T) {
	s := New(Options{APIKey: "secret", Languages: []string{"es", "fr"}, PollsBeforeComplete: 1})
	server := httptest.NewServer(s.Handler())
	defer server.Close()
	c := newClient(t, server.URL, "secret")
	ctx := context.Background()

	id, err := c.Submit(ctx, []remote.Item{{Key: "hello", Entry: remote.Plain("Hello")}}, nil)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	var updates int
	job, err := c.Poll(ctx, id, func(remote.Progress) { updates++ })
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if job.Status != remote.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if got := job.Translations["hello"]["fr"]; got != "[fr] Hello" {
		t.Errorf("fr = %q", got)
	}
	if updates == 0 {
		t.Error("no progress reported")
	}

	cached, err := c.FetchCached(ctx)
	if err != nil {
		t.Fatalf("FetchCached() error: %v", err)
	}
	if got := cached.Translations["hello"]["es"]; got != "[es] Hello" {
		t.Errorf("cached es = %q", got)
	}
	if langs := s.Languages(); len(langs) != 2 {
		t.Errorf("Languages() = %v", langs)
	}
}

func TestSubmitValidation(t *testing.T) {
	s := New(Options{})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	tests := []struct {
		name string
		body string
	}{
		{"no strings", `{"strings":{},"languages":["es"]}`},
		{"no languages", `{"strings":{"a":"A"}}`},
		{"not json", `strings`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/translate", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestUnknownJob(t *testing.T) {
	s := New(Options{})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	_, err := newClient(t, server.URL, "").Poll(context.Background(), "missing", nil)
	if remote.KindOf(err) != remote.KindNotFound {
		t.Fatalf("Poll() error = %v, want not found", err)
	}
}

func TestInjectedFailures(t *testing.T) {
	tests := []struct {
		status int
		want   remote.Kind
	}{
		{http.StatusPaymentRequired, remote.KindInsufficientCredits},
		{http.StatusTooManyRequests, remote.KindRateLimited},
		{http.StatusBadGateway, remote.KindServerError},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			s := New(Options{Languages: []string{"es"}})
			s.SetFailures(Failures{Submit: tt.status})
			server := httptest.NewServer(s.Handler())
			defer server.Close()

			_, err := newClient(t, server.URL, "").Submit(context.Background(),
				[]remote.Item{{Key: "a", Entry: remote.Plain("A")}}, nil)
			if got := remote.KindOf(err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v (err %v)", got, tt.want, err)
			}
			if len(s.Submissions()) != 0 {
				t.Error("failed submission was recorded")
			}
		})
	}
}

func TestMatchingHashReusesCachedText(t *testing.T) {
	calls := 0
	s := New(Options{
		Languages: []string{"es"},
		Translator: func(text, lang string) string {
			calls++
			return Pseudo(text, lang)
		},
	})
	s.Seed(catalog.Result{"a": {"es": "edited by hand"}})
	server := httptest.NewServer(s.Handler())
	defer server.Close()
	c := newClient(t, server.URL, "")
	ctx := context.Background()

	submit := func(hash string) *remote.Job {
		t.Helper()
		id, err := c.Submit(ctx, []remote.Item{{Key: "a", Entry: remote.Hashed("A", hash)}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		job, err := c.Poll(ctx, id, nil)
		if err != nil {
			t.Fatal(err)
		}
		return job
	}

	// Unknown hash: translated.
	if got := submit("h1").Translations["a"]["es"]; got != "[es] A" {
		t.Errorf("first = %q", got)
	}
	// Same hash again: served from the cache without translating.
	before := calls
	job := submit("h1")
	if calls != before {
		t.Error("translator called for an unchanged hash")
	}
	if job.Meta == nil || job.Meta.Cached != 1 {
		t.Errorf("meta = %+v, want one cached entry", job.Meta)
	}
}

func TestFailedJob(t *testing.T) {
	s := New(Options{Languages: []string{"es"}})
	s.SetFailures(Failures{FailJob: "Insufficient credits"})
	server := httptest.NewServer(s.Handler())
	defer server.Close()
	c := newClient(t, server.URL, "")

	id, err := c.Submit(context.Background(), []remote.Item{{Key: "a", Entry: remote.Plain("A")}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Poll(context.Background(), id, nil)
	if remote.KindOf(err) != remote.KindInsufficientCredits {
		t.Fatalf("Poll() error = %v, want insufficient credits", err)
	}
	if len(s.Cached()) != 0 {
		t.Error("failed job must not populate the cache")
	}
}
