package sir

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", WithTimeout(5*time.Second))
}

func TestAvailableDates(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1.0/pmacct/dates" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"meta":{},"parameters":{},"result":["2026-03-01T00:00:00","2026-03-01T01:00:00"]}`))
	})

	dates, err := c.AvailableDates(context.Background())
	if err != nil {
		t.Fatalf("AvailableDates() error = %v", err)
	}
	if len(dates) != 2 || dates[1].Sub(dates[0]) != time.Hour {
		t.Errorf("AvailableDates() = %v", dates)
	}
}

func TestAvailableDates_Empty(t *testing.T) {
	for name, body := range map[string]string{
		"empty list":     `{"result":[]}`,
		"null result":    `{"result":null}`,
		"missing result": `{"meta":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			})
			if _, err := c.AvailableDates(context.Background()); !errors.Is(err, ErrEmptyResult) {
				t.Errorf("AvailableDates() error = %v, want ErrEmptyResult", err)
			}
		})
	}
}

func TestTopPrefixes(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1.0/analytic/top_prefixes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		want := map[string]string{
			"start_time":        "2026-03-01T00:00:00",
			"end_time":          "2026-03-02T00:00:00",
			"limit_prefixes":    "100",
			"exclude_net_masks": "24",
			"filter_proto":      "4",
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("query %s = %q, want %q", k, got, v)
			}
		}
		if q.Has("net_masks") {
			t.Error("net_masks should be omitted")
		}
		w.Write([]byte(`{"result":[{"key":"10.0.0.0/16","sum_bytes":1200},{"key":"10.1.0.0/16","sum_bytes":900}]}`))
	})

	got, err := c.TopPrefixes(context.Background(), TopPrefixesQuery{
		Start:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local),
		End:             time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local),
		Limit:           100,
		ExcludeNetMasks: []int{24},
		Proto:           4,
	})
	if err != nil {
		t.Fatalf("TopPrefixes() error = %v", err)
	}
	if len(got) != 2 || got[0].Key != "10.0.0.0/16" || got[0].Bytes != 1200 {
		t.Errorf("TopPrefixes() = %+v", got)
	}
}

func TestTopPrefixes_Empty(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[]}`))
	})
	_, err := c.TopPrefixes(context.Background(), TopPrefixesQuery{Limit: 10})
	if !errors.Is(err, ErrEmptyResult) {
		t.Errorf("TopPrefixes() error = %v, want ErrEmptyResult", err)
	}
}

func TestStatusError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database locked", http.StatusInternalServerError)
	})

	err := c.PurgeFlows(context.Background(), time.Now())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("PurgeFlows() error = %v, want StatusError", err)
	}
	if statusErr.Code != http.StatusInternalServerError || !strings.Contains(statusErr.Body, "database locked") {
		t.Errorf("StatusError = %+v", statusErr)
	}
}

func TestPurge(t *testing.T) {
	var paths []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		if got := r.URL.Query().Get("older_than"); got != "2026-02-01T12:00:00" {
			t.Errorf("older_than = %q", got)
		}
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"result":"ok"}`))
	})

	older := time.Date(2026, 2, 1, 12, 0, 0, 0, time.Local)
	if err := c.PurgeBGP(context.Background(), older); err != nil {
		t.Fatalf("PurgeBGP() error = %v", err)
	}
	if err := c.PurgeFlows(context.Background(), older); err != nil {
		t.Fatalf("PurgeFlows() error = %v", err)
	}
	want := []string{"/api/v1.0/pmacct/purge_bgp", "/api/v1.0/pmacct/purge_flows"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestVariable(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1.0/variables/categories/apps/fib_optimizer" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"result":[{"name":"fib_optimizer","category":"apps","content":"{\"age\": 168}"}]}`))
	})

	v, err := c.Variable(context.Background(), "apps", "fib_optimizer")
	if err != nil {
		t.Fatalf("Variable() error = %v", err)
	}
	if v.Content != `{"age": 168}` {
		t.Errorf("Content = %q", v.Content)
	}
}

func TestVariable_NotUnique(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[{"name":"a"},{"name":"b"}]}`))
	})
	if _, err := c.Variable(context.Background(), "apps", "fib_optimizer"); err == nil {
		t.Error("Variable() should fail when more than one variable matches")
	}
}

func TestContextTimeout(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.AvailableDates(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AvailableDates() error = %v, want deadline exceeded", err)
	}
}
