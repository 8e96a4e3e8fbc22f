package linkcheck

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/urlguard"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func testChecker() *Checker {
	client := fetch.NewClient(fetch.Config{Guard: urlguard.Guard{AllowPrivate: true}})
	return NewChecker(client, Config{Fetch: fetch.Options{Timeout: 2 * time.Second}})
}

// noNetworkChecker fails the test if any request is sent
func noNetworkChecker(t *testing.T, calls *int32) *Checker {
	client := fetch.NewClient(fetch.Config{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			atomic.AddInt32(calls, 1)
			return nil, errors.New("network disabled")
		}),
	})
	return NewChecker(client, DefaultConfig())
}

func TestCheckRedirectResolvesLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Location", "/new-path")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer srv.Close()

	result := testChecker().Check(context.Background(), srv.URL+"/old/page")
	if result.Status != models.LinkRedirected {
		t.Fatalf("status = %s, want redirected", result.Status)
	}
	if got := models.Deref(result.RedirectURL); got != srv.URL+"/new-path" {
		t.Errorf("redirectUrl = %q, want %q", got, srv.URL+"/new-path")
	}
}

func TestCheckStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/"))
		if code == http.StatusFound {
			w.Header().Set("Location", "https://elsewhere.example/landing")
		}
		w.WriteHeader(code)
	}))
	defer srv.Close()

	tests := []struct {
		code int
		want models.LinkStatus
	}{
		{200, models.LinkOK},
		{204, models.LinkOK},
		{302, models.LinkRedirected},
		{304, models.LinkOK},
		{307, models.LinkBroken}, // no Location
		{404, models.LinkBroken},
		{410, models.LinkBroken},
		{500, models.LinkBroken},
		{503, models.LinkBroken},
	}

	c := testChecker()
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.code), func(t *testing.T) {
			result := c.Check(context.Background(), srv.URL+"/"+strconv.Itoa(tt.code))
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s", result.Status, tt.want)
			}
			if (result.RedirectURL != nil) != (tt.want == models.LinkRedirected) {
				t.Errorf("redirectUrl = %v for status %s", result.RedirectURL, result.Status)
			}
		})
	}
}

func TestCheckNetworkFailureIsBroken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if result := testChecker().Check(context.Background(), "http://"+addr+"/"); result.Status != models.LinkBroken {
		t.Errorf("status = %s, want broken", result.Status)
	}
}

func TestCheckStructural(t *testing.T) {
	tests := []struct {
		url  string
		want models.LinkStatus
	}{
		{"https://twitter.com/user/status/12345", models.LinkOK},
		{"https://x.com/golang/status/1790000000000000000", models.LinkOK},
		{"https://mobile.twitter.com/user/statuses/42", models.LinkOK},
		{"https://twitter.com/user", models.LinkBroken},
		{"https://x.com/", models.LinkBroken},
		{"https://www.reddit.com/r/golang/", models.LinkOK},
		{"https://old.reddit.com/r/golang/comments/abc123/title/", models.LinkOK},
		{"https://www.reddit.com/comments/abc123", models.LinkOK},
		{"https://redd.it/abc123", models.LinkOK},
		{"https://www.reddit.com/settings", models.LinkBroken},
		{"https://www.tiktok.com/@creator/video/7300000000000000000", models.LinkOK},
		{"https://www.tiktok.com/explore/trending/now", models.LinkBroken},
		{"https://www.instagram.com/p/Cabc123/", models.LinkOK},
		{"https://www.instagram.com/", models.LinkBroken},
		{"https://www.facebook.com/somepage/posts/123", models.LinkOK},
		{"https://www.facebook.com/", models.LinkBroken},
		{"https://www.pinterest.com/pin/123456/", models.LinkOK},
		{"https://www.pinterest.com/", models.LinkBroken},
	}

	var calls int32
	c := noNetworkChecker(t, &calls)
	for _, tt := range tests {
		if got := c.Check(context.Background(), tt.url); got.Status != tt.want {
			t.Errorf("Check(%q) = %s, want %s", tt.url, got.Status, tt.want)
		}
	}
	if calls != 0 {
		t.Errorf("structural checks made %d network calls", calls)
	}
}

func TestCheckInvalidURLIsError(t *testing.T) {
	var calls int32
	c := noNetworkChecker(t, &calls)

	for _, raw := range []string{"not a url", "ftp://example.com/file", "http://localhost/admin", "http://10.0.0.1/", "http://[fd00::1]/"} {
		if got := c.Check(context.Background(), raw); got.Status != models.LinkError {
			t.Errorf("Check(%q) = %s, want error", raw, got.Status)
		}
	}
	if calls != 0 {
		t.Errorf("invalid URLs made %d network calls", calls)
	}
}

func TestCheckRecoversPanic(t *testing.T) {
	client := fetch.NewClient(fetch.Config{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			panic("transport exploded")
		}),
	})
	c := NewChecker(client, DefaultConfig())

	if got := c.Check(context.Background(), "https://example.com/"); got.Status != models.LinkError {
		t.Errorf("status = %s, want error", got.Status)
	}
}

type fakeChecker struct {
	times   []time.Time
	results map[string]models.LinkStatus
}

func (f *fakeChecker) Check(ctx context.Context, rawURL string) models.LinkCheckResult {
	f.times = append(f.times, time.Now())
	return models.LinkCheckResult{Status: f.results[rawURL]}
}

func TestSweepIsSerialWithDelay(t *testing.T) {
	fake := &fakeChecker{results: map[string]models.LinkStatus{
		"https://a.example/": models.LinkOK,
		"https://b.example/": models.LinkBroken,
		"https://c.example/": models.LinkRedirected,
		"https://d.example/": models.LinkError,
	}}
	targets := []Target{
		{ID: "1", URL: "https://a.example/"},
		{ID: "2", URL: "https://b.example/"},
		{ID: "3", URL: "https://c.example/"},
		{ID: "4", URL: "https://d.example/"},
	}

	delay := 40 * time.Millisecond
	var reported []string
	summary, err := NewSweeper(fake, delay).Sweep(context.Background(), targets, func(target Target, result models.LinkCheckResult) {
		reported = append(reported, target.ID)
	})
	if err != nil {
		t.Fatalf("Sweep error = %v", err)
	}

	want := Summary{Checked: 4, OK: 1, Broken: 1, Redirected: 1, Errors: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
	if strings.Join(reported, ",") != "1,2,3,4" {
		t.Errorf("reported order = %v", reported)
	}
	for i := 1; i < len(fake.times); i++ {
		if gap := fake.times[i].Sub(fake.times[i-1]); gap < delay {
			t.Errorf("gap between check %d and %d = %s, want >= %s", i-1, i, gap, delay)
		}
	}
}

func TestSweepStopsOnCancel(t *testing.T) {
	fake := &fakeChecker{results: map[string]models.LinkStatus{}}
	targets := []Target{{ID: "1", URL: "u1"}, {ID: "2", URL: "u2"}, {ID: "3", URL: "u3"}}

	ctx, cancel := context.WithCancel(context.Background())
	summary, err := NewSweeper(fake, time.Hour).Sweep(ctx, targets, func(Target, models.LinkCheckResult) {
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if summary.Checked != 1 {
		t.Errorf("checked = %d, want 1", summary.Checked)
	}
}
