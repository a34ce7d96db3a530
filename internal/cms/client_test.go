package cms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingheights/wingsite"
	"github.com/wingheights/wingsite/internal/cache"
	"github.com/wingheights/wingsite/internal/config"
)

const autoPage = `{"data": [{
	"id": 12,
	"attributes": {
		"title": "Auto Insurance",
		"slug": "auto",
		"content2": [
			{"id": 1, "__component": "seo.seo", "metaTitle": "Auto cover", "metaDescription": "Car insurance in Ghana"},
			{"id": 2, "__component": "shared.quote", "text": "Drive safe", "author": "Ama"}
		]
	}
}]}`

func newTestClient(t *testing.T, handler http.HandlerFunc, c cache.Cache) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.CMSConfig{URL: srv.URL + "/", Token: "secret"}, c, nil)
}

func TestFindPageExactSlug(t *testing.T) {
	var gotAuth, gotPopulate string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pages", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotPopulate = r.URL.Query().Get("populate[content2][populate]")
		if r.URL.Query().Get("filters[slug][$eq]") == "auto" {
			w.Write([]byte(autoPage))
			return
		}
		w.Write([]byte(`{"data": []}`))
	}, nil)

	page, err := client.FindPage(context.Background(), "/auto/")
	require.NoError(t, err)
	assert.Equal(t, 12, page.ID)
	assert.Equal(t, "Auto Insurance", page.Title)
	require.Len(t, page.Blocks, 2)
	assert.IsType(t, wingsite.SEOBlock{}, page.Blocks[0])
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "*", gotPopulate)
}

func TestFindPageFallsBackToLastSegment(t *testing.T) {
	var slugs []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("filters[slug][$eq]")
		slugs = append(slugs, slug)
		if slug == "auto" {
			w.Write([]byte(autoPage))
			return
		}
		w.Write([]byte(`{"data": []}`))
	}, nil)

	page, err := client.FindPage(context.Background(), "insurance/auto")
	require.NoError(t, err)
	assert.Equal(t, "auto", page.Slug)
	assert.Equal(t, []string{"insurance/auto", "auto"}, slugs)
}

func TestFindPageTriesLastTwoSegments(t *testing.T) {
	var slugs []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("filters[slug][$eq]")
		slugs = append(slugs, slug)
		if slug == "insurance/auto" {
			w.Write([]byte(autoPage))
			return
		}
		w.Write([]byte(`{"data": []}`))
	}, nil)

	_, err := client.FindPage(context.Background(), "/products/insurance/auto/")
	require.NoError(t, err)
	assert.Equal(t, []string{"products/insurance/auto", "auto", "insurance/auto"}, slugs)
}

func TestSlugCandidates(t *testing.T) {
	assert.Equal(t, []string{"home"}, slugCandidates("home"))
	assert.Equal(t, []string{"a/b", "b"}, slugCandidates("a/b"))
	assert.Equal(t, []string{"a/b/c", "c", "b/c"}, slugCandidates("a/b/c"))
	assert.Equal(t, []string{"a//b", "b", "a/b"}, slugCandidates("a//b"))
}

func TestFindPageEmptyPathIsHome(t *testing.T) {
	var slug string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		slug = r.URL.Query().Get("filters[slug][$eq]")
		w.Write([]byte(`{"data": [{"id": 1, "title": "Home", "slug": "home", "content2": []}]}`))
	}, nil)

	page, err := client.FindPage(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, "home", slug)
	assert.Equal(t, "Home", page.Title)
	assert.Empty(t, page.Blocks)
}

func TestFindPageNotFound(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"data": []}`))
	}, nil)

	_, err := client.FindPage(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wingsite.ErrPageNotFound))
	assert.False(t, IsUnavailable(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "single segment path is only tried once")
}

func TestFindPageServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, nil)

	_, err := client.FindPage(context.Background(), "about")
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, "boom", httpErr.Body)
	assert.True(t, IsUnavailable(err))
}

func TestFindPageMalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}, nil)

	_, err := client.FindPage(context.Background(), "about")
	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestNavigationCached(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/api/navigation/render/navigation", r.URL.Path)
		assert.Equal(t, "FLAT", r.URL.Query().Get("type"))
		w.Write([]byte(`[
			{"id": 1, "title": "Services", "path": "services", "type": "INTERNAL"},
			{"id": 2, "title": "Auto", "path": "auto", "type": "INTERNAL", "parent": {"id": 1}}
		]`))
	}, nil)
	mem := cache.NewMemoryCache()
	defer mem.Stop()
	client.cache = mem

	for i := 0; i < 3; i++ {
		items, err := client.Navigation(context.Background())
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, 1, items[1].Parent.ID)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestNavigationServesStaleOnFailure(t *testing.T) {
	var fail atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data": [{"id": 1, "title": "About", "path": "about", "type": "INTERNAL"}]}`))
	}, nil)
	mem := cache.NewMemoryCache()
	defer mem.Stop()
	client.cache = mem
	client.navTTL = 20 * time.Millisecond

	items, err := client.Navigation(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	time.Sleep(30 * time.Millisecond)
	fail.Store(true)

	items, err = client.Navigation(context.Background())
	require.NoError(t, err, "stale menu served while the CMS is down")
	assert.Equal(t, "About", items[0].Title)
}

func TestMediaLookup(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload/files/42", r.URL.Path)
		w.Write([]byte(`{"id": 42, "url": "/uploads/car.jpg", "alternativeText": "A car", "width": 800, "height": 600}`))
	}, nil)

	file, err := client.Media(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/car.jpg", file.URL)
	assert.Equal(t, "A car", file.AlternativeText)
	assert.Equal(t, 800, file.Width)
}

func TestMediaLookupCached(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"id": 7, "url": "/uploads/office.jpg"}`))
	}, nil)
	mem := cache.NewMemoryCache()
	defer mem.Stop()
	client.cache = mem

	for i := 0; i < 3; i++ {
		file, err := client.Media(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, "/uploads/office.jpg", file.URL)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestNavigationConcurrentCallsShareFetch(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write([]byte(`[{"id": 1, "title": "About", "path": "about", "type": "INTERNAL"}]`))
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := client.Navigation(context.Background())
			assert.NoError(t, err)
			assert.Len(t, items, 1)
		}()
	}
	// Give the callers time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestNavigationSharedFetchSurvivesCallerCancel(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		w.Write([]byte(`[{"id": 1, "title": "About", "path": "about", "type": "INTERNAL"}]`))
	}, nil)

	leaving, cancel := context.WithCancel(context.Background())
	leftErr := make(chan error, 1)
	go func() {
		_, err := client.Navigation(leaving)
		leftErr <- err
	}()
	<-started

	type result struct {
		items []wingsite.NavigationItem
		err   error
	}
	stayed := make(chan result, 1)
	go func() {
		items, err := client.Navigation(context.Background())
		stayed <- result{items, err}
	}()
	// Let the second caller join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-leftErr
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	got := <-stayed
	require.NoError(t, got.err)
	assert.Len(t, got.items, 1)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCircuitOpensAgainstFailingCMS(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := NewCircuitBreaker("cms", CircuitBreakerConfig{
		FailureThreshold: 2,
		FailureWindow:    time.Minute,
		Cooldown:         time.Minute,
	}, nil)
	client := NewClient(config.CMSConfig{URL: srv.URL}, nil, nil, WithCircuitBreaker(breaker))

	for i := 0; i < 4; i++ {
		client.FindPage(context.Background(), "about")
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	_, err := client.FindPage(context.Background(), "about")
	var open *CircuitOpenError
	assert.True(t, errors.As(err, &open))
	assert.Contains(t, UserFriendlyMessage(err), "temporarily unavailable")
}

func TestClientBaseURL(t *testing.T) {
	client := NewClient(config.CMSConfig{URL: "https://cms.example.com/"}, nil, nil)
	assert.Equal(t, "https://cms.example.com", client.BaseURL())
}
