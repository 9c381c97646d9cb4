package gradio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSpace emulates the Gradio REST queue API: /config, POST /call/<ep> and
// the SSE result stream.
type fakeSpace struct {
	configCalls atomic.Int32
	configDelay time.Duration
	configFail  atomic.Bool

	mu       sync.Mutex
	results  map[string]string // endpoint -> SSE body
	requests map[string][]json.RawMessage
}

func newFakeSpace() *fakeSpace {
	return &fakeSpace{results: map[string]string{}, requests: map[string][]json.RawMessage{}}
}

func (f *fakeSpace) complete(endpoint, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[endpoint] = "event: heartbeat\ndata: null\n\nevent: complete\ndata: " + data + "\n\n"
}

func (f *fakeSpace) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/config":
		f.configCalls.Add(1)
		time.Sleep(f.configDelay)
		if f.configFail.Load() {
			http.Error(w, "sleeping", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"version":"5.0.0","api_prefix":"/gradio_api"}`)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/gradio_api/call/"):
		ep := "/" + strings.TrimPrefix(r.URL.Path, "/gradio_api/call/")
		var body struct {
			Data json.RawMessage `json:"data"`
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		f.mu.Lock()
		f.requests[ep] = append(f.requests[ep], body.Data)
		f.mu.Unlock()
		fmt.Fprint(w, `{"event_id":"evt-1"}`)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/evt-1"):
		ep := "/" + strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/gradio_api/call/"), "/evt-1")
		f.mu.Lock()
		body, ok := f.results[ep]
		f.mu.Unlock()
		if !ok {
			body = "event: error\ndata: null\n\n"
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, f *fakeSpace) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(Options{Space: srv.URL, Timeout: 5 * time.Second}), srv
}

func TestPredict_DecodesFragments(t *testing.T) {
	f := newFakeSpace()
	f.complete(EndpointPredict, `["<b>conditions</b>","<p>primary</p>","<i>drugs</i>"]`)
	c, _ := newTestClient(t, f)

	p, err := c.Predict(context.Background(), "fever, cough")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if p.ConditionsHTML != "<b>conditions</b>" || p.PrimaryHTML != "<p>primary</p>" || p.DrugsHTML != "<i>drugs</i>" {
		t.Fatalf("unexpected fragments: %+v", p)
	}
	if got := string(f.requests[EndpointPredict][0]); got != `["fever, cough"]` {
		t.Fatalf("unexpected request data: %s", got)
	}
	if st := c.Status(); !st.Tested || !st.Working {
		t.Fatalf("status not updated: %+v", st)
	}
}

func TestPredict_ShortPayloadIsSoftWarning(t *testing.T) {
	f := newFakeSpace()
	f.complete(EndpointPredict, `["<b>conditions</b>", 42]`)
	c, _ := newTestClient(t, f)

	p, err := c.Predict(context.Background(), "x")
	if err != nil {
		t.Fatalf("short payload must not fail: %v", err)
	}
	if p.ConditionsHTML != "<b>conditions</b>" || p.PrimaryHTML != "" || p.DrugsHTML != "" {
		t.Fatalf("unexpected fragments: %+v", p)
	}
}

func TestPredict_NonArrayPayloadIsMalformed(t *testing.T) {
	f := newFakeSpace()
	f.complete(EndpointPredict, `{"oops":true}`)
	c, _ := newTestClient(t, f)

	_, err := c.Predict(context.Background(), "x")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("want ErrMalformedResponse, got %v", err)
	}
}

func TestPredict_RemoteErrorEvent(t *testing.T) {
	f := newFakeSpace()
	c, _ := newTestClient(t, f)

	_, err := c.Predict(context.Background(), "x")
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Endpoint != EndpointPredict {
		t.Fatalf("want RemoteError, got %v", err)
	}
}

func TestPredict_ServiceUnavailableResetsTested(t *testing.T) {
	f := newFakeSpace()
	f.configFail.Store(true)
	c, _ := newTestClient(t, f)

	_, err := c.Predict(context.Background(), "x")
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got %v", err)
	}
	if st := c.Status(); st.Tested || st.Working {
		t.Fatalf("tested flag must be reset for a re-test: %+v", st)
	}

	f.configFail.Store(false)
	f.complete(EndpointPredict, `["a","b","c"]`)
	if _, err := c.Predict(context.Background(), "x"); err != nil {
		t.Fatalf("re-test should succeed: %v", err)
	}
	if n := f.configCalls.Load(); n != 2 {
		t.Fatalf("want 2 config fetches, got %d", n)
	}
}

func TestConnect_DeduplicatesConcurrentAttempts(t *testing.T) {
	f := newFakeSpace()
	f.configDelay = 50 * time.Millisecond
	c, _ := newTestClient(t, f)

	var wg sync.WaitGroup
	conns := make([]*Conn, 8)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cn, err := c.Connect(context.Background())
			if err != nil {
				t.Errorf("connect %d: %v", i, err)
				return
			}
			conns[i] = cn
		}(i)
	}
	wg.Wait()

	if n := f.configCalls.Load(); n != 1 {
		t.Fatalf("want a single dial, got %d", n)
	}
	for i, cn := range conns {
		if cn != conns[0] {
			t.Fatalf("conn %d differs from shared handle", i)
		}
	}
	if conns[0].APIPrefix != "/gradio_api" || conns[0].Version != "5.0.0" {
		t.Fatalf("unexpected conn: %+v", conns[0])
	}
}

func TestConnect_WaitersFailWithAttempt(t *testing.T) {
	f := newFakeSpace()
	f.configDelay = 50 * time.Millisecond
	f.configFail.Store(true)
	c, _ := newTestClient(t, f)

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := c.Connect(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-errs; err == nil {
			t.Fatalf("expected every caller to fail")
		}
	}
	f.configFail.Store(false)
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("cache must be reset after failure: %v", err)
	}
}

func TestTestConnectivity_CachedUnlessForced(t *testing.T) {
	f := newFakeSpace()
	f.configFail.Store(true)
	c, _ := newTestClient(t, f)
	ctx := context.Background()

	if c.TestConnectivity(ctx, false) {
		t.Fatalf("expected failure")
	}
	f.configFail.Store(false)
	if c.TestConnectivity(ctx, false) {
		t.Fatalf("cached result expected without force")
	}
	if !c.TestConnectivity(ctx, true) {
		t.Fatalf("forced test should succeed")
	}
	if n := f.configCalls.Load(); n != 2 {
		t.Fatalf("want 2 connectivity tests, got %d", n)
	}
}

func TestChat_DialErrorResetsConnectivity(t *testing.T) {
	f := newFakeSpace()
	f.complete(EndpointChat, `[[["hi","hello"]]]`)
	c, srv := newTestClient(t, f)
	ctx := context.Background()

	if _, err := c.Chat(ctx, "hi", nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := string(f.requests[EndpointChat][0]); got != `["hi",[]]` {
		t.Fatalf("unexpected request data: %s", got)
	}

	srv.Close()
	if _, err := c.Chat(ctx, "again", []Turn{{User: "hi", Bot: "hello"}}); err == nil {
		t.Fatalf("expected transport failure")
	}
	if st := c.Status(); st.Tested || st.Working {
		t.Fatalf("connectivity must flip back to untested: %+v", st)
	}
}

func TestClearChat_UnavailableIsReturned(t *testing.T) {
	f := newFakeSpace()
	f.configFail.Store(true)
	c, _ := newTestClient(t, f)

	if err := c.ClearChat(context.Background()); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got %v", err)
	}
}

func TestConnect_ResolvesHubSpace(t *testing.T) {
	f := newFakeSpace()
	space := httptest.NewServer(f)
	defer space.Close()
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/spaces/owner/demo/host" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"subdomain":"owner-demo","host":%q}`, space.URL)
	}))
	defer hub.Close()

	c := New(Options{Space: "owner/demo", HubURL: hub.URL})
	cn, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if cn.Root != space.URL {
		t.Fatalf("want root %s, got %s", space.URL, cn.Root)
	}
}

func TestRemoteError_Detail(t *testing.T) {
	cases := []struct{ msg, want string }{
		{`"Model overloaded"`, "Model overloaded"},
		{`{"error":"x"}`, `{"error":"x"}`},
		{"null", "gradio /predict_and_recommend failed"},
	}
	for _, tc := range cases {
		e := &RemoteError{Endpoint: EndpointPredict, Message: tc.msg}
		if got := e.Detail(); got != tc.want {
			t.Fatalf("Detail(%s) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}
