package agent

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/fieldaxis/fieldsync/internal/models"
)

const maxCachedBody = 4 << 20 // 4 MiB per response, larger bodies pass through uncached

// TokenSource supplies the bearer token attached to proxied API requests
type TokenSource interface {
	AuthToken() string
}

// Cache is the slice of the response cache the proxy reads and writes
type Cache interface {
	Put(key, class string, statusCode int, header http.Header, body []byte) error
	Get(key string) (*models.CachedResponse, error)
}

// Waker asks the main process to drain the mutation queue
type Waker interface {
	SendSyncWake()
}

// Agent is the background network proxy. It sits between the views and the
// remote API, classifies every request by route and applies the matching
// cache policy. It runs in its own process with its own store handle; the
// only channel to the main process is the bridge.
type Agent struct {
	upstream string // remote API base URL, no trailing slash
	cache    Cache
	tokens   TokenSource
	waker    Waker
	client   *http.Client
	router   *mux.Router

	allowedAPI map[string]bool // API GET paths eligible for offline caching
}

// New creates the agent. allowedRoutes are API paths (relative to /api)
// whose GET responses are cached for offline reads.
func New(upstream string, cache Cache, tokens TokenSource, waker Waker, allowedRoutes []string) *Agent {
	allowed := make(map[string]bool, len(allowedRoutes))
	for _, r := range allowedRoutes {
		allowed[r] = true
	}

	a := &Agent{
		upstream:   strings.TrimRight(upstream, "/"),
		cache:      cache,
		tokens:     tokens,
		waker:      waker,
		client:     &http.Client{Timeout: 30 * time.Second},
		allowedAPI: allowed,
	}

	r := mux.NewRouter()
	r.HandleFunc("/internal/wake", a.handleWake).Methods("POST")
	r.PathPrefix("/api/").HandlerFunc(a.handleAPI)
	r.PathPrefix("/").HandlerFunc(a.handleShell)
	a.router = r

	return a
}

// Handler returns the agent's HTTP handler
func (a *Agent) Handler() http.Handler {
	return a.router
}

// handleWake is the background-sync trigger: the platform scheduler posts
// here when connectivity returns and the agent relays the wake to the main
// process over the bridge.
func (a *Agent) handleWake(w http.ResponseWriter, r *http.Request) {
	a.waker.SendSyncWake()
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "wake sent"})
}

// handleAPI proxies /api/* to the upstream. Allow-listed GETs are
// network-first with a cached fallback; everything else passes straight
// through and fails honestly when offline.
func (a *Agent) handleAPI(w http.ResponseWriter, r *http.Request) {
	apiPath := strings.TrimPrefix(r.URL.Path, "/api")
	cacheable := r.Method == http.MethodGet && a.allowedAPI[apiPath]

	resp, body, err := a.forward(r, apiPath)
	if err == nil && resp.StatusCode < 500 {
		if cacheable && resp.StatusCode == http.StatusOK && len(body) <= maxCachedBody {
			if cerr := a.cache.Put(a.cacheKey(r, apiPath), ClassAPI, resp.StatusCode, resp.Header, body); cerr != nil {
				log.Printf("⚠️ Failed to cache %s: %v", apiPath, cerr)
			}
		}
		writeUpstream(w, resp, body)
		return
	}

	if !cacheable {
		writeProxyFailure(w, resp, body, err)
		return
	}

	cached, cerr := a.cache.Get(a.cacheKey(r, apiPath))
	if cerr != nil {
		writeProxyFailure(w, resp, body, err)
		return
	}

	// Stale read: the caller can tell from the marker header
	writeCached(w, cached, true)
}

// handleShell serves navigation and static asset requests.
// Navigations are network-first with the cached shell as fallback and the
// offline page as last resort. Assets are cache-first with a background
// revalidate so the next load picks up changes.
func (a *Agent) handleShell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := path.Clean(r.URL.Path)
	if a.isNavigation(r) {
		a.serveNavigation(w, r, key)
		return
	}
	a.serveAsset(w, r, key)
}

func (a *Agent) serveNavigation(w http.ResponseWriter, r *http.Request, key string) {
	resp, body, err := a.forward(r, "")
	if err == nil && resp.StatusCode == http.StatusOK {
		if len(body) <= maxCachedBody {
			a.cache.Put(key, ClassNavigation, resp.StatusCode, resp.Header, body)
		}
		writeUpstream(w, resp, body)
		return
	}

	// App shell routes all render the same entry point
	for _, candidate := range []string{key, "/index.html"} {
		if cached, cerr := a.cache.Get(candidate); cerr == nil {
			writeCached(w, cached, false)
			return
		}
	}

	if offline, cerr := a.cache.Get("/offline.html"); cerr == nil {
		w.Header().Set("Content-Type", offline.ContentType)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write(offline.Body)
		return
	}

	http.Error(w, "offline and no cached shell", http.StatusServiceUnavailable)
}

func (a *Agent) serveAsset(w http.ResponseWriter, r *http.Request, key string) {
	if cached, cerr := a.cache.Get(key); cerr == nil {
		writeCached(w, cached, false)
		go a.revalidate(r.Clone(r.Context()), key)
		return
	}

	resp, body, err := a.forward(r, "")
	if err != nil {
		http.Error(w, "offline and not cached", http.StatusServiceUnavailable)
		return
	}
	if resp.StatusCode == http.StatusOK && len(body) <= maxCachedBody {
		a.cache.Put(key, ClassAsset, resp.StatusCode, resp.Header, body)
	}
	writeUpstream(w, resp, body)
}

// revalidate refreshes a cached asset after it was already served
func (a *Agent) revalidate(r *http.Request, key string) {
	req, err := http.NewRequest(http.MethodGet, a.upstream+r.URL.Path, nil)
	if err != nil {
		return
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCachedBody+1))
	if err != nil || len(body) > maxCachedBody {
		return
	}
	a.cache.Put(key, ClassAsset, resp.StatusCode, resp.Header, body)
}

// forward relays the request to the upstream with the current bearer token.
// apiPath overrides the request path when set.
func (a *Agent) forward(r *http.Request, apiPath string) (*http.Response, []byte, error) {
	target := a.upstream + r.URL.Path
	if apiPath != "" {
		target = a.upstream + apiPath
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var reqBody io.Reader
	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, reqBody)
	if err != nil {
		return nil, nil, err
	}
	copyProxyHeaders(req.Header, r.Header)
	if token := a.tokens.AuthToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (a *Agent) isNavigation(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return true
	}
	return path.Ext(r.URL.Path) == "" || path.Ext(r.URL.Path) == ".html"
}

// cacheKey folds the query string into the key so differently-filtered
// reads do not overwrite each other
func (a *Agent) cacheKey(r *http.Request, apiPath string) string {
	if r.URL.RawQuery != "" {
		return apiPath + "?" + r.URL.RawQuery
	}
	return apiPath
}

func writeUpstream(w http.ResponseWriter, resp *http.Response, body []byte) {
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func writeCached(w http.ResponseWriter, cached *models.CachedResponse, stale bool) {
	var headers map[string]string
	if len(cached.Headers) > 0 {
		if err := json.Unmarshal(cached.Headers, &headers); err == nil {
			for k, v := range headers {
				w.Header().Set(k, v)
			}
		}
	}
	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	if stale {
		w.Header().Set("X-Served-From", "cache")
		w.Header().Set("X-Cached-At", cached.StoredAt.Format(time.RFC3339))
	}
	w.WriteHeader(cached.StatusCode)
	w.Write(cached.Body)
}

// writeProxyFailure relays whatever the upstream said, or 502 when the
// request never reached it
func writeProxyFailure(w http.ResponseWriter, resp *http.Response, body []byte, err error) {
	if err != nil {
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	writeUpstream(w, resp, body)
}

// copyProxyHeaders carries request headers to the upstream, minus hop-by-hop
// and auth headers the agent manages itself
func copyProxyHeaders(dst, src http.Header) {
	for k, vv := range src {
		switch k {
		case "Authorization", "Connection", "Upgrade", "Keep-Alive", "Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding":
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
