package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	log "github.com/sirupsen/logrus"

	"helixar/internal/config"
	"helixar/internal/metrics"
)

// ErrSearchRateLimited is returned once a session has used its web_search allowance for the minute.
var ErrSearchRateLimited = errors.New("web search rate limit exceeded, retry in a minute")

var errNoSearchResult = errors.New("no search provider succeeded")

const (
	searchWindow     = time.Minute
	pageFetchTimeout = 10 * time.Second
	maxPageBytes     = 512 << 10
)

var searchToolInfo = &schema.ToolInfo{
	Name: "web_search",
	Desc: "Look something up on the web. Pass a question to search, or an http(s) URL to read that page.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"query": {
			Desc:     "Search terms or a URL",
			Type:     schema.String,
			Required: true,
		},
	}),
}

type searchProvider struct {
	name string
	tool tool.InvokableTool
}

type searchInput struct {
	Query string `json:"query"`
}

// webSearch answers web_search calls: URLs are fetched directly, everything else goes
// through the providers in order until one answers.
type webSearch struct {
	providers []searchProvider
	limiter   *slidingLimiter
	pages     *http.Client
}

func newWebSearch(providers []searchProvider, perMinute int, pages *http.Client) *webSearch {
	if pages == nil {
		pages = &http.Client{Timeout: pageFetchTimeout}
	}
	return &webSearch{
		providers: providers,
		limiter:   newSlidingLimiter(perMinute, searchWindow),
		pages:     pages,
	}
}

// newSearchTools builds the tools handed to the agent. It returns nil when no search
// provider could be created.
func newSearchTools(cfg config.CompletionConfig) []tool.BaseTool {
	var providers []searchProvider
	if g := newGoogleProvider(); g != nil {
		providers = append(providers, *g)
	}
	if d := newDuckProvider(); d != nil {
		providers = append(providers, *d)
	}
	if len(providers) == 0 {
		log.Warn("web search disabled: no search provider available")
		return nil
	}
	ws := newWebSearch(providers, cfg.SearchPerMinute, nil)
	return []tool.BaseTool{ws.tool()}
}

func (w *webSearch) tool() tool.InvokableTool {
	return utils.NewTool(searchToolInfo, w.run)
}

func (w *webSearch) run(ctx context.Context, in *searchInput) (string, error) {
	var query string
	if in != nil {
		query = strings.TrimSpace(in.Query)
	}
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	if !w.limiter.Allow(limitKey(ctx)) {
		metrics.CountSearch("limiter", metrics.OutcomeRejected)
		return "", ErrSearchRateLimited
	}

	if isWebURL(query) {
		page, err := w.fetch(ctx, query)
		if err == nil {
			metrics.CountSearch("fetch", metrics.OutcomeSuccess)
			return page, nil
		}
		metrics.CountSearch("fetch", metrics.OutcomeFailure)
		log.WithError(err).WithField("url", query).Debug("direct fetch failed, searching instead")
	}
	return w.search(ctx, query)
}

func (w *webSearch) search(ctx context.Context, query string) (string, error) {
	args, err := json.Marshal(searchInput{Query: query})
	if err != nil {
		return "", fmt.Errorf("encode search args: %w", err)
	}
	var failures []error
	for _, p := range w.providers {
		out, err := p.tool.InvokableRun(ctx, string(args))
		if err != nil {
			metrics.CountSearch(p.name, metrics.OutcomeFailure)
			log.WithError(err).WithField("provider", p.name).Warn("search provider failed")
			failures = append(failures, fmt.Errorf("%s: %w", p.name, err))
			continue
		}
		metrics.CountSearch(p.name, metrics.OutcomeSuccess)
		return out, nil
	}
	if len(failures) == 0 {
		return "", errNoSearchResult
	}
	return "", fmt.Errorf("%w: %w", errNoSearchResult, errors.Join(failures...))
}

func (w *webSearch) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "helixar-web-search/1.0")

	resp, err := w.pages.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: %s", req.URL.Host, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", req.URL.Host, err)
	}
	truncated := len(body) > maxPageBytes
	if truncated {
		body = body[:maxPageBytes]
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", fmt.Errorf("fetch %s: empty body", req.URL.Host)
	}
	if truncated {
		text += "\n[truncated]"
	}
	return text, nil
}

func isWebURL(s string) bool {
	if strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func newGoogleProvider() *searchProvider {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		log.Info("google search disabled: GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID not set")
		return nil
	}
	t, err := googlesearch.NewTool(context.Background(), &googlesearch.Config{
		ToolName:       "google_search",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		log.WithError(err).Warn("google search disabled")
		return nil
	}
	return &searchProvider{name: "google", tool: t}
}

func newDuckProvider() *searchProvider {
	t, err := duckduckgo.NewTextSearchTool(context.Background(), &duckduckgo.Config{
		ToolName:   "duckduckgo_search",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    pageFetchTimeout,
	})
	if err != nil {
		log.WithError(err).Warn("duckduckgo search disabled")
		return nil
	}
	return &searchProvider{name: "duckduckgo", tool: t}
}
