// Package registry resolves the set of tools a kernel run is allowed to
// route to. It bootstraps from a remote registry service, a local file, or
// a built-in default, in that order, and optionally fronts the result with
// a Redis cache so repeated process starts don't re-fetch or re-read on
// every invocation.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/ampkernel/amp/config"
	"github.com/ampkernel/amp/execctx"
	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/logger"
)

// Entry is one routable tool: its name and the base URL its /spec and
// /invoke endpoints live at.
type Entry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// defaultEntries is used when neither a registry file nor a remote
// registry URL resolves to anything.
func defaultEntries() []Entry {
	return []Entry{
		{Name: "doc.search.local", URL: "http://localhost:7401"},
		{Name: "ground.verify", URL: "http://localhost:7402"},
		{Name: "mesh.mem.sqlite", URL: "http://localhost:7403"},
	}
}

// LoadFromFile reads a JSON array of Entry from path.
func LoadFromFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, kernelerr.StorageError("registry.LoadFromFile", fmt.Sprintf("%s: %s", path, err.Error()))
	}
	return entries, nil
}

// LoadFromRemote performs GET {baseURL}/tools against a registry service
// and decodes its JSON array of Entry.
func LoadFromRemote(ctx context.Context, baseURL string, httpClient *http.Client) ([]Entry, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	url := baseURL + "/tools"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, kernelerr.Communication("registry.LoadFromRemote", "registry", err.Error())
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, kernelerr.Communication("registry.LoadFromRemote", "registry", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, kernelerr.Communication("registry.LoadFromRemote", "registry",
			fmt.Sprintf("registry at %s returned status %d", baseURL, resp.StatusCode))
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, kernelerr.Communication("registry.LoadFromRemote", "registry", err.Error())
	}
	return entries, nil
}

// Bootstrap resolves the tool set for a run: an explicit AMP_TOOL_REGISTRY_URL
// wins, then a readable AMP_TOOL_CONFIG file, then the built-in default.
func Bootstrap(ctx context.Context, cfg *config.Config, httpClient *http.Client, log logger.Logger) ([]Entry, error) {
	if log == nil {
		log = logger.NewDefaultLogger()
	}

	if cfg.ToolRegistryURL != "" {
		log.Info("bootstrapping tool registry from remote", "url", cfg.ToolRegistryURL)
		return LoadFromRemote(ctx, cfg.ToolRegistryURL, httpClient)
	}

	if cfg.ToolConfigPath != "" {
		entries, err := LoadFromFile(cfg.ToolConfigPath)
		switch {
		case err == nil:
			log.Info("bootstrapping tool registry from file", "path", cfg.ToolConfigPath)
			return entries, nil
		case os.IsNotExist(err):
			log.Debug("tool config file not found, falling back", "path", cfg.ToolConfigPath)
		default:
			return nil, err
		}
	}

	log.Info("bootstrapping tool registry from built-in default")
	return defaultEntries(), nil
}

// ApplyToContext registers every entry's URL on ec so the scheduler can
// resolve direct-tool and capability-routed nodes against it.
func ApplyToContext(ec *execctx.ExecutionContext, entries []Entry) {
	for _, e := range entries {
		ec.ToolURLs[e.Name] = e.URL
	}
}
