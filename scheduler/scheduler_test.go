package scheduler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ampkernel/amp/execctx"
	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/memorystore"
	"github.com/ampkernel/amp/plan"
	"github.com/ampkernel/amp/scheduler"
	"github.com/ampkernel/amp/toolspec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func newToolServer(t *testing.T, specs map[string]toolspec.ToolSpec, responses map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for name, spec := range specs {
		spec := spec
		mux.HandleFunc("/spec/"+name, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(spec)
		})
	}
	for name, resp := range responses {
		resp := resp
		mux.HandleFunc("/invoke/"+name, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(resp))
		})
	}
	return httptest.NewServer(mux)
}

func newMemoryServer(t *testing.T) (*httptest.Server, *map[string]memorystore.Entry) {
	t.Helper()
	store := map[string]memorystore.Entry{}
	mux := http.NewServeMux()
	mux.HandleFunc("/spec/mesh.mem.sqlite", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(toolspec.ToolSpec{Name: "mesh.mem.sqlite"})
	})
	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["operation"] {
		case "write":
			key := body["key"].(string)
			valueBytes, _ := json.Marshal(body["value"])
			provBytes, _ := json.Marshal(body["provenance"])
			var prov []string
			_ = json.Unmarshal(provBytes, &prov)
			store[key] = memorystore.Entry{
				Key:        key,
				Value:      valueBytes,
				Provenance: prov,
				Confidence: body["confidence"].(float64),
				TTL:        body["ttl"].(string),
				Timestamp:  time.Now(),
			}
			_ = json.NewEncoder(w).Encode(toolspec.InvokeResponse{Result: json.RawMessage(`{"success":true}`)})
		case "read":
			key := body["key"].(string)
			entry, ok := store[key]
			if !ok {
				_ = json.NewEncoder(w).Encode(toolspec.InvokeResponse{Result: json.RawMessage(`{"success":false}`)})
				return
			}
			b, _ := json.Marshal(map[string]interface{}{"success": true, "entry": entry})
			_ = json.NewEncoder(w).Encode(toolspec.InvokeResponse{Result: b})
		}
	})
	srv := httptest.NewServer(mux)
	return srv, &store
}

func newScheduler(toolTimeout time.Duration) *scheduler.Scheduler {
	client := toolspec.NewClient(toolTimeout, nil)
	mem := memorystore.NewStore(client)
	return scheduler.New(client, mem, nil)
}

func TestRunHappyPathDAG(t *testing.T) {
	callSrv := newToolServer(t,
		map[string]toolspec.ToolSpec{
			"doc.search.local": {Name: "doc.search.local", Constraints: toolspec.Constraints{CostPerCallUSD: f(0.0001), LatencyP50Ms: f(10)}},
			"ground.verify":    {Name: "ground.verify", Constraints: toolspec.Constraints{CostPerCallUSD: f(0.0002), LatencyP50Ms: f(10)}},
		},
		map[string]string{
			"doc.search.local": `{"result":{"docs":["doc1"]}}`,
			"ground.verify":     `{"result":{"verdicts":[{"claim_id":"c1","verdict":"supported","confidence":0.95,"needs_citation":false}]}}`,
		},
	)
	defer callSrv.Close()

	memSrv, store := newMemoryServer(t)
	defer memSrv.Close()

	p := &plan.Plan{
		Nodes: []plan.Node{
			{ID: "search_docs", Op: plan.OpCall, Tool: "doc.search.local", Out: map[string]string{"search_results": "result"}},
			{ID: "verify_claims", Op: plan.OpVerify, Tool: "ground.verify",
				Args: map[string]interface{}{"claims": []interface{}{"doc covers topic"}, "sources": []interface{}{"$search_results.docs"}},
				Out:  map[string]string{"verification": "result"}},
			{ID: "persist_summary", Op: plan.OpMemWrite, Tool: "mesh.mem.sqlite",
				Args: map[string]interface{}{
					"key": "product.todo.brief", "value": "$verification", "provenance": []interface{}{"doc1"}, "confidence": 0.95,
				}},
		},
		Edges: []plan.Edge{
			{From: "search_docs", To: "verify_claims"},
			{From: "verify_claims", To: "persist_summary"},
		},
		Signals: plan.Signals{LatencyBudgetMs: f(5000), CostCapUSD: f(2), Risk: f(0.2)},
	}

	ec := execctx.New("plan-1", p.Signals)
	ec.ToolURLs["doc.search.local"] = callSrv.URL
	ec.ToolURLs["ground.verify"] = callSrv.URL
	ec.ToolURLs["mesh.mem.sqlite"] = memSrv.URL

	s := newScheduler(2 * time.Second)
	err := s.Run(t.Context(), p, ec)
	require.NoError(t, err)

	assert.Contains(t, ec.Variables, "search_results")
	assert.Contains(t, ec.Variables, "verification")
	assert.Contains(t, ec.Variables, "verification_summary")

	var sawEvidenceSummary bool
	for _, tr := range ec.TraceEvents {
		if tr.EventType == "evidence_summary" {
			sawEvidenceSummary = true
		}
	}
	assert.True(t, sawEvidenceSummary)

	entry, ok := (*store)["product.todo.brief"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, entry.Confidence, 0.9)
	assert.Len(t, entry.Provenance, 1)
}

func TestRunCostBudgetFailure(t *testing.T) {
	callSrv := newToolServer(t,
		map[string]toolspec.ToolSpec{
			"doc.search.local": {Name: "doc.search.local", Constraints: toolspec.Constraints{CostPerCallUSD: f(0.01), LatencyP50Ms: f(10)}},
		},
		map[string]string{"doc.search.local": `{"result":{"docs":["doc1"]}}`},
	)
	defer callSrv.Close()

	p := &plan.Plan{
		Nodes: []plan.Node{
			{ID: "search_docs", Op: plan.OpCall, Tool: "doc.search.local", Out: map[string]string{"search_results": "result"}},
		},
		Signals: plan.Signals{CostCapUSD: f(0.00001)},
	}

	ec := execctx.New("plan-2", p.Signals)
	ec.ToolURLs["doc.search.local"] = callSrv.URL

	s := newScheduler(2 * time.Second)
	err := s.Run(t.Context(), p, ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernelerr.ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "Cost budget exceeded")

	var sawBudgetSummary bool
	for _, tr := range ec.TraceEvents {
		if tr.EventType == "budget_summary" {
			sawBudgetSummary = true
		}
	}
	assert.True(t, sawBudgetSummary)
}

func TestRunPolicyBlock(t *testing.T) {
	callSrv := newToolServer(t,
		map[string]toolspec.ToolSpec{
			"doc.search.local": {
				Name:        "doc.search.local",
				Constraints: toolspec.Constraints{CostPerCallUSD: f(0.0001), LatencyP50Ms: f(10)},
				Policy:      toolspec.Policy{DenyIf: []string{"pii"}},
			},
		},
		map[string]string{"doc.search.local": `{"result":{"docs":["doc1"]}}`},
	)
	defer callSrv.Close()

	p := &plan.Plan{
		Nodes: []plan.Node{
			{ID: "search_docs", Op: plan.OpCall, Tool: "doc.search.local",
				Args: map[string]interface{}{"q": "find PII disclosure procedures"},
				Out:  map[string]string{"search_results": "result"}},
		},
	}

	ec := execctx.New("plan-3", p.Signals)
	ec.ToolURLs["doc.search.local"] = callSrv.URL

	s := newScheduler(2 * time.Second)
	err := s.Run(t.Context(), p, ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernelerr.ErrToolExecution)
	assert.Contains(t, err.Error(), "blocked by policy pattern 'pii'")

	var sawPolicyViolation bool
	for _, tr := range ec.TraceEvents {
		if tr.EventType == "policy_violation" {
			sawPolicyViolation = true
		}
	}
	assert.True(t, sawPolicyViolation)
}

func TestRunCapabilityRouting(t *testing.T) {
	callSrv := newToolServer(t,
		map[string]toolspec.ToolSpec{
			"search.cheap":      {Name: "search.cheap", Capabilities: []string{"search.documents"}, Constraints: toolspec.Constraints{CostPerCallUSD: f(0.0001), LatencyP50Ms: f(10)}},
			"search.expensive":  {Name: "search.expensive", Capabilities: []string{"search.documents"}, Constraints: toolspec.Constraints{CostPerCallUSD: f(0.0003), LatencyP50Ms: f(10)}},
		},
		map[string]string{
			"search.cheap":     `{"result":{"docs":["doc1"]}}`,
			"search.expensive": `{"result":{"docs":["doc1"]}}`,
		},
	)
	defer callSrv.Close()

	p := &plan.Plan{
		Nodes: []plan.Node{
			{ID: "search_docs", Op: plan.OpCall, Capability: "search.documents", Out: map[string]string{"search_results": "result"}},
		},
	}

	ec := execctx.New("plan-4", p.Signals)
	ec.ToolURLs["search.cheap"] = callSrv.URL
	ec.ToolURLs["search.expensive"] = callSrv.URL
	ec.RegisterToolSpec("search.cheap", toolspec.ToolSpec{Name: "search.cheap", Capabilities: []string{"search.documents"}, Constraints: toolspec.Constraints{CostPerCallUSD: f(0.0001), LatencyP50Ms: f(10)}})
	ec.RegisterToolSpec("search.expensive", toolspec.ToolSpec{Name: "search.expensive", Capabilities: []string{"search.documents"}, Constraints: toolspec.Constraints{CostPerCallUSD: f(0.0003), LatencyP50Ms: f(10)}})

	s := newScheduler(2 * time.Second)
	err := s.Run(t.Context(), p, ec)
	require.NoError(t, err)

	var routeTrace, optimizerTraceCount = "", 0
	for _, tr := range ec.TraceEvents {
		if tr.EventType == "capability_route" {
			var data map[string]interface{}
			require.NoError(t, json.Unmarshal(tr.Data, &data))
			routeTrace = data["selected_tool"].(string)
		}
		if tr.EventType == "plan_optimizer" {
			optimizerTraceCount++
		}
	}
	assert.Equal(t, "search.cheap", routeTrace)
	assert.Equal(t, 1, optimizerTraceCount)
}

func TestRunCycleDetection(t *testing.T) {
	p := &plan.Plan{
		Nodes: []plan.Node{
			{ID: "a", Op: plan.OpBranch},
			{ID: "b", Op: plan.OpBranch},
		},
		Edges: []plan.Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}

	ec := execctx.New("plan-5", p.Signals)
	s := newScheduler(2 * time.Second)
	err := s.Run(t.Context(), p, ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernelerr.ErrValidation)
	assert.Contains(t, err.Error(), "possible circular dependency")
}

func TestRunLowConfidenceMemoryWrite(t *testing.T) {
	memSrv, _ := newMemoryServer(t)
	defer memSrv.Close()

	p := &plan.Plan{
		Nodes: []plan.Node{
			{ID: "persist", Op: plan.OpMemWrite, Tool: "mesh.mem.sqlite",
				Args: map[string]interface{}{"key": "k", "value": "v", "provenance": []interface{}{"doc1"}, "confidence": 0.5}},
		},
	}

	ec := execctx.New("plan-6", p.Signals)
	ec.ToolURLs["mesh.mem.sqlite"] = memSrv.URL

	s := newScheduler(2 * time.Second)
	err := s.Run(t.Context(), p, ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernelerr.ErrValidation)
	assert.Contains(t, err.Error(), "confidence 0.5 < 0.8 threshold")
}

func TestRunPreflightInvalidRiskRejectsBeforeExecution(t *testing.T) {
	invoked := false
	callSrv := newSpyToolServer(t, "doc.search.local",
		toolspec.ToolSpec{Name: "doc.search.local", Constraints: toolspec.Constraints{CostPerCallUSD: f(0.0001)}},
		`{"result":{}}`, &invoked)
	defer callSrv.Close()

	p := &plan.Plan{
		Nodes:   []plan.Node{{ID: "search", Op: plan.OpCall, Tool: "doc.search.local", Out: map[string]string{"r": "r"}}},
		Signals: plan.Signals{Risk: f(1.5)},
	}

	ec := execctx.New("plan-7", p.Signals)
	ec.ToolURLs["doc.search.local"] = callSrv.URL

	s := newScheduler(2 * time.Second)
	err := s.Run(t.Context(), p, ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernelerr.ErrValidation)
	assert.Contains(t, err.Error(), "invalid_risk_value")
	assert.False(t, invoked, "tool should never be invoked once the plan's risk signal fails validation")
}

// TestRunCostBudgetFailure above is the authoritative proof that a cost
// overrun is caught live, mid-run, by the budget accountant rather than
// pre-flight: it lets the tool actually get invoked and asserts the
// budget_summary trace that only the live path pushes.

func TestRunInputTokensExceededRejectsCallBeforeInvoke(t *testing.T) {
	invoked := false
	maxTokens := 1
	callSrv := newSpyToolServer(t, "doc.search.local",
		toolspec.ToolSpec{Name: "doc.search.local", Constraints: toolspec.Constraints{InputTokensMax: &maxTokens}},
		`{"result":{}}`, &invoked)
	defer callSrv.Close()

	p := &plan.Plan{
		Nodes: []plan.Node{
			{ID: "search", Op: plan.OpCall, Tool: "doc.search.local",
				Args: map[string]interface{}{"q": "a very long query string that blows past one token of budget"},
				Out:  map[string]string{"r": "r"}},
		},
	}

	ec := execctx.New("plan-8", p.Signals)
	ec.ToolURLs["doc.search.local"] = callSrv.URL

	s := newScheduler(2 * time.Second)
	err := s.Run(t.Context(), p, ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernelerr.ErrValidation)
	assert.Contains(t, err.Error(), "input_tokens_exceeded")
	assert.False(t, invoked, "tool should never be invoked once the per-call token estimate exceeds the ceiling")
}

// newSpyToolServer builds a single-tool server like newToolServer, but sets
// *invoked to true if the /invoke endpoint is ever reached — so a test can
// distinguish a pre-flight rejection from one that happens after the tool
// was actually called.
func newSpyToolServer(t *testing.T, name string, spec toolspec.ToolSpec, response string, invoked *bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/spec/"+name, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(spec)
	})
	mux.HandleFunc("/invoke/"+name, func(w http.ResponseWriter, r *http.Request) {
		*invoked = true
		_, _ = w.Write([]byte(response))
	})
	return httptest.NewServer(mux)
}
