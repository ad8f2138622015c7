package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/itsneelabh/gateway/core"
)

// basePlugin gives the built-in seeds a default ShouldExecute (always run)
// and holds the id/phase/order triple every Plugin needs.
type basePlugin struct {
	id    string
	phase Phase
	order int
}

func (b basePlugin) ID() string      { return b.id }
func (b basePlugin) Phase() Phase    { return b.phase }
func (b basePlugin) Order() int      { return b.order }
func (b basePlugin) ShouldExecute(*Context) bool { return true }

// --- VALIDATE -------------------------------------------------------------

// SchemaValidator rejects requests missing required fields. Grounded on
// the minimal-viable validation a gateway needs before anything else
// touches the request.
type SchemaValidator struct {
	basePlugin
	RequireModel    bool
	RequireMessages bool
}

// NewSchemaValidator builds the default schema-validation plugin.
func NewSchemaValidator(order int) *SchemaValidator {
	return &SchemaValidator{basePlugin: basePlugin{id: "validate.schema", phase: PhaseValidate, order: order}, RequireModel: true, RequireMessages: true}
}

func (v *SchemaValidator) Execute(ctx context.Context, pctx *Context, engine *Engine) error {
	model, _ := pctx.Variables["model"].(string)
	if v.RequireModel && model == "" {
		return core.NewGatewayError("validate.schema", core.KindValidation, "model is required")
	}
	messages, _ := pctx.Variables["messageCount"].(int)
	if v.RequireMessages && messages == 0 {
		return core.NewGatewayError("validate.schema", core.KindValidation, "messages must not be empty")
	}
	return nil
}

// ContentSafetyFilter rejects requests matching a disallowed keyword or
// pattern list, checked against a "content" variable the caller populates
// before invoking the pipeline.
type ContentSafetyFilter struct {
	basePlugin
	Disallowed []string
}

func NewContentSafetyFilter(order int, disallowed []string) *ContentSafetyFilter {
	return &ContentSafetyFilter{basePlugin: basePlugin{id: "validate.content_safety", phase: PhaseValidate, order: order}, Disallowed: disallowed}
}

func (f *ContentSafetyFilter) Execute(ctx context.Context, pctx *Context, engine *Engine) error {
	content, _ := pctx.Variables["content"].(string)
	lower := strings.ToLower(content)
	for _, word := range f.Disallowed {
		if word == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(word)) {
			return core.NewGatewayError("validate.content_safety", core.KindValidation, "content matched disallowed pattern: "+word)
		}
	}
	return nil
}

// --- AUTHORIZE -------------------------------------------------------------

// QuotaChecker is the subset of the tenant quota store the authorize
// plugin needs — kept as a narrow local interface so pipeline doesn't
// import the tenant package and create a cycle.
type QuotaChecker interface {
	Allow(tenant string, tokens int) bool
}

// TenantQuotaPlugin rejects requests that would exceed the tenant's
// configured token/request budget for the current window.
type TenantQuotaPlugin struct {
	basePlugin
	Quota QuotaChecker
}

func NewTenantQuotaPlugin(order int, quota QuotaChecker) *TenantQuotaPlugin {
	return &TenantQuotaPlugin{basePlugin: basePlugin{id: "authorize.quota", phase: PhaseAuthorize, order: order}, Quota: quota}
}

func (p *TenantQuotaPlugin) Execute(ctx context.Context, pctx *Context, engine *Engine) error {
	tenant, _ := pctx.Variables["tenantId"].(string)
	estimatedTokens, _ := pctx.Variables["estimatedTokens"].(int)
	if p.Quota == nil {
		return nil
	}
	if !p.Quota.Allow(tenant, estimatedTokens) {
		return core.NewGatewayError("authorize.quota", core.KindQuotaExhausted, "tenant "+tenant+" is over quota")
	}
	return nil
}

// --- PRE_PROCESSING ---------------------------------------------------------

// ContextWindowStrategy picks how PromptShaper trims an over-budget
// conversation history.
type ContextWindowStrategy string

const (
	TruncateOldest ContextWindowStrategy = "truncate-oldest"
	SlidingWindow  ContextWindowStrategy = "sliding-window"
	Summarize      ContextWindowStrategy = "summarize"
)

// PromptShaper applies context-window management; it does no prompt
// templating.
// MaxMessages enforces the chosen strategy against a "messages" variable
// the caller populates as []string turn summaries.
type PromptShaper struct {
	basePlugin
	Strategy    ContextWindowStrategy
	MaxMessages int
}

func NewPromptShaper(order int, strategy ContextWindowStrategy, maxMessages int) *PromptShaper {
	return &PromptShaper{basePlugin: basePlugin{id: "preprocess.prompt_shaper", phase: PhasePreProcessing, order: order}, Strategy: strategy, MaxMessages: maxMessages}
}

func (p *PromptShaper) Execute(ctx context.Context, pctx *Context, engine *Engine) error {
	turns, _ := pctx.Variables["messages"].([]string)
	if p.MaxMessages <= 0 || len(turns) <= p.MaxMessages {
		return nil
	}
	switch p.Strategy {
	case TruncateOldest, SlidingWindow:
		pctx.Variables["messages"] = turns[len(turns)-p.MaxMessages:]
	case Summarize:
		head := strings.Join(turns[:len(turns)-p.MaxMessages], " ")
		pctx.Variables["messages"] = append([]string{"[summary] " + head}, turns[len(turns)-p.MaxMessages:]...)
	}
	return nil
}

// --- ROUTE -------------------------------------------------------------

// RouteResolverKey is the pctx.Variables key the orchestrator stores its
// per-request routing closure under before running the pipeline. Kept as
// an opaque func(*Context) (string, interface{}, error) rather than a
// named interface to avoid a pipeline<->router import cycle — the
// router's concrete domain.RoutingDecision travels as interface{}.
const RouteResolverKey = "__route"

// RoutingPlugin resolves the provider for this request by invoking the
// per-request closure the orchestrator placed in
// pctx.Variables[RouteResolverKey], storing the selection into
// pctx.Variables["selectedProviderId"] and the decision into
// pctx.Variables["routingDecision"], per §4.6 point 3.
type RoutingPlugin struct {
	basePlugin
}

func NewRoutingPlugin(order int) *RoutingPlugin {
	return &RoutingPlugin{basePlugin: basePlugin{id: "route.select_provider", phase: PhaseRoute, order: order}}
}

func (r *RoutingPlugin) Execute(ctx context.Context, pctx *Context, engine *Engine) error {
	resolve, _ := pctx.Variables[RouteResolverKey].(func(*Context) (string, interface{}, error))
	if resolve == nil {
		return core.NewGatewayError("route.select_provider", core.KindInternal, "no route resolver bound for this request")
	}
	selected, decision, err := resolve(pctx)
	if err != nil {
		return err
	}
	pctx.Variables["selectedProviderId"] = selected
	pctx.Variables["routingDecision"] = decision
	return nil
}

// --- INFERENCE ---------------------------------------------------------

// InvokerKey is the pctx.Variables key the orchestrator stores its
// per-request invocation closure under — it owns the breaker/rate-
// limiter/registry wiring, which the pipeline package must not import
// directly to avoid a cycle.
const InvokerKey = "__invoke"

// InvokePlugin calls the provider via the per-request closure the
// orchestrator placed in pctx.Variables[InvokerKey]. Duration is recorded
// from just before the call to completion, per §4.6 point 4.
type InvokePlugin struct {
	basePlugin
}

func NewInvokePlugin(order int) *InvokePlugin {
	return &InvokePlugin{basePlugin: basePlugin{id: "inference.invoke", phase: PhaseInference, order: order}}
}

func (i *InvokePlugin) Execute(ctx context.Context, pctx *Context, engine *Engine) error {
	invoke, _ := pctx.Variables[InvokerKey].(func(*Context) (interface{}, error))
	if invoke == nil {
		return core.NewGatewayError("inference.invoke", core.KindInternal, "no invoker bound for this request")
	}
	start := time.Now()
	resp, err := invoke(pctx)
	pctx.Variables["inferenceDurationMs"] = time.Since(start).Milliseconds()
	if err != nil {
		return err
	}
	pctx.Variables["response"] = resp
	return nil
}

// --- POST_PROCESSING ---------------------------------------------------------

// ToolCallDetector scans the response content for tool-call markers and
// annotates the context so a downstream executor can act on them; failures
// here never fail the request per the POST_PROCESSING error policy.
type ToolCallDetector struct {
	basePlugin
	Markers []string
}

func NewToolCallDetector(order int) *ToolCallDetector {
	return &ToolCallDetector{basePlugin: basePlugin{id: "postprocess.tool_call_detector", phase: PhasePostProcessing, order: order}, Markers: []string{"tool_call", "function_call", "<tool_call>"}}
}

func (t *ToolCallDetector) Execute(ctx context.Context, pctx *Context, engine *Engine) error {
	content, _ := pctx.Variables["responseContent"].(string)
	lower := strings.ToLower(content)
	for _, marker := range t.Markers {
		if strings.Contains(lower, marker) {
			pctx.Metadata["toolCallDetected"] = "true"
			return nil
		}
	}
	return nil
}

// --- AUDIT ---------------------------------------------------------

// AuditSink is the narrow interface the audit plugin emits to — the
// concrete observer/sink implementation lives in package audit.
type AuditSink interface {
	Emit(event string, pctx *Context)
}

// AuditEmitter publishes a tamper-evident event for the completed request.
// Per §4.5, AUDIT failures are always swallowed by the pipeline runner;
// this plugin's Execute itself always returns nil.
type AuditEmitter struct {
	basePlugin
	Sink  AuditSink
	Event string
}

func NewAuditEmitter(order int, sink AuditSink, event string) *AuditEmitter {
	return &AuditEmitter{basePlugin: basePlugin{id: "audit.emit", phase: PhaseAudit, order: order}, Sink: sink, Event: event}
}

func (a *AuditEmitter) Execute(ctx context.Context, pctx *Context, engine *Engine) error {
	if a.Sink == nil {
		return nil
	}
	a.Sink.Emit(a.Event, pctx)
	return nil
}
