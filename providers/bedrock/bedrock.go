// Package bedrock adapts AWS Bedrock's Converse/ConverseStream API to the
// gateway's provider.Adapter contract. It speaks the vendor-neutral
// Converse API rather than any single model family's native wire format,
// so one adapter instance serves Claude, Llama, Titan and Mistral models
// interchangeably as long as the caller names a valid Bedrock model id.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
	"github.com/itsneelabh/gateway/provider"
)

// Adapter implements provider.StreamingAdapter over AWS Bedrock's Converse
// API.
type Adapter struct {
	id     domain.ProviderID
	logger core.Logger

	mu     sync.RWMutex
	client *bedrockruntime.Client
	region string

	caps domain.ProviderCapabilities
}

// New returns an Adapter registered under id. Initialize must be called
// before Infer/InferStream are usable.
func New(id domain.ProviderID, logger core.Logger) *Adapter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Adapter{
		id:     id,
		logger: logger,
		caps: domain.ProviderCapabilities{
			Streaming:    true,
			FunctionCall: false,
			Multimodal:   false,
			MaxContext:   200000,
			MaxOutput:    4096,
		},
	}
}

func (a *Adapter) ID() domain.ProviderID                   { return a.id }
func (a *Adapter) Name() string                             { return "bedrock:" + string(a.id) }
func (a *Adapter) Capabilities() domain.ProviderCapabilities { return a.caps }

// Initialize builds the Bedrock client from config. Recognized keys:
// "region" (string, defaults to AWS_REGION/AWS_DEFAULT_REGION/"us-east-1"),
// "accessKeyID" and "secretAccessKey" (strings; when both set, used as
// explicit static credentials instead of the default provider chain).
func (a *Adapter) Initialize(ctx context.Context, cfg map[string]interface{}) error {
	region, _ := cfg["region"].(string)
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	accessKey, _ := cfg["accessKeyID"].(string)
	secretKey, _ := cfg["secretAccessKey"].(string)
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return core.WrapGatewayError("bedrock.Initialize", core.KindInternal, err)
	}

	a.mu.Lock()
	a.client = bedrockruntime.NewFromConfig(awsCfg)
	a.region = region
	a.mu.Unlock()
	return nil
}

// Shutdown is a no-op: the Bedrock SDK client holds no connections worth
// closing explicitly.
func (a *Adapter) Shutdown(ctx context.Context) error { return nil }

// Supports reports true for any non-empty model id; Bedrock's Converse
// API is uniform across model families, so model-specific gating belongs
// to the model repository facade, not this adapter.
func (a *Adapter) Supports(modelID string, req domain.InferenceRequest) bool {
	return modelID != ""
}

// Health reports healthy once Initialize has built a client. Bedrock has
// no lightweight ping endpoint; liveness is inferred from request
// success/failure elsewhere (the circuit breaker wrapping this adapter).
func (a *Adapter) Health(ctx context.Context) domain.ProviderHealth {
	a.mu.RLock()
	ready := a.client != nil
	a.mu.RUnlock()
	if !ready {
		return domain.ProviderHealth{Status: domain.HealthUnhealthy, Timestamp: time.Now(), Details: "not initialized"}
	}
	return domain.ProviderHealth{Status: domain.HealthHealthy, Timestamp: time.Now()}
}

func (a *Adapter) readyClient() (*bedrockruntime.Client, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, core.NewGatewayError("bedrock.Infer", core.KindInternal, "adapter not initialized")
	}
	return a.client, nil
}

// Infer implements provider.Adapter via Bedrock's Converse API.
func (a *Adapter) Infer(ctx context.Context, req provider.Request) (domain.InferenceResponse, error) {
	client, err := a.readyClient()
	if err != nil {
		return domain.InferenceResponse{}, err
	}

	input := buildConverseInput(req.Inference)
	start := time.Now()

	output, err := client.Converse(ctx, input)
	if err != nil {
		return domain.InferenceResponse{}, core.WrapGatewayError("bedrock.Infer", classifyBedrockErr(err), err)
	}

	content, err := extractText(output.Output)
	if err != nil {
		return domain.InferenceResponse{}, core.WrapGatewayError("bedrock.Infer", core.KindPermanentProvider, err)
	}

	resp := domain.InferenceResponse{
		RequestID:  req.Inference.RequestID,
		Content:    content,
		Model:      req.Inference.Model,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if output.Usage != nil {
		resp.TokensUsed = int(aws.ToInt32(output.Usage.TotalTokens))
	}
	return resp, nil
}

// InferStream implements provider.StreamingAdapter via ConverseStream.
func (a *Adapter) InferStream(ctx context.Context, req provider.Request, onChunk provider.ChunkFunc) error {
	client, err := a.readyClient()
	if err != nil {
		return err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(req.Inference.Model),
		Messages:        toBedrockMessages(req.Inference.Messages),
		System:          systemBlocks(req.Inference.Messages),
		InferenceConfig: inferenceConfig(req.Inference.Params),
	}

	output, err := client.ConverseStream(ctx, input)
	if err != nil {
		return core.WrapGatewayError("bedrock.InferStream", classifyBedrockErr(err), err)
	}

	stream := output.GetStream()
	defer stream.Close()

	index := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					return core.WrapGatewayError("bedrock.InferStream", core.KindTransientProvider, err)
				}
				return nil
			}
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				delta, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText)
				if !ok {
					continue
				}
				chunk := domain.StreamChunk{Index: index, Delta: delta.Value}
				index++
				if err := onChunk(chunk); err != nil {
					return err
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				return onChunk(domain.StreamChunk{Index: index, Final: true})
			}
		}
	}
}

func buildConverseInput(req domain.InferenceRequest) *bedrockruntime.ConverseInput {
	return &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		Messages:        toBedrockMessages(req.Messages),
		System:          systemBlocks(req.Messages),
		InferenceConfig: inferenceConfig(req.Params),
	}
}

// toBedrockMessages drops system-role messages: Bedrock carries system
// instructions in a dedicated System field, not the Messages list.
func toBedrockMessages(msgs []domain.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		var role types.ConversationRole
		switch m.Role {
		case domain.RoleAssistant:
			role = types.ConversationRoleAssistant
		case domain.RoleSystem:
			continue
		default:
			role = types.ConversationRoleUser
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func systemBlocks(msgs []domain.Message) []types.SystemContentBlock {
	var blocks []types.SystemContentBlock
	for _, m := range msgs {
		if m.Role == domain.RoleSystem && m.Content != "" {
			blocks = append(blocks, &types.SystemContentBlockMemberText{Value: m.Content})
		}
	}
	return blocks
}

func inferenceConfig(params domain.GenerationParams) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	set := false
	if params.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(params.MaxTokens))
		set = true
	}
	if params.Temperature > 0 {
		cfg.Temperature = aws.Float32(float32(params.Temperature))
		set = true
	}
	if params.TopP > 0 {
		cfg.TopP = aws.Float32(float32(params.TopP))
		set = true
	}
	if len(params.Stop) > 0 {
		cfg.StopSequences = params.Stop
		set = true
	}
	if !set {
		return nil
	}
	return cfg
}

func extractText(output types.ConverseOutput) (string, error) {
	msg, ok := output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("unexpected converse output type %T", output)
	}
	var content string
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			content += text.Value
		}
	}
	if content == "" {
		return "", fmt.Errorf("no text content in bedrock response")
	}
	return content, nil
}

// classifyBedrockErr buckets Bedrock SDK errors into the gateway's
// taxonomy. Throttling and server-side faults are worth a failover retry;
// anything else (bad model id, malformed request, access denied) is
// permanent for this request.
func classifyBedrockErr(err error) core.Kind {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException", "ModelTimeoutException", "InternalServerException":
			return core.KindTransientProvider
		}
	}
	return core.KindPermanentProvider
}
