package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"agentcanvas/backend/internal/graph"
	"agentcanvas/backend/internal/llm"
	"agentcanvas/backend/internal/logging"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/pkg/models"
)

const instrumentationName = "agentcanvas/backend/internal/services"

// TurnState is the progress of one chat turn.
type TurnState string

const (
	TurnReceived  TurnState = "received"
	TurnResolving TurnState = "resolving"
	TurnStreaming TurnState = "streaming"
	TurnCompleted TurnState = "completed"
	TurnFailed    TurnState = "failed"
)

// ChatRequest is one turn against a workflow. UserID is nil for anonymous
// test runs.
type ChatRequest struct {
	WorkflowID string           `json:"workflowId"`
	Messages   []models.Message `json:"messages"`
	UserID     *string          `json:"-"`
}

// ChatResult describes a finished or failed turn. Output holds every fragment
// that was emitted, in order.
type ChatResult struct {
	ExecutionID string
	Config      graph.EntryConfig
	Output      string
	Fragments   int
	State       TurnState
}

// EmitFunc delivers one fragment to the caller. Returning an error stops the turn.
type EmitFunc func(fragment string) error

// ChatService runs chat turns: it resolves the workflow's entry node, streams
// the model response through emit and records the turn.
type ChatService struct {
	workflows repository.WorkflowStore
	provider  llm.Provider
	recorder  *ExecutionRecorder
	logger    *logging.Logger

	tracer    trace.Tracer
	turns     metric.Int64Counter
	fragments metric.Int64Counter
}

// NewChatService creates a new ChatService. Spans and counters go to the
// global otel providers.
func NewChatService(workflows repository.WorkflowStore, provider llm.Provider, recorder *ExecutionRecorder, logger *logging.Logger) *ChatService {
	meter := otel.Meter(instrumentationName)
	turns, err := meter.Int64Counter("chat.turns", metric.WithDescription("Chat turns by outcome"))
	if err != nil {
		logger.Warn("failed to create counter", "name", "chat.turns", "error", err.Error())
	}
	fragments, err := meter.Int64Counter("chat.fragments", metric.WithDescription("Fragments streamed to clients"))
	if err != nil {
		logger.Warn("failed to create counter", "name", "chat.fragments", "error", err.Error())
	}

	return &ChatService{
		workflows: workflows,
		provider:  provider,
		recorder:  recorder,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		turns:     turns,
		fragments: fragments,
	}
}

// Validate checks a request before any work is done.
func (req *ChatRequest) Validate() error {
	if strings.TrimSpace(req.WorkflowID) == "" {
		return invalid("workflowId is required")
	}
	if len(req.Messages) == 0 {
		return invalid("messages must not be empty")
	}
	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return invalid("messages[%d]: unknown role %q", i, msg.Role)
		}
	}
	return nil
}

// Run executes one turn. Fragments are passed to emit in arrival order, each
// before the next one is pulled from the provider.
//
// A missing workflow fails with ErrWorkflowNotFound before anything is
// recorded or emitted. A provider failure returns *ProviderError after the
// fragments already emitted; the partial output is in the result and in the
// failed execution record.
func (s *ChatService) Run(ctx context.Context, req ChatRequest, emit EmitFunc) (*ChatResult, error) {
	ctx, span := s.tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("workflow.id", req.WorkflowID),
		attribute.Int("chat.messages", len(req.Messages)),
	))
	defer span.End()

	result := &ChatResult{State: TurnReceived}
	err := s.run(ctx, req, emit, result)

	span.SetAttributes(
		attribute.String("chat.state", string(result.State)),
		attribute.Int("chat.fragments", result.Fragments),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.count(ctx, result)
	return result, err
}

func (s *ChatService) run(ctx context.Context, req ChatRequest, emit EmitFunc, result *ChatResult) error {
	if err := req.Validate(); err != nil {
		result.State = TurnFailed
		return err
	}

	result.State = TurnResolving
	workflow, err := s.workflows.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		result.State = TurnFailed
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWorkflowNotFound
		}
		return &PersistenceError{Op: "load workflow", Err: err}
	}

	g, decodeErr := graph.Decode(workflow.Definition)
	if decodeErr != nil {
		s.logger.Debug("using default graph", "workflow_id", workflow.ID, "reason", decodeErr.Error())
	}
	result.Config = graph.ResolveEntryConfig(g)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("llm.model", result.Config.Model))

	result.ExecutionID = s.recorder.Start(ctx, workflow.ID, req.UserID, req.Messages)

	result.State = TurnStreaming
	var output strings.Builder
	streamErr := func() error {
		stream := s.provider.Stream(ctx, llm.Request{
			Model:        result.Config.Model,
			SystemPrompt: result.Config.SystemPrompt,
			Messages:     req.Messages,
		})
		for fragment, err := range stream {
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return &ProviderError{Model: result.Config.Model, Emitted: result.Fragments, Err: err}
			}
			if fragment == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(fragment); err != nil {
				return fmt.Errorf("emit fragment: %w", err)
			}
			output.WriteString(fragment)
			result.Fragments++
		}
		return ctx.Err()
	}()
	result.Output = output.String()

	if streamErr != nil {
		result.State = TurnFailed
		s.recorder.Fail(ctx, result.ExecutionID, result.Output, streamErr)
		s.logger.Warn("chat turn failed",
			"workflow_id", workflow.ID,
			"execution_id", result.ExecutionID,
			"model", result.Config.Model,
			"fragments", result.Fragments,
			"error", streamErr.Error())
		return streamErr
	}

	result.State = TurnCompleted
	s.recorder.Complete(ctx, result.ExecutionID, result.Config, result.Output)
	s.logger.Info("chat turn completed",
		"workflow_id", workflow.ID,
		"execution_id", result.ExecutionID,
		"model", result.Config.Model,
		"fragments", result.Fragments)
	return nil
}

func (s *ChatService) count(ctx context.Context, result *ChatResult) {
	ctx = context.WithoutCancel(ctx)
	if s.turns != nil {
		s.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(result.State))))
	}
	if s.fragments != nil && result.Fragments > 0 {
		s.fragments.Add(ctx, int64(result.Fragments), metric.WithAttributes(attribute.String("model", result.Config.Model)))
	}
}
