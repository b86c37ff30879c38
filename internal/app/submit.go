package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"studypal/internal/attach"
	"studypal/internal/dedup"
	"studypal/internal/notify"
	"studypal/internal/util"
	"studypal/pkg/ai"
	"studypal/pkg/domain"
)

// SubmitRequest is one inbound message submission.
type SubmitRequest struct {
	ConversationID string
	UserID         string
	Content        string
	Role           string
	Provider       string
	Model          string
	RequestID      string
	ThinkMode      bool
	Wait           bool
	WaitTimeout    time.Duration
	Uploads        []attach.Upload
}

// SubmitMessage runs the full submission pipeline: dedup lookup, lease
// acquisition, attachment resolution, persistence, and reply orchestration
// with a bounded wait. A timed-out wait never cancels the generation; the
// work continues in the background and the result carries a pending marker.
func (a *App) SubmitMessage(ctx context.Context, req SubmitRequest) (domain.SubmissionResult, error) {
	log := util.LoggerFromContext(ctx)

	req.Content = strings.TrimSpace(req.Content)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if req.Role == "" {
		req.Role = domain.RoleUser
	}
	if req.Role != domain.RoleUser && req.Role != domain.RoleAssistant {
		return domain.SubmissionResult{}, fmt.Errorf("unsupported role %q", req.Role)
	}
	if req.Content == "" && len(req.Uploads) == 0 {
		return domain.SubmissionResult{}, ErrEmptyContent
	}
	if req.Provider == "" {
		req.Provider = a.cfg.DefaultProvider
	}
	if req.Model == "" {
		req.Model = a.cfg.DefaultModel
	}
	if req.Role == domain.RoleUser {
		if _, ok := a.generators[req.Provider]; !ok {
			return domain.SubmissionResult{}, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
		}
	}
	waitTimeout := req.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = a.cfg.WaitTimeout
	}

	// Request-id dedup first: explicit retries are served for the full
	// retention period, not just the short window.
	if req.RequestID != "" {
		cached, ok, err := a.cache.Lookup(ctx, dedup.RequestKey(req.RequestID), dedup.DefaultRetention)
		if err != nil {
			log.Warn("request-id dedup lookup failed", "error", err)
		} else if ok {
			log.Info("duplicate submission served from cache", "request_id", req.RequestID)
			return cached, nil
		}
	}

	subKey := dedup.SubmissionKey(req.ConversationID, req.Content, req.Role, req.UserID, req.Provider, req.Model)
	cached, ok, err := a.cache.Lookup(ctx, subKey, a.cfg.DedupWindow)
	if err != nil {
		log.Warn("submission dedup lookup failed", "error", err)
	} else if ok {
		log.Info("duplicate submission served from cache", "conversation_id", req.ConversationID)
		return cached, nil
	}

	if _, err := a.ownedConversation(req.UserID, req.ConversationID); err != nil {
		return domain.SubmissionResult{}, err
	}

	holder := util.NewID()
	acquired, err := a.locker.TryAcquire(ctx, req.ConversationID, holder)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("acquire conversation lease: %w", err)
	}
	if !acquired {
		return domain.SubmissionResult{}, ErrConversationBusy
	}
	defer func() {
		// Request context may already be gone; release on its own budget.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.locker.Release(rctx, req.ConversationID, holder); err != nil {
			log.Warn("release conversation lease failed", "conversation_id", req.ConversationID, "error", err)
		}
	}()

	// Re-check under the lease: a duplicate that lost the race may have
	// completed between the first lookup and the acquire.
	cached, ok, err = a.cache.Lookup(ctx, subKey, a.cfg.DedupWindow)
	if err == nil && ok {
		return cached, nil
	}

	// Attachments resolve before the message persists so a rejected upload
	// leaves no partial conversation state.
	refs, err := a.resolveUploads(ctx, req.ConversationID, req.Uploads)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	content := attach.RenderRefs(req.Content, refs)

	now := a.now()
	msg := domain.Message{
		ID:             util.NewID(),
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           req.Role,
		Content:        content,
		Attachments:    refs,
		CreatedAt:      now,
	}
	firstMessage := false
	if req.Role == domain.RoleUser {
		if n, err := a.store.CountMessages(req.ConversationID); err == nil {
			firstMessage = n == 0
		}
	}
	if err := a.store.AppendMessage(msg); err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("persist message: %w", err)
	}
	if err := a.store.TouchConversation(req.ConversationID, now); err != nil {
		log.Warn("touch conversation failed", "conversation_id", req.ConversationID, "error", err)
	}
	if firstMessage && req.Content != "" {
		if err := a.store.RenameConversation(req.ConversationID, deriveTitle(req.Content)); err != nil {
			log.Warn("derive conversation title failed", "conversation_id", req.ConversationID, "error", err)
		}
	}

	result := domain.SubmissionResult{Message: msg}
	if req.Role != domain.RoleUser {
		a.cacheResult(ctx, subKey, req.RequestID, result)
		return result, nil
	}

	gen := replyGeneration{
		conversationID: req.ConversationID,
		userID:         req.UserID,
		userMessage:    msg,
		question:       content,
		provider:       req.Provider,
		model:          req.Model,
		thinkMode:      req.ThinkMode,
		subKey:         subKey,
		requestID:      req.RequestID,
	}
	taskKey := replyTaskPrefix(req.ConversationID) + msg.ID
	task, started := a.registry.Go(taskKey, a.replyTask(gen))
	if !started {
		log.Info("reply generation already running", "task", taskKey)
	}

	// The lease stays held until the result is cached (the deferred
	// release runs after cacheResult), so a duplicate can never slip in
	// between. Long waits are fine: the lease goes stale after max hold
	// and a later legitimate writer can steal it.

	if !req.Wait {
		result.ReplyPending = true
		a.cacheResult(ctx, subKey, req.RequestID, result)
		return result, nil
	}

	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	select {
	case <-task.Done():
		if err := task.Err(); err != nil {
			log.Warn("reply generation failed before deadline", "conversation_id", req.ConversationID, "error", err)
			// Leave the failure with the caller and retry detached, the
			// same way a timed-out wait detaches.
			a.registry.Go(taskKey+":retry", a.replyTask(gen))
			result.ReplyError = err.Error()
			result.ReplyPending = true
		} else if reply, ok := task.Value().(*domain.Message); ok && reply != nil {
			result.Reply = reply
		}
	case <-timer.C:
		log.Info("reply wait deadline reached, continuing in background",
			"conversation_id", req.ConversationID, "wait", waitTimeout.String())
		result.ReplyPending = true
	case <-ctx.Done():
		result.ReplyPending = true
	}

	a.cacheResult(ctx, subKey, req.RequestID, result)
	return result, nil
}

// replyTask wraps generateReply for the registry, logging failures that no
// caller is waiting on anymore.
func (a *App) replyTask(gen replyGeneration) func(context.Context) (any, error) {
	return func(taskCtx context.Context) (any, error) {
		reply, err := a.generateReply(taskCtx, gen)
		if err != nil {
			util.LoggerFromContext(taskCtx).Warn("reply generation failed",
				"conversation_id", gen.conversationID, "provider", gen.provider, "error", err)
		}
		return reply, err
	}
}

type replyGeneration struct {
	conversationID string
	userID         string
	userMessage    domain.Message
	question       string
	provider       string
	model          string
	thinkMode      bool
	subKey         string
	requestID      string
}

// generateReply builds the prompt from recent history, calls the backend,
// and persists the assistant message. It runs under the task registry with
// its own context; a caller abandoning the wait does not stop it.
func (a *App) generateReply(ctx context.Context, gen replyGeneration) (*domain.Message, error) {
	generator, ok := a.generators[gen.provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, gen.provider)
	}

	history, err := a.store.ListMessages(gen.conversationID, a.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	entries := make([]ai.HistoryEntry, 0, len(history))
	for _, m := range history {
		if m.ID == gen.userMessage.ID {
			continue
		}
		entries = append(entries, ai.HistoryEntry{Role: m.Role, Content: m.Content})
	}
	prompt := ai.BuildUserPrompt(gen.question, ai.ClampHistory(entries, a.cfg.HistoryLimit), gen.thinkMode)

	started := a.now()
	text, err := generator.GenerateText(ctx, ai.SystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	elapsed := a.now().Sub(started).Seconds()

	reply := domain.Message{
		ID:                util.NewID(),
		ConversationID:    gen.conversationID,
		UserID:            gen.userID,
		Role:              domain.RoleAssistant,
		Content:           text,
		Provider:          gen.provider,
		Model:             gen.model,
		ProcessingSeconds: elapsed,
		CreatedAt:         a.now(),
	}
	if err := a.store.AppendMessage(reply); err != nil {
		return nil, fmt.Errorf("persist reply: %w", err)
	}
	if err := a.store.TouchConversation(gen.conversationID, reply.CreatedAt); err != nil {
		util.LoggerFromContext(ctx).Warn("touch conversation failed", "conversation_id", gen.conversationID, "error", err)
	}

	// Refresh the cached submission payload so late duplicate retries see
	// the completed reply instead of the pending marker.
	a.cacheResult(ctx, gen.subKey, gen.requestID, domain.SubmissionResult{Message: gen.userMessage, Reply: &reply})

	if err := a.notifier.Notify(ctx, notify.ReplyEvent{
		ConversationID: gen.conversationID,
		MessageID:      reply.ID,
		UserID:         gen.userID,
		Provider:       gen.provider,
		Model:          gen.model,
		CreatedAt:      reply.CreatedAt,
	}); err != nil {
		util.LoggerFromContext(ctx).Warn("reply notification failed", "conversation_id", gen.conversationID, "error", err)
	}
	return &reply, nil
}

func (a *App) resolveUploads(ctx context.Context, conversationID string, uploads []attach.Upload) ([]domain.AttachmentRef, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if a.resolver == nil {
		return nil, &attach.ValidationError{Reason: "attachments are not enabled"}
	}
	return a.resolver.Resolve(ctx, conversationID, uploads)
}

func (a *App) cacheResult(ctx context.Context, subKey, requestID string, result domain.SubmissionResult) {
	log := util.LoggerFromContext(ctx)
	// The caller may already be gone (a disconnect mid-wait is the very
	// retry case the dedup record exists for); store on its own budget.
	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.cache.Store(sctx, subKey, result); err != nil {
		log.Warn("cache submission result failed", "error", err)
	}
	if requestID != "" {
		if err := a.cache.Store(sctx, dedup.RequestKey(requestID), result); err != nil {
			log.Warn("cache submission result failed", "error", err)
		}
	}
}
