package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/export"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/llm"
	"github.com/Varun-Patkar/RebirthRealm/internal/logging"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
	"github.com/Varun-Patkar/RebirthRealm/internal/prompts"
	"github.com/Varun-Patkar/RebirthRealm/internal/rag"
	"github.com/Varun-Patkar/RebirthRealm/internal/timeline"
)

// Options wires a StoryEngine. Gateway and Store are required.
type Options struct {
	Gateway interfaces.ModelGateway
	Store   interfaces.Store
	// Index defaults to a fuzzy search over the store.
	Index interfaces.ChapterIndex
	// Locker defaults to an in-process LocalLocker.
	Locker  interfaces.Locker
	Sink    interfaces.EventSink
	Prompts *prompts.TemplateEngine
	Config  config.EngineConfig
	Logger  *slog.Logger
}

// StartRequest opens a saga's first chapter.
type StartRequest struct {
	Mode      models.StoryMode `json:"mode,omitempty"`
	Direction string           `json:"direction,omitempty"`
}

// DecisionOutcome is the result of a player decision. Node is nil for CLARIFY.
type DecisionOutcome struct {
	Evaluation *Evaluation       `json:"evaluation"`
	Node       *models.StoryNode `json:"node,omitempty"`
}

// ModelStatus reports the gateway state.
type ModelStatus struct {
	Initialized bool `json:"initialized"`
	Loading     bool `json:"loading"`
}

// StoryEngine orchestrates sagas, chapter generation and the story tree.
type StoryEngine struct {
	gateway   interfaces.ModelGateway
	store     interfaces.Store
	tree      *timeline.Manager
	index     interfaces.ChapterIndex
	locker    interfaces.Locker
	sink      interfaces.EventSink
	memory    *MemoryCompressor
	evaluator *DecisionEvaluator
	pipeline  *Pipeline
	sessions  *sessionCache
	cfg       config.EngineConfig
	logger    *slog.Logger
}

// NewStoryEngine creates a new story engine
func NewStoryEngine(opts Options) (*StoryEngine, error) {
	if opts.Gateway == nil || opts.Store == nil {
		return nil, fmt.Errorf("story engine needs a gateway and a store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	unmatched, err := ParseJudgmentPolicy(opts.Config.UnmatchedJudgment)
	if err != nil {
		return nil, err
	}
	sessions, err := newSessionCache(opts.Config.SessionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	templates := opts.Prompts
	if templates == nil {
		templates = prompts.NewDefaultEngine()
	}
	index := opts.Index
	if index == nil {
		index = rag.NewFuzzyIndex(opts.Store)
	}
	locker := opts.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	sink := opts.Sink
	if sink == nil {
		sink = interfaces.NopSink{}
	}

	return &StoryEngine{
		gateway:   opts.Gateway,
		store:     opts.Store,
		tree:      timeline.NewManager(opts.Store, index, logger),
		index:     index,
		locker:    locker,
		sink:      sink,
		memory:    NewMemoryCompressor(opts.Gateway, templates, opts.Config.MemoryWordLimit, logger),
		evaluator: NewDecisionEvaluator(opts.Gateway, templates, unmatched, logger),
		pipeline:  NewPipeline(opts.Gateway, templates, opts.Config.ExcerptChars, logger),
		sessions:  sessions,
		cfg:       opts.Config,
		logger:    logger.With("component", "engine"),
	}, nil
}

// InitializeModel loads the model gateway.
func (e *StoryEngine) InitializeModel(ctx context.Context, onProgress func(interfaces.InitProgress)) (bool, error) {
	return e.gateway.Initialize(ctx, onProgress)
}

func (e *StoryEngine) ReloadModel(ctx context.Context, onProgress func(interfaces.InitProgress)) (bool, error) {
	return e.gateway.Reload(ctx, onProgress)
}

func (e *StoryEngine) ModelStatus() ModelStatus {
	return ModelStatus{Initialized: e.gateway.IsInitialized(), Loading: e.gateway.IsLoading()}
}

// CreateSaga validates and stores a new saga owned by saga.UserID.
func (e *StoryEngine) CreateSaga(ctx context.Context, saga *models.Saga) (*models.Saga, error) {
	if err := models.ValidateSaga(saga); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	saga.ID = uuid.NewString()
	saga.CreatedAt = now
	saga.UpdatedAt = now
	if err := e.store.CreateSaga(ctx, saga); err != nil {
		return nil, fmt.Errorf("failed to create saga: %w", err)
	}
	e.logger.Info("saga created", "saga", saga.ID, "user", saga.UserID)
	return saga, nil
}

// GetSaga returns a saga owned by userID; an empty userID matches any owner.
func (e *StoryEngine) GetSaga(ctx context.Context, userID, sagaID string) (*models.Saga, error) {
	return e.loadSaga(ctx, models.Scope{SagaID: sagaID, UserID: userID})
}

func (e *StoryEngine) ListSagas(ctx context.Context, userID string) ([]*models.Saga, error) {
	return e.store.ListSagas(ctx, userID)
}

// UpdateSaga applies patch after validating the result.
func (e *StoryEngine) UpdateSaga(ctx context.Context, userID, sagaID string, patch models.SagaPatch) (*models.Saga, error) {
	scope := models.Scope{SagaID: sagaID, UserID: userID}
	saga, err := e.loadSaga(ctx, scope)
	if err != nil {
		return nil, err
	}
	if patch.StoryMode != nil {
		if err := e.checkModeChange(ctx, saga, *patch.StoryMode); err != nil {
			return nil, err
		}
	}

	candidate := *saga
	patch.Apply(&candidate)
	if err := models.ValidateSaga(&candidate); err != nil {
		return nil, err
	}
	if patch.TotalChapters != nil {
		patch.TotalChapters = &candidate.TotalChapters
	}
	return e.store.UpdateSaga(ctx, sagaID, patch)
}

// SetStoryMode fixes the saga's mode. It can be set once.
func (e *StoryEngine) SetStoryMode(ctx context.Context, scope models.Scope, mode models.StoryMode) (*models.Saga, error) {
	saga, err := e.loadSaga(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := e.checkModeChange(ctx, saga, mode); err != nil {
		return nil, err
	}
	if saga.StoryMode == mode {
		return saga, nil
	}
	return e.store.UpdateSaga(ctx, saga.ID, models.SagaPatch{StoryMode: &mode})
}

func (e *StoryEngine) checkModeChange(ctx context.Context, saga *models.Saga, mode models.StoryMode) error {
	if !mode.Valid() {
		return models.Invalid("storyMode", "unknown mode %q", mode)
	}
	current, err := e.modeOf(ctx, saga)
	if err != nil {
		return err
	}
	if current != "" && current != mode {
		return models.ErrStoryModeLocked
	}
	return nil
}

// DeleteSaga removes a saga and every node in it.
func (e *StoryEngine) DeleteSaga(ctx context.Context, userID, sagaID string) error {
	scope := models.Scope{SagaID: sagaID, UserID: userID}
	if _, err := e.loadSaga(ctx, scope); err != nil {
		return err
	}
	return e.withLock(ctx, scope, func() error {
		if _, err := e.tree.DeleteAll(ctx, models.Scope{SagaID: sagaID}); err != nil {
			return err
		}
		if err := e.store.DeleteSaga(ctx, sagaID); err != nil {
			return fmt.Errorf("failed to delete saga: %w", err)
		}
		e.sessions.remove(scope)
		e.logger.Info("saga deleted", "saga", sagaID)
		return nil
	})
}

// StartStory writes chapter one of a new branch.
func (e *StoryEngine) StartStory(ctx context.Context, scope models.Scope, req StartRequest) (*models.StoryNode, error) {
	saga, err := e.loadSaga(ctx, scope)
	if err != nil {
		return nil, err
	}
	mode, err := e.modeOf(ctx, saga)
	if err != nil {
		return nil, err
	}
	if req.Mode != "" {
		if !req.Mode.Valid() {
			return nil, models.Invalid("mode", "unknown mode %q", req.Mode)
		}
		if mode != "" && mode != req.Mode {
			return nil, models.ErrWrongMode
		}
		mode = req.Mode
	}
	if mode == "" {
		mode = models.ModePlayer
	}
	direction := strings.TrimSpace(req.Direction)
	if mode == models.ModeStorywriter && direction == "" {
		return nil, models.Invalid("direction", "is required in storywriter mode")
	}
	strategy, err := e.pipeline.Strategy(mode)
	if err != nil {
		return nil, err
	}

	var node *models.StoryNode
	err = e.generate(ctx, scope, func(ctx context.Context) (string, error) {
		request := ChapterRequest{Saga: saga, ChapterNumber: 1, Direction: direction}
		draft, err := strategy.Produce(ctx, request, e.progress(scope))
		if err != nil {
			return "", err
		}
		node = newNode(saga, nil, 1, draft)
		if mode == models.ModeStorywriter {
			node.StoryDirection = direction
		}
		return node.ID, e.attach(ctx, scope, node)
	})
	if err != nil {
		return nil, err
	}

	if saga.StoryMode == "" {
		if _, err := e.store.UpdateSaga(ctx, saga.ID, models.SagaPatch{StoryMode: &mode}); err != nil {
			e.logger.Warn("failed to record story mode", "saga", saga.ID, "error", err)
		}
	}
	return node, nil
}

// SubmitDecision evaluates a reader decision taken at nodeID and acts on the judgment.
func (e *StoryEngine) SubmitDecision(ctx context.Context, scope models.Scope, nodeID, decision string) (*DecisionOutcome, error) {
	decision = strings.TrimSpace(decision)
	if decision == "" {
		return nil, models.Invalid("decision", "is required")
	}
	saga, parent, err := e.continuation(ctx, scope, nodeID, models.ModePlayer)
	if err != nil {
		return nil, err
	}

	var outcome *DecisionOutcome
	err = e.generate(ctx, scope, func(ctx context.Context) (string, error) {
		progress := e.progress(scope)
		progress(interfaces.StateEvaluating, "")
		eval, err := e.evaluator.Evaluate(ctx, saga, decision, func(text string) {
			progress(interfaces.StateEvaluating, text)
		})
		if err != nil {
			return "", err
		}
		outcome = &DecisionOutcome{Evaluation: eval}

		switch eval.Judgment {
		case JudgmentClarify:
			return "", nil
		case JudgmentUnsafe, JudgmentConclude:
			node := endMarker(saga, parent, decision, eval)
			if err := e.attach(ctx, scope, node); err != nil {
				return "", err
			}
			outcome.Node = node
			return node.ID, nil
		}

		request, err := e.chapterRequest(ctx, scope, saga, parent, parent.ChapterNumber+1, progress)
		if err != nil {
			return "", err
		}
		request.Decision = decision
		draft, err := e.pipeline.player.Produce(ctx, request, progress)
		if err != nil {
			return "", err
		}
		node := newNode(saga, parent, request.ChapterNumber, draft)
		node.UserDecision = decision
		if err := e.attach(ctx, scope, node); err != nil {
			return "", err
		}
		outcome.Node = node
		return node.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// SubmitDirection continues a storywriter saga from nodeID.
func (e *StoryEngine) SubmitDirection(ctx context.Context, scope models.Scope, nodeID, direction string) (*models.StoryNode, error) {
	direction = strings.TrimSpace(direction)
	if direction == "" {
		return nil, models.Invalid("direction", "is required")
	}
	saga, parent, err := e.continuation(ctx, scope, nodeID, models.ModeStorywriter)
	if err != nil {
		return nil, err
	}

	var node *models.StoryNode
	err = e.generate(ctx, scope, func(ctx context.Context) (string, error) {
		progress := e.progress(scope)
		request, err := e.chapterRequest(ctx, scope, saga, parent, parent.ChapterNumber+1, progress)
		if err != nil {
			return "", err
		}
		request.Direction = direction
		draft, err := e.pipeline.storywriter.Produce(ctx, request, progress)
		if err != nil {
			return "", err
		}
		node = newNode(saga, parent, request.ChapterNumber, draft)
		node.StoryDirection = direction
		return node.ID, e.attach(ctx, scope, node)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Regenerate rewrites an active chapter in place using feedback. Its parent,
// chapter number and children are left as they are.
func (e *StoryEngine) Regenerate(ctx context.Context, scope models.Scope, nodeID, feedback string) (*models.StoryNode, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, models.Invalid("feedback", "is required")
	}
	saga, err := e.loadSaga(ctx, scope)
	if err != nil {
		return nil, err
	}
	node, err := e.tree.Get(ctx, scope, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Status.Terminal() {
		return nil, models.ErrTerminalNode
	}

	mode := models.ModePlayer
	if node.StoryDirection != "" {
		mode = models.ModeStorywriter
	}
	strategy, err := e.pipeline.Strategy(mode)
	if err != nil {
		return nil, err
	}

	var parent *models.StoryNode
	if node.ParentID != nil {
		if parent, err = e.tree.Get(ctx, scope, *node.ParentID); err != nil {
			return nil, fmt.Errorf("failed to load parent chapter: %w", err)
		}
	}

	var updated *models.StoryNode
	err = e.generate(ctx, scope, func(ctx context.Context) (string, error) {
		progress := e.progress(scope)
		request, err := e.chapterRequest(ctx, scope, saga, parent, node.ChapterNumber, progress)
		if err != nil {
			return "", err
		}
		request.Decision = node.UserDecision
		request.Direction = node.StoryDirection
		request.Feedback = feedback

		draft, err := strategy.Produce(ctx, request, progress)
		if err != nil {
			return "", err
		}
		patch := models.NodePatch{Content: &draft.Content, Summary: &draft.Summary}
		if draft.Outline != nil {
			patch.Outline = draft.Outline
			patch.SetOutline = true
		}
		if updated, err = e.tree.Rewrite(ctx, scope, node.ID, patch); err != nil {
			return "", err
		}

		if children, err := e.tree.Children(ctx, scope, node.ID); err == nil && len(children) > 0 {
			e.logger.Warn("regenerated chapter already has continuations", "node", node.ID, "children", len(children))
		}
		e.sessions.update(scope, func(s *Session) { s.CurrentNodeID = node.ID })
		return node.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Navigate moves the reader to nodeID.
func (e *StoryEngine) Navigate(ctx context.Context, scope models.Scope, nodeID string) (*models.StoryNode, error) {
	node, err := e.tree.Get(ctx, scope, nodeID)
	if err != nil {
		return nil, err
	}
	e.sessions.update(scope, func(s *Session) { s.CurrentNodeID = node.ID })
	return node, nil
}

// GoBack moves the reader to the parent of the current chapter.
func (e *StoryEngine) GoBack(ctx context.Context, scope models.Scope) (*models.StoryNode, error) {
	current, err := e.Current(ctx, scope)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, models.Invalid("current", "no chapter is selected")
	}
	if current.ParentID == nil {
		return nil, models.Invalid("current", "chapter %d has no previous chapter", current.ChapterNumber)
	}
	return e.Navigate(ctx, scope, *current.ParentID)
}

// Current returns the reader's chapter, or nil when the saga has none. Without
// a remembered position the most recent active chapter is chosen, then the
// last chapter in order.
func (e *StoryEngine) Current(ctx context.Context, scope models.Scope) (*models.StoryNode, error) {
	if _, err := e.loadSaga(ctx, scope); err != nil {
		return nil, err
	}
	if s, ok := e.sessions.get(scope); ok && s.CurrentNodeID != "" {
		node, err := e.tree.Get(ctx, scope, s.CurrentNodeID)
		if err == nil {
			return node, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	nodes, err := e.scopedNodes(ctx, scope)
	if err != nil {
		return nil, err
	}
	node := defaultCurrent(nodes)
	e.sessions.update(scope, func(s *Session) {
		s.CurrentNodeID = ""
		if node != nil {
			s.CurrentNodeID = node.ID
		}
	})
	return node, nil
}

// State returns the reader's session.
func (e *StoryEngine) State(ctx context.Context, scope models.Scope) (Session, error) {
	if _, err := e.Current(ctx, scope); err != nil {
		return Session{}, err
	}
	s, _ := e.sessions.get(scope)
	return s, nil
}

func defaultCurrent(nodes []*models.StoryNode) *models.StoryNode {
	var latest *models.StoryNode
	for _, n := range nodes {
		if n.Status == models.StatusActive && (latest == nil || !n.CreatedAt.Before(latest.CreatedAt)) {
			latest = n
		}
	}
	if latest == nil && len(nodes) > 0 {
		latest = nodes[len(nodes)-1]
	}
	return latest
}

// DeleteNode removes one chapter, or its whole subtree when deleteChildren is set.
func (e *StoryEngine) DeleteNode(ctx context.Context, scope models.Scope, nodeID string, deleteChildren bool) (*timeline.DeleteResult, error) {
	if _, err := e.loadSaga(ctx, scope); err != nil {
		return nil, err
	}
	node, err := e.tree.Get(ctx, scope, nodeID)
	if err != nil {
		return nil, err
	}

	var result *timeline.DeleteResult
	err = e.withLock(ctx, scope, func() error {
		var err error
		result, err = e.tree.Delete(ctx, scope, nodeID, deleteChildren)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s, ok := e.sessions.get(scope); ok && s.CurrentNodeID != "" {
		if _, err := e.tree.Get(ctx, scope, s.CurrentNodeID); errors.Is(err, models.ErrNotFound) {
			e.sessions.update(scope, func(s *Session) { s.CurrentNodeID = node.ParentKey() })
		}
	}
	return result, nil
}

// DeleteAllNodes clears the saga's timeline.
func (e *StoryEngine) DeleteAllNodes(ctx context.Context, scope models.Scope) (*timeline.DeleteResult, error) {
	if _, err := e.loadSaga(ctx, scope); err != nil {
		return nil, err
	}
	var result *timeline.DeleteResult
	err := e.withLock(ctx, scope, func() error {
		var err error
		result, err = e.tree.DeleteAll(ctx, scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.sessions.update(scope, func(s *Session) { s.CurrentNodeID = "" })
	return result, nil
}

func (e *StoryEngine) Timeline(ctx context.Context, scope models.Scope) ([]*timeline.Branch, error) {
	if _, err := e.loadSaga(ctx, scope); err != nil {
		return nil, err
	}
	return e.tree.Timeline(ctx, scope)
}

func (e *StoryEngine) Nodes(ctx context.Context, scope models.Scope) ([]*models.StoryNode, error) {
	if _, err := e.loadSaga(ctx, scope); err != nil {
		return nil, err
	}
	return e.scopedNodes(ctx, scope)
}

func (e *StoryEngine) GetNode(ctx context.Context, scope models.Scope, nodeID string) (*models.StoryNode, error) {
	return e.tree.Get(ctx, scope, nodeID)
}

// Branch returns the chapters from a root down to nodeID.
func (e *StoryEngine) Branch(ctx context.Context, scope models.Scope, nodeID string) ([]*models.StoryNode, error) {
	return e.tree.Path(ctx, scope, nodeID)
}

// SearchChapters finds chapters of the saga matching query.
func (e *StoryEngine) SearchChapters(ctx context.Context, scope models.Scope, query string, limit int) ([]interfaces.ChapterHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.Invalid("q", "is required")
	}
	if _, err := e.loadSaga(ctx, scope); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.cfg.SearchLimit
	}
	if limit <= 0 {
		limit = 10
	}

	hits, err := e.index.Search(ctx, scope.SagaID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chapters: %w", err)
	}
	if scope.UserID == "" {
		return hits, nil
	}
	owned := make([]interfaces.ChapterHit, 0, len(hits))
	for _, hit := range hits {
		if _, err := e.tree.Get(ctx, scope, hit.NodeID); err == nil {
			owned = append(owned, hit)
		}
	}
	return owned, nil
}

// ExportBranch writes the branch ending at nodeID as a PDF.
func (e *StoryEngine) ExportBranch(ctx context.Context, scope models.Scope, nodeID string, w io.Writer) error {
	saga, err := e.loadSaga(ctx, scope)
	if err != nil {
		return err
	}
	path, err := e.tree.Path(ctx, scope, nodeID)
	if err != nil {
		return err
	}
	return export.WriteBranchPDF(w, saga, path)
}

func (e *StoryEngine) loadSaga(ctx context.Context, scope models.Scope) (*models.Saga, error) {
	saga, err := e.store.GetSaga(ctx, scope.SagaID)
	if err != nil {
		return nil, err
	}
	if scope.UserID != "" && saga.UserID != scope.UserID {
		return nil, models.ErrNotFound
	}
	return saga, nil
}

// modeOf returns the saga's mode, inferring it from existing chapters when unset.
func (e *StoryEngine) modeOf(ctx context.Context, saga *models.Saga) (models.StoryMode, error) {
	if saga.StoryMode != "" {
		return saga.StoryMode, nil
	}
	nodes, err := e.tree.List(ctx, saga.ID)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", nil
	}
	for _, n := range nodes {
		if n.StoryDirection != "" {
			return models.ModeStorywriter, nil
		}
	}
	return models.ModePlayer, nil
}

// continuation validates that a new chapter may follow nodeID in mode.
func (e *StoryEngine) continuation(ctx context.Context, scope models.Scope, nodeID string, want models.StoryMode) (*models.Saga, *models.StoryNode, error) {
	saga, err := e.loadSaga(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	parent, err := e.tree.Get(ctx, scope, nodeID)
	if err != nil {
		return nil, nil, err
	}
	mode, err := e.modeOf(ctx, saga)
	if err != nil {
		return nil, nil, err
	}
	if mode != want {
		return nil, nil, models.ErrWrongMode
	}
	if parent.Status.Terminal() {
		return nil, nil, models.ErrTerminalNode
	}
	if total := saga.TotalChapters; total > 0 && parent.ChapterNumber >= total {
		return nil, nil, models.Invalid("chapterNumber", "the saga ends at chapter %d", total)
	}
	return saga, parent, nil
}

func (e *StoryEngine) chapterRequest(ctx context.Context, scope models.Scope, saga *models.Saga, parent *models.StoryNode, chapter int, progress StageFunc) (ChapterRequest, error) {
	request := ChapterRequest{Saga: saga, ChapterNumber: chapter}
	if parent == nil {
		return request, nil
	}
	request.PreviousText = parent.Content

	path, err := e.tree.Path(ctx, scope, parent.ID)
	if err != nil {
		return request, err
	}
	if len(path) > 1 {
		progress(interfaces.StateSummarizing, "")
	}
	memory, err := e.memory.BuildFromPath(ctx, path, func(text string) {
		progress(interfaces.StateSummarizing, text)
	})
	if err != nil {
		return request, err
	}
	request.Memory = memory
	return request, nil
}

func (e *StoryEngine) scopedNodes(ctx context.Context, scope models.Scope) ([]*models.StoryNode, error) {
	nodes, err := e.tree.List(ctx, scope.SagaID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.StoryNode, 0, len(nodes))
	for _, n := range nodes {
		if scope.Owns(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// withLock runs fn while holding the saga's generation lock.
func (e *StoryEngine) withLock(ctx context.Context, scope models.Scope, fn func() error) error {
	release, ok, err := e.locker.TryLock(ctx, scope.SagaID)
	if err != nil {
		return fmt.Errorf("failed to acquire saga lock: %w", err)
	}
	if !ok {
		return models.ErrGenerationInProgress
	}
	defer release()
	return fn()
}

// generate runs one generation under the saga lock and publishes its end.
// fn returns the id of the node it produced, if any.
func (e *StoryEngine) generate(ctx context.Context, scope models.Scope, fn func(ctx context.Context) (string, error)) error {
	if !e.gateway.IsInitialized() {
		return llm.ErrNotInitialized
	}
	return e.withLock(ctx, scope, func() error {
		start := time.Now()
		nodeID, err := fn(ctx)
		e.setState(scope, interfaces.StateIdle)

		event := interfaces.ProgressEvent{SagaID: scope.SagaID, State: interfaces.StateIdle, NodeID: nodeID}
		if err != nil {
			event.Error = err.Error()
			e.logger.Error("generation failed", "saga", scope.SagaID, "error", err)
		} else {
			e.logger.Info("generation finished", "saga", scope.SagaID, "node", nodeID, "elapsed", time.Since(start).Round(time.Millisecond))
		}
		e.sink.Publish(event)
		return err
	})
}

func (e *StoryEngine) progress(scope models.Scope) StageFunc {
	return func(state interfaces.StoryState, text string) {
		if text == "" {
			e.setState(scope, state)
		}
		e.sink.Publish(interfaces.ProgressEvent{SagaID: scope.SagaID, State: state, Text: text})
	}
}

func (e *StoryEngine) setState(scope models.Scope, state interfaces.StoryState) {
	e.sessions.update(scope, func(s *Session) { s.State = state })
}

func (e *StoryEngine) attach(ctx context.Context, scope models.Scope, node *models.StoryNode) error {
	if err := e.tree.Attach(ctx, node); err != nil {
		return err
	}
	e.sessions.update(scope, func(s *Session) { s.CurrentNodeID = node.ID })
	e.logger.Info("chapter attached", "saga", node.SagaID, "node", node.ID,
		"chapter", node.ChapterNumber, "status", node.Status)
	return nil
}

func newNode(saga *models.Saga, parent *models.StoryNode, chapter int, draft *ChapterDraft) *models.StoryNode {
	node := &models.StoryNode{
		ID:            uuid.NewString(),
		SagaID:        saga.ID,
		UserID:        saga.UserID,
		Summary:       draft.Summary,
		Content:       draft.Content,
		Status:        models.StatusActive,
		ChapterNumber: chapter,
		Outline:       draft.Outline,
		CreatedAt:     time.Now().UTC(),
	}
	if parent != nil {
		node.ParentID = models.StringPtr(parent.ID)
	}
	return node
}

// endMarker records a decision that ended its timeline. It keeps the parent's
// chapter number.
func endMarker(saga *models.Saga, parent *models.StoryNode, decision string, eval *Evaluation) *models.StoryNode {
	status := models.StatusEnded
	if eval.Judgment == JudgmentUnsafe {
		status = models.StatusUnsafe
	}
	return &models.StoryNode{
		ID:           uuid.NewString(),
		SagaID:       saga.ID,
		UserID:       saga.UserID,
		ParentID:     models.StringPtr(parent.ID),
		UserDecision: decision,
		Summary:      "Timeline ended: " + eval.Explanation,
		Content: fmt.Sprintf("Your decision: \"%s\"\n\n%s\n\nThis timeline has ended. "+
			"You can load back to a previous decision point to continue the story.", decision, eval.Explanation),
		Status:        status,
		EndReason:     eval.Explanation,
		ChapterNumber: parent.ChapterNumber,
		CreatedAt:     time.Now().UTC(),
	}
}
