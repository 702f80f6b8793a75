// Package creation 协调一次完整的创作流程：转写 → 增强提示词 → 生成图片 → 入库。
package creation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	model "github.com/zhouzirui/echosketch/backend/internal/model/sketch"
	sketchsvc "github.com/zhouzirui/echosketch/backend/internal/service/sketch"
)

const (
	// EnhancingPlaceholder is shown on the provisional session until enhancement returns.
	EnhancingPlaceholder = "Enhancing your idea..."
	unknownErrorMessage  = "An unknown error occurred."
	subscriberBuffer     = 16
)

var (
	// ErrBusy is returned when input arrives while the workspace cannot accept it.
	ErrBusy = errors.New("a creation is already in progress")
	// ErrSessionNotFound 表示请求的会话不在列表中。
	ErrSessionNotFound = errors.New("session not found")
)

// Enhancer rewrites a transcript into an image prompt.
type Enhancer interface {
	Enhance(ctx context.Context, transcript string) (string, error)
}

// Generator turns a prompt into an image reference.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Source 标识输入来自键盘还是语音。
type Source string

const (
	SourceText  Source = "text"
	SourceVoice Source = "voice"
)

// State is a snapshot of the workspace shown to clients.
type State struct {
	LoadingState model.LoadingState `json:"loadingState"`
	Active       *model.Session     `json:"activeSession"`
	Error        string             `json:"error,omitempty"`
	Live         string             `json:"liveTranscript,omitempty"`
	Metrics      *model.Metrics     `json:"metrics,omitempty"`
	Sequence     uint64             `json:"sequence"`
}

func (s State) clone() State {
	out := s
	if s.Active != nil {
		active := *s.Active
		out.Active = &active
	}
	if s.Metrics != nil {
		metrics := *s.Metrics
		out.Metrics = &metrics
	}
	return out
}

// Orchestrator owns the active session and the loading state of one workspace.
type Orchestrator struct {
	mu        sync.Mutex
	store     *sketchsvc.Store
	enhancer  Enhancer
	generator Generator

	state State
	seq   uint64

	subscribers map[uint64]chan State
	nextSub     uint64

	now   func() time.Time
	newID func() string
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator overrides how finalized session ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

// NewOrchestrator 创建编排器；若已有历史会话，最新一条作为初始活动会话。
func NewOrchestrator(store *sketchsvc.Store, enhancer Enhancer, generator Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		enhancer:    enhancer,
		generator:   generator,
		state:       State{LoadingState: model.StateIdle},
		subscribers: make(map[uint64]chan State),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	if latest, ok := store.Latest(); ok {
		o.state.Active = &latest
	}
	return o
}

// State returns the current snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Sessions lists finalized sessions, most recent first.
func (o *Orchestrator) Sessions() []model.Session {
	return o.store.List()
}

// Session looks up one finalized session.
func (o *Orchestrator) Session(id string) (model.Session, bool) {
	return o.store.Select(id)
}

// AcceptsInput 判断当前状态下是否接受该来源的输入。
// 键盘输入在处理、生成或聆听期间被拒绝；语音输入只在处理或生成期间被拒绝。
func (o *Orchestrator) AcceptsInput(source Source) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.acceptsLocked(source)
}

func (o *Orchestrator) acceptsLocked(source Source) bool {
	current := o.state.LoadingState
	if current.Busy() {
		return false
	}
	if source == SourceText && current == model.StateListening {
		return false
	}
	return true
}

// Submit checks that the source may submit now, then runs ProcessTranscript.
func (o *Orchestrator) Submit(ctx context.Context, source Source, transcript string) (State, error) {
	if !o.AcceptsInput(source) {
		return o.State(), ErrBusy
	}
	return o.ProcessTranscript(ctx, transcript), nil
}

// ProcessTranscript 执行一次完整的创作流程并返回结束时的状态快照。
// 空白输入不改变任何状态。被更新的尝试取代的结果会被丢弃。
func (o *Orchestrator) ProcessTranscript(ctx context.Context, transcript string) State {
	if strings.TrimSpace(transcript) == "" {
		return o.State()
	}

	started := o.now()

	o.mu.Lock()
	o.seq++
	attempt := o.seq
	provisional := model.Session{
		ID:                 fmt.Sprintf("%s%d", model.ProvisionalPrefix, started.UnixMilli()),
		OriginalTranscript: transcript,
		EnhancedPrompt:     EnhancingPlaceholder,
		CreatedAt:          started,
	}
	o.state.Error = ""
	o.state.Live = ""
	o.state.Metrics = nil
	o.state.LoadingState = model.StateProcessing
	o.state.Active = &provisional
	o.publishLocked()
	o.mu.Unlock()

	enhanced, err := o.enhancer.Enhance(ctx, transcript)
	enhanceDone := o.now()

	o.mu.Lock()
	if attempt != o.seq {
		o.mu.Unlock()
		log.Printf("[creation] 丢弃过期的增强结果 attempt=%d", attempt)
		return o.State()
	}
	if err != nil {
		o.failAttemptLocked(provisional.ID, err)
		snapshot := o.state.clone()
		o.mu.Unlock()
		return snapshot
	}
	if o.state.Active != nil && o.state.Active.ID == provisional.ID {
		updated := *o.state.Active
		updated.EnhancedPrompt = enhanced
		o.state.Active = &updated
	}
	o.state.LoadingState = model.StateGenerating
	o.publishLocked()
	o.mu.Unlock()

	imageURL, err := o.generator.Generate(ctx, enhanced)
	generateDone := o.now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if attempt != o.seq {
		log.Printf("[creation] 丢弃过期的生成结果 attempt=%d", attempt)
		return o.state.clone()
	}
	if err != nil {
		o.failAttemptLocked(provisional.ID, err)
		return o.state.clone()
	}

	finalized := model.Session{
		ID:                 o.newID(),
		OriginalTranscript: transcript,
		EnhancedPrompt:     enhanced,
		ImageURL:           imageURL,
		CreatedAt:          generateDone,
	}
	if err := o.store.Add(ctx, finalized); err != nil {
		if errors.Is(err, sketchsvc.ErrIncomplete) {
			o.failAttemptLocked(provisional.ID, fmt.Errorf("image generation returned an empty result"))
			return o.state.clone()
		}
		// 持久化失败只记录日志，会话仍保留在内存列表中。
		log.Printf("[creation] 保存会话失败 id=%s: %v", finalized.ID, err)
	}

	metrics := model.NewMetrics(enhanceDone.Sub(started), generateDone.Sub(enhanceDone))
	o.state.LoadingState = model.StateSuccess
	o.state.Active = &finalized
	o.state.Metrics = &metrics
	o.publishLocked()

	log.Printf("[creation] 创作完成 id=%s, enhance=%dms, generate=%dms", finalized.ID, metrics.EnhanceMillis, metrics.GenerateMillis)
	return o.state.clone()
}

// failAttemptLocked 进入错误状态；活动会话仅在仍是本次临时会话时被清除。
func (o *Orchestrator) failAttemptLocked(provisionalID string, err error) {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = unknownErrorMessage
	}
	log.Printf("[creation] 创作失败: %s", msg)

	o.state.Error = msg
	o.state.LoadingState = model.StateError
	if o.state.Active != nil && o.state.Active.ID == provisionalID {
		o.state.Active = nil
	}
	o.publishLocked()
}

// NewSession 清空活动会话，回到空闲状态；进行中的尝试结果将被丢弃。
func (o *Orchestrator) NewSession() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.seq++
	o.state.Active = nil
	o.state.Error = ""
	o.state.Live = ""
	o.state.Metrics = nil
	o.state.LoadingState = model.StateIdle
	o.publishLocked()
	return o.state.clone()
}

// SelectSession activates a stored session.
func (o *Orchestrator) SelectSession(id string) (State, error) {
	session, ok := o.store.Select(id)
	if !ok {
		return o.State(), ErrSessionNotFound
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.seq++
	o.state.Active = &session
	o.state.Error = ""
	o.state.Metrics = nil
	o.state.LoadingState = model.StateIdle
	o.publishLocked()
	return o.state.clone(), nil
}

// SetListening 切换聆听状态。开始聆听时若正忙则返回 ErrBusy；
// 结束聆听只在仍处于 LISTENING 时回到 IDLE。
func (o *Orchestrator) SetListening(listening bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if listening {
		if o.state.LoadingState.Busy() {
			return ErrBusy
		}
		o.state.Error = ""
		o.state.LoadingState = model.StateListening
		o.publishLocked()
		return nil
	}

	if o.state.LoadingState == model.StateListening {
		o.state.LoadingState = model.StateIdle
		o.publishLocked()
	}
	return nil
}

// SetLive updates the live (interim) transcript preview.
func (o *Orchestrator) SetLive(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Live == text {
		return
	}
	o.state.Live = text
	o.publishLocked()
}

// Fail 报告输入侧（如语音识别）的错误。处理或生成期间忽略，返回是否生效。
func (o *Orchestrator) Fail(msg string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.LoadingState.Busy() {
		return false
	}
	if strings.TrimSpace(msg) == "" {
		msg = unknownErrorMessage
	}
	o.state.Error = msg
	o.state.LoadingState = model.StateError
	o.publishLocked()
	return true
}

// Subscribe returns a channel of state snapshots and a cancel func.
// Slow subscribers miss intermediate snapshots rather than blocking transitions.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSub
	o.nextSub++
	ch := make(chan State, subscriberBuffer)
	o.subscribers[id] = ch
	ch <- o.state.clone()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if sub, ok := o.subscribers[id]; ok {
				delete(o.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (o *Orchestrator) publishLocked() {
	o.state.Sequence = o.seq
	if len(o.subscribers) == 0 {
		return
	}
	snapshot := o.state.clone()
	for id, ch := range o.subscribers {
		select {
		case ch <- snapshot:
		default:
			log.Printf("[creation] 订阅者 %d 缓冲已满，丢弃状态更新", id)
		}
	}
}
