package checkpoint

import (
	"slices"

	"github.com/corda/corda-runtime-os-sub032/internal/flowtype"
	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// Frame is one entry of the flow stack: a single (sub-)flow invocation.
type Frame struct {
	FlowName     string
	IsInitiating bool
	SessionIDs   []string
	Context      ContextStore
}

// AddSessionID associates a session with this frame. Adding an id twice
// is a no-op.
func (f *Frame) AddSessionID(id string) {
	if !slices.Contains(f.SessionIDs, id) {
		f.SessionIDs = append(f.SessionIDs, id)
	}
}

func (f *Frame) toItem() ir.StackItem {
	return ir.StackItem{
		FlowName:           f.FlowName,
		IsInitiatingFlow:   f.IsInitiating,
		SessionIDs:         slices.Clone(f.SessionIDs),
		PlatformProperties: f.Context.PlatformProperties(),
		UserProperties:     f.Context.UserProperties(),
	}
}

// FlowStack is the call stack of a suspended flow, index 0 being the
// outermost flow.
//
// Frames live in an index-addressed arena. Rollback restores the arena in
// place, so a *FlowStack handed out earlier (including the one captured by
// a LiveContext) keeps observing the current state.
type FlowStack struct {
	flowID   string
	resolver flowtype.Resolver
	frames   []*Frame

	// Seed properties for frame 0, taken from the flow start context.
	initialPlatform map[string]string
	initialUser     map[string]string
}

func newFlowStack(flowID string, resolver flowtype.Resolver, start *ir.FlowStartContext, items []ir.StackItem) *FlowStack {
	s := &FlowStack{
		flowID:          flowID,
		resolver:        resolver,
		initialPlatform: start.ContextPlatformProperties,
		initialUser:     start.ContextUserProperties,
	}
	s.restore(items)
	return s
}

// restore replaces the arena with frames built from persisted items.
// Persisted initiating flags are trusted; they were resolved at push time.
func (s *FlowStack) restore(items []ir.StackItem) {
	frames := make([]*Frame, 0, len(items))
	for _, item := range items {
		ids := item.SessionIDs
		if ids == nil {
			ids = []string{}
		}
		frames = append(frames, &Frame{
			FlowName:     item.FlowName,
			IsInitiating: item.IsInitiatingFlow,
			SessionIDs:   slices.Clone(ids),
			Context:      newContextStore(item.PlatformProperties, item.UserProperties),
		})
	}
	s.frames = frames
}

// Push starts a new frame for flowName and returns it.
//
// Whether the frame is initiating comes from the precomputed flow type
// registry; unknown types are not initiating. Only the first frame pushed
// onto an empty stack is seeded with the start context properties.
func (s *FlowStack) Push(flowName string) (*Frame, error) {
	initiating := false
	if fact, ok := s.resolver.Resolve(flowName); ok && fact.Initiating {
		if fact.Version < 1 {
			return nil, &Error{
				Kind:    KindValidation,
				Code:    ErrCodeInvalidVersion,
				Message: "initiating flow declares protocol version < 1",
				FlowID:  s.flowID,
				Key:     flowName,
			}
		}
		initiating = true
	}

	var ctx ContextStore
	if len(s.frames) == 0 {
		ctx = newContextStore(s.initialPlatform, s.initialUser)
	} else {
		ctx = newContextStore(nil, nil)
	}

	f := &Frame{
		FlowName:     flowName,
		IsInitiating: initiating,
		SessionIDs:   []string{},
		Context:      ctx,
	}
	s.frames = append(s.frames, f)
	return f, nil
}

// Pop removes and returns the top frame. An empty stack returns ok=false;
// unwinding past the outermost flow is a normal terminal condition.
func (s *FlowStack) Pop() (*Frame, bool) {
	if len(s.frames) == 0 {
		return nil, false
	}
	top := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	return top, true
}

// Peek returns the top frame without removing it.
func (s *FlowStack) Peek() (*Frame, bool) {
	if len(s.frames) == 0 {
		return nil, false
	}
	return s.frames[len(s.frames)-1], true
}

// PeekFirst returns the outermost frame. Callers only use it once a frame
// is guaranteed to exist, so an empty stack is a fatal contract violation.
func (s *FlowStack) PeekFirst() (*Frame, error) {
	if len(s.frames) == 0 {
		return nil, fatal(ErrCodeEmptyStack, s.flowID, "peekFirst called on an empty flow stack")
	}
	return s.frames[0], nil
}

// NearestFirst returns the first frame, searching from the top of the stack
// towards the bottom, that satisfies pred.
func (s *FlowStack) NearestFirst(pred func(*Frame) bool) (*Frame, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if pred(s.frames[i]) {
			return s.frames[i], true
		}
	}
	return nil, false
}

// Size returns the number of frames.
func (s *FlowStack) Size() int {
	return len(s.frames)
}

// Items materializes the frames for persistence, bottom frame first.
func (s *FlowStack) Items() []ir.StackItem {
	items := make([]ir.StackItem, len(s.frames))
	for i, f := range s.frames {
		items[i] = f.toItem()
	}
	return items
}

// lookup resolves key nearest-first: the most deeply nested frame defining
// the key in either map wins, platform before user within a frame.
func (s *FlowStack) lookup(key string) (string, bool) {
	f, ok := s.NearestFirst(func(f *Frame) bool {
		_, found := f.Context.Lookup(key)
		return found
	})
	if !ok {
		return "", false
	}
	return f.Context.Lookup(key)
}

// platformVisible reports whether any frame binds key as a platform property.
func (s *FlowStack) platformVisible(key string) bool {
	_, ok := s.NearestFirst(func(f *Frame) bool { return f.Context.HasPlatform(key) })
	return ok
}

// flatten folds frames bottom to top; later frames overwrite earlier ones.
// lookup scans in the opposite direction.
func (s *FlowStack) flatten(pick func(*ContextStore) map[string]string) map[string]string {
	out := map[string]string{}
	for _, f := range s.frames {
		for k, v := range pick(&f.Context) {
			out[k] = v
		}
	}
	return out
}
