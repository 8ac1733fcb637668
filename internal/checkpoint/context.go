package checkpoint

import "maps"

// FlowContext is the property surface exposed to executing flow code.
// It never exposes the stack or the session registry.
type FlowContext interface {
	// Get resolves key across platform and user properties.
	Get(key string) (string, bool)

	// Put writes a user property.
	Put(key, value string) error

	// PutPlatform writes a platform property.
	PutPlatform(key, value string) error

	// FlattenUserProperties returns every visible user property.
	FlattenUserProperties() map[string]string

	// FlattenPlatformProperties returns every visible platform property.
	FlattenPlatformProperties() map[string]string
}

var (
	_ FlowContext = (*LiveContext)(nil)
	_ FlowContext = (*SnapshotContext)(nil)
)

// LiveContext is a stack-backed view. It holds nothing but the stack
// handle, so capturing it in a suspended continuation and resuming later
// re-attaches to the current frames without stale data.
type LiveContext struct {
	stack *FlowStack
}

// NewLiveContext returns a live view over stack.
func NewLiveContext(stack *FlowStack) *LiveContext {
	return &LiveContext{stack: stack}
}

// Get resolves key nearest-first across the stack.
func (c *LiveContext) Get(key string) (string, bool) {
	return c.stack.lookup(key)
}

// Put writes a user property into the top frame.
//
// Fails with NO_ACTIVE_FRAME when the stack is empty (checked before any
// key validation), with PLATFORM_KEY_COLLISION when key is a platform
// property in any frame, and with RESERVED_KEY for the reserved prefix.
func (c *LiveContext) Put(key, value string) error {
	top, err := c.top()
	if err != nil {
		return err
	}
	if err := validateUserKey(key, c.stack.platformVisible(key)); err != nil {
		return err
	}
	top.Context.user[key] = value
	return nil
}

// PutPlatform writes a platform property into the top frame. Platform
// properties are write-once per frame, not per stack: a nested frame may
// shadow a key its parent already defines.
func (c *LiveContext) PutPlatform(key, value string) error {
	top, err := c.top()
	if err != nil {
		return err
	}
	if top.Context.HasPlatform(key) {
		return invalid(ErrCodePlatformKeyExists, key, "platform property already set in the current frame")
	}
	top.Context.platform[key] = value
	return nil
}

// FlattenUserProperties folds user properties bottom to top.
func (c *LiveContext) FlattenUserProperties() map[string]string {
	return c.stack.flatten(func(s *ContextStore) map[string]string { return s.user })
}

// FlattenPlatformProperties folds platform properties bottom to top.
func (c *LiveContext) FlattenPlatformProperties() map[string]string {
	return c.stack.flatten(func(s *ContextStore) map[string]string { return s.platform })
}

func (c *LiveContext) top() (*Frame, error) {
	f, ok := c.stack.Peek()
	if !ok {
		return nil, &Error{
			Kind:    KindFatal,
			Code:    ErrCodeNoActiveFrame,
			Message: "flow context written before any frame was pushed",
			FlowID:  c.stack.flowID,
		}
	}
	return f, nil
}

// WritePolicy controls whether a snapshot accepts overwrites of existing
// platform properties.
type WritePolicy int

const (
	// PlatformWriteOnce rejects a second write of the same platform key.
	// Used for audit snapshots that only need a one-shot user write.
	PlatformWriteOnce WritePolicy = iota

	// PlatformOverwrite lets platform keys be replaced. Used for
	// snapshots that are actively being built up.
	PlatformOverwrite
)

// SnapshotContext is a flat, detached copy of resolved properties, used
// when a point-in-time context must cross a fiber boundary.
type SnapshotContext struct {
	platform map[string]string
	user     map[string]string
	policy   WritePolicy
}

// NewSnapshotContext copies the given maps into a write-once snapshot.
func NewSnapshotContext(platform, user map[string]string) *SnapshotContext {
	return newSnapshot(platform, user, PlatformWriteOnce)
}

// NewMutableSnapshotContext copies the given maps into a snapshot that
// allows platform keys to be overwritten.
func NewMutableSnapshotContext(platform, user map[string]string) *SnapshotContext {
	return newSnapshot(platform, user, PlatformOverwrite)
}

// SnapshotOf captures the flattened properties of any context.
func SnapshotOf(c FlowContext, policy WritePolicy) *SnapshotContext {
	return newSnapshot(c.FlattenPlatformProperties(), c.FlattenUserProperties(), policy)
}

func newSnapshot(platform, user map[string]string, policy WritePolicy) *SnapshotContext {
	s := &SnapshotContext{
		platform: maps.Clone(platform),
		user:     maps.Clone(user),
		policy:   policy,
	}
	if s.platform == nil {
		s.platform = map[string]string{}
	}
	if s.user == nil {
		s.user = map[string]string{}
	}
	return s
}

// Policy returns the snapshot's platform write policy.
func (c *SnapshotContext) Policy() WritePolicy {
	return c.policy
}

// Get returns the platform value for key, else the user value.
func (c *SnapshotContext) Get(key string) (string, bool) {
	if v, ok := c.platform[key]; ok {
		return v, true
	}
	v, ok := c.user[key]
	return v, ok
}

// Put writes a user property, applying the same key rules as LiveContext.
func (c *SnapshotContext) Put(key, value string) error {
	_, isPlatform := c.platform[key]
	if err := validateUserKey(key, isPlatform); err != nil {
		return err
	}
	c.user[key] = value
	return nil
}

// PutPlatform writes a platform property according to the write policy.
func (c *SnapshotContext) PutPlatform(key, value string) error {
	if _, exists := c.platform[key]; exists && c.policy == PlatformWriteOnce {
		return invalid(ErrCodePlatformKeyExists, key, "platform property already set in snapshot")
	}
	c.platform[key] = value
	return nil
}

// FlattenUserProperties returns a copy of the user map.
func (c *SnapshotContext) FlattenUserProperties() map[string]string {
	return maps.Clone(c.user)
}

// FlattenPlatformProperties returns a copy of the platform map.
func (c *SnapshotContext) FlattenPlatformProperties() map[string]string {
	return maps.Clone(c.platform)
}

func validateUserKey(key string, isPlatform bool) error {
	if isPlatform {
		return invalid(ErrCodePlatformKeyCollision, key, "user property collides with an existing platform property")
	}
	if hasReservedPrefix(key) {
		return invalid(ErrCodeReservedKey, key, "user property keys may not start with %q", ReservedPrefix)
	}
	return nil
}
