package ir

import "maps"

// Clone returns a deep copy of the checkpoint record.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := &Checkpoint{
		FlowID:   c.FlowID,
		Metadata: maps.Clone(c.Metadata),
	}
	if c.FlowStartContext != nil {
		sc := c.FlowStartContext.Clone()
		out.FlowStartContext = &sc
	}
	if c.FlowState != nil {
		fs := c.FlowState.Clone()
		out.FlowState = &fs
	}
	if c.PipelineState != nil {
		ps := *c.PipelineState
		if ps.Retry != nil {
			r := *ps.Retry
			ps.Retry = &r
		}
		out.PipelineState = &ps
	}
	return out
}

// Clone returns a deep copy of the start context.
func (s FlowStartContext) Clone() FlowStartContext {
	s.ContextPlatformProperties = maps.Clone(s.ContextPlatformProperties)
	s.ContextUserProperties = maps.Clone(s.ContextUserProperties)
	return s
}

// Clone returns a deep copy of the flow state.
func (s FlowState) Clone() FlowState {
	if s.WaitingFor != nil {
		w := s.WaitingFor.Clone()
		s.WaitingFor = &w
	}
	s.Fiber = append([]byte{}, s.Fiber...)
	if s.Sessions != nil {
		sessions := make([]SessionState, len(s.Sessions))
		for i, sess := range s.Sessions {
			sessions[i] = sess.Clone()
		}
		s.Sessions = sessions
	}
	if s.StackItems != nil {
		items := make([]StackItem, len(s.StackItems))
		for i, item := range s.StackItems {
			items[i] = item.Clone()
		}
		s.StackItems = items
	}
	return s
}

// Clone returns a deep copy of the stack item.
func (s StackItem) Clone() StackItem {
	if s.SessionIDs != nil {
		s.SessionIDs = append([]string{}, s.SessionIDs...)
	}
	s.PlatformProperties = maps.Clone(s.PlatformProperties)
	s.UserProperties = maps.Clone(s.UserProperties)
	return s
}

// Clone returns a deep copy of the session state.
func (s SessionState) Clone() SessionState {
	s.Properties = maps.Clone(s.Properties)
	return s
}

// Clone returns a deep copy of the waiting-for condition.
func (w WaitingFor) Clone() WaitingFor {
	if w.SessionIDs != nil {
		w.SessionIDs = append([]string{}, w.SessionIDs...)
	}
	return w
}
