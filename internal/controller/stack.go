package controller

import "sync"

// Stack is the explicit call stack of controller frames for one task tree.
// The root is pushed at construction; a delegate frame is pushed when
// delegation starts and popped when the delegate reaches a terminal state.
// At most one frame is ever mid-step.
type Stack struct {
	mu     sync.Mutex
	frames []*Controller
}

func newStack() *Stack {
	return &Stack{}
}

func (s *Stack) push(c *Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, c)
}

func (s *Stack) pop() *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top
}

// Depth is the number of live frames, 1 for a root with no delegates.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Active returns the frame currently entitled to append, the top of the
// stack.
func (s *Stack) Active() *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// above returns the frames stacked on top of c, outermost last.
func (s *Stack) above(c *Controller) []*Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, frame := range s.frames {
		if frame == c {
			out := make([]*Controller, len(s.frames)-i-1)
			copy(out, s.frames[i+1:])
			return out
		}
	}
	return nil
}
