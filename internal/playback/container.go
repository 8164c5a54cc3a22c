package playback

import (
	"errors"
	"sync"
)

var (
	ErrContainerGone = errors.New("container is gone")
	ErrContainerBusy = errors.New("container already has an attached adapter")
)

// Container is the host region an adapter renders into. At most one adapter
// is attached at a time; the previous one must be destroyed first.
type Container struct {
	ID string

	mu         sync.Mutex
	owner      any
	gone       bool
	fullscreen bool
	width      int
	height     int
	resize     listeners[func(w, h int)]
}

func NewContainer(id string, width, height int) *Container {
	return &Container{ID: id, width: width, height: height}
}

// Claim attaches owner to the container.
func (c *Container) Claim(owner any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return ErrContainerGone
	}
	if c.owner != nil && c.owner != owner {
		return ErrContainerBusy
	}
	c.owner = owner
	return nil
}

func (c *Container) Release(owner any) {
	c.mu.Lock()
	if c.owner == owner {
		c.owner = nil
	}
	c.mu.Unlock()
}

// Detach marks the container as removed from the layout.
func (c *Container) Detach() {
	c.mu.Lock()
	c.gone = true
	c.mu.Unlock()
}

func (c *Container) Gone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gone
}

// ToggleFullscreen flips fullscreen on the root container and reports the new state.
func (c *Container) ToggleFullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullscreen = !c.fullscreen
	return c.fullscreen
}

func (c *Container) Fullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullscreen
}

func (c *Container) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Resize records the rendered size and notifies resize listeners.
func (c *Container) Resize(w, h int) {
	c.mu.Lock()
	if w == c.width && h == c.height {
		c.mu.Unlock()
		return
	}
	c.width, c.height = w, h
	fns := c.resize.snapshot()
	c.mu.Unlock()
	for _, fn := range fns {
		fn(w, h)
	}
}

func (c *Container) OnResize(fn func(w, h int)) func() {
	c.mu.Lock()
	id := c.resize.add(fn)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.resize.remove(id)
		c.mu.Unlock()
	}
}
