// Package camera defines the frame source the capture pipeline reads from.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"sync"

	"github.com/franckalain/cropdoctor/internal/models"
)

// ErrNoFrame means the camera is open but has nothing to hand out yet
var ErrNoFrame = errors.New("no frame available")

type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Toggle returns the opposite facing mode
func (f FacingMode) Toggle() FacingMode {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

type ErrorKind int

const (
	Generic ErrorKind = iota
	Permission
)

func (k ErrorKind) String() string {
	if k == Permission {
		return "permission"
	}
	return "generic"
}

// Error is returned when the camera cannot be opened or read
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("camera %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Camera hands out still frames. Acquire must succeed before Frame is called.
type Camera interface {
	Acquire(ctx context.Context, mode FacingMode) error
	Frame(ctx context.Context) (image.Image, error)
	Release() error
}

// Locator provides the device position, if known
type Locator interface {
	Locate(ctx context.Context) (*models.Location, error)
}

// FixedLocator always reports the same position
type FixedLocator models.Location

func (l FixedLocator) Locate(ctx context.Context) (*models.Location, error) {
	loc := models.Location(l)
	return &loc, nil
}

// FileCamera serves decoded image files in order, one per Frame call
type FileCamera struct {
	mu     sync.Mutex
	paths  []string
	next   int
	mode   FacingMode
	opened bool
}

// NewFileCamera reads frames from the given JPEG or PNG files
func NewFileCamera(paths ...string) *FileCamera {
	return &FileCamera{paths: paths}
}

// Acquire checks that every file can be opened
func (c *FileCamera) Acquire(ctx context.Context, mode FacingMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.paths {
		f, err := os.Open(p)
		if err != nil {
			return classify(err)
		}
		f.Close()
	}
	c.mode = mode
	c.opened = true
	return nil
}

// Frame decodes the next file. It returns ErrNoFrame once all are used.
func (c *FileCamera) Frame(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil, &Error{Kind: Generic, Err: errors.New("camera not acquired")}
	}
	if c.next >= len(c.paths) {
		return nil, ErrNoFrame
	}
	path := c.paths[c.next]
	c.next++

	f, err := os.Open(path)
	if err != nil {
		return nil, classify(err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &Error{Kind: Generic, Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return img, nil
}

// Mode reports the facing mode requested at Acquire
func (c *FileCamera) Mode() FacingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *FileCamera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	return nil
}

func classify(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return &Error{Kind: Permission, Err: err}
	}
	return &Error{Kind: Generic, Err: err}
}
