// Package fake provides an in-memory gameclient.Client for tests that drive
// the brain/handlers/dispatch packages without a live game connection.
package fake

import (
	"context"
	"sync"

	"github.com/basket/voxelbrain/internal/gameclient"
)

// Client is a scriptable in-memory gameclient.Client.
type Client struct {
	mu sync.Mutex

	Snap    gameclient.Snapshot
	Blocks  map[gameclient.Vec3]gameclient.Block
	Events_ chan gameclient.Event

	GoToErr  error
	DigErr   error
	PlaceErr error
	CraftErr error

	ChatSent []string
	Dug      []gameclient.Vec3
	GoToCall []gameclient.GoalSpec
	Teleports []gameclient.Vec3
}

// New returns a Client with default healthy vitals and an empty world.
func New() *Client {
	return &Client{
		Snap: gameclient.Snapshot{
			Health: 20,
			Food:   20,
			Tick:   6000,
		},
		Blocks:  make(map[gameclient.Vec3]gameclient.Block),
		Events_: make(chan gameclient.Event, 16),
	}
}

func (c *Client) Snapshot(ctx context.Context) (gameclient.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Snap, nil
}

func (c *Client) BlockAt(ctx context.Context, pos gameclient.Vec3) (*gameclient.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.Blocks[pos]; ok {
		return &b, nil
	}
	return nil, nil
}

func (c *Client) FindNearestBlock(ctx context.Context, pred gameclient.BlockPredicate, maxDistance float64) (*gameclient.Vec3, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pos, b := range c.Blocks {
		if pred(b.Name) {
			p := pos
			return &p, nil
		}
	}
	return nil, nil
}

func (c *Client) FindBlocks(ctx context.Context, pred gameclient.BlockPredicate, maxCount int) ([]gameclient.Vec3, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []gameclient.Vec3
	for pos, b := range c.Blocks {
		if pred(b.Name) {
			out = append(out, pos)
			if len(out) >= maxCount {
				break
			}
		}
	}
	return out, nil
}

func (c *Client) GoTo(ctx context.Context, goal gameclient.GoalSpec) error {
	c.mu.Lock()
	c.GoToCall = append(c.GoToCall, goal)
	c.Snap.Position = goal.Target
	err := c.GoToErr
	c.mu.Unlock()
	return err
}

func (c *Client) Dig(ctx context.Context, pos gameclient.Vec3) error {
	c.mu.Lock()
	c.Dug = append(c.Dug, pos)
	err := c.DigErr
	c.mu.Unlock()
	return err
}

func (c *Client) PlaceBlock(ctx context.Context, item string, face gameclient.Face) error {
	return c.PlaceErr
}

func (c *Client) Craft(ctx context.Context, recipe string, count int, table *gameclient.Vec3) error {
	return c.CraftErr
}

func (c *Client) SendChat(ctx context.Context, text string) error {
	c.mu.Lock()
	c.ChatSent = append(c.ChatSent, text)
	c.mu.Unlock()
	return nil
}

func (c *Client) Teleport(ctx context.Context, pos gameclient.Vec3) error {
	c.mu.Lock()
	c.Teleports = append(c.Teleports, pos)
	c.Snap.Position = pos
	c.mu.Unlock()
	return nil
}

func (c *Client) Events() <-chan gameclient.Event {
	return c.Events_
}

// Push injects a client event for brain-loop tests.
func (c *Client) Push(e gameclient.Event) {
	c.Events_ <- e
}
