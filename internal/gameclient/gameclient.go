// Package gameclient declares the abstract capability set the core consumes
// from the game-protocol client. The game-protocol client itself is
// an external collaborator; this package defines only the interface
// and DTOs the rest of the repo programs against.
package gameclient

import "context"

// Vec3 is an integer block position.
type Vec3 struct {
	X, Y, Z int
}

// ItemStack is one inventory slot.
type ItemStack struct {
	Name  string
	Count int
}

// Block describes the result of a block query.
type Block struct {
	Name     string
	Diggable bool
}

// Entity is a snapshot of one nearby entity.
type Entity struct {
	Name     string
	Type     string // "hostile", "passive", "player"
	Position Vec3
	Distance float64
}

// Snapshot is the agent's current observable state.
type Snapshot struct {
	Position  Vec3
	Yaw       float64
	Health    int
	Food      int
	Inventory []ItemStack
	Tick      int // world time-of-day tick, 0-23999
	Entities  []Entity
}

// GoalSpec parameterizes a pathfinder request.
type GoalSpec struct {
	Target      Vec3
	RangeBlocks float64 // acceptable distance from Target to count as arrived
	Timeout     float64 // seconds; 0 means client default
}

// Face is a block face reference for placement.
type Face struct {
	Block Vec3
	Dir   Vec3
}

// Event is a pushed client event.
type Event struct {
	Kind    string // spawn, death, kicked, health, damage_taken, chat
	Reason  string // kicked reason, death cause
	Text    string // chat text
	Who     string // chat username
}

// BlockPredicate selects candidate blocks for find-nearest-block / find-blocks.
type BlockPredicate func(name string) bool

// Client is the capability set the core requires. An implementation talks
// the actual voxel-world network protocol; the core never imports a
// concrete protocol library directly.
type Client interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	BlockAt(ctx context.Context, pos Vec3) (*Block, error)
	FindNearestBlock(ctx context.Context, pred BlockPredicate, maxDistance float64) (*Vec3, error)
	FindBlocks(ctx context.Context, pred BlockPredicate, maxCount int) ([]Vec3, error)

	GoTo(ctx context.Context, goal GoalSpec) error
	Dig(ctx context.Context, pos Vec3) error
	PlaceBlock(ctx context.Context, item string, face Face) error
	Craft(ctx context.Context, recipe string, count int, table *Vec3) error

	SendChat(ctx context.Context, text string) error
	Teleport(ctx context.Context, pos Vec3) error

	// Events returns a channel of pushed client events, closed on
	// disconnect. Implementations must not block Publish on a full/slow
	// consumer for longer than a bounded send.
	Events() <-chan Event
}
