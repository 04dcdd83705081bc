// Package combat talks to the optional neural combat coprocessor: a
// line-framed JSON-over-TCP service that scores a combat observation and
// returns a suggested action. Callers fall back to an internal PvP routine
// whenever the coprocessor is unreachable or returns something unusable.
package combat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"time"
)

// Hostile describes the nearest threat.
type Hostile struct {
	Name             string  `json:"name"`
	Distance         float64 `json:"distance"`
	RelativeAngleDeg float64 `json:"relativeAngleDeg"`
}

// EntitySummary is one nearby entity in the observation's entity list.
type EntitySummary struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Distance float64 `json:"distance"`
}

// Observation is the request payload sent to the coprocessor.
type Observation struct {
	Health         float64         `json:"health"`
	Food           float64         `json:"food"`
	X              float64         `json:"x"`
	Y              float64         `json:"y"`
	Z              float64         `json:"z"`
	NearestHostile *Hostile        `json:"nearestHostile,omitempty"`
	Entities       []EntitySummary `json:"entities"`
	HasSword       bool            `json:"hasSword"`
	HasShield      bool            `json:"hasShield"`
	HasBow         bool            `json:"hasBow"`
}

// Decision is the coprocessor's response.
type Decision struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

var validActions = map[string]bool{
	"attack": true, "strafe_left": true, "strafe_right": true,
	"flee": true, "use_item": true, "idle": true,
}

// Client is a thin client for the coprocessor. Not concurrency-safe for a
// single in-flight Decide call sharing a connection; each call dials fresh.
type Client struct {
	Addr        string
	DialTimeout time.Duration
}

// New returns a Client for addr ("host:port"). A zero DialTimeout defaults
// to 2 seconds.
func New(addr string) *Client {
	return &Client{Addr: addr, DialTimeout: 2 * time.Second}
}

// Decide sends obs and reads back one decision line. ok is false when the
// coprocessor could not be reached or its reply could not be used, in
// which case callers must run their own PvP fallback.
func (c *Client) Decide(ctx context.Context, obs Observation) (decision Decision, ok bool) {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return Decision{}, false
	}
	defer conn.Close()

	if dl, hasDL := ctx.Deadline(); hasDL {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	raw, err := json.Marshal(obs)
	if err != nil {
		return Decision{}, false
	}
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		return Decision{}, false
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return Decision{}, false
	}
	var dec Decision
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &dec); err != nil {
		return Decision{}, false
	}
	if !validActions[dec.Action] {
		return Decision{}, false
	}
	return dec, true
}

// RelativeAngleDeg computes a hostile's bearing relative to the agent's
// facing yaw. Convention: yaw 0 faces +Z, increasing clockwise toward +X
// (the game client's reported yaw). Result is in [-180, 180); positive
// means the hostile is to the agent's right.
func RelativeAngleDeg(selfYaw, dx, dz float64) float64 {
	target := math.Atan2(dx, dz) * 180 / math.Pi
	rel := target - selfYaw
	for rel >= 180 {
		rel -= 360
	}
	for rel < -180 {
		rel += 360
	}
	return rel
}

// String renders a decision for logging.
func (d Decision) String() string {
	return fmt.Sprintf("%s (confidence %.2f)", d.Action, d.Confidence)
}
