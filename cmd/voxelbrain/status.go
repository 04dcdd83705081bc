package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/basket/voxelbrain/internal/agent"
	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/overlay"
	"github.com/basket/voxelbrain/internal/skill"
)

// statusAddr is the loopback address the running process serves its status
// surface on; the status subcommand is a plain HTTP client against it.
const statusAddr = "127.0.0.1:18789"

const statusShutdownTimeout = 3 * time.Second

// roleStatus is one role's bulletin entry plus its executor's current skill.
type roleStatus struct {
	Role          string `json:"role"`
	Action        string `json:"action"`
	X             int    `json:"x"`
	Y             int    `json:"y"`
	Z             int    `json:"z"`
	Health        int    `json:"health"`
	Food          int    `json:"food"`
	Thought       string `json:"thought"`
	RunningSkill  string `json:"running_skill,omitempty"`
	SkillIsActive bool   `json:"skill_is_active"`
}

type statusReport struct {
	Version string       `json:"version"`
	Roles   []roleStatus `json:"roles"`
}

// newStatusServer serves GET /status with the team bulletin and every
// running role's current skill, backing the status subcommand, plus the
// /overlay websocket the stream overlay connects to.
func newStatusServer(registry *agent.Registry, board *bulletin.Board, overlaySrv *overlay.Server) *http.Server {
	mux := http.NewServeMux()
	if overlaySrv != nil {
		mux.Handle("/overlay", overlaySrv)
	}
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		report := statusReport{Version: Version}
		for _, ra := range registry.List() {
			entry, _ := board.Get(ra.Role.Name)
			rs := roleStatus{
				Role:    ra.Role.Name,
				Action:  entry.Action,
				X:       entry.X,
				Y:       entry.Y,
				Z:       entry.Z,
				Health:  entry.Health,
				Food:    entry.Food,
				Thought: entry.Thought,
			}
			if name, active := ra.Executor.ActiveName(); active {
				rs.RunningSkill = name
				rs.SkillIsActive = true
			}
			report.Roles = append(report.Roles, rs)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/skills", func(w http.ResponseWriter, r *http.Request) {
		agentName := r.URL.Query().Get("agent")
		ra := registry.Get(agentName)
		if ra == nil {
			http.Error(w, fmt.Sprintf("role %q not running", agentName), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ra.Registry.Names())
	})
	mux.HandleFunc("/eval", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		agentName := r.URL.Query().Get("agent")
		skillName := r.URL.Query().Get("name")
		ra := registry.Get(agentName)
		if ra == nil {
			http.Error(w, fmt.Sprintf("role %q not running", agentName), http.StatusNotFound)
			return
		}
		if _, ok := ra.Registry.Get(skillName); !ok {
			http.Error(w, fmt.Sprintf("unknown skill %q", skillName), http.StatusNotFound)
			return
		}
		state := skill.State{Client: ra.Client, AgentName: agentName}
		result := ra.Executor.Run(r.Context(), state, skillName, nil, nil)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"skill": skillName, "result": result})
	})
	return &http.Server{Addr: statusAddr, Handler: mux}
}

// runStatusCommand prints the team bulletin and per-role running-skill
// state from the already-running voxelbrain process's status surface.
func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: voxelbrain status")
		return 2
	}

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+statusAddr+"/status", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxelbrain is not running (or status surface unreachable): %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "status request failed: %s\n%s\n", resp.Status, body)
		return 1
	}

	var report statusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		fmt.Fprintf(os.Stderr, "decode status: %v\n", err)
		return 1
	}

	if len(report.Roles) == 0 {
		fmt.Println("no roles running")
		return 0
	}

	fmt.Printf("voxelbrain %s\n", report.Version)
	for _, rs := range report.Roles {
		fmt.Printf("%-12s action=%-16s pos=(%d,%d,%d) hp=%d food=%d\n",
			rs.Role, rs.Action, rs.X, rs.Y, rs.Z, rs.Health, rs.Food)
		if rs.Thought != "" {
			fmt.Printf("             thought: %s\n", rs.Thought)
		}
		if rs.SkillIsActive {
			fmt.Printf("             running skill: %s\n", rs.RunningSkill)
		}
	}
	return 0
}
