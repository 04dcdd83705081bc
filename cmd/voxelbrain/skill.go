package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// runSkillCommand implements `voxelbrain skill list --agent <role>` and
// `voxelbrain skill eval <name> --agent <role>` against the running
// process's status surface.
func runSkillCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: voxelbrain skill <list|eval> --agent <role> [name]")
		return 2
	}

	sub := strings.ToLower(strings.TrimSpace(args[0]))
	rest := args[1:]

	agentName, rest := extractAgentFlag(rest)
	if agentName == "" {
		fmt.Fprintln(os.Stderr, "missing --agent <role>")
		return 2
	}

	switch sub {
	case "list":
		return runSkillList(ctx, agentName)
	case "eval":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: voxelbrain skill eval <name> --agent <role>")
			return 2
		}
		return runSkillEval(ctx, agentName, rest[0])
	default:
		fmt.Fprintf(os.Stderr, "unknown skill subcommand: %s\n", sub)
		return 2
	}
}

// extractAgentFlag pulls "--agent <value>" out of args, returning the value
// and the remaining positional args.
func extractAgentFlag(args []string) (string, []string) {
	var agentName string
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--agent" && i+1 < len(args) {
			agentName = args[i+1]
			i++
			continue
		}
		out = append(out, args[i])
	}
	return agentName, out
}

func runSkillList(ctx context.Context, agentName string) int {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u := "http://" + statusAddr + "/skills?agent=" + url.QueryEscape(agentName)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxelbrain is not running: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "skill list failed: %s\n%s\n", resp.Status, body)
		return 1
	}

	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		return 1
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return 0
}

func runSkillEval(ctx context.Context, agentName, skillName string) int {
	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	u := "http://" + statusAddr + "/eval?agent=" + url.QueryEscape(agentName) + "&name=" + url.QueryEscape(skillName)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxelbrain is not running: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "skill eval failed: %s\n%s\n", resp.Status, body)
		return 1
	}

	var out struct {
		Skill  string `json:"skill"`
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		return 1
	}
	fmt.Printf("%s: %s\n", out.Skill, out.Result)
	return 0
}
