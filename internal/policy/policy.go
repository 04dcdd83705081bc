// Package policy gates the side-effectful capabilities an agent's skill
// layer can exercise: running legacy script skills, hot-swapping generated
// WASM modules, and the WASM host's outbound HTTP and key/value
// functions.
package policy

import (
	"fmt"
	"hash/fnv"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Checker is the read-side interface consumers gate against.
type Checker interface {
	AllowHTTPURL(raw string) bool
	AllowCapability(capability string) bool
	AllowPath(path string) bool
	PolicyVersion() string
}

// Policy is the serializable policy document (policy.yaml).
type Policy struct {
	// AllowDomains lists hostnames the WASM host's http.get may reach.
	// Subdomains of a listed domain are included.
	AllowDomains []string `yaml:"allow_domains"`
	// AllowPaths restricts where generated skill sources may be written
	// and loaded from. Empty means any path.
	AllowPaths []string `yaml:"allow_paths"`
	// AllowCapabilities names the granted capabilities; anything not
	// listed is denied.
	AllowCapabilities []string `yaml:"allow_capabilities"`
	// AllowLoopback permits http.get against loopback addresses, for
	// local coprocessors under test.
	AllowLoopback bool `yaml:"allow_loopback"`
}

// Default is the deny-everything policy used when no policy.yaml exists.
func Default() Policy {
	return Policy{}
}

// knownCapabilities is the closed set a policy file may grant. An unknown
// name in policy.yaml is a configuration error, not a silent no-op.
var knownCapabilities = map[string]struct{}{
	"legacy.run":       {}, // execute script-manifest skills
	"legacy.dangerous": {}, // script skills flagged dangerous in their manifest
	"wasm.http.get":    {}, // WASM host outbound HTTP
	"wasm.kv.set":      {}, // WASM host key/value writes (internal/store)
	"skill.generate":   {}, // the generate_skill action may install new sources
	"skill.hotswap":    {}, // live replacement of a loaded WASM skill module
	"combat.remote":    {}, // consult the neural-combat coprocessor
}

// Load reads and validates the policy file at path. A missing or empty file
// yields Default().
func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return Default(), nil
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validate() error {
	for _, name := range p.AllowCapabilities {
		capability := strings.ToLower(strings.TrimSpace(name))
		if capability == "" {
			continue
		}
		if _, ok := knownCapabilities[capability]; !ok {
			return fmt.Errorf("unknown capability %q", name)
		}
	}
	return nil
}

// AllowHTTPURL reports whether the WASM host may fetch raw. Only http/https
// schemes pass, loopback/private/link-local targets are rejected unless
// AllowLoopback covers them, and the hostname must fall under an
// allowlisted domain.
func (p Policy) AllowHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if blockedHost(host, p.AllowLoopback) {
		return false
	}
	for _, domain := range p.AllowDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func blockedHost(host string, allowLoopback bool) bool {
	if host == "localhost" {
		return !allowLoopback
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false // a hostname, not an address
	}
	if allowLoopback && ip.IsLoopback() {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// AllowCapability reports whether capability has been granted.
func (p Policy) AllowCapability(capability string) bool {
	capability = strings.ToLower(strings.TrimSpace(capability))
	if capability == "" {
		return false
	}
	for _, allowed := range p.AllowCapabilities {
		if strings.ToLower(strings.TrimSpace(allowed)) == capability {
			return true
		}
	}
	return false
}

// AllowPath reports whether path falls under an allowed prefix. An empty
// AllowPaths list permits everything.
func (p Policy) AllowPath(path string) bool {
	if len(p.AllowPaths) == 0 {
		return true
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// A not-yet-written generated skill file: resolve its directory.
		resolved, err = filepath.EvalSymlinks(filepath.Dir(path))
		if err != nil {
			return false
		}
		resolved = filepath.Join(resolved, filepath.Base(path))
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return false
	}
	for _, allowed := range p.AllowPaths {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		allowedAbs, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if eval, evalErr := filepath.EvalSymlinks(allowedAbs); evalErr == nil {
			allowedAbs = eval
		}
		if resolved == allowedAbs || strings.HasPrefix(resolved, allowedAbs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// PolicyVersion returns a stable content hash, recorded in every audit row
// so a grant/deny can be traced back to the policy that produced it.
func (p Policy) PolicyVersion() string {
	return policyVersionFor(p)
}

func policyVersionFor(p Policy) string {
	h := fnv.New64a()
	for _, v := range p.AllowDomains {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(v)) + "|"))
	}
	for _, v := range p.AllowPaths {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(v)) + "|"))
	}
	for _, v := range p.AllowCapabilities {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(v)) + "|"))
	}
	if p.AllowLoopback {
		_, _ = h.Write([]byte("allow_loopback=true|"))
	}
	return "policy-" + strconv.FormatUint(h.Sum64(), 16)
}

// LivePolicy wraps a Policy with thread-safe mutation and persistence, so
// an operator grant takes effect without restarting running brains.
type LivePolicy struct {
	mu   sync.RWMutex
	data Policy
	path string // persistence target; empty = in-memory only
}

// NewLivePolicy creates a LivePolicy from an initial snapshot. If path is
// non-empty, mutations are written back to that file.
func NewLivePolicy(initial Policy, path string) *LivePolicy {
	return &LivePolicy{data: initial, path: path}
}

// AllowHTTPURL implements Checker.
func (lp *LivePolicy) AllowHTTPURL(raw string) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowHTTPURL(raw)
}

// AllowCapability implements Checker.
func (lp *LivePolicy) AllowCapability(capability string) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowCapability(capability)
}

// AllowPath implements Checker.
func (lp *LivePolicy) AllowPath(path string) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowPath(path)
}

// PolicyVersion implements Checker.
func (lp *LivePolicy) PolicyVersion() string {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return policyVersionFor(lp.data)
}

func containsNormalized(slice []string, val string) bool {
	for _, s := range slice {
		if strings.ToLower(strings.TrimSpace(s)) == val {
			return true
		}
	}
	return false
}

// AllowDomain adds a domain at runtime and persists the change.
func (lp *LivePolicy) AllowDomain(domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return fmt.Errorf("empty domain")
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()

	if containsNormalized(lp.data.AllowDomains, domain) {
		return nil
	}
	lp.data.AllowDomains = append(lp.data.AllowDomains, domain)
	return lp.persist()
}

// AddCapability grants a capability at runtime and persists the change.
func (lp *LivePolicy) AddCapability(capability string) error {
	capability = strings.ToLower(strings.TrimSpace(capability))
	if capability == "" {
		return fmt.Errorf("empty capability")
	}
	if _, ok := knownCapabilities[capability]; !ok {
		return fmt.Errorf("unknown capability %q", capability)
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()

	if containsNormalized(lp.data.AllowCapabilities, capability) {
		return nil
	}
	lp.data.AllowCapabilities = append(lp.data.AllowCapabilities, capability)
	return lp.persist()
}

// Reload replaces the policy data wholesale.
func (lp *LivePolicy) Reload(p Policy) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.data = p
}

// Snapshot returns a copy of the current policy data.
func (lp *LivePolicy) Snapshot() Policy {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	cp := lp.data
	cp.AllowDomains = append([]string(nil), lp.data.AllowDomains...)
	cp.AllowPaths = append([]string(nil), lp.data.AllowPaths...)
	cp.AllowCapabilities = append([]string(nil), lp.data.AllowCapabilities...)
	return cp
}

// ReloadFromFile updates the live policy only when the incoming file parses
// and validates; on error the previous policy stays active.
func ReloadFromFile(lp *LivePolicy, path string) error {
	if lp == nil {
		return fmt.Errorf("nil live policy")
	}
	p, err := Load(path)
	if err != nil {
		return err
	}
	lp.Reload(p)
	return nil
}

func (lp *LivePolicy) persist() error {
	if lp.path == "" {
		return nil
	}
	out, err := yaml.Marshal(&lp.data)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	return os.WriteFile(lp.path, out, 0o644)
}
