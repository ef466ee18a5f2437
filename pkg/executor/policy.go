package executor

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"vigil/pkg/protocol"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy is the safety policy every action passes before dispatch.
type Policy struct {
	// KBRoot is the knowledge-base root; targets must stay inside it.
	KBRoot string
	// Allow, when non-empty, lists the only target patterns permitted.
	Allow []string
	// Deny lists target patterns that are never permitted.
	Deny []string
	// DegradedKinds are the action kinds permitted in DEGRADED mode.
	DegradedKinds []protocol.ActionKind
}

// Check returns an *protocol.ActionSafetyViolation when a must not run in
// mode m.
func (p Policy) Check(a protocol.Action, m protocol.Mode) error {
	violation := func(rule string) error {
		return &protocol.ActionSafetyViolation{ActionID: a.ID, Target: a.Target, Rule: rule}
	}

	if !a.Kind.Valid() {
		return violation(fmt.Sprintf("unknown action kind %q", a.Kind))
	}
	if m == protocol.ModeDegraded && !p.degradedAllows(a.Kind) {
		return violation(fmt.Sprintf("%s actions are not permitted in degraded mode", a.Kind))
	}
	if a.Kind == protocol.ActionNoop {
		return nil
	}

	rel, err := p.Resolve(a.Target)
	if err != nil {
		return violation(err.Error())
	}

	if len(p.Allow) > 0 {
		_, ok, err := firstMatch(p.Allow, rel)
		if err != nil {
			return violation(err.Error())
		}
		if !ok {
			return violation("target not in allow list")
		}
	}
	pat, ok, err := firstMatch(p.Deny, rel)
	if err != nil {
		return violation(err.Error())
	}
	if ok {
		return violation("target matches deny pattern " + pat)
	}
	return nil
}

// Resolve validates target and returns it as a clean slash-separated path
// relative to KBRoot.
func (p Policy) Resolve(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("target required")
	}
	if filepath.IsAbs(target) || strings.HasPrefix(target, "/") {
		return "", fmt.Errorf("absolute target not permitted")
	}
	rel := path.Clean(filepath.ToSlash(target))
	if rel == "." {
		return "", fmt.Errorf("target is the knowledge-base root")
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("target escapes knowledge-base root")
	}
	if p.KBRoot != "" {
		if err := p.checkSymlinks(rel); err != nil {
			return "", err
		}
	}
	return rel, nil
}

// checkSymlinks rejects targets whose nearest existing ancestor resolves
// outside the root.
func (p Policy) checkSymlinks(rel string) error {
	root, err := filepath.EvalSymlinks(p.KBRoot)
	if err != nil {
		return fmt.Errorf("resolve knowledge-base root: %w", err)
	}
	candidate := filepath.Join(p.KBRoot, filepath.FromSlash(rel))
	for {
		resolved, err := filepath.EvalSymlinks(candidate)
		if err == nil {
			if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
				return fmt.Errorf("target resolves outside knowledge-base root")
			}
			return nil
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return nil
		}
		candidate = parent
	}
}

func (p Policy) degradedAllows(k protocol.ActionKind) bool {
	for _, allowed := range p.DegradedKinds {
		if allowed == k {
			return true
		}
	}
	return false
}

// firstMatch returns the first pattern matching rel. A malformed pattern
// is an error so the policy fails closed.
func firstMatch(patterns []string, rel string) (string, bool, error) {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return "", false, fmt.Errorf("bad policy pattern %q", pat)
		}
		if ok, _ := doublestar.Match(pat, rel); ok {
			return pat, true, nil
		}
	}
	return "", false, nil
}
