package vcs

import (
	"fmt"
	"sync"
)

// Constructor creates a VCS instance for a given repo root.
// Implementations register themselves with Register from init().
type Constructor func(repoRoot string) (VCS, error)

var (
	registry      = make(map[Type]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a VCS implementation constructor.
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for type %s", t))
	}
	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}
	registry[t] = constructor
}

func getConstructor(t Type) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t]
}

// Open detects the repository containing path and returns its backend.
// Colocated repositories resolve through PreferredVCS, falling back to the
// other backend when its binary is missing.
func Open(path string) (VCS, error) {
	result, err := DetectWithAvailability(path)
	if err != nil {
		return nil, err
	}

	t := result.Type
	if t == TypeColocate {
		t = PreferredVCS()
		if t == TypeJJ && !IsJJAvailable() {
			t = TypeGit
		} else if t == TypeGit && !IsGitAvailable() {
			t = TypeJJ
		}
	}

	ctor := getConstructor(t)
	if ctor == nil {
		return nil, fmt.Errorf("%w: no implementation registered for %s", ErrNotSupported, t)
	}
	return ctor(result.RepoRoot)
}
