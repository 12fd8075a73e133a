package filter

import (
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// programCache holds compiled programs keyed by mode and expression.
// The underlying cache is safe for concurrent use.
type programCache struct {
	programs *lru.Cache[string, *vm.Program]
}

// newProgramCache creates a cache holding at most size programs
func newProgramCache(size int) (*programCache, error) {
	programs, err := lru.New[string, *vm.Program](size)
	if err != nil {
		return nil, err
	}
	return &programCache{programs: programs}, nil
}

func cacheKey(mode, expression string) string {
	return mode + "\x00" + expression
}

// Get retrieves a program from the cache
func (c *programCache) Get(mode, expression string) (*vm.Program, bool) {
	return c.programs.Get(cacheKey(mode, expression))
}

// Put adds or updates a program
func (c *programCache) Put(mode, expression string, program *vm.Program) {
	c.programs.Add(cacheKey(mode, expression), program)
}

// Clear removes all programs from the cache
func (c *programCache) Clear() {
	c.programs.Purge()
}

// Size returns the number of programs in the cache
func (c *programCache) Size() int {
	return c.programs.Len()
}
