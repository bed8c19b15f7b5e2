package engine

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/flowcore/dagflow/pkg/workflow"
)

// conditionCache is a thread-safe LRU cache of compiled expr programs,
// keyed by the raw condition string.
type conditionCache struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key     string
	program *vm.Program
}

func newConditionCache(capacity int) *conditionCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &conditionCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

func (cc *conditionCache) get(condition string) (*vm.Program, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if element, found := cc.cache[condition]; found {
		cc.lruList.MoveToFront(element)
		return element.Value.(*cacheEntry).program, true
	}
	return nil, false
}

func (cc *conditionCache) put(condition string, program *vm.Program) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if element, found := cc.cache[condition]; found {
		cc.lruList.MoveToFront(element)
		element.Value.(*cacheEntry).program = program
		return
	}
	element := cc.lruList.PushFront(&cacheEntry{key: condition, program: program})
	cc.cache[condition] = element
	if cc.lruList.Len() > cc.capacity {
		oldest := cc.lruList.Back()
		cc.lruList.Remove(oldest)
		delete(cc.cache, oldest.Value.(*cacheEntry).key)
	}
}

// conditionEvaluator evaluates a Link.Condition against the source node's
// output; a link whose condition evaluates false is not followed during
// input collection.
type conditionEvaluator struct {
	cache *conditionCache
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{cache: newConditionCache(100)}
}

// Evaluate compiles (or reuses a cached compile of) condition against an
// environment exposing the source node's output as "output", and returns
// its boolean result. An empty condition always passes.
func (e *conditionEvaluator) Evaluate(condition string, output workflow.NodeOutput) (bool, error) {
	if condition == "" {
		return true, nil
	}

	env := map[string]interface{}{"output": output}

	program, ok := e.cache.get(condition)
	if !ok {
		var err error
		program, err = expr.Compile(condition, expr.Env(env), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("engine: compiling condition %q: %w", condition, err)
		}
		e.cache.put(condition, program)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("engine: evaluating condition %q: %w", condition, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("engine: condition %q must return boolean, got %T", condition, result)
	}
	return b, nil
}
