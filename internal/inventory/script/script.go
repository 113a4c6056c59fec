// Package script lets a Lua script contribute extra containers to the
// inventory, such as accessory slots the host does not expose natively.
//
// The script defines a global function:
//
//	function inventory(subject)
//	  return {
//	    { id = "belt", stacks = { { resource = "minecraft:torch", count = 16 } } },
//	  }
//	end
//
// subject carries the fields revision and secondary.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/goald/internal/inventory"
)

// ErrNoInventoryFunc is returned when the script does not define inventory().
var ErrNoInventoryFunc = errors.New("script does not define inventory()")

const (
	entryPoint = "inventory"

	// DefaultCallTimeout bounds a single inventory() call.
	DefaultCallTimeout = 250 * time.Millisecond
)

// Extension is an inventory.Capability backed by a Lua VM. Calls are
// serialized; the VM is never touched by two goroutines at once.
type Extension struct {
	mu      sync.Mutex
	vm      *lua.LState
	name    string
	timeout time.Duration
}

// Load runs the script at path and checks that it defines inventory().
func Load(path string) (*Extension, error) {
	L := newState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return newExtension(L, path)
}

// LoadString is Load for inline source.
func LoadString(name, source string) (*Extension, error) {
	L := newState()
	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return newExtension(L, name)
}

func newState() *lua.LState {
	L := lua.NewState()
	L.PreloadModule("log", NewLogModule().Loader)
	return L
}

func newExtension(L *lua.LState, name string) (*Extension, error) {
	if _, ok := L.GetGlobal(entryPoint).(*lua.LFunction); !ok {
		L.Close()
		return nil, ErrNoInventoryFunc
	}
	log.Info().Str("script", name).Msg("Loaded inventory script")
	return &Extension{vm: L, name: name, timeout: DefaultCallTimeout}, nil
}

// Name implements inventory.Capability.
func (e *Extension) Name() string { return "script:" + e.name }

// Containers implements inventory.Capability by calling inventory().
func (e *Extension) Containers(subject inventory.Subject) ([]inventory.Container, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	e.vm.SetContext(ctx)
	defer e.vm.RemoveContext()

	arg := e.vm.NewTable()
	arg.RawSetString("revision", lua.LNumber(subject.Revision()))
	arg.RawSetString("secondary", lua.LNumber(subject.SecondaryCounter()))

	err := e.vm.CallByParam(lua.P{
		Fn:      e.vm.GetGlobal(entryPoint),
		NRet:    1,
		Protect: true,
	}, arg)
	if err != nil {
		return nil, fmt.Errorf("inventory() failed: %w", err)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)

	if ret == lua.LNil {
		return nil, nil
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("inventory() returned %s, want table", ret.Type())
	}

	var out []inventory.Container
	for i := 1; i <= tbl.Len(); i++ {
		c, err := toContainer(tbl.RawGetInt(i), fmt.Sprintf("%s/%d", e.name, i))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Close releases the VM.
func (e *Extension) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

func toContainer(v lua.LValue, fallbackID string) (*inventory.StaticContainer, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("container %s: got %s, want table", fallbackID, v.Type())
	}

	c := &inventory.StaticContainer{Name: fallbackID}
	if id, ok := tbl.RawGetString("id").(lua.LString); ok && id != "" {
		c.Name = string(id)
	}

	if stacks, ok := tbl.RawGetString("stacks").(*lua.LTable); ok {
		for i := 1; i <= stacks.Len(); i++ {
			st, err := toStack(stacks.RawGetInt(i))
			if err != nil {
				return nil, fmt.Errorf("container %s: %w", c.Name, err)
			}
			c.Items = append(c.Items, st)
		}
	}

	if children, ok := tbl.RawGetString("children").(*lua.LTable); ok {
		for i := 1; i <= children.Len(); i++ {
			child, err := toContainer(children.RawGetInt(i), fmt.Sprintf("%s/%d", c.Name, i))
			if err != nil {
				return nil, err
			}
			c.Nested = append(c.Nested, child)
		}
	}
	return c, nil
}

func toStack(v lua.LValue) (inventory.Stack, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return inventory.Stack{}, fmt.Errorf("stack: got %s, want table", v.Type())
	}

	resource, ok := tbl.RawGetString("resource").(lua.LString)
	if !ok || resource == "" {
		return inventory.Stack{}, errors.New("stack: missing resource")
	}
	st := inventory.Stack{Resource: string(resource), Count: 1}
	if n, ok := tbl.RawGetString("count").(lua.LNumber); ok {
		st.Count = int(n)
	}

	if tags, ok := tbl.RawGetString("tags").(*lua.LTable); ok {
		for i := 1; i <= tags.Len(); i++ {
			st.Tags = append(st.Tags, lua.LVAsString(tags.RawGetInt(i)))
		}
	}

	if attrs, ok := tbl.RawGetString("attributes").(*lua.LTable); ok {
		st.Attributes = make(map[string]string)
		attrs.ForEach(func(k, v lua.LValue) {
			st.Attributes[lua.LVAsString(k)] = lua.LVAsString(v)
		})
	}
	return st, nil
}
