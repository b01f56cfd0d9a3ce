package agent

import (
	"fmt"

	xerrors "Web3-Sentinel/internal/errors"
)

type entry struct {
	descriptor Descriptor
	runner     Runner
}

// Registry 是变体到描述与执行器的只读映射，构造后可被并发共享。
type Registry struct {
	order   []Variant
	entries map[Variant]entry
}

// NewRegistry 为每个声明的变体绑定执行器，缺少任何一个都会返回错误。
func NewRegistry(runners Runners) (*Registry, error) {
	r := &Registry{
		order:   make([]Variant, 0, len(declared)),
		entries: make(map[Variant]entry, len(declared)),
	}
	for _, v := range declared {
		descriptor, ok := descriptorFor(v)
		if !ok {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("变体 %s 缺少描述信息", v))
		}
		runner := runners.runnerFor(v)
		if runner == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("变体 %s 未配置执行器", v))
		}
		r.order = append(r.order, v)
		r.entries[v] = entry{descriptor: descriptor, runner: runner}
	}
	return r, nil
}

// Descriptor 返回变体描述的副本；未知变体返回 *UnknownVariantError。
func (r *Registry) Descriptor(variant string) (Descriptor, error) {
	e, err := r.lookup(variant)
	if err != nil {
		return Descriptor{}, err
	}
	return e.descriptor.clone(), nil
}

// Descriptors 按声明顺序返回全部描述的副本。
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, v := range r.order {
		out = append(out, r.entries[v].descriptor.clone())
	}
	return out
}

// Resolve 校验变体并返回对应执行器。
func (r *Registry) Resolve(variant string) (Variant, Runner, error) {
	e, err := r.lookup(variant)
	if err != nil {
		return "", nil, err
	}
	return e.descriptor.ID, e.runner, nil
}

func (r *Registry) lookup(variant string) (entry, error) {
	if r == nil {
		return entry{}, xerrors.New(xerrors.CodeInitializationFailure, "智能体注册表未初始化")
	}
	e, ok := r.entries[Variant(variant)]
	if !ok {
		return entry{}, &UnknownVariantError{Variant: variant}
	}
	return e, nil
}
