package compiler

import (
	"strconv"
	"strings"
	"sync"

	"dynfilter/filter"
)

// DefaultPrefix is the synthetic parameter name prefix.
const DefaultPrefix = "dfp"

type nameKey struct {
	filter string
	param  string
}

// Names maps (filter, parameter) pairs to short synthetic SQL parameter
// names and back. A pair keeps its name for the lifetime of the Names.
type Names struct {
	mu     sync.RWMutex
	prefix string
	byKey  map[nameKey]string
	byName map[string]nameKey
}

// NewNames creates a name registry using prefix, or DefaultPrefix when
// prefix is empty.
func NewNames(prefix string) *Names {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Names{
		prefix: prefix,
		byKey:  make(map[nameKey]string),
		byName: make(map[string]nameKey),
	}
}

// Name returns the synthetic name of a filter parameter, assigning the next
// free one on first use.
func (n *Names) Name(filterName, param string) string {
	k := nameKey{filterName, param}
	n.mu.RLock()
	name, ok := n.byKey[k]
	n.mu.RUnlock()
	if ok {
		return name
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if name, ok := n.byKey[k]; ok {
		return name
	}
	name = n.prefix + "_" + strconv.Itoa(len(n.byKey)+1)
	n.byKey[k] = name
	n.byName[name] = k
	return name
}

// Sentinel returns the synthetic name of a filter's disabled sentinel.
func (n *Names) Sentinel(filterName string) string {
	return n.Name(filterName, filter.DisabledParam)
}

// Decode maps a synthetic name back to its filter and parameter. Leading
// placeholder markers (@, $, :) are ignored.
func (n *Names) Decode(name string) (filterName, param string, ok bool) {
	name = strings.TrimLeft(name, "@$:")
	n.mu.RLock()
	defer n.mu.RUnlock()
	k, ok := n.byName[name]
	return k.filter, k.param, ok
}

// IsSentinel reports whether param is the disabled sentinel.
func IsSentinel(param string) bool {
	return param == filter.DisabledParam
}
