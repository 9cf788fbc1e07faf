package route

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType selects the listener a plugin's routes are mounted on.
type RouteType int

const (
	// RouteTypeMain routes serve channel gateways on the main listener.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement routes (health, readiness, metrics) go to the
	// management listener, or the main one when no management port is set.
	RouteTypeManagement
)

// Plugin is a route plugin. Lower Order mounts first.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	plugins  []Plugin
	sortOnce sync.Once
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func loaders(t RouteType) []RouterLoader {
	sortOnce.Do(func() {
		sort.SliceStable(plugins, func(i, j int) bool { return plugins[i].Order < plugins[j].Order })
	})
	var out []RouterLoader
	for _, p := range plugins {
		if p.Type == t {
			out = append(out, p.Loader)
		}
	}
	return out
}

// Mount runs every loader of type t against r.
func Mount(r *gin.Engine, t RouteType) error {
	for _, load := range loaders(t) {
		if err := load(r); err != nil {
			return fmt.Errorf("failed to load routes: %w", err)
		}
	}
	return nil
}
