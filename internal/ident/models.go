// Package ident runs identification sessions: it feeds measurement frames
// through the square-root filter, gates them against the operating envelope,
// persists estimates and manages the run lifecycle.
package ident

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kestrel-controls/plantid/internal/sysid"
)

// Built-in transition models selectable by name from config. Each is a pure
// sysid.Transition over the parameter vector w and the plant state x.
var (
	modelsMu sync.RWMutex
	models   = map[string]sysid.Transition{}
)

// Register adds a named transition model. Registering a duplicate name
// panics; models are registered from init functions and the set is fixed
// before main runs.
func Register(name string, model sysid.Transition) {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	if _, exists := models[name]; exists {
		panic(fmt.Sprintf("ident: model %q registered twice", name))
	}
	models[name] = model
}

// Lookup returns the named model.
func Lookup(name string) (sysid.Transition, error) {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	model, ok := models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q (available: %v)", name, modelNamesLocked())
	}
	return model, nil
}

// ModelNames returns the registered model names, sorted.
func ModelNames() []string {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	return modelNamesLocked()
}

func modelNamesLocked() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	// identity: the measurement observes the parameters directly. This is
	// the standard debug model; with it the predicted measurement equals
	// the current estimate.
	Register("identity", sysid.TransitionFunc(func(dw, x, w []float32) {
		copy(dw, w)
	}))

	// gain: each channel responds proportionally to its excitation,
	// d[i] = w[i]*x[i]. The classic static-gain identification setup.
	Register("gain", sysid.TransitionFunc(func(dw, x, w []float32) {
		for i := range dw {
			dw[i] = w[i] * x[i]
		}
	}))

	// decay: first-order loss terms, d[i] = -w[i]*x[i].
	Register("decay", sysid.TransitionFunc(func(dw, x, w []float32) {
		for i := range dw {
			dw[i] = -w[i] * x[i]
		}
	}))

	// bilinear: each channel couples to its ring neighbour,
	// d[i] = w[i]*x[i] + w[i+1]*x[i+1] (indices mod L). Exercises
	// off-diagonal cross covariance.
	Register("bilinear", sysid.TransitionFunc(func(dw, x, w []float32) {
		n := len(dw)
		for i := 0; i < n; i++ {
			j := (i + 1) % n
			dw[i] = w[i]*x[i] + w[j]*x[j]
		}
	}))
}
