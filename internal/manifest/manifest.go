// Package manifest identifies raw Kubernetes manifests and orders them so
// that resources other resources depend on (config, secrets, volumes, RBAC)
// come before the workloads and services that reference them.
package manifest

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// GVK is the identity of a manifest used as a sort key.
type GVK struct {
	APIVersion string
	Kind       string
	Name       string
}

// Signature is the "apiVersion/Kind" string, e.g. "apps/v1/Deployment".
func (g GVK) Signature() string {
	return g.APIVersion + "/" + g.Kind
}

// LowestPriority is assigned to unknown kinds and unparseable documents.
const LowestPriority = 11

var priorities = map[string]int{
	"v1/ConfigMap":                                    0,
	"v1/Secret":                                       1,
	"v1/PersistentVolumeClaim":                        2,
	"v1/ServiceAccount":                               3,
	"rbac.authorization.k8s.io/v1/Role":               4,
	"rbac.authorization.k8s.io/v1/RoleBinding":        5,
	"rbac.authorization.k8s.io/v1/ClusterRole":        6,
	"rbac.authorization.k8s.io/v1/ClusterRoleBinding": 7,
	"apps/v1/Deployment":                              8,
	"apps/v1/StatefulSet":                             9,
	"v1/Service":                                      10,
}

// Priority returns the processing rank of g; lower sorts first.
func (g GVK) Priority() int {
	if p, ok := priorities[g.Signature()]; ok {
		return p
	}
	return LowestPriority
}

type document struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
}

// Parse returns the GVK of the first document in content that declares a
// kind. ok is false when content is not valid YAML or holds no resource.
func Parse(content string) (gvk GVK, ok bool) {
	dec := yaml.NewDecoder(strings.NewReader(content))
	for {
		var doc document
		if err := dec.Decode(&doc); err != nil {
			// io.EOF included: no document declared a kind.
			return GVK{}, false
		}
		if doc.Kind == "" {
			continue
		}
		return GVK{APIVersion: doc.APIVersion, Kind: doc.Kind, Name: doc.Metadata.Name}, true
	}
}

// Identify is Parse with the fallback made explicit: unreadable manifests
// get the zero GVK, which has LowestPriority.
func Identify(content string) GVK {
	gvk, ok := Parse(content)
	if !ok {
		return GVK{}
	}
	return gvk
}

// Known reports whether g came from a readable manifest.
func (g GVK) Known() bool {
	return g.Kind != ""
}

// Less orders a before b by priority, then signature, then name. Within
// the lowest priority, unreadable manifests go after every readable one.
func Less(a, b GVK) bool {
	if pa, pb := a.Priority(), b.Priority(); pa != pb {
		return pa < pb
	}
	if a.Known() != b.Known() {
		return a.Known()
	}
	if sa, sb := a.Signature(), b.Signature(); sa != sb {
		return sa < sb
	}
	return a.Name < b.Name
}

// SortBy sorts items in place by the GVK of their content. The sort is
// stable so identical manifests keep their input order.
func SortBy[T any](items []T, content func(T) string) {
	keys := make([]GVK, len(items))
	for i, item := range items {
		keys[i] = Identify(content(item))
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return Less(keys[idx[i]], keys[idx[j]]) })

	sorted := make([]T, len(items))
	for i, k := range idx {
		sorted[i] = items[k]
	}
	copy(items, sorted)
}
