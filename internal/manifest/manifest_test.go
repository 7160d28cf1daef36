package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type file struct {
	path    string
	content string
}

func paths(files []file) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out
}

func sortFiles(files []file) {
	SortBy(files, func(f file) string { return f.content })
}

func TestSortByDependencyOrder(t *testing.T) {
	files := []file{
		{"svc.yaml", "apiVersion: v1\nkind: Service\nmetadata:\n  name: web\n"},
		{"deploy.yaml", "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: web\n"},
		{"secret.yaml", "apiVersion: v1\nkind: Secret\nmetadata:\n  name: creds\n"},
	}
	sortFiles(files)
	assert.Equal(t, []string{"secret.yaml", "deploy.yaml", "svc.yaml"}, paths(files))
}

func TestSortBySameKindUsesName(t *testing.T) {
	files := []file{
		{"b.yaml", "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: b\n"},
		{"a.yaml", "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: a\n"},
	}
	sortFiles(files)
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, paths(files))
}

func TestSortByUnreadableGoesLast(t *testing.T) {
	files := []file{
		{"broken.yaml", "kind: [unterminated"},
		{"ingress.yaml", "apiVersion: networking.k8s.io/v1\nkind: Ingress\nmetadata:\n  name: web\n"},
		{"cm.yaml", "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: cfg\n"},
	}
	sortFiles(files)
	assert.Equal(t, []string{"cm.yaml", "ingress.yaml", "broken.yaml"}, paths(files))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    GVK
		ok      bool
	}{
		{
			name:    "single document",
			content: "apiVersion: apps/v1\nkind: StatefulSet\nmetadata:\n  name: db\n",
			want:    GVK{APIVersion: "apps/v1", Kind: "StatefulSet", Name: "db"},
			ok:      true,
		},
		{
			name:    "first document with a kind wins",
			content: "foo: bar\n---\napiVersion: v1\nkind: Secret\nmetadata:\n  name: s\n---\napiVersion: v1\nkind: Service\n",
			want:    GVK{APIVersion: "v1", Kind: "Secret", Name: "s"},
			ok:      true,
		},
		{
			name:    "no kind",
			content: "foo: bar\n",
		},
		{
			name:    "empty",
			content: "",
		},
		{
			name:    "malformed",
			content: "kind: [unterminated",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.content)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 0, GVK{APIVersion: "v1", Kind: "ConfigMap"}.Priority())
	assert.Equal(t, 7, GVK{APIVersion: "rbac.authorization.k8s.io/v1", Kind: "ClusterRoleBinding"}.Priority())
	assert.Equal(t, 10, GVK{APIVersion: "v1", Kind: "Service"}.Priority())
	assert.Equal(t, LowestPriority, GVK{APIVersion: "batch/v1", Kind: "Job"}.Priority())
	assert.Equal(t, LowestPriority, Identify("not: [yaml").Priority())
}
