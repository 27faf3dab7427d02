package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalOrder(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []Node
		want    []NodeID
		wantErr string
	}{
		{
			name: "declaration order without dependencies",
			nodes: []Node{
				{ID: "db"}, {ID: "cache"}, {ID: "app"},
			},
			want: []NodeID{"db", "cache", "app"},
		},
		{
			name: "dependencies reorder",
			nodes: []Node{
				{ID: "app", DependsOn: []NodeID{"db", "cache"}},
				{ID: "cache"},
				{ID: "db"},
			},
			want: []NodeID{"cache", "db", "app"},
		},
		{
			name: "chain",
			nodes: []Node{
				{ID: "c", DependsOn: []NodeID{"b"}},
				{ID: "b", DependsOn: []NodeID{"a"}},
				{ID: "a"},
			},
			want: []NodeID{"a", "b", "c"},
		},
		{
			name: "unknown dependency",
			nodes: []Node{
				{ID: "app", DependsOn: []NodeID{"db"}},
			},
			wantErr: "unknown node db",
		},
		{
			name: "cycle",
			nodes: []Node{
				{ID: "a", DependsOn: []NodeID{"b"}},
				{ID: "b", DependsOn: []NodeID{"a"}},
				{ID: "c"},
			},
			wantErr: "dependency cycle between: a, b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			for _, n := range tt.nodes {
				g.AddNode(n)
			}
			got, err := g.TopologicalOrder()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDependents(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "db"})
	g.AddNode(Node{ID: "cache"})
	g.AddNode(Node{ID: "app", DependsOn: []NodeID{"db", "cache"}})
	g.AddNode(Node{ID: "worker", DependsOn: []NodeID{"db"}})

	assert.Equal(t, []NodeID{"app", "worker"}, g.Dependents("db"))
	assert.Empty(t, g.Dependents("app"))
}
