package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/dagflow/pkg/workflow"
)

func noopFactory(nodeType, inType, outType string) workflow.NodeFactory {
	return func(id, name string, version int) (*workflow.Node, error) {
		n := workflow.NewNode(id, name, nodeType, workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
			return workflow.NodeOutput{}, nil
		}))
		if inType != "" {
			n.AddInput("in", inType, workflow.LinkStandard)
		}
		if outType != "" {
			n.AddOutput("out", outType, workflow.LinkStandard)
		}
		return n, nil
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	w := workflow.New("wf1", "my workflow")
	w.StaticData["env"] = "prod"
	w.Settings.MaxParallelExecutions = 4

	src := workflow.NewNode("src-id", "src", "source", workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
		return workflow.NodeOutput{}, nil
	}))
	src.AddOutput("out", "number", workflow.LinkStandard)
	require.NoError(t, w.AddNode(src))

	dst := workflow.NewNode("dst-id", "dst", "sink", workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
		return workflow.NodeOutput{}, nil
	}))
	dst.AddInput("in", "number", workflow.LinkStandard)
	require.NoError(t, w.AddNode(dst))
	require.NoError(t, w.AddLink(&workflow.Link{SourceNode: "src", SourceOutput: "out", TargetNode: "dst", TargetInput: "in"}))

	data, err := w.Export()
	require.NoError(t, err)

	registry := workflow.Registry{}
	registry.Register("source", 0, noopFactory("source", "", "number"))
	registry.Register("sink", 0, noopFactory("sink", "number", ""))

	imported, err := workflow.Import(data, registry)
	require.NoError(t, err)

	assert.Equal(t, w.ID, imported.ID)
	assert.Equal(t, w.Name, imported.Name)
	assert.Equal(t, w.Settings, imported.Settings)
	assert.Equal(t, "prod", imported.StaticData["env"])

	names := make([]string, 0)
	for _, n := range imported.Nodes() {
		names = append(names, n.Name)
	}
	assert.ElementsMatch(t, []string{"src", "dst"}, names)

	links := imported.LinksBySource("src")
	require.Len(t, links, 1)
	assert.Equal(t, "dst", links[0].TargetNode)
	assert.Equal(t, "in", links[0].TargetInput)
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	_, err := workflow.Import([]byte(`{"version":2}`), workflow.Registry{})
	assert.Error(t, err)
}

func TestImportRejectsUnresolvableNodeType(t *testing.T) {
	w := workflow.New("wf1", "wf")
	require.NoError(t, w.AddNode(workflow.NewNode("n", "n", "mystery", workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
		return workflow.NodeOutput{}, nil
	}))))
	data, err := w.Export()
	require.NoError(t, err)

	_, err = workflow.Import(data, workflow.Registry{})
	assert.Error(t, err)
}
