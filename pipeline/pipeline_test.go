package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEngine struct {
	runs []*Pipeline
	id   string
}

func (e *recordingEngine) Run(_ context.Context, p *Pipeline) (Result, error) {
	e.runs = append(e.runs, p)
	return JobResult{ID: e.id}, nil
}

func TestNewWithEmptyArgvKeepsOptions(t *testing.T) {
	reg := NewRegistry()
	reg.Register("FakeRunner", &recordingEngine{})

	opts := Options{Runner: "FakeRunner", JobName: "job-1", Region: "us-central1"}
	p, err := reg.New(opts, []string{})
	require.NoError(t, err)
	assert.Equal(t, opts, p.Options())
}

func TestNewParsesArgvOverrides(t *testing.T) {
	reg := NewRegistry()
	reg.Register("FakeRunner", &recordingEngine{})
	reg.Register("OtherRunner", &recordingEngine{})

	p, err := reg.New(Options{Runner: "FakeRunner", Region: "us-central1"},
		[]string{"--runner=OtherRunner", "--region=europe-west1", "--experiments=a,b"})
	require.NoError(t, err)

	assert.Equal(t, "OtherRunner", p.Options().Runner)
	assert.Equal(t, "europe-west1", p.Options().Region)
	assert.Equal(t, []string{"a", "b"}, p.Options().Experiments)
}

func TestNewRejectsUnknownFlag(t *testing.T) {
	reg := NewRegistry()
	reg.Register("FakeRunner", &recordingEngine{})

	_, err := reg.New(Options{Runner: "FakeRunner"}, []string{"--bogus=1"})
	require.Error(t, err)
}

func TestNewUnknownRunner(t *testing.T) {
	_, err := NewRegistry().New(Options{Runner: "Nope"}, nil)
	require.Error(t, err)
}

func TestRunRequiresGraph(t *testing.T) {
	reg := NewRegistry()
	engine := &recordingEngine{}
	reg.Register("FakeRunner", engine)

	p, err := reg.New(Options{Runner: "FakeRunner"}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.True(t, errors.Is(err, ErrEmptyPipeline))
	assert.Empty(t, engine.runs)
}

func TestAttachAndRun(t *testing.T) {
	reg := NewRegistry()
	engine := &recordingEngine{id: "job-42"}
	reg.Register("FakeRunner", engine)

	p, err := reg.New(Options{Runner: "FakeRunner"}, nil)
	require.NoError(t, err)

	res, err := p.Attach(Graph{Name: "a"}).Attach(Graph{Name: "b"}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-42", res.JobID())
	require.Len(t, engine.runs, 1)
	assert.Len(t, engine.runs[0].Graphs(), 2)
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", &recordingEngine{})
	reg.Register("a", &recordingEngine{})
	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestPayloadRoundTrip(t *testing.T) {
	graphs := []Graph{
		{Name: "one", Spec: json.RawMessage(`{"id":"one"}`)},
		{Name: "two", Spec: json.RawMessage(`{"id":"two"}`)},
	}
	payload, err := EncodePayload(graphs)
	require.NoError(t, err)

	specs, err := DecodePayload(payload)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.JSONEq(t, `{"id":"two"}`, string(specs[1]))
}

func TestPayloadNeedsSpec(t *testing.T) {
	_, err := EncodePayload([]Graph{{Name: "local-only"}})
	assert.True(t, errors.Is(err, ErrNotShippable))
}

func TestDecodePayloadGarbage(t *testing.T) {
	_, err := DecodePayload("!!!")
	require.Error(t, err)
}
