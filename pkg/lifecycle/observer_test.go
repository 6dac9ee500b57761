package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExporter struct {
	mu     sync.Mutex
	labels []string
	err    error
}

func (r *recordingExporter) Export(root pipeline.Container, label string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append(r.labels, label)
	if r.err != nil {
		return "", r.err
	}
	return "/tmp/" + root.Name() + "-" + label + ".png", nil
}

func (r *recordingExporter) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.labels...)
}

// manualScheduler копит запросы Invoke и считает Quit
type manualScheduler struct {
	pending []func()
	quits   int
}

func (s *manualScheduler) Invoke(fn func()) { s.pending = append(s.pending, fn) }
func (s *manualScheduler) Quit()            { s.quits++ }

func (s *manualScheduler) flush() {
	for len(s.pending) > 0 {
		fn := s.pending[0]
		s.pending = s.pending[1:]
		fn()
	}
}

func runPipeline(t *testing.T, p *pipeline.Pipeline, obs *Observer, loop *Loop) {
	t.Helper()
	require.NoError(t, loop.Run(context.Background(), obs.HandleMessage))
}

func TestObserverExportsOnPlaying(t *testing.T) {
	p := pipeline.New("visual-pipeline")
	require.NoError(t, p.Add(
		pipeline.NewElement("videotestsrc", "src"),
		pipeline.NewElement("autovideosink", "sink"),
	))

	exp := &recordingExporter{}
	loop := NewLoop(p.Bus())

	var results []string
	obs := NewObserver(ObserverConfig{
		Root:     p,
		Exporter: exp,
		OnExport: func(label, path string, err error) {
			assert.NoError(t, err)
			results = append(results, path)
		},
	}, loop)

	p.SetState(pipeline.StateReady)
	p.SetState(pipeline.StatePlaying)
	p.PostEndOfStream()

	runPipeline(t, p, obs, loop)

	assert.Equal(t, []string{"playing"}, exp.Labels())
	assert.Equal(t, []string{"/tmp/visual-pipeline-playing.png"}, results)
	assert.Equal(t, StateEOS, obs.State())
	assert.True(t, obs.Terminated())
}

func TestObserverIgnoresChildTransitions(t *testing.T) {
	p := pipeline.New("root")
	src := pipeline.NewElement("videotestsrc", "src")
	require.NoError(t, p.Add(src))

	sched := &manualScheduler{}
	exp := &recordingExporter{}
	obs := NewObserver(ObserverConfig{Root: p, Exporter: exp}, sched)

	obs.HandleMessage(&pipeline.StateChanged{Source: src, Old: pipeline.StatePaused, New: pipeline.StatePlaying})
	sched.flush()

	assert.Empty(t, exp.Labels())
	assert.Equal(t, StateNull, obs.State())
}

func TestObserverSnapshotStates(t *testing.T) {
	p := pipeline.New("root")
	sched := &manualScheduler{}
	exp := &recordingExporter{}
	obs := NewObserver(ObserverConfig{
		Root:           p,
		Exporter:       exp,
		SnapshotStates: []pipeline.State{pipeline.StatePaused, pipeline.StatePlaying},
	}, sched)

	for _, s := range []pipeline.State{pipeline.StateReady, pipeline.StatePaused, pipeline.StatePlaying} {
		obs.HandleMessage(&pipeline.StateChanged{Source: p, New: s})
	}
	// повтор того же состояния не дает нового снимка
	obs.HandleMessage(&pipeline.StateChanged{Source: p, New: pipeline.StatePlaying})
	sched.flush()

	assert.Equal(t, []string{"paused", "playing"}, exp.Labels())
	assert.Equal(t, StatePlaying, obs.State())
}

func TestObserverErrorQuitsOnce(t *testing.T) {
	p := pipeline.New("root")
	src := pipeline.NewElement("videotestsrc", "src")
	sched := &manualScheduler{}
	exp := &recordingExporter{}
	obs := NewObserver(ObserverConfig{Root: p, Exporter: exp}, sched)

	obs.HandleMessage(&pipeline.ErrorMessage{Source: src, Text: "Internal data stream error", Debug: "not-negotiated"})
	obs.HandleMessage(&pipeline.EndOfStream{Source: p})
	obs.HandleMessage(&pipeline.ErrorMessage{Source: src, Text: "again"})
	obs.HandleMessage(&pipeline.StateChanged{Source: p, New: pipeline.StatePlaying})
	sched.flush()

	assert.Equal(t, 1, sched.quits)
	assert.Equal(t, StateError, obs.State())
	assert.Empty(t, exp.Labels())
}

func TestObserverEOSStopsLoop(t *testing.T) {
	p := pipeline.New("root")
	loop := NewLoop(p.Bus())
	exp := &recordingExporter{}
	obs := NewObserver(ObserverConfig{Root: p, Exporter: exp}, loop)

	p.PostEndOfStream()
	p.SetState(pipeline.StatePlaying)

	runPipeline(t, p, obs, loop)

	assert.Empty(t, exp.Labels())
	assert.Equal(t, StateEOS, obs.State())
	assert.Equal(t, 3, p.Bus().Len(), "сообщения после EOS не доставляются")
}

func TestObserverExportFailureIsReported(t *testing.T) {
	p := pipeline.New("root")
	sched := &manualScheduler{}
	exp := &recordingExporter{err: errors.New("render failed")}

	var gotErr error
	obs := NewObserver(ObserverConfig{
		Root:     p,
		Exporter: exp,
		OnExport: func(label, path string, err error) { gotErr = err },
	}, sched)

	obs.HandleMessage(&pipeline.StateChanged{Source: p, New: pipeline.StatePlaying})
	sched.flush()

	require.Error(t, gotErr)
	assert.Equal(t, StatePlaying, obs.State())
	assert.Zero(t, sched.quits)
}

func TestObserverWithoutExporter(t *testing.T) {
	p := pipeline.New("root")
	sched := &manualScheduler{}
	obs := NewObserver(ObserverConfig{Root: p}, sched)

	obs.HandleMessage(&pipeline.StateChanged{Source: p, New: pipeline.StatePlaying})
	assert.Empty(t, sched.pending)
	assert.Equal(t, StatePlaying, obs.State())
}
