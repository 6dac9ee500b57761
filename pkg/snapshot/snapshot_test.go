package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func visualPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()

	p := pipeline.New("visual-pipeline")
	src := pipeline.NewElement("videotestsrc", "source")
	src.SetProperty("pattern", "ball")
	caps := pipeline.NewElement("capsfilter", "filter")
	caps.SetProperty("caps", "video/x-raw,width=640,height=480")
	sink := pipeline.NewElement("autovideosink", "sink")

	require.NoError(t, p.Add(src, caps, sink))
	require.NoError(t, p.LinkMany(src, caps, sink))
	return p
}

// fileRenderer пишет в dst фиксированное содержимое
func fileRenderer(calls *[]string) Renderer {
	return RendererFunc(func(ctx context.Context, src, dst, format string) error {
		*calls = append(*calls, strings.Join([]string{"-T" + format, src, "-o", dst}, " "))
		return os.WriteFile(dst, []byte("image"), 0o600)
	})
}

// dotNodeID ищет узел по подписи и возвращает его идентификатор
func dotNodeID(t *testing.T, out, label string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		attrs := strings.Index(line, "[")
		at := strings.Index(line, `label="`+label+`"`)
		if attrs <= 0 || at < attrs || strings.Contains(line, "->") {
			continue
		}
		return strings.TrimSpace(line[:attrs])
	}
	t.Fatalf("узел с подписью %q не найден:\n%s", label, out)
	return ""
}

func assertEdge(t *testing.T, out, src, dst string) {
	t.Helper()
	edge := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(src) + `\s*->\s*` + regexp.QuoteMeta(dst) + `\s*[;\[]`)
	assert.Regexp(t, edge, out)
}

var dotQuoted = regexp.MustCompile(`"(\\.|[^"\\])*"`)

func TestWriteDOT(t *testing.T) {
	p := visualPipeline(t)
	p.SetState(pipeline.StateReady)

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, p, DetailAll))
	out := buf.String()

	assert.Regexp(t, `^digraph\b`, out)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "}"))
	assert.Contains(t, out, `label="pipeline\nvisual-pipeline\n[ready]"`)

	source := dotNodeID(t, out, `videotestsrc\nsource\n[ready]\npattern=ball`)
	filter := dotNodeID(t, out, `capsfilter\nfilter\n[ready]\ncaps=video/x-raw,width=640,height=480`)
	sink := dotNodeID(t, out, `autovideosink\nsink\n[ready]`)

	assertEdge(t, out, source, filter)
	assertEdge(t, out, filter, sink)
	assert.Equal(t, 2, strings.Count(out, "->"))
}

func TestWriteDOTNestedBin(t *testing.T) {
	p := pipeline.New("root")
	bin := pipeline.NewBin("bin", "decoder bin")
	inner := pipeline.NewElement("queue", "q")
	require.NoError(t, bin.Add(inner))

	src := pipeline.NewElement("fakesrc", "src")
	require.NoError(t, p.Add(src, bin))
	require.NoError(t, p.Link(src, bin))

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, p, DetailNone))
	out := buf.String()

	assert.Regexp(t, `subgraph\s+"?cluster_`, out)
	assert.Contains(t, out, `label="bin\ndecoder bin"`)
	dotNodeID(t, out, `queue\nq`)
	assert.NotContains(t, out, "[null]")

	// ребро к контейнеру ведет в невидимый якорь кластера
	srcID := dotNodeID(t, out, `fakesrc\nsrc`)
	anchor := dotNodeID(t, out, ``)
	assertEdge(t, out, srcID, anchor)
}

func TestWriteDOTIdentifiersIndependentOfNames(t *testing.T) {
	p := pipeline.New("1st-pipeline")
	bin := pipeline.NewBin("bin", "decoder-bin")
	dec := pipeline.NewElement("avdec_h264", "2nd-decoder")
	require.NoError(t, bin.Add(dec))

	src := pipeline.NewElement("udpsrc", "video-src")
	conv := pipeline.NewElement("videoconvert", "1st-convert")
	sink := pipeline.NewElement("fakesink", "sink \"main\"")
	require.NoError(t, p.Add(src, conv, bin, sink))
	require.NoError(t, p.LinkMany(src, conv, bin, sink))

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, p, DetailNone))
	out := buf.String()

	// вне строк в кавычках не остается имен элементов и дефисов
	bare := dotQuoted.ReplaceAllString(out, `""`)
	for _, name := range []string{"1st-pipeline", "decoder-bin", "2nd-decoder", "video-src", "1st-convert", "main"} {
		assert.NotContains(t, bare, name)
	}
	assert.NotContains(t, strings.ReplaceAll(bare, "->", ""), "-")
	assert.Zero(t, strings.Count(out, `"`)%2, "незакрытая кавычка")

	srcID := dotNodeID(t, out, `udpsrc\nvideo-src`)
	convID := dotNodeID(t, out, `videoconvert\n1st-convert`)
	sinkID := dotNodeID(t, out, `fakesink\nsink \"main\"`)
	dotNodeID(t, out, `avdec_h264\n2nd-decoder`)
	anchor := dotNodeID(t, out, ``)

	assertEdge(t, out, srcID, convID)
	assertEdge(t, out, convID, anchor)
	assertEdge(t, out, anchor, sinkID)
}

func TestExportWritesDescriptionAndImage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps", "nested")
	var calls []string
	exp := New(Config{Dir: dir}, fileRenderer(&calls))

	image, err := exp.Export(visualPipeline(t), "playing")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "playing.png"), image)
	assert.FileExists(t, image)

	text := filepath.Join(dir, "playing.dot")
	info, err := os.Stat(text)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	require.Len(t, calls, 1)
	assert.Equal(t, "-Tpng "+text+" -o "+image, calls[0])
}

func TestExportSanitizesLabel(t *testing.T) {
	dir := t.TempDir()
	var calls []string
	exp := New(Config{Dir: dir, ImageExt: "svg", Format: "svg"}, fileRenderer(&calls))

	image, err := exp.Export(visualPipeline(t), "../final state")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "___final_state.svg"), image)
}

func TestExportDirectoryCreateFailed(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	var calls []string
	exp := New(Config{Dir: filepath.Join(blocker, "sub")}, fileRenderer(&calls))

	_, err := exp.Export(visualPipeline(t), "initial_state")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDirectoryCreateFailed)
	assert.True(t, HasErrorCode(err, ErrorCodeDirectoryCreateFailed))
	assert.Empty(t, calls, "рендерер не должен запускаться")
}

func TestExportWriteFailed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "playing.dot"), 0o700))

	var calls []string
	exp := New(Config{Dir: dir}, fileRenderer(&calls))

	_, err := exp.Export(visualPipeline(t), "playing")
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Empty(t, calls)
}

func TestExportStatFailed(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty.dot")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	cause := errors.New("stat unavailable")

	tests := []struct {
		name  string
		stat  func(string) (fs.FileInfo, error)
		cause error
	}{
		{
			name: "описание пустое",
			stat: func(string) (fs.FileInfo, error) { return os.Stat(empty) },
		},
		{
			name:  "ошибка stat",
			stat:  func(string) (fs.FileInfo, error) { return nil, cause },
			cause: cause,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			var calls []string
			exp := New(Config{Dir: dir}, fileRenderer(&calls))
			exp.stat = tt.stat

			_, err := exp.Export(visualPipeline(t), "paused")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStatFailed)
			assert.True(t, HasErrorCode(err, ErrorCodeStatFailed))
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
			assert.Empty(t, calls, "рендерер не должен запускаться")

			_, image := exp.Paths("paused")
			assert.NoFileExists(t, image)
		})
	}
}

func TestExportRenderFailed(t *testing.T) {
	cause := errors.New("boom")
	exp := New(Config{Dir: t.TempDir()}, RendererFunc(func(context.Context, string, string, string) error {
		return cause
	}))

	_, err := exp.Export(visualPipeline(t), "playing")
	assert.ErrorIs(t, err, ErrRenderFailed)
	assert.ErrorIs(t, err, cause)

	var exportErr *ExportError
	require.True(t, errors.As(err, &exportErr))
	assert.Equal(t, "playing", exportErr.Label)
	assert.Equal(t, "RenderFailed", exportErr.Code.String())
}

func TestCommandRendererMissingBinary(t *testing.T) {
	exp := New(Config{Dir: t.TempDir()}, NewCommandRenderer("media-telemetry-no-such-renderer"))

	_, err := exp.Export(visualPipeline(t), "playing")
	assert.ErrorIs(t, err, ErrRenderFailed)

	var renderErr *RenderError
	require.True(t, errors.As(err, &renderErr))
	assert.Equal(t, -1, renderErr.ExitCode)
}

func TestCommandRendererExitStatus(t *testing.T) {
	falseBin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false недоступен")
	}

	r := NewCommandRenderer(falseBin)
	err = r.Render(context.Background(), "in.dot", "out.png", "png")

	var renderErr *RenderError
	require.True(t, errors.As(err, &renderErr))
	assert.Equal(t, 1, renderErr.ExitCode)

	trueBin, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true недоступен")
	}
	assert.NoError(t, NewCommandRenderer(trueBin).Render(context.Background(), "in.dot", "out.png", "png"))
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"playing", "playing"},
		{"initial_state", "initial_state"},
		{"a-b", "a-b"},
		{"../x", "___x"},
		{"a b/c", "a_b_c"},
		{"", "snapshot"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeLabel(tt.in), tt.in)
	}
}
