package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(b *Bus) []Message {
	var out []Message
	for {
		msg, ok := b.Pop()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

func TestBinAddEmitsElementAdded(t *testing.T) {
	bin := NewBin("bin", "bin0")
	var added []string
	bin.ElementAdded().Connect(func(e Element) { added = append(added, e.Name()) })

	src := NewElement("videotestsrc", "source")
	sink := NewElement("fakesink", "sink")
	require.NoError(t, bin.Add(src, sink))

	assert.Equal(t, []string{"source", "sink"}, added)

	err := bin.Add(NewElement("fakesink", "sink"))
	assert.Error(t, err, "дублирующееся имя должно отвергаться")
	assert.Len(t, bin.Children(), 2)

	e, ok := bin.ByName("source")
	require.True(t, ok)
	assert.Same(t, src, e)
}

func TestBinLink(t *testing.T) {
	bin := NewBin("bin", "bin0")
	a := NewElement("identity", "a")
	b := NewElement("identity", "b")
	c := NewElement("identity", "c")
	require.NoError(t, bin.Add(a, b, c))

	require.NoError(t, bin.LinkMany(a, b, c))
	links := bin.Links()
	require.Len(t, links, 2)
	assert.Same(t, a, links[0].Src)
	assert.Same(t, c, links[1].Dst)

	stranger := NewElement("identity", "stranger")
	assert.Error(t, bin.Link(a, stranger))
}

func TestPipelineSetStatePostsMessages(t *testing.T) {
	p := New("visual-pipeline")
	src := NewElement("videotestsrc", "source")
	nested := NewBin("bin", "inner")
	leaf := NewElement("queue", "queue0")
	require.NoError(t, nested.Add(leaf))
	require.NoError(t, p.Add(src, nested))

	p.SetState(StateReady)
	msgs := drain(p.Bus())

	// leaf, inner, source, затем сам конвейер
	require.Len(t, msgs, 4)
	last, ok := msgs[3].(*StateChanged)
	require.True(t, ok)
	assert.Equal(t, Element(p), last.Src())
	assert.Equal(t, StateNull, last.Old)
	assert.Equal(t, StateReady, last.New)

	first := msgs[0].(*StateChanged)
	assert.Equal(t, Element(leaf), first.Source)

	p.SetState(StatePlaying)
	msgs = drain(p.Bus())
	require.Len(t, msgs, 8)

	var rootStates []State
	for _, m := range msgs {
		if sc := m.(*StateChanged); sc.Source == Element(p) {
			rootStates = append(rootStates, sc.New)
		}
	}
	assert.Equal(t, []State{StatePaused, StatePlaying}, rootStates)
	assert.Equal(t, StatePlaying, leaf.State())

	p.SetState(StateNull)
	assert.Equal(t, StateNull, p.State())
}

func TestPipelinePostTerminalMessages(t *testing.T) {
	p := New("p")
	src := NewElement("videotestsrc", "source")

	p.PostEndOfStream()
	p.PostError(src, "internal data stream error", "streaming stopped, reason not-linked")

	msgs := drain(p.Bus())
	require.Len(t, msgs, 2)
	assert.IsType(t, &EndOfStream{}, msgs[0])

	errMsg := msgs[1].(*ErrorMessage)
	assert.Equal(t, Element(src), errMsg.Src())
	assert.Equal(t, "internal data stream error", errMsg.Text)
}

func TestParseState(t *testing.T) {
	s, err := ParseState("PLAYING")
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, s)
	assert.Equal(t, "playing", s.String())

	_, err = ParseState("eos")
	assert.Error(t, err)
}

func TestBusNotify(t *testing.T) {
	b := NewBus()
	b.Post(&EndOfStream{})
	b.Post(&EndOfStream{})

	select {
	case <-b.Notify():
	default:
		t.Fatal("ожидалось уведомление после Post")
	}
	assert.Equal(t, 2, b.Len())
}
