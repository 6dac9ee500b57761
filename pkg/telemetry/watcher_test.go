package telemetry

import (
	"sync"
	"testing"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
	"github.com/arzzra/media_telemetry/pkg/rtcp"
	"github.com/arzzra/media_telemetry/pkg/rtpmux"
	pionrtcp "github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu        sync.Mutex
	reports   map[uint][][]rtcp.Report
	malformed map[uint]int
	lookups   map[uint]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		reports:   make(map[uint][][]rtcp.Report),
		malformed: make(map[uint]int),
		lookups:   make(map[uint]int),
	}
}

func (r *recordingSink) Reports(session uint, reports []rtcp.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[session] = append(r.reports[session], reports)
}

func (r *recordingSink) Malformed(session uint, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.malformed[session]++
}

func (r *recordingSink) LookupFailed(session uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups[session]++
}

// flakyMux скрывает внутренние сессии на первых hidden запросах
type flakyMux struct {
	*rtpmux.Mux
	hidden int
}

func (f *flakyMux) InternalSession(id uint) (*rtpmux.Session, bool) {
	if f.hidden > 0 {
		f.hidden--
		return nil, false
	}
	return f.Mux.InternalSession(id)
}

func senderReport(t *testing.T, ssrc uint32) []byte {
	t.Helper()
	buf, err := pionrtcp.Marshal([]pionrtcp.Packet{&pionrtcp.SenderReport{SSRC: ssrc, PacketCount: 3, OctetCount: 300}})
	require.NoError(t, err)
	return buf
}

func TestWatcherDiscoveryIsOneShot(t *testing.T) {
	p := pipeline.New("media-pipeline")
	w := NewWatcher(WatcherConfig{}, nil)
	w.Watch(p)

	require.True(t, w.Active())
	require.NoError(t, p.Add(pipeline.NewElement("videotestsrc", "videotestsrc0")))
	assert.True(t, w.Active(), "посторонний элемент не должен завершать ожидание")
	assert.Nil(t, w.Mux())

	mux := rtpmux.New(rtpmux.Config{})
	require.NoError(t, p.Add(mux))

	assert.False(t, w.Active())
	assert.Equal(t, 0, p.ElementAdded().HandlerCount(), "обработчик ElementAdded должен быть отключен")
	assert.Equal(t, 1, mux.NewSSRC().HandlerCount())

	// повторное событие для мультиплексора не подключает второй обработчик
	w.onChildAdded(mux)
	assert.Equal(t, 1, mux.NewSSRC().HandlerCount())

	require.NoError(t, p.Add(pipeline.NewElement("x264enc", "x264enc0")))
	assert.Equal(t, 1, mux.NewSSRC().HandlerCount())
}

func TestWatcherIgnoresWrongName(t *testing.T) {
	p := pipeline.New("media-pipeline")
	w := NewWatcher(WatcherConfig{MuxName: "rtpbin0"}, nil)
	w.Watch(p)

	other := rtpmux.New(rtpmux.Config{Name: "rtpbin1"})
	require.NoError(t, p.Add(other))

	assert.True(t, w.Active())
	assert.Equal(t, 0, other.NewSSRC().HandlerCount())
}

func TestWatcherFindsExistingMux(t *testing.T) {
	p := pipeline.New("media-pipeline")
	mux := rtpmux.New(rtpmux.Config{})
	require.NoError(t, p.Add(mux))

	w := NewWatcher(WatcherConfig{}, nil)
	w.Watch(p)

	assert.False(t, w.Active())
	assert.Equal(t, 0, p.ElementAdded().HandlerCount())
	assert.Equal(t, 1, mux.NewSSRC().HandlerCount())
}

func TestNewSessionHooksOnce(t *testing.T) {
	mux := rtpmux.New(rtpmux.Config{})
	session, err := mux.AddSession(0)
	require.NoError(t, err)

	w := NewWatcher(WatcherConfig{}, nil)
	w.onChildAdded(mux)

	w.onNewSession(rtpmux.SSRCEvent{Session: 0, SSRC: 1})
	w.onNewSession(rtpmux.SSRCEvent{Session: 0, SSRC: 1})

	assert.Equal(t, 1, session.ReceivingRTCP().HandlerCount())

	entry, ok := w.Registry().Get(0)
	require.True(t, ok)
	assert.True(t, entry.Hooked)
	assert.False(t, entry.HookedAt.IsZero())
}

func TestNewSessionHooksOnceConcurrently(t *testing.T) {
	mux := rtpmux.New(rtpmux.Config{})
	session, err := mux.AddSession(3)
	require.NoError(t, err)

	w := NewWatcher(WatcherConfig{}, nil)
	w.onChildAdded(mux)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(ssrc uint32) {
			defer wg.Done()
			w.onNewSession(rtpmux.SSRCEvent{Session: 3, SSRC: ssrc})
		}(uint32(i))
	}
	wg.Wait()

	assert.Equal(t, 1, session.ReceivingRTCP().HandlerCount())
	assert.Equal(t, 1, w.Registry().Len())
}

func TestNewSessionLookupRetry(t *testing.T) {
	mux := &flakyMux{Mux: rtpmux.New(rtpmux.Config{}), hidden: 1}
	session, err := mux.AddSession(0)
	require.NoError(t, err)

	sink := newRecordingSink()
	w := NewWatcher(WatcherConfig{Sink: sink}, nil)
	w.onChildAdded(mux)

	w.onNewSession(rtpmux.SSRCEvent{Session: 0, SSRC: 10})
	assert.Equal(t, 0, session.ReceivingRTCP().HandlerCount())
	assert.Equal(t, 1, sink.lookups[0])

	entry, _ := w.Registry().Get(0)
	assert.False(t, entry.Hooked)
	assert.Equal(t, 1, entry.Attempts)

	w.onNewSession(rtpmux.SSRCEvent{Session: 0, SSRC: 11})
	assert.Equal(t, 1, session.ReceivingRTCP().HandlerCount())

	entry, _ = w.Registry().Get(0)
	assert.True(t, entry.Hooked)
}

func TestNewSessionLookupAbandoned(t *testing.T) {
	mux := &flakyMux{Mux: rtpmux.New(rtpmux.Config{}), hidden: 100}
	_, err := mux.AddSession(0)
	require.NoError(t, err)

	sink := newRecordingSink()
	w := NewWatcher(WatcherConfig{Sink: sink, MaxLookupAttempts: 2}, nil)
	w.onChildAdded(mux)

	for ssrc := uint32(0); ssrc < 5; ssrc++ {
		w.onNewSession(rtpmux.SSRCEvent{Session: 0, SSRC: ssrc})
	}

	assert.Equal(t, 2, sink.lookups[0], "после исчерпания попыток поиск не выполняется")
	assert.Equal(t, 98, mux.hidden)
}

func TestReportArrivalDecodesAndDiscardsMalformed(t *testing.T) {
	sink := newRecordingSink()
	w := NewWatcher(WatcherConfig{Sink: sink}, nil)

	w.onReportArrival(1, senderReport(t, 99))
	w.onReportArrival(1, []byte{0x80, 0xC9, 0x00, 0x05})

	require.Len(t, sink.reports[1], 1)
	sr, ok := sink.reports[1][0][0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, uint32(99), sr.SSRC)
	assert.Equal(t, 1, sink.malformed[1])
}

func TestWatcherEndToEnd(t *testing.T) {
	sink := newRecordingSink()
	p := pipeline.New("media-pipeline")
	w := NewWatcher(WatcherConfig{Sink: sink}, nil)
	w.Watch(p)

	mux := rtpmux.New(rtpmux.Config{})
	require.NoError(t, p.Add(mux))
	session, err := mux.AddSession(0)
	require.NoError(t, err)

	// первый пакет приходит раньше NewSSRC и не декодируется
	require.NoError(t, session.PushRTCP(senderReport(t, 5)))
	assert.Empty(t, sink.reports[0])

	require.NoError(t, session.PushRTCP(senderReport(t, 5)))
	require.Len(t, sink.reports[0], 1)

	assert.Error(t, session.PushRTCP([]byte{0x80, 0xC8, 0x00, 0x09}))
	assert.Equal(t, 1, sink.malformed[0])

	require.NoError(t, w.Close())
	assert.Equal(t, 0, session.ReceivingRTCP().HandlerCount())
	assert.Equal(t, 0, mux.NewSSRC().HandlerCount())
	assert.Equal(t, 0, w.Registry().Len())
}

func TestMultiSink(t *testing.T) {
	a, b := newRecordingSink(), newRecordingSink()
	m := MultiSink{a, b, NewLogSink(nil)}

	reports, err := rtcp.Decode(senderReport(t, 1))
	require.NoError(t, err)

	m.Reports(2, reports)
	m.Malformed(2, rtcp.ErrMalformedPacket)
	m.LookupFailed(2)

	for _, s := range []*recordingSink{a, b} {
		assert.Len(t, s.reports[2], 1)
		assert.Equal(t, 1, s.malformed[2])
		assert.Equal(t, 1, s.lookups[2])
	}
}
