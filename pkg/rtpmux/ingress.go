package rtpmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// IngressConfig конфигурация приема RTP/RTCP по UDP
type IngressConfig struct {
	Host           string       // Адрес для bind (по умолчанию "0.0.0.0")
	ReadBufferSize int          // Размер буфера чтения пакета (по умолчанию MaxDatagramSize)
	SocketBuffer   int          // SO_RCVBUF, 0 - не менять
	Logger         *slog.Logger // nil - slog.Default()
}

// MaxDatagramSize наибольший размер UDP датаграммы
const MaxDatagramSize = 65535

// Ingress принимает UDP пакеты на портах сессий и передает их в сессии мультиплексора
//
// Каждый сокет читается своей горутиной, поэтому сигналы сессий могут
// приходить с разных горутин.
type Ingress struct {
	mux    *Mux
	config IngressConfig
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]net.PacketConn // "<session>/rtp", "<session>/rtcp"
	wg    sync.WaitGroup

	oversize atomic.Uint64
}

// NewIngress создает прием для сессий мультиплексора mux
func NewIngress(mux *Mux, config IngressConfig) *Ingress {
	if config.Host == "" {
		config.Host = "0.0.0.0"
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = MaxDatagramSize
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ingress{
		mux:    mux,
		config: config,
		logger: logger.With(slog.String("component", "rtp_ingress")),
		conns:  make(map[string]net.PacketConn),
	}
}

// Start открывает сокеты для всех сессий с ненулевыми портами.
// При ошибке уже открытые сокеты закрываются.
func (in *Ingress) Start(ctx context.Context) error {
	lc := net.ListenConfig{Control: controlSocket(in.config.SocketBuffer)}

	for _, s := range in.mux.Sessions() {
		rtpPort, rtcpPort := s.Ports()
		if rtpPort == 0 {
			continue
		}

		if err := in.listen(ctx, &lc, s, "rtp", rtpPort, s.PushRTP); err != nil {
			in.Close()
			return err
		}
		if err := in.listen(ctx, &lc, s, "rtcp", rtcpPort, s.PushRTCP); err != nil {
			in.Close()
			return err
		}
	}

	return nil
}

func (in *Ingress) listen(ctx context.Context, lc *net.ListenConfig, s *Session, kind string, port int, push func([]byte) error) error {
	addr := net.JoinHostPort(in.config.Host, strconv.Itoa(port))
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("сессия %d: не удалось открыть %s порт %s: %w", s.ID(), kind, addr, err)
	}

	in.mu.Lock()
	in.conns[connKey(s.ID(), kind)] = conn
	in.mu.Unlock()

	in.logger.Info("прием запущен",
		slog.Uint64("session", uint64(s.ID())),
		slog.String("kind", kind),
		slog.String("addr", conn.LocalAddr().String()))

	in.wg.Add(1)
	go in.readLoop(conn, s.ID(), kind, push)
	return nil
}

func (in *Ingress) readLoop(conn net.PacketConn, session uint, kind string, push func([]byte) error) {
	defer in.wg.Done()

	buf := make([]byte, in.config.ReadBufferSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				in.logger.Warn("ошибка чтения",
					slog.Uint64("session", uint64(session)),
					slog.String("kind", kind),
					slog.String("error", err.Error()))
			}
			return
		}

		if n == len(buf) {
			// датаграмма могла не поместиться в буфер и была обрезана ядром
			in.oversize.Add(1)
			in.logger.Warn("датаграмма не поместилась в буфер чтения, пакет отброшен",
				slog.Uint64("session", uint64(session)),
				slog.String("kind", kind),
				slog.Int("buffer", len(buf)))
			continue
		}

		if err := push(buf[:n]); err != nil {
			in.logger.Debug("пакет отвергнут сессией",
				slog.Uint64("session", uint64(session)),
				slog.String("kind", kind),
				slog.String("error", err.Error()))
		}
	}
}

// Oversize возвращает число датаграмм, отброшенных из-за размера буфера чтения
func (in *Ingress) Oversize() uint64 {
	return in.oversize.Load()
}

// LocalAddr возвращает адрес сокета сессии; kind - "rtp" или "rtcp"
func (in *Ingress) LocalAddr(session uint, kind string) (net.Addr, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	conn, ok := in.conns[connKey(session, kind)]
	if !ok {
		return nil, false
	}
	return conn.LocalAddr(), true
}

// Close закрывает все сокеты и ждет завершения горутин чтения
func (in *Ingress) Close() error {
	in.mu.Lock()
	var errs []error
	for key, conn := range in.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(in.conns, key)
	}
	in.mu.Unlock()

	in.wg.Wait()
	return errors.Join(errs...)
}

func connKey(session uint, kind string) string {
	return strconv.FormatUint(uint64(session), 10) + "/" + kind
}
