// Package mediastream runs one worker per media websocket. The provider
// streams base64 mu-law frames over text JSON messages; the worker
// accumulates the inbound track, transcribes the clip when the provider
// signals end of utterance, routes the transcript through the dialog
// machine, and ships a speak event carrying the synthesized reply's audio
// URL back over the socket. Closing the socket cancels in-flight work and
// discards the buffer.
package mediastream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/havenline/havenline/internal/audiostore"
	"github.com/havenline/havenline/internal/dialog"
	"github.com/havenline/havenline/internal/observe"
	"github.com/havenline/havenline/internal/session"
	"github.com/havenline/havenline/internal/stats"
	"github.com/havenline/havenline/pkg/audio"
	"github.com/havenline/havenline/pkg/provider/stt"
	"github.com/havenline/havenline/pkg/provider/tts"
	"github.com/havenline/havenline/pkg/upstream"
)

const (
	// streamSampleRate is the telephone media rate. The provider always
	// streams G.711 mu-law at 8 kHz.
	streamSampleRate = 8000

	// maxClipBytes bounds one accumulated utterance. A minute of mu-law
	// at 8 kHz is 480 KB; anything past this is not speech worth keeping.
	maxClipBytes = 4 << 20

	defaultTurnTimeout = 15 * time.Second
	defaultIdleTimeout = 30 * time.Second
	defaultAudioBase   = "/audio"

	// frameLogEvery samples media-frame debug logs.
	frameLogEvery = 100
)

// Inbound event names.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
)

// event is one inbound provider message. Payloads are pointers so absent
// sections stay nil.
type event struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
	Stop      *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

type stopPayload struct {
	CallSid string `json:"callSid,omitempty"`
}

// speakEvent instructs the provider to fetch and play a reply.
type speakEvent struct {
	Event     string     `json:"event"`
	StreamSid string     `json:"streamSid,omitempty"`
	Audio     speakAudio `json:"audio"`
}

type speakAudio struct {
	URL string `json:"url"`
}

// Handler accepts media websockets and runs a worker per connection.
type Handler struct {
	machine  *dialog.Machine
	registry *session.Registry
	stt      stt.Provider
	tts      tts.Provider
	store    *audiostore.Store
	stats    *stats.Registry
	metrics  *observe.Metrics
	log      *slog.Logger

	turnTimeout time.Duration
	idleTimeout time.Duration
	audioBase   string
	voice       string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithStats wires the stream and speech counters.
func WithStats(reg *stats.Registry) Option {
	return func(h *Handler) {
		h.stats = reg
	}
}

// WithMetrics wires the OTel instruments for streams, turns, and speech
// legs. Nil leaves them off.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTurnTimeout bounds one transcribe-route-synthesize turn. Defaults
// to 15s.
func WithTurnTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.turnTimeout = d
		}
	}
}

// WithIdleTimeout sets how long a silent caller waits before a spoken
// re-prompt. Defaults to 30s.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.idleTimeout = d
		}
	}
}

// WithAudioBase sets the URL prefix for speak events. Defaults to "/audio";
// deployments behind a public URL pass the absolute prefix.
func WithAudioBase(base string) Option {
	return func(h *Handler) {
		if base != "" {
			h.audioBase = base
		}
	}
}

// WithVoice sets the synthesis voice ID. Empty keeps the vendor default.
func WithVoice(voice string) Option {
	return func(h *Handler) {
		h.voice = voice
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// New creates a Handler over the dialog machine and speech providers.
func New(machine *dialog.Machine, registry *session.Registry, sttP stt.Provider, ttsP tts.Provider, store *audiostore.Store, opts ...Option) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		machine:     machine,
		registry:    registry,
		stt:         sttP,
		tts:         ttsP,
		store:       store,
		log:         slog.Default(),
		turnTimeout: defaultTurnTimeout,
		idleTimeout: defaultIdleTimeout,
		audioBase:   defaultAudioBase,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

var _ http.Handler = (*Handler)(nil)

// ServeHTTP upgrades the request and blocks until the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("media stream accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.inc(stats.StreamsOpened)
	h.metrics.StreamOpened(r.Context())
	defer h.metrics.StreamClosed(r.Context())
	h.log.Info("media stream opened", "remote", r.RemoteAddr)

	wk := &worker{h: h, conn: conn}
	wk.ctx, wk.cancel = context.WithCancel(h.ctx)

	h.wg.Add(1)
	defer h.wg.Done()
	wk.run()
}

// Close stops every live worker and waits for their in-flight turns.
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
}

func (h *Handler) inc(name string) {
	if h.stats != nil {
		h.stats.Inc(name)
	}
}

// worker owns one socket: the read loop, the utterance buffer, the idle
// timer, and the turn goroutines it spawns.
type worker struct {
	h      *Handler
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sess      *session.CallSession
	callSid   string
	streamSid string
	buf       bytes.Buffer
	overflow  bool

	idleMu sync.Mutex
	idle   *time.Timer

	frameLog rate.Sometimes
	turns    sync.WaitGroup
	writeMu  sync.Mutex
}

// run reads events until the socket or handler closes, then cancels
// in-flight work and releases the connection.
func (w *worker) run() {
	w.frameLog = rate.Sometimes{First: 1, Every: frameLogEvery}
	w.armIdle()

	defer func() {
		w.stopIdle()
		w.cancel()
		w.turns.Wait()
		w.conn.Close(websocket.StatusNormalClosure, "stream closed")
		w.h.log.Info("media stream closed", "call_sid", w.snapshotCallSid())
	}()

	for {
		typ, data, err := w.conn.Read(w.ctx)
		if err != nil {
			if w.ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				w.h.log.Warn("media stream read failed", "call_sid", w.snapshotCallSid(), "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			w.h.log.Warn("binary frame rejected", "call_sid", w.snapshotCallSid())
			w.conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}

		var evt event
		if err := json.Unmarshal(data, &evt); err != nil {
			w.h.log.Warn("unparseable stream event", "error", err)
			continue
		}

		w.armIdle()
		switch evt.Event {
		case eventConnected:
			w.h.log.Debug("media stream connected", "stream_sid", evt.StreamSid)
		case eventStart:
			w.handleStart(&evt)
		case eventMedia:
			w.handleMedia(evt.Media)
		case eventMark:
			w.handleMark(evt.Mark)
		case eventStop:
			w.handleStop()
		default:
			w.h.log.Debug("unknown stream event", "event", evt.Event)
		}
	}
}

// handleStart binds the worker to its call session.
func (w *worker) handleStart(evt *event) {
	if evt.Start == nil {
		w.h.log.Warn("start event missing payload")
		return
	}

	caller := evt.Start.CustomParameters["from"]
	sess, created := w.h.registry.GetOrCreate(evt.Start.CallSid, caller)

	w.mu.Lock()
	w.sess = sess
	w.callSid = evt.Start.CallSid
	w.streamSid = evt.Start.StreamSid
	if w.streamSid == "" {
		w.streamSid = evt.StreamSid
	}
	w.buf.Reset()
	w.overflow = false
	w.mu.Unlock()

	w.h.log.Info("media stream started",
		"call_sid", evt.Start.CallSid,
		"stream_sid", evt.Start.StreamSid,
		"tracks", evt.Start.Tracks,
		"new_session", created)
}

// handleMedia appends one inbound frame to the utterance buffer. Outbound
// and unknown tracks are dropped without logging every frame.
func (w *worker) handleMedia(m *mediaPayload) {
	if m == nil {
		return
	}
	if !isInbound(m.Track) {
		return
	}

	payload := m.Payload
	if payload == "" {
		payload = m.Chunk
	}
	if payload == "" {
		return
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		w.h.log.Warn("undecodable media payload", "call_sid", w.snapshotCallSid(), "error", err)
		return
	}

	w.mu.Lock()
	if w.buf.Len()+len(data) > maxClipBytes {
		if !w.overflow {
			w.overflow = true
			w.h.log.Warn("utterance buffer full, dropping frames",
				"call_sid", w.callSid, "buffered", w.buf.Len())
		}
		w.mu.Unlock()
		return
	}
	w.buf.Write(data)
	buffered := w.buf.Len()
	w.mu.Unlock()

	w.frameLog.Do(func() {
		w.h.log.Debug("media frame",
			"call_sid", w.snapshotCallSid(),
			"track", m.Track,
			"bytes", len(data),
			"buffered", buffered)
	})
}

// handleMark records playback progress as session activity.
func (w *worker) handleMark(m *markPayload) {
	sess := w.snapshotSession()
	if sess == nil {
		return
	}
	w.h.machine.Interim(sess)
	if m != nil {
		w.h.log.Debug("mark received", "call_sid", w.snapshotCallSid(), "name", m.Name)
	}
}

// handleStop takes the accumulated clip and runs the turn without blocking
// the read loop, so a socket close can still cancel it.
func (w *worker) handleStop() {
	w.mu.Lock()
	sess := w.sess
	clip := make([]byte, w.buf.Len())
	copy(clip, w.buf.Bytes())
	w.buf.Reset()
	w.overflow = false
	w.mu.Unlock()

	if sess == nil {
		w.h.log.Warn("stop before start, discarding clip", "bytes", len(clip))
		return
	}

	w.turns.Add(1)
	go func() {
		defer w.turns.Done()
		w.turn(sess, clip)
	}()
}

// turn is one full utterance: transcribe, route, speak. A closed socket
// abandons the turn without a word.
func (w *worker) turn(sess *session.CallSession, clip []byte) {
	ctx, cancel := context.WithTimeout(w.ctx, w.h.turnTimeout)
	defer cancel()

	transcript, err := w.transcribe(ctx, clip)
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		w.h.log.Warn("transcription failed", "call_sid", sess.ID, "error", err)
		w.speak(ctx, turnErrorLine(err))
		return
	}

	routeStart := time.Now()
	outcome := w.h.machine.ProcessUtterance(ctx, sess, transcript)
	w.h.metrics.ObserveTurn(ctx, "stream", time.Since(routeStart))
	if w.ctx.Err() != nil {
		return
	}
	w.speak(ctx, outcome.Speak)
	if outcome.Hangup {
		w.conn.Close(websocket.StatusNormalClosure, "call ended")
	}
}

// transcribe converts the mu-law clip to text. An empty clip is silence,
// not an error.
func (w *worker) transcribe(ctx context.Context, clip []byte) (string, error) {
	if len(clip) == 0 {
		return "", nil
	}

	w.h.inc(stats.STTCount)
	wav := audio.EncodeWAVULaw(clip, streamSampleRate)
	start := time.Now()
	tr, err := w.h.stt.Transcribe(ctx, stt.Request{
		Audio:    wav,
		Encoding: stt.EncodingWAV,
		Language: "en",
	})
	w.h.metrics.ObserveSpeech(ctx, "stt", time.Since(start), err)
	if err != nil {
		return "", err
	}
	w.h.inc(stats.STTSuccess)
	if tr == nil {
		return "", nil
	}
	return tr.Text, nil
}

// speak synthesizes text, stores the audio, and ships the speak event.
func (w *worker) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}

	w.h.inc(stats.TTSCount)
	start := time.Now()
	a, err := w.h.tts.Synthesize(ctx, tts.Request{Text: text, Voice: w.h.voice})
	w.h.metrics.ObserveSpeech(ctx, "tts", time.Since(start), err)
	if err != nil || a == nil {
		w.h.log.Error("synthesis failed", "call_sid", w.snapshotCallSid(), "error", err)
		return
	}
	w.h.inc(stats.TTSSuccess)

	data, contentType := playable(a)
	id := w.h.store.Put(data, contentType)

	w.send(speakEvent{
		Event:     "speak",
		StreamSid: w.snapshotStreamSid(),
		Audio:     speakAudio{URL: w.h.audioBase + "/" + id},
	})
}

// send writes one JSON message. Writes are serialized; turn goroutines and
// the idle timer may speak concurrently.
func (w *worker) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.h.log.Error("marshal stream event", "error", err)
		return
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.Write(w.ctx, websocket.MessageText, data); err != nil {
		if w.ctx.Err() == nil {
			w.h.log.Warn("media stream write failed", "call_sid", w.snapshotCallSid(), "error", err)
		}
	}
}

// onIdle speaks a re-prompt to a silent caller, hanging up once the idle
// budget is spent.
func (w *worker) onIdle() {
	sess := w.snapshotSession()
	if sess == nil || w.ctx.Err() != nil {
		return
	}
	if st := sess.State(); st != session.StateAwaitingUtterance {
		w.armIdle()
		return
	}

	line, done := w.h.machine.Reprompt(sess)

	ctx, cancel := context.WithTimeout(w.ctx, w.h.turnTimeout)
	defer cancel()
	w.speak(ctx, line)

	if done {
		w.h.machine.EndCall(sess)
		w.conn.Close(websocket.StatusNormalClosure, "caller idle")
		return
	}
	w.armIdle()
}

func (w *worker) armIdle() {
	w.idleMu.Lock()
	defer w.idleMu.Unlock()
	if w.idle == nil {
		w.idle = time.AfterFunc(w.h.idleTimeout, w.onIdle)
		return
	}
	w.idle.Reset(w.h.idleTimeout)
}

func (w *worker) stopIdle() {
	w.idleMu.Lock()
	defer w.idleMu.Unlock()
	if w.idle != nil {
		w.idle.Stop()
	}
}

func (w *worker) snapshotSession() *session.CallSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess
}

func (w *worker) snapshotCallSid() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.callSid
}

func (w *worker) snapshotStreamSid() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.streamSid
}

// turnErrorLine maps a speech-upstream failure onto the canned lines the
// dialog machine uses for router failures.
func turnErrorLine(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || upstream.IsKind(err, upstream.KindTimeout) {
		return dialog.LineSlow
	}
	return dialog.LineTrouble
}

// isInbound reports whether a track name carries caller audio. Providers
// name it "inbound" or "inbound_track" depending on stream wiring.
func isInbound(track string) bool {
	return track == "inbound" || track == "inbound_track"
}

// playable wraps raw synthesis output in a container the provider can fetch
// and play.
func playable(a *tts.Audio) (data []byte, contentType string) {
	sr := a.SampleRate
	if sr == 0 {
		sr = streamSampleRate
	}
	switch a.Format {
	case tts.FormatULaw:
		return audio.EncodeWAVULaw(a.Data, sr), "audio/wav"
	case tts.FormatPCM16:
		return audio.EncodeWAV(a.Data, sr), "audio/wav"
	case tts.FormatMP3:
		return a.Data, "audio/mpeg"
	default:
		return a.Data, "application/octet-stream"
	}
}
